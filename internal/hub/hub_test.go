package hub

import (
	"reflect"
	"testing"

	"yellorn/internal/auth"
)

func newTestClient(agentID string, buffer int) *Client {
	return NewClient(auth.Identity{ID: "u-" + agentID, AgentID: agentID}, "127.0.0.1", buffer)
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case f, ok := <-c.Send():
			if !ok {
				return out
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestEmitExcludesSender(t *testing.T) {
	h := New()
	a, b, c := newTestClient("a1", 8), newTestClient("a2", 8), newTestClient("a3", 8)
	for _, cl := range []*Client{a, b, c} {
		h.Register(cl)
		h.Join(cl, "universe:genesis")
	}

	n := h.Emit("universe:genesis", a.ID, []byte("move"))
	if n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
	if got := drain(a); len(got) != 0 {
		t.Errorf("sender received %d frames", len(got))
	}
	if len(drain(b)) != 1 || len(drain(c)) != 1 {
		t.Error("other members should receive exactly one frame")
	}

	if h.Emit("universe:empty", "", []byte("x")) != 0 {
		t.Error("empty channel should have zero deliveries")
	}
}

func TestLeavePrefixSwitchesShard(t *testing.T) {
	h := New()
	c := newTestClient("a1", 8)
	h.Register(c)
	h.Join(c, "agent:a1")
	h.Join(c, "universe:genesis")

	left := h.LeavePrefix(c, "universe:")
	if !reflect.DeepEqual(left, []string{"universe:genesis"}) {
		t.Errorf("left = %v", left)
	}
	h.Join(c, "universe:alpha")

	if got := h.Channels(c); !reflect.DeepEqual(got, []string{"agent:a1", "universe:alpha"}) {
		t.Errorf("channels = %v", got)
	}
	if len(h.Members("universe:genesis")) != 0 {
		t.Error("client still a member of the old shard")
	}
}

func TestUnregisterRemovesMembershipAndCloses(t *testing.T) {
	h := New()
	c := newTestClient("a1", 8)
	h.Register(c)
	h.Join(c, "universe:genesis")

	h.Unregister(c)
	h.Unregister(c) // idempotent

	if h.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", h.ClientCount())
	}
	if len(h.Members("universe:genesis")) != 0 {
		t.Error("membership survived unregister")
	}
	if _, ok := <-c.Send(); ok {
		t.Error("send queue should be closed")
	}
	if c.Enqueue([]byte("late")) {
		t.Error("enqueue after close should fail")
	}
	if h.Join(c, "universe:genesis") {
		t.Error("join of unregistered client should fail")
	}
}

func TestFullQueueDrops(t *testing.T) {
	h := New()
	slow, fast := newTestClient("slow", 1), newTestClient("fast", 8)
	h.Register(slow)
	h.Register(fast)
	h.Join(slow, "universe:genesis")
	h.Join(fast, "universe:genesis")

	h.Emit("universe:genesis", "", []byte("1"))
	n := h.Emit("universe:genesis", "", []byte("2"))
	if n != 1 {
		t.Errorf("expected only the fast client to accept, got %d", n)
	}
	if slow.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", slow.Dropped())
	}
	if len(drain(fast)) != 2 {
		t.Error("fast client should have both frames")
	}
}
