package router

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"yellorn/internal/auth"
	"yellorn/internal/protocol"
)

// fakeRegistry records position writes and serves a fixed snapshot.
type fakeRegistry struct {
	agents map[string]protocol.AgentState
	moves  []string
	snap   protocol.UniverseState
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{agents: map[string]protocol.AgentState{}}
}

func (f *fakeRegistry) GetAgent(id string) (protocol.AgentState, bool) {
	a, ok := f.agents[id]
	return a, ok
}

func (f *fakeRegistry) UpdateAgentPosition(id string, pos protocol.Vec3, rot *protocol.Vec3) bool {
	a, ok := f.agents[id]
	if !ok {
		return false
	}
	a.Position = pos
	f.agents[id] = a
	f.moves = append(f.moves, id)
	return true
}

func (f *fakeRegistry) Snapshot() protocol.UniverseState { return f.snap }

var (
	sender   = auth.Identity{ID: "u1", Username: "ada", Role: auth.RoleAgent, AgentID: "a1"}
	fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func newTestRouter(reg Registry, opts Options) *Router {
	rt := New(reg, opts)
	rt.now = func() time.Time { return fixedNow }
	n := 0
	rt.newID = func() string { n++; return "m" + strconv.Itoa(n) }
	return rt
}

func channels(p Plan) []string {
	out := make([]string, 0, len(p.Deliveries))
	for _, d := range p.Deliveries {
		out = append(out, d.Channel)
	}
	return out
}

func TestRoutingTable(t *testing.T) {
	tests := []struct {
		name string
		in   protocol.Inbound
		want []string
		typ  protocol.MessageType
	}{
		{"move broadcasts to shard", protocol.MoveRequest{Position: protocol.Vec3{X: 1, Y: 2, Z: 3}}, []string{"universe:genesis"}, protocol.TypeMove},
		{"public interact goes to target and shard", protocol.InteractRequest{TargetID: "a2", InteractionType: "public"}, []string{"agent:a2", "universe:genesis"}, protocol.TypeInteract},
		{"private interact goes to target only", protocol.InteractRequest{TargetID: "a2", InteractionType: "wave"}, []string{"agent:a2"}, protocol.TypeInteract},
		{"communicate to recipient", protocol.CommunicateRequest{Message: "hi", RecipientID: "a3"}, []string{"agent:a3"}, protocol.TypeCommunicate},
		{"communicate recipient wins over broadcast", protocol.CommunicateRequest{Message: "hi", RecipientID: "a3", Broadcast: true}, []string{"agent:a3"}, protocol.TypeCommunicate},
		{"communicate broadcast", protocol.CommunicateRequest{Message: "hi", Broadcast: true}, []string{"universe:genesis"}, protocol.TypeCommunicate},
		{"communicate neither is dropped", protocol.CommunicateRequest{Message: "hi"}, []string{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRouter(newFakeRegistry(), DefaultOptions())
			plan := rt.Route(sender, tt.in)

			got := channels(plan)
			if len(got) != len(tt.want) {
				t.Fatalf("channels = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("channels = %v, want %v", got, tt.want)
				}
			}
			for _, d := range plan.Deliveries {
				if d.Message.Type != tt.typ {
					t.Errorf("type = %s, want %s", d.Message.Type, tt.typ)
				}
			}
			if plan.Reply != nil || plan.SwitchShard != "" {
				t.Errorf("unexpected reply or shard switch: %+v", plan)
			}
		})
	}
}

func TestMessagesAreStamped(t *testing.T) {
	rt := newTestRouter(newFakeRegistry(), DefaultOptions())
	plan := rt.Route(sender, protocol.InteractRequest{TargetID: "a2", InteractionType: "public", Data: json.RawMessage(`{"k":1}`)})

	m := plan.Deliveries[0].Message
	if m.ID != "m1" || m.SenderID != "a1" || m.RecipientID != "a2" {
		t.Errorf("unexpected envelope %+v", m)
	}
	if !m.Timestamp.Equal(fixedNow) || m.ShardID != protocol.DefaultShard {
		t.Errorf("unexpected stamp %v / %s", m.Timestamp, m.ShardID)
	}
	p, ok := m.Data.(protocol.InteractPayload)
	if !ok || p.AgentID != "a1" || string(p.InteractionData) != `{"k":1}` {
		t.Errorf("unexpected payload %#v", m.Data)
	}
	// both deliveries carry the same message
	if plan.Deliveries[1].Message.ID != "m1" {
		t.Error("public interact should reuse one message for both deliveries")
	}
}

func TestJoinSwitchesShardButRoutingStaysOnDefault(t *testing.T) {
	reg := newFakeRegistry()
	reg.agents["a1"] = protocol.AgentState{ID: "a1", Position: protocol.Vec3{X: 5}}
	rt := newTestRouter(reg, DefaultOptions())

	plan := rt.Route(sender, protocol.JoinRequest{ShardID: "alpha"})
	if plan.SwitchShard != "universe:alpha" {
		t.Errorf("SwitchShard = %q", plan.SwitchShard)
	}
	if got := channels(plan); len(got) != 1 || got[0] != "universe:alpha" {
		t.Errorf("join should notify the new shard, got %v", got)
	}
	p := plan.Deliveries[0].Message.Data.(protocol.JoinPayload)
	if p.Username != "ada" || p.Position.X != 5 {
		t.Errorf("unexpected join payload %+v", p)
	}
	if plan.Deliveries[0].Message.ShardID != protocol.DefaultShard {
		t.Error("messages stay stamped with the default shard")
	}

	move := rt.Route(sender, protocol.MoveRequest{})
	if got := channels(move); got[0] != "universe:genesis" {
		t.Errorf("move after join should still go to the default shard, got %v", got)
	}

	def := rt.Route(sender, protocol.JoinRequest{Position: &protocol.Vec3{Y: 9}})
	if def.SwitchShard != "universe:genesis" {
		t.Errorf("join without shard should target the default, got %q", def.SwitchShard)
	}
	if def.Deliveries[0].Message.Data.(protocol.JoinPayload).Position.Y != 9 {
		t.Error("explicit join position should be echoed")
	}
}

func TestMoveWriteThrough(t *testing.T) {
	reg := newFakeRegistry()
	reg.agents["a1"] = protocol.AgentState{ID: "a1"}

	rt := newTestRouter(reg, DefaultOptions())
	rt.Route(sender, protocol.MoveRequest{Position: protocol.Vec3{X: 1, Y: 2, Z: 3}})
	if reg.agents["a1"].Position != (protocol.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("move not written through: %+v", reg.agents["a1"].Position)
	}

	off := newTestRouter(reg, Options{ApplyMovesToRegistry: false})
	off.Route(sender, protocol.MoveRequest{Position: protocol.Vec3{X: 7}})
	if reg.agents["a1"].Position.X == 7 || len(reg.moves) != 1 {
		t.Error("write-through should be disabled")
	}

	// unregistered senders still broadcast
	stranger := auth.Identity{AgentID: "ghost"}
	if got := channels(rt.Route(stranger, protocol.MoveRequest{})); len(got) != 1 {
		t.Errorf("move from unregistered agent should still be broadcast, got %v", got)
	}
}

func TestGetStateRepliesDirectly(t *testing.T) {
	reg := newFakeRegistry()
	reg.snap = protocol.UniverseState{ShardID: "genesis", Tick: 42}
	rt := newTestRouter(reg, DefaultOptions())

	plan := rt.Route(sender, protocol.GetStateRequest{})
	if plan.Reply == nil || plan.Reply.Tick != 42 {
		t.Fatalf("expected snapshot reply, got %+v", plan.Reply)
	}
	if len(plan.Deliveries) != 0 {
		t.Error("get_state must never broadcast")
	}
}

func TestLeaveAndSystem(t *testing.T) {
	rt := newTestRouter(newFakeRegistry(), DefaultOptions())

	plan := rt.Leave(sender, "")
	m := plan.Deliveries[0].Message
	if plan.Deliveries[0].Channel != "universe:genesis" || m.Type != protocol.TypeLeave {
		t.Errorf("unexpected leave plan %+v", plan)
	}
	if m.Data.(protocol.LeavePayload).Reason == "" {
		t.Error("leave reason must not be empty")
	}

	d := rt.System("engine:started", "")
	if d.Message.Type != protocol.TypeSystem || d.Message.SenderID != "" {
		t.Errorf("unexpected system message %+v", d.Message)
	}
}
