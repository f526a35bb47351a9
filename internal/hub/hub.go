package hub

import (
	"log"
	"sort"
	"strings"
	"sync"

	"yellorn/internal/observability"
)

// Hub holds the client set and channel membership. Delivery is
// fire-and-forget and at most once per connected member.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	channels    map[string]map[string]*Client  // channel -> client id -> client
	memberships map[string]map[string]struct{} // client id -> channels
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		channels:    make(map[string]map[string]*Client),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register adds c. Registering the same client twice is a no-op.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		h.mu.Unlock()
		return
	}
	h.clients[c.ID] = c
	h.memberships[c.ID] = make(map[string]struct{})
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("📱 Client %s connected as agent %s from %s (%d total)", c.ID, c.Identity.AgentID, c.IP, count)
	observability.UpdateWSConnections(count)
}

// Unregister removes c from every channel and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for ch := range h.memberships[c.ID] {
		h.removeMemberLocked(ch, c.ID)
	}
	delete(h.memberships, c.ID)
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()

	c.Close()
	log.Printf("📱 Client %s disconnected (%d remaining)", c.ID, count)
	observability.UpdateWSConnections(count)
}

// Join adds c to channel. It returns false if c is not registered.
func (h *Hub) Join(c *Client, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.memberships[c.ID]
	if !ok {
		return false
	}
	members := h.channels[channel]
	if members == nil {
		members = make(map[string]*Client)
		h.channels[channel] = members
	}
	members[c.ID] = c
	joined[channel] = struct{}{}
	return true
}

// Leave removes c from channel.
func (h *Hub) Leave(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if joined, ok := h.memberships[c.ID]; ok {
		delete(joined, channel)
	}
	h.removeMemberLocked(channel, c.ID)
}

// LeavePrefix removes c from every channel whose name starts with prefix and
// returns the channels it left.
func (h *Hub) LeavePrefix(c *Client, prefix string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []string
	for ch := range h.memberships[c.ID] {
		if strings.HasPrefix(ch, prefix) {
			left = append(left, ch)
		}
	}
	for _, ch := range left {
		delete(h.memberships[c.ID], ch)
		h.removeMemberLocked(ch, c.ID)
	}
	sort.Strings(left)
	return left
}

func (h *Hub) removeMemberLocked(channel, clientID string) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// Channels returns the channels c belongs to, sorted.
func (h *Hub) Channels(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.memberships[c.ID]))
	for ch := range h.memberships[c.ID] {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Members returns the client ids in channel, sorted.
func (h *Hub) Members(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Emit queues frame for every member of channel except the client with id
// except, and returns how many queues accepted it.
func (h *Hub) Emit(channel, except string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, c := range h.channels[channel] {
		if id == except {
			continue
		}
		if c.Enqueue(frame) {
			delivered++
		} else {
			observability.IncrementFramesDropped()
		}
	}
	return delivered
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns every registered client.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}
