// Package protocol defines the wire types shared by the universe engine and
// the realtime gateway: agent state, world snapshots, routed messages and the
// frame envelope carried over WebSocket connections.
package protocol

import (
	"regexp"
	"time"
)

// DefaultShard is the shard every connection starts in. Routing of move,
// interact and communicate messages is pinned to it regardless of the shard
// negotiated with agent:join.
const DefaultShard = "genesis"

const (
	personalChannelPrefix = "agent:"
	// ShardChannelPrefix prefixes every shard channel name.
	ShardChannelPrefix = "universe:"
)

// PersonalChannel returns the direct-delivery channel of an agent.
func PersonalChannel(agentID string) string {
	return personalChannelPrefix + agentID
}

// ShardChannel returns the broadcast channel of a shard.
func ShardChannel(shardID string) string {
	return ShardChannelPrefix + shardID
}

var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)

// ValidAgentID reports whether id is an acceptable agent or shard identifier.
func ValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}

// Vec3 is a 3-component vector as it appears on the wire.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AgentState is the canonical per-agent simulation state.
type AgentState struct {
	ID         string    `json:"id"`
	Position   Vec3      `json:"position"`
	Rotation   Vec3      `json:"rotation"`
	Velocity   Vec3      `json:"velocity"`
	IsActive   bool      `json:"isActive"`
	LastUpdate time.Time `json:"lastUpdate"`
	Health     float64   `json:"health"`
	Energy     float64   `json:"energy"`
}

// Bounds is an axis-aligned box.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Environment holds the static world parameters included in every snapshot.
type Environment struct {
	Gravity Vec3   `json:"gravity"`
	Bounds  Bounds `json:"bounds"`
}

// EventRecord is an informational entry in a snapshot's recent events list.
type EventRecord struct {
	Kind      string    `json:"kind"`
	AgentID   string    `json:"agentId,omitempty"`
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`
}

// UniverseState is a point-in-time copy of all agents plus environment metadata.
type UniverseState struct {
	ShardID     string        `json:"shardId"`
	Tick        uint64        `json:"tick"`
	Timestamp   time.Time     `json:"timestamp"`
	Agents      []AgentState  `json:"agents"`
	Environment Environment   `json:"environment"`
	Events      []EventRecord `json:"events"`
}

// FindAgent returns the agent with the given id from the snapshot.
func (s *UniverseState) FindAgent(id string) (AgentState, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentState{}, false
}
