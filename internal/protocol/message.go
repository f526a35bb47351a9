package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the fixed enumeration of routed message kinds.
type MessageType string

const (
	TypeJoin              MessageType = "agent_join"
	TypeLeave             MessageType = "agent_leave"
	TypeMove              MessageType = "agent_move"
	TypeInteract          MessageType = "agent_interact"
	TypeCommunicate       MessageType = "agent_communicate"
	TypeEnvironmentChange MessageType = "environment_change"
	TypeSystem            MessageType = "system_event"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeMove, TypeInteract, TypeCommunicate, TypeEnvironmentChange, TypeSystem:
		return true
	}
	return false
}

// Payload is the tagged union of message bodies. Each variant reports the
// message type it belongs to.
type Payload interface {
	MessageType() MessageType
}

// JoinPayload announces an agent entering a shard.
type JoinPayload struct {
	AgentID  string `json:"agentId"`
	Username string `json:"username"`
	Position Vec3   `json:"position"`
}

// LeavePayload announces an agent's connection going away.
type LeavePayload struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason"`
}

// MovePayload carries a client-reported transform.
type MovePayload struct {
	AgentID  string `json:"agentId"`
	Position Vec3   `json:"position"`
	Rotation *Vec3  `json:"rotation,omitempty"`
	Velocity *Vec3  `json:"velocity,omitempty"`
}

// InteractPayload is an agent-to-agent interaction.
type InteractPayload struct {
	AgentID         string          `json:"agentId"`
	TargetID        string          `json:"targetId"`
	InteractionType string          `json:"interactionType"`
	InteractionData json.RawMessage `json:"interactionData,omitempty"`
}

// CommunicatePayload is a chat-style message.
type CommunicatePayload struct {
	AgentID   string `json:"agentId"`
	Message   string `json:"message"`
	Broadcast bool   `json:"broadcast"`
}

// EnvironmentPayload describes a change to the shared environment.
type EnvironmentPayload struct {
	Environment Environment `json:"environment"`
}

// SystemPayload is a server-originated notice.
type SystemPayload struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

func (JoinPayload) MessageType() MessageType        { return TypeJoin }
func (LeavePayload) MessageType() MessageType       { return TypeLeave }
func (MovePayload) MessageType() MessageType        { return TypeMove }
func (InteractPayload) MessageType() MessageType    { return TypeInteract }
func (CommunicatePayload) MessageType() MessageType { return TypeCommunicate }
func (EnvironmentPayload) MessageType() MessageType { return TypeEnvironmentChange }
func (SystemPayload) MessageType() MessageType      { return TypeSystem }

// Message is the routed envelope delivered inside universe:event frames.
// SenderID is always the authenticated agent of the producing connection.
type Message struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	SenderID    string      `json:"senderId,omitempty"`
	RecipientID string      `json:"recipientId,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Data        Payload     `json:"data"`
	ShardID     string      `json:"shardId"`
}

// UnmarshalJSON decodes Data into the payload variant selected by Type.
func (m *Message) UnmarshalJSON(b []byte) error {
	type plain Message
	var raw struct {
		plain
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)

	var p Payload
	switch m.Type {
	case TypeJoin:
		p = &JoinPayload{}
	case TypeLeave:
		p = &LeavePayload{}
	case TypeMove:
		p = &MovePayload{}
	case TypeInteract:
		p = &InteractPayload{}
	case TypeCommunicate:
		p = &CommunicatePayload{}
	case TypeEnvironmentChange:
		p = &EnvironmentPayload{}
	case TypeSystem:
		p = &SystemPayload{}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if err := json.Unmarshal(raw.Data, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", m.Type, err)
		}
	}
	m.Data = derefPayload(p)
	return nil
}

func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *JoinPayload:
		return *v
	case *LeavePayload:
		return *v
	case *MovePayload:
		return *v
	case *InteractPayload:
		return *v
	case *CommunicatePayload:
		return *v
	case *EnvironmentPayload:
		return *v
	case *SystemPayload:
		return *v
	}
	return p
}
