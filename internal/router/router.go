// Package router turns validated inbound requests into delivery plans. It
// decides who receives what; the gateway carries the plan out.
package router

import (
	"time"

	"github.com/google/uuid"

	"yellorn/internal/auth"
	"yellorn/internal/protocol"
)

// Registry is the part of the universe engine the router reads and writes.
type Registry interface {
	GetAgent(id string) (protocol.AgentState, bool)
	UpdateAgentPosition(id string, position protocol.Vec3, rotation *protocol.Vec3) bool
	Snapshot() protocol.UniverseState
}

// Delivery is one message bound for one channel. The sender's own
// connection is always excluded.
type Delivery struct {
	Channel string
	Message protocol.Message
}

// Plan is the outcome of routing one request. A plan with no deliveries,
// no reply and no shard switch is a no-op, not an error.
type Plan struct {
	SwitchShard string // shard channel to move the sender to, if any
	Deliveries  []Delivery
	Reply       *protocol.UniverseState
}

// Options configures routing behavior.
type Options struct {
	// ShardID is the shard every routed message is stamped with and every
	// broadcast goes to, whatever shard the sender joined.
	ShardID string
	// ApplyMovesToRegistry writes reported move positions through to the
	// registry when the sender's agent is registered.
	ApplyMovesToRegistry bool
}

// DefaultOptions routes on the default shard with move write-through on.
func DefaultOptions() Options {
	return Options{ShardID: protocol.DefaultShard, ApplyMovesToRegistry: true}
}

// Router builds plans. It holds no per-connection state and is safe for
// concurrent use.
type Router struct {
	registry Registry
	opts     Options
	now      func() time.Time
	newID    func() string
}

// New creates a router over registry.
func New(registry Registry, opts Options) *Router {
	if opts.ShardID == "" {
		opts.ShardID = protocol.DefaultShard
	}
	return &Router{
		registry: registry,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// ShardID returns the shard routed messages are stamped with.
func (rt *Router) ShardID() string { return rt.opts.ShardID }

// Route plans the delivery of one request from sender.
func (rt *Router) Route(sender auth.Identity, in protocol.Inbound) Plan {
	switch req := in.(type) {
	case protocol.JoinRequest:
		return rt.join(sender, req)
	case protocol.MoveRequest:
		return rt.move(sender, req)
	case protocol.InteractRequest:
		return rt.interact(sender, req)
	case protocol.CommunicateRequest:
		return rt.communicate(sender, req)
	case protocol.GetStateRequest:
		snap := rt.registry.Snapshot()
		return Plan{Reply: &snap}
	}
	return Plan{}
}

func (rt *Router) join(sender auth.Identity, req protocol.JoinRequest) Plan {
	shard := req.ShardID
	if shard == "" {
		shard = rt.opts.ShardID
	}

	var pos protocol.Vec3
	if req.Position != nil {
		pos = *req.Position
	} else if a, ok := rt.registry.GetAgent(sender.AgentID); ok {
		pos = a.Position
	}

	msg := rt.message(protocol.TypeJoin, sender, "", protocol.JoinPayload{
		AgentID:  sender.AgentID,
		Username: sender.Username,
		Position: pos,
	})
	channel := protocol.ShardChannel(shard)
	return Plan{
		SwitchShard: channel,
		Deliveries:  []Delivery{{Channel: channel, Message: msg}},
	}
}

func (rt *Router) move(sender auth.Identity, req protocol.MoveRequest) Plan {
	if rt.opts.ApplyMovesToRegistry {
		rt.registry.UpdateAgentPosition(sender.AgentID, req.Position, req.Rotation)
	}
	msg := rt.message(protocol.TypeMove, sender, "", protocol.MovePayload{
		AgentID:  sender.AgentID,
		Position: req.Position,
		Rotation: req.Rotation,
		Velocity: req.Velocity,
	})
	return Plan{Deliveries: []Delivery{{Channel: rt.shardChannel(), Message: msg}}}
}

func (rt *Router) interact(sender auth.Identity, req protocol.InteractRequest) Plan {
	msg := rt.message(protocol.TypeInteract, sender, req.TargetID, protocol.InteractPayload{
		AgentID:         sender.AgentID,
		TargetID:        req.TargetID,
		InteractionType: req.InteractionType,
		InteractionData: req.Data,
	})
	plan := Plan{Deliveries: []Delivery{{Channel: protocol.PersonalChannel(req.TargetID), Message: msg}}}
	if req.InteractionType == protocol.InteractionPublic {
		plan.Deliveries = append(plan.Deliveries, Delivery{Channel: rt.shardChannel(), Message: msg})
	}
	return plan
}

func (rt *Router) communicate(sender auth.Identity, req protocol.CommunicateRequest) Plan {
	payload := protocol.CommunicatePayload{
		AgentID:   sender.AgentID,
		Message:   req.Message,
		Broadcast: req.Broadcast,
	}
	switch {
	case req.RecipientID != "":
		msg := rt.message(protocol.TypeCommunicate, sender, req.RecipientID, payload)
		return Plan{Deliveries: []Delivery{{Channel: protocol.PersonalChannel(req.RecipientID), Message: msg}}}
	case req.Broadcast:
		msg := rt.message(protocol.TypeCommunicate, sender, "", payload)
		return Plan{Deliveries: []Delivery{{Channel: rt.shardChannel(), Message: msg}}}
	}
	return Plan{}
}

// Leave plans the notification sent when sender's connection goes away.
func (rt *Router) Leave(sender auth.Identity, reason string) Plan {
	if reason == "" {
		reason = "disconnected"
	}
	msg := rt.message(protocol.TypeLeave, sender, "", protocol.LeavePayload{
		AgentID: sender.AgentID,
		Reason:  reason,
	})
	return Plan{Deliveries: []Delivery{{Channel: rt.shardChannel(), Message: msg}}}
}

// System builds a server-originated system_event message for the shard.
func (rt *Router) System(event, detail string) Delivery {
	msg := rt.message(protocol.TypeSystem, auth.Identity{}, "", protocol.SystemPayload{
		Event:  event,
		Detail: detail,
	})
	return Delivery{Channel: rt.shardChannel(), Message: msg}
}

func (rt *Router) shardChannel() string {
	return protocol.ShardChannel(rt.opts.ShardID)
}

// message stamps a fresh id, the current time, the authenticated sender and
// the routing shard.
func (rt *Router) message(t protocol.MessageType, sender auth.Identity, recipient string, payload protocol.Payload) protocol.Message {
	return protocol.Message{
		ID:          rt.newID(),
		Type:        t,
		SenderID:    sender.AgentID,
		RecipientID: recipient,
		Timestamp:   rt.now().UTC(),
		Data:        payload,
		ShardID:     rt.opts.ShardID,
	}
}
