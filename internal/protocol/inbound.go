package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound event names sent by clients.
const (
	EventJoin        = "agent:join"
	EventMove        = "agent:move"
	EventInteract    = "agent:interact"
	EventCommunicate = "agent:communicate"
	EventGetState    = "universe:get_state"
)

// Outbound event names sent by the server.
const (
	EventUniverse = "universe:event"
	EventUpdate   = "universe:update"
	EventAck      = "ack"
	EventError    = "error"
)

// InteractionPublic tags an interaction that is also broadcast to the shard.
const InteractionPublic = "public"

// Inbound is the tagged union of client requests.
type Inbound interface {
	Event() string
}

// JoinRequest asks to switch to a shard. An empty ShardID means the default shard.
type JoinRequest struct {
	ShardID  string `json:"shardId,omitempty"`
	Position *Vec3  `json:"position,omitempty"`
}

// MoveRequest reports the sender's transform.
type MoveRequest struct {
	Position Vec3  `json:"position"`
	Rotation *Vec3 `json:"rotation,omitempty"`
	Velocity *Vec3 `json:"velocity,omitempty"`
}

// InteractRequest targets another agent.
type InteractRequest struct {
	TargetID        string          `json:"targetId"`
	InteractionType string          `json:"interactionType"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// CommunicateRequest sends a text message directly or to the shard.
type CommunicateRequest struct {
	Message     string `json:"message"`
	RecipientID string `json:"recipientId,omitempty"`
	Broadcast   bool   `json:"broadcast,omitempty"`
}

// GetStateRequest asks for the current snapshot.
type GetStateRequest struct{}

func (JoinRequest) Event() string        { return EventJoin }
func (MoveRequest) Event() string        { return EventMove }
func (InteractRequest) Event() string    { return EventInteract }
func (CommunicateRequest) Event() string { return EventCommunicate }
func (GetStateRequest) Event() string    { return EventGetState }

// ErrUnknownEvent is returned for event names outside the inbound protocol.
var ErrUnknownEvent = errors.New("unknown event")

// PayloadError reports an inbound payload that does not have the expected shape.
type PayloadError struct {
	Event string
	Err   error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Event, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

const vec3Schema = `{
  "type": "object",
  "required": ["x", "y", "z"],
  "properties": {
    "x": {"type": "number"},
    "y": {"type": "number"},
    "z": {"type": "number"}
  }
}`

const idSchema = `{"type": "string", "pattern": "^[a-zA-Z0-9_-]{1,100}$"}`

var inboundSchemas = map[string]string{
	EventJoin: `{
  "type": "object",
  "properties": {
    "shardId": ` + idSchema + `,
    "position": {"$ref": "vec3.json"}
  }
}`,
	EventMove: `{
  "type": "object",
  "required": ["position"],
  "properties": {
    "position": {"$ref": "vec3.json"},
    "rotation": {"$ref": "vec3.json"},
    "velocity": {"$ref": "vec3.json"}
  }
}`,
	EventInteract: `{
  "type": "object",
  "required": ["targetId", "interactionType"],
  "properties": {
    "targetId": ` + idSchema + `,
    "interactionType": {"type": "string", "minLength": 1, "maxLength": 64}
  }
}`,
	EventCommunicate: `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {"type": "string", "maxLength": 2000},
    "recipientId": ` + idSchema + `,
    "broadcast": {"type": "boolean"}
  }
}`,
}

const schemaBaseURL = "https://yellorn.dev/schemas/"

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaBaseURL+"vec3.json", bytes.NewReader([]byte(vec3Schema))); err != nil {
		panic(err)
	}
	out := make(map[string]*jsonschema.Schema, len(inboundSchemas))
	for event, src := range inboundSchemas {
		url := schemaBaseURL + strings.ReplaceAll(event, ":", "_") + ".json"
		if err := c.AddResource(url, bytes.NewReader([]byte(src))); err != nil {
			panic(err)
		}
		out[event] = c.MustCompile(url)
	}
	return out
}

// DecodeInbound validates raw against the schema of event and decodes it into
// the matching request variant. A missing or null payload is accepted for
// agent:join and universe:get_state only.
func DecodeInbound(event string, raw json.RawMessage) (Inbound, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"

	switch event {
	case EventGetState:
		return GetStateRequest{}, nil
	case EventJoin:
		if empty {
			return JoinRequest{}, nil
		}
	case EventMove, EventInteract, EventCommunicate:
		if empty {
			return nil, &PayloadError{Event: event, Err: errors.New("payload required")}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &PayloadError{Event: event, Err: err}
	}
	if err := compiledSchemas[event].Validate(doc); err != nil {
		return nil, &PayloadError{Event: event, Err: err}
	}

	var (
		in  Inbound
		err error
	)
	switch event {
	case EventJoin:
		var r JoinRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case EventMove:
		var r MoveRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case EventInteract:
		var r InteractRequest
		err = json.Unmarshal(raw, &r)
		in = r
	case EventCommunicate:
		var r CommunicateRequest
		err = json.Unmarshal(raw, &r)
		in = r
	}
	if err != nil {
		return nil, &PayloadError{Event: event, Err: err}
	}
	return in, nil
}
