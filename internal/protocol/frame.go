package protocol

import "encoding/json"

// Frame is the envelope of every WebSocket text message in both directions.
// Ack correlates a universe:get_state request with its reply.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeFrame marshals data and wraps it in a frame.
func EncodeFrame(event string, data any) ([]byte, error) {
	return EncodeAck(event, "", data)
}

// EncodeAck is EncodeFrame with an ack id.
func EncodeAck(event, ack string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw, Ack: ack})
}

// EncodeError builds an error frame. It never fails.
func EncodeError(message string) []byte {
	b, _ := EncodeFrame(EventError, ErrorPayload{Message: message})
	return b
}
