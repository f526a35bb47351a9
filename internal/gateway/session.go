package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"yellorn/internal/hub"
	"yellorn/internal/observability"
	"yellorn/internal/protocol"
)

// Disconnect reasons reported in agent_leave messages.
const (
	ReasonClientClosed = "client namespace disconnect"
	ReasonTransport    = "transport close"
	ReasonPingTimeout  = "ping timeout"
	ReasonShutdown     = "server shutting down"
)

// session is one upgraded connection. The reader runs on the HTTP handler
// goroutine; the writer owns every write to conn.
type session struct {
	g       *Gateway
	conn    *websocket.Conn
	client  *hub.Client
	limiter *rate.Limiter
}

func newSession(g *Gateway, conn *websocket.Conn, client *hub.Client) *session {
	return &session{
		g:       g,
		conn:    conn,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(g.cfg.MessagesPerSecond), g.cfg.MessageBurst),
	}
}

// readPump handles inbound frames until the connection fails and returns
// the disconnect reason.
func (s *session) readPump() string {
	s.conn.SetReadLimit(s.g.cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.g.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.g.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return s.g.disconnectReason(err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.g.cfg.PongTimeout))
		s.handle(data)
	}
}

func (s *session) handle(data []byte) {
	if !s.limiter.Allow() {
		s.client.Enqueue(protocol.EncodeError("rate limit exceeded"))
		return
	}

	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
		observability.IncrementMalformed()
		s.client.Enqueue(protocol.EncodeError("invalid frame"))
		return
	}

	in, err := protocol.DecodeInbound(f.Event, f.Data)
	if err != nil {
		observability.IncrementMalformed()
		s.client.Enqueue(protocol.EncodeError(refusalMessage(f.Event, err)))
		return
	}

	plan := s.g.router.Route(s.client.Identity, in)
	delivered := s.g.execute(s.client, plan)
	if t := routedType(in); t != "" {
		observability.RecordRouted(string(t), delivered)
	}

	if plan.Reply != nil {
		frame, err := protocol.EncodeAck(protocol.EventAck, f.Ack, plan.Reply)
		if err != nil {
			log.Printf("❌ Failed to encode state reply: %v", err)
			s.client.Enqueue(protocol.EncodeError("internal error"))
			return
		}
		s.client.Enqueue(frame)
	}
}

// writePump drains the client's queue onto the connection and keeps it alive
// with pings. It closes the connection when the queue is closed or a write fails.
func (s *session) writePump() {
	ticker := time.NewTicker(s.g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.client.Send():
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.g.cfg.WriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.g.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnectReason maps a read error to a reason. It is never empty.
func (g *Gateway) disconnectReason(err error) string {
	if g.closing.Load() {
		return ReasonShutdown
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return ReasonClientClosed
		}
		return ReasonTransport
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransport
}

// refusalMessage is the client-facing text for a rejected request. Schema
// details stay in the server log.
func refusalMessage(event string, err error) string {
	var pe *protocol.PayloadError
	if errors.As(err, &pe) {
		log.Printf("⚠️ Rejected %s payload: %v", event, err)
		return "invalid " + event + " payload"
	}
	return "unknown event: " + event
}

// routedType is the message type a request produces, or "" for requests
// that are answered rather than routed.
func routedType(in protocol.Inbound) protocol.MessageType {
	switch in.(type) {
	case protocol.JoinRequest:
		return protocol.TypeJoin
	case protocol.MoveRequest:
		return protocol.TypeMove
	case protocol.InteractRequest:
		return protocol.TypeInteract
	case protocol.CommunicateRequest:
		return protocol.TypeCommunicate
	}
	return ""
}
