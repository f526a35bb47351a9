// Command agent is a sample realtime client. It authenticates with a bearer
// token, joins a shard, walks in a circle and prints every event it receives.
//
// USAGE:
//
//	JWT_SECRET=dev go run ./cmd/agent -agent a1
//	go run ./cmd/agent -token <jwt>
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"yellorn/internal/auth"
	"yellorn/internal/protocol"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	url := flag.String("url", "ws://localhost:3000/ws", "gateway WebSocket URL")
	agentID := flag.String("agent", "a1", "agent id to act as")
	token := flag.String("token", os.Getenv("AGENT_TOKEN"), "bearer token; minted from JWT_SECRET when empty")
	shard := flag.String("shard", "", "shard to join")
	interval := flag.Duration("interval", 500*time.Millisecond, "time between moves")
	moves := flag.Int("moves", 20, "number of moves to send; 0 runs until interrupted")
	flag.Parse()

	if *token == "" {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			log.Fatal("❌ Pass -token or set JWT_SECRET to mint one")
		}
		minted, err := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: secret, Issuer: os.Getenv("JWT_ISSUER")}).
			Issue(auth.Identity{ID: *agentID, Username: *agentID, Role: auth.RoleAgent, AgentID: *agentID})
		if err != nil {
			log.Fatalf("❌ Failed to mint token: %v", err)
		}
		*token = minted
	}

	header := http.Header{"Authorization": {"Bearer " + *token}}
	conn, resp, err := websocket.DefaultDialer.Dial(*url, header)
	if err != nil {
		if resp != nil {
			var refusal protocol.ErrorPayload
			json.NewDecoder(resp.Body).Decode(&refusal)
			log.Fatalf("❌ Connection refused (%d): %s", resp.StatusCode, refusal.Message)
		}
		log.Fatalf("❌ Dial failed: %v", err)
	}
	defer conn.Close()
	log.Printf("✅ Connected to %s as %s", *url, *agentID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("📱 Connection closed: %v", err)
				return
			}
			printFrame(data)
		}
	}()

	send := func(event string, data any, ack string) {
		raw, _ := json.Marshal(data)
		frame, _ := json.Marshal(protocol.Frame{Event: event, Data: raw, Ack: ack})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("⚠️ Send %s failed: %v", event, err)
		}
	}

	send(protocol.EventJoin, protocol.JoinRequest{ShardID: *shard}, "")
	send(protocol.EventGetState, nil, "state-1")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

loop:
	for i := 0; *moves == 0 || i < *moves; i++ {
		select {
		case <-ticker.C:
			angle := float64(i) * math.Pi / 8
			send(protocol.EventMove, protocol.MoveRequest{
				Position: protocol.Vec3{X: 5 * math.Cos(angle), Y: 1, Z: 5 * math.Sin(angle)},
			}, "")
		case <-quit:
			break loop
		case <-done:
			return
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	log.Println("👋 Goodbye!")
}

func printFrame(data []byte) {
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("⚠️ Undecodable frame: %s", data)
		return
	}
	switch f.Event {
	case protocol.EventUniverse:
		var m protocol.Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			log.Printf("⚠️ Undecodable message: %v", err)
			return
		}
		log.Printf("📨 %s from %s: %+v", m.Type, m.SenderID, m.Data)
	case protocol.EventUpdate:
		var s protocol.UniverseState
		json.Unmarshal(f.Data, &s)
		log.Printf("📊 Tick %d: %d agents", s.Tick, len(s.Agents))
	case protocol.EventAck:
		var s protocol.UniverseState
		json.Unmarshal(f.Data, &s)
		log.Printf("📊 State (%s): shard %s, %d agents", f.Ack, s.ShardID, len(s.Agents))
	case protocol.EventError:
		var e protocol.ErrorPayload
		json.Unmarshal(f.Data, &e)
		log.Printf("❌ Server error: %s", e.Message)
	default:
		log.Printf("📨 %s: %s", f.Event, f.Data)
	}
}
