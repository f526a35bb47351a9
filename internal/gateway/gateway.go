// Package gateway is the realtime edge: it authenticates WebSocket upgrades,
// binds each connection to its identity and channels, feeds inbound frames
// through the router and fans engine notifications out to shard members.
package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"yellorn/internal/auth"
	"yellorn/internal/hub"
	"yellorn/internal/observability"
	"yellorn/internal/protocol"
	"yellorn/internal/ratelimit"
	"yellorn/internal/router"
)

// Config holds connection limits and session policy.
type Config struct {
	MaxConnections int // total; 0 disables
	MaxPerIP       int // 0 disables
	SendBuffer     int // per-client outbound queue

	MessagesPerSecond float64 // inbound frames per connection
	MessageBurst      int

	// RemoveAgentOnDisconnect removes the agent from the registry when its
	// connection closes. Off by default: registry lifecycle is explicit.
	RemoveAgentOnDisconnect bool

	// UpdateEvery broadcasts universe:update every N ticks; 0 disables.
	UpdateEvery int

	AllowedOrigins     []string
	AllowMissingOrigin bool

	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     500,
		MaxPerIP:           10,
		SendBuffer:         hub.DefaultSendBuffer,
		MessagesPerSecond:  30,
		MessageBurst:       60,
		UpdateEvery:        6, // 10 Hz at 60 TPS
		AllowedOrigins:     []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowMissingOrigin: true,
		WriteTimeout:       5 * time.Second,
		PongTimeout:        60 * time.Second,
		PingInterval:       25 * time.Second,
		MaxMessageBytes:    64 * 1024,
	}
}

// Engine is what the gateway needs from the universe engine.
type Engine interface {
	router.Registry
	RemoveAgent(id string) bool
}

// Gateway serves WebSocket connections. It implements http.Handler.
type Gateway struct {
	cfg      Config
	auth     auth.Authenticator
	engine   Engine
	hub      *hub.Hub
	router   *router.Router
	conns    *ratelimit.ConnLimiter
	origins  *ratelimit.OriginChecker
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*hub.Client]*websocket.Conn
	closing  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a gateway. Nothing is started until connections arrive.
func New(cfg Config, authn auth.Authenticator, engine Engine, h *hub.Hub, rt *router.Router) *Gateway {
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = def.MessagesPerSecond
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = def.MessageBurst
	}

	return &Gateway{
		cfg:     cfg,
		auth:    authn,
		engine:  engine,
		hub:     h,
		router:  rt,
		conns:   ratelimit.NewConnLimiter(cfg.MaxPerIP, cfg.MaxConnections),
		origins: ratelimit.NewOriginChecker(cfg.AllowedOrigins, cfg.AllowMissingOrigin),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin is checked before the upgrade so the refusal is counted
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*hub.Client]*websocket.Conn),
	}
}

// ServeHTTP authenticates and upgrades one connection, then runs its
// session until the connection closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.closing.Load() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	ip := ratelimit.GetClientIP(r)

	if origin := r.Header.Get("Origin"); !g.origins.Allowed(origin) {
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		observability.RecordConnectionRejected("origin")
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	identity, err := g.auth.Authenticate(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		reason := auth.Reason(err)
		if reason == auth.ErrNoCredential.Error() {
			observability.RecordConnectionRejected("no_credential")
		} else {
			observability.RecordConnectionRejected("invalid_credential")
		}
		log.Printf("🔐 Connection from %s refused: %v", ip, err)
		auth.WriteRefusal(w, http.StatusUnauthorized, reason)
		return
	}

	if ok, why := g.conns.Acquire(ip); !ok {
		log.Printf("⚠️ WebSocket connection rejected from %s: %s", ip, why)
		observability.RecordConnectionRejected(why)
		if why == ratelimit.ReasonCapacity {
			http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		} else {
			http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		}
		return
	}

	// Membership exists before the handshake completes, so a client that
	// has finished dialing is already reachable.
	client := hub.NewClient(identity, ip, g.cfg.SendBuffer)
	g.hub.Register(client)
	g.hub.Join(client, protocol.PersonalChannel(identity.AgentID))
	g.hub.Join(client, protocol.ShardChannel(g.router.ShardID()))

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket upgrade error: %v", err)
		g.hub.Unregister(client)
		g.conns.Release(ip)
		return
	}

	// closing is re-checked under the lock Shutdown holds while it sweeps,
	// so every session is either swept or never starts.
	g.mu.Lock()
	if g.closing.Load() {
		g.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, ReasonShutdown)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		g.hub.Unregister(client)
		g.conns.Release(ip)
		return
	}
	g.wg.Add(1)
	g.sessions[client] = conn
	g.mu.Unlock()
	defer g.wg.Done()

	s := newSession(g, conn, client)
	go s.writePump()
	reason := s.readPump()
	g.disconnect(client, reason)
}

// disconnect tears a session down and tells the default shard.
func (g *Gateway) disconnect(client *hub.Client, reason string) {
	g.mu.Lock()
	delete(g.sessions, client)
	g.mu.Unlock()

	g.hub.Unregister(client)
	g.conns.Release(client.IP)

	if g.cfg.RemoveAgentOnDisconnect {
		g.engine.RemoveAgent(client.Identity.AgentID)
	}

	plan := g.router.Leave(client.Identity, reason)
	observability.RecordRouted(string(protocol.TypeLeave), g.execute(client, plan))
	log.Printf("📱 Agent %s left: %s", client.Identity.AgentID, reason)
}

// execute carries out a routing plan for sender and returns the number of
// queues reached.
func (g *Gateway) execute(sender *hub.Client, plan router.Plan) int {
	if plan.SwitchShard != "" {
		g.hub.LeavePrefix(sender, protocol.ShardChannelPrefix)
		g.hub.Join(sender, plan.SwitchShard)
	}

	delivered := 0
	for _, d := range plan.Deliveries {
		frame, err := protocol.EncodeFrame(protocol.EventUniverse, d.Message)
		if err != nil {
			log.Printf("❌ Failed to encode %s message: %v", d.Message.Type, err)
			continue
		}
		delivered += g.hub.Emit(d.Channel, sender.ID, frame)
	}
	return delivered
}

// Shutdown stops accepting connections, closes every session and waits for
// them to finish or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing.Store(true)
	for _, conn := range g.sessions {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, ReasonShutdown)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount returns the number of open sessions.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
