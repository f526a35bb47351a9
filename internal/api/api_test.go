package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"yellorn/internal/auth"
	"yellorn/internal/protocol"
	"yellorn/internal/ratelimit"
	"yellorn/internal/universe"
)

type testAPI struct {
	t      *testing.T
	engine *universe.Engine
	authn  *auth.JWTAuthenticator
	ts     *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	engine := universe.NewEngine(universe.DefaultConfig(), nil, nil)
	authn := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: "test-secret", TokenTTL: time.Hour})

	router := NewRouter(RouterConfig{
		Engine:          engine,
		Authenticator:   authn,
		Connections:     func() int { return 3 },
		RateLimitConfig: &ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000, CleanupInterval: time.Hour},
		DisableLogging:  true,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return &testAPI{t: t, engine: engine, authn: authn, ts: ts}
}

func (a *testAPI) token(role, agentID string) string {
	a.t.Helper()
	tok, err := a.authn.Issue(auth.Identity{ID: "u-" + agentID, Role: role, AgentID: agentID})
	if err != nil {
		a.t.Fatal(err)
	}
	return tok
}

func (a *testAPI) do(method, path, token, body string) *http.Response {
	a.t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, a.ts.URL+path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestNewRouterHasNoSideEffects(t *testing.T) {
	router := NewRouter(RouterConfig{
		Engine:          universe.NewEngine(universe.DefaultConfig(), nil, nil),
		Authenticator:   auth.NewJWTAuthenticator(auth.JWTConfig{Secret: "s"}),
		RateLimitConfig: &ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000, CleanupInterval: time.Hour},
	})
	if router == nil {
		t.Fatal("Router should not be nil")
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddAgent("a1", universe.AgentInit{})

	resp := a.do("GET", "/api/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	h := decode[map[string]any](t, resp)
	if h["status"] != "stopped" || h["shardId"] != protocol.DefaultShard {
		t.Errorf("unexpected health %v", h)
	}
	if h["agents"] != float64(1) || h["activeAgents"] != float64(1) || h["connections"] != float64(3) {
		t.Errorf("unexpected counts %v", h)
	}
}

func TestReadEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddAgent("a2", universe.AgentInit{})
	a.engine.AddAgent("a1", universe.AgentInit{})

	resp := a.do("GET", "/api/universe", "", "")
	state := decode[protocol.UniverseState](t, resp)
	if len(state.Agents) != 2 || state.Agents[0].ID != "a1" {
		t.Errorf("unexpected universe %+v", state)
	}

	resp = a.do("GET", "/api/agents", "", "")
	agents := decode[[]protocol.AgentState](t, resp)
	if len(agents) != 2 {
		t.Errorf("Expected 2 agents, got %d", len(agents))
	}

	resp = a.do("GET", "/api/agents/a1", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if got := decode[protocol.AgentState](t, resp); got.ID != "a1" || got.Position != universe.DefaultSpawn {
		t.Errorf("unexpected agent %+v", got)
	}

	resp = a.do("GET", "/api/agents/ghost", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["message"] == "" {
		t.Error("error envelope should carry a message")
	}
}

func TestCreateAgent(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(auth.RoleAdmin, "root")
	agent := a.token(auth.RoleAgent, "a1")
	observer := a.token(auth.RoleObserver, "o1")

	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
	}{
		{"no token", "", `{"id":"a1"}`, http.StatusUnauthorized},
		{"observer", observer, `{"id":"o1"}`, http.StatusForbidden},
		{"agent creates another", agent, `{"id":"a2"}`, http.StatusForbidden},
		{"agent creates itself", agent, `{"position":{"x":1,"y":5,"z":0}}`, http.StatusCreated},
		{"duplicate", admin, `{"id":"a1"}`, http.StatusConflict},
		{"bad id", admin, `{"id":"no spaces"}`, http.StatusBadRequest},
		{"invalid json", admin, `{invalid}`, http.StatusBadRequest},
		{"unknown field", admin, `{"id":"a3","colour":"red"}`, http.StatusBadRequest},
		{"admin creates any", admin, `{"id":"a3","health":150}`, http.StatusCreated},
		{"outside world bounds", admin, `{"id":"a4","position":{"x":2147483646.5,"y":1,"z":0}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.do("POST", "/api/agents", tt.token, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}

	if got, _ := a.engine.GetAgent("a1"); got.Position != (protocol.Vec3{X: 1, Y: 5, Z: 0}) {
		t.Errorf("a1 position = %+v", got.Position)
	}
	if got, _ := a.engine.GetAgent("a3"); got.Health != 100 {
		t.Errorf("health should be clamped, got %f", got.Health)
	}
}

func TestDeleteAgentRequiresAdmin(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddAgent("a1", universe.AgentInit{})

	if resp := a.do("DELETE", "/api/agents/a1", a.token(auth.RoleAgent, "a1"), ""); resp.StatusCode != http.StatusForbidden {
		t.Errorf("agent delete: expected 403, got %d", resp.StatusCode)
	}
	admin := a.token(auth.RoleAdmin, "root")
	if resp := a.do("DELETE", "/api/agents/a1", admin, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("admin delete: expected 204, got %d", resp.StatusCode)
	}
	if resp := a.do("DELETE", "/api/agents/a1", admin, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestForceAndPosition(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddAgent("a1", universe.AgentInit{Position: &protocol.Vec3{Y: 10}})
	a.engine.AddAgent("a2", universe.AgentInit{})
	own := a.token(auth.RoleAgent, "a1")

	resp := a.do("POST", "/api/agents/a1/force", own, `{"force":{"x":3,"y":0,"z":0}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("force: expected 202, got %d", resp.StatusCode)
	}
	a.engine.TickOnce()
	if got, _ := a.engine.GetAgent("a1"); got.Velocity.X <= 0 {
		t.Errorf("force had no effect after a tick: %+v", got.Velocity)
	}

	if resp := a.do("POST", "/api/agents/a2/force", own, `{"force":{"x":1,"y":0,"z":0}}`); resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign force: expected 403, got %d", resp.StatusCode)
	}
	if resp := a.do("POST", "/api/agents/a1/force", own, `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing force: expected 400, got %d", resp.StatusCode)
	}

	resp = a.do("PUT", "/api/agents/a1/position", own, `{"position":{"x":4,"y":5,"z":6}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("position: expected 200, got %d", resp.StatusCode)
	}
	if got := decode[protocol.AgentState](t, resp); got.Position != (protocol.Vec3{X: 4, Y: 5, Z: 6}) {
		t.Errorf("position = %+v", got.Position)
	}

	admin := a.token(auth.RoleAdmin, "root")
	if resp := a.do("PUT", "/api/agents/ghost/position", admin, `{"position":{"x":0,"y":0,"z":0}}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown agent: expected 404, got %d", resp.StatusCode)
	}
	if resp := a.do("PUT", "/api/agents/a1/position", own, `{"position":{"x":1e9,"y":1,"z":0}}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out of bounds position: expected 400, got %d", resp.StatusCode)
	}
}

// TestHugeForceKeepsUniverseReadable pushes an agent as hard as JSON allows
// and checks the universe endpoint still serves a decodable snapshot.
func TestHugeForceKeepsUniverseReadable(t *testing.T) {
	a := newTestAPI(t)
	a.engine.AddAgent("a1", universe.AgentInit{})
	own := a.token(auth.RoleAgent, "a1")

	if resp := a.do("POST", "/api/agents/a1/force", own, `{"force":{"x":1e308,"y":0,"z":0}}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("force: expected 202, got %d", resp.StatusCode)
	}
	for i := 0; i < 200; i++ {
		a.engine.TickOnce()
	}

	resp := a.do("GET", "/api/universe", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	state := decode[protocol.UniverseState](t, resp)
	got, ok := state.FindAgent("a1")
	if !ok {
		t.Fatal("a1 missing from snapshot")
	}
	if got.Position.X > 1000 {
		t.Errorf("agent left the world: %+v", got.Position)
	}
}

func TestCreateAgentAtCapacity(t *testing.T) {
	engine := universe.NewEngine(universe.Config{MaxAgents: 1}, nil, nil)
	authn := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: "test-secret", TokenTTL: time.Hour})
	ts := httptest.NewServer(NewRouter(RouterConfig{
		Engine:          engine,
		Authenticator:   authn,
		RateLimitConfig: &ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000, CleanupInterval: time.Hour},
		DisableLogging:  true,
	}))
	defer ts.Close()
	engine.AddAgent("a1", universe.AgentInit{})

	tok, _ := authn.Issue(auth.Identity{ID: "root", Role: auth.RoleAdmin, AgentID: "root"})
	req, _ := http.NewRequest("POST", ts.URL+"/api/agents", strings.NewReader(`{"id":"a2"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestSocketIOPathRequiresUpgrade(t *testing.T) {
	engine := universe.NewEngine(universe.DefaultConfig(), nil, nil)
	called := false
	router := NewRouter(RouterConfig{
		Engine:         engine,
		Authenticator:  auth.NewJWTAuthenticator(auth.JWTConfig{Secret: "s"}),
		Realtime:       http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }),
		DisableLogging: true,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/socket.io/", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "use websocket") {
		t.Errorf("polling request: got %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest("GET", "/socket.io/", nil)
	req.Header.Set("Upgrade", "websocket")
	router.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Error("upgrade request should reach the realtime handler")
	}
}

func TestRateLimitApplies(t *testing.T) {
	router := NewRouter(RouterConfig{
		Engine:          universe.NewEngine(universe.DefaultConfig(), nil, nil),
		Authenticator:   auth.NewJWTAuthenticator(auth.JWTConfig{Secret: "s"}),
		RateLimitConfig: &ratelimit.Config{RequestsPerSecond: 0.001, Burst: 2, CleanupInterval: time.Hour},
		DisableLogging:  true,
	})

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}
