// Package config is the single source of truth for runtime settings.
//
// Values are layered: defaults, then the optional YAML file named by
// YELLORN_CONFIG, then environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable holding the YAML file path.
const ConfigFileEnv = "YELLORN_CONFIG"

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"corsOrigins"`
	RateLimitRPS   float64  `yaml:"rateLimitRps"`   // REST requests per second per IP
	RateLimitBurst int      `yaml:"rateLimitBurst"` // REST burst per IP
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		CORSOrigins:    []string{"http://localhost:*", "http://127.0.0.1:*"},
		RateLimitRPS:   10,
		RateLimitBurst: 20,
	}
}

func (c *ServerConfig) applyEnv() {
	if p := getEnvInt("PORT", 0); p > 0 {
		c.Port = p
	}
	if o := getEnvList("CORS_ORIGINS"); o != nil {
		c.CORSOrigins = o
	}
	if v := getEnvFloat("RATE_LIMIT_RPS", 0); v > 0 {
		c.RateLimitRPS = v
	}
	if v := getEnvInt("RATE_LIMIT_BURST", 0); v > 0 {
		c.RateLimitBurst = v
	}
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// =============================================================================
// ENGINE CONFIGURATION
// =============================================================================

// EngineConfig holds tick loop and registry settings.
type EngineConfig struct {
	TickRate     int    `yaml:"tickRate"`     // ticks per second
	ShardID      string `yaml:"shardId"`      // default shard
	UpdateEvery  int    `yaml:"updateEvery"`  // broadcast a snapshot every N ticks
	RecentEvents int    `yaml:"recentEvents"` // recent events carried in snapshots
	MaxAgents    int    `yaml:"maxAgents"`    // 0 = unlimited
}

// DefaultEngine returns the default engine configuration.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		TickRate:     60,
		ShardID:      "genesis",
		UpdateEvery:  6, // 10 Hz
		RecentEvents: 32,
		MaxAgents:    10_000,
	}
}

func (c *EngineConfig) applyEnv() {
	if v := getEnvInt("TICK_RATE", 0); v > 0 {
		c.TickRate = v
	}
	if v := os.Getenv("SHARD_ID"); v != "" {
		c.ShardID = v
	}
	if v := getEnvInt("UPDATE_EVERY", -1); v >= 0 {
		c.UpdateEvery = v
	}
	if v := getEnvInt("RECENT_EVENTS", -1); v >= 0 {
		c.RecentEvents = v
	}
	if v := getEnvInt("MAX_AGENTS", -1); v >= 0 {
		c.MaxAgents = v
	}
}

// =============================================================================
// PHYSICS CONFIGURATION
// =============================================================================

// PhysicsConfig holds world parameters.
type PhysicsConfig struct {
	GravityY    float64 `yaml:"gravityY"`
	GroundY     float64 `yaml:"groundY"`
	AgentRadius float64 `yaml:"agentRadius"`
	Friction    float64 `yaml:"friction"`
	Restitution float64 `yaml:"restitution"`
}

// DefaultPhysics returns Earth-like gravity and half-meter agents.
func DefaultPhysics() PhysicsConfig {
	return PhysicsConfig{
		GravityY:    -9.82,
		AgentRadius: 0.5,
		Friction:    0.4,
		Restitution: 0.3,
	}
}

func (c *PhysicsConfig) applyEnv() {
	if v, ok := lookupEnvFloat("GRAVITY_Y"); ok {
		c.GravityY = v
	}
	if v := getEnvFloat("AGENT_RADIUS", 0); v > 0 {
		c.AgentRadius = v
	}
	if v, ok := lookupEnvFloat("FRICTION"); ok {
		c.Friction = v
	}
	if v, ok := lookupEnvFloat("RESTITUTION"); ok {
		c.Restitution = v
	}
}

// =============================================================================
// GATEWAY CONFIGURATION
// =============================================================================

// GatewayConfig holds realtime connection limits and routing policy.
type GatewayConfig struct {
	MaxConnections          int      `yaml:"maxConnections"`
	MaxPerIP                int      `yaml:"maxPerIp"`
	SendBuffer              int      `yaml:"sendBuffer"`
	MessagesPerSecond       float64  `yaml:"messagesPerSecond"`
	MessageBurst            int      `yaml:"messageBurst"`
	RemoveAgentOnDisconnect bool     `yaml:"removeAgentOnDisconnect"`
	ApplyMovesToRegistry    bool     `yaml:"applyMovesToRegistry"`
	AllowedOrigins          []string `yaml:"allowedOrigins"`
	AllowMissingOrigin      bool     `yaml:"allowMissingOrigin"`
}

// DefaultGateway returns the default gateway configuration.
func DefaultGateway() GatewayConfig {
	return GatewayConfig{
		MaxConnections:       500,
		MaxPerIP:             10,
		SendBuffer:           256,
		MessagesPerSecond:    30,
		MessageBurst:         60,
		ApplyMovesToRegistry: true,
		AllowedOrigins:       []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowMissingOrigin:   true,
	}
}

func (c *GatewayConfig) applyEnv() {
	if v := getEnvInt("WS_MAX_CONNECTIONS", 0); v > 0 {
		c.MaxConnections = v
	}
	if v := getEnvInt("WS_MAX_PER_IP", 0); v > 0 {
		c.MaxPerIP = v
	}
	if v := getEnvInt("WS_SEND_BUFFER", 0); v > 0 {
		c.SendBuffer = v
	}
	if v := getEnvFloat("WS_MESSAGES_PER_SEC", 0); v > 0 {
		c.MessagesPerSecond = v
	}
	if v := getEnvInt("WS_MESSAGE_BURST", 0); v > 0 {
		c.MessageBurst = v
	}
	if v, ok := lookupEnvBool("REMOVE_AGENT_ON_DISCONNECT"); ok {
		c.RemoveAgentOnDisconnect = v
	}
	if v, ok := lookupEnvBool("APPLY_MOVES_TO_REGISTRY"); ok {
		c.ApplyMovesToRegistry = v
	}
	if o := getEnvList("WS_ALLOWED_ORIGINS"); o != nil {
		c.AllowedOrigins = o
	}
	if v, ok := lookupEnvBool("WS_ALLOW_MISSING_ORIGIN"); ok {
		c.AllowMissingOrigin = v
	}
}

// =============================================================================
// AUTH CONFIGURATION
// =============================================================================

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"tokenTtl"`
	Leeway    time.Duration `yaml:"leeway"`
}

// DefaultAuth returns the default auth configuration. The secret is empty:
// the server then generates an ephemeral one.
func DefaultAuth() AuthConfig {
	return AuthConfig{
		TokenTTL: 24 * time.Hour,
		Leeway:   30 * time.Second,
	}
}

func (c *AuthConfig) applyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		c.Issuer = v
	}
	if v := getEnvDuration("JWT_TTL"); v > 0 {
		c.TokenTTL = v
	}
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig holds debug server settings.
type ObservabilityConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listenAddr"`
	AllowExternal bool   `yaml:"allowExternal"`
	BasicAuthUser string `yaml:"basicAuthUser"`
	BasicAuthPass string `yaml:"basicAuthPass"`
}

// DefaultObservability keeps the debug server on localhost.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

func (c *ObservabilityConfig) applyEnv() {
	if v, ok := lookupEnvBool("DEBUG_ENABLED"); ok {
		c.Enabled = v
	}
	if v := os.Getenv("DEBUG_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DEBUG_USER"); v != "" {
		c.BasicAuthUser = v
		c.BasicAuthPass = os.Getenv("DEBUG_PASS")
	}
}

// =============================================================================
// JOURNAL CONFIGURATION
// =============================================================================

// JournalConfig holds event journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"` // .zst suffix compresses
	UpdateEvery int    `yaml:"updateEvery"`
}

// DefaultJournal keeps the journal off.
func DefaultJournal() JournalConfig {
	return JournalConfig{
		Path:        "universe-events.jsonl.zst",
		UpdateEvery: 60,
	}
}

func (c *JournalConfig) applyEnv() {
	if v, ok := lookupEnvBool("JOURNAL_ENABLED"); ok {
		c.Enabled = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		c.Path = v
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Physics       PhysicsConfig       `yaml:"physics"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Journal       JournalConfig       `yaml:"journal"`
}

// Default returns every section's defaults.
func Default() AppConfig {
	return AppConfig{
		Server:        DefaultServer(),
		Engine:        DefaultEngine(),
		Physics:       DefaultPhysics(),
		Gateway:       DefaultGateway(),
		Auth:          DefaultAuth(),
		Observability: DefaultObservability(),
		Journal:       DefaultJournal(),
	}
}

// Load returns the complete configuration: defaults, then the YAML file
// named by YELLORN_CONFIG if set, then environment overrides.
func Load() (AppConfig, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return AppConfig{}, err
		}
	}

	cfg.Server.applyEnv()
	cfg.Engine.applyEnv()
	cfg.Physics.applyEnv()
	cfg.Gateway.applyEnv()
	cfg.Auth.applyEnv()
	cfg.Observability.applyEnv()
	cfg.Journal.applyEnv()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path. Keys absent from the file keep
// their current values; unknown keys are an error.
func (c *AppConfig) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports every setting that cannot work.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Engine.TickRate <= 0 || c.Engine.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("engine.tickRate %d out of range", c.Engine.TickRate))
	}
	if c.Engine.ShardID == "" {
		errs = append(errs, errors.New("engine.shardId is empty"))
	}
	if c.Physics.AgentRadius <= 0 {
		errs = append(errs, errors.New("physics.agentRadius must be positive"))
	}
	if c.Physics.Restitution < 0 || c.Physics.Restitution > 1 {
		errs = append(errs, errors.New("physics.restitution must be within [0,1]"))
	}
	if c.Physics.Friction < 0 {
		errs = append(errs, errors.New("physics.friction must not be negative"))
	}
	if c.Gateway.MessagesPerSecond <= 0 {
		errs = append(errs, errors.New("gateway.messagesPerSecond must be positive"))
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v, ok := lookupEnvFloat(key); ok {
		return v
	}
	return defaultVal
}

func lookupEnvFloat(key string) (float64, bool) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func lookupEnvBool(key string) (bool, bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDuration(key string) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

// getEnvList splits a comma-separated variable, or returns nil if unset.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
