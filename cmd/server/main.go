package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"yellorn/internal/api"
	"yellorn/internal/auth"
	"yellorn/internal/config"
	"yellorn/internal/gateway"
	"yellorn/internal/hub"
	"yellorn/internal/journal"
	"yellorn/internal/observability"
	"yellorn/internal/physics"
	"yellorn/internal/protocol"
	"yellorn/internal/ratelimit"
	"yellorn/internal/router"
	"yellorn/internal/universe"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  YELLORN - UNIVERSE CORE")
	log.Println("🎮 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	engineCfg := appConfig.Engine
	log.Printf("🎮 Config: %d TPS, shard %s, snapshot every %d ticks, max %d agents",
		engineCfg.TickRate, engineCfg.ShardID, engineCfg.UpdateEvery, engineCfg.MaxAgents)

	// Debug server
	if err := observability.StartDebugServer(observability.Config(appConfig.Observability)); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	bus := universe.NewBus(universe.DefaultBusSize)

	pc := appConfig.Physics
	physicsCfg := physics.DefaultConfig()
	physicsCfg.Gravity = physics.Vec3{Y: pc.GravityY}
	physicsCfg.GroundY = pc.GroundY
	physicsCfg.Radius = pc.AgentRadius
	physicsCfg.Friction = pc.Friction
	physicsCfg.Restitution = pc.Restitution

	universeCfg := universe.DefaultConfig()
	universeCfg.TickRate = engineCfg.TickRate
	universeCfg.ShardID = engineCfg.ShardID
	universeCfg.RecentEvents = engineCfg.RecentEvents
	universeCfg.MaxAgents = engineCfg.MaxAgents
	universeCfg.Physics = physicsCfg
	engine := universe.NewEngine(universeCfg, nil, bus)

	ac := appConfig.Auth
	authn := auth.NewJWTAuthenticator(auth.JWTConfig{
		Secret:   ac.JWTSecret,
		Issuer:   ac.Issuer,
		TokenTTL: ac.TokenTTL,
		Leeway:   ac.Leeway,
	})

	// Routing is pinned to the default shard regardless of the engine's
	// shard id; agent:join only changes channel membership.
	rt := router.New(engine, router.Options{
		ShardID:              protocol.DefaultShard,
		ApplyMovesToRegistry: appConfig.Gateway.ApplyMovesToRegistry,
	})

	gc := appConfig.Gateway
	gwCfg := gateway.DefaultConfig()
	gwCfg.MaxConnections = gc.MaxConnections
	gwCfg.MaxPerIP = gc.MaxPerIP
	gwCfg.SendBuffer = gc.SendBuffer
	gwCfg.MessagesPerSecond = gc.MessagesPerSecond
	gwCfg.MessageBurst = gc.MessageBurst
	gwCfg.RemoveAgentOnDisconnect = gc.RemoveAgentOnDisconnect
	gwCfg.UpdateEvery = engineCfg.UpdateEvery
	gwCfg.AllowedOrigins = gc.AllowedOrigins
	gwCfg.AllowMissingOrigin = gc.AllowMissingOrigin
	gw := gateway.New(gwCfg, authn, engine, hub.New(), rt)
	gw.Subscribe(bus)

	// Event journal
	var jrnl *journal.Journal
	if jc := appConfig.Journal; jc.Enabled {
		journalCfg := journal.DefaultConfig()
		journalCfg.Path = jc.Path
		journalCfg.UpdateEvery = jc.UpdateEvery
		jrnl = journal.New(journalCfg)
		if err := jrnl.Start(); err != nil {
			log.Printf("⚠️ Journal disabled: %v", err)
			jrnl = nil
		} else {
			jrnl.Subscribe(bus)
			log.Printf("📝 Journal: %s", jc.Path)
		}
	}

	sc := appConfig.Server
	server := api.NewServer(api.ServerConfig{
		Addr:          sc.Addr(),
		Engine:        engine,
		Gateway:       gw,
		Authenticator: authn,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: sc.RateLimitRPS,
			Burst:             sc.RateLimitBurst,
			CleanupInterval:   5 * time.Minute,
		},
		CORSOrigins: sc.CORSOrigins,
	})

	bus.Start()
	engine.Start()
	log.Println("✅ Universe engine started")

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			log.Printf("❌ Server failed: %v", err)
		}
	}

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Shutdown: %v", err)
	}
	engine.Stop()
	bus.Stop()
	if jrnl != nil {
		jrnl.Stop()
		s := jrnl.Stats()
		log.Printf("📊 Journal: %d written, %d dropped", s.Written, s.Dropped)
	}
	log.Println("👋 Goodbye!")
}
