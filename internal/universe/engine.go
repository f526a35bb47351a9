// Package universe owns the authoritative world: the agent registry, the
// physics world that embodies every agent, and the fixed-rate tick loop that
// advances both and publishes snapshots on the Bus.
package universe

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"yellorn/internal/observability"
	"yellorn/internal/physics"
	"yellorn/internal/protocol"
)

// Config holds engine settings.
type Config struct {
	TickRate     int    // ticks per second
	ShardID      string // shard id stamped on snapshots
	RecentEvents int    // length of the recent events ring carried in snapshots
	MaxAgents    int    // 0 means unlimited
	Bounds       protocol.Bounds
	Physics      physics.Config
}

// DefaultConfig returns a 60 Hz engine on the default shard.
func DefaultConfig() Config {
	return Config{
		TickRate:     60,
		ShardID:      protocol.DefaultShard,
		RecentEvents: 32,
		Bounds: protocol.Bounds{
			Min: protocol.Vec3{X: -1000, Y: -100, Z: -1000},
			Max: protocol.Vec3{X: 1000, Y: 1000, Z: 1000},
		},
		Physics: physics.DefaultConfig(),
	}
}

const (
	maxVital     = 100.0
	defaultVital = 100.0
)

// DefaultSpawn is the position given to agents created without one.
var DefaultSpawn = protocol.Vec3{X: 0, Y: 1, Z: 0}

// AgentInit holds optional initial values for AddAgent. Nil fields take defaults.
type AgentInit struct {
	Position *protocol.Vec3
	Rotation *protocol.Vec3
	Velocity *protocol.Vec3
	Health   *float64
	Energy   *float64
}

// Engine is the agent registry and the tick scheduler. A single mutex
// serializes every mutation of agent state and the physics world, whether it
// comes from the tick loop or from a connection handler.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	agents map[string]*protocol.AgentState
	world  physics.World
	recent *recentEvents
	bus    *Bus
	now    func() time.Time

	tickCount uint64
	running   bool
	stopChan  chan struct{}
	done      chan struct{}

	// inTick guards against overlapping ticks; a tick that finds it set is skipped.
	inTick     atomic.Bool
	skipped    atomic.Uint64
	stepErrors atomic.Uint64

	latest atomic.Pointer[protocol.UniverseState]
}

// NewEngine creates a stopped engine. A nil world selects a SphereWorld built
// from cfg.Physics; a nil bus disables notifications.
func NewEngine(cfg Config, world physics.World, bus *Bus) *Engine {
	def := DefaultConfig()
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.ShardID == "" {
		cfg.ShardID = def.ShardID
	}
	if cfg.Bounds == (protocol.Bounds{}) {
		cfg.Bounds = def.Bounds
	}
	if cfg.Physics == (physics.Config{}) {
		cfg.Physics = def.Physics
	}
	if cfg.Physics.Bounds == (physics.Box{}) {
		cfg.Physics.Bounds = physics.Box{Min: toPhysics(cfg.Bounds.Min), Max: toPhysics(cfg.Bounds.Max)}
	}
	if world == nil {
		world = physics.NewSphereWorld(cfg.Physics)
	}

	return &Engine{
		cfg:    cfg,
		agents: make(map[string]*protocol.AgentState),
		world:  world,
		recent: newRecentEvents(cfg.RecentEvents),
		bus:    bus,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Interval returns the wall-clock period between ticks.
func (e *Engine) Interval() time.Duration {
	return time.Second / time.Duration(e.cfg.TickRate)
}

// Delta returns the fixed simulation step in seconds.
func (e *Engine) Delta() float64 {
	return 1.0 / float64(e.cfg.TickRate)
}

// Start begins the tick loop. It warns and does nothing if already running.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		log.Println("⚠️ Universe engine already running")
		return
	}
	e.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stopChan, e.done = stop, done
	now := e.now()
	e.recordLocked(string(TopicEngineStarted), "", now)
	e.publishLocked(Notification{Topic: TopicEngineStarted, Tick: e.tickCount, Timestamp: now})
	e.mu.Unlock()

	ticker := time.NewTicker(e.Interval())
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.tick()
			case <-stop:
				return
			}
		}
	}()

	log.Printf("🎮 Universe engine started at %d TPS (shard %s)", e.cfg.TickRate, e.cfg.ShardID)
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
// Stopping a stopped engine is a no-op; a stopped engine can be started again.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	done := e.done
	e.mu.Unlock()

	<-done

	e.mu.Lock()
	now := e.now()
	e.recordLocked(string(TopicEngineStopped), "", now)
	e.publishLocked(Notification{Topic: TopicEngineStopped, Tick: e.tickCount, Timestamp: now})
	e.mu.Unlock()

	log.Println("🛑 Universe engine stopped")
}

// IsRunning reports whether the tick loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// TickOnce runs a single tick on the caller's goroutine. The tick loop uses
// the same path, so overlapping calls are skipped rather than interleaved.
func (e *Engine) TickOnce() {
	e.tick()
}

func (e *Engine) tick() {
	if !e.inTick.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		observability.IncrementTicksSkipped()
		return
	}
	defer e.inTick.Store(false)

	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tickCount++

	if err := e.stepLocked(); err != nil {
		e.stepErrors.Add(1)
		observability.IncrementStepErrors()
		log.Printf("❌ Physics step failed at tick %d: %v", e.tickCount, err)
		e.recordLocked("step_error", stepErrorAgent(err), e.now())
		return
	}

	now := e.now()
	for id, a := range e.agents {
		tr, ok := e.world.Transform(id)
		if !ok {
			continue
		}
		a.Position = fromPhysics(tr.Position)
		a.Velocity = fromPhysics(tr.Velocity)
		a.LastUpdate = now
	}

	snap := e.snapshotLocked(now)
	e.latest.Store(snap)
	e.publishLocked(Notification{Topic: TopicUniverseUpdate, Tick: snap.Tick, Timestamp: now, State: snap})

	observability.RecordTick(time.Since(start))
	observability.UpdateAgentCount(len(e.agents))
}

// stepLocked advances the world by one fixed delta, converting a panic in
// the physics backend into a StepError.
func (e *Engine) stepLocked() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &physics.StepError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return e.world.Step(e.Delta())
}

func stepErrorAgent(err error) string {
	var se *physics.StepError
	if errors.As(err, &se) {
		return se.BodyID
	}
	return ""
}

// TickCount returns the number of ticks started.
func (e *Engine) TickCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickCount
}

// SkippedTicks returns the number of ticks dropped by the re-entrancy guard.
func (e *Engine) SkippedTicks() uint64 { return e.skipped.Load() }

// StepErrors returns the number of failed physics steps.
func (e *Engine) StepErrors() uint64 { return e.stepErrors.Load() }

// recordLocked appends to the recent events ring.
func (e *Engine) recordLocked(kind, agentID string, at time.Time) {
	e.recent.add(protocol.EventRecord{
		Kind:      kind,
		AgentID:   agentID,
		Tick:      e.tickCount,
		Timestamp: at,
	})
}

// publishLocked is called with the lock held so notifications leave in the
// same order as the mutations that caused them.
func (e *Engine) publishLocked(n Notification) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(n)
}

func toPhysics(v protocol.Vec3) physics.Vec3 {
	return physics.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func fromPhysics(v physics.Vec3) protocol.Vec3 {
	return protocol.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func finiteVec(v protocol.Vec3) bool {
	for _, f := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// inBounds reports whether p is finite and inside the world bounds.
func (e *Engine) inBounds(p protocol.Vec3) bool {
	b := e.cfg.Bounds
	return finiteVec(p) &&
		p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func clampVital(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(maxVital, v))
}

// sortedAgentsLocked copies every agent, ordered by id.
func (e *Engine) sortedAgentsLocked() []protocol.AgentState {
	out := make([]protocol.AgentState, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
