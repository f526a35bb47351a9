package universe

import (
	"time"

	"yellorn/internal/protocol"
)

// Environment returns the static world parameters carried in snapshots.
func (e *Engine) Environment() protocol.Environment {
	return protocol.Environment{
		Gravity: fromPhysics(e.cfg.Physics.Gravity),
		Bounds:  e.cfg.Bounds,
	}
}

// snapshotLocked builds a fresh snapshot. The result shares nothing with
// engine state.
func (e *Engine) snapshotLocked(now time.Time) *protocol.UniverseState {
	return &protocol.UniverseState{
		ShardID:     e.cfg.ShardID,
		Tick:        e.tickCount,
		Timestamp:   now,
		Agents:      e.sortedAgentsLocked(),
		Environment: e.Environment(),
		Events:      e.recent.list(),
	}
}

// Snapshot returns the snapshot published by the latest completed tick. Before
// the first tick it builds one from current state. Callers must treat the
// returned slices as read-only.
func (e *Engine) Snapshot() protocol.UniverseState {
	if s := e.latest.Load(); s != nil {
		return *s
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.snapshotLocked(e.now())
}

// CurrentSnapshot builds a snapshot from the registry as it is right now,
// including writes made since the last tick.
func (e *Engine) CurrentSnapshot() protocol.UniverseState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.snapshotLocked(e.now())
}

// HealthInfo summarizes engine liveness for health endpoints.
type HealthInfo struct {
	ShardID      string    `json:"shardId"`
	Running      bool      `json:"running"`
	Tick         uint64    `json:"tick"`
	Agents       int       `json:"agents"`
	ActiveAgents int       `json:"activeAgents"`
	LastUpdate   time.Time `json:"lastUpdate"`
	SkippedTicks uint64    `json:"skippedTicks"`
	StepErrors   uint64    `json:"stepErrors"`
}

// Health reports engine liveness. LastUpdate is the timestamp of the latest
// published snapshot, zero before the first tick.
func (e *Engine) Health() HealthInfo {
	e.mu.Lock()
	info := HealthInfo{
		ShardID: e.cfg.ShardID,
		Running: e.running,
		Tick:    e.tickCount,
		Agents:  len(e.agents),
	}
	for _, a := range e.agents {
		if a.IsActive {
			info.ActiveAgents++
		}
	}
	e.mu.Unlock()

	if s := e.latest.Load(); s != nil {
		info.LastUpdate = s.Timestamp
	}
	info.SkippedTicks = e.SkippedTicks()
	info.StepErrors = e.StepErrors()
	return info
}
