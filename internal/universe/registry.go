package universe

import (
	"errors"
	"log"

	"yellorn/internal/protocol"
)

// Reasons CreateAgent and MoveAgent refuse a request.
var (
	ErrInvalidAgent  = errors.New("invalid agent id")
	ErrNonFinite     = errors.New("non-finite vector")
	ErrOutOfBounds   = errors.New("position outside world bounds")
	ErrAgentExists   = errors.New("agent already exists")
	ErrAgentLimit    = errors.New("agent limit reached")
	ErrAgentNotFound = errors.New("agent not found")
)

// AddAgent registers an agent and creates its physics body. It returns false
// without touching anything when CreateAgent would return an error.
func (e *Engine) AddAgent(id string, init AgentInit) bool {
	return e.CreateAgent(id, init) == nil
}

// CreateAgent is AddAgent with the refusal reason: an empty id, non-finite
// initial vectors, a position outside the world bounds, a duplicate id or
// the agent cap.
func (e *Engine) CreateAgent(id string, init AgentInit) error {
	if id == "" {
		return ErrInvalidAgent
	}

	a := protocol.AgentState{
		ID:       id,
		Position: DefaultSpawn,
		IsActive: true,
		Health:   defaultVital,
		Energy:   defaultVital,
	}
	if init.Position != nil {
		a.Position = *init.Position
	}
	if init.Rotation != nil {
		a.Rotation = *init.Rotation
	}
	if init.Velocity != nil {
		a.Velocity = *init.Velocity
	}
	if init.Health != nil {
		a.Health = clampVital(*init.Health)
	}
	if init.Energy != nil {
		a.Energy = clampVital(*init.Energy)
	}
	if !finiteVec(a.Position) || !finiteVec(a.Rotation) || !finiteVec(a.Velocity) {
		return ErrNonFinite
	}
	if !e.inBounds(a.Position) {
		return ErrOutOfBounds
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.agents[id]; exists {
		return ErrAgentExists
	}
	if e.cfg.MaxAgents > 0 && len(e.agents) >= e.cfg.MaxAgents {
		log.Printf("⚠️ Agent cap %d reached, refusing %s", e.cfg.MaxAgents, id)
		return ErrAgentLimit
	}
	if !e.world.AddBody(id, toPhysics(a.Position), toPhysics(a.Velocity)) {
		return ErrAgentExists
	}
	if tr, ok := e.world.Transform(id); ok {
		a.Velocity = fromPhysics(tr.Velocity)
	}

	now := e.now()
	a.LastUpdate = now
	e.agents[id] = &a

	e.recordLocked(string(TopicAgentAdded), id, now)
	copied := a
	e.publishLocked(Notification{Topic: TopicAgentAdded, Tick: e.tickCount, Timestamp: now, AgentID: id, Agent: &copied})
	return nil
}

// RemoveAgent deletes an agent and destroys its body. It returns false if
// the agent is absent.
func (e *Engine) RemoveAgent(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.agents[id]; !ok {
		return false
	}
	delete(e.agents, id)
	e.world.RemoveBody(id)

	now := e.now()
	e.recordLocked(string(TopicAgentRemoved), id, now)
	e.publishLocked(Notification{Topic: TopicAgentRemoved, Tick: e.tickCount, Timestamp: now, AgentID: id})
	return true
}

// UpdateAgentPosition teleports an agent. The new position is visible to
// queries immediately and the body is moved before the next tick; velocity
// is left alone. A nil rotation keeps the current one. It returns false when
// MoveAgent would return an error.
func (e *Engine) UpdateAgentPosition(id string, position protocol.Vec3, rotation *protocol.Vec3) bool {
	return e.MoveAgent(id, position, rotation) == nil
}

// MoveAgent is UpdateAgentPosition with the refusal reason. Positions
// outside the world bounds are refused, not clamped.
func (e *Engine) MoveAgent(id string, position protocol.Vec3, rotation *protocol.Vec3) error {
	if !finiteVec(position) || (rotation != nil && !finiteVec(*rotation)) {
		return ErrNonFinite
	}
	if !e.inBounds(position) {
		return ErrOutOfBounds
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if !e.world.SetPosition(id, toPhysics(position)) {
		return ErrOutOfBounds
	}
	a.Position = position
	if rotation != nil {
		a.Rotation = *rotation
	}
	now := e.now()
	a.LastUpdate = now

	copied := *a
	e.publishLocked(Notification{Topic: TopicAgentMoved, Tick: e.tickCount, Timestamp: now, AgentID: id, Agent: &copied})
	return nil
}

// ApplyForceToAgent queues an impulse on the agent's body. Velocity changes
// at the next tick, not now. It returns false if the agent has no body.
func (e *Engine) ApplyForceToAgent(id string, force protocol.Vec3) bool {
	if !finiteVec(force) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.world.ApplyImpulse(id, toPhysics(force))
}

// UpdateAgentVitals sets health and/or energy, clamped to [0,100]. Nil
// arguments are left unchanged.
func (e *Engine) UpdateAgentVitals(id string, health, energy *float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.agents[id]
	if !ok {
		return false
	}
	if health != nil {
		a.Health = clampVital(*health)
	}
	if energy != nil {
		a.Energy = clampVital(*energy)
	}
	a.LastUpdate = e.now()
	return true
}

// SetAgentActive toggles whether the agent counts as active.
func (e *Engine) SetAgentActive(id string, active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.agents[id]
	if !ok {
		return false
	}
	a.IsActive = active
	a.LastUpdate = e.now()
	return true
}

// GetAgent returns a copy of one agent's state.
func (e *Engine) GetAgent(id string) (protocol.AgentState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.agents[id]
	if !ok {
		return protocol.AgentState{}, false
	}
	return *a, true
}

// GetAllAgents returns copies of every agent, ordered by id.
func (e *Engine) GetAllAgents() []protocol.AgentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedAgentsLocked()
}

// AgentCount returns the number of registered agents.
func (e *Engine) AgentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.agents)
}

// ActiveAgentCount returns the number of agents with IsActive set.
func (e *Engine) ActiveAgentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, a := range e.agents {
		if a.IsActive {
			n++
		}
	}
	return n
}
