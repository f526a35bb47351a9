package physics

import "math"

type body struct {
	id       string
	position Vec3
	velocity Vec3
	impulse  Vec3 // accumulated until the next Step
}

// SphereWorld is the default World: semi-implicit Euler integration, a static
// ground plane and sphere-sphere contacts found through a SpatialGrid.
type SphereWorld struct {
	cfg    Config
	bodies map[string]*body
	order  []*body // insertion order keeps stepping deterministic
	grid   *SpatialGrid
	prev   []Transform // state before the current step, for rollback
	steps  uint64
}

// NewSphereWorld creates an empty world.
func NewSphereWorld(cfg Config) *SphereWorld {
	if cfg.Mass <= 0 {
		cfg.Mass = 1
	}
	if cfg.Radius <= 0 {
		cfg.Radius = 0.5
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = 2 * cfg.Radius
	}
	if cfg.RestingSpeed <= 0 {
		cfg.RestingSpeed = 2 * math.Abs(cfg.Gravity.Y) / 60
	}
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = DefaultMaxSpeed
	}
	return &SphereWorld{
		cfg:    cfg,
		bodies: make(map[string]*body),
		grid:   NewSpatialGrid(cfg.CellSize),
	}
}

// Config returns the effective configuration.
func (w *SphereWorld) Config() Config { return w.cfg }

// Steps returns the number of completed steps.
func (w *SphereWorld) Steps() uint64 { return w.steps }

// AddBody refuses non-finite vectors and positions outside the bounds. The
// initial velocity is capped like any other.
func (w *SphereWorld) AddBody(id string, position, velocity Vec3) bool {
	if _, ok := w.bodies[id]; ok {
		return false
	}
	if !w.cfg.Bounds.Contains(position) || !velocity.finite() {
		return false
	}
	b := &body{id: id, position: position, velocity: limitSpeed(velocity, w.cfg.MaxSpeed)}
	w.bodies[id] = b
	w.order = append(w.order, b)
	return true
}

func (w *SphereWorld) RemoveBody(id string) bool {
	b, ok := w.bodies[id]
	if !ok {
		return false
	}
	delete(w.bodies, id)
	for i, o := range w.order {
		if o == b {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

func (w *SphereWorld) ApplyImpulse(id string, impulse Vec3) bool {
	b, ok := w.bodies[id]
	if !ok {
		return false
	}
	b.impulse = b.impulse.Add(impulse)
	return true
}

// SetPosition rejects non-finite positions and positions outside the bounds.
func (w *SphereWorld) SetPosition(id string, position Vec3) bool {
	b, ok := w.bodies[id]
	if !ok || !w.cfg.Bounds.Contains(position) {
		return false
	}
	b.position = position
	return true
}

func (w *SphereWorld) Transform(id string) (Transform, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return Transform{}, false
	}
	return Transform{Position: b.position, Velocity: b.velocity}, true
}

func (w *SphereWorld) BodyCount() int { return len(w.bodies) }

// Step advances every body by dt. Speeds are capped at MaxSpeed and bodies
// are confined to Bounds. If a queued impulse is not finite the step is
// abandoned before any body moves and the offending impulse is discarded. If
// any body ends the step non-finite, every body is restored to its state
// before the step, queued impulses are lost, and a *StepError names the body.
func (w *SphereWorld) Step(dt float64) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return &StepError{Err: ErrNonFinite}
	}
	for _, b := range w.order {
		if !b.impulse.finite() {
			b.impulse = Vec3{}
			return &StepError{BodyID: b.id, Err: ErrNonFinite}
		}
	}

	w.prev = w.prev[:0]
	for _, b := range w.order {
		w.prev = append(w.prev, Transform{Position: b.position, Velocity: b.velocity})
	}

	invMass := 1 / w.cfg.Mass
	for _, b := range w.order {
		b.velocity = b.velocity.Add(b.impulse.Scale(invMass))
		b.impulse = Vec3{}
		b.velocity = b.velocity.Add(w.cfg.Gravity.Scale(dt))
		b.velocity = limitSpeed(b.velocity, w.cfg.MaxSpeed)
		b.position = b.position.Add(b.velocity.Scale(dt))
	}

	w.resolveBodyContacts()
	for _, b := range w.order {
		w.resolveGround(b, dt)
		w.confine(b)
	}

	for _, b := range w.order {
		if !b.position.finite() || !b.velocity.finite() {
			w.rollback()
			return &StepError{BodyID: b.id, Err: ErrNonFinite}
		}
	}

	w.steps++
	return nil
}

func (w *SphereWorld) rollback() {
	for i, b := range w.order {
		b.position = w.prev[i].Position
		b.velocity = w.prev[i].Velocity
	}
}

// limitSpeed scales v down to limit. Hypot keeps the magnitude finite for
// huge finite components.
func limitSpeed(v Vec3, limit float64) Vec3 {
	speed := math.Hypot(math.Hypot(v.X, v.Y), v.Z)
	if !(speed > limit) || math.IsInf(speed, 0) {
		return v
	}
	return v.Scale(limit / speed)
}

// confine clamps a body into the bounds and stops its outward motion on
// every face it touches.
func (w *SphereWorld) confine(b *body) {
	box := w.cfg.Bounds
	if box.open() {
		return
	}
	confineAxis(&b.position.X, &b.velocity.X, box.Min.X, box.Max.X)
	confineAxis(&b.position.Y, &b.velocity.Y, box.Min.Y, box.Max.Y)
	confineAxis(&b.position.Z, &b.velocity.Z, box.Min.Z, box.Max.Z)
}

func confineAxis(p, v *float64, lo, hi float64) {
	switch {
	case *p < lo:
		*p = lo
		if *v < 0 {
			*v = 0
		}
	case *p > hi:
		*p = hi
		if *v > 0 {
			*v = 0
		}
	}
}

// resolveGround keeps a body on or above the plane and applies restitution
// and Coulomb friction for the contact impulse.
func (w *SphereWorld) resolveGround(b *body, dt float64) {
	floor := w.cfg.GroundY + w.cfg.Radius
	if b.position.Y > floor {
		return
	}
	b.position.Y = floor
	if b.velocity.Y >= 0 {
		return
	}

	impact := -b.velocity.Y
	var normalDV float64
	if impact < w.cfg.RestingSpeed {
		b.velocity.Y = 0
		normalDV = impact
	} else {
		b.velocity.Y = impact * w.cfg.Restitution
		normalDV = impact * (1 + w.cfg.Restitution)
	}

	tangential := math.Hypot(b.velocity.X, b.velocity.Z)
	if tangential == 0 {
		return
	}
	drop := w.cfg.Friction * normalDV
	if drop >= tangential {
		b.velocity.X, b.velocity.Z = 0, 0
		return
	}
	k := (tangential - drop) / tangential
	b.velocity.X *= k
	b.velocity.Z *= k
}

// resolveBodyContacts separates overlapping spheres and exchanges momentum
// along the contact normal.
func (w *SphereWorld) resolveBodyContacts() {
	if len(w.order) < 2 {
		return
	}
	w.grid.Clear()
	for i, b := range w.order {
		w.grid.Insert(uint32(i), b.position.X, b.position.Z)
	}

	minDist := 2 * w.cfg.Radius
	for i, a := range w.order {
		for _, j := range w.grid.QueryRadius(a.position.X, a.position.Z, minDist) {
			if int(j) <= i {
				continue
			}
			b := w.order[j]
			delta := b.position.Sub(a.position)
			dist := delta.Len()
			if dist >= minDist {
				continue
			}
			var n Vec3
			if dist == 0 {
				n = Vec3{1, 0, 0}
			} else {
				n = delta.Scale(1 / dist)
			}
			push := n.Scale((minDist - dist) / 2)
			a.position = a.position.Sub(push)
			b.position = b.position.Add(push)

			rel := b.velocity.Sub(a.velocity).Dot(n)
			if rel >= 0 {
				continue
			}
			// equal masses: each body takes half the exchanged impulse
			imp := -(1 + w.cfg.Restitution) * rel / 2
			a.velocity = a.velocity.Sub(n.Scale(imp))
			b.velocity = b.velocity.Add(n.Scale(imp))
		}
	}
}
