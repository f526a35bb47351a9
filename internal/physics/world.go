// Package physics is a small rigid-body approximation: unit-mass spheres
// falling under gravity onto a static ground plane, with sphere-sphere
// contacts. The engine only talks to it through the World interface.
package physics

import (
	"errors"
	"fmt"
	"math"
)

// World is the narrow surface the universe engine needs from a physics backend.
// Implementations are not safe for concurrent use; the caller serializes access.
type World interface {
	// Step advances the simulation by exactly dt seconds.
	Step(dt float64) error
	// AddBody creates a sphere body. It returns false if id already has a body.
	AddBody(id string, position, velocity Vec3) bool
	// RemoveBody destroys a body. It returns false if id has none.
	RemoveBody(id string) bool
	// ApplyImpulse queues an instantaneous impulse applied at the next Step.
	ApplyImpulse(id string, impulse Vec3) bool
	// SetPosition teleports a body without touching its velocity.
	SetPosition(id string, position Vec3) bool
	// Transform reports a body's position and linear velocity.
	Transform(id string) (Transform, bool)
	// BodyCount returns the number of dynamic bodies.
	BodyCount() int
}

// Transform is a body's kinematic state.
type Transform struct {
	Position Vec3
	Velocity Vec3
}

// Vec3 is a plain 3D vector.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64         { return math.Sqrt(v.Dot(v)) }
func (v Vec3) finite() bool         { return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z) }
func isFinite(f float64) bool       { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Config holds the world parameters.
type Config struct {
	Gravity     Vec3
	GroundY     float64
	Radius      float64 // sphere radius of every agent body
	Mass        float64
	Friction    float64
	Restitution float64
	// RestingSpeed is the normal impact speed below which a contact stops
	// bouncing. Zero selects twice the speed gravity adds in one 60 Hz step.
	RestingSpeed float64
	// CellSize is the broad-phase grid cell edge. Zero selects 2*Radius.
	CellSize float64
	// MaxSpeed caps body speed after impulses and gravity. Zero selects DefaultMaxSpeed.
	MaxSpeed float64
	// Bounds confines bodies after every step. A zero box leaves the world open.
	Bounds Box
}

// DefaultMaxSpeed is the speed cap used when Config.MaxSpeed is zero.
const DefaultMaxSpeed = 200.0

// Box is an axis-aligned region.
type Box struct {
	Min, Max Vec3
}

func (b Box) open() bool { return b == (Box{}) }

// Contains reports whether p lies inside b, faces included. An open box
// contains every finite point.
func (b Box) Contains(p Vec3) bool {
	if !p.finite() {
		return false
	}
	if b.open() {
		return true
	}
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// DefaultConfig returns Earth-like gravity, a ground plane at y=0 and
// half-meter unit-mass spheres.
func DefaultConfig() Config {
	return Config{
		Gravity:     Vec3{0, -9.82, 0},
		GroundY:     0,
		Radius:      0.5,
		Mass:        1,
		Friction:    0.4,
		Restitution: 0.3,
		MaxSpeed:    DefaultMaxSpeed,
	}
}

// ErrNonFinite marks a NaN or infinite quantity entering the simulation.
var ErrNonFinite = errors.New("non-finite value")

// StepError is returned when a simulation step cannot be completed.
type StepError struct {
	BodyID string
	Err    error
}

func (e *StepError) Error() string {
	if e.BodyID == "" {
		return fmt.Sprintf("physics step: %v", e.Err)
	}
	return fmt.Sprintf("physics step: body %s: %v", e.BodyID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
