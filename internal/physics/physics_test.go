package physics

import (
	"errors"
	"math"
	"testing"
	"time"
)

const testDT = 1.0 / 60.0

// TestSphereFallsAndSettles drops a body from y=1 and checks it falls
// monotonically until first contact, never sinks below the plane and
// comes to rest within one radius of the ground.
func TestSphereFallsAndSettles(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	if !w.AddBody("a1", Vec3{0, 1, 0}, Vec3{}) {
		t.Fatal("AddBody failed")
	}

	r := w.Config().Radius
	floor := w.Config().GroundY + r
	prevY := 1.0
	touched := false

	for i := 0; i < 600; i++ {
		if err := w.Step(testDT); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		tr, _ := w.Transform("a1")
		y := tr.Position.Y

		if y < floor-1e-9 {
			t.Fatalf("step %d: body penetrated ground: y=%f", i, y)
		}
		if !touched {
			if y >= prevY {
				t.Fatalf("step %d: y did not decrease before contact: %f -> %f", i, prevY, y)
			}
			if y <= floor {
				touched = true
			}
		}
		prevY = y
	}

	if !touched {
		t.Fatal("body never reached the ground")
	}
	tr, _ := w.Transform("a1")
	if tr.Position.Y < floor || tr.Position.Y > floor+r {
		t.Errorf("expected body to settle within one radius of the ground, y=%f", tr.Position.Y)
	}
	if tr.Velocity.Y != 0 {
		t.Errorf("expected resting body, vy=%f", tr.Velocity.Y)
	}
}

// TestImpulseAppliesAtNextStep verifies impulses are queued, not applied immediately
func TestImpulseAppliesAtNextStep(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	w.AddBody("a1", Vec3{0, 5, 0}, Vec3{})

	if !w.ApplyImpulse("a1", Vec3{2, 0, 0}) {
		t.Fatal("ApplyImpulse returned false for existing body")
	}
	tr, _ := w.Transform("a1")
	if tr.Velocity.X != 0 {
		t.Fatalf("impulse applied before step: vx=%f", tr.Velocity.X)
	}

	if err := w.Step(testDT); err != nil {
		t.Fatal(err)
	}
	tr, _ = w.Transform("a1")
	if math.Abs(tr.Velocity.X-2) > 1e-9 {
		t.Errorf("expected vx=2 after step, got %f", tr.Velocity.X)
	}

	// consumed once
	w.Step(testDT)
	tr, _ = w.Transform("a1")
	if math.Abs(tr.Velocity.X-2) > 1e-9 {
		t.Errorf("impulse applied twice: vx=%f", tr.Velocity.X)
	}

	if w.ApplyImpulse("ghost", Vec3{1, 0, 0}) {
		t.Error("ApplyImpulse should fail for unknown body")
	}
}

func TestNonFiniteImpulseReturnsStepError(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	w.AddBody("a1", Vec3{0, 5, 0}, Vec3{})
	w.ApplyImpulse("a1", Vec3{math.NaN(), 0, 0})

	err := w.Step(testDT)
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if se.BodyID != "a1" || !errors.Is(err, ErrNonFinite) {
		t.Errorf("unexpected error: %v", err)
	}

	tr, _ := w.Transform("a1")
	if tr.Position.Y != 5 {
		t.Errorf("failed step must not move bodies, y=%f", tr.Position.Y)
	}

	// the bad impulse is discarded; the world keeps stepping
	if err := w.Step(testDT); err != nil {
		t.Fatalf("expected recovery on next step, got %v", err)
	}
	if w.Steps() != 1 {
		t.Errorf("expected 1 completed step, got %d", w.Steps())
	}
}

func TestStepRejectsBadDelta(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	for _, dt := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := w.Step(dt); err == nil {
			t.Errorf("Step(%v) should fail", dt)
		}
	}
}

func TestBodyLifecycle(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())

	if !w.AddBody("a1", Vec3{0, 1, 0}, Vec3{}) {
		t.Fatal("first AddBody should succeed")
	}
	if w.AddBody("a1", Vec3{9, 9, 9}, Vec3{}) {
		t.Fatal("duplicate AddBody should fail")
	}
	tr, _ := w.Transform("a1")
	if tr.Position != (Vec3{0, 1, 0}) {
		t.Errorf("duplicate AddBody changed body: %+v", tr.Position)
	}
	if w.BodyCount() != 1 {
		t.Errorf("expected 1 body, got %d", w.BodyCount())
	}

	if !w.SetPosition("a1", Vec3{3, 4, 5}) {
		t.Fatal("SetPosition failed")
	}
	if w.SetPosition("a1", Vec3{math.Inf(-1), 0, 0}) {
		t.Error("SetPosition should reject non-finite position")
	}
	tr, _ = w.Transform("a1")
	if tr.Position != (Vec3{3, 4, 5}) {
		t.Errorf("unexpected position %+v", tr.Position)
	}

	if !w.RemoveBody("a1") {
		t.Fatal("RemoveBody failed")
	}
	if w.RemoveBody("a1") {
		t.Error("second RemoveBody should fail")
	}
	if _, ok := w.Transform("a1"); ok {
		t.Error("Transform should fail after removal")
	}
}

func TestOverlappingSpheresSeparate(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	w.AddBody("a", Vec3{0, 5, 0}, Vec3{})
	w.AddBody("b", Vec3{0.5, 5, 0}, Vec3{})

	if err := w.Step(testDT); err != nil {
		t.Fatal(err)
	}
	a, _ := w.Transform("a")
	b, _ := w.Transform("b")
	if d := b.Position.Sub(a.Position).Len(); d < 2*w.Config().Radius-1e-9 {
		t.Errorf("spheres still overlap: distance %f", d)
	}
}

func TestHeadOnCollisionReversesApproach(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	w.AddBody("a", Vec3{-0.45, 5, 0}, Vec3{1, 0, 0})
	w.AddBody("b", Vec3{0.45, 5, 0}, Vec3{-1, 0, 0})

	w.Step(testDT)
	a, _ := w.Transform("a")
	b, _ := w.Transform("b")
	if a.Velocity.X >= 0 || b.Velocity.X <= 0 {
		t.Errorf("expected bodies to separate, va=%f vb=%f", a.Velocity.X, b.Velocity.X)
	}
	if math.Abs(a.Velocity.X+b.Velocity.X) > 1e-9 {
		t.Errorf("momentum not conserved: %f", a.Velocity.X+b.Velocity.X)
	}
}

func TestGroundFrictionStopsSliding(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	w.AddBody("a1", Vec3{0, 0.5, 0}, Vec3{3, 0, 0})

	w.Step(testDT)
	tr, _ := w.Transform("a1")
	if tr.Velocity.X >= 3 {
		t.Fatalf("friction had no effect: vx=%f", tr.Velocity.X)
	}

	for i := 0; i < 120; i++ {
		w.Step(testDT)
	}
	tr, _ = w.Transform("a1")
	if tr.Velocity.X != 0 {
		t.Errorf("expected body to stop sliding, vx=%f", tr.Velocity.X)
	}
}

func TestSpatialGridQueryRadius(t *testing.T) {
	g := NewSpatialGrid(1)
	g.Insert(1, 0.2, 0.2)
	g.Insert(2, 0.9, 0.1)
	g.Insert(3, 10, 10)

	found := map[uint32]bool{}
	for _, id := range g.QueryRadius(0.5, 0.5, 0.6) {
		found[id] = true
	}
	if !found[1] || !found[2] {
		t.Errorf("expected entities 1 and 2, got %v", found)
	}
	if found[3] {
		t.Error("far entity returned by query")
	}

	stats := g.Stats()
	if stats.TotalEntities != 3 || stats.NonEmptyCells != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	g.Clear()
	stats = g.Stats()
	if stats.TotalEntities != 0 {
		t.Errorf("expected empty grid after Clear, got %+v", stats)
	}
	if stats.AllocatedCells != 2 {
		t.Errorf("Clear should keep allocated cells, got %d", stats.AllocatedCells)
	}
}

// TestFarCoordinatesDoNotStallStep steps an open world with two bodies near
// the int32 cell edge, and queries the grid with extreme arguments.
func TestFarCoordinatesDoNotStallStep(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	w.AddBody("a1", Vec3{2147483646.5, 1, 0}, Vec3{})
	w.AddBody("a2", Vec3{2147483646.5, 1, 0.5}, Vec3{})

	done := make(chan error, 1)
	go func() {
		err := w.Step(testDT)
		g := NewSpatialGrid(1)
		g.Insert(1, 1e300, -1e300)
		g.QueryRadius(1e300, -1e300, 1)
		g.QueryRadius(0, 0, 1e300)
		g.QueryRadius(math.MaxInt32, math.MaxInt32, 2)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("step: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("step did not complete")
	}
}

func TestSpatialGridWideQueryFindsEverything(t *testing.T) {
	g := NewSpatialGrid(1)
	g.Insert(3, 5e12, 0)
	g.Insert(1, -5e12, 0)
	g.Insert(2, 0, 0)

	got := g.QueryRadius(0, 0, 1e13)
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("expected [1 2 3], got %v", got)
	}
}

func TestSpeedIsCapped(t *testing.T) {
	w := NewSphereWorld(DefaultConfig())
	w.AddBody("a1", Vec3{0, 5, 0}, Vec3{})
	w.ApplyImpulse("a1", Vec3{1e308, 0, 0})

	if err := w.Step(testDT); err != nil {
		t.Fatalf("step: %v", err)
	}
	tr, _ := w.Transform("a1")
	if speed := tr.Velocity.Len(); speed > DefaultMaxSpeed+1e-9 {
		t.Errorf("speed %f exceeds cap %f", speed, DefaultMaxSpeed)
	}
	if !tr.Position.finite() {
		t.Errorf("position not finite: %+v", tr.Position)
	}
}

func TestBoundsConfineBodies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bounds = Box{Min: Vec3{-10, -10, -10}, Max: Vec3{10, 10, 10}}
	w := NewSphereWorld(cfg)

	if w.AddBody("out", Vec3{11, 1, 0}, Vec3{}) {
		t.Error("body outside the bounds was added")
	}
	w.AddBody("a1", Vec3{9.9, 5, 0}, Vec3{50, 0, 0})
	if w.SetPosition("a1", Vec3{0, 0, 100}) {
		t.Error("SetPosition outside the bounds succeeded")
	}

	for i := 0; i < 10; i++ {
		if err := w.Step(testDT); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	tr, _ := w.Transform("a1")
	if tr.Position.X != 10 {
		t.Errorf("expected body pinned at x=10, got %+v", tr.Position)
	}
	if tr.Velocity.X > 0 {
		t.Errorf("outward velocity kept at the face: %+v", tr.Velocity)
	}
}

// TestNonFiniteStepRollsBack overflows a very light body and checks the
// whole world is restored.
func TestNonFiniteStepRollsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mass = 1e-300
	w := NewSphereWorld(cfg)
	w.AddBody("a1", Vec3{0, 5, 0}, Vec3{})
	w.AddBody("a2", Vec3{20, 5, 0}, Vec3{})
	w.ApplyImpulse("a1", Vec3{1e10, 0, 0})

	err := w.Step(testDT)
	var se *StepError
	if !errors.As(err, &se) || se.BodyID != "a1" {
		t.Fatalf("expected StepError for a1, got %v", err)
	}
	for _, id := range []string{"a1", "a2"} {
		tr, _ := w.Transform(id)
		if tr.Position.Y != 5 || tr.Velocity != (Vec3{}) {
			t.Errorf("%s not restored: %+v", id, tr)
		}
	}
	if w.Steps() != 0 {
		t.Errorf("failed step counted: %d", w.Steps())
	}
	if err := w.Step(testDT); err != nil {
		t.Errorf("world did not recover: %v", err)
	}
}
