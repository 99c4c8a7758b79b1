package constraint

import (
	"testing"

	"codeberg.org/river/river/f32"
	"codeberg.org/river/river/internal/wire"
)

type stubClient struct{ pid int }

func (c stubClient) Pid() int { return c.pid }

type stubSurface struct{ client wire.Client }

func (s stubSurface) Client() wire.Client { return s.client }
func (s stubSurface) InputRegionContains(sx, sy float64) bool { return true }

type stubNode struct {
	enabled bool
	pos     f32.Point
}

func (n *stubNode) Enabled() bool         { return n.enabled }
func (n *stubNode) LayoutPos() f32.Point  { return n.pos }

type rectRegion struct{ w, h float64 }

func (r rectRegion) Contains(sx, sy float64) bool {
	return sx >= 0 && sx < r.w && sy >= 0 && sy < r.h
}

// fakeCursor is a minimal CursorHost: position is settable directly, Warp
// always succeeds and records the last warp target, and motion count
// tracks how many times the client would have received a motion event
// had Cursor delivered one (used to assert the "no motion at all" rule
// for locked constraints at the Cursor layer, not here).
type fakeCursor struct {
	lx, ly  float64
	warped  []f32.Point
	opBusy  bool
}

func (c *fakeCursor) Position() (float64, float64) { return c.lx, c.ly }
func (c *fakeCursor) Warp(lx, ly float64) bool {
	c.lx, c.ly = lx, ly
	c.warped = append(c.warped, f32.Point{X: float32(lx), Y: float32(ly)})
	return true
}
func (c *fakeCursor) OpInProgress() bool { return c.opBusy }

type fakeFocus struct{ focused wire.Surface }

func (f *fakeFocus) KeyboardFocusIsSurface(s wire.Surface) bool { return f.focused == s }

type fakeScene struct{ result wire.HitResult }

func (s fakeScene) HitTest(lx, ly float64) wire.HitResult { return s.result }

func TestMaybeActivateRequiresAllConditions(t *testing.T) {
	surf := stubSurface{}
	node := &stubNode{enabled: true, pos: f32.Point{}}
	cur := &fakeCursor{lx: 5, ly: 5}
	focus := &fakeFocus{} // not focused on surf
	scene := fakeScene{result: wire.HitResult{Node: node, Surface: surf, SX: 5, SY: 5}}
	region := rectRegion{w: 100, h: 100}

	c := New(KindLocked, surf, region, scene, cur, nil, nil)
	if c.maybeActivate(focus) {
		t.Fatalf("must not activate without keyboard focus")
	}

	focus.focused = surf
	if !c.maybeActivate(focus) {
		t.Fatalf("should activate once focus, hit-test, and region all agree")
	}
	if !c.Active() {
		t.Fatalf("constraint should be active")
	}
}

func TestLockedConstraintActiveMeansNoMotionIsTheCursorLayersJob(t *testing.T) {
	// This package only proves activation/deactivation and confine math;
	// "no motion events while locked" is an invariant of how Cursor
	// consults Active()/Kind() before delivering motion (see internal/cursor).
	surf := stubSurface{}
	node := &stubNode{enabled: true}
	cur := &fakeCursor{}
	focus := &fakeFocus{focused: surf}
	scene := fakeScene{result: wire.HitResult{Node: node, Surface: surf, SX: 0, SY: 0}}
	c := New(KindLocked, surf, rectRegion{w: 10, h: 10}, scene, cur, nil, nil)
	c.maybeActivate(focus)
	if !c.Active() || c.Kind() != KindLocked {
		t.Fatalf("expected an active locked constraint")
	}
}

// TestConfineClampsWithinRegion is property P4 for the confined case.
func TestConfineClampsWithinRegion(t *testing.T) {
	surf := stubSurface{}
	node := &stubNode{enabled: true}
	cur := &fakeCursor{}
	focus := &fakeFocus{focused: surf}
	scene := fakeScene{result: wire.HitResult{Node: node, Surface: surf, SX: 5, SY: 5}}
	c := New(KindConfined, surf, rectRegion{w: 10, h: 10}, scene, cur, nil, nil)
	c.maybeActivate(focus)

	dx, dy := 20.0, 0.0
	if !c.Confine(&dx, &dy) {
		t.Fatalf("confine should apply to the active confined constraint")
	}
	// Resulting surface-local point must lie within [0,10)x[0,10).
	if c.sx < 0 || c.sx >= 10 {
		t.Fatalf("confine allowed sx to leave the region: %v", c.sx)
	}
}

func TestDeactivateWarpsToHint(t *testing.T) {
	surf := stubSurface{}
	node := &stubNode{enabled: true, pos: f32.Point{X: 100, Y: 200}}
	cur := &fakeCursor{}
	focus := &fakeFocus{focused: surf}
	scene := fakeScene{result: wire.HitResult{Node: node, Surface: surf, SX: 5, SY: 5}}
	var deactivated bool
	c := New(KindLocked, surf, rectRegion{w: 10, h: 10}, scene, cur, nil, func() { deactivated = true })
	c.maybeActivate(focus)
	c.SetHint(f32.Point{X: 1, Y: 2})
	c.deactivate()

	if !deactivated {
		t.Fatalf("onDeactivated should fire")
	}
	if len(cur.warped) == 0 {
		t.Fatalf("expected a warp to the cursor hint")
	}
	last := cur.warped[len(cur.warped)-1]
	if last.X != 101 || last.Y != 202 {
		t.Fatalf("want warp to node+hint (101,202), got %v", last)
	}
}

func TestManagerTracksSingleFocusedConstraint(t *testing.T) {
	surfA := stubSurface{client: stubClient{pid: 1}}
	surfB := stubSurface{client: stubClient{pid: 2}}
	cur := &fakeCursor{}
	focus := &fakeFocus{}
	m := NewManager(cur, focus)

	nodeA := &stubNode{enabled: true}
	sceneA := fakeScene{result: wire.HitResult{Node: nodeA, Surface: surfA, SX: 1, SY: 1}}
	cA := m.Create(KindLocked, surfA, rectRegion{w: 10, h: 10}, sceneA, nil, nil)

	nodeB := &stubNode{enabled: true}
	sceneB := fakeScene{result: wire.HitResult{Node: nodeB, Surface: surfB, SX: 1, SY: 1}}
	cB := m.Create(KindLocked, surfB, rectRegion{w: 10, h: 10}, sceneB, nil, nil)

	focus.focused = surfA
	m.OnKeyboardFocusChanged(surfA)
	if _, ok := m.Active(); !ok {
		t.Fatalf("constraint A should activate once focused")
	}

	focus.focused = surfB
	m.OnKeyboardFocusChanged(surfB)
	if cA.Active() {
		t.Fatalf("switching focus away must deactivate the old constraint")
	}
	if !cB.Active() {
		t.Fatalf("constraint B should now be active")
	}
}
