package cursor

import (
	"testing"

	"codeberg.org/river/river/f32"
	"codeberg.org/river/river/internal/constraint"
	"codeberg.org/river/river/internal/wire"
)

type stubClient struct{ pid int }

func (c stubClient) Pid() int { return c.pid }

type stubSurface struct {
	name   string
	client wire.Client
}

func (s stubSurface) Client() wire.Client                     { return s.client }
func (s stubSurface) InputRegionContains(sx, sy float64) bool { return true }

type stubNode struct {
	enabled bool
	pos     f32.Point
}

func (n *stubNode) Enabled() bool        { return n.enabled }
func (n *stubNode) LayoutPos() f32.Point { return n.pos }

// fakeScene is a scripted single-hit scene: every query returns hit when
// ok is set, and a miss (empty HitResult) otherwise.
type fakeScene struct {
	hit wire.HitResult
	ok  bool
}

func (s *fakeScene) HitTest(lx, ly float64) wire.HitResult {
	if s.ok {
		return s.hit
	}
	return wire.HitResult{}
}

type testBinding struct {
	presses, releases int
}

func (b *testBinding) Pressed()  { b.presses++ }
func (b *testBinding) Released() { b.releases++ }

type motionEvent struct {
	surface wire.Surface
	sx, sy  float64
}

type buttonEvent struct {
	surface wire.Surface
	button  uint32
	pressed bool
}

// fakeHost is a fully-controllable Host fake recording every delivery.
type fakeHost struct {
	motions []motionEvent
	buttons []buttonEvent
	enters  []wire.Surface
	leaves  []wire.Surface

	relatives int
	gestures  []GestureEvent

	bindings map[uint32]wire.Binding

	interactions []wire.HitResult
	dirty        int

	opUpdates  []f32.Point
	opReleases int

	dragIconUpdates int

	touchDowns  []delivery3
	touchMoves  []delivery3
	touchUps    []uint32
	touchCancel int
}

type delivery3 struct {
	id     uint32
	sx, sy float64
}

func newFakeHost() *fakeHost {
	return &fakeHost{bindings: make(map[uint32]wire.Binding)}
}

func (h *fakeHost) DeliverMotion(s wire.Surface, sx, sy float64) {
	h.motions = append(h.motions, motionEvent{s, sx, sy})
}
func (h *fakeHost) DeliverButton(s wire.Surface, button uint32, pressed bool) {
	h.buttons = append(h.buttons, buttonEvent{s, button, pressed})
}
func (h *fakeHost) DeliverAxis(s wire.Surface, horiz, vert float64) {}
func (h *fakeHost) DeliverFrame(s wire.Surface)                    {}

func (h *fakeHost) DeliverTouchDown(s wire.Surface, id uint32, sx, sy float64) {
	h.touchDowns = append(h.touchDowns, delivery3{id, sx, sy})
}
func (h *fakeHost) DeliverTouchMotion(s wire.Surface, id uint32, sx, sy float64) {
	h.touchMoves = append(h.touchMoves, delivery3{id, sx, sy})
}
func (h *fakeHost) DeliverTouchUp(id uint32) { h.touchUps = append(h.touchUps, id) }
func (h *fakeHost) DeliverTouchCancel()      { h.touchCancel++ }

func (h *fakeHost) SetPointerEnter(s wire.Surface, sx, sy float64) { h.enters = append(h.enters, s) }
func (h *fakeHost) SetPointerLeave(s wire.Surface)                 { h.leaves = append(h.leaves, s) }

func (h *fakeHost) ForwardRelative(dx, dy, dxUnaccel, dyUnaccel float64) { h.relatives++ }
func (h *fakeHost) ForwardGesture(e GestureEvent)                       { h.gestures = append(h.gestures, e) }

func (h *fakeHost) MatchButtonBinding(button uint32) (wire.Binding, bool) {
	b, ok := h.bindings[button]
	return b, ok
}
func (h *fakeHost) RecordInteraction(hit wire.HitResult) {
	h.interactions = append(h.interactions, hit)
}
func (h *fakeHost) MarkWindowingDirty() { h.dirty++ }

type fakeWM struct {
	host *fakeHost
}

func (w *fakeWM) MarkDirty() { w.host.dirty++ }
func (w *fakeWM) OpUpdate(dx, dy int32) {
	w.host.opUpdates = append(w.host.opUpdates, f32.Point{X: float32(dx), Y: float32(dy)})
}
func (w *fakeWM) OpRelease() { w.host.opReleases++ }

func (h *fakeHost) WM() wire.WindowManager { return &fakeWM{host: h} }
func (h *fakeHost) UpdateDragIcons(pos f32.Point) { h.dragIconUpdates++ }

func newCursorWithHit(h *fakeHost, surf wire.Surface, node wire.Node, sx, sy float64) (*Cursor, *fakeScene) {
	scene := &fakeScene{ok: true, hit: wire.HitResult{Node: node, Surface: surf, SX: sx, SY: sy, Role: wire.RoleWindow}}
	c := New(h, scene, nil)
	return c, scene
}

// Scenario 1: press-on-surface then release (spec.md §8 scenario 1).
func TestScenarioPressOnSurfaceThenRelease(t *testing.T) {
	h := newFakeHost()
	surf := stubSurface{name: "S"}
	node := &stubNode{enabled: true, pos: f32.Point{}}
	c, _ := newCursorWithHit(h, surf, node, 100, 100)
	c.Warp(100, 100)

	c.ProcessButton(0x110 /* BTN_LEFT */, true)
	if c.Mode() != ModeDown {
		t.Fatalf("want mode down after press-on-surface, got %v", c.Mode())
	}
	last := h.buttons[len(h.buttons)-1]
	if last.surface != surf || !last.pressed {
		t.Fatalf("want a press delivered to S, got %+v", last)
	}

	c.ProcessMotionRelative(5, -3, 5, -3)
	if c.Mode() != ModeDown {
		t.Fatalf("mode must remain down mid-drag")
	}
	m := h.motions[len(h.motions)-1]
	if m.surface != surf || m.sx != 105 || m.sy != 97 {
		t.Fatalf("want motion at (105,97) in surface-local coords, got %+v", m)
	}

	c.ProcessButton(0x110, false)
	if c.Mode() != ModePassthrough {
		t.Fatalf("want mode passthrough after release, got %v", c.Mode())
	}
	rel := h.buttons[len(h.buttons)-1]
	if rel.pressed {
		t.Fatalf("want a release delivered last")
	}
}

// Scenario 2: bound press (spec.md §8 scenario 2).
func TestScenarioBoundPress(t *testing.T) {
	h := newFakeHost()
	b := &testBinding{}
	h.bindings[0x112] = b // BTN_MIDDLE
	surf := stubSurface{name: "S"}
	node := &stubNode{enabled: true}
	c, _ := newCursorWithHit(h, surf, node, 1, 1)

	c.ProcessButton(0x112, true)
	if b.presses != 1 {
		t.Fatalf("want binding pressed once")
	}
	if c.Mode() != ModeIgnore {
		t.Fatalf("want mode ignore after bound press, got %v", c.Mode())
	}
	if c.PointerFocus() != nil {
		t.Fatalf("want pointer focus cleared")
	}

	c.ProcessButton(0x112, false)
	if b.releases != 1 {
		t.Fatalf("want binding released once")
	}
	if c.Mode() != ModePassthrough {
		t.Fatalf("want mode passthrough after release, got %v", c.Mode())
	}
	if len(h.buttons) != 0 {
		t.Fatalf("no button event should ever reach a client, got %d", len(h.buttons))
	}
}

// Scenario 3 / property P4: a locked constraint blocks motion delivery and
// leaves the cursor's layout position unchanged.
func TestScenarioLockedConstraintIgnoresMotion(t *testing.T) {
	h := newFakeHost()
	surf := stubSurface{name: "S"}
	node := &stubNode{enabled: true}
	c, scene := newCursorWithHit(h, surf, node, 50, 50)
	c.Warp(50, 50)

	focus := lockedFocus{surf}
	mgr := constraint.NewManager(c, focus)
	region := lockedRegion{}
	mgr.Create(constraint.KindLocked, surf, region, scene, nil, nil)
	c.cons = mgr

	before := len(h.motions)
	beforeX, beforeY := c.Position()
	c.ProcessMotionRelative(10, 10, 10, 10)

	if len(h.motions) != before {
		t.Fatalf("locked constraint must suppress motion delivery, got %d new motions", len(h.motions)-before)
	}
	afterX, afterY := c.Position()
	if afterX != beforeX || afterY != beforeY {
		t.Fatalf("cursor layout position must not change while locked: before=(%v,%v) after=(%v,%v)", beforeX, beforeY, afterX, afterY)
	}
}

type lockedFocus struct{ s wire.Surface }

func (f lockedFocus) KeyboardFocusIsSurface(s wire.Surface) bool { return f.s == s }

type lockedRegion struct{}

func (lockedRegion) Contains(sx, sy float64) bool { return true }

// TestPropertyModeSafety is property P3: pressed map emptiness matches
// {passthrough, op}, and mode down always has exactly one recorded target.
func TestPropertyModeSafety(t *testing.T) {
	h := newFakeHost()
	surf := stubSurface{name: "S"}
	node := &stubNode{enabled: true}
	c, _ := newCursorWithHit(h, surf, node, 1, 1)

	if c.Mode() != ModePassthrough || len(c.pressed) != 0 {
		t.Fatalf("initial state must be passthrough with empty pressed set")
	}

	c.ProcessButton(1, true)
	if c.Mode() != ModeDown {
		t.Fatalf("want down after press-on-surface")
	}
	if c.downSurface != surf {
		t.Fatalf("down mode must record exactly one press-receiving surface")
	}
	if len(c.pressed) == 0 {
		t.Fatalf("down mode must have a non-empty pressed set")
	}

	c.ProcessButton(1, false)
	if c.Mode() != ModePassthrough || len(c.pressed) != 0 {
		t.Fatalf("releasing the last button must return to passthrough with empty pressed set")
	}
}

// TestDuplicatePressProtectionOnCursor mirrors the keyboard group's
// duplicate-press protection for button presses.
func TestDuplicatePressProtectionOnCursor(t *testing.T) {
	h := newFakeHost()
	surf := stubSurface{name: "S"}
	node := &stubNode{enabled: true}
	c, _ := newCursorWithHit(h, surf, node, 1, 1)

	c.ProcessButton(1, true)
	before := len(h.buttons)
	c.ProcessButton(1, true) // duplicate: must be dropped, not redelivered
	if len(h.buttons) != before {
		t.Fatalf("duplicate press must not be redelivered")
	}
}

// TestOrphanButtonReleaseDropped mirrors the keyboard group's orphan-release
// handling for the cursor's button map.
func TestOrphanButtonReleaseDropped(t *testing.T) {
	h := newFakeHost()
	surf := stubSurface{name: "S"}
	node := &stubNode{enabled: true}
	c, _ := newCursorWithHit(h, surf, node, 1, 1)

	c.ProcessButton(99, false)
	if len(h.buttons) != 0 {
		t.Fatalf("orphan release must not deliver anything")
	}
}

// TestNoSurfaceHitEntersIgnore covers the remaining branch of
// pressPassthrough: a press over empty space.
func TestNoSurfaceHitEntersIgnore(t *testing.T) {
	h := newFakeHost()
	scene := &fakeScene{ok: false}
	c := New(h, scene, nil)

	c.ProcessButton(1, true)
	if c.Mode() != ModeIgnore {
		t.Fatalf("want mode ignore on press over empty space, got %v", c.Mode())
	}
	if len(c.pressed) != 1 {
		t.Fatalf("press must still be recorded so invariant P3 holds")
	}

	c.ProcessButton(1, false)
	if c.Mode() != ModePassthrough {
		t.Fatalf("want mode passthrough after release")
	}
}

func TestOpModeAccumulatesResidueAndTruncates(t *testing.T) {
	h := newFakeHost()
	scene := &fakeScene{ok: false}
	c := New(h, scene, nil)

	c.StartOp()
	if c.Mode() != ModeOp {
		t.Fatalf("want op mode")
	}
	if c.PointerFocus() != nil {
		t.Fatalf("starting op must clear pointer focus")
	}

	c.ProcessMotionRelative(0.6, 0.6, 0.6, 0.6)
	if len(h.opUpdates) != 1 || h.opUpdates[0].X != 0 || h.opUpdates[0].Y != 0 {
		t.Fatalf("0.6 alone must not cross an integer boundary yet, got %+v", h.opUpdates)
	}
	c.ProcessMotionRelative(0.6, 0.6, 0.6, 0.6)
	if len(h.opUpdates) != 2 {
		t.Fatalf("want an OpUpdate once accumulated residue crosses 1.0")
	}
	last := h.opUpdates[len(h.opUpdates)-1]
	if last.X != 1 || last.Y != 1 {
		t.Fatalf("want truncated delta (1,1), got %+v", last)
	}

	c.pressed[1] = &pressRecord{}
	c.ProcessButton(1, false)
	if h.opReleases != 1 {
		t.Fatalf("releasing the last pressed button in op mode must signal OpRelease")
	}
	if c.Mode() != ModePassthrough {
		t.Fatalf("op mode must return to passthrough once released")
	}
}

func TestTouchDownMotionUp(t *testing.T) {
	h := newFakeHost()
	surf := stubSurface{name: "S"}
	node := &stubNode{enabled: true}
	c, _ := newCursorWithHit(h, surf, node, 10, 10)

	c.ProcessTouchDown(7, 100, 100)
	if len(h.touchDowns) != 1 || h.touchDowns[0].id != 7 {
		t.Fatalf("want touch-down delivered, got %+v", h.touchDowns)
	}

	c.ProcessTouchMotion(7, 105, 108)
	if len(h.touchMoves) != 1 {
		t.Fatalf("want touch-motion delivered")
	}
	mv := h.touchMoves[0]
	if mv.sx != 15 || mv.sy != 18 {
		t.Fatalf("want surface-local motion offset from initial hit, got %+v", mv)
	}

	c.ProcessTouchUp(7)
	if len(h.touchUps) != 1 || h.touchUps[0] != 7 {
		t.Fatalf("want touch-up delivered")
	}
}

func TestTouchCancelClearsAllPoints(t *testing.T) {
	h := newFakeHost()
	scene := &fakeScene{ok: false}
	c := New(h, scene, nil)

	c.ProcessTouchCancel()
	if h.touchCancel != 1 {
		t.Fatalf("want cancel forwarded once")
	}
}
