package scene

import (
	"testing"

	"codeberg.org/river/river/f32"
	"codeberg.org/river/river/internal/wire"
)

type stubClient struct{ pid int }

func (c stubClient) Pid() int { return c.pid }

type stubSurface struct {
	client wire.Client
	// region, if set, is the only point InputRegionContains accepts;
	// the zero value accepts every point.
	region *f32.Rectangle
}

func (s stubSurface) Client() wire.Client { return s.client }

func (s stubSurface) InputRegionContains(sx, sy float64) bool {
	if s.region == nil {
		return true
	}
	p := f32.Point{X: float32(sx), Y: float32(sy)}
	return p.In(*s.region)
}

type fakeLockGate struct{ locked bool }

func (g *fakeLockGate) Locked() bool { return g.locked }

func TestHitTestSkipsDisabledNodes(t *testing.T) {
	tree := NewTree(nil)
	surf := stubSurface{client: stubClient{pid: 1}}
	n := NewNode(wire.RoleWindow, surf, f32.Point{X: 0, Y: 0}, f32.Point{X: 100, Y: 100})
	tree.Add(n)

	if hit := tree.HitTest(50, 50); !hit.Found() {
		t.Fatalf("want a hit while the node is enabled")
	}

	n.SetEnabled(false)
	if hit := tree.HitTest(50, 50); hit.Found() {
		t.Fatalf("want no hit once the node is disabled, got %+v", hit)
	}
}

func TestHitTestPartitionsLockAndNormalNodesByGate(t *testing.T) {
	gate := &fakeLockGate{}
	tree := NewTree(gate)

	normal := NewNode(wire.RoleWindow, stubSurface{client: stubClient{pid: 1}}, f32.Point{}, f32.Point{X: 100, Y: 100})
	lockSurf := NewNode(wire.RoleLockSurface, stubSurface{client: stubClient{pid: 2}}, f32.Point{}, f32.Point{X: 100, Y: 100})
	tree.Add(normal)
	tree.Add(lockSurf)

	hit := tree.HitTest(10, 10)
	if !hit.Found() || hit.Role != wire.RoleWindow {
		t.Fatalf("want the normal node hit while unlocked, got %+v", hit)
	}

	gate.locked = true
	hit = tree.HitTest(10, 10)
	if !hit.Found() || hit.Role != wire.RoleLockSurface {
		t.Fatalf("want the lock-surface node hit once locked, got %+v", hit)
	}
}

func TestHitTestReturnsWindowNodeNilSurfaceOutsideInputRegion(t *testing.T) {
	tree := NewTree(nil)
	region := f32.Rectangle{Min: f32.Point{X: 0, Y: 0}, Max: f32.Point{X: 10, Y: 10}}
	surf := stubSurface{client: stubClient{pid: 1}, region: &region}
	n := NewNode(wire.RoleWindow, surf, f32.Point{}, f32.Point{X: 100, Y: 100})
	tree.Add(n)

	hit := tree.HitTest(50, 50)
	if !hit.Found() {
		t.Fatalf("want the window node itself still hit")
	}
	if hit.Surface != nil {
		t.Fatalf("want no surface reported outside the input region, got %v", hit.Surface)
	}
	if hit.Node != n {
		t.Fatalf("want the node reported even with no surface hit")
	}
}

// TestHitTestSubsurfaceOutsideWindowBoxResolvesToParent covers the
// "subsurface extending past its toplevel's visual box" special case
// (spec.md §4.1/§4.3): the subsurface's own box is what is hit-tested,
// but the reported owner/role come from its parent window.
func TestHitTestSubsurfaceOutsideWindowBoxResolvesToParent(t *testing.T) {
	tree := NewTree(nil)

	winSurf := stubSurface{client: stubClient{pid: 1}}
	window := NewNode(wire.RoleWindow, winSurf, f32.Point{X: 0, Y: 0}, f32.Point{X: 50, Y: 50})
	tree.Add(window)

	subSurf := stubSurface{client: stubClient{pid: 1}}
	sub := NewNode(wire.RoleWindow, subSurf, f32.Point{X: 40, Y: 0}, f32.Point{X: 40, Y: 10})
	sub.Parent = window
	tree.Add(sub)

	// (60, 5) is outside the window's own 50x50 box but inside the
	// subsurface's box extending past it.
	hit := tree.HitTest(60, 5)
	if !hit.Found() {
		t.Fatalf("want the subsurface hit despite being outside the window's own box")
	}
	if hit.Node != window {
		t.Fatalf("want the window reported as the owning node, got %+v", hit.Node)
	}
	if hit.Role != wire.RoleWindow {
		t.Fatalf("want the window's role reported, got %v", hit.Role)
	}
	if hit.Surface != subSurf {
		t.Fatalf("want the subsurface's own surface reported for delivery, got %v", hit.Surface)
	}
	if hit.SX != 20 || hit.SY != 5 {
		t.Fatalf("want surface-local coords resolved against the subsurface's own box, got (%v, %v)", hit.SX, hit.SY)
	}
}

func TestHitTestQueriesFrontToBack(t *testing.T) {
	tree := NewTree(nil)
	back := NewNode(wire.RoleWindow, stubSurface{client: stubClient{pid: 1}}, f32.Point{}, f32.Point{X: 100, Y: 100})
	front := NewNode(wire.RoleWindow, stubSurface{client: stubClient{pid: 2}}, f32.Point{}, f32.Point{X: 100, Y: 100})
	tree.Add(back)
	tree.Add(front)

	hit := tree.HitTest(10, 10)
	if hit.Node != front {
		t.Fatalf("want the last-appended (topmost) node hit, got %+v", hit.Node)
	}
}

func TestRemoveDropsNodeFromFurtherHitTests(t *testing.T) {
	tree := NewTree(nil)
	n := NewNode(wire.RoleWindow, stubSurface{client: stubClient{pid: 1}}, f32.Point{}, f32.Point{X: 100, Y: 100})
	tree.Add(n)
	tree.Remove(n)

	if hit := tree.HitTest(10, 10); hit.Found() {
		t.Fatalf("want no hit once the node is removed, got %+v", hit)
	}
}

func TestConnectionDisconnectIsOnceAndNilSafe(t *testing.T) {
	var removed int
	var listeners []func()
	add := func(fn func()) { listeners = append(listeners, fn) }
	remove := func(fn func()) { removed++ }

	c := Connect(add, remove, func() {})
	if len(listeners) != 1 {
		t.Fatalf("want Connect to register the listener")
	}

	c.Disconnect()
	c.Disconnect()
	if removed != 1 {
		t.Fatalf("want remove called exactly once across repeated Disconnect calls, got %d", removed)
	}

	var nilConn *Connection
	nilConn.Disconnect() // must not panic
}

func TestGroupDisconnectAllTearsDownEveryConnectionOnce(t *testing.T) {
	var removed int
	add := func(fn func()) {}
	remove := func(fn func()) { removed++ }

	var g Group
	g.Add(Connect(add, remove, func() {}))
	g.Add(Connect(add, remove, func() {}))

	g.DisconnectAll()
	if removed != 2 {
		t.Fatalf("want both connections torn down, got %d", removed)
	}

	g.DisconnectAll()
	if removed != 2 {
		t.Fatalf("want a second DisconnectAll to be a no-op, got %d", removed)
	}
}
