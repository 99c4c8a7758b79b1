// Package scene implements the Scene Query component (spec.md §4.1): a
// hit-test from a layout-coordinate point to the (surface, surface-local
// coordinates, role) triple the rest of the input engine dispatches on.
//
// The real scene graph (damage tracking, subsurface trees, output
// modesetting) lives in a rendering library out of this repo's scope; this
// package is the thin, testable slice of it that the input engine actually
// queries, plus the signal-connection helper described in spec.md §9 used
// throughout the core to avoid bespoke remove-on-teardown listener sites.
package scene

import (
	"sync"

	"codeberg.org/river/river/f32"
	"codeberg.org/river/river/internal/wire"
)

// LockGate reports whether the lock manager currently gates rendering of
// the normal (non-lock) scene tree. Passed in rather than imported to
// avoid a dependency cycle: internal/lock depends on nothing in scene.
type LockGate interface {
	Locked() bool
}

// Node is a concrete scene-graph node. A Node with Surface == nil is a
// purely structural node (e.g. a subsurface's parent box); a Node that is
// itself a subsurface extending past its toplevel's visual box is still
// recorded so the "window is hovered, surface is nil" special case in
// spec.md §4.1 and §4.3 can be produced.
type Node struct {
	mu      sync.Mutex
	enabled bool
	pos     f32.Point
	size    f32.Point // width/height in layout pixels, for input-region / box tests
	role    wire.Role
	surface wire.Surface

	// Parent, if set, is the toplevel window this node belongs to. A nil
	// Parent means the node is itself a toplevel (or has no window
	// owner, e.g. a layer-surface).
	Parent *Node
}

// NewNode constructs a scene node. pos/size are layout coordinates; role
// and surface classify what was hit.
func NewNode(role wire.Role, surface wire.Surface, pos, size f32.Point) *Node {
	return &Node{enabled: true, pos: pos, size: size, role: role, surface: surface}
}

func (n *Node) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

func (n *Node) SetEnabled(v bool) {
	n.mu.Lock()
	n.enabled = v
	n.mu.Unlock()
}

func (n *Node) LayoutPos() f32.Point { n.mu.Lock(); defer n.mu.Unlock(); return n.pos }

func (n *Node) SetLayoutPos(p f32.Point) { n.mu.Lock(); n.pos = p; n.mu.Unlock() }

func (n *Node) box() f32.Rectangle {
	p, s := n.LayoutPos(), n.size
	return f32.Rectangle{Min: p, Max: p.Add(s)}
}

// Tree is a flat collection of scene nodes queried front-to-back (the
// last-appended node is considered topmost, matching a scene graph where
// later siblings paint over earlier ones).
type Tree struct {
	mu    sync.Mutex
	nodes []*Node
	gate  LockGate
	// gate's Locked() result selects which half of the tree (lock surfaces
	// vs. everything else) is eligible, per spec.md §4.1: "Locked-surface hits are only
	// produced when the lock manager is not unlocked; non-lock surfaces
	// may only be hit when the lock manager is unlocked."
}

func NewTree(gate LockGate) *Tree {
	return &Tree{gate: gate}
}

func (t *Tree) Add(n *Node) {
	t.mu.Lock()
	t.nodes = append(t.nodes, n)
	t.mu.Unlock()
}

func (t *Tree) Remove(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, o := range t.nodes {
		if o == n {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			return
		}
	}
}

// HitTest implements wire.Scene. It enforces the invariants spec.md §4.1
// calls out: no disabled node is ever returned, the lock gate partitions
// which nodes are eligible, and exactly one role is returned.
func (t *Tree) HitTest(lx, ly float64) wire.HitResult {
	t.mu.Lock()
	nodes := make([]*Node, len(t.nodes))
	copy(nodes, t.nodes)
	t.mu.Unlock()

	locked := t.gate != nil && t.gate.Locked()
	p := f32.Point{X: float32(lx), Y: float32(ly)}

	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if !n.Enabled() {
			continue
		}
		if n.Parent != nil && !n.Parent.Enabled() {
			continue
		}
		isLockRole := n.role == wire.RoleLockSurface
		if isLockRole != locked {
			// Non-lock nodes are ineligible while locked and vice versa.
			continue
		}
		if !p.In(n.box()) {
			continue
		}
		return t.resolveHit(n, p)
	}
	return wire.HitResult{}
}

func (t *Tree) resolveHit(n *Node, p f32.Point) wire.HitResult {
	box := n.box()
	sx, sy := float64(p.X-box.Min.X), float64(p.Y-box.Min.Y)

	owner := n
	role := n.role
	if n.Parent != nil {
		// A subsurface that extends outside its window's own box still
		// identifies the window (spec.md §4.1), but only if the window
		// itself is enabled (HitTest skips the subsurface otherwise); the
		// subsurface's input region is
		// evaluated on its own surface, independent of the window box.
		owner = n.Parent
		role = owner.role
	}

	if n.surface == nil || !n.surface.InputRegionContains(sx, sy) {
		return wire.HitResult{Node: owner, Role: role}
	}
	return wire.HitResult{Node: owner, Surface: n.surface, SX: sx, SY: sy, Role: role}
}

// Connection is a single signal subscription: it holds the unsubscribe
// closure and guarantees at-most-once disconnect. This replaces the
// per-field bespoke listener bookkeeping spec.md §9 calls out as a source
// of use-after-free bugs: every listener in this codebase is a Connection,
// stored on the object that needs to live at least as long as the
// subscription, and Disconnect is always safe to call from a destroy path
// even if it already ran.
type Connection struct {
	once       sync.Once
	disconnect func()
}

// Connect registers fn against a signal's add/remove pair and returns a
// Connection that calls remove(fn) at most once.
func Connect[T any](add func(T), remove func(T), fn T) *Connection {
	add(fn)
	return &Connection{disconnect: func() { remove(fn) }}
}

// Disconnect unsubscribes the connection. Safe to call multiple times and
// from a nil-safe receiver's teardown path.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.disconnect != nil {
			c.disconnect()
		}
	})
}

// Group is a set of Connections that are torn down together, typically
// everything a single object subscribed to during construction.
type Group struct {
	mu    sync.Mutex
	conns []*Connection
}

func (g *Group) Add(c *Connection) {
	g.mu.Lock()
	g.conns = append(g.conns, c)
	g.mu.Unlock()
}

// DisconnectAll tears down every connection in the group exactly once.
func (g *Group) DisconnectAll() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, c := range conns {
		c.Disconnect()
	}
}
