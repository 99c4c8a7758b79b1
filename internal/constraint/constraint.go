// Package constraint implements the Pointer Constraint component
// (spec.md §4.2): per-surface lock/confine regions with activation tied
// to cursor position, keyboard focus, and scene-node lifetime.
package constraint

import (
	"codeberg.org/river/river/f32"
	"codeberg.org/river/river/internal/wire"
	"codeberg.org/river/river/internal/wlog"
)

// Kind distinguishes the two pointer-constraint protocol requests.
type Kind uint8

const (
	KindLocked Kind = iota
	KindConfined
)

type state uint8

const (
	stateInactive state = iota
	stateActive
)

// Region is the constraint's client-supplied region, tested in
// surface-local coordinates.
type Region interface {
	Contains(sx, sy float64) bool
}

// CursorHost is the slice of the Cursor state machine a Constraint needs:
// its current layout position, the ability to warp it, and whether an
// interactive window-manager operation is in progress (activation is
// gated on there being none, per spec.md §4.2 condition iii).
type CursorHost interface {
	Position() (lx, ly float64)
	Warp(lx, ly float64) bool
	OpInProgress() bool
}

// FocusHost reports whether a surface currently holds the seat's keyboard
// focus, gating activation per spec.md §4.2 condition (the surface-local
// hit point check is condition v, verified by Constraint.maybeActivate
// using the constraint's own Scene).
type FocusHost interface {
	KeyboardFocusIsSurface(s wire.Surface) bool
}

// Constraint is one client's lock/confine request against one surface.
type Constraint struct {
	kind    Kind
	surface wire.Surface
	region  Region
	scene   wire.Scene
	cursor  CursorHost

	st   state
	node wire.Node
	sx   float64
	sy   float64
	hint *f32.Point // committed cursor-hint, nil if the client never set one

	onActivated   func()
	onDeactivated func()

	log *wlog.Logger
}

// New constructs a Constraint in the inactive state. onActivated and
// onDeactivated fire the corresponding protocol events; either may be nil.
func New(kind Kind, surface wire.Surface, region Region, scene wire.Scene, cursor CursorHost, onActivated, onDeactivated func()) *Constraint {
	return &Constraint{
		kind: kind, surface: surface, region: region, scene: scene, cursor: cursor,
		onActivated: onActivated, onDeactivated: onDeactivated,
		log: wlog.Scoped(wlog.ScopeConstraint),
	}
}

func (c *Constraint) Kind() Kind          { return c.kind }
func (c *Constraint) Surface() wire.Surface { return c.surface }
func (c *Constraint) Active() bool        { return c.st == stateActive }

// SetHint records the client's committed cursor-hint position, used by
// Deactivate to warp the cursor back on release.
func (c *Constraint) SetHint(p f32.Point) { h := p; c.hint = &h }

// maybeActivate implements spec.md §4.2 maybeActivate, called only
// while this Constraint is known to be the seat's focused constraint.
func (c *Constraint) maybeActivate(focus FocusHost) bool {
	if c.st != stateInactive {
		return false
	}
	if c.cursor.OpInProgress() {
		return false
	}
	if !focus.KeyboardFocusIsSurface(c.surface) {
		return false
	}
	lx, ly := c.cursor.Position()
	hit := c.scene.HitTest(lx, ly)
	if hit.Surface != c.surface {
		return false
	}
	if !c.region.Contains(hit.SX, hit.SY) {
		return false
	}
	c.st = stateActive
	c.node = hit.Node
	c.sx, c.sy = hit.SX, hit.SY
	if c.onActivated != nil {
		c.onActivated()
	}
	return true
}

// updateState implements spec.md §4.2 updateState: re-resolve the active
// node's layout position and warp the cursor to track it, or deactivate
// if the node died, the warp failed, or the stored point left the region.
func (c *Constraint) updateState(focus FocusHost) {
	c.maybeActivate(focus)
	if c.st != stateActive {
		return
	}
	if c.node == nil || !c.node.Enabled() {
		c.deactivate()
		return
	}
	if !c.region.Contains(c.sx, c.sy) {
		c.deactivate()
		return
	}
	pos := c.node.LayoutPos()
	if !c.cursor.Warp(float64(pos.X)+c.sx, float64(pos.Y)+c.sy) {
		c.deactivate()
	}
}

// Confine rewrites (dx, dy) in place so the resulting surface-local
// position stays within the region, for confined constraints only. It is
// a no-op (returns false) when this constraint isn't the active confined
// constraint.
func (c *Constraint) Confine(dx, dy *float64) bool {
	if c.kind != KindConfined || c.st != stateActive {
		return false
	}
	nsx, nsy := c.sx+*dx, c.sy+*dy
	if !c.region.Contains(nsx, nsy) {
		// Clamp by zeroing the component(s) that would leave the region;
		// a real region (rounded rect) would project onto its boundary,
		// but zeroing the offending axis is always a safe, in-region
		// fallback for any convex region.
		if !c.region.Contains(nsx, c.sy) {
			nsx = c.sx
		}
		if !c.region.Contains(c.sx, nsy) {
			nsy = c.sy
		}
		if !c.region.Contains(nsx, nsy) {
			nsx, nsy = c.sx, c.sy
		}
	}
	*dx, *dy = nsx-c.sx, nsy-c.sy
	c.sx, c.sy = nsx, nsy
	return true
}

func (c *Constraint) deactivate() {
	if c.st != stateActive {
		return
	}
	c.st = stateInactive
	if c.hint != nil {
		if c.node != nil {
			pos := c.node.LayoutPos()
			c.cursor.Warp(float64(pos.X+c.hint.X), float64(pos.Y+c.hint.Y))
		}
	}
	c.node = nil
	if c.onDeactivated != nil {
		c.onDeactivated()
	}
}

// Manager owns every constraint on a seat and tracks the single focused
// constraint (spec.md §3 "At most one constraint is the focused
// constraint on the seat").
type Manager struct {
	cursor      CursorHost
	focus       FocusHost
	byConstraint map[*Constraint]bool
	focused     *Constraint
}

func NewManager(cursor CursorHost, focus FocusHost) *Manager {
	return &Manager{cursor: cursor, focus: focus, byConstraint: make(map[*Constraint]bool)}
}

// Create attaches a new constraint, activating it immediately if the
// seat's keyboard focus is already on its surface and no constraint is
// currently attached (spec.md §4.2 create).
func (m *Manager) Create(kind Kind, surface wire.Surface, region Region, scene wire.Scene, onActivated, onDeactivated func()) *Constraint {
	c := New(kind, surface, region, scene, m.cursor, onActivated, onDeactivated)
	m.byConstraint[c] = true
	if m.focus.KeyboardFocusIsSurface(surface) && m.focused == nil {
		m.focused = c
		c.maybeActivate(m.focus)
	}
	return c
}

// Destroy detaches a constraint, deactivating it first if needed.
func (m *Manager) Destroy(c *Constraint) {
	c.deactivate()
	delete(m.byConstraint, c)
	if m.focused == c {
		m.focused = nil
	}
}

// OnKeyboardFocusChanged re-derives the seat's focused constraint from the
// new keyboard-focus surface, deactivating the previous one if it
// changed.
func (m *Manager) OnKeyboardFocusChanged(newFocus wire.Surface) {
	var next *Constraint
	for c := range m.byConstraint {
		if c.surface == newFocus {
			next = c
			break
		}
	}
	if m.focused != next {
		if m.focused != nil {
			m.focused.deactivate()
		}
		m.focused = next
	}
	if m.focused != nil {
		m.focused.maybeActivate(m.focus)
	}
}

// OnCursorMoved re-runs activation/deactivation/warp for the focused
// constraint, called after every processed motion and scene-graph change
// (spec.md §4.2 "on any cursor move or scene graph change").
func (m *Manager) OnCursorMoved() {
	if m.focused != nil {
		m.focused.updateState(m.focus)
	}
}

// Active returns the seat's active constraint, if any, and its kind — the
// entry point spec.md §4.3's motion pipeline uses to decide between
// returning early (locked) or rewriting the delta (confined).
func (m *Manager) Active() (*Constraint, bool) {
	if m.focused != nil && m.focused.Active() {
		return m.focused, true
	}
	return nil, false
}
