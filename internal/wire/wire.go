// Package wire declares the contracts between the input and focus engine
// and the collaborators spec.md treats as externally provided: the
// Wayland wire protocol, the scene graph, and the window-management
// client. Nothing in this package talks to a socket or a GPU; it exists
// so internal/seat, internal/cursor, internal/keyboard and friends can be
// written against small interfaces instead of a concrete protocol
// library, and so they can be tested without one.
package wire

import "codeberg.org/river/river/f32"

// Role tags the kind of thing a scene hit-test landed on. Exactly one is
// returned from every hit-test (spec.md §4.1).
type Role uint8

const (
	RoleNone Role = iota
	RoleWindow
	RoleShellSurface
	RoleLayerSurface
	RoleLockSurface
	RoleOverrideRedirect
)

func (r Role) String() string {
	switch r {
	case RoleWindow:
		return "window"
	case RoleShellSurface:
		return "shell_surface"
	case RoleLayerSurface:
		return "layer_surface"
	case RoleLockSurface:
		return "lock_surface"
	case RoleOverrideRedirect:
		return "override_redirect"
	default:
		return "none"
	}
}

// Client identifies the Wayland client a resource belongs to, used for
// the text-input relay's "surface's client" matching and for pinning
// override-redirect focus to a process.
type Client interface {
	// Pid returns the owning process id, or 0 if unknown.
	Pid() int
}

// Surface is a client-owned rectangle with an input region and buffer
// contents (GLOSSARY). The compositor core never touches pixels; it only
// needs enough surface identity to route events and query geometry.
type Surface interface {
	Client() Client
	// InputRegionContains reports whether the surface-local point lies
	// within the surface's input region.
	InputRegionContains(sx, sy float64) bool
}

// Node is a scene-graph node: a positioned, enable/disable-able entity
// that a hit-test can land on. Implementations are owned by the scene
// graph, not by the core; the core only holds opaque handles.
type Node interface {
	// Enabled reports whether the node (and hence anything it contains)
	// participates in hit-testing.
	Enabled() bool
	// LayoutPos returns the node's current layout-coordinate origin.
	LayoutPos() f32.Point
}

// HitResult is the outcome of a scene-query hit-test (spec.md §4.1).
type HitResult struct {
	Node    Node
	Surface Surface // nil if the node was hit outside its input region
	SX, SY  float64 // surface-local coordinates of the hit, valid iff Surface != nil
	Role    Role
}

// Found reports whether the hit-test landed on anything at all.
func (h HitResult) Found() bool { return h.Node != nil }

// Scene is the subset of the scene graph the input engine needs: a
// hit-test. The concrete scene
// graph (damage tracking, subsurface trees, output modesetting) is out of
// scope per spec.md §1 and is assumed to implement this interface.
type Scene interface {
	// HitTest resolves a layout-coordinate point to a HitResult,
	// respecting enabled/disabled trees and the lock-manager gate
	// described in spec.md §4.1.
	HitTest(lx, ly float64) HitResult
}

// Binding is a compositor-owned command bound to a key or button chord
// (GLOSSARY). Pressed/Released are invoked by the cursor and keyboard
// state machines; the binding itself decides what command to run.
type Binding interface {
	Pressed()
	Released()
}

// WindowManager is the external window-management client's hook surface
// (spec.md §1, §2 "exposes operation hooks"). The tiling algorithm itself
// is out of scope; the core only needs to post dirty signals and forward
// interactive-operation deltas.
type WindowManager interface {
	// MarkDirty signals that windowing state changed (hover, a pending
	// interaction, an op release, ate-unbound-key, a focus change) and
	// the window manager should run a reconciliation pass.
	MarkDirty()
	// OpUpdate forwards accumulated integer motion to an in-progress
	// interactive operation (move/resize).
	OpUpdate(dx, dy int32)
	// OpRelease signals that the interactive operation's pointer button
	// was released.
	OpRelease()
}
