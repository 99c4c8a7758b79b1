// Package dnd implements the Drag & Drop component (spec.md §4.8): a drag
// icon is a scene-tree node that tracks the seat's pointer or the touch
// point the drag originated from, enabled for the session's lifetime.
package dnd

import (
	"codeberg.org/river/river/f32"
)

// Icon is the scene-side handle for a drag icon's subsurface tree.
type Icon interface {
	SetEnabled(enabled bool)
	SetLayoutPos(p f32.Point)
	ApplyOffset(dx, dy float32)
}

// Source is where a drag session's position comes from: the seat's
// pointer, or a specific touch point if the drag originated from touch.
type Source interface {
	Position() (x, y float64)
}

// CursorSource starts a cursor-mode transition when a drag begins, and
// reports the pointer's current position.
type CursorSource interface {
	Source
	StartDrag()
}

// Session is one active drag-and-drop operation.
type Session struct {
	icon   Icon
	source Source
	mapped bool
}

// Start implements spec.md §4.8 "When a drag session starts, the cursor
// transitions to drag mode": if source is pointer-backed, it does so here.
func Start(icon Icon, source Source) *Session {
	if cs, ok := source.(CursorSource); ok {
		cs.StartDrag()
	}
	return &Session{icon: icon, source: source}
}

// Map implements the icon's `map` request: enable the icon subtree and
// snap it to the drag source's current position.
func (s *Session) Map() {
	s.mapped = true
	s.icon.SetEnabled(true)
	x, y := s.source.Position()
	s.icon.SetLayoutPos(f32.Point{X: float32(x), Y: float32(y)})
}

// Unmap implements the icon's `unmap` request: disable the subtree
// without destroying the session (it may be remapped later).
func (s *Session) Unmap() {
	s.mapped = false
	s.icon.SetEnabled(false)
}

// Mapped reports whether the icon subtree is currently enabled.
func (s *Session) Mapped() bool { return s.mapped }

// Commit applies a pending subsurface offset delta (spec.md §4.8
// "commit applies the subsurface offset delta").
func (s *Session) Commit(dx, dy float32) {
	s.icon.ApplyOffset(dx, dy)
}

// FollowPointer re-snaps the icon to the drag source's current position;
// called on every processed motion while a session is mapped (the cursor
// and touch state machines call this once per move, not the icon
// subsystem itself, since the icon has no concept of device events).
func (s *Session) FollowPointer() {
	if !s.mapped {
		return
	}
	x, y := s.source.Position()
	s.icon.SetLayoutPos(f32.Point{X: float32(x), Y: float32(y)})
}
