// Package dispatch implements the Dispatcher / Event Queue component
// (spec.md §4.9): a per-seat queue that decouples device-event arrival
// from processing, draining synchronously at each `frame` boundary.
package dispatch

import "codeberg.org/river/river/internal/wlog"

// Kind tags a queued device event.
type Kind uint8

const (
	KindRelativeMotion Kind = iota
	KindAbsoluteMotion
	KindButton
	KindAxis
	KindPinch
	KindSwipe
)

// Event is one queued device event; Apply is called synchronously during
// Drain, in arrival order.
type Event struct {
	Kind  Kind
	Apply func()
}

// PointerFocus reports the current pointer focus so Drain can send the
// trailing pointer_frame (spec.md §4.9 "frame event is the drain
// trigger... then a pointer_frame is sent to the current pointer focus").
type PointerFocus interface {
	SendPointerFrame()
}

// capacity bounds the queue so an allocation failure is representable as
// "enqueue silently drops the event" (spec.md §7 "per-seat ephemera").
const capacity = 256

// Queue is a per-seat event queue. Touch and tablet events bypass it
// entirely (spec.md §4.9 "touch and tablet events are processed
// immediately; they have their own frame discipline").
type Queue struct {
	events []Event
	focus  PointerFocus
	log    *wlog.Logger
}

func New(focus PointerFocus) *Queue {
	return &Queue{focus: focus, log: wlog.Scoped(wlog.ScopeServer)}
}

// Enqueue adds an event, silently dropping it if the queue is at
// capacity (spec.md §7 "Allocation failure... for per-seat ephemera
// (queue enqueue): log and drop the event").
func (q *Queue) Enqueue(kind Kind, apply func()) {
	if len(q.events) >= capacity {
		q.log.Warn("event queue at capacity, dropping event", "kind", kind)
		return
	}
	q.events = append(q.events, Event{Kind: kind, Apply: apply})
}

// Len reports the number of currently queued events, for tests and
// diagnostics.
func (q *Queue) Len() int { return len(q.events) }

// Frame implements spec.md §4.9: drains every queued event synchronously
// in arrival order, then sends a pointer_frame to the current pointer
// focus. Drain cannot suspend partway (spec.md §5 "Suspension points").
func (q *Queue) Frame() {
	pending := q.events
	q.events = nil
	for _, e := range pending {
		e.Apply()
	}
	if q.focus != nil {
		q.focus.SendPointerFrame()
	}
}
