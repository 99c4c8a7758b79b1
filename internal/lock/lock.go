// Package lock implements the Lock Manager state machine (spec.md §4.7):
// the session-lock lifecycle from a client's lock request through to
// `locked`, gated on lock surfaces appearing or a 200ms timeout followed
// by a blanked-output fallback.
package lock

import (
	"time"

	"codeberg.org/river/river/internal/wlog"
)

// State is the lock manager's current phase.
type State uint8

const (
	StateUnlocked State = iota
	StateWaitingForLockSurfaces
	StateWaitingForBlank
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateWaitingForLockSurfaces:
		return "waiting_for_lock_surfaces"
	case StateWaitingForBlank:
		return "waiting_for_blank"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Timeout is the lock-surfaces grace period (spec.md §4.7).
const Timeout = 200 * time.Millisecond

// Client is a session-lock client's protocol object.
type Client struct {
	alive bool
}

// NewClient constructs a live lock client.
func NewClient() *Client { return &Client{alive: true} }

// Alive reports whether the underlying protocol connection still exists.
func (c *Client) Alive() bool { return c != nil && c.alive }

// Die marks the client as disconnected, for ClientDestroyed to observe.
func (c *Client) Die() { c.alive = false }

// Timer is the single cancellable asynchronous operation in the whole
// core (spec.md §5 "Cancellation/timeouts"); the event loop backs it with
// a real timer, tests back it with a fake.
type Timer interface {
	Start(d time.Duration, fire func())
	Cancel()
}

// Host is everything the lock manager needs from the server to run the
// state machine's side effects.
type Host interface {
	EnableLockedTree()
	DisableLockedTree()
	EnableNormalTree()
	DisableNormalTree()
	ClearFocusAllSeats()
	RefocusAllSeats()
	SendLocked(c *Client)
	MarkWindowingDirty()
}

// Manager is the per-server lock manager (spec.md §3: one per server, not
// per seat — property P5 is phrased per-seat because focus is per-seat,
// but the state itself is global).
type Manager struct {
	host Host

	st     State
	client *Client
	timer  Timer

	outputsPendingLockSurface int
	outputsPendingBlank       int

	log *wlog.Logger
}

func New(host Host, timer Timer) *Manager {
	return &Manager{host: host, timer: timer, st: StateUnlocked, log: wlog.Scoped(wlog.ScopeLock)}
}

func (m *Manager) State() State { return m.st }

// Locked reports whether the current state legally permits only
// lock_surface (or none) windowing focus targets — property P5's gate.
func (m *Manager) Locked() bool { return m.st != StateUnlocked }

// NewLockRequest implements spec.md §4.7 row 1: unlocked -> waiting for
// lock surfaces.
func (m *Manager) NewLockRequest(c *Client, outputCount int) bool {
	if m.st != StateUnlocked {
		if m.client != nil && m.client.Alive() {
			// A lock already exists and its client is alive: deny (the
			// caller destroys the new one once this returns false).
			return false
		}
		// The previous lock client died (spec.md §4.7 "lock=null"): the
		// new lock inherits the current state.
		m.client = c
		if m.st == StateLocked {
			m.host.SendLocked(c)
		}
		return true
	}

	m.client = c
	m.st = StateWaitingForLockSurfaces
	m.outputsPendingLockSurface = outputCount
	m.host.EnableLockedTree()
	m.host.ClearFocusAllSeats()
	m.timer.Start(Timeout, m.onTimeout)
	return true
}

// LockSurfaceRendered implements spec.md §4.7 row 2: every enabled output
// has rendered a lock surface.
func (m *Manager) LockSurfaceRendered() {
	if m.st != StateWaitingForLockSurfaces {
		return
	}
	if m.outputsPendingLockSurface > 0 {
		m.outputsPendingLockSurface--
	}
	if m.outputsPendingLockSurface > 0 {
		return
	}
	m.timer.Cancel()
	m.st = StateLocked
	m.host.DisableNormalTree()
	if m.client != nil {
		m.host.SendLocked(m.client)
	}
	m.host.MarkWindowingDirty()
}

func (m *Manager) onTimeout() {
	if m.st != StateWaitingForLockSurfaces {
		return
	}
	m.st = StateWaitingForBlank
	m.host.DisableNormalTree()
}

// OutputBlanked implements spec.md §4.7 row 4: every enabled output has
// rendered a blank frame while waiting_for_blank.
func (m *Manager) OutputBlanked(remainingOutputs int) {
	if m.st != StateWaitingForBlank {
		return
	}
	m.outputsPendingBlank = remainingOutputs
	if m.outputsPendingBlank > 0 {
		return
	}
	m.st = StateLocked
	if m.client != nil {
		m.host.SendLocked(m.client)
	}
	m.host.MarkWindowingDirty()
}

// Unlock implements spec.md §4.7 row 5: locked -> unlocked.
func (m *Manager) Unlock() {
	if m.st != StateLocked {
		return
	}
	m.st = StateUnlocked
	m.client = nil
	m.host.EnableNormalTree()
	m.host.DisableLockedTree()
	m.host.ClearFocusAllSeats()
	m.host.RefocusAllSeats()
	m.host.MarkWindowingDirty()
}

// ClientDestroyed implements spec.md §4.7 row 6: the lock client
// disconnected without unlocking. The lock state itself is preserved;
// only the client reference is cleared, except that
// waiting_for_lock_surfaces degrades straight to waiting_for_blank since
// there is no longer a client that might supply a lock surface.
func (m *Manager) ClientDestroyed() {
	m.client = nil
	if m.st == StateWaitingForLockSurfaces {
		m.timer.Cancel()
		m.st = StateWaitingForBlank
		m.host.DisableNormalTree()
	}
}
