// Package server wires every input/focus-engine component together: the
// seats, the session-lock manager and the control-protocol dispatcher
// (spec.md §3 "Server owns one or more Seats and the Lock Manager"); the
// event loop is not part of it and is reached only through lock.Timer. It is the concrete lock.Host and seat.InhibitorHost every
// Seat and the lock.Manager need, and it is where the supplemented
// idle-inhibit bookkeeping (SPEC_FULL.md §12) lives, since nothing in
// spec.md's own modules has a natural home for it.
package server

import (
	"os"
	"os/exec"

	"codeberg.org/river/river/internal/control"
	"codeberg.org/river/river/internal/lock"
	"codeberg.org/river/river/internal/seat"
	"codeberg.org/river/river/internal/wire"
	"codeberg.org/river/river/internal/wlog"
)

// LockProtocol is the single outbound send the lock manager needs that a
// Server, rather than a Seat, is responsible for (spec.md §4.7's `locked`
// event is sent once to the lock client, not to any particular seat).
type LockProtocol interface {
	SendLocked(c *lock.Client)
}

// TreeHooks are the scene-tree enable/disable side effects spec.md §4.7
// describes (locked_tree, normal_tree) but whose actual tree structure is
// explicitly out of scope (spec.md §1: rendering/scene graph are assumed
// provided). Hooks left nil are no-ops, so a Server under test can leave
// them unset entirely.
type TreeHooks struct {
	EnableLockedTree  func()
	DisableLockedTree func()
	EnableNormalTree  func()
	DisableNormalTree func()
}

func (h TreeHooks) call(fn func()) {
	if fn != nil {
		fn()
	}
}

// Server is the top-level aggregate: every Seat, the one lock.Manager,
// the control-protocol dispatcher, and the bookkeeping registries that
// don't belong to any single seat.
type Server struct {
	wm       wire.WindowManager
	protocol LockProtocol
	hooks    TreeHooks

	seats map[string]*seat.Seat
	lock  *lock.Manager

	control *control.Dispatcher

	inhibitorClient wire.Client
	inhibitorActive bool

	idleInhibitors map[wire.Surface]int

	log *wlog.Logger
}

// New constructs a Server. lockTimer backs the lock manager's
// waiting_for_lock_surfaces timeout (the event loop's *loop.Timer in
// production, a fake in tests).
func New(wm wire.WindowManager, protocol LockProtocol, hooks TreeHooks, lockTimer lock.Timer) *Server {
	s := &Server{
		wm:             wm,
		protocol:       protocol,
		hooks:          hooks,
		seats:          make(map[string]*seat.Seat),
		idleInhibitors: make(map[wire.Surface]int),
		control:        control.New(),
		log:            wlog.Scoped(wlog.ScopeServer),
	}
	s.lock = lock.New(s, lockTimer)
	s.registerBuiltinCommands()
	return s
}

// Lock returns the server's session-lock manager.
func (s *Server) Lock() *lock.Manager { return s.lock }

// Control returns the server's control-protocol command dispatcher, so
// callers (cmd/river's -c flag, a bound control-protocol connection) can
// register further commands or submit an argument vector.
func (s *Server) Control() *control.Dispatcher { return s.control }

// AddSeat constructs and registers a new Seat, wiring it to this
// server's lock manager (as seat.LockGate) and idle/input-inhibitor
// bookkeeping (as seat.InhibitorHost).
func (s *Server) AddSeat(name string, protocol seat.Protocol, scene wire.Scene) *seat.Seat {
	st := seat.New(name, protocol, scene, s.wm, s.lock, s)
	s.seats[name] = st
	return st
}

// Seat looks up a previously-added seat by name.
func (s *Server) Seat(name string) (*seat.Seat, bool) {
	sv, ok := s.seats[name]
	return sv, ok
}

// RemoveSeat detaches a seat (hot-unplug of the last input device backing
// it, or a multi-seat teardown).
func (s *Server) RemoveSeat(name string) { delete(s.seats, name) }

// --- seat.InhibitorHost: input-inhibitor focus suppression ---

// SetInputInhibitor installs client as the exclusive input-inhibiting
// client (spec.md §4.6: "an input-inhibitor is active"); a layer-surface
// requesting exclusive keyboard interactivity is the intended caller.
func (s *Server) SetInputInhibitor(client wire.Client) {
	s.inhibitorClient = client
	s.inhibitorActive = true
}

// ClearInputInhibitor removes the active input-inhibitor, if any.
func (s *Server) ClearInputInhibitor() {
	s.inhibitorClient = nil
	s.inhibitorActive = false
}

func (s *Server) ActiveInhibitorClient() (wire.Client, bool) {
	return s.inhibitorClient, s.inhibitorActive
}

// --- idle-inhibit bookkeeping (SPEC_FULL.md §12) ---

// AddIdleInhibitor registers one idle-inhibit protocol object bound to
// surf; the count, not the identity, is all the supplemented registry
// tracks.
func (s *Server) AddIdleInhibitor(surf wire.Surface) {
	s.idleInhibitors[surf]++
}

// RemoveIdleInhibitor unregisters one idle-inhibit protocol object.
// Removing from a surface with no registered inhibitor is a silent
// no-op, matching spec.md §10's "never uses exceptions as control flow"
// posture for inert resources.
func (s *Server) RemoveIdleInhibitor(surf wire.Surface) {
	if s.idleInhibitors[surf] <= 1 {
		delete(s.idleInhibitors, surf)
		return
	}
	s.idleInhibitors[surf]--
}

// IdleInhibited reports whether any surface currently holds an active
// idle-inhibitor, i.e. whether the backend should be told to suppress
// its idle/DPMS timeout.
func (s *Server) IdleInhibited() bool { return len(s.idleInhibitors) > 0 }

// --- lock.Host ---

func (s *Server) EnableLockedTree()  { s.hooks.call(s.hooks.EnableLockedTree) }
func (s *Server) DisableLockedTree() { s.hooks.call(s.hooks.DisableLockedTree) }
func (s *Server) EnableNormalTree()  { s.hooks.call(s.hooks.EnableNormalTree) }
func (s *Server) DisableNormalTree() { s.hooks.call(s.hooks.DisableNormalTree) }

// ClearFocusAllSeats implements spec.md §4.7's "focus is cleared on every
// seat" side effect of entering waiting_for_lock_surfaces.
func (s *Server) ClearFocusAllSeats() {
	for _, sv := range s.seats {
		sv.SetFocus(seat.FocusTarget{Kind: seat.TargetNone})
	}
}

// RefocusAllSeats implements spec.md §4.7's unlock side effect. Which
// surface each seat should refocus is a window-management policy
// decision (spec.md §13 Non-goals: layout policy is out of scope), so
// this only signals the window manager to run its own reconciliation
// pass; the actual SetFocus call is the window manager's to make.
func (s *Server) RefocusAllSeats() { s.wm.MarkDirty() }

func (s *Server) SendLocked(c *lock.Client) { s.protocol.SendLocked(c) }

func (s *Server) MarkWindowingDirty() { s.wm.MarkDirty() }

// registerBuiltinCommands wires the control commands a compositor itself
// must provide rather than leaving to the window manager (spec.md §6: the
// control protocol exists precisely so a privileged client, including the
// compositor's own -c flag, can ask for these).
func (s *Server) registerBuiltinCommands() {
	s.control.Register("spawn", cmdSpawn)
}

// cmdSpawn launches args[0] with the remaining arguments as a detached
// child, matching riverctl's `spawn <command>` — the compositor forwards
// the argument vector to exec.Command directly rather than through a
// shell, so no quoting ambiguity reaches the spawned process.
func cmdSpawn(args []string) error {
	if len(args) == 0 {
		return control.ErrEmptyArgv
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Start()
}
