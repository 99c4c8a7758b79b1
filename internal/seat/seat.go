// Package seat implements the Seat aggregate (spec.md §3 "Seat", §4.6
// "Seat Focus"): one Seat wires together a Cursor, one or more Keyboard
// Groups fanned into a logical keyboard, a pointer-constraint Manager, an
// input-method/text-input Relay, and a per-seat event Queue, and owns the
// seat's windowing focus target — the only piece of state none of those
// subcomponents can own by themselves.
package seat

import (
	"codeberg.org/river/river/f32"
	"codeberg.org/river/river/internal/constraint"
	"codeberg.org/river/river/internal/cursor"
	"codeberg.org/river/river/internal/dispatch"
	"codeberg.org/river/river/internal/dnd"
	"codeberg.org/river/river/internal/keyboard"
	"codeberg.org/river/river/internal/relay"
	"codeberg.org/river/river/internal/wire"
	"codeberg.org/river/river/internal/wlog"
)

// TargetKind tags a Seat's windowing focus target (spec.md §4.6 "Focus
// target is a tagged variant").
type TargetKind uint8

const (
	TargetNone TargetKind = iota
	TargetWindow
	TargetLayer
	TargetLockSurface
	TargetOverrideRedirect
)

// FocusTarget is one value of the tagged variant; Surface is nil only for
// TargetNone.
type FocusTarget struct {
	Kind    TargetKind
	Surface wire.Surface
}

// LockGate is the slice of the lock manager a Seat needs to validate
// focus transitions (spec.md §4.6 "while the lock manager is not
// unlocked, only lock_surface or none are legal windowing focus
// targets"). *lock.Manager implements this directly.
type LockGate interface {
	Locked() bool
}

// InhibitorHost reports the client currently holding an input inhibitor,
// if any (spec.md §4.6 "Focus is suppressed if an input-inhibitor is
// active and the target client is not the inhibiting client").
type InhibitorHost interface {
	ActiveInhibitorClient() (wire.Client, bool)
}

// Protocol is every outbound Wayland send a Seat drives directly, as
// opposed to the sends cursor/keyboard/relay already abstract behind
// their own Host interfaces in terms of surfaces and deltas. Keeping this
// as its own narrow interface lets tests exercise Seat without a real
// wire protocol implementation.
type Protocol interface {
	SendPointerEnter(s wire.Surface, sx, sy float64)
	SendPointerLeave(s wire.Surface)
	SendPointerMotion(s wire.Surface, sx, sy float64)
	SendPointerButton(s wire.Surface, button uint32, pressed bool)
	SendPointerAxis(s wire.Surface, horiz, vert float64)
	SendPointerFrame(s wire.Surface)
	SendTouchDown(s wire.Surface, id uint32, sx, sy float64)
	SendTouchMotion(s wire.Surface, id uint32, sx, sy float64)
	SendTouchUp(id uint32)
	SendTouchCancel()
	SendRelativeMotion(dx, dy, dxUnaccel, dyUnaccel float64)
	SendGesture(e cursor.GestureEvent)

	SendKeyboardEnter(s wire.Surface)
	SendKeyboardLeave(s wire.Surface)
	SendKey(s wire.Surface, keycode uint32, pressed bool)
	SendKeyToIMGrab(keycode uint32, pressed bool)
	SendModifiers(s wire.Surface, mods keyboard.Modifiers)
	SendModifiersToGrab(mods keyboard.Modifiers)

	SendInputMethodState(surroundingText string, changeCause, contentType uint32)
	SendInputMethodDeactivate()
}

// bindingGate wraps a wire.Binding delivered for a keyboard chord so the
// Seat can tell, on the next press of the same chord from a different
// keyboard group, that a press is already outstanding for it (spec.md
// §4.4 step 4 "to preserve single press/release pairing across the
// fan-in" — property P1 extended across the whole group fan-in, not just
// one Group).
type bindingGate struct {
	seat  *Seat
	inner wire.Binding
}

func (b bindingGate) Pressed() { b.inner.Pressed() }
func (b bindingGate) Released() {
	b.inner.Released()
	delete(b.seat.activeKeyBindings, b.inner)
}

type keyBindKey struct {
	keycode uint32
	mods    keyboard.Modifiers
}

// cursorHostProxy breaks the construction cycle between Cursor and
// constraint.Manager: the Manager needs a constraint.CursorHost at
// construction time, but the only thing that implements it is the Cursor
// the Manager itself is later passed into. The proxy is wired to the real
// Cursor immediately after both are built.
type cursorHostProxy struct {
	cursor *cursor.Cursor
}

func (p *cursorHostProxy) Position() (float64, float64) { return p.cursor.Position() }
func (p *cursorHostProxy) Warp(lx, ly float64) bool      { return p.cursor.Warp(lx, ly) }
func (p *cursorHostProxy) OpInProgress() bool             { return p.cursor.OpInProgress() }

// touchDragSource sources a drag-and-drop session's position from a
// specific live touch point rather than the seat's pointer (spec.md
// §4.8 "follows the seat's pointer, or touch point if the drag
// originated from touch").
type touchDragSource struct {
	cursor *cursor.Cursor
	id     uint32
}

func (t touchDragSource) Position() (float64, float64) {
	x, y, _ := t.cursor.TouchPosition(t.id)
	return x, y
}

// Seat is the per-seat aggregate: one cursor, N keyboard groups, one
// pointer-constraint manager, one input-method relay, one event queue,
// and the seat's windowing focus.
type Seat struct {
	name     string
	protocol Protocol
	wm       wire.WindowManager
	lockGate LockGate
	inhibitor InhibitorHost

	cursor *cursor.Cursor
	relay  *relay.Relay
	cons   *constraint.Manager
	queue  *dispatch.Queue
	groups []*keyboard.Group
	active *keyboard.Group

	drag *dnd.Session

	focus FocusTarget
	mods  keyboard.Modifiers

	buttonBindings    map[uint32]wire.Binding
	keyBindings       map[keyBindKey]wire.Binding
	activeKeyBindings map[wire.Binding]bool
	builtins          map[uint32]keyboard.BuiltinAction

	ensureNextKeyEaten bool
	ateUnboundKey      bool

	pendingInteraction    wire.HitResult
	hasPendingInteraction bool

	hiddenPopups    relay.PopupTree
	focusedPopupFor func(wire.Surface) relay.PopupTree
	outputW, outputH float64

	imGrab relay.Grab

	log *wlog.Logger
}

// New constructs a Seat with no keyboard groups and no focus target.
// scene and protocol must be non-nil; lockGate and inhibitor may be nil
// (a nil lockGate behaves as always-unlocked, a nil inhibitor as
// never-inhibited).
func New(name string, protocol Protocol, scene wire.Scene, wm wire.WindowManager, lockGate LockGate, inhibitor InhibitorHost) *Seat {
	s := &Seat{
		name:              name,
		protocol:          protocol,
		wm:                wm,
		lockGate:          lockGate,
		inhibitor:         inhibitor,
		buttonBindings:    make(map[uint32]wire.Binding),
		keyBindings:       make(map[keyBindKey]wire.Binding),
		activeKeyBindings: make(map[wire.Binding]bool),
		builtins:          make(map[uint32]keyboard.BuiltinAction),
		log:               wlog.Scoped(wlog.ScopeSeat),
	}
	proxy := &cursorHostProxy{}
	s.cons = constraint.NewManager(proxy, s)
	s.cursor = cursor.New(s, scene, s.cons)
	proxy.cursor = s.cursor
	s.relay = relay.New(s)
	s.queue = dispatch.New(s)
	return s
}

func (s *Seat) Name() string               { return s.name }
func (s *Seat) Cursor() *cursor.Cursor     { return s.cursor }
func (s *Seat) Relay() *relay.Relay        { return s.relay }
func (s *Seat) Constraints() *constraint.Manager { return s.cons }
func (s *Seat) Queue() *dispatch.Queue     { return s.queue }
func (s *Seat) Focus() FocusTarget         { return s.focus }

// SetHiddenPopupTree and SetPopupTreeResolver wire the relay's popup
// reparenting hooks; called once during seat construction by the server.
func (s *Seat) SetHiddenPopupTree(t relay.PopupTree)                     { s.hiddenPopups = t }
func (s *Seat) SetPopupTreeResolver(f func(wire.Surface) relay.PopupTree) { s.focusedPopupFor = f }
func (s *Seat) SetOutputBounds(w, h float64)                             { s.outputW, s.outputH = w, h }

// AddKeyboardGroup attaches a new physical-or-virtual keyboard group to
// the seat's fan-in (spec.md §4.4). repeat may be nil if the caller
// doesn't back key-repeat (e.g. virtual keyboards); a group with a nil
// repeat never repeats keys, including those delivered to the focus.
func (s *Seat) AddKeyboardGroup(keymap keyboard.Keymap, virtual bool, repeat keyboard.RepeatTimer) *keyboard.Group {
	g := keyboard.New(s, keymap, virtual, repeat)
	s.groups = append(s.groups, g)
	return g
}

// RemoveKeyboardGroup detaches a keyboard group (hot-unplug).
func (s *Seat) RemoveKeyboardGroup(g *keyboard.Group) {
	for i, gr := range s.groups {
		if gr == g {
			s.groups = append(s.groups[:i], s.groups[i+1:]...)
			break
		}
	}
	if s.active == g {
		s.active = nil
	}
}

// AddButtonBinding/AddKeyBinding/AddBuiltin register compositor bindings;
// building the binding table from config is out of scope here.
func (s *Seat) AddButtonBinding(button uint32, b wire.Binding) { s.buttonBindings[button] = b }
func (s *Seat) AddKeyBinding(keycode uint32, mods keyboard.Modifiers, b wire.Binding) {
	s.keyBindings[keyBindKey{keycode, mods}] = b
}
func (s *Seat) AddBuiltin(sym uint32, action keyboard.BuiltinAction) { s.builtins[sym] = action }

// StartDrag begins a drag-and-drop session sourced from this seat's
// pointer (spec.md §4.8).
func (s *Seat) StartDrag(icon dnd.Icon) *dnd.Session {
	s.drag = dnd.Start(icon, s.cursor)
	return s.drag
}

// StartTouchDrag begins a drag-and-drop session sourced from a specific
// touch point rather than the pointer (spec.md §4.8 "touch point if the
// drag originated from touch").
func (s *Seat) StartTouchDrag(icon dnd.Icon, touchID uint32) *dnd.Session {
	s.drag = dnd.Start(icon, touchDragSource{cursor: s.cursor, id: touchID})
	return s.drag
}

// EndDrag drops the seat's reference to a finished drag session.
func (s *Seat) EndDrag() { s.drag = nil }

// ProcessModifiers implements spec.md §4.4 "Modifier events": forwarded
// to every keyboard group's classification state, then to the
// input-method grab if active, else the focused client.
func (s *Seat) ProcessModifiers(mods keyboard.Modifiers) {
	s.mods = mods
	for _, g := range s.groups {
		g.SetModifiers(mods)
	}
	if s.relay.GrabActive() {
		s.protocol.SendModifiersToGrab(mods)
		return
	}
	if s.focus.Surface != nil {
		s.protocol.SendModifiers(s.focus.Surface, mods)
	}
}

// SetFocus implements spec.md §4.6 "Seat Focus": validates the
// transition, emits keyboard-enter/leave, triggers the relay's focus
// change, and reports whether the transition was accepted.
func (s *Seat) SetFocus(target FocusTarget) bool {
	locked := s.lockGate != nil && s.lockGate.Locked()
	if locked {
		if target.Kind != TargetNone && target.Kind != TargetLockSurface {
			s.log.Warn("denied non-lock focus target while locked", "kind", target.Kind)
			return false
		}
	} else if target.Kind == TargetLockSurface {
		s.log.Warn("denied lock_surface focus target while unlocked")
		return false
	}

	if s.inhibitor != nil {
		if client, active := s.inhibitor.ActiveInhibitorClient(); active {
			var targetClient wire.Client
			if target.Surface != nil {
				targetClient = target.Surface.Client()
			}
			if targetClient != client {
				s.log.Warn("denied focus target while an input-inhibitor is active for a different client")
				return false
			}
		}
	}

	// Override-redirect Xwayland holding focus across a window focus
	// change if it shares a process with the incoming target, so
	// override-redirect menus don't collapse their parent.
	if s.focus.Kind == TargetOverrideRedirect && target.Kind == TargetWindow && s.sameProcess(s.focus, target) {
		return true
	}

	old := s.focus
	if old.Surface != nil {
		s.protocol.SendKeyboardLeave(old.Surface)
	}
	s.focus = target
	if target.Surface != nil {
		s.protocol.SendKeyboardEnter(target.Surface)
	}
	s.relay.Focus(target.Surface)
	s.cons.OnKeyboardFocusChanged(target.Surface)
	s.wm.MarkDirty()
	return true
}

func (s *Seat) sameProcess(a, b FocusTarget) bool {
	if a.Surface == nil || b.Surface == nil {
		return false
	}
	ca, cb := a.Surface.Client(), b.Surface.Client()
	if ca == nil || cb == nil {
		return false
	}
	pid := ca.Pid()
	return pid != 0 && pid == cb.Pid()
}

// --- constraint.FocusHost ---

func (s *Seat) KeyboardFocusIsSurface(surf wire.Surface) bool { return s.focus.Surface == surf }

// --- keyboard.Host ---

func (s *Seat) StopRepeatAllGroups() {
	for _, g := range s.groups {
		g.StopRepeat()
	}
}

func (s *Seat) MatchBuiltin(sym uint32, mods keyboard.Modifiers) (keyboard.BuiltinAction, bool) {
	a, ok := s.builtins[sym]
	return a, ok
}

func (s *Seat) MatchXKBBinding(keycode uint32, mods keyboard.Modifiers) (wire.Binding, bool, bool) {
	b, ok := s.keyBindings[keyBindKey{keycode, mods}]
	if !ok {
		return nil, false, false
	}
	if s.activeKeyBindings[b] {
		return nil, true, true
	}
	s.activeKeyBindings[b] = true
	return bindingGate{seat: s, inner: b}, true, false
}

func (s *Seat) EnsureNextKeyEaten() bool { return s.ensureNextKeyEaten }
func (s *Seat) ClearEnsureNextKeyEaten() { s.ensureNextKeyEaten = false }
func (s *Seat) MarkAteUnboundKey()       { s.ateUnboundKey = true }
func (s *Seat) MarkWindowingDirty()      { s.wm.MarkDirty() }

// SetEnsureNextKeyEaten arms the next-key-eaten flag, e.g. when a client
// requests the compositor swallow the key following a keyboard grab
// request (spec.md §4.4 step 5).
func (s *Seat) SetEnsureNextKeyEaten() { s.ensureNextKeyEaten = true }

// TakeAteUnboundKey reports and clears whether the seat most recently ate
// an unbound key under ensure_next_key_eaten, for the window manager's
// dirty reconciliation pass to consume (spec.md §4.4 step 5, edge-triggered
// like every other windowing-dirty signal).
func (s *Seat) TakeAteUnboundKey() bool {
	v := s.ateUnboundKey
	s.ateUnboundKey = false
	return v
}

func (s *Seat) InputMethodGrabActive() bool { return s.relay.GrabActive() }

func (s *Seat) DeliverToIMGrab(g *keyboard.Group, keycode uint32, pressed bool) {
	s.protocol.SendKeyToIMGrab(keycode, pressed)
}

func (s *Seat) SetActiveKeyboard(g *keyboard.Group) { s.active = g }

func (s *Seat) DeliverToFocusedClient(keycode uint32, pressed bool) {
	if s.focus.Surface != nil {
		s.protocol.SendKey(s.focus.Surface, keycode, pressed)
	}
}

// --- relay.Host ---

func (s *Seat) KeyboardGrabSetActive(g relay.Grab) { s.imGrab = g }

func (s *Seat) ReemitModifiers() {
	if s.focus.Surface != nil {
		s.protocol.SendModifiers(s.focus.Surface, s.mods)
	}
}

func (s *Seat) HiddenPopupTree() relay.PopupTree { return s.hiddenPopups }

func (s *Seat) FocusedSurfacePopupTree(surf wire.Surface) relay.PopupTree {
	if s.focusedPopupFor == nil {
		return s.hiddenPopups
	}
	return s.focusedPopupFor(surf)
}

func (s *Seat) CurrentFocusedSurface() wire.Surface { return s.focus.Surface }

func (s *Seat) OutputBounds() (float64, float64) { return s.outputW, s.outputH }

// SendEnabledState forwards ti's surrounding-text/change-cause/
// content-type and a done event to the bound input method (spec.md §4.5
// "Enable/disable").
func (s *Seat) SendEnabledState(ti *relay.TextInput) {
	s.protocol.SendInputMethodState(ti.State.SurroundingText, ti.State.ChangeCause, ti.State.ContentType)
}

// SendDeactivated sends the input-method deactivate+done events for ti,
// the disable-side protocol send spec.md §4.5 requires.
func (s *Seat) SendDeactivated(ti *relay.TextInput) {
	s.protocol.SendInputMethodDeactivate()
}

// --- cursor.Host ---

func (s *Seat) DeliverMotion(surf wire.Surface, sx, sy float64) { s.protocol.SendPointerMotion(surf, sx, sy) }
func (s *Seat) DeliverButton(surf wire.Surface, button uint32, pressed bool) {
	s.protocol.SendPointerButton(surf, button, pressed)
}
func (s *Seat) DeliverAxis(surf wire.Surface, horiz, vert float64) { s.protocol.SendPointerAxis(surf, horiz, vert) }
func (s *Seat) DeliverFrame(surf wire.Surface)                     { s.protocol.SendPointerFrame(surf) }

func (s *Seat) DeliverTouchDown(surf wire.Surface, id uint32, sx, sy float64) {
	s.protocol.SendTouchDown(surf, id, sx, sy)
}
func (s *Seat) DeliverTouchMotion(surf wire.Surface, id uint32, sx, sy float64) {
	s.protocol.SendTouchMotion(surf, id, sx, sy)
}
func (s *Seat) DeliverTouchUp(id uint32)   { s.protocol.SendTouchUp(id) }
func (s *Seat) DeliverTouchCancel()        { s.protocol.SendTouchCancel() }

func (s *Seat) SetPointerEnter(surf wire.Surface, sx, sy float64) { s.protocol.SendPointerEnter(surf, sx, sy) }
func (s *Seat) SetPointerLeave(surf wire.Surface)                 { s.protocol.SendPointerLeave(surf) }

func (s *Seat) ForwardRelative(dx, dy, dxUnaccel, dyUnaccel float64) {
	s.protocol.SendRelativeMotion(dx, dy, dxUnaccel, dyUnaccel)
}
func (s *Seat) ForwardGesture(e cursor.GestureEvent) { s.protocol.SendGesture(e) }

func (s *Seat) MatchButtonBinding(button uint32) (wire.Binding, bool) {
	b, ok := s.buttonBindings[button]
	return b, ok
}

func (s *Seat) RecordInteraction(hit wire.HitResult) {
	s.pendingInteraction = hit
	s.hasPendingInteraction = true
	s.wm.MarkDirty()
}

// TakePendingInteraction reports and clears the most recent interaction
// (spec.md §4.3 "interaction side channel") for the window manager's
// next dirty-reconciliation pass to consume for click-to-focus,
// edge-triggered like TakeAteUnboundKey.
func (s *Seat) TakePendingInteraction() (wire.HitResult, bool) {
	hit, ok := s.pendingInteraction, s.hasPendingInteraction
	s.pendingInteraction = wire.HitResult{}
	s.hasPendingInteraction = false
	return hit, ok
}

func (s *Seat) WM() wire.WindowManager { return s.wm }

func (s *Seat) UpdateDragIcons(pos f32.Point) {
	if s.drag != nil {
		s.drag.FollowPointer()
	}
}

// --- dispatch.PointerFocus ---

func (s *Seat) SendPointerFrame() {
	if pf := s.cursor.PointerFocus(); pf != nil {
		s.protocol.SendPointerFrame(pf)
	}
}
