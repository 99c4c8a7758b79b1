// Package keyboard implements the Keyboard Group component (spec.md
// §4.4): fanning N physical keyboards into one logical keyboard, routing
// every key to exactly one consumer, and guaranteeing press/release
// pairing under hot-swap, mode changes, and grab transitions.
package keyboard

import (
	"time"

	"codeberg.org/river/river/internal/wire"
	"codeberg.org/river/river/internal/wlog"
)

// Capacity is the N-key-rollover ceiling spec.md §3/§4.4 imposes: a press
// that would exceed it is dropped and never appears in a later release
// (property P2).
const Capacity = 32

// Modifiers is the effective XKB modifier mask at the time of a key event.
type Modifiers uint32

// Keymap is the compiled keymap a Group consults to resolve a libinput
// keycode (already seen by processKey) to a keysym and to classify
// modifier keys. The concrete implementation lives in internal/xkb and
// wraps libxkbcommon; tests use a fake.
type Keymap interface {
	// Keysym resolves keycode (libinput numbering) under the current
	// modifier state to an XKB keysym, and reports whether that keysym is
	// itself a modifier (so step 5 of classification can exclude it).
	Keysym(keycode uint32, mods Modifiers) (sym uint32, isModifier bool)
	// RepeatInfo returns the keymap's repeat rate (keys/sec) and delay
	// (ms) for the repeat timer supplementing spec.md §4.4 step 1.
	RepeatInfo() (rate, delayMS int32)
}

// consumerKind is the tag on a pressed-table entry (spec.md §3 "Consumer
// tag").
type consumerKind uint8

const (
	consumerBuiltin consumerKind = iota
	consumerBinding
	consumerEnsureEaten
	consumerIMGrab
	consumerFocus
)

// pressEntry is the fixed-at-press-time record backing the "release is
// delivered to the same consumer as the press" invariant (spec.md §3,
// property P1).
type pressEntry struct {
	kind        consumerKind
	binding     wire.Binding // non-nil only for consumerBinding with a live ref
	count       int
	nonModifier bool // true for a consumerFocus press eligible for key-repeat
}

// RepeatTimer is the key-repeat timer a Group starts on a focus-consumer
// non-modifier press and stops on release or on the next classification
// pass (supplemented from spec.md §4.4 step 1, "stop any key-repeat" —
// the spec never says what starts it). The event loop backs this with a
// real recurring timer; tests back it with a fake.
type RepeatTimer interface {
	// StartRepeat arms an initial fire after delay, then fire repeatedly
	// every 1/rate seconds, until Stop is called.
	StartRepeat(delay time.Duration, rate int32, fire func())
	Stop()
}

// BuiltinAction is a compositor-owned built-in command (VT switch,
// Ctrl+Alt+Delete) invoked directly by classification; it is never
// forwarded to any client.
type BuiltinAction func()

// Host is everything a Group needs from the seat it belongs to in order
// to classify and deliver a key. A real Seat implements this; tests use a
// fake. Keeping this as a narrow interface (rather than importing the
// seat package) avoids an import cycle, since a seat owns one Group per
// physical+virtual keyboard.
type Host interface {
	// StopRepeatAllGroups stops any key-repeat timer tracked by the
	// pressed table of every keyboard group on the seat (spec.md §4.4
	// step 1), including this one.
	StopRepeatAllGroups()
	// MatchBuiltin reports a built-in action for (sym, mods), if any.
	MatchBuiltin(sym uint32, mods Modifiers) (BuiltinAction, bool)
	// MatchXKBBinding reports the seat's compositor key binding for
	// (keycode, mods) on press, and whether the returned reference
	// should be nil because another keyboard group on the seat has
	// already delivered a press for this same binding (spec.md §4.4 step
	// 4, "to preserve single press/release pairing across the fan-in").
	MatchXKBBinding(keycode uint32, mods Modifiers) (b wire.Binding, matched bool, nullRef bool)
	// EnsureNextKeyEaten reports the seat's ensure_next_key_eaten flag;
	// ClearEnsureNextKeyEaten clears it, called when a binding matches
	// (step 4) and when a non-modifier key is eaten per step 5.
	EnsureNextKeyEaten() bool
	ClearEnsureNextKeyEaten()
	MarkAteUnboundKey()
	MarkWindowingDirty()
	// InputMethodGrabActive reports whether an input-method keyboard
	// grab currently claims non-virtual keyboards (spec.md §4.4 step 6).
	InputMethodGrabActive() bool
	DeliverToIMGrab(g *Group, keycode uint32, pressed bool)
	// SetActiveKeyboard designates g as the seat's currently-active
	// keyboard (spec.md §4.4 "focus" consumer and §4.4 Teardown).
	SetActiveKeyboard(g *Group)
	DeliverToFocusedClient(keycode uint32, pressed bool)
}

// Group merges N physical keyboards into one logical keyboard.
type Group struct {
	host    Host
	keymap  Keymap
	virtual bool // bypasses input-method grabs (spec.md §4.4 "known upstream limitation")
	mods    Modifiers

	pressed map[uint32]*pressEntry

	repeat          RepeatTimer
	repeating       bool
	repeatingKeycode uint32

	log *wlog.Logger
}

// New constructs a Group. virtual marks a virtual-keyboard protocol
// object, which never receives input-method grab delivery. repeat may be
// nil if key-repeat is not backed (e.g. in tests that don't exercise it).
func New(host Host, keymap Keymap, virtual bool, repeat RepeatTimer) *Group {
	return &Group{
		host:    host,
		keymap:  keymap,
		virtual: virtual,
		repeat:  repeat,
		pressed: make(map[uint32]*pressEntry),
		log:     wlog.Scoped(wlog.ScopeKeyboard),
	}
}

// StopRepeat cancels this group's key-repeat timer, if one is running. A
// Host's StopRepeatAllGroups fans this out across every group on the seat
// (spec.md §4.4 step 1, "stop any key-repeat... on all keyboard groups").
func (g *Group) StopRepeat() {
	if g.repeating {
		g.repeat.Stop()
		g.repeating = false
	}
}

// SetModifiers updates the modifier state classification consults. The
// caller (the protocol binding layer, out of scope here) is responsible
// for forwarding the raw modifier event to the input-method grab or the
// focused client per spec.md §4.4 "Modifier events"; this method only
// updates local state used by the next ProcessKey classification.
func (g *Group) SetModifiers(mods Modifiers) {
	g.mods = mods
}

// PressedCount reports the number of distinct keycodes currently tracked,
// exercised by property P2.
func (g *Group) PressedCount() int { return len(g.pressed) }

// ProcessKey is the single entry point for a raw libinput key event
// (spec.md §4.4 "Key arrival"). pressed is true for a press, false for a
// release.
func (g *Group) ProcessKey(keycode uint32, pressed bool) {
	entry, exists := g.pressed[keycode]
	switch {
	case exists && pressed:
		// Duplicate press on an already-tracked key: a no-op count bump,
		// not a fresh classification (spec.md "Duplicate press protection").
		entry.count++
	case exists && !pressed:
		entry.count--
		if entry.count > 0 {
			return
		}
		delete(g.pressed, keycode)
		g.deliverRelease(keycode, entry)
	case !exists && !pressed:
		g.log.Warn("release with no matching press", "keycode", keycode)
	case !exists && pressed:
		if len(g.pressed) >= Capacity {
			g.log.Warn("pressed-key capacity exceeded, dropping press", "keycode", keycode)
			return
		}
		entry := g.classify(keycode)
		g.pressed[keycode] = entry
		g.deliverPress(keycode, entry)
	}
}

// classify implements spec.md §4.4 "Classification (on true press)".
func (g *Group) classify(keycode uint32) *pressEntry {
	g.host.StopRepeatAllGroups()

	sym, isMod := g.keymap.Keysym(keycode, g.mods)

	if action, ok := g.host.MatchBuiltin(sym, g.mods); ok {
		return &pressEntry{kind: consumerBuiltin, count: 1, binding: builtinBinding(action)}
	}

	if b, matched, nullRef := g.host.MatchXKBBinding(keycode, g.mods); matched {
		g.host.ClearEnsureNextKeyEaten()
		if nullRef {
			b = nil
		}
		return &pressEntry{kind: consumerBinding, binding: b, count: 1}
	}

	if !isMod && g.host.EnsureNextKeyEaten() {
		g.host.ClearEnsureNextKeyEaten()
		g.host.MarkAteUnboundKey()
		g.host.MarkWindowingDirty()
		return &pressEntry{kind: consumerEnsureEaten, count: 1}
	}

	if !g.virtual && g.host.InputMethodGrabActive() {
		return &pressEntry{kind: consumerIMGrab, count: 1}
	}

	g.host.SetActiveKeyboard(g)
	return &pressEntry{kind: consumerFocus, count: 1, nonModifier: !isMod}
}

func (g *Group) deliverPress(keycode uint32, e *pressEntry) {
	g.deliver(keycode, e, true)
	if e.kind == consumerFocus && e.nonModifier && g.repeat != nil {
		rate, delayMS := g.keymap.RepeatInfo()
		if rate > 0 && delayMS >= 0 {
			g.repeating = true
			g.repeatingKeycode = keycode
			g.repeat.StartRepeat(time.Duration(delayMS)*time.Millisecond, rate, func() {
				g.host.DeliverToFocusedClient(keycode, true)
			})
		}
	}
}

func (g *Group) deliverRelease(keycode uint32, e *pressEntry) {
	if g.repeating && g.repeatingKeycode == keycode {
		g.StopRepeat()
	}
	g.deliver(keycode, e, false)
}

func (g *Group) deliver(keycode uint32, e *pressEntry, pressed bool) {
	switch e.kind {
	case consumerBuiltin:
		if pressed {
			e.binding.Pressed()
		} else {
			e.binding.Released()
		}
	case consumerBinding:
		if e.binding == nil {
			return
		}
		if pressed {
			e.binding.Pressed()
		} else {
			e.binding.Released()
		}
	case consumerEnsureEaten:
		// Dropped: never forwarded anywhere.
	case consumerIMGrab:
		g.host.DeliverToIMGrab(g, keycode, pressed)
	case consumerFocus:
		g.host.DeliverToFocusedClient(keycode, pressed)
	}
}

// builtinBinding adapts a BuiltinAction (invoked once, on press) to the
// wire.Binding interface so it can share the pressEntry delivery path; its
// Released is a no-op, matching spec.md scenario 6 ("releasing it does not
// produce any client event").
type builtinAction struct{ fn BuiltinAction }

func builtinBinding(fn BuiltinAction) wire.Binding { return builtinAction{fn} }

func (b builtinAction) Pressed()  { b.fn() }
func (b builtinAction) Released() {}
