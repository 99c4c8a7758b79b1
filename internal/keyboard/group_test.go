package keyboard

import (
	"testing"
	"time"

	"codeberg.org/river/river/internal/wire"
)

// fakeRepeatTimer records Start/Stop calls without actually firing on a
// wall clock; tests invoke Fire manually to simulate ticks.
type fakeRepeatTimer struct {
	running bool
	starts  int
	stops   int
	fire    func()
}

func (t *fakeRepeatTimer) StartRepeat(delay time.Duration, rate int32, fire func()) {
	t.running = true
	t.starts++
	t.fire = fire
}

func (t *fakeRepeatTimer) Stop() {
	t.running = false
	t.stops++
}

// fakeKeymap resolves every keycode to itself as a keysym, treating
// keycodes >= 1000 as modifiers.
type fakeKeymap struct{}

func (fakeKeymap) Keysym(keycode uint32, mods Modifiers) (uint32, bool) {
	return keycode, keycode >= 1000
}

func (fakeKeymap) RepeatInfo() (int32, int32) { return 25, 600 }

// testBinding counts press/release deliveries for assertions.
type testBinding struct {
	presses, releases int
}

func (b *testBinding) Pressed()  { b.presses++ }
func (b *testBinding) Released() { b.releases++ }

type bindingSpec struct {
	binding wire.Binding
	nullRef bool
}

type delivery struct {
	keycode uint32
	pressed bool
}

// fakeHost is a minimal, fully-controllable Host for unit tests. Every
// knob defaults to "fall through to consumerFocus".
type fakeHost struct {
	builtins        map[uint32]BuiltinAction
	bindings        map[uint32]bindingSpec
	ensureNext      bool
	imGrabActive    bool
	ateUnbound      int
	dirty           int
	repeatStops     int
	active          *Group
	imDeliveries    []delivery
	focusDeliveries []delivery
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		builtins: make(map[uint32]BuiltinAction),
		bindings: make(map[uint32]bindingSpec),
	}
}

func (h *fakeHost) StopRepeatAllGroups() { h.repeatStops++ }

func (h *fakeHost) MatchBuiltin(sym uint32, mods Modifiers) (BuiltinAction, bool) {
	a, ok := h.builtins[sym]
	return a, ok
}

func (h *fakeHost) MatchXKBBinding(keycode uint32, mods Modifiers) (wire.Binding, bool, bool) {
	spec, ok := h.bindings[keycode]
	if !ok {
		return nil, false, false
	}
	return spec.binding, true, spec.nullRef
}

func (h *fakeHost) EnsureNextKeyEaten() bool {
	if h.ensureNext {
		h.ensureNext = false
		return true
	}
	return false
}

func (h *fakeHost) ClearEnsureNextKeyEaten()    { h.ensureNext = false }
func (h *fakeHost) MarkAteUnboundKey()          { h.ateUnbound++ }
func (h *fakeHost) MarkWindowingDirty()         { h.dirty++ }
func (h *fakeHost) InputMethodGrabActive() bool { return h.imGrabActive }

func (h *fakeHost) DeliverToIMGrab(g *Group, keycode uint32, pressed bool) {
	h.imDeliveries = append(h.imDeliveries, delivery{keycode, pressed})
}

func (h *fakeHost) SetActiveKeyboard(g *Group) { h.active = g }

func (h *fakeHost) DeliverToFocusedClient(keycode uint32, pressed bool) {
	h.focusDeliveries = append(h.focusDeliveries, delivery{keycode, pressed})
}

func TestFocusPressRelease(t *testing.T) {
	h := newFakeHost()
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(30, true)
	g.ProcessKey(30, false)

	if len(h.focusDeliveries) != 2 {
		t.Fatalf("want 2 deliveries, got %d", len(h.focusDeliveries))
	}
	if h.focusDeliveries[0] != (delivery{30, true}) || h.focusDeliveries[1] != (delivery{30, false}) {
		t.Fatalf("unexpected deliveries: %+v", h.focusDeliveries)
	}
	if g.PressedCount() != 0 {
		t.Fatalf("pressed table should be empty after release, got %d", g.PressedCount())
	}
}

func TestBindingFixedAtPressSurvivesGrabChange(t *testing.T) {
	h := newFakeHost()
	b := &testBinding{}
	h.bindings[50] = bindingSpec{binding: b}
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(50, true)
	// Global state changes between press and release (e.g. focus moved,
	// grab installed); the release must still go to the same binding.
	h.bindings = map[uint32]bindingSpec{}
	h.imGrabActive = true
	g.ProcessKey(50, false)

	if b.presses != 1 || b.releases != 1 {
		t.Fatalf("binding should see exactly one press and one release, got %+v", b)
	}
	if len(h.focusDeliveries) != 0 || len(h.imDeliveries) != 0 {
		t.Fatalf("bound key must never reach focus or im grab")
	}
}

func TestDuplicatePressIsDroppedNotReclassified(t *testing.T) {
	h := newFakeHost()
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(10, true)
	g.ProcessKey(10, true) // duplicate, should only bump count
	if len(h.focusDeliveries) != 1 {
		t.Fatalf("duplicate press must not be redelivered, got %d deliveries", len(h.focusDeliveries))
	}
	g.ProcessKey(10, false)
	if g.pressed[10] == nil {
		// still has one outstanding release to absorb the duplicate count
	} else if g.pressed[10].count != 1 {
		t.Fatalf("want residual count 1 after one release of a double-pressed key")
	}
	g.ProcessKey(10, false)
	if len(h.focusDeliveries) != 2 {
		t.Fatalf("want a single release delivery once count reaches zero, got %d", len(h.focusDeliveries))
	}
}

func TestOrphanReleaseIsDropped(t *testing.T) {
	h := newFakeHost()
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(99, false)
	if len(h.focusDeliveries) != 0 {
		t.Fatalf("orphan release must not deliver anything")
	}
}

// TestCapacityCap is property P2: the pressed set never exceeds Capacity,
// and a press that would overflow it never appears in a later release.
func TestCapacityCap(t *testing.T) {
	h := newFakeHost()
	g := New(h, fakeKeymap{}, false, nil)

	for kc := uint32(1); kc <= Capacity+5; kc++ {
		g.ProcessKey(kc, true)
	}
	if g.PressedCount() != Capacity {
		t.Fatalf("want %d pressed, got %d", Capacity, g.PressedCount())
	}

	// Releasing the keys that were dropped on arrival must be a silent
	// no-op (they were never recorded as pressed).
	before := len(h.focusDeliveries)
	for kc := uint32(Capacity + 1); kc <= Capacity+5; kc++ {
		g.ProcessKey(kc, false)
	}
	if len(h.focusDeliveries) != before {
		t.Fatalf("release of a dropped press must not deliver")
	}
}

func TestEnsureNextKeyEatenConsumesFlagOnce(t *testing.T) {
	h := newFakeHost()
	h.ensureNext = true
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(5, true)
	if h.ateUnbound != 1 || h.dirty != 1 {
		t.Fatalf("want ate-unbound-key marked and windowing dirtied once")
	}
	if len(h.focusDeliveries) != 0 {
		t.Fatalf("ensure-eaten consumer must never deliver to the client")
	}

	// Flag is now cleared: a second unbound key goes to focus.
	g.ProcessKey(6, true)
	if len(h.focusDeliveries) != 1 {
		t.Fatalf("second key should fall through to focus consumer")
	}
}

func TestModifierNeverConsumedByEnsureEaten(t *testing.T) {
	h := newFakeHost()
	h.ensureNext = true
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(1000, true) // fakeKeymap treats >=1000 as a modifier
	if h.ateUnbound != 0 {
		t.Fatalf("a modifier keysym must not satisfy the ensure-eaten rule")
	}
	if len(h.focusDeliveries) != 1 {
		t.Fatalf("modifier falls through to focus consumer")
	}
}

func TestVirtualKeyboardBypassesIMGrab(t *testing.T) {
	h := newFakeHost()
	h.imGrabActive = true
	g := New(h, fakeKeymap{}, true, nil)

	g.ProcessKey(20, true)
	if len(h.imDeliveries) != 0 {
		t.Fatalf("virtual keyboard must bypass the input-method grab")
	}
	if len(h.focusDeliveries) != 1 {
		t.Fatalf("virtual keyboard press should fall through to focus")
	}
}

func TestIMGrabRoutesNonVirtualKeyboard(t *testing.T) {
	h := newFakeHost()
	h.imGrabActive = true
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(21, true)
	g.ProcessKey(21, false)
	if len(h.imDeliveries) != 2 {
		t.Fatalf("want press+release delivered to im grab, got %d", len(h.imDeliveries))
	}
}

func TestBuiltinNeverDeliveredToClient(t *testing.T) {
	h := newFakeHost()
	var fired int
	h.builtins[9999] = func() { fired++ }
	g := New(h, fakeKeymap{}, false, nil)

	g.ProcessKey(9999, true)
	g.ProcessKey(9999, false)

	if fired != 1 {
		t.Fatalf("builtin action should fire exactly once, on press")
	}
	if len(h.focusDeliveries) != 0 || len(h.imDeliveries) != 0 {
		t.Fatalf("builtin key must never reach a client")
	}
}

func TestFocusPressStartsRepeatAndReleaseStopsIt(t *testing.T) {
	h := newFakeHost()
	repeat := &fakeRepeatTimer{}
	g := New(h, fakeKeymap{}, false, repeat)

	g.ProcessKey(30, true)
	if repeat.starts != 1 || !repeat.running {
		t.Fatalf("want key-repeat armed on a focus-consumer non-modifier press")
	}

	repeat.fire()
	if len(h.focusDeliveries) != 2 || h.focusDeliveries[1] != (delivery{30, true}) {
		t.Fatalf("want a repeated press delivered on fire, got %+v", h.focusDeliveries)
	}

	g.ProcessKey(30, false)
	if repeat.stops != 1 || repeat.running {
		t.Fatalf("want key-repeat stopped on release")
	}
}

func TestModifierPressDoesNotStartRepeat(t *testing.T) {
	h := newFakeHost()
	repeat := &fakeRepeatTimer{}
	g := New(h, fakeKeymap{}, false, repeat)

	g.ProcessKey(1000, true) // fakeKeymap treats >=1000 as a modifier
	if repeat.starts != 0 {
		t.Fatalf("want no repeat armed for a modifier press")
	}
}
