// Package virtualinput backs the compositor-side handling of the
// virtual-pointer-v1 and virtual-keyboard-unstable-v1 Wayland protocols
// (spec.md §6, "virtual input devices"): a client requests a virtual
// pointer or keyboard, and every wire request against it is injected as a
// real kernel input event through uinput, so the event flows back in
// through the normal libinput device-arrival path exactly like a
// physical device rather than being special-cased anywhere in
// internal/cursor or internal/keyboard.
package virtualinput

import (
	"fmt"

	"github.com/ThomasT75/uinput"

	"codeberg.org/river/river/internal/wlog"
)

// Linux evdev button codes (include/uapi/linux/input-event-codes.h),
// named the way the virtual-pointer-unstable-v1 protocol's
// BTN_LEFT/BTN_RIGHT/BTN_MIDDLE request arguments are: the wire value is
// forwarded to uinput unchanged, these exist only so callers outside this
// package don't need to hardcode the magic numbers.
const (
	BtnLeft   = 0x110
	BtnRight  = 0x111
	BtnMiddle = 0x112
	BtnSide   = 0x113
	BtnExtra  = 0x114
)

// Axis identifies a scroll axis, matching wl_pointer's vertical_scroll (0)
// / horizontal_scroll (1) numbering used by the virtual-pointer protocol.
type Axis uint32

const (
	AxisVertical   Axis = 0
	AxisHorizontal Axis = 1
)

// Mouse is the subset of github.com/ThomasT75/uinput's Mouse device this
// package drives. A narrow interface keeps VirtualPointer testable
// without a real /dev/uinput.
type Mouse interface {
	Move(dx, dy int32) error
	MoveTo(x, y int32) error
	LeftPress() error
	LeftRelease() error
	RightPress() error
	RightRelease() error
	MiddlePress() error
	MiddleRelease() error
	Wheel(horizontal bool, delta int32) error
	Close() error
}

// Keyboard is the subset of github.com/ThomasT75/uinput's Keyboard device
// this package drives.
type Keyboard interface {
	KeyDown(key int) error
	KeyUp(key int) error
	Close() error
}

// Factory constructs virtual input devices. realFactory backs it with
// /dev/uinput; tests substitute a fake.
type Factory interface {
	CreateMouse(name string) (Mouse, error)
	CreateKeyboard(name string) (Keyboard, error)
}

type realFactory struct{}

// NewFactory returns the production Factory, backed by
// github.com/ThomasT75/uinput against /dev/uinput.
func NewFactory() Factory { return realFactory{} }

func (realFactory) CreateMouse(name string) (Mouse, error) {
	return uinput.CreateMouse("/dev/uinput", []byte(name))
}

func (realFactory) CreateKeyboard(name string) (Keyboard, error) {
	return uinput.CreateKeyboard("/dev/uinput", []byte(name))
}

// VirtualPointer backs one zwlr_virtual_pointer_v1 object: every request
// the protocol defines translates directly into a uinput call, so no
// state beyond the open device is kept here (motion accumulation,
// axis-source bookkeeping and frame grouping belong to the client, not
// the compositor side).
type VirtualPointer struct {
	mouse Mouse
	log   *wlog.Logger
}

// NewVirtualPointer opens a virtual mouse device named for the requesting
// client (spec.md §6: "virtual devices are indistinguishable from
// physical ones once created").
func NewVirtualPointer(f Factory, clientName string) (*VirtualPointer, error) {
	m, err := f.CreateMouse("river virtual pointer (" + clientName + ")")
	if err != nil {
		return nil, fmt.Errorf("virtualinput: create mouse: %w", err)
	}
	return &VirtualPointer{mouse: m, log: wlog.Scoped(wlog.ScopeVirtualIn)}, nil
}

// Motion handles a relative wl_pointer-style motion request.
func (p *VirtualPointer) Motion(dx, dy float64) error {
	return p.mouse.Move(int32(dx), int32(dy))
}

// MotionAbsolute handles an absolute motion request, given a logical
// coordinate already resolved against the compositor's output layout.
func (p *VirtualPointer) MotionAbsolute(x, y float64) error {
	return p.mouse.MoveTo(int32(x), int32(y))
}

// Button handles a button request carrying a raw evdev button code
// (BtnLeft/BtnRight/BtnMiddle) and its pressed state. Side/extra buttons
// are not supported by the uinput binding and are reported as an error
// rather than silently dropped.
func (p *VirtualPointer) Button(code uint32, pressed bool) error {
	switch code {
	case BtnLeft:
		if pressed {
			return p.mouse.LeftPress()
		}
		return p.mouse.LeftRelease()
	case BtnRight:
		if pressed {
			return p.mouse.RightPress()
		}
		return p.mouse.RightRelease()
	case BtnMiddle:
		if pressed {
			return p.mouse.MiddlePress()
		}
		return p.mouse.MiddleRelease()
	default:
		return fmt.Errorf("virtualinput: unsupported button code %#x", code)
	}
}

// Axis handles a scroll request on the given axis, forwarding value as a
// discrete wheel step.
func (p *VirtualPointer) Axis(axis Axis, value float64) error {
	return p.mouse.Wheel(axis == AxisHorizontal, int32(value))
}

// Destroy closes the underlying uinput device, matching the protocol's
// destructor request.
func (p *VirtualPointer) Destroy() error {
	return p.mouse.Close()
}

// VirtualKeyboard backs one zwp_virtual_keyboard_v1 object. Unlike a
// physical keyboard it carries no keymap compilation of its own — the
// protocol's keymap request is accepted and ignored here, since every key
// event it subsequently injects is re-read by the seat's own
// internal/keyboard.Group through the normal key-event path once libinput
// reports the synthetic device, using whatever keymap is already active.
type VirtualKeyboard struct {
	kbd Keyboard
	log *wlog.Logger
}

// NewVirtualKeyboard opens a virtual keyboard device named for the
// requesting client.
func NewVirtualKeyboard(f Factory, clientName string) (*VirtualKeyboard, error) {
	k, err := f.CreateKeyboard("river virtual keyboard (" + clientName + ")")
	if err != nil {
		return nil, fmt.Errorf("virtualinput: create keyboard: %w", err)
	}
	return &VirtualKeyboard{kbd: k, log: wlog.Scoped(wlog.ScopeVirtualIn)}, nil
}

// Key handles a key request carrying a raw evdev keycode and its pressed
// state.
func (k *VirtualKeyboard) Key(keycode uint32, pressed bool) error {
	if pressed {
		return k.kbd.KeyDown(int(keycode))
	}
	return k.kbd.KeyUp(int(keycode))
}

// Keymap accepts the protocol's keymap request. The supplied fd/format/
// size describe a keymap the requesting client compiled for its own use;
// river's seat keeps using its own compiled keymap for every keyboard
// (physical or virtual) rather than switching per-device, so this is a
// deliberate no-op rather than an unimplemented one.
func (k *VirtualKeyboard) Keymap(format uint32, size uint32) error {
	k.log.Debug("ignoring client-supplied keymap for a virtual keyboard", "format", format, "size", size)
	return nil
}

// Modifiers accepts the protocol's modifiers request. Like Keymap, this
// is a deliberate no-op: a virtual keyboard's key events flow back
// through the normal libinput path and the seat recomputes modifier
// state itself from those, so there is nothing here to apply the
// client-reported mask to.
func (k *VirtualKeyboard) Modifiers(depressed, latched, locked, group uint32) error {
	return nil
}

// Destroy closes the underlying uinput device.
func (k *VirtualKeyboard) Destroy() error {
	return k.kbd.Close()
}
