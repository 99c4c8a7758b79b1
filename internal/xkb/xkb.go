// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux && !android || freebsd
// +build linux,!android freebsd

// Package xkb wraps libxkbcommon: compiling a keymap from RMLVO names,
// exporting it as a shared-memory file descriptor for clients, and
// resolving raw libinput keycodes to keysyms for internal/keyboard.
package xkb

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"codeberg.org/river/river/internal/keyboard"
)

/*
#cgo LDFLAGS: -lxkbcommon
#cgo freebsd CFLAGS: -I/usr/local/include
#cgo freebsd LDFLAGS: -L/usr/local/lib

#include <stdlib.h>
#include <string.h>
#include <xkbcommon/xkbcommon.h>
*/
import "C"

// Keymap owns a compiled xkb_keymap and the xkb_state tracking the
// compositor's authoritative modifier/group state for one seat.
type Keymap struct {
	ctx    *C.struct_xkb_context
	keyMap *C.struct_xkb_keymap
	state  *C.struct_xkb_state

	rate, delayMS int32

	mu         sync.Mutex
	canonical  *Keymap // self, unless consolidated with an identical keymap (see Equal)
	digest     string
	haveDigest bool
}

// Names are the RMLVO (rules, model, layout, variant, options) keymap
// components; an empty field asks libxkbcommon to use its system default.
type Names struct {
	Rules, Model, Layout, Variant, Options string
}

// New compiles a keymap from names. rate and delayMS seed RepeatInfo until
// a config overrides them.
func New(names Names, rate, delayMS int32) (*Keymap, error) {
	ctx := C.xkb_context_new(C.XKB_CONTEXT_NO_FLAGS)
	if ctx == nil {
		return nil, errors.New("xkb: xkb_context_new failed")
	}
	k := &Keymap{ctx: ctx, rate: rate, delayMS: delayMS}
	k.canonical = k

	var rmlvo C.struct_xkb_rule_names
	cstrs := make([]*C.char, 0, 5)
	set := func(field *C.char, s string) *C.char {
		if s == "" {
			return nil
		}
		c := C.CString(s)
		cstrs = append(cstrs, c)
		return c
	}
	rmlvo.rules = set(rmlvo.rules, names.Rules)
	rmlvo.model = set(rmlvo.model, names.Model)
	rmlvo.layout = set(rmlvo.layout, names.Layout)
	rmlvo.variant = set(rmlvo.variant, names.Variant)
	rmlvo.options = set(rmlvo.options, names.Options)
	defer func() {
		for _, c := range cstrs {
			C.free(unsafe.Pointer(c))
		}
	}()

	k.keyMap = C.xkb_keymap_new_from_names(k.ctx, &rmlvo, C.XKB_KEYMAP_COMPILE_NO_FLAGS)
	if k.keyMap == nil {
		k.Destroy()
		return nil, fmt.Errorf("xkb: xkb_keymap_new_from_names failed for %+v", names)
	}
	k.state = C.xkb_state_new(k.keyMap)
	if k.state == nil {
		k.Destroy()
		return nil, errors.New("xkb: xkb_state_new failed")
	}
	return k, nil
}

// Destroy releases every C resource. Safe to call more than once.
func (k *Keymap) Destroy() {
	if k.state != nil {
		C.xkb_state_unref(k.state)
		k.state = nil
	}
	if k.keyMap != nil {
		C.xkb_keymap_unref(k.keyMap)
		k.keyMap = nil
	}
	if k.ctx != nil {
		C.xkb_context_unref(k.ctx)
		k.ctx = nil
	}
}

// Keysym implements keyboard.Keymap. The effective modifier mask lives in
// the xkb_state maintained by UpdateMask (fed by raw modifier key events
// seen before this call), not in the mods parameter; mods is accepted to
// satisfy the interface and is otherwise unused here, matching how a real
// xkb_state tracks modifiers internally rather than per-lookup.
func (k *Keymap) Keysym(keycode uint32, _ keyboard.Modifiers) (uint32, bool) {
	kc := mapXKBKeyCode(keycode)
	sym := uint32(C.xkb_state_key_get_one_sym(k.state, C.xkb_keycode_t(kc)))
	return sym, isModifierKeysym(sym)
}

// RepeatInfo implements keyboard.Keymap.
func (k *Keymap) RepeatInfo() (rate, delayMS int32) { return k.rate, k.delayMS }

// SetRepeatInfo overrides the repeat rate/delay, e.g. from a config reload.
func (k *Keymap) SetRepeatInfo(rate, delayMS int32) { k.rate, k.delayMS = rate, delayMS }

// UpdateMask feeds a wl_keyboard.modifiers event into the xkb_state.
func (k *Keymap) UpdateMask(depressed, latched, locked, group uint32) {
	g := C.xkb_layout_index_t(group)
	C.xkb_state_update_mask(k.state, C.xkb_mod_mask_t(depressed), C.xkb_mod_mask_t(latched), C.xkb_mod_mask_t(locked), g, g, g)
}

// IsRepeatKey reports whether the keymap marks keycode as repeatable.
func (k *Keymap) IsRepeatKey(keycode uint32) bool {
	kc := mapXKBKeyCode(keycode)
	return C.xkb_keymap_key_repeats(k.keyMap, C.xkb_keycode_t(kc)) == 1
}

// ExportFD serializes the keymap as text and returns a memfd, sealed
// against resizing where the kernel allows it, ready to hand to a client's wl_keyboard.keymap event, plus its size
// (the Wayland protocol's convention of the buffer including the trailing
// NUL).
func (k *Keymap) ExportFD() (fd int, size int, err error) {
	cstr := C.xkb_keymap_get_as_string(k.keyMap, C.XKB_KEYMAP_FORMAT_TEXT_V1)
	if cstr == nil {
		return -1, 0, errors.New("xkb: xkb_keymap_get_as_string failed")
	}
	defer C.free(unsafe.Pointer(cstr))
	str := C.GoString(cstr)
	size = len(str) + 1

	memfd, err := unix.MemfdCreate("river-keymap", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, 0, fmt.Errorf("xkb: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(memfd, int64(size)); err != nil {
		unix.Close(memfd)
		return -1, 0, fmt.Errorf("xkb: ftruncate: %w", err)
	}
	data, err := unix.Mmap(memfd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(memfd)
		return -1, 0, fmt.Errorf("xkb: mmap: %w", err)
	}
	copy(data, str)
	data[len(str)] = 0
	unix.Munmap(data)

	if _, err := unix.FcntlInt(uintptr(memfd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL); err != nil {
		// Sealing is best-effort: some kernels/memfd backends reject it.
		k.sealFailed(err)
	}
	return memfd, size, nil
}

func (k *Keymap) sealFailed(err error) {}

// Equal reports whether k and other compile to the identical keymap text
// (spec.md §9 open question). The first comparison between two distinct
// keymaps does the expensive string comparison; a match consolidates
// other's canonical pointer onto k's so a later comparison between other
// and any keymap sharing k's canonical pointer is a pointer check. Keymaps
// that were consolidated onto other earlier keep their old pointer.
func (k *Keymap) Equal(other *Keymap) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if other == nil {
		return false
	}
	if k.canonical == other.canonical {
		return true
	}
	if k.digestString() != other.digestString() {
		return false
	}
	other.canonical = k.canonical
	return true
}

func (k *Keymap) digestString() string {
	if k.haveDigest {
		return k.digest
	}
	cstr := C.xkb_keymap_get_as_string(k.keyMap, C.XKB_KEYMAP_FORMAT_TEXT_V1)
	if cstr != nil {
		k.digest = C.GoString(cstr)
		C.free(unsafe.Pointer(cstr))
	}
	k.haveDigest = true
	return k.digest
}

func mapXKBKeyCode(keycode uint32) uint32 {
	// The xkb wire format requires clients to add 8 to the evdev keycode.
	return keycode + 8
}

// isModifierKeysym reports whether sym is one of the keysyms XKB reserves
// for modifier keys, excluded from the keyboard group's ensure-eaten
// consumption rule (spec.md §4.4 step 5).
func isModifierKeysym(sym uint32) bool {
	switch sym {
	case C.XKB_KEY_Shift_L, C.XKB_KEY_Shift_R,
		C.XKB_KEY_Control_L, C.XKB_KEY_Control_R,
		C.XKB_KEY_Alt_L, C.XKB_KEY_Alt_R,
		C.XKB_KEY_Super_L, C.XKB_KEY_Super_R,
		C.XKB_KEY_Meta_L, C.XKB_KEY_Meta_R,
		C.XKB_KEY_Caps_Lock, C.XKB_KEY_Shift_Lock,
		C.XKB_KEY_Num_Lock, C.XKB_KEY_ISO_Level3_Shift:
		return true
	default:
		return false
	}
}
