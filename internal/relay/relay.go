// Package relay implements the Input-Method / Text-Input Relay component
// (spec.md §4.5): brokering preedit/commit state and keyboard grabs
// between a single bound input-method client and every text-input object
// on the seat, keyed by focused surface.
package relay

import (
	"codeberg.org/river/river/internal/wire"
	"codeberg.org/river/river/internal/wlog"
)

// Rectangle is the text-input's published cursor rectangle, in
// surface-local coordinates (spec.md §4.5 "Popups").
type Rectangle struct {
	X, Y, W, H float64
}

// TextInputState is what sendInputMethodState forwards to the method.
type TextInputState struct {
	SurroundingText string
	ChangeCause     uint32
	ContentType     uint32
	CursorRect      Rectangle
}

// TextInput is a client's zwp_text_input_v3-like object.
type TextInput struct {
	Client         wire.Client
	FocusedSurface wire.Surface
	Enabled        bool
	State          TextInputState

	// Popup is the surface tree this text-input's popups currently
	// reparent to; the host's hidden popup tree once disabled.
	Popup PopupTree
}

// PopupTree is the scene-side handle a popup reparents onto; either the
// focused surface's popup tree or a hidden one.
type PopupTree interface {
	Reparent(popup Popup)
}

// Popup is one input-method popup surface (candidate window, etc).
type Popup interface {
	PlaceAt(rect Rectangle, anchorLeft, anchorBottom bool)
}

// Grab is the input method's keyboard grab object; destroying it re-emits
// modifier state on the non-grabbed path (spec.md §4.5 "Keyboard grab").
type Grab interface {
	Destroyed() bool
}

// InputMethod is a client's zwp_input_method_v2-like object.
type InputMethod struct {
	Client     wire.Client
	ClientActive bool // true once the method has committed at least once since binding
	Grab       Grab
}

// Host is everything the relay needs from its owning Seat.
type Host interface {
	// KeyboardGrabSetActive hands the seat the input method's new keyboard
	// grab (spec.md §4.5 "Keyboard grab"). Grab carries no keyboard
	// reference, so no keyboard group is attached to the grab here.
	KeyboardGrabSetActive(g Grab)
	// ReemitModifiers resends the current modifier state on the
	// non-grabbed (focus) path, called when a grab is destroyed.
	ReemitModifiers()
	HiddenPopupTree() PopupTree
	FocusedSurfacePopupTree(s wire.Surface) PopupTree
	CurrentFocusedSurface() wire.Surface
	OutputBounds() (w, h float64)

	// SendEnabledState forwards ti's surrounding-text/change-cause/
	// content-type and a done event to the bound input method (spec.md
	// §4.5 "Enable/disable"). Only called while a method is bound.
	SendEnabledState(ti *TextInput)
	// SendDeactivated sends the input-method deactivate+done events for
	// ti (spec.md §4.5 "disable it (send input-method deactivate +
	// done, reparent popups to hidden)"). Only called while a method is
	// bound.
	SendDeactivated(ti *TextInput)
}

// Relay owns the seat's single bound input method and every text-input
// attached to the seat.
type Relay struct {
	host Host

	method     *InputMethod
	textInputs []*TextInput

	log *wlog.Logger
}

func New(host Host) *Relay {
	return &Relay{host: host, log: wlog.Scoped(wlog.ScopeRelay)}
}

// AddTextInput registers a text-input object with the relay; it starts
// disabled with no focused surface.
func (r *Relay) AddTextInput() *TextInput {
	ti := &TextInput{}
	r.textInputs = append(r.textInputs, ti)
	return ti
}

// RemoveTextInput drops a text-input from the relay (on destroy).
func (r *Relay) RemoveTextInput(ti *TextInput) {
	for i, t := range r.textInputs {
		if t == ti {
			r.textInputs = append(r.textInputs[:i], r.textInputs[i+1:]...)
			return
		}
	}
}

// BindMethod implements spec.md §4.5 "Binding an input method" (property
// P7: at most one input method per seat). onUnavailable is invoked
// synchronously (and the method dropped) if one is already bound.
func (r *Relay) BindMethod(m *InputMethod, onUnavailable func()) {
	if r.method != nil {
		if onUnavailable != nil {
			onUnavailable()
		}
		return
	}
	r.method = m
	r.Focus(r.host.CurrentFocusedSurface())
}

// UnbindMethod drops the seat's bound input method (on its destroy
// event), disabling whatever text-input was enabled.
func (r *Relay) UnbindMethod() {
	if r.method == nil {
		return
	}
	r.method = nil
	for _, ti := range r.textInputs {
		if ti.Enabled {
			r.disable(ti)
		}
	}
}

// HasMethod reports whether a method is currently bound.
func (r *Relay) HasMethod() bool { return r.method != nil }

// GrabActive reports whether the bound method currently holds a keyboard
// grab (spec.md §4.4 step 6 "input-method keyboard grab is active").
func (r *Relay) GrabActive() bool { return r.method != nil && r.method.Grab != nil }

// Focus implements spec.md §4.5 "Focus change". newSurface is the seat's
// new windowing focus target's surface, or nil.
func (r *Relay) Focus(newSurface wire.Surface) {
	for _, ti := range r.textInputs {
		if ti.FocusedSurface == nil {
			continue
		}
		if ti.FocusedSurface == newSurface {
			// Should never happen: a text-input can't already be focused
			// on the surface focus is changing to. The core never panics
			// on an internal invariant violation; log and leave the
			// text-input's state untouched instead.
			r.log.Warn("focus(s) called with a text-input already focused on s")
			continue
		}
		ti.FocusedSurface = nil
		if ti.Enabled {
			r.disable(ti)
		}
	}
	if newSurface == nil || r.method == nil {
		return
	}
	client := newSurface.Client()
	for _, ti := range r.textInputs {
		if ti.Client == client {
			ti.FocusedSurface = newSurface
		}
	}
}

// Enable implements spec.md §4.5 "Enable/disable": a client commits
// `enabled` on a text-input.
func (r *Relay) Enable(ti *TextInput) {
	for _, other := range r.textInputs {
		if other != ti && other.Enabled {
			r.disable(other)
		}
	}
	ti.Enabled = true
	r.sendInputMethodState(ti)
}

func (r *Relay) sendInputMethodState(ti *TextInput) {
	if r.method == nil {
		return
	}
	r.host.SendEnabledState(ti)
}

// Disable implements the client-initiated half of enable/disable.
func (r *Relay) Disable(ti *TextInput) {
	if !ti.Enabled {
		return
	}
	r.disable(ti)
}

func (r *Relay) disable(ti *TextInput) {
	ti.Enabled = false
	if r.method != nil {
		r.host.SendDeactivated(ti)
	}
	ti.Popup = r.host.HiddenPopupTree()
}

// MethodCommit implements spec.md §4.5 "Input-method commit": forwards
// preedit/commit/delete-surrounding to the enabled text-input. A no-op if
// the method is not client-active or no text-input is enabled.
func (r *Relay) MethodCommit(apply func(ti *TextInput)) {
	if r.method == nil || !r.method.ClientActive {
		return
	}
	ti := r.enabledTextInput()
	if ti == nil {
		return
	}
	apply(ti)
}

func (r *Relay) enabledTextInput() *TextInput {
	for _, ti := range r.textInputs {
		if ti.Enabled {
			return ti
		}
	}
	return nil
}

// GrabKeyboard implements spec.md §4.5 "Keyboard grab" creation.
func (r *Relay) GrabKeyboard(g Grab) {
	if r.method != nil {
		r.method.Grab = g
	}
	r.host.KeyboardGrabSetActive(g)
}

// DestroyGrab implements the grab-destroy half: re-emit modifier state on
// the non-grabbed path.
func (r *Relay) DestroyGrab() {
	if r.method != nil {
		r.method.Grab = nil
	}
	r.host.ReemitModifiers()
}

// PlacePopup implements spec.md §4.5 "Popups": anchor popup at the enabled
// text-input's cursor rectangle, falling back to keep it on the output.
func (r *Relay) PlacePopup(p Popup) {
	ti := r.enabledTextInput()
	if ti == nil {
		if tree := r.host.HiddenPopupTree(); tree != nil {
			tree.Reparent(p)
		}
		return
	}
	rect := ti.State.CursorRect
	w, h := r.host.OutputBounds()

	anchorLeft := true
	if rect.X+rect.W > w {
		anchorLeft = false // fall back to right-align so the popup fits
	}
	anchorBottom := true
	if rect.Y+rect.H > h {
		anchorBottom = false // fall back to top-align
	}
	p.PlaceAt(rect, anchorLeft, anchorBottom)

	var tree PopupTree
	if ti.FocusedSurface != nil {
		tree = r.host.FocusedSurfacePopupTree(ti.FocusedSurface)
	} else {
		tree = r.host.HiddenPopupTree()
	}
	if tree != nil {
		tree.Reparent(p)
	}
}
