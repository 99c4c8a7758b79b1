// Package cursor implements the Cursor State Machine component (spec.md
// §4.3): the per-seat arbitration between surface input delivery, binding
// dispatch, and window-manager-mediated operations. This is the largest
// single component in the spec (22% of the core) and the focus of this
// rewrite's testing effort.
package cursor

import (
	"math"

	"codeberg.org/river/river/f32"
	"codeberg.org/river/river/internal/constraint"
	"codeberg.org/river/river/internal/wire"
	"codeberg.org/river/river/internal/wlog"
)

// Mode is the cursor's current arbitration regime (spec.md §3 "Cursor
// Mode"). Exactly one is active at any time.
type Mode uint8

const (
	ModePassthrough Mode = iota
	ModeDown
	ModeDrag
	ModeIgnore
	ModeOp
)

func (m Mode) String() string {
	switch m {
	case ModePassthrough:
		return "passthrough"
	case ModeDown:
		return "down"
	case ModeDrag:
		return "drag"
	case ModeIgnore:
		return "ignore"
	case ModeOp:
		return "op"
	default:
		return "unknown"
	}
}

// Shape is the cursor's currently displayed image: either a named xcursor
// or a client-supplied surface (spec.md §3).
type Shape struct {
	Name    string
	Surface wire.Surface
}

// GestureEvent is a forwarded swipe/pinch gesture (spec.md §4.3
// "Gestures"); the cursor mode never changes because of one.
type GestureEvent struct {
	Kind     string // "swipe_begin", "swipe_update", "swipe_end", "pinch_begin", "pinch_update", "pinch_end"
	Fingers  uint32
	Dx, Dy   float64
	Scale    float64
	Rotation float64
}

// Host is everything the Cursor state machine needs from its owning
// Seat: surface delivery, binding lookup, and the window-manager hooks.
type Host interface {
	DeliverMotion(s wire.Surface, sx, sy float64)
	DeliverButton(s wire.Surface, button uint32, pressed bool)
	DeliverAxis(s wire.Surface, horiz, vert float64)
	DeliverFrame(s wire.Surface)
	DeliverTouchDown(s wire.Surface, id uint32, sx, sy float64)
	DeliverTouchMotion(s wire.Surface, id uint32, sx, sy float64)
	DeliverTouchUp(id uint32)
	DeliverTouchCancel()

	SetPointerEnter(s wire.Surface, sx, sy float64)
	SetPointerLeave(s wire.Surface)

	ForwardRelative(dx, dy, dxUnaccel, dyUnaccel float64)
	ForwardGesture(e GestureEvent)

	MatchButtonBinding(button uint32) (wire.Binding, bool)
	RecordInteraction(hit wire.HitResult)
	MarkWindowingDirty()
	WM() wire.WindowManager
	UpdateDragIcons(pos f32.Point)
}

type pressRecord struct {
	binding wire.Binding  // non-nil iff this button triggered a compositor binding
	surface wire.Surface  // the surface the press (and eventual release) was delivered to, if any
}

type downInit struct {
	lx, ly, sx, sy float64
}

type touchState struct {
	surface        wire.Surface
	lx0, ly0       float64
	sx0, sy0       float64
}

// Cursor is the per-seat cursor state machine.
type Cursor struct {
	host  Host
	scene wire.Scene
	cons  *constraint.Manager

	mode Mode
	pos  f32.Point

	pressed map[uint32]*pressRecord

	touches      map[uint32]f32.Point
	touchesState map[uint32]*touchState

	pointerFocus wire.Surface
	downSurface  wire.Surface
	down         downInit

	opResidueX, opResidueY float64

	hoveredWindow wire.Node

	tabletIsDown bool
	shape        Shape

	log *wlog.Logger
}

// New constructs a Cursor. cons may be nil if the seat has no pointer
// constraint manager wired up (tests commonly omit it).
func New(host Host, scene wire.Scene, cons *constraint.Manager) *Cursor {
	return &Cursor{
		host:         host,
		scene:        scene,
		cons:         cons,
		pressed:      make(map[uint32]*pressRecord),
		touches:      make(map[uint32]f32.Point),
		touchesState: make(map[uint32]*touchState),
		log:          wlog.Scoped(wlog.ScopeCursor),
	}
}

func (c *Cursor) Mode() Mode             { return c.mode }
func (c *Cursor) PointerFocus() wire.Surface { return c.pointerFocus }
func (c *Cursor) Shape() Shape           { return c.shape }
func (c *Cursor) SetShape(name string)   { c.shape = Shape{Name: name} }
func (c *Cursor) SetShapeSurface(s wire.Surface) { c.shape = Shape{Surface: s} }

// Position and Warp implement constraint.CursorHost, so a Cursor can be
// passed directly as the cursor handle a constraint.Manager warps.
func (c *Cursor) Position() (float64, float64) { return float64(c.pos.X), float64(c.pos.Y) }

func (c *Cursor) Warp(lx, ly float64) bool {
	c.pos = f32.Point{X: float32(lx), Y: float32(ly)}
	return true
}

func (c *Cursor) OpInProgress() bool { return c.mode == ModeOp }

// TouchPosition reports a live touch point's current layout-coordinate
// position, for a touch-originated drag session to track (spec.md §4.8
// "follows ... the touch point if the drag originated from touch").
func (c *Cursor) TouchPosition(id uint32) (x, y float64, ok bool) {
	pt, ok := c.touches[id]
	return float64(pt.X), float64(pt.Y), ok
}

// StartDrag transitions into drag mode (spec.md §4.8): called by the
// drag-and-drop component when a client-originated drag session starts.
func (c *Cursor) StartDrag() { c.mode = ModeDrag }

// StartOp transitions into an interactive window-manager operation
// (spec.md §4.3 mode `op`), invoked from a Binding's Pressed() callback.
// Entering op clears pointer focus (invariant b).
func (c *Cursor) StartOp() {
	c.mode = ModeOp
	c.opResidueX, c.opResidueY = 0, 0
	c.clearPointerFocus()
}

func (c *Cursor) clearPointerFocus() {
	if c.pointerFocus != nil {
		c.host.SetPointerLeave(c.pointerFocus)
		c.pointerFocus = nil
	}
}

func (c *Cursor) recordInteraction(hit wire.HitResult) {
	if hit.Found() {
		c.host.RecordInteraction(hit)
	}
}

// ProcessMotionRelative implements spec.md §4.3 processMotionRelative.
func (c *Cursor) ProcessMotionRelative(dx, dy, dxUnaccel, dyUnaccel float64) {
	c.host.ForwardRelative(dx, dy, dxUnaccel, dyUnaccel)

	if c.cons != nil {
		if con, ok := c.cons.Active(); ok {
			if con.Kind() == constraint.KindLocked {
				return
			}
			con.Confine(&dx, &dy)
		}
	}

	c.pos.X += float32(dx)
	c.pos.Y += float32(dy)
	c.afterMove(dx, dy)
}

func (c *Cursor) afterMove(dx, dy float64) {
	switch c.mode {
	case ModePassthrough, ModeDrag:
		c.updateHoverAndDeliverMotion()
		c.host.UpdateDragIcons(c.pos)
		if c.cons != nil {
			c.cons.OnCursorMoved()
		}
	case ModeDown:
		c.deliverDownMotion()
	case ModeIgnore:
		// Cursor moves; nothing is delivered.
	case ModeOp:
		c.opResidueX += dx
		c.opResidueY += dy
		ix := int32(math.Trunc(c.opResidueX))
		iy := int32(math.Trunc(c.opResidueY))
		c.opResidueX -= float64(ix)
		c.opResidueY -= float64(iy)
		c.host.WM().OpUpdate(ix, iy)
	}
}

func (c *Cursor) deliverDownMotion() {
	sx := c.down.sx + (float64(c.pos.X) - c.down.lx)
	sy := c.down.sy + (float64(c.pos.Y) - c.down.ly)
	c.host.DeliverMotion(c.downSurface, sx, sy)
}

func (c *Cursor) updateHoverAndDeliverMotion() {
	hit := c.scene.HitTest(float64(c.pos.X), float64(c.pos.Y))
	c.updateHover(hit)
	if hit.Surface != nil {
		if c.pointerFocus != hit.Surface {
			c.clearPointerFocus()
			c.host.SetPointerEnter(hit.Surface, hit.SX, hit.SY)
			c.pointerFocus = hit.Surface
		}
		c.host.DeliverMotion(hit.Surface, hit.SX, hit.SY)
		return
	}
	c.clearPointerFocus()
}

func (c *Cursor) updateHover(hit wire.HitResult) {
	var next wire.Node
	if hit.Role == wire.RoleWindow {
		next = hit.Node
	}
	if next != c.hoveredWindow {
		c.hoveredWindow = next
		c.host.MarkWindowingDirty()
	}
}

// HoveredWindow reports the currently hovered window node, if any.
func (c *Cursor) HoveredWindow() wire.Node { return c.hoveredWindow }

// ProcessButton implements spec.md §4.3 button press/release.
func (c *Cursor) ProcessButton(button uint32, pressed bool) {
	if pressed {
		c.handlePress(button)
	} else {
		c.handleRelease(button)
	}
}

func (c *Cursor) handlePress(button uint32) {
	if _, exists := c.pressed[button]; exists {
		c.log.Warn("duplicate press protection: button already pressed", "button", button)
		return
	}
	switch c.mode {
	case ModePassthrough:
		c.pressPassthrough(button)
	case ModeDown, ModeDrag, ModeIgnore, ModeOp:
		// A second button pressed while the cursor is already committed
		// to a target: it joins the pressed set and rides along with
		// whatever is already being delivered (the same downSurface for
		// down/drag, nothing for ignore/op).
		rec := &pressRecord{}
		if c.mode == ModeDown || c.mode == ModeDrag {
			rec.surface = c.downSurface
			c.host.DeliverButton(c.downSurface, button, true)
		}
		c.pressed[button] = rec
	}
}

func (c *Cursor) pressPassthrough(button uint32) {
	hit := c.scene.HitTest(float64(c.pos.X), float64(c.pos.Y))
	c.recordInteraction(hit)

	if b, ok := c.host.MatchButtonBinding(button); ok {
		c.pressed[button] = &pressRecord{binding: b}
		b.Pressed()
		c.mode = ModeIgnore
		c.clearPointerFocus()
		return
	}

	if hit.Surface != nil {
		c.pressed[button] = &pressRecord{surface: hit.Surface}
		c.downSurface = hit.Surface
		c.down = downInit{lx: float64(c.pos.X), ly: float64(c.pos.Y), sx: hit.SX, sy: hit.SY}
		c.host.DeliverButton(hit.Surface, button, true)
		c.mode = ModeDown
		return
	}

	// No surface hit: still record the button so invariant (d) holds —
	// mode ignore always has a non-empty pressed set until release.
	c.pressed[button] = &pressRecord{}
	c.mode = ModeIgnore
	c.clearPointerFocus()
}

func (c *Cursor) handleRelease(button uint32) {
	entry, ok := c.pressed[button]
	if !ok {
		c.log.Warn("release with no matching press", "button", button)
		return
	}
	delete(c.pressed, button)

	switch {
	case entry.binding != nil:
		entry.binding.Released()
	case entry.surface != nil:
		c.host.DeliverButton(entry.surface, button, false)
	}

	if len(c.pressed) != 0 {
		return
	}
	switch c.mode {
	case ModeDown, ModeDrag, ModeIgnore:
		c.mode = ModePassthrough
		c.downSurface = nil
		c.updateHoverAndDeliverMotion()
	case ModeOp:
		c.mode = ModePassthrough
		c.host.WM().OpRelease()
		c.host.MarkWindowingDirty()
		c.updateHoverAndDeliverMotion()
	}
}

// ProcessAxis forwards a scroll axis event to the current pointer focus
// (spec.md §3 event list); axis events never change cursor mode.
func (c *Cursor) ProcessAxis(horiz, vert float64) {
	if c.pointerFocus != nil {
		c.host.DeliverAxis(c.pointerFocus, horiz, vert)
	}
}

// ProcessFrame implements spec.md §4.9/§4.3 "Frame": issues the protocol
// frame boundary to whatever currently holds pointer focus.
func (c *Cursor) ProcessFrame() {
	if c.pointerFocus != nil {
		c.host.DeliverFrame(c.pointerFocus)
	}
}

// --- Touch (spec.md §4.3 "Touch") ---

func (c *Cursor) ProcessTouchDown(id uint32, lx, ly float64) {
	c.touches[id] = f32.Point{X: float32(lx), Y: float32(ly)}
	hit := c.scene.HitTest(lx, ly)
	c.recordInteraction(hit)
	if hit.Surface == nil {
		return
	}
	c.touchesState[id] = &touchState{surface: hit.Surface, lx0: lx, ly0: ly, sx0: hit.SX, sy0: hit.SY}
	c.host.DeliverTouchDown(hit.Surface, id, hit.SX, hit.SY)
}

func (c *Cursor) ProcessTouchMotion(id uint32, lx, ly float64) {
	pt := f32.Point{X: float32(lx), Y: float32(ly)}
	c.touches[id] = pt
	c.host.UpdateDragIcons(pt)
	ts, ok := c.touchesState[id]
	if !ok {
		return
	}
	sx := ts.sx0 + (lx - ts.lx0)
	sy := ts.sy0 + (ly - ts.ly0)
	c.host.DeliverTouchMotion(ts.surface, id, sx, sy)
}

func (c *Cursor) ProcessTouchUp(id uint32) {
	_, hadSurface := c.touchesState[id]
	delete(c.touches, id)
	delete(c.touchesState, id)
	if hadSurface {
		c.host.DeliverTouchUp(id)
	}
}

func (c *Cursor) ProcessTouchCancel() {
	c.touches = make(map[uint32]f32.Point)
	c.touchesState = make(map[uint32]*touchState)
	c.host.DeliverTouchCancel()
}

// --- Tablet tool (spec.md §4.3 "Tablet") ---

// ProcessTabletProximityIn attaches the tool's cursor at an absolute
// position, sets the pencil shape, and runs passthrough.
func (c *Cursor) ProcessTabletProximityIn(lx, ly float64) {
	c.pos = f32.Point{X: float32(lx), Y: float32(ly)}
	c.SetShape("pencil")
	c.updateHoverAndDeliverMotion()
}

// ProcessTabletAxisAbsolute warps to an absolute position; a nil
// component means "unchanged axis", preserving the other (spec.md §4.3
// "NaN on the unchanged axis").
func (c *Cursor) ProcessTabletAxisAbsolute(lx, ly *float64) {
	if lx != nil {
		c.pos.X = float32(*lx)
	}
	if ly != nil {
		c.pos.Y = float32(*ly)
	}
	c.afterTabletMotion()
}

// ProcessTabletAxisRelative moves a mouse-like tablet tool by a delta.
func (c *Cursor) ProcessTabletAxisRelative(dx, dy float64) {
	c.pos.X += float32(dx)
	c.pos.Y += float32(dy)
	c.afterTabletMotion()
}

func (c *Cursor) afterTabletMotion() {
	if c.mode == ModeDown {
		c.deliverDownMotion()
		return
	}
	c.updateHoverAndDeliverMotion()
}

// ProcessTabletTip implements tip-down/tip-up (spec.md §4.3 "Tip-down...
// Tip-up / button release").
func (c *Cursor) ProcessTabletTip(isDown bool) {
	c.tabletIsDown = isDown
	if isDown {
		hit := c.scene.HitTest(float64(c.pos.X), float64(c.pos.Y))
		c.recordInteraction(hit)
		if hit.Surface != nil {
			c.downSurface = hit.Surface
			c.down = downInit{lx: float64(c.pos.X), ly: float64(c.pos.Y), sx: hit.SX, sy: hit.SY}
			c.mode = ModeDown
		}
		return
	}
	c.tryExitTabletDown()
}

// ProcessTabletButton tracks a tablet tool button, exiting `down` once
// both the tip is up and every button is released.
func (c *Cursor) ProcessTabletButton(button uint32, pressed bool) {
	if pressed {
		c.pressed[button] = &pressRecord{}
		return
	}
	delete(c.pressed, button)
	c.tryExitTabletDown()
}

func (c *Cursor) tryExitTabletDown() {
	if c.mode == ModeDown && !c.tabletIsDown && len(c.pressed) == 0 {
		c.mode = ModePassthrough
		c.downSurface = nil
		c.updateHoverAndDeliverMotion()
	}
}

// --- Gestures (spec.md §4.3 "Gestures") ---

func (c *Cursor) ProcessSwipeBegin(fingers uint32)  { c.host.ForwardGesture(GestureEvent{Kind: "swipe_begin", Fingers: fingers}) }
func (c *Cursor) ProcessSwipeUpdate(dx, dy float64) { c.host.ForwardGesture(GestureEvent{Kind: "swipe_update", Dx: dx, Dy: dy}) }
func (c *Cursor) ProcessSwipeEnd()                  { c.host.ForwardGesture(GestureEvent{Kind: "swipe_end"}) }

func (c *Cursor) ProcessPinchBegin(fingers uint32) {
	c.host.ForwardGesture(GestureEvent{Kind: "pinch_begin", Fingers: fingers})
}
func (c *Cursor) ProcessPinchUpdate(dx, dy, scale, rotation float64) {
	c.host.ForwardGesture(GestureEvent{Kind: "pinch_update", Dx: dx, Dy: dy, Scale: scale, Rotation: rotation})
}
func (c *Cursor) ProcessPinchEnd() { c.host.ForwardGesture(GestureEvent{Kind: "pinch_end"}) }
