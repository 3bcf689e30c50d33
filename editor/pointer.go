package editor

import (
	"reflect"

	"meme-composer/geometry"
	"meme-composer/layers"
)

// SetViewport records where the preview is displayed so pointer positions
// can be mapped into content space. With an empty rect pointer positions
// are taken as preview pixel coordinates.
func (e *Editor) SetViewport(r geometry.Rect) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewport = r
}

func (e *Editor) toContentLocked(p geometry.Point) geometry.Point {
	rot := 0.0
	if e.live.Frame.Rotatable() {
		rot = e.live.RotationDeg
	}
	return geometry.ToContentSpace(p, e.viewport, e.live.Size(), rot)
}

// PointerDown starts a gesture. With the draw tool it begins a stroke;
// otherwise it hit-tests, selects what it finds and starts a drag, rotate
// or resize. A press on empty space clears the selection, and with the
// text tool inserts a text there.
func (e *Editor) PointerDown(p geometry.Point) Hit {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base == nil || !p.Finite() {
		return Hit{}
	}
	e.finishGestureLocked()
	cp := e.toContentLocked(p)

	if e.tool == ToolDraw {
		e.clearSelectionLocked()
		e.gesture, e.live = beginStroke(e.live, cp, e.brush)
		return Hit{}
	}

	h := HitTest(e.live, cp)
	if h.Kind == KindNone {
		e.clearSelectionLocked()
		if e.tool == ToolText {
			id := e.addTextLocked(cp)
			return Hit{ID: id, Kind: KindText, Zone: ZoneBody}
		}
		return h
	}
	e.selectLocked(h.ID, h.Kind)
	e.gesture = beginGesture(e.live, h, cp)
	return h
}

// PointerMove updates the working state of the current gesture. The change
// is visible immediately but not committed.
func (e *Editor) PointerMove(p geometry.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture == nil || !p.Finite() {
		return
	}
	e.live = e.gesture.move(e.live, e.toContentLocked(p))
}

// PointerUp ends the gesture and commits it if it changed anything.
func (e *Editor) PointerUp() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishGestureLocked()
}

// PointerCancel handles pointer capture loss. It commits like PointerUp.
func (e *Editor) PointerCancel() {
	e.PointerUp()
}

func (e *Editor) finishGestureLocked() {
	g := e.gesture
	if g == nil {
		return
	}
	e.gesture = nil
	if !reflect.DeepEqual(e.live, g.start) {
		e.hist.Commit(e.live)
	}
}

// Wheel resizes the selected layer by one step when the pointer is over it.
// Negative deltaY grows. Each tick is its own history entry.
func (e *Editor) Wheel(p geometry.Point, deltaY float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base == nil || e.selected == "" || deltaY == 0 || !p.Finite() {
		return
	}
	if h := HitTest(e.live, e.toContentLocked(p)); h.ID != e.selected {
		return
	}
	f := 1 + WheelStep
	if deltaY > 0 {
		f = 1 - WheelStep
	}
	switch e.selKind {
	case KindText:
		e.scaleTextLocked(e.selected, f)
	case KindImage:
		e.scaleImageLocked(e.selected, f)
	}
}

// HandleKey routes a key press and runs the resulting command. Keys are
// ignored until a template is loaded. It reports whether the key was used.
func (e *Editor) HandleKey(ev KeyEvent) bool {
	cmd, ok := RouteKey(ev)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base == nil {
		return false
	}
	e.execLocked(cmd)
	return true
}

// Exec runs a command directly.
func (e *Editor) Exec(cmd Command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execLocked(cmd)
}

func (e *Editor) execLocked(cmd Command) {
	switch c := cmd.(type) {
	case NudgeCommand:
		e.nudgeLocked(c.DX, c.DY)
	case DeleteSelectionCommand:
		if e.selected == "" || (e.selKind == KindText && e.editing == e.selected) {
			return
		}
		e.removeLocked(e.selected)
	case ClearSelectionCommand:
		e.finishGestureLocked()
		e.clearSelectionLocked()
	case UndoCommand:
		e.undoLocked()
	case RedoCommand:
		e.redoLocked()
	}
}

func (e *Editor) nudgeLocked(dx, dy float64) {
	var next layers.State
	switch e.selKind {
	case KindText:
		t, _, ok := e.live.Text(e.selected)
		if !ok {
			return
		}
		t.X += dx
		t.Y += dy
		next = e.live.ReplaceText(t)
	case KindImage:
		img, _, ok := e.live.Image(e.selected)
		if !ok {
			return
		}
		img.X += dx
		img.Y += dy
		next = e.live.ReplaceImage(img)
	default:
		return
	}
	e.applyLocked(next)
}
