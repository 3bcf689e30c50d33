package editor

import (
	"math"

	"github.com/oklog/ulid/v2"

	"meme-composer/fonts"
	"meme-composer/geometry"
	"meme-composer/layers"
)

const (
	// AddSpaceStep is how much bottom padding AddSpace adds.
	AddSpaceStep = 100
	// WheelStep is the relative size change per wheel tick.
	WheelStep = 0.05
)

// TextPatch holds the fields UpdateText changes. Nil fields are kept.
type TextPatch struct {
	Text        *string       `json:"text,omitempty"`
	X           *float64      `json:"x,omitempty"`
	Y           *float64      `json:"y,omitempty"`
	Size        *float64      `json:"size,omitempty"`
	Color       *layers.Color `json:"color,omitempty"`
	Font        *string       `json:"font,omitempty"`
	RotationDeg *float64      `json:"rotationDeg,omitempty"`
}

func (p TextPatch) apply(t layers.TextItem) layers.TextItem {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.X != nil {
		t.X = *p.X
	}
	if p.Y != nil {
		t.Y = *p.Y
	}
	if p.Size != nil {
		t.Size = *p.Size
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.Font != nil {
		t.Font = fonts.Resolve(*p.Font)
	}
	if p.RotationDeg != nil {
		t.RotationDeg = *p.RotationDeg
	}
	return t
}

func (e *Editor) SetTool(t Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishGestureLocked()
	if t != ToolText {
		e.editing = ""
	}
	e.tool = t
}

// SetBrush sets the style of new strokes. The size is clamped.
func (e *Editor) SetBrush(b Brush) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b.Size = geometry.Clamp(b.Size, layers.MinBrushSize, layers.MaxBrushSize)
	e.brush = b
}

// AddText inserts an empty text at the frame center, selects it and starts
// inline editing.
func (e *Editor) AddText() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base == nil {
		return "", ErrNoTemplate
	}
	return e.addTextLocked(e.live.Size().Center()), nil
}

// addTextLocked inserts a default text whose box is centered on c.
func (e *Editor) addTextLocked(c geometry.Point) string {
	t := layers.TextItem{
		ID:    ulid.Make().String(),
		Size:  layers.DefaultFontSize,
		Color: layers.White,
		Font:  fonts.Default,
	}
	box := t.Box()
	t.X = c.X - box.W/2
	t.Y = c.Y + box.H/2

	e.applyLocked(e.live.AddText(t))
	e.selectLocked(t.ID, KindText)
	e.editing = t.ID
	return t.ID
}

// UpdateText changes the given fields of a text layer. Unknown IDs are
// ignored.
func (e *Editor) UpdateText(id string, p TextPatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, _, ok := e.live.Text(id)
	if !ok {
		return
	}
	e.applyLocked(e.live.ReplaceText(p.apply(t)))
}

// RemoveLayer deletes a text, image or stroke.
func (e *Editor) RemoveLayer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(id)
}

func (e *Editor) removeLocked(id string) {
	if !e.applyLocked(e.live.Remove(id)) {
		return
	}
	e.pruneSelectionLocked()
}

// ScaleImage multiplies the image dimensions by f, clamped to [0.1, 10].
// Each side is floored at the minimum and the box is then fitted into the
// frame from its top-left.
func (e *Editor) ScaleImage(id string, f float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scaleImageLocked(id, f)
}

func (e *Editor) scaleImageLocked(id string, f float64) {
	img, _, ok := e.live.Image(id)
	if !ok || math.IsNaN(f) {
		return
	}
	f = geometry.Clamp(f, minImageScale, maxImageScale)
	e.applyLocked(e.live.ReplaceImage(fitFrom(e.live.Size(), img, img.W*f, img.H*f)))
}

func (e *Editor) scaleTextLocked(id string, f float64) {
	t, _, ok := e.live.Text(id)
	if !ok {
		return
	}
	t.Size *= f
	e.applyLocked(e.live.ReplaceText(t))
}

// BringForward moves an image one step toward the front.
func (e *Editor) BringForward(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(e.live.ShiftImage(id, 1))
}

// SendBackward moves an image one step toward the back.
func (e *Editor) SendBackward(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(e.live.ShiftImage(id, -1))
}

// ResetSize restores an image to its natural size, fitted into the frame
// from its top-left, or a text to the default font size.
func (e *Editor) ResetSize(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, _, ok := e.live.Text(id); ok {
		t.Size = layers.DefaultFontSize
		e.applyLocked(e.live.ReplaceText(t))
		return
	}
	img, _, ok := e.live.Image(id)
	src, cached := e.images[id]
	if !ok || !cached {
		return
	}
	natural := fitNew(e.live.Size(), id, src.Bounds())
	e.applyLocked(e.live.ReplaceImage(fitFrom(e.live.Size(), img, natural.W, natural.H)))
}

// RotateCanvasBy turns the canvas. It is a no-op under the fixed policy.
func (e *Editor) RotateCanvasBy(deg float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live.Frame.Rotatable() || math.IsNaN(deg) || math.IsInf(deg, 0) {
		return
	}
	e.applyLocked(e.live.WithRotation(e.live.RotationDeg + deg))
}

// AddSpace grows the bottom padding. It is a no-op under the fixed policy.
func (e *Editor) AddSpace() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base == nil || e.live.Frame.Policy != layers.PolicyPadding {
		return
	}
	p := e.live.Frame.Padding
	p.Bottom += AddSpaceStep
	e.applyLocked(e.live.WithPadding(p))
}

// SetPadding replaces the padding, each side clamped.
func (e *Editor) SetPadding(p layers.Padding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base == nil || e.live.Frame.Policy != layers.PolicyPadding {
		return
	}
	e.applyLocked(e.live.WithPadding(p))
}

func (e *Editor) SetBackground(c layers.Color) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(e.live.WithBackground(c))
}

// Select selects a text or image by ID and reports whether it exists.
func (e *Editor) Select(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishGestureLocked()
	if _, _, ok := e.live.Text(id); ok {
		e.selectLocked(id, KindText)
		return true
	}
	if _, _, ok := e.live.Image(id); ok {
		e.selectLocked(id, KindImage)
		return true
	}
	return false
}

func (e *Editor) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finishGestureLocked()
	e.clearSelectionLocked()
}

// BeginTextEdit selects a text and puts it in inline edit mode.
func (e *Editor) BeginTextEdit(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, _, ok := e.live.Text(id); !ok {
		return false
	}
	e.selectLocked(id, KindText)
	e.editing = id
	return true
}

func (e *Editor) EndTextEdit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.editing = ""
}

func (e *Editor) Undo() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.undoLocked()
}

func (e *Editor) Redo() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redoLocked()
}

func (e *Editor) undoLocked() {
	e.finishGestureLocked()
	e.live = e.hist.Undo()
	e.pruneSelectionLocked()
}

func (e *Editor) redoLocked() {
	e.finishGestureLocked()
	e.live = e.hist.Redo()
	e.pruneSelectionLocked()
}
