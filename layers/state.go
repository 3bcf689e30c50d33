package layers

import (
	"math"

	"meme-composer/geometry"
)

// State is one snapshot of the editable document. It has value semantics:
// every mutator returns a new State and copies the slice it changes, so a
// snapshot handed to history is never modified afterwards. Do not write
// into the slices of a State you did not just build.
type State struct {
	RotationDeg float64     `json:"rotationDeg"`
	Background  Color       `json:"backgroundColor"`
	Frame       Frame       `json:"frame"`
	Texts       []TextItem  `json:"texts"`
	Strokes     []Stroke    `json:"strokes"`
	Images      []ImageItem `json:"images"`
}

// Empty returns the default snapshot of a fresh session.
func Empty() State {
	return State{
		Background: White,
		Frame:      Frame{MaxPadding: DefaultMaxPadding},
		Texts:      []TextItem{},
		Strokes:    []Stroke{},
		Images:     []ImageItem{},
	}
}

// Size returns the content frame size.
func (s State) Size() geometry.Size {
	return s.Frame.Size()
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Texts = append([]TextItem{}, s.Texts...)
	out.Images = append([]ImageItem{}, s.Images...)
	out.Strokes = make([]Stroke, len(s.Strokes))
	for i, st := range s.Strokes {
		st.Points = append([]geometry.Point{}, st.Points...)
		out.Strokes[i] = st
	}
	return out
}

// Text looks up a text layer by ID.
func (s State) Text(id string) (TextItem, int, bool) {
	for i, t := range s.Texts {
		if t.ID == id {
			return t, i, true
		}
	}
	return TextItem{}, -1, false
}

// Image looks up an image layer by ID.
func (s State) Image(id string) (ImageItem, int, bool) {
	for i, img := range s.Images {
		if img.ID == id {
			return img, i, true
		}
	}
	return ImageItem{}, -1, false
}

// Stroke looks up a stroke by ID.
func (s State) Stroke(id string) (Stroke, int, bool) {
	for i, st := range s.Strokes {
		if st.ID == id {
			return st, i, true
		}
	}
	return Stroke{}, -1, false
}

// Has reports whether any layer carries the ID.
func (s State) Has(id string) bool {
	if _, _, ok := s.Text(id); ok {
		return true
	}
	if _, _, ok := s.Image(id); ok {
		return true
	}
	_, _, ok := s.Stroke(id)
	return ok
}

// ClampText saturates the font size and keeps the rotated text box inside
// the frame. An extent larger than the frame is pinned to the top-left.
func (s State) ClampText(t TextItem) TextItem {
	t.Size = geometry.Clamp(t.Size, MinFontSize, MaxFontSize)
	t.RotationDeg = geometry.NormalizeDeg(t.RotationDeg)
	size := s.Size()
	e := t.Extent()
	t.X += overflow(e.X, e.W, size.W)
	t.Y += overflow(e.Y, e.H, size.H)
	return t
}

// overflow is the shift that brings [lo, lo+span] inside [0, limit].
func overflow(lo, span, limit float64) float64 {
	switch {
	case lo < 0 || span >= limit:
		return -lo
	case lo+span > limit:
		return limit - (lo + span)
	}
	return 0
}

// ClampImage floors the image dimensions and keeps its box inside the frame.
func (s State) ClampImage(img ImageItem) ImageItem {
	img.W = math.Max(img.W, MinImageSide)
	img.H = math.Max(img.H, MinImageSide)
	size := s.Size()
	img.X = geometry.Clamp(img.X, 0, size.W-img.W)
	img.Y = geometry.Clamp(img.Y, 0, size.H-img.H)
	return img
}

// ClampPoint keeps a point inside the frame.
func (s State) ClampPoint(p geometry.Point) geometry.Point {
	size := s.Size()
	return geometry.Pt(geometry.Clamp(p.X, 0, size.W), geometry.Clamp(p.Y, 0, size.H))
}

// AddText appends a text layer after clamping it.
func (s State) AddText(t TextItem) State {
	out := s
	out.Texts = append(append(make([]TextItem, 0, len(s.Texts)+1), s.Texts...), s.ClampText(t))
	return out
}

// ReplaceText swaps in t for the layer with the same ID. Unknown IDs leave
// the state untouched.
func (s State) ReplaceText(t TextItem) State {
	_, i, ok := s.Text(t.ID)
	if !ok {
		return s
	}
	out := s
	out.Texts = append([]TextItem{}, s.Texts...)
	out.Texts[i] = s.ClampText(t)
	return out
}

// AddImage appends an image on top of the others.
func (s State) AddImage(img ImageItem) State {
	out := s
	out.Images = append(append(make([]ImageItem, 0, len(s.Images)+1), s.Images...), s.ClampImage(img))
	return out
}

// ReplaceImage swaps in img for the layer with the same ID.
func (s State) ReplaceImage(img ImageItem) State {
	_, i, ok := s.Image(img.ID)
	if !ok {
		return s
	}
	out := s
	out.Images = append([]ImageItem{}, s.Images...)
	out.Images[i] = s.ClampImage(img)
	return out
}

// AddStroke appends a stroke. Points are clamped into the frame and
// non-finite points are dropped.
func (s State) AddStroke(st Stroke) State {
	st.Size = geometry.Clamp(st.Size, MinBrushSize, MaxBrushSize)
	pts := make([]geometry.Point, 0, len(st.Points))
	for _, p := range st.Points {
		if p.Finite() {
			pts = append(pts, s.ClampPoint(p))
		}
	}
	st.Points = pts
	out := s
	out.Strokes = append(append(make([]Stroke, 0, len(s.Strokes)+1), s.Strokes...), st)
	return out
}

// AppendPoint extends the stroke with the given ID by one point.
func (s State) AppendPoint(id string, p geometry.Point) State {
	st, i, ok := s.Stroke(id)
	if !ok || !p.Finite() {
		return s
	}
	pts := make([]geometry.Point, len(st.Points), len(st.Points)+1)
	copy(pts, st.Points)
	st.Points = append(pts, s.ClampPoint(p))
	out := s
	out.Strokes = append([]Stroke{}, s.Strokes...)
	out.Strokes[i] = st
	return out
}

// Remove deletes the layer with the given ID, whatever its kind.
func (s State) Remove(id string) State {
	out := s
	if _, i, ok := s.Text(id); ok {
		out.Texts = append(append([]TextItem{}, s.Texts[:i]...), s.Texts[i+1:]...)
		return out
	}
	if _, i, ok := s.Image(id); ok {
		out.Images = append(append([]ImageItem{}, s.Images[:i]...), s.Images[i+1:]...)
		return out
	}
	if _, i, ok := s.Stroke(id); ok {
		out.Strokes = append(append([]Stroke{}, s.Strokes[:i]...), s.Strokes[i+1:]...)
		return out
	}
	return s
}

// ShiftImage moves an image one step in z-order: +1 toward the front, -1
// toward the back. Moving past either end is a no-op.
func (s State) ShiftImage(id string, dir int) State {
	_, i, ok := s.Image(id)
	if !ok {
		return s
	}
	j := i + dir
	if dir == 0 || j < 0 || j >= len(s.Images) {
		return s
	}
	out := s
	out.Images = append([]ImageItem{}, s.Images...)
	out.Images[i], out.Images[j] = out.Images[j], out.Images[i]
	return out
}

// WithPadding replaces the frame padding, clamped to [0, MaxPadding].
func (s State) WithPadding(p Padding) State {
	out := s
	out.Frame.Padding = p.clamp(s.Frame.MaxPadding)
	return out
}

// WithRotation sets the canvas rotation, normalized to [0, 360).
func (s State) WithRotation(deg float64) State {
	out := s
	out.RotationDeg = geometry.NormalizeDeg(deg)
	return out
}

// WithBackground sets the padding/background fill.
func (s State) WithBackground(c Color) State {
	out := s
	out.Background = c
	return out
}
