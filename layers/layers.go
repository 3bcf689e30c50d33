// Package layers defines the editor document: the content frame, the three
// layer kinds and the immutable State snapshot that history stores.
package layers

import (
	"fmt"
	"math"

	"meme-composer/fonts"
	"meme-composer/geometry"
)

const (
	MinFontSize     = 8
	MaxFontSize     = 256
	DefaultFontSize = 20

	MinImageSide = 16

	MinBrushSize     = 1
	MaxBrushSize     = 200
	DefaultBrushSize = 6

	DefaultMaxPadding = 2000
)

// Policy selects how the content frame size is derived.
type Policy int

const (
	// PolicyPadding sizes the frame from the base image plus padding and
	// allows arbitrary canvas rotation.
	PolicyPadding Policy = iota
	// PolicyFixed uses a fixed output size chosen when the base loads.
	PolicyFixed
)

func (p Policy) String() string {
	switch p {
	case PolicyFixed:
		return "fixed"
	default:
		return "padding"
	}
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(b []byte) error {
	parsed, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePolicy parses "padding" or "fixed".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "padding":
		return PolicyPadding, nil
	case "fixed":
		return PolicyFixed, nil
	}
	return PolicyPadding, fmt.Errorf("unknown frame policy %q", s)
}

// Padding is the space added around the base image.
type Padding struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

func (p Padding) clamp(max float64) Padding {
	if max <= 0 {
		max = DefaultMaxPadding
	}
	return Padding{
		Top:    geometry.Clamp(p.Top, 0, max),
		Right:  geometry.Clamp(p.Right, 0, max),
		Bottom: geometry.Clamp(p.Bottom, 0, max),
		Left:   geometry.Clamp(p.Left, 0, max),
	}
}

// Frame is the content frame every layer coordinate is relative to.
type Frame struct {
	Policy     Policy        `json:"policy"`
	Base       geometry.Size `json:"base"`
	Padding    Padding       `json:"padding"`
	Fixed      geometry.Size `json:"fixed"`
	MaxPadding float64       `json:"maxPadding"`
}

// Size returns the content frame dimensions.
func (f Frame) Size() geometry.Size {
	if f.Policy == PolicyFixed {
		return f.Fixed
	}
	return geometry.Size{
		W: f.Base.W + f.Padding.Left + f.Padding.Right,
		H: f.Base.H + f.Padding.Top + f.Padding.Bottom,
	}
}

// BaseRect is where the base image is drawn inside the frame. Under the
// fixed policy the base is scaled to fit and centered.
func (f Frame) BaseRect() geometry.Rect {
	if f.Policy != PolicyFixed {
		return geometry.Rect{X: f.Padding.Left, Y: f.Padding.Top, W: f.Base.W, H: f.Base.H}
	}
	if f.Base.W <= 0 || f.Base.H <= 0 {
		return geometry.Rect{}
	}
	scale := math.Min(f.Fixed.W/f.Base.W, f.Fixed.H/f.Base.H)
	w, h := f.Base.W*scale, f.Base.H*scale
	return geometry.Rect{X: (f.Fixed.W - w) / 2, Y: (f.Fixed.H - h) / 2, W: w, H: h}
}

// Rotatable reports whether the canvas may be rotated under this policy.
func (f Frame) Rotatable() bool {
	return f.Policy == PolicyPadding
}

// TextItem is a text layer. X is the left edge and Y the baseline.
type TextItem struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Size        float64 `json:"size"`
	Color       Color   `json:"color"`
	Font        string  `json:"font"`
	RotationDeg float64 `json:"rotationDeg"`
}

// Box returns the measured text box. The height is the font size.
func (t TextItem) Box() geometry.Size {
	return geometry.Size{W: fonts.Width(t.Font, t.Size, t.Text), H: t.Size}
}

// Center is the point the text rotates about.
func (t TextItem) Center() geometry.Point {
	b := t.Box()
	return geometry.Pt(t.X+b.W/2, t.Y-b.H/2)
}

// Corners returns the rotated box corners: top-left, top-right,
// bottom-right, bottom-left.
func (t TextItem) Corners() [4]geometry.Point {
	b := t.Box()
	c := geometry.Pt(t.X+b.W/2, t.Y-b.H/2)
	raw := [4]geometry.Point{
		{X: t.X, Y: t.Y - b.H},
		{X: t.X + b.W, Y: t.Y - b.H},
		{X: t.X + b.W, Y: t.Y},
		{X: t.X, Y: t.Y},
	}
	for i := range raw {
		raw[i] = geometry.Rotate(raw[i], c, t.RotationDeg)
	}
	return raw
}

// Extent is the axis-aligned box around the rotated text.
func (t TextItem) Extent() geometry.Rect {
	c := t.Corners()
	return boundsOf(c[:])
}

// Stroke is a freehand brush stroke.
type Stroke struct {
	ID     string           `json:"id"`
	Points []geometry.Point `json:"points"`
	Color  Color            `json:"color"`
	Size   float64          `json:"size"`
}

// Extent is the box covered by the stroke including the brush radius.
func (s Stroke) Extent() geometry.Rect {
	r := boundsOf(s.Points)
	half := s.Size / 2
	return geometry.Rect{X: r.X - half, Y: r.Y - half, W: r.W + s.Size, H: r.H + s.Size}
}

// ImageItem is an overlay image; its raster is held by the editor, keyed by ID.
type ImageItem struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

// Rect returns the image box.
func (i ImageItem) Rect() geometry.Rect {
	return geometry.Rect{X: i.X, Y: i.Y, W: i.W, H: i.H}
}

func boundsOf(pts []geometry.Point) geometry.Rect {
	if len(pts) == 0 {
		return geometry.Rect{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return geometry.Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}
