package editor

import (
	"math"

	"github.com/oklog/ulid/v2"

	"meme-composer/geometry"
	"meme-composer/layers"
)

// Mode is the state of the pointer gesture machine.
type Mode int

const (
	Idle Mode = iota
	Dragging
	Rotating
	Resizing
	Drawing
)

func (m Mode) String() string {
	switch m {
	case Dragging:
		return "dragging"
	case Rotating:
		return "rotating"
	case Resizing:
		return "resizing"
	case Drawing:
		return "drawing"
	default:
		return "idle"
	}
}

const (
	minImageScale = 0.1
	maxImageScale = 10
	minTextScale  = 0.2
	maxTextScale  = 10
)

// gesture is one press-move-release interaction. Every move is computed
// from the values captured at press time, never from the previous move.
type gesture struct {
	mode  Mode
	id    string
	kind  Kind
	start layers.State

	offset geometry.Point

	center     geometry.Point
	startAngle float64
	startRot   float64

	text   layers.TextItem
	image  layers.ImageItem
	anchor geometry.Point
	diag   float64
}

// beginGesture starts a gesture for a hit. It returns nil for hits that
// cannot be transformed.
func beginGesture(st layers.State, h Hit, p geometry.Point) *gesture {
	g := &gesture{id: h.ID, kind: h.Kind, start: st}

	switch h.Kind {
	case KindText:
		t, _, ok := st.Text(h.ID)
		if !ok {
			return nil
		}
		g.text = t
		switch h.Zone {
		case ZoneRotate:
			g.mode = Rotating
			g.center = t.Center()
			g.startAngle = geometry.AngleDeg(g.center, p)
			g.startRot = t.RotationDeg
		case ZoneResize:
			g.mode = Resizing
			box := t.Box()
			g.anchor = t.Corners()[0]
			g.diag = math.Hypot(box.W, box.H)
		default:
			g.mode = Dragging
			g.offset = p.Sub(geometry.Pt(t.X, t.Y))
		}

	case KindImage:
		img, _, ok := st.Image(h.ID)
		if !ok {
			return nil
		}
		g.image = img
		if h.Zone == ZoneResize {
			g.mode = Resizing
			g.anchor = geometry.Pt(img.X, img.Y)
		} else {
			g.mode = Dragging
			g.offset = p.Sub(geometry.Pt(img.X, img.Y))
		}

	default:
		return nil
	}
	return g
}

// beginStroke starts a freehand stroke at p and returns the state holding it.
func beginStroke(st layers.State, p geometry.Point, brush Brush) (*gesture, layers.State) {
	id := ulid.Make().String()
	next := st.AddStroke(layers.Stroke{
		ID:     id,
		Points: []geometry.Point{p},
		Color:  brush.Color,
		Size:   brush.Size,
	})
	return &gesture{mode: Drawing, id: id, start: st}, next
}

// move returns the working state for a pointer at p.
func (g *gesture) move(live layers.State, p geometry.Point) layers.State {
	switch g.mode {
	case Drawing:
		return live.AppendPoint(g.id, p)

	case Dragging:
		anchor := p.Sub(g.offset)
		if g.kind == KindText {
			t := g.text
			t.X, t.Y = anchor.X, anchor.Y
			return g.start.ReplaceText(t)
		}
		img := g.image
		img.X, img.Y = anchor.X, anchor.Y
		return g.start.ReplaceImage(img)

	case Rotating:
		t := g.text
		delta := geometry.AngleDeg(g.center, p) - g.startAngle
		t.RotationDeg = geometry.NormalizeDeg(g.startRot + delta)
		return g.start.ReplaceText(t)

	case Resizing:
		if g.kind == KindText {
			return g.start.ReplaceText(resizeText(g.text, g.anchor, g.diag, p))
		}
		return g.start.ReplaceImage(resizeImage(g.start, g.image, p))
	}
	return live
}

func resizeText(t layers.TextItem, anchor geometry.Point, diag float64, p geometry.Point) layers.TextItem {
	if diag <= 0 {
		return t
	}
	ratio := geometry.Clamp(p.Distance(anchor)/diag, minTextScale, maxTextScale)
	t.Size = geometry.Clamp(t.Size*ratio, layers.MinFontSize, layers.MaxFontSize)
	return t
}

func resizeImage(st layers.State, img layers.ImageItem, p geometry.Point) layers.ImageItem {
	s := math.Min((p.X-img.X)/img.W, (p.Y-img.Y)/img.H)
	s = geometry.Clamp(s, minImageScale, maxImageScale)
	return fitFrom(st.Size(), img, img.W*s, img.H*s)
}

// fitFrom sets the image dimensions, floors each at the minimum side, then
// shrinks the box uniformly until it fits in the frame from its top-left.
func fitFrom(frame geometry.Size, img layers.ImageItem, w, h float64) layers.ImageItem {
	w = math.Max(w, layers.MinImageSide)
	h = math.Max(h, layers.MinImageSide)
	availW, availH := frame.W-img.X, frame.H-img.Y
	if w > availW || h > availH {
		s := math.Min(availW/w, availH/h)
		if s > 0 {
			w, h = w*s, h*s
		}
	}
	img.W, img.H = w, h
	return img
}
