package editor

import (
	"math"

	"meme-composer/geometry"
	"meme-composer/layers"
	"meme-composer/render"
)

// Kind is the kind of a selectable layer.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return "none"
	}
}

// Zone is the part of a layer a point falls on.
type Zone int

const (
	ZoneNone Zone = iota
	ZoneBody
	ZoneRotate
	ZoneResize
)

func (z Zone) String() string {
	switch z {
	case ZoneBody:
		return "body"
	case ZoneRotate:
		return "rotate"
	case ZoneResize:
		return "resize"
	default:
		return "none"
	}
}

// Hit is the result of a hit test.
type Hit struct {
	ID   string
	Kind Kind
	Zone Zone
}

// HitTest finds the topmost layer under a content-space point. Texts draw
// above images so they are tested first, each list from last to first.
func HitTest(st layers.State, p geometry.Point) Hit {
	for i := len(st.Texts) - 1; i >= 0; i-- {
		t := st.Texts[i]
		if z := textZone(t, p); z != ZoneNone {
			return Hit{ID: t.ID, Kind: KindText, Zone: z}
		}
	}
	for i := len(st.Images) - 1; i >= 0; i-- {
		img := st.Images[i]
		if z := imageZone(img, p); z != ZoneNone {
			return Hit{ID: img.ID, Kind: KindImage, Zone: z}
		}
	}
	return Hit{}
}

// textZone tests p in the text's unrotated frame, origin at the box center.
// Handles go first so one overlapping the body still wins.
func textZone(t layers.TextItem, p geometry.Point) Zone {
	box := t.Box()
	c := t.Center()
	local := geometry.Rotate(p, c, -t.RotationDeg).Sub(c)
	hw, hh := box.W/2, box.H/2

	handle := geometry.Pt(0, -hh-render.RotateHandleOffset)
	if local.Distance(handle) <= render.RotateHandleRadius {
		return ZoneRotate
	}
	if math.Abs(local.X-hw) <= render.TextResizeHalf && math.Abs(local.Y-hh) <= render.TextResizeHalf {
		return ZoneResize
	}
	if math.Abs(local.X) <= hw && math.Abs(local.Y) <= hh {
		return ZoneBody
	}
	return ZoneNone
}

func imageZone(img layers.ImageItem, p geometry.Point) Zone {
	r := img.Rect()
	if !r.Contains(p) {
		return ZoneNone
	}
	if p.X >= r.X+r.W-render.ImageResizeSide && p.Y >= r.Y+r.H-render.ImageResizeSide {
		return ZoneResize
	}
	return ZoneBody
}
