// Package render composites an editor snapshot into pixels. The preview and
// export paths share the layer drawing code and differ only in guides,
// canvas extent and the fixed-frame bounds check.
package render

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"meme-composer/fonts"
	"meme-composer/geometry"
	"meme-composer/layers"
)

// Scene is everything needed to draw one frame. Images holds the decoded
// overlay rasters keyed by layer ID.
type Scene struct {
	State     layers.State
	Base      image.Image
	Images    map[string]image.Image
	Selection string
}

var (
	checkerLight = color.NRGBA{0xee, 0xee, 0xee, 0xff}
	checkerDark  = color.NRGBA{0xcc, 0xcc, 0xcc, 0xff}
	guideColor   = color.NRGBA{0x1e, 0x90, 0xff, 0xff}
)

const (
	checkerSize   = 8
	rotateDotSize = 6
	// Handle geometry mirrors the hit zones in the editor package.
	RotateHandleOffset = 12
	RotateHandleRadius = 14
	TextResizeHalf     = 10
	ImageResizeSide    = 16
)

// Preview renders the scene with selection guides. Under the padding policy
// the frame is drawn rotated into a buffer sized to its rotated bounds with
// a checkerboard behind it.
func Preview(sc Scene) *image.RGBA {
	frame := compose(sc, false)
	if sc.Selection != "" {
		drawGuides(gg.NewContextForRGBA(frame), sc.State, sc.Selection)
	}
	rot := sc.State.RotationDeg
	if !sc.State.Frame.Rotatable() || rot == 0 {
		return frame
	}

	bw, bh := bufferSize(sc.State.Size(), rot)
	dst := image.NewRGBA(image.Rect(0, 0, bw, bh))
	drawCheckerboard(dst, dst.Bounds(), checkerSize, checkerLight, checkerDark)
	dc := gg.NewContextForRGBA(dst)
	drawRotated(dc, frame, rot)
	return dst
}

// Export renders the scene without guides. Rotation margins are filled with
// the background color. Under the fixed policy, layers that are not fully
// inside the frame are left out.
func Export(sc Scene) *image.RGBA {
	frame := compose(sc, sc.State.Frame.Policy == layers.PolicyFixed)
	rot := sc.State.RotationDeg
	if !sc.State.Frame.Rotatable() || rot == 0 {
		return frame
	}

	bw, bh := bufferSize(sc.State.Size(), rot)
	dc := gg.NewContext(bw, bh)
	dc.SetColor(sc.State.Background)
	dc.Clear()
	drawRotated(dc, frame, rot)
	return dc.Image().(*image.RGBA)
}

func bufferSize(s geometry.Size, rot float64) (int, int) {
	b := geometry.RotatedBounds(s, rot)
	return pixels(b.W), pixels(b.H)
}

func pixels(v float64) int {
	n := int(math.Ceil(v - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

func drawRotated(dc *gg.Context, frame *image.RGBA, rot float64) {
	fb := frame.Bounds()
	dc.Push()
	dc.Translate(float64(dc.Width())/2, float64(dc.Height())/2)
	dc.Rotate(geometry.Radians(rot))
	dc.Translate(-float64(fb.Dx())/2, -float64(fb.Dy())/2)
	dc.DrawImage(frame, 0, 0)
	dc.Pop()
}

// compose draws background, base, images, texts and strokes into a
// frame-sized buffer.
func compose(sc Scene, strict bool) *image.RGBA {
	st := sc.State
	size := st.Size()
	dc := gg.NewContext(pixels(size.W), pixels(size.H))
	dc.SetColor(st.Background)
	dc.Clear()

	if sc.Base != nil {
		drawScaled(dc, sc.Base, st.Frame.BaseRect())
	}

	keep := func(r geometry.Rect) bool {
		return !strict || r.Inside(size)
	}

	for _, img := range st.Images {
		src, ok := sc.Images[img.ID]
		if !ok || !keep(img.Rect()) {
			continue
		}
		drawScaled(dc, src, img.Rect())
	}

	for _, t := range st.Texts {
		if t.Text == "" || !keep(t.Extent()) {
			continue
		}
		drawText(dc, t)
	}

	for _, s := range st.Strokes {
		if len(s.Points) == 0 || !keep(s.Extent()) {
			continue
		}
		drawStroke(dc, s)
	}

	return dc.Image().(*image.RGBA)
}

func drawScaled(dc *gg.Context, src image.Image, r geometry.Rect) {
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || r.W <= 0 || r.H <= 0 {
		return
	}
	dc.Push()
	dc.Translate(r.X, r.Y)
	dc.Scale(r.W/float64(b.Dx()), r.H/float64(b.Dy()))
	dc.DrawImage(src, -b.Min.X, -b.Min.Y)
	dc.Pop()
}

func drawText(dc *gg.Context, t layers.TextItem) {
	face, err := fonts.Face(t.Font, t.Size)
	if err != nil {
		log.WithError(err).WithField("font", t.Font).Warn("Skipping text layer")
		return
	}
	defer face.Close()

	c := t.Center()
	dc.Push()
	dc.SetFontFace(face)
	dc.SetColor(t.Color)
	dc.RotateAbout(geometry.Radians(t.RotationDeg), c.X, c.Y)
	dc.DrawString(t.Text, t.X, t.Y)
	dc.Pop()
}

func drawStroke(dc *gg.Context, s layers.Stroke) {
	dc.Push()
	dc.SetColor(s.Color)
	if len(s.Points) == 1 {
		p := s.Points[0]
		dc.DrawCircle(p.X, p.Y, s.Size/2)
		dc.Fill()
		dc.Pop()
		return
	}
	dc.SetLineWidth(s.Size)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	dc.MoveTo(s.Points[0].X, s.Points[0].Y)
	for _, p := range s.Points[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.Stroke()
	dc.Pop()
}

func drawGuides(dc *gg.Context, st layers.State, id string) {
	dc.Push()
	defer dc.Pop()
	dc.SetColor(guideColor)
	dc.SetLineWidth(1)

	if t, _, ok := st.Text(id); ok {
		box := t.Box()
		c := t.Center()
		left, top := c.X-box.W/2, c.Y-box.H/2
		dc.RotateAbout(geometry.Radians(t.RotationDeg), c.X, c.Y)
		dashedRect(dc, left, top, box.W, box.H)
		dc.DrawCircle(c.X, top-RotateHandleOffset, rotateDotSize)
		dc.Fill()
		dc.DrawRectangle(left+box.W-TextResizeHalf/2, top+box.H-TextResizeHalf/2, TextResizeHalf, TextResizeHalf)
		dc.Fill()
		return
	}
	if img, _, ok := st.Image(id); ok {
		dashedRect(dc, img.X, img.Y, img.W, img.H)
		dc.DrawRectangle(img.X+img.W-ImageResizeSide, img.Y+img.H-ImageResizeSide, ImageResizeSide, ImageResizeSide)
		dc.Fill()
	}
}

func dashedRect(dc *gg.Context, x, y, w, h float64) {
	dc.SetDash(6, 4)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()
	dc.SetDash()
}

// drawCheckerboard fills rect of dst with squares of the given size.
func drawCheckerboard(dst *image.RGBA, rect image.Rectangle, size int, light, dark color.Color) {
	tile := image.NewUniform(light)
	draw.Draw(dst, rect, tile, image.Point{}, draw.Src)
	darkTile := image.NewUniform(dark)
	for y := rect.Min.Y; y < rect.Max.Y; y += size {
		for x := rect.Min.X; x < rect.Max.X; x += size {
			if ((x/size)+(y/size))%2 == 1 {
				sq := image.Rect(x, y, x+size, y+size).Intersect(rect)
				draw.Draw(dst, sq, darkTile, image.Point{}, draw.Src)
			}
		}
	}
}
