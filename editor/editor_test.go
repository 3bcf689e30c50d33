package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"meme-composer/geometry"
	"meme-composer/layers"
	"meme-composer/render"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for decode")
		return nil
	}
}

func loaded(t *testing.T, w, h int, opts Options) *Editor {
	t.Helper()
	e := New(opts)
	src := BytesSource{Name: "base.png", Data: pngBytes(t, w, h, color.NRGBA{0x80, 0x80, 0x80, 0xff})}
	if err := wait(t, e.LoadTemplate(context.Background(), src)); err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	return e
}

func addImage(t *testing.T, e *Editor, w, h int) string {
	t.Helper()
	src := BytesSource{Name: "overlay.png", Data: pngBytes(t, w, h, color.NRGBA{0, 0, 0xff, 0xff})}
	if err := wait(t, e.AddImageSources(context.Background(), src)); err != nil {
		t.Fatalf("AddImageSources failed: %v", err)
	}
	img, ok := e.SelectedImage()
	if !ok {
		t.Fatal("new image is not selected")
	}
	return img.ID
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestLoadTemplateResolvesFrame(t *testing.T) {
	e := loaded(t, 400, 300, Options{})

	size := e.State().Size()
	if size.W != 400 || size.H != 300 {
		t.Errorf("frame = %+v, want 400x300", size)
	}
	if e.CanUndo() || e.HistoryLen() != 1 {
		t.Errorf("history not reset: len=%d", e.HistoryLen())
	}
}

func TestLoadTemplateFixedPolicy(t *testing.T) {
	e := loaded(t, 200, 100, Options{Policy: layers.PolicyFixed, FixedSize: geometry.Size{W: 512, H: 512}})

	if size := e.State().Size(); size.W != 512 || size.H != 512 {
		t.Errorf("frame = %+v, want 512x512", size)
	}

	e.RotateCanvasBy(90)
	e.AddSpace()
	if e.State().RotationDeg != 0 || e.HistoryLen() != 1 {
		t.Error("rotate or add space changed a fixed frame")
	}
}

func TestTextEditUndoRedo(t *testing.T) {
	e := loaded(t, 400, 300, Options{})

	id, err := e.AddText()
	if err != nil {
		t.Fatalf("AddText failed: %v", err)
	}
	txt, ok := e.SelectedText()
	if !ok || txt.ID != id {
		t.Fatal("new text is not selected")
	}
	if c := txt.Center(); !near(c.X, 200) || !near(c.Y, 150) {
		t.Errorf("text center = %+v, want (200,150)", c)
	}
	if txt.Size != layers.DefaultFontSize || txt.Color != layers.White {
		t.Errorf("unexpected default styling: %+v", txt)
	}
	if e.Editing() != id {
		t.Error("new text is not in inline edit mode")
	}

	gm := "GM"
	e.UpdateText(id, TextPatch{Text: &gm})

	e.Undo()
	if got, _, _ := e.State().Text(id); got.Text != "" {
		t.Errorf("after undo text = %q, want empty", got.Text)
	}
	e.Redo()
	if got, _, _ := e.State().Text(id); got.Text != "GM" {
		t.Errorf("after redo text = %q, want GM", got.Text)
	}
}

func TestUpdateUnknownTextIsNoOp(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	s := "x"
	e.UpdateText("missing", TextPatch{Text: &s})
	if e.HistoryLen() != 1 {
		t.Errorf("HistoryLen() = %d, want 1", e.HistoryLen())
	}
}

func TestSendBackwardReordersImages(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	a := addImage(t, e, 50, 50)
	b := addImage(t, e, 60, 60)

	e.SendBackward(b)

	imgs := e.State().Images
	if len(imgs) != 2 || imgs[0].ID != b || imgs[1].ID != a {
		t.Fatalf("order = %v, want B,A", []string{imgs[0].ID, imgs[1].ID})
	}
}

func TestZOrderEndsAreNoOps(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	a := addImage(t, e, 50, 50)
	b := addImage(t, e, 60, 60)
	before := e.HistoryLen()

	e.BringForward(b)
	e.SendBackward(a)

	if e.HistoryLen() != before {
		t.Error("no-op z-order change added a history entry")
	}
}

func TestNewImageFitsFrameAndIsCentered(t *testing.T) {
	e := loaded(t, 400, 300, Options{})

	addImage(t, e, 100, 50)
	img, _ := e.SelectedImage()
	if img.W != 100 || img.H != 50 || img.X != 150 || img.Y != 125 {
		t.Errorf("small image = %+v, want 100x50 at (150,125)", img)
	}

	addImage(t, e, 800, 400)
	img, _ = e.SelectedImage()
	if !near(img.W, 400) || !near(img.H, 200) || !near(img.X, 0) || !near(img.Y, 50) {
		t.Errorf("large image = %+v, want 400x200 at (0,50)", img)
	}
}

func TestScaleImageIsReversible(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)

	e.ScaleImage(id, 2)
	e.ScaleImage(id, 0.5)
	img, _, _ := e.State().Image(id)
	if !near(img.W, 100) || !near(img.H, 50) {
		t.Errorf("after x2, x0.5 size = %vx%v, want 100x50", img.W, img.H)
	}

	e.ScaleImage(id, 0.1)
	img, _, _ = e.State().Image(id)
	if img.W != layers.MinImageSide || img.H != layers.MinImageSide {
		t.Errorf("floored size = %vx%v, want 16x16", img.W, img.H)
	}
}

func TestScaleImageFitsFrameFromAnchor(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)

	e.ScaleImage(id, 10)
	img, _, _ := e.State().Image(id)
	if img.X+img.W > 400+1e-9 || img.Y+img.H > 300+1e-9 {
		t.Errorf("image overflows frame: %+v", img)
	}
	if !near(img.W/img.H, 2) {
		t.Errorf("aspect = %v, want 2", img.W/img.H)
	}
}

func TestScaleImageClampsFactor(t *testing.T) {
	// The overlay is 100x50 centered at (150,125) in a 400x300 frame.
	tests := []struct {
		name string
		f    float64
		w, h float64
	}{
		{"zero", 0, 16, 16},
		{"negative", -3, 16, 16},
		{"negative infinity", math.Inf(-1), 16, 16},
		{"infinity fitted from anchor", math.Inf(1), 250, 125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := loaded(t, 400, 300, Options{})
			id := addImage(t, e, 100, 50)
			before := e.HistoryLen()

			e.ScaleImage(id, tt.f)
			got, _, _ := e.State().Image(id)
			if e.HistoryLen() != before+1 {
				t.Errorf("HistoryLen() = %d, want %d", e.HistoryLen(), before+1)
			}
			if !near(got.W, tt.w) || !near(got.H, tt.h) {
				t.Errorf("size = %vx%v, want %vx%v", got.W, got.H, tt.w, tt.h)
			}
		})
	}
}

func TestResetSize(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)
	e.ScaleImage(id, 0.5)
	e.ResetSize(id)

	img, _, _ := e.State().Image(id)
	if !near(img.W, 100) || !near(img.H, 50) {
		t.Errorf("after reset size = %vx%v, want 100x50", img.W, img.H)
	}
}

func TestDragGestureCommitsOnce(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)
	before := e.HistoryLen()

	hit := e.PointerDown(geometry.Pt(200, 150))
	if hit.ID != id || hit.Zone != ZoneBody {
		t.Fatalf("PointerDown hit = %+v, want body of %s", hit, id)
	}
	if e.Mode() != Dragging {
		t.Fatalf("Mode() = %v, want dragging", e.Mode())
	}
	e.PointerMove(geometry.Pt(210, 155))
	e.PointerMove(geometry.Pt(220, 160))
	if e.HistoryLen() != before {
		t.Error("intermediate moves were committed")
	}
	e.PointerUp()

	if e.HistoryLen() != before+1 {
		t.Errorf("HistoryLen() = %d, want %d", e.HistoryLen(), before+1)
	}
	img, _, _ := e.State().Image(id)
	if img.X != 170 || img.Y != 135 {
		t.Errorf("image at (%v,%v), want (170,135)", img.X, img.Y)
	}

	e.Undo()
	img, _, _ = e.State().Image(id)
	if img.X != 150 || img.Y != 125 {
		t.Errorf("after undo image at (%v,%v), want (150,125)", img.X, img.Y)
	}
}

func TestDragIsClampedToFrame(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)

	e.PointerDown(geometry.Pt(200, 150))
	e.PointerMove(geometry.Pt(1000, -500))
	e.PointerUp()

	img, _, _ := e.State().Image(id)
	if img.X != 300 || img.Y != 0 {
		t.Errorf("image at (%v,%v), want (300,0)", img.X, img.Y)
	}
}

func TestClickWithoutMoveDoesNotCommit(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	addImage(t, e, 100, 50)
	before := e.HistoryLen()

	e.PointerDown(geometry.Pt(200, 150))
	e.PointerUp()

	if e.HistoryLen() != before {
		t.Error("a click without movement added a history entry")
	}
}

func TestClickOnEmptySpaceClearsSelection(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	addImage(t, e, 100, 50)

	if hit := e.PointerDown(geometry.Pt(10, 10)); hit.Kind != KindNone {
		t.Fatalf("hit = %+v, want none", hit)
	}
	if id, _ := e.Selection(); id != "" {
		t.Errorf("selection = %q, want none", id)
	}
	if e.Mode() != Idle {
		t.Errorf("Mode() = %v, want idle", e.Mode())
	}
}

func TestResizeImageGesture(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)

	hit := e.PointerDown(geometry.Pt(245, 170))
	if hit.Zone != ZoneResize {
		t.Fatalf("hit zone = %v, want resize", hit.Zone)
	}
	e.PointerMove(geometry.Pt(350, 225))
	e.PointerUp()

	img, _, _ := e.State().Image(id)
	if !near(img.W, 200) || !near(img.H, 100) {
		t.Errorf("size = %vx%v, want 200x100", img.W, img.H)
	}
}

func addGM(t *testing.T, e *Editor) layers.TextItem {
	t.Helper()
	id, err := e.AddText()
	if err != nil {
		t.Fatalf("AddText failed: %v", err)
	}
	gm := "GM"
	e.UpdateText(id, TextPatch{Text: &gm})
	e.EndTextEdit()
	txt, _, _ := e.State().Text(id)
	return txt
}

func TestRotateTextGesture(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	txt := addGM(t, e)
	c := txt.Center()
	handle := geometry.Pt(c.X, c.Y-txt.Size/2-render.RotateHandleOffset)

	hit := e.PointerDown(handle)
	if hit.Zone != ZoneRotate {
		t.Fatalf("hit zone = %v, want rotate", hit.Zone)
	}
	e.PointerMove(geometry.Pt(c.X+50, c.Y))
	e.PointerUp()

	got, _, _ := e.State().Text(txt.ID)
	if !near(got.RotationDeg, 90) {
		t.Errorf("rotation = %v, want 90", got.RotationDeg)
	}
}

func TestResizeTextGesture(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	txt := addGM(t, e)
	box := txt.Box()

	hit := e.PointerDown(geometry.Pt(txt.X+box.W, txt.Y))
	if hit.Zone != ZoneResize {
		t.Fatalf("hit zone = %v, want resize", hit.Zone)
	}
	e.PointerMove(geometry.Pt(txt.X+2*box.W, txt.Y-box.H+2*box.H))
	e.PointerUp()

	got, _, _ := e.State().Text(txt.ID)
	if !near(got.Size, 2*layers.DefaultFontSize) {
		t.Errorf("size = %v, want %v", got.Size, 2*layers.DefaultFontSize)
	}
}

func TestHitTestRotateBeatsBody(t *testing.T) {
	st := layers.Empty()
	st.Frame.Base = geometry.Size{W: 400, H: 300}
	st = st.AddText(layers.TextItem{ID: "t", Text: "GM", X: 100, Y: 100, Size: 40})
	txt := st.Texts[0]
	c := txt.Center()

	p := geometry.Pt(c.X, c.Y-txt.Size/2+1)
	if got := HitTest(st, p); got.Zone != ZoneRotate {
		t.Errorf("HitTest() zone = %v, want rotate", got.Zone)
	}
	if got := HitTest(st, c); got.Zone != ZoneBody {
		t.Errorf("HitTest(center) zone = %v, want body", got.Zone)
	}
}

func TestHitTestRotatedText(t *testing.T) {
	st := layers.Empty()
	st.Frame.Base = geometry.Size{W: 400, H: 300}
	st = st.AddText(layers.TextItem{ID: "t", Text: "GMGMGM", X: 100, Y: 150, Size: 30, RotationDeg: 90})
	txt := st.Texts[0]
	c := txt.Center()
	box := txt.Box()

	// Rotated a quarter turn the long axis is vertical.
	if got := HitTest(st, geometry.Pt(c.X, c.Y+box.W/2-12)); got.ID != "t" {
		t.Errorf("point along the rotated long axis missed: %+v", got)
	}
	if got := HitTest(st, geometry.Pt(c.X+box.W/2-5, c.Y)); got.ID != "" {
		t.Errorf("point outside the rotated box hit: %+v", got)
	}
}

func TestHitTestTextAboveImage(t *testing.T) {
	st := layers.Empty()
	st.Frame.Base = geometry.Size{W: 400, H: 300}
	st = st.AddImage(layers.ImageItem{ID: "i", X: 0, Y: 0, W: 400, H: 300})
	st = st.AddText(layers.TextItem{ID: "t", Text: "GM", X: 100, Y: 100, Size: 40})

	if got := HitTest(st, st.Texts[0].Center()); got.ID != "t" {
		t.Errorf("HitTest() = %+v, want the text", got)
	}
	if got := HitTest(st, geometry.Pt(395, 295)); got.ID != "i" || got.Zone != ZoneResize {
		t.Errorf("HitTest(corner) = %+v, want image resize", got)
	}
}

func TestDrawStroke(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	e.SetTool(ToolDraw)
	e.SetBrush(Brush{Color: layers.Black, Size: 500})
	before := e.HistoryLen()

	e.PointerDown(geometry.Pt(10, 10))
	if e.Mode() != Drawing {
		t.Fatalf("Mode() = %v, want drawing", e.Mode())
	}
	e.PointerMove(geometry.Pt(20, 20))
	e.PointerMove(geometry.Pt(30, 25))
	e.PointerUp()

	st := e.State()
	if len(st.Strokes) != 1 || len(st.Strokes[0].Points) != 3 {
		t.Fatalf("strokes = %+v, want one stroke of 3 points", st.Strokes)
	}
	if st.Strokes[0].Size != layers.MaxBrushSize {
		t.Errorf("brush size = %v, want %v", st.Strokes[0].Size, layers.MaxBrushSize)
	}
	if e.HistoryLen() != before+1 {
		t.Errorf("HistoryLen() = %d, want %d", e.HistoryLen(), before+1)
	}
}

func TestPointerUsesViewportAndRotation(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	e.RotateCanvasBy(90)
	e.SetViewport(geometry.Rect{X: 0, Y: 0, W: 150, H: 200})
	e.SetTool(ToolDraw)

	// The preview is 300x400 shown at half size; its top-right corner is
	// the content origin after a quarter turn.
	e.PointerDown(geometry.Pt(150, 0))
	e.PointerUp()

	p := e.State().Strokes[0].Points[0]
	if !near(p.X, 0) || !near(p.Y, 0) {
		t.Errorf("stroke point = %+v, want (0,0)", p)
	}
}

func TestWheelScalesSelectedImage(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)
	before := e.HistoryLen()

	e.Wheel(geometry.Pt(200, 150), -1)
	img, _, _ := e.State().Image(id)
	if !near(img.W, 105) || !near(img.H, 52.5) {
		t.Errorf("size = %vx%v, want 105x52.5", img.W, img.H)
	}

	e.Wheel(geometry.Pt(5, 5), -1)
	if e.HistoryLen() != before+1 {
		t.Errorf("HistoryLen() = %d, want %d", e.HistoryLen(), before+1)
	}
}

func TestWheelScalesSelectedText(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	txt := addGM(t, e)
	before := e.HistoryLen()

	tests := []struct {
		deltaY float64
		want   float64
	}{
		{-1, 21},
		{-1, 22.05},
		{3, 20.9475},
	}
	for i, tt := range tests {
		cur, _, _ := e.State().Text(txt.ID)
		e.Wheel(cur.Center(), tt.deltaY)
		got, _, _ := e.State().Text(txt.ID)
		if !near(got.Size, tt.want) {
			t.Errorf("tick %d: size = %v, want %v", i, got.Size, tt.want)
		}
		if e.HistoryLen() != before+i+1 {
			t.Errorf("tick %d: HistoryLen() = %d, want %d", i, e.HistoryLen(), before+i+1)
		}
	}
}

func TestOpenGestureEndsOnce(t *testing.T) {
	tests := []struct {
		name         string
		end          func(e *Editor)
		wantX, wantY float64
		wantRedo     bool
	}{
		{"pointer cancel", func(e *Editor) { e.PointerCancel() }, 160, 130, false},
		{"undo key", func(e *Editor) { e.HandleKey(KeyEvent{Key: "z", Ctrl: true}) }, 150, 125, true},
		{"undo then redo keys", func(e *Editor) {
			e.HandleKey(KeyEvent{Key: "z", Meta: true})
			e.HandleKey(KeyEvent{Key: "y", Ctrl: true})
		}, 160, 130, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := loaded(t, 400, 300, Options{})
			id := addImage(t, e, 100, 50)
			before := e.HistoryLen()

			e.PointerDown(geometry.Pt(200, 150))
			e.PointerMove(geometry.Pt(210, 155))
			tt.end(e)

			if e.Mode() != Idle {
				t.Errorf("Mode() = %v, want idle", e.Mode())
			}
			if e.HistoryLen() != before+1 {
				t.Errorf("HistoryLen() = %d, want %d", e.HistoryLen(), before+1)
			}
			img, _, _ := e.State().Image(id)
			if img.X != tt.wantX || img.Y != tt.wantY {
				t.Errorf("image at (%v,%v), want (%v,%v)", img.X, img.Y, tt.wantX, tt.wantY)
			}
			if e.CanRedo() != tt.wantRedo {
				t.Errorf("CanRedo() = %v, want %v", e.CanRedo(), tt.wantRedo)
			}

			e.PointerCancel()
			e.PointerUp()
			if e.HistoryLen() != before+1 {
				t.Errorf("a second release committed again: HistoryLen() = %d", e.HistoryLen())
			}
		})
	}
}

func TestDragRotatedTextStaysInFixedFrame(t *testing.T) {
	e := loaded(t, 400, 300, Options{Policy: layers.PolicyFixed, FixedSize: geometry.Size{W: 400, H: 300}})
	id, _ := e.AddText()
	long, quarter := "GMGMGMGMGM", 90.0
	e.UpdateText(id, TextPatch{Text: &long, RotationDeg: &quarter})
	e.EndTextEdit()
	txt, _, _ := e.State().Text(id)

	e.PointerDown(txt.Center())
	e.PointerMove(txt.Center().Add(geometry.Pt(0, -1000)))
	e.PointerUp()

	got, _, _ := e.State().Text(id)
	ext := got.Extent()
	if ext.Y < -1e-6 || ext.X < -1e-6 || ext.X+ext.W > 400+1e-6 || ext.Y+ext.H > 300+1e-6 {
		t.Fatalf("rotated extent %+v left the frame", ext)
	}
	if !near(ext.Y, 0) {
		t.Errorf("extent top = %v, want 0", ext.Y)
	}

	withText, err := e.Export(render.PNG, 0)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	e.RemoveLayer(id)
	without, err := e.Export(render.PNG, 0)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if bytes.Equal(withText, without) {
		t.Error("dragged text is missing from the export")
	}
}

func TestKeyboard(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id := addImage(t, e, 100, 50)

	e.HandleKey(KeyEvent{Key: "ArrowRight", Shift: true})
	e.HandleKey(KeyEvent{Key: "ArrowDown"})
	img, _, _ := e.State().Image(id)
	if img.X != 160 || img.Y != 126 {
		t.Errorf("after nudge image at (%v,%v), want (160,126)", img.X, img.Y)
	}

	e.HandleKey(KeyEvent{Key: "z", Ctrl: true})
	img, _, _ = e.State().Image(id)
	if img.Y != 125 {
		t.Errorf("after undo y = %v, want 125", img.Y)
	}
	e.HandleKey(KeyEvent{Key: "Z", Meta: true, Shift: true})
	img, _, _ = e.State().Image(id)
	if img.Y != 126 {
		t.Errorf("after redo y = %v, want 126", img.Y)
	}

	e.HandleKey(KeyEvent{Key: "Delete"})
	if e.State().Has(id) {
		t.Error("Delete did not remove the selected image")
	}
	if sel, _ := e.Selection(); sel != "" {
		t.Errorf("selection = %q after delete", sel)
	}
}

func TestDeleteSuppressedWhileEditingText(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	id, _ := e.AddText()

	e.HandleKey(KeyEvent{Key: "Backspace"})
	if !e.State().Has(id) {
		t.Fatal("Backspace removed the text being edited")
	}

	e.HandleKey(KeyEvent{Key: "Escape"})
	if sel, _ := e.Selection(); sel != "" || e.Editing() != "" {
		t.Error("Escape did not clear selection and edit mode")
	}
}

func TestKeysIgnoredWithoutTemplate(t *testing.T) {
	e := New(Options{})
	if e.HandleKey(KeyEvent{Key: "z", Ctrl: true}) {
		t.Error("HandleKey() = true without a template")
	}
}

func TestRouteKey(t *testing.T) {
	testCases := []struct {
		name string
		ev   KeyEvent
		want Command
	}{
		{"left", KeyEvent{Key: "ArrowLeft"}, NudgeCommand{DX: -1}},
		{"shift up", KeyEvent{Key: "ArrowUp", Shift: true}, NudgeCommand{DY: -10}},
		{"undo", KeyEvent{Key: "z", Ctrl: true}, UndoCommand{}},
		{"redo shift", KeyEvent{Key: "z", Meta: true, Shift: true}, RedoCommand{}},
		{"redo y", KeyEvent{Key: "y", Ctrl: true}, RedoCommand{}},
		{"escape", KeyEvent{Key: "Escape"}, ClearSelectionCommand{}},
		{"backspace", KeyEvent{Key: "Backspace"}, DeleteSelectionCommand{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := RouteKey(tc.ev)
			if !ok || got != tc.want {
				t.Errorf("RouteKey() = %#v, %v; want %#v", got, ok, tc.want)
			}
		})
	}

	if _, ok := RouteKey(KeyEvent{Key: "q"}); ok {
		t.Error("RouteKey(q) matched")
	}
}

func TestAddSpaceAndRotate(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	e.AddSpace()
	if size := e.State().Size(); size.H != 400 {
		t.Errorf("height after AddSpace = %v, want 400", size.H)
	}

	e.RotateCanvasBy(-90)
	if got := e.State().RotationDeg; got != 270 {
		t.Errorf("rotation = %v, want 270", got)
	}
	if b := e.Preview().Bounds(); b.Dx() != 400 || b.Dy() != 400 {
		t.Errorf("preview bounds = %v, want 400x400", b)
	}
}

func TestExportWithoutTemplate(t *testing.T) {
	e := New(Options{})
	data, err := e.Export(render.PNG, 0)
	if !errors.Is(err, ErrNoTemplate) || data != nil {
		t.Errorf("Export() = %d bytes, %v; want nil, ErrNoTemplate", len(data), err)
	}
}

func TestExportEncodesFrame(t *testing.T) {
	e := loaded(t, 64, 48, Options{})
	data, err := e.Export(render.PNG, 0)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("export bounds = %v, want 64x48", b)
	}
}

type blockingSource struct {
	release chan struct{}
	data    []byte
}

func (s blockingSource) String() string { return "blocking" }

func (s blockingSource) Open(context.Context) (io.ReadCloser, error) {
	<-s.release
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func TestStaleTemplateDecodeIsDiscarded(t *testing.T) {
	e := New(Options{})
	slow := blockingSource{release: make(chan struct{}), data: pngBytes(t, 10, 10, color.White)}

	first := e.LoadTemplate(context.Background(), slow)
	second := e.LoadTemplate(context.Background(), BytesSource{Name: "b", Data: pngBytes(t, 40, 30, color.White)})
	if err := wait(t, second); err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	close(slow.release)
	if err := wait(t, first); !errors.Is(err, ErrStaleDecode) {
		t.Errorf("first load err = %v, want ErrStaleDecode", err)
	}
	if size := e.State().Size(); size.W != 40 || size.H != 30 {
		t.Errorf("frame = %+v, want 40x30", size)
	}
}

func TestStaleImageDecodeIsDiscarded(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	slow := blockingSource{release: make(chan struct{}), data: pngBytes(t, 10, 10, color.White)}

	pending := e.AddImageSources(context.Background(), slow)
	if err := wait(t, e.LoadTemplate(context.Background(), BytesSource{Name: "b", Data: pngBytes(t, 40, 30, color.White)})); err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	close(slow.release)

	if err := wait(t, pending); !errors.Is(err, ErrStaleDecode) {
		t.Errorf("err = %v, want ErrStaleDecode", err)
	}
	if n := len(e.State().Images); n != 0 {
		t.Errorf("%d images installed from a stale decode", n)
	}
}

func TestDecodeFailureInstallsNothing(t *testing.T) {
	e := loaded(t, 400, 300, Options{})
	err := wait(t, e.AddImageSources(context.Background(), BytesSource{Name: "junk", Data: []byte("not an image")}))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if len(e.State().Images) != 0 || e.HistoryLen() != 1 {
		t.Error("a failed decode changed the document")
	}
}

func TestAddImageWithoutTemplate(t *testing.T) {
	e := New(Options{})
	if err := wait(t, e.AddImageSources(context.Background())); !errors.Is(err, ErrNoTemplate) {
		t.Errorf("err = %v, want ErrNoTemplate", err)
	}
}

func TestDataURLSource(t *testing.T) {
	e := New(Options{})
	url := render.DataURL(pngBytes(t, 20, 10, color.White), render.PNG)
	if err := wait(t, e.LoadTemplate(context.Background(), URLSource{URL: url})); err != nil {
		t.Fatalf("LoadTemplate(data url) failed: %v", err)
	}
	if size := e.State().Size(); size.W != 20 || size.H != 10 {
		t.Errorf("frame = %+v, want 20x10", size)
	}
}

func TestPublicAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"8.8.8.8", true},
		{"2606:4700::1111", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"fe80::1", false},
		{"fd00::1", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"::ffff:127.0.0.1", false},
		{"224.0.0.1", false},
	}
	for _, tt := range tests {
		if got := publicAddr(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("publicAddr(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestURLSourceRefusesLoopback(t *testing.T) {
	data := pngBytes(t, 20, 10, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	e := New(Options{})
	err := wait(t, e.LoadTemplate(context.Background(), URLSource{URL: srv.URL + "/t.png"}))
	if !errors.Is(err, ErrForbiddenHost) {
		t.Fatalf("err = %v, want ErrForbiddenHost", err)
	}
	if e.HasTemplate() {
		t.Error("template installed from a loopback address")
	}

	// A caller-supplied client is trusted.
	err = wait(t, e.LoadTemplate(context.Background(), URLSource{URL: srv.URL + "/t.png", Client: srv.Client()}))
	if err != nil {
		t.Fatalf("LoadTemplate with explicit client failed: %v", err)
	}
	if size := e.State().Size(); size.W != 20 || size.H != 10 {
		t.Errorf("frame = %+v, want 20x10", size)
	}
}

type fakeSaver struct {
	got SaveRequest
	err error
}

func (f *fakeSaver) Save(_ context.Context, req SaveRequest) (string, error) {
	f.got = req
	return "meme-1", f.err
}

func TestSave(t *testing.T) {
	e := loaded(t, 32, 32, Options{})
	saver := &fakeSaver{}

	id, err := e.Save(context.Background(), saver, "0xabc", "funny", []string{"gm"})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if id != "meme-1" {
		t.Errorf("id = %q, want meme-1", id)
	}
	if saver.got.Account != "0xabc" || saver.got.Category != "funny" || saver.got.ContentType != "image/png" || len(saver.got.Raster) == 0 {
		t.Errorf("unexpected save request: %+v", saver.got)
	}

	if _, err := New(Options{}).Save(context.Background(), saver, "0xabc", "", nil); !errors.Is(err, ErrNoTemplate) {
		t.Errorf("Save without template err = %v, want ErrNoTemplate", err)
	}
}

func TestOnChangeFiresAfterDecode(t *testing.T) {
	changed := make(chan struct{}, 1)
	e := New(Options{OnChange: func() { changed <- struct{}{} }})
	wait(t, e.LoadTemplate(context.Background(), BytesSource{Name: "b", Data: pngBytes(t, 10, 10, color.White)}))

	select {
	case <-changed:
	default:
		t.Error("OnChange was not called")
	}
}
