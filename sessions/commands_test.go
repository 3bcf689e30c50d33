package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"meme-composer/editor"
)

func loadedSession(t *testing.T, w, h int) *Session {
	t.Helper()
	r, _ := newTestRegistry(time.Minute)
	s := r.Create("0xabc")
	var buf bytes.Buffer
	png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))
	if err := <-s.Editor.LoadTemplate(context.Background(), editor.BytesSource{Name: "base", Data: buf.Bytes()}); err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	return s
}

func decode(t *testing.T, raw string) Command {
	t.Helper()
	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		t.Fatalf("bad command %s: %v", raw, err)
	}
	return cmd
}

func TestApplyTextScenario(t *testing.T) {
	s := loadedSession(t, 400, 300)

	res, err := s.Apply(decode(t, `{"op":"addText"}`))
	if err != nil || res.ID == "" {
		t.Fatalf("addText = %+v, %v", res, err)
	}
	if _, err := s.Apply(decode(t, `{"op":"updateText","id":"`+res.ID+`","patch":{"text":"GM"}}`)); err != nil {
		t.Fatalf("updateText failed: %v", err)
	}
	if txt, ok := s.Editor.SelectedText(); !ok || txt.Text != "GM" {
		t.Fatalf("selected text = %+v, %v", txt, ok)
	}

	s.Apply(decode(t, `{"op":"undo"}`))
	view := s.View()
	if len(view.State.Texts) != 1 || view.State.Texts[0].Text != "" || !view.CanRedo {
		t.Errorf("after undo view = %+v", view)
	}
	s.Apply(decode(t, `{"op":"redo"}`))
	if view := s.View(); view.State.Texts[0].Text != "GM" {
		t.Errorf("after redo text = %q", view.State.Texts[0].Text)
	}
}

func TestApplyPointerAndKey(t *testing.T) {
	s := loadedSession(t, 400, 300)
	res, _ := s.Apply(decode(t, `{"op":"addText"}`))
	s.Apply(decode(t, `{"op":"updateText","id":"`+res.ID+`","patch":{"text":"GM","x":100,"y":100}}`))
	s.Apply(decode(t, `{"op":"endTextEdit"}`))

	txt, _ := s.Editor.SelectedText()
	c := txt.Center()
	down, err := s.Apply(Command{Op: "pointerDown", X: c.X, Y: c.Y})
	if err != nil || down.Hit == nil || down.Hit.ID != res.ID || down.Hit.Kind != "text" || down.Hit.Zone != "body" {
		t.Fatalf("pointerDown = %+v, %v", down.Hit, err)
	}
	s.Apply(Command{Op: "pointerMove", X: c.X + 10, Y: c.Y})
	s.Apply(Command{Op: "pointerUp"})
	if moved, _ := s.Editor.SelectedText(); moved.X != 110 {
		t.Errorf("drag moved text to x=%v, want 110", moved.X)
	}

	key, err := s.Apply(decode(t, `{"op":"key","key":{"key":"ArrowRight","shift":true}}`))
	if err != nil || !key.Handled {
		t.Fatalf("key = %+v, %v", key, err)
	}
	if moved, _ := s.Editor.SelectedText(); moved.X != 120 {
		t.Errorf("nudge moved text to x=%v, want 120", moved.X)
	}
}

func TestApplyErrors(t *testing.T) {
	r, _ := newTestRegistry(time.Minute)
	s := r.Create("0xabc")

	tests := []struct {
		name string
		cmd  string
	}{
		{"unknown op", `{"op":"explode"}`},
		{"bad tool", `{"op":"setTool","tool":"lasso"}`},
		{"missing brush", `{"op":"setBrush"}`},
		{"missing patch", `{"op":"updateText","id":"x"}`},
		{"missing padding", `{"op":"setPadding"}`},
		{"missing key", `{"op":"key"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Apply(decode(t, tt.cmd)); err == nil {
				t.Errorf("Apply(%s) succeeded", tt.cmd)
			}
		})
	}

	if _, err := s.Apply(decode(t, `{"op":"addText"}`)); !errors.Is(err, editor.ErrNoTemplate) {
		t.Errorf("addText without template err = %v, want ErrNoTemplate", err)
	}
}

func TestApplyToolAndCanvas(t *testing.T) {
	s := loadedSession(t, 400, 300)
	if _, err := s.Apply(decode(t, `{"op":"setTool","tool":"draw"}`)); err != nil {
		t.Fatal(err)
	}
	s.Apply(decode(t, `{"op":"setBrush","brush":{"color":"#ff0000","size":12}}`))
	s.Apply(decode(t, `{"op":"addSpace"}`))
	s.Apply(decode(t, `{"op":"rotateCanvas","degrees":90}`))

	view := s.View()
	if view.Tool != editor.ToolDraw || view.Brush.Size != 12 {
		t.Errorf("tool/brush = %v/%+v", view.Tool, view.Brush)
	}
	if view.Size.W != 400 || view.Size.H != 400 {
		t.Errorf("frame size = %+v, want 400x400", view.Size)
	}
	if view.State.RotationDeg != 90 {
		t.Errorf("rotation = %v", view.State.RotationDeg)
	}
}
