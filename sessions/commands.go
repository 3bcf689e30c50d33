package sessions

import (
	"fmt"

	"meme-composer/editor"
	"meme-composer/geometry"
	"meme-composer/layers"
)

// Command is one editor operation in wire form. Op selects the operation;
// the other fields are read as the operation needs them.
type Command struct {
	Op string `json:"op"`

	ID      string            `json:"id,omitempty"`
	Tool    string            `json:"tool,omitempty"`
	Brush   *editor.Brush     `json:"brush,omitempty"`
	Patch   *editor.TextPatch `json:"patch,omitempty"`
	Factor  float64           `json:"factor,omitempty"`
	Degrees float64           `json:"degrees,omitempty"`
	Padding *layers.Padding   `json:"padding,omitempty"`
	Color   *layers.Color     `json:"color,omitempty"`
	Rect    *geometry.Rect    `json:"rect,omitempty"`
	X       float64           `json:"x,omitempty"`
	Y       float64           `json:"y,omitempty"`
	DeltaY  float64           `json:"deltaY,omitempty"`
	Key     *editor.KeyEvent  `json:"key,omitempty"`
}

// Result reports what a command produced beyond the state change.
type Result struct {
	Op      string   `json:"op"`
	ID      string   `json:"id,omitempty"`
	Hit     *HitView `json:"hit,omitempty"`
	Handled bool     `json:"handled,omitempty"`
}

type HitView struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Zone string `json:"zone"`
}

// Apply runs cmd against the session's editor.
func (s *Session) Apply(cmd Command) (Result, error) {
	e := s.Editor
	res := Result{Op: cmd.Op}

	switch cmd.Op {
	case "setTool":
		t, err := editor.ParseTool(cmd.Tool)
		if err != nil {
			return res, err
		}
		e.SetTool(t)
	case "setBrush":
		if cmd.Brush == nil {
			return res, fmt.Errorf("setBrush needs a brush")
		}
		e.SetBrush(*cmd.Brush)
	case "addText":
		id, err := e.AddText()
		if err != nil {
			return res, err
		}
		res.ID = id
	case "updateText":
		if cmd.Patch == nil {
			return res, fmt.Errorf("updateText needs a patch")
		}
		e.UpdateText(cmd.ID, *cmd.Patch)
	case "removeLayer":
		e.RemoveLayer(cmd.ID)
	case "scaleImage":
		e.ScaleImage(cmd.ID, cmd.Factor)
	case "bringForward":
		e.BringForward(cmd.ID)
	case "sendBackward":
		e.SendBackward(cmd.ID)
	case "resetSize":
		e.ResetSize(cmd.ID)
	case "rotateCanvas":
		e.RotateCanvasBy(cmd.Degrees)
	case "addSpace":
		e.AddSpace()
	case "setPadding":
		if cmd.Padding == nil {
			return res, fmt.Errorf("setPadding needs padding")
		}
		e.SetPadding(*cmd.Padding)
	case "setBackground":
		if cmd.Color == nil {
			return res, fmt.Errorf("setBackground needs a color")
		}
		e.SetBackground(*cmd.Color)
	case "select":
		res.Handled = e.Select(cmd.ID)
	case "clearSelection":
		e.ClearSelection()
	case "beginTextEdit":
		res.Handled = e.BeginTextEdit(cmd.ID)
	case "endTextEdit":
		e.EndTextEdit()
	case "undo":
		e.Undo()
	case "redo":
		e.Redo()
	case "viewport":
		if cmd.Rect == nil {
			return res, fmt.Errorf("viewport needs a rect")
		}
		e.SetViewport(*cmd.Rect)
	case "pointerDown":
		hit := e.PointerDown(geometry.Point{X: cmd.X, Y: cmd.Y})
		res.Hit = &HitView{ID: hit.ID, Kind: hit.Kind.String(), Zone: hit.Zone.String()}
	case "pointerMove":
		e.PointerMove(geometry.Point{X: cmd.X, Y: cmd.Y})
	case "pointerUp":
		e.PointerUp()
	case "pointerCancel":
		e.PointerCancel()
	case "wheel":
		e.Wheel(geometry.Point{X: cmd.X, Y: cmd.Y}, cmd.DeltaY)
	case "key":
		if cmd.Key == nil {
			return res, fmt.Errorf("key needs a key event")
		}
		res.Handled = e.HandleKey(*cmd.Key)
	default:
		return res, fmt.Errorf("unknown command %q", cmd.Op)
	}
	return res, nil
}

// View is the observable state of a session.
type View struct {
	ID          string        `json:"id"`
	HasTemplate bool          `json:"hasTemplate"`
	State       layers.State  `json:"state"`
	Size        geometry.Size `json:"size"`
	Selection   string        `json:"selection,omitempty"`
	Kind        string        `json:"selectionKind"`
	Editing     string        `json:"editing,omitempty"`
	Tool        editor.Tool   `json:"tool"`
	Brush       editor.Brush  `json:"brush"`
	Mode        string        `json:"mode"`
	CanUndo     bool          `json:"canUndo"`
	CanRedo     bool          `json:"canRedo"`
}

func (s *Session) View() View {
	e := s.Editor
	st := e.State()
	sel, kind := e.Selection()
	return View{
		ID:          s.ID,
		HasTemplate: e.HasTemplate(),
		State:       st,
		Size:        st.Size(),
		Selection:   sel,
		Kind:        kind.String(),
		Editing:     e.Editing(),
		Tool:        e.Tool(),
		Brush:       e.Brush(),
		Mode:        e.Mode().String(),
		CanUndo:     e.CanUndo(),
		CanRedo:     e.CanRedo(),
	}
}
