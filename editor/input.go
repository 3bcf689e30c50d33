package editor

import "strings"

// KeyEvent is a key press as reported by the client. Key uses the DOM
// KeyboardEvent.key names ("ArrowLeft", "Delete", "z", ...).
type KeyEvent struct {
	Key   string `json:"key"`
	Shift bool   `json:"shift"`
	Ctrl  bool   `json:"ctrl"`
	Meta  bool   `json:"meta"`
	Alt   bool   `json:"alt"`
}

// Command is an editor action produced by the key router.
type Command interface {
	command()
}

type (
	NudgeCommand struct{ DX, DY float64 }
	DeleteSelectionCommand struct{}
	ClearSelectionCommand  struct{}
	UndoCommand            struct{}
	RedoCommand            struct{}
)

func (NudgeCommand) command()           {}
func (DeleteSelectionCommand) command() {}
func (ClearSelectionCommand) command()  {}
func (UndoCommand) command()            {}
func (RedoCommand) command()            {}

const (
	nudgeStep      = 1
	nudgeStepLarge = 10
)

// RouteKey maps a key press to a command.
func RouteKey(ev KeyEvent) (Command, bool) {
	if ev.Ctrl || ev.Meta {
		switch strings.ToLower(ev.Key) {
		case "z":
			if ev.Shift {
				return RedoCommand{}, true
			}
			return UndoCommand{}, true
		case "y":
			return RedoCommand{}, true
		}
		return nil, false
	}

	step := float64(nudgeStep)
	if ev.Shift {
		step = nudgeStepLarge
	}
	switch ev.Key {
	case "ArrowLeft":
		return NudgeCommand{DX: -step}, true
	case "ArrowRight":
		return NudgeCommand{DX: step}, true
	case "ArrowUp":
		return NudgeCommand{DY: -step}, true
	case "ArrowDown":
		return NudgeCommand{DY: step}, true
	case "Delete", "Backspace":
		return DeleteSelectionCommand{}, true
	case "Escape":
		return ClearSelectionCommand{}, true
	}
	return nil, false
}
