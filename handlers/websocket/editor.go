// Package websocket is the live input channel of editor sessions: clients
// stream pointer, wheel and key events and receive rendered frames.
package websocket

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"meme-composer/handlers/auth"
	"meme-composer/render"
	"meme-composer/sessions"
)

type ackInvoker func(err error, payload map[string]any)

// Frame is what clients receive after every change of their session.
type Frame struct {
	SessionID string        `json:"sessionId"`
	Image     string        `json:"image"`
	CanUndo   bool          `json:"canUndo"`
	CanRedo   bool          `json:"canRedo"`
	View      sessions.View `json:"view"`
}

func buildFrame(s *sessions.Session) Frame {
	view := s.View()
	frame := Frame{SessionID: s.ID, CanUndo: view.CanUndo, CanRedo: view.CanRedo, View: view}
	if data, err := render.Encode(s.Editor.Preview(), render.PNG, 0); err == nil {
		frame.Image = render.DataURL(data, render.PNG)
	} else {
		logrus.WithError(err).WithField("session_id", s.ID).Error("Failed to encode frame")
	}
	return frame
}

// binding is the session a socket has joined.
type binding struct {
	mu      sync.Mutex
	session *sessions.Session
}

func (b *binding) get() *sessions.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *binding) set(s *sessions.Session) {
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
}

func SetupSocketIO(reg *sessions.Registry) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	// Asynchronous decodes finish outside any socket handler.
	reg.OnChange(func(s *sessions.Session) {
		_ = srv.To(socketio.Room(s.ID)).Emit("frame", buildFrame(s))
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		log := logrus.WithField("socket_id", socket.Id())
		joined := &binding{}

		// join-session(sessionID, token, ack?)
		socket.On("join-session", func(datas ...any) {
			ack, args := extractAck(datas)
			s, err := joinSession(reg, args)
			if err != nil {
				log.WithError(err).Warn("Rejected join-session")
				respondWithAck(socket, ack, "join-session-ack", errorPayload(err), err)
				return
			}
			if prev := joined.get(); prev != nil {
				socket.Leave(socketio.Room(prev.ID))
			}
			joined.set(s)
			socket.Join(socketio.Room(s.ID))
			log.WithField("session_id", s.ID).Info("Socket joined editor session")

			respondWithAck(socket, ack, "join-session-ack", map[string]any{"status": "ok", "sessionId": s.ID}, nil)
			_ = socket.Emit("frame", buildFrame(s))
		})

		handle := func(event string, toCommand func(args []any) (sessions.Command, error)) {
			socket.On(event, func(datas ...any) {
				ack, args := extractAck(datas)
				s := joined.get()
				if s == nil {
					err := fmt.Errorf("join a session first")
					respondWithAck(socket, ack, "", errorPayload(err), err)
					return
				}
				cmd, err := toCommand(args)
				if err == nil {
					var res sessions.Result
					if res, err = s.Apply(cmd); err == nil {
						respondWithAck(socket, ack, "", map[string]any{"status": "ok", "result": res}, nil)
						emitFrame(srv, s)
						return
					}
				}
				log.WithError(err).WithField("event", event).Debug("Rejected editor input")
				respondWithAck(socket, ack, "", errorPayload(err), err)
			})
		}
		handle("pointer", pointerCommand)
		handle("wheel", func(args []any) (sessions.Command, error) {
			cmd, err := firstArg(args)
			cmd.Op = "wheel"
			return cmd, err
		})
		handle("key", func(args []any) (sessions.Command, error) {
			if len(args) == 0 {
				return sessions.Command{}, fmt.Errorf("key event is required")
			}
			cmd := sessions.Command{Op: "key"}
			if err := decodeArg(args[0], &cmd.Key); err != nil {
				return cmd, err
			}
			return cmd, nil
		})
		handle("command", firstArg)

		socket.On("disconnect", func(datas ...any) {
			if s := joined.get(); s != nil {
				// A dropped connection mid-gesture behaves like a release.
				s.Editor.PointerCancel()
			}
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

func emitFrame(srv *socketio.Server, s *sessions.Session) {
	_ = srv.To(socketio.Room(s.ID)).Emit("frame", buildFrame(s))
}

func joinSession(reg *sessions.Registry, args []any) (*sessions.Session, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("session id and token are required")
	}
	id, _ := args[0].(string)
	token, _ := args[1].(string)
	if id == "" || token == "" {
		return nil, fmt.Errorf("invalid session id or token")
	}
	claims, err := auth.ParseJWT(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token")
	}
	return reg.Get(id, claims.Subject)
}

func errorPayload(err error) map[string]any {
	return map[string]any{"status": "error", "error": err.Error()}
}

// decodeArg converts a decoded socket.io argument into v.
func decodeArg(arg any, v any) error {
	raw, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func firstArg(args []any) (sessions.Command, error) {
	var cmd sessions.Command
	if len(args) == 0 {
		return cmd, fmt.Errorf("payload is required")
	}
	err := decodeArg(args[0], &cmd)
	return cmd, err
}

// pointerCommand reads {type: down|move|up|cancel, x, y}.
func pointerCommand(args []any) (sessions.Command, error) {
	if len(args) == 0 {
		return sessions.Command{}, fmt.Errorf("pointer event is required")
	}
	var ev struct {
		Type string  `json:"type"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}
	if err := decodeArg(args[0], &ev); err != nil {
		return sessions.Command{}, err
	}
	ops := map[string]string{
		"down":   "pointerDown",
		"move":   "pointerMove",
		"up":     "pointerUp",
		"cancel": "pointerCancel",
	}
	op, ok := ops[ev.Type]
	if !ok {
		return sessions.Command{}, fmt.Errorf("unknown pointer event %q", ev.Type)
	}
	return sessions.Command{Op: op, X: ev.X, Y: ev.Y}, nil
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		value.Call(buildAckArgs(typ, err, payload))
	}
}

// buildAckArgs fits (err, payload) to whatever signature the client
// callback was registered with. A single-parameter callback gets the error
// when there is one and the payload otherwise.
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		var argValue any
		switch {
		case numIn == 1 && err != nil:
			argValue = err
		case numIn == 1:
			argValue = payload
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		}
		args[i] = coerceValue(argValue, typ.In(i))
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}
	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}
	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	return reflect.Zero(targetType)
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}

	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}
