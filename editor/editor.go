// Package editor is the interactive editing engine. An Editor owns the
// history, the live working state, the decoded image cache and the current
// gesture, and serializes every operation behind one mutex.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"meme-composer/geometry"
	"meme-composer/history"
	"meme-composer/layers"
	"meme-composer/render"
)

var (
	// ErrNoTemplate is returned by operations that need a base image.
	ErrNoTemplate = errors.New("no template loaded")
	// ErrStaleDecode reports a decode that finished after a newer template
	// was requested. Its result was discarded.
	ErrStaleDecode = errors.New("decode superseded by a newer template")
)

// Tool is the active toolbar tool.
type Tool int

const (
	ToolNone Tool = iota
	ToolText
	ToolDraw
	ToolImage
	ToolRotate
	ToolDownload
)

var toolNames = []string{"none", "text", "draw", "image", "rotate", "download"}

func (t Tool) String() string {
	if int(t) < len(toolNames) {
		return toolNames[t]
	}
	return "none"
}

func (t Tool) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tool) UnmarshalText(b []byte) error {
	parsed, err := ParseTool(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTool parses a tool name.
func ParseTool(s string) (Tool, error) {
	for i, name := range toolNames {
		if strings.EqualFold(s, name) {
			return Tool(i), nil
		}
	}
	return ToolNone, fmt.Errorf("unknown tool %q", s)
}

// Brush is the style of new strokes.
type Brush struct {
	Color layers.Color `json:"color"`
	Size  float64      `json:"size"`
}

// Options configures a new Editor.
type Options struct {
	Policy layers.Policy
	// FixedSize is the output size under the fixed policy. Zero uses the
	// base image's natural size.
	FixedSize    geometry.Size
	MaxPadding   float64
	HistoryLimit int
	// OnChange is called, without the lock held, after an asynchronous
	// decode has been applied.
	OnChange func()
}

type Editor struct {
	mu   sync.Mutex
	opts Options

	hist       *history.History[layers.State]
	live       layers.State
	base       image.Image
	images     map[string]image.Image
	generation uint64

	selected string
	selKind  Kind
	editing  string

	tool     Tool
	brush    Brush
	viewport geometry.Rect
	gesture  *gesture
}

// New creates an editor with an empty document.
func New(opts Options) *Editor {
	if opts.MaxPadding <= 0 {
		opts.MaxPadding = layers.DefaultMaxPadding
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = history.DefaultLimit
	}
	e := &Editor{
		opts:   opts,
		images: make(map[string]image.Image),
		brush:  Brush{Color: layers.Black, Size: layers.DefaultBrushSize},
	}
	e.live = e.emptyState()
	e.hist = history.New(e.live, opts.HistoryLimit)
	return e
}

func (e *Editor) emptyState() layers.State {
	st := layers.Empty()
	st.Frame.Policy = e.opts.Policy
	st.Frame.MaxPadding = e.opts.MaxPadding
	return st
}

// LoadTemplate clears the document and decodes src as the new base image.
// The returned channel yields the outcome once and is then closed.
func (e *Editor) LoadTemplate(ctx context.Context, src Source) <-chan error {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.base = nil
	e.images = make(map[string]image.Image)
	e.resetLocked(e.emptyState())
	e.mu.Unlock()

	out := make(chan error, 1)
	go func() {
		defer close(out)
		img, err := Decode(ctx, src)
		if err != nil {
			log.WithError(err).WithField("source", src.String()).Warn("Failed to load template")
			out <- err
			return
		}

		e.mu.Lock()
		if e.generation != gen {
			e.mu.Unlock()
			log.WithField("source", src.String()).Debug("Discarding stale template decode")
			out <- ErrStaleDecode
			return
		}
		b := img.Bounds()
		st := e.emptyState()
		st.Frame.Base = geometry.Size{W: float64(b.Dx()), H: float64(b.Dy())}
		st.Frame.Fixed = e.opts.FixedSize
		if st.Frame.Fixed.W <= 0 || st.Frame.Fixed.H <= 0 {
			st.Frame.Fixed = st.Frame.Base
		}
		e.base = img
		e.resetLocked(st)
		e.mu.Unlock()

		e.notify()
		out <- nil
	}()
	return out
}

func (e *Editor) resetLocked(st layers.State) {
	e.gesture = nil
	e.selected, e.selKind, e.editing = "", KindNone, ""
	e.live = st
	e.hist.Reset(st)
}

// AddImageSources decodes the sources concurrently and adds every image that
// decoded as one history entry. The last added image becomes the selection.
// The outcome joins the per-source decode errors.
func (e *Editor) AddImageSources(ctx context.Context, srcs ...Source) <-chan error {
	out := make(chan error, 1)

	e.mu.Lock()
	if e.base == nil {
		e.mu.Unlock()
		out <- ErrNoTemplate
		close(out)
		return out
	}
	gen := e.generation
	e.mu.Unlock()

	go func() {
		defer close(out)
		decoded := make([]image.Image, len(srcs))
		errs := make([]error, len(srcs))
		var wg sync.WaitGroup
		for i, src := range srcs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				decoded[i], errs[i] = Decode(ctx, src)
				if errs[i] != nil {
					log.WithError(errs[i]).WithField("source", src.String()).Warn("Failed to load image")
				}
			}()
		}
		wg.Wait()

		e.mu.Lock()
		if e.generation != gen {
			e.mu.Unlock()
			out <- ErrStaleDecode
			return
		}
		e.finishGestureLocked()
		next := e.live
		last := ""
		for _, img := range decoded {
			if img == nil {
				continue
			}
			id := ulid.Make().String()
			e.images[id] = img
			next = next.AddImage(fitNew(next.Size(), id, img.Bounds()))
			last = id
		}
		if last != "" {
			e.applyLocked(next)
			e.selectLocked(last, KindImage)
		}
		e.mu.Unlock()

		if last != "" {
			e.notify()
		}
		out <- errors.Join(errs...)
	}()
	return out
}

// fitNew places an image of natural size b centered in the frame, scaled
// down to fit but never up.
func fitNew(frame geometry.Size, id string, b image.Rectangle) layers.ImageItem {
	iw, ih := float64(b.Dx()), float64(b.Dy())
	s := math.Min(1, math.Min(frame.W/iw, frame.H/ih))
	w, h := iw*s, ih*s
	return layers.ImageItem{ID: id, X: (frame.W - w) / 2, Y: (frame.H - h) / 2, W: w, H: h}
}

func (e *Editor) notify() {
	if e.opts.OnChange != nil {
		e.opts.OnChange()
	}
}

// applyLocked ends any gesture and commits next unless it equals the live
// state. It reports whether a history entry was added.
func (e *Editor) applyLocked(next layers.State) bool {
	e.finishGestureLocked()
	if reflect.DeepEqual(next, e.live) {
		return false
	}
	e.live = next
	e.hist.Commit(next)
	return true
}

func (e *Editor) selectLocked(id string, kind Kind) {
	if e.editing != "" && e.editing != id {
		e.editing = ""
	}
	e.selected, e.selKind = id, kind
}

func (e *Editor) clearSelectionLocked() {
	e.selected, e.selKind, e.editing = "", KindNone, ""
}

// pruneSelectionLocked drops a selection whose layer no longer exists.
func (e *Editor) pruneSelectionLocked() {
	if e.selected != "" && !e.live.Has(e.selected) {
		e.clearSelectionLocked()
	}
	if e.editing != "" && !e.live.Has(e.editing) {
		e.editing = ""
	}
}

// State returns the live document snapshot.
func (e *Editor) State() layers.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

func (e *Editor) HasTemplate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.base != nil
}

func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.CanUndo()
}

func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.CanRedo()
}

// HistoryLen returns the number of stored snapshots.
func (e *Editor) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.Len()
}

// Selection returns the selected layer ID and kind.
func (e *Editor) Selection() (string, Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected, e.selKind
}

func (e *Editor) SelectedText() (layers.TextItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selKind != KindText {
		return layers.TextItem{}, false
	}
	t, _, ok := e.live.Text(e.selected)
	return t, ok
}

func (e *Editor) SelectedImage() (layers.ImageItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selKind != KindImage {
		return layers.ImageItem{}, false
	}
	img, _, ok := e.live.Image(e.selected)
	return img, ok
}

// Editing returns the ID of the text in inline edit mode, if any.
func (e *Editor) Editing() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editing
}

func (e *Editor) Tool() Tool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tool
}

func (e *Editor) Brush() Brush {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.brush
}

// Mode returns the state of the current gesture.
func (e *Editor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture == nil {
		return Idle
	}
	return e.gesture.mode
}

func (e *Editor) sceneLocked(withSelection bool) render.Scene {
	sc := render.Scene{State: e.live, Base: e.base, Images: e.images}
	if withSelection {
		sc.Selection = e.selected
	}
	return sc
}

// Preview renders the live state with selection guides.
func (e *Editor) Preview() *image.RGBA {
	e.mu.Lock()
	defer e.mu.Unlock()
	return render.Preview(e.sceneLocked(true))
}

// ExportImage renders the live state for export.
func (e *Editor) ExportImage() (*image.RGBA, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base == nil {
		return nil, ErrNoTemplate
	}
	return render.Export(e.sceneLocked(false)), nil
}

// Export renders and encodes the document.
func (e *Editor) Export(f render.Format, quality int) ([]byte, error) {
	img, err := e.ExportImage()
	if err != nil {
		return nil, err
	}
	return render.Encode(img, f, quality)
}

// ExportDataURL is Export wrapped in a data: URL.
func (e *Editor) ExportDataURL(f render.Format, quality int) (string, error) {
	data, err := e.Export(f, quality)
	if err != nil {
		return "", err
	}
	return render.DataURL(data, f), nil
}

// SaveRequest is what the engine hands to the persistence collaborator.
type SaveRequest struct {
	Account     string
	Raster      []byte
	ContentType string
	Category    string
	Labels      []string
}

// Saver persists an exported raster and returns the record ID.
type Saver interface {
	Save(ctx context.Context, req SaveRequest) (string, error)
}

// Save exports the document as PNG and passes it to saver.
func (e *Editor) Save(ctx context.Context, saver Saver, account, category string, labels []string) (string, error) {
	data, err := e.Export(render.PNG, 0)
	if err != nil {
		return "", err
	}
	return saver.Save(ctx, SaveRequest{
		Account:     account,
		Raster:      data,
		ContentType: render.PNG.ContentType(),
		Category:    category,
		Labels:      labels,
	})
}
