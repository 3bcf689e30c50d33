// Package fonts resolves font family names to faces built from the Go font
// family and measures text with them.
package fonts

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// Default is the family used when a text layer names an unknown font.
const Default = "goregular"

var families = map[string][]byte{
	"goregular":    goregular.TTF,
	"gobold":       gobold.TTF,
	"goitalic":     goitalic.TTF,
	"gobolditalic": gobolditalic.TTF,
	"gomono":       gomono.TTF,
	"gomonobold":   gomonobold.TTF,
}

// Aliases let clients keep using familiar CSS-ish names.
var aliases = map[string]string{
	"sans-serif": "goregular",
	"impact":     "gobold",
	"arial":      "goregular",
	"monospace":  "gomono",
}

var (
	mu     sync.Mutex
	parsed = make(map[string]*truetype.Font)
)

// Families lists the available family names in sorted order.
func Families() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a requested family to one that exists.
func Resolve(family string) string {
	key := strings.ToLower(strings.TrimSpace(family))
	if _, ok := families[key]; ok {
		return key
	}
	if alias, ok := aliases[key]; ok {
		return alias
	}
	return Default
}

func load(family string) (*truetype.Font, error) {
	name := Resolve(family)

	mu.Lock()
	defer mu.Unlock()
	if f, ok := parsed[name]; ok {
		return f, nil
	}
	f, err := truetype.Parse(families[name])
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", name, err)
	}
	parsed[name] = f
	return f, nil
}

// Face returns a new face for the family at the given size in pixels. Faces
// keep a glyph cache and must not be shared between goroutines, so every
// caller gets its own.
func Face(family string, size float64) (font.Face, error) {
	f, err := load(family)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

// Width returns the advance width of s in the family at the given size.
func Width(family string, size float64, s string) float64 {
	if s == "" {
		return 0
	}
	face, err := Face(family, size)
	if err != nil {
		return 0
	}
	defer face.Close()
	return toFloat(font.MeasureString(face, s))
}

func toFloat(x fixed.Int26_6) float64 {
	return float64(x) / 64
}
