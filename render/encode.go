package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
)

// Format is an export encoding.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"

	DefaultJPEGQuality = 92
	ThumbnailSide      = 256
)

// ParseFormat accepts png, jpeg and jpg in any case. Empty means PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the encoding.
func (f Format) ContentType() string {
	if f == JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Encode writes img in the given format. Quality only affects JPEG and is
// clamped to [1, 100]; zero selects the default.
func Encode(img image.Image, f Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case JPEG:
		if quality == 0 {
			quality = DefaultJPEGQuality
		}
		quality = min(max(quality, 1), 100)
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case PNG, "":
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
	return buf.Bytes(), nil
}

// DataURL wraps encoded bytes in a data: URL.
func DataURL(data []byte, f Format) string {
	return "data:" + f.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Thumbnail scales img to fit inside a side×side square. Smaller images are
// returned unscaled.
func Thumbnail(img image.Image, side int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > side || h > side {
		if w >= h {
			h = max(1, h*side/w)
			w = side
		} else {
			w = max(1, w*side/h)
			h = side
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
