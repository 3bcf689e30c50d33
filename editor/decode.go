package editor

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxSourceBytes caps how much of a source is read before decoding.
const MaxSourceBytes = 32 << 20

// Source is something an image can be decoded from.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// URLSource fetches an image over HTTP(S) or reads a base64 data: URL.
// Without a Client only public addresses are dialed.
type URLSource struct {
	URL    string
	Client *http.Client
}

// ErrForbiddenHost is returned for URLs that resolve to loopback, private,
// link-local or otherwise non-public addresses.
var ErrForbiddenHost = errors.New("image host is not allowed")

// cgnat is the shared address space of RFC 6598.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

func publicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() && !ip.IsPrivate() && !cgnat.Contains(ip)
}

// dialPublic runs after name resolution, so it sees the address actually
// dialed, including after redirects.
func dialPublic(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !publicAddr(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}
	return nil
}

var defaultClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
			Control: dialPublic,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	},
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("too many redirects")
		}
		return nil
	},
}

func (s URLSource) String() string {
	if strings.HasPrefix(s.URL, "data:") {
		return "data-url"
	}
	return s.URL
}

func (s URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if strings.HasPrefix(s.URL, "data:") {
		return openDataURL(s.URL)
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("unsupported image url %q", s.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: status %d", s.URL, resp.StatusCode)
	}
	return resp.Body, nil
}

func openDataURL(raw string) (io.ReadCloser, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("data url must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data url: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// FileSource reads an image from the local filesystem.
type FileSource struct {
	Path string
}

func (s FileSource) String() string { return s.Path }

func (s FileSource) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(s.Path)
}

// BytesSource decodes an image already held in memory, such as an upload.
type BytesSource struct {
	Name string
	Data []byte
}

func (s BytesSource) String() string { return s.Name }

func (s BytesSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

// Decode opens src and decodes it as PNG, JPEG, GIF, WebP, BMP or TIFF.
func Decode(ctx context.Context, src Source) (image.Image, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(io.LimitReader(rc, MaxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", src, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("failed to decode %s: empty image", src)
	}
	return img, nil
}
