// Package templates serves the directory of base images users can start a
// meme from. The directory is rescanned when its contents change.
package templates

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"meme-composer/editor"
)

const reloadDelay = 250 * time.Millisecond

var extensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// Template is one catalog entry.
type Template struct {
	Name    string    `json:"name"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`

	path string
}

type Catalog struct {
	dir string

	mu    sync.RWMutex
	items map[string]Template
}

// NewCatalog scans dir. A missing directory yields an empty catalog.
func NewCatalog(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir, items: make(map[string]Template)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Dir() string { return c.dir }

// Reload rescans the directory and replaces the catalog.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("dir", c.dir).Warn("Template directory does not exist")
			c.mu.Lock()
			c.items = make(map[string]Template)
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	items := make(map[string]Template, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		t, err := describe(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			logrus.WithError(err).WithField("file", entry.Name()).Warn("Skipping unreadable template")
			continue
		}
		items[t.Name] = t
	}

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	logrus.WithFields(logrus.Fields{"dir": c.dir, "count": len(items)}).Info("Template catalog loaded")
	return nil
}

func describe(path string) (Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return Template{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Template{}, err
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Template{}, err
	}
	return Template{
		Name:    filepath.Base(path),
		Width:   cfg.Width,
		Height:  cfg.Height,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		path:    path,
	}, nil
}

// List returns the catalog sorted by name.
func (c *Catalog) List() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.items))
	for _, t := range c.items {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) Get(name string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.items[name]
	return t, ok
}

// Path is the file a template was read from.
func (c *Catalog) Path(t Template) string {
	return t.path
}

// Source returns an editor source for the named template.
func (c *Catalog) Source(name string) (editor.Source, error) {
	t, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	return editor.FileSource{Path: t.path}, nil
}

// Watch reloads the catalog whenever the directory changes, until ctx is
// done. Bursts of events are coalesced.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDelay, func() {
					if err := c.Reload(); err != nil {
						logrus.WithError(err).Error("Failed to reload template catalog")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("Template watcher error")
			}
		}
	}()

	logrus.WithField("dir", c.dir).Info("Watching template directory")
	return nil
}
