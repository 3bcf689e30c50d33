// Package sessions keeps the live editor sessions of the server, one
// editor per session, and evicts the ones nobody has touched for a while.
package sessions

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"meme-composer/editor"
	"meme-composer/geometry"
	"meme-composer/layers"
)

// ErrNotFound is returned for unknown sessions and for sessions owned by
// another account.
var ErrNotFound = errors.New("session not found")

const DefaultIdleTTL = 30 * time.Minute

// Config is applied to every editor the registry creates.
type Config struct {
	Policy       layers.Policy
	FixedSize    geometry.Size
	MaxPadding   float64
	HistoryLimit int
	IdleTTL      time.Duration
}

// Session is one live editor owned by an account.
type Session struct {
	ID      string
	Owner   string
	Editor  *editor.Editor
	Created time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen is the last time the session was looked up.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

type Registry struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	listenersMu sync.RWMutex
	listeners   []func(*Session)
}

func NewRegistry(cfg Config) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Registry{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// OnChange registers fn to run after an asynchronous decode changed a
// session's document.
func (r *Registry) OnChange(fn func(*Session)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *Registry) changed(s *Session) {
	r.listenersMu.RLock()
	listeners := append([]func(*Session){}, r.listeners...)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// Create starts a new empty session for owner.
func (r *Registry) Create(owner string) *Session {
	now := r.now()
	s := &Session{
		ID:       uuid.New().String(),
		Owner:    owner,
		Created:  now,
		lastSeen: now,
	}
	s.Editor = editor.New(editor.Options{
		Policy:       r.cfg.Policy,
		FixedSize:    r.cfg.FixedSize,
		MaxPadding:   r.cfg.MaxPadding,
		HistoryLimit: r.cfg.HistoryLimit,
		OnChange:     func() { r.changed(s) },
	})

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": s.ID, "owner": owner}).Info("Editor session created")
	return s
}

// Get returns the session if owner owns it and marks it as used.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.Owner != owner {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	s.touch(r.now())
	return s, nil
}

// Delete ends a session owned by owner.
func (r *Registry) Delete(id, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Owner != owner {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	delete(r.sessions, id)
	logrus.WithFields(logrus.Fields{"session_id": id, "owner": owner}).Info("Editor session closed")
	return nil
}

// List returns the sessions of owner.
func (r *Registry) List(owner string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.Owner == owner {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than the configured TTL and returns
// how many were removed.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		logrus.WithFields(logrus.Fields{"evicted": n, "remaining": len(r.sessions)}).Info("Evicted idle editor sessions")
	}
	return n
}

// Schedule registers the eviction sweep on c with a cron spec such as
// "@every 1m".
func (r *Registry) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() { r.Evict() })
	if err != nil {
		return 0, fmt.Errorf("invalid eviction schedule %q: %w", spec, err)
	}
	return id, nil
}
