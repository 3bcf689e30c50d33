package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meme-composer/core"
)

// memStore implements MemeStore and UserStore in memory.
type memStore struct {
	mu    sync.RWMutex
	memes map[string]*core.Meme
	users map[string]*core.User
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		memes: make(map[string]*core.Meme),
		users: make(map[string]*core.User),
	}
}

func copyMeme(m *core.Meme) *core.Meme {
	out := *m
	out.Labels = append([]string{}, m.Labels...)
	return &out
}

// ListMemes returns the memes owned by an account, newest first.
func (s *memStore) ListMemes(ctx context.Context, account string) ([]*core.Meme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memes := make([]*core.Meme, 0)
	for _, m := range s.memes {
		if m.Account == account {
			memes = append(memes, copyMeme(m))
		}
	}
	sort.Slice(memes, func(i, j int) bool {
		return memes[i].CreatedAt.After(memes[j].CreatedAt)
	})

	logrus.WithField("account", account).Debugf("Listed %d memes", len(memes))
	return memes, nil
}

// GetMeme returns a meme by ID.
func (s *memStore) GetMeme(ctx context.Context, id string) (*core.Meme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memes[id]
	if !ok {
		logrus.WithField("meme_id", id).Warn("Meme not found")
		return nil, fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	return copyMeme(m), nil
}

// SaveMeme creates or updates a meme.
func (s *memStore) SaveMeme(ctx context.Context, meme *core.Meme) error {
	if meme.ID == "" || meme.Account == "" {
		return fmt.Errorf("meme id and account are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.memes[meme.ID]; ok {
		meme.CreatedAt = existing.CreatedAt
		meme.Downloads, meme.Shares = existing.Downloads, existing.Shares
	} else {
		meme.CreatedAt = now
	}
	meme.UpdatedAt = now
	s.memes[meme.ID] = copyMeme(meme)

	logrus.WithFields(logrus.Fields{"account": meme.Account, "meme_id": meme.ID}).Info("Meme saved successfully")
	return nil
}

// DeleteMeme removes a meme owned by account.
func (s *memStore) DeleteMeme(ctx context.Context, account, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"account": account, "meme_id": id})
	m, ok := s.memes[id]
	if !ok || m.Account != account {
		log.Warn("Meme not found for deletion")
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	delete(s.memes, id)
	log.Info("Meme deleted successfully")
	return nil
}

// Increment bumps a counter.
func (s *memStore) Increment(ctx context.Context, id string, kind core.EventKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memes[id]
	if !ok {
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	switch kind {
	case core.EventDownload:
		m.Downloads++
	case core.EventShare:
		m.Shares++
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
	return nil
}

// UpsertUser creates or refreshes a user.
func (s *memStore) UpsertUser(ctx context.Context, user *core.User) error {
	if user.Subject == "" {
		return fmt.Errorf("user subject is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.users[user.Subject]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	u := *user
	s.users[user.Subject] = &u
	return nil
}

// GetUser returns a user by subject.
func (s *memStore) GetUser(ctx context.Context, subject string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[subject]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", subject, core.ErrNotFound)
	}
	out := *u
	return &out, nil
}
