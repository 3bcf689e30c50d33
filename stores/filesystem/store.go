package filesystem

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meme-composer/core"
)

// memeFile is the on-disk form of a meme; it keeps the blob keys that the
// API representation hides.
type memeFile struct {
	*core.Meme
	BlobKey      string `json:"blobKey"`
	ThumbnailKey string `json:"thumbnailKey"`
}

type fsStore struct {
	basePath string
	// counters are read-modify-write on a file
	mu sync.Mutex
}

// NewStore creates a filesystem-based record store under basePath.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{"memes", "users"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Fatalf("failed to create base directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

// resolve joins name onto dir and rejects anything that escapes it.
func resolve(dir, name string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if name == "" || !strings.HasPrefix(absFile, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return absFile, nil
}

func (s *fsStore) memePath(id string) (string, error) {
	return resolve(filepath.Join(s.basePath, "memes"), id+".json")
}

// Subjects may contain characters that are not safe in file names.
func (s *fsStore) userPath(subject string) (string, error) {
	return resolve(filepath.Join(s.basePath, "users"), hex.EncodeToString([]byte(subject))+".json")
}

func readMeme(path string) (*core.Meme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	f := memeFile{Meme: &core.Meme{}}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	f.Meme.BlobKey, f.Meme.ThumbnailKey = f.BlobKey, f.ThumbnailKey
	return f.Meme, nil
}

func writeMeme(path string, m *core.Meme) error {
	data, err := json.Marshal(memeFile{Meme: m, BlobKey: m.BlobKey, ThumbnailKey: m.ThumbnailKey})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *fsStore) ListMemes(ctx context.Context, account string) ([]*core.Meme, error) {
	dir := filepath.Join(s.basePath, "memes")
	log := logrus.WithFields(logrus.Fields{"account": account, "path": dir})

	files, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Error("Failed to read memes directory")
		return nil, err
	}

	memes := make([]*core.Meme, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		m, err := readMeme(filepath.Join(dir, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read meme file %s, skipping", file.Name())
			continue
		}
		if m.Account == account {
			memes = append(memes, m)
		}
	}
	sort.Slice(memes, func(i, j int) bool {
		return memes[i].CreatedAt.After(memes[j].CreatedAt)
	})

	log.Debugf("Listed %d memes", len(memes))
	return memes, nil
}

func (s *fsStore) GetMeme(ctx context.Context, id string) (*core.Meme, error) {
	path, err := s.memePath(id)
	if err != nil {
		return nil, err
	}
	m, err := readMeme(path)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			logrus.WithField("meme_id", id).Warn("Meme file not found")
			return nil, fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

func (s *fsStore) SaveMeme(ctx context.Context, meme *core.Meme) error {
	path, err := s.memePath(meme.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"account": meme.Account, "meme_id": meme.ID, "path": path})

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, err := readMeme(path); err == nil {
		meme.CreatedAt = existing.CreatedAt
		meme.Downloads, meme.Shares = existing.Downloads, existing.Shares
	} else {
		meme.CreatedAt = now
	}
	meme.UpdatedAt = now

	if err := writeMeme(path, meme); err != nil {
		log.WithError(err).Error("Failed to write meme file")
		return err
	}
	log.Info("Meme saved successfully")
	return nil
}

func (s *fsStore) DeleteMeme(ctx context.Context, account, id string) error {
	path, err := s.memePath(id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"account": account, "meme_id": id, "path": path})

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := readMeme(path)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
		}
		return err
	}
	if m.Account != account {
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	if err := os.Remove(path); err != nil {
		log.WithError(err).Error("Failed to delete meme file")
		return err
	}
	log.Info("Meme deleted successfully")
	return nil
}

func (s *fsStore) Increment(ctx context.Context, id string, kind core.EventKind) error {
	path, err := s.memePath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := readMeme(path)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
		}
		return err
	}
	switch kind {
	case core.EventDownload:
		m.Downloads++
	case core.EventShare:
		m.Shares++
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
	return writeMeme(path, m)
}

func (s *fsStore) UpsertUser(ctx context.Context, user *core.User) error {
	path, err := s.userPath(user.Subject)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	user.CreatedAt = now
	if data, err := os.ReadFile(path); err == nil {
		var existing core.User
		if json.Unmarshal(data, &existing) == nil {
			user.CreatedAt = existing.CreatedAt
		}
	}
	user.UpdatedAt = now

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *fsStore) GetUser(ctx context.Context, subject string) (*core.User, error) {
	path, err := s.userPath(subject)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("user %s: %w", subject, core.ErrNotFound)
		}
		return nil, err
	}
	var u core.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

type fsBlobs struct {
	basePath string
}

// NewBlobStore stores rasters as plain files under basePath/blobs.
func NewBlobStore(basePath string) *fsBlobs {
	dir := filepath.Join(basePath, "blobs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("failed to create blob directory: %v", err)
	}
	return &fsBlobs{basePath: dir}
}

func (b *fsBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := resolve(b.basePath, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to write blob")
		return err
	}
	return nil
}

// Get returns the blob and a content type sniffed from its bytes.
func (b *fsBlobs) Get(ctx context.Context, key string) ([]byte, string, error) {
	path, err := resolve(b.basePath, key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, "", err
	}
	return data, http.DetectContentType(data), nil
}

func (b *fsBlobs) Delete(ctx context.Context, key string) error {
	path, err := resolve(b.basePath, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
