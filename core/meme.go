package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist or is not
// owned by the caller.
var ErrNotFound = errors.New("not found")

type (
	// Meme is a saved, exported raster and its metadata. The raster itself
	// lives in a BlobStore under BlobKey.
	Meme struct {
		ID           string    `json:"id" bson:"_id"`
		Account      string    `json:"account" bson:"account"`
		Category     string    `json:"category" bson:"category"`
		Labels       []string  `json:"labels" bson:"labels"`
		ContentType  string    `json:"contentType" bson:"contentType"`
		BlobKey      string    `json:"-" bson:"blobKey"`
		ThumbnailKey string    `json:"-" bson:"thumbnailKey"`
		Width        int       `json:"width" bson:"width"`
		Height       int       `json:"height" bson:"height"`
		Downloads    int64     `json:"downloads" bson:"downloads"`
		Shares       int64     `json:"shares" bson:"shares"`
		CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
		UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
	}

	// EventKind is a counter a meme keeps.
	EventKind string

	// MemeStore persists meme records.
	MemeStore interface {
		// ListMemes returns the memes owned by an account, newest first.
		ListMemes(ctx context.Context, account string) ([]*Meme, error)

		// GetMeme returns a meme by ID regardless of owner.
		GetMeme(ctx context.Context, id string) (*Meme, error)

		// SaveMeme creates or updates a meme.
		SaveMeme(ctx context.Context, meme *Meme) error

		// DeleteMeme removes a meme owned by account.
		DeleteMeme(ctx context.Context, account, id string) error

		// Increment bumps one counter of a meme.
		Increment(ctx context.Context, id string, kind EventKind) error
	}

	// BlobStore holds raw rasters.
	BlobStore interface {
		Put(ctx context.Context, key string, data []byte, contentType string) error
		Get(ctx context.Context, key string) ([]byte, string, error)
		Delete(ctx context.Context, key string) error
	}
)

const (
	EventDownload EventKind = "download"
	EventShare    EventKind = "share"
)

// ParseEventKind accepts "download" or "share".
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventDownload, EventShare:
		return k, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}
