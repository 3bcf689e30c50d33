package memes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"meme-composer/core"
	"meme-composer/editor"
	"meme-composer/render"
)

// Library stores meme rasters in a blob store and their records in a
// MemeStore. It is the persistence collaborator handed to Editor.Save.
type Library struct {
	Memes core.MemeStore
	Blobs core.BlobStore
}

func NewLibrary(memes core.MemeStore, blobs core.BlobStore) *Library {
	return &Library{Memes: memes, Blobs: blobs}
}

var errNotRaster = errors.New("raster must be a PNG or JPEG image")

func extension(contentType string) (string, error) {
	switch contentType {
	case "image/png":
		return ".png", nil
	case "image/jpeg":
		return ".jpg", nil
	}
	return "", errNotRaster
}

func cleanLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Create stores raster for account and returns the new meme ID.
func (l *Library) Create(ctx context.Context, account string, raster []byte, contentType, category string, labels []string) (string, error) {
	if account == "" {
		return "", fmt.Errorf("account is required")
	}
	ext, err := extension(contentType)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(bytes.NewReader(raster))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errNotRaster, err)
	}
	thumb, err := render.Encode(render.Thumbnail(img, render.ThumbnailSide), render.PNG, 0)
	if err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	id := ulid.Make().String()
	meme := &core.Meme{
		ID:           id,
		Account:      account,
		Category:     strings.TrimSpace(category),
		Labels:       cleanLabels(labels),
		ContentType:  contentType,
		BlobKey:      id + ext,
		ThumbnailKey: id + ".thumb.png",
		Width:        img.Bounds().Dx(),
		Height:       img.Bounds().Dy(),
	}
	log := logrus.WithFields(logrus.Fields{"account": account, "meme_id": id, "size": len(raster)})

	if err := l.Blobs.Put(ctx, meme.BlobKey, raster, contentType); err != nil {
		log.WithError(err).Error("Failed to store meme raster")
		return "", err
	}
	if err := l.Blobs.Put(ctx, meme.ThumbnailKey, thumb, render.PNG.ContentType()); err != nil {
		log.WithError(err).Error("Failed to store meme thumbnail")
		l.Blobs.Delete(ctx, meme.BlobKey)
		return "", err
	}
	if err := l.Memes.SaveMeme(ctx, meme); err != nil {
		log.WithError(err).Error("Failed to save meme record")
		l.Blobs.Delete(ctx, meme.BlobKey)
		l.Blobs.Delete(ctx, meme.ThumbnailKey)
		return "", err
	}
	log.Info("Meme created")
	return id, nil
}

// Save implements editor.Saver.
func (l *Library) Save(ctx context.Context, req editor.SaveRequest) (string, error) {
	return l.Create(ctx, req.Account, req.Raster, req.ContentType, req.Category, req.Labels)
}

// Delete removes a meme owned by account together with its blobs.
func (l *Library) Delete(ctx context.Context, account, id string) error {
	meme, err := l.Memes.GetMeme(ctx, id)
	if err != nil {
		return err
	}
	if meme.Account != account {
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	if err := l.Memes.DeleteMeme(ctx, account, id); err != nil {
		return err
	}
	for _, key := range []string{meme.BlobKey, meme.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := l.Blobs.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Failed to delete meme blob")
		}
	}
	return nil
}

// Raster returns the full image or its thumbnail.
func (l *Library) Raster(ctx context.Context, id string, thumbnail bool) ([]byte, string, error) {
	meme, err := l.Memes.GetMeme(ctx, id)
	if err != nil {
		return nil, "", err
	}
	key, contentType := meme.BlobKey, meme.ContentType
	if thumbnail {
		key, contentType = meme.ThumbnailKey, render.PNG.ContentType()
	}
	data, storedType, err := l.Blobs.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if storedType != "" && storedType != "application/octet-stream" {
		contentType = storedType
	}
	return data, contentType, nil
}
