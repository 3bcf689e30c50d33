package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"meme-composer/core"
)

func newTestStore(t *testing.T) *sqlStore {
	t.Helper()
	s, err := Open(SQLite, filepath.Join(t.TempDir(), "memes.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		want    string
	}{
		{SQLite, "SELECT a FROM t WHERE x = ? AND y = ?"},
		{MySQL, "SELECT a FROM t WHERE x = ? AND y = ?"},
		{Postgres, "SELECT a FROM t WHERE x = $1 AND y = $2"},
	}
	for _, tt := range tests {
		s := &sqlStore{dialect: tt.dialect}
		if got := s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != tt.want {
			t.Errorf("%s: rebind() = %q, want %q", tt.dialect, got, tt.want)
		}
	}
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("Open(oracle) succeeded, want error")
	}
}

func TestMemeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &core.Meme{ID: "m1", Account: "0xabc", Category: "gm", Labels: []string{"a", "b"},
		ContentType: "image/png", BlobKey: "m1.png", ThumbnailKey: "m1.thumb.png", Width: 400, Height: 300}
	if err := s.SaveMeme(ctx, first); err != nil {
		t.Fatalf("SaveMeme failed: %v", err)
	}
	second := &core.Meme{ID: "m2", Account: "0xabc", ContentType: "image/png", BlobKey: "m2.png"}
	if err := s.SaveMeme(ctx, second); err != nil {
		t.Fatalf("SaveMeme failed: %v", err)
	}
	if err := s.SaveMeme(ctx, &core.Meme{ID: "m3", Account: "0xdef"}); err != nil {
		t.Fatalf("SaveMeme failed: %v", err)
	}

	list, err := s.ListMemes(ctx, "0xabc")
	if err != nil {
		t.Fatalf("ListMemes failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "m2" || list[1].ID != "m1" {
		t.Fatalf("ListMemes returned wrong order: %+v", list)
	}

	got, err := s.GetMeme(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMeme failed: %v", err)
	}
	if got.BlobKey != "m1.png" || got.ThumbnailKey != "m1.thumb.png" || len(got.Labels) != 2 || got.Width != 400 {
		t.Errorf("GetMeme returned %+v", got)
	}

	if err := s.Increment(ctx, "m1", core.EventDownload); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := s.Increment(ctx, "m1", core.EventShare); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := s.Increment(ctx, "missing", core.EventShare); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Increment(missing) err = %v, want ErrNotFound", err)
	}

	// Re-saving keeps counters and creation time.
	created := got.CreatedAt
	resave := &core.Meme{ID: "m1", Account: "0xabc", Category: "gn"}
	if err := s.SaveMeme(ctx, resave); err != nil {
		t.Fatalf("SaveMeme failed: %v", err)
	}
	got, _ = s.GetMeme(ctx, "m1")
	if got.Downloads != 1 || got.Shares != 1 || got.Category != "gn" || !got.CreatedAt.Equal(created) {
		t.Errorf("resave lost data: %+v", got)
	}

	if err := s.DeleteMeme(ctx, "0xdef", "m1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteMeme by non-owner err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteMeme(ctx, "0xabc", "m1"); err != nil {
		t.Fatalf("DeleteMeme failed: %v", err)
	}
	if _, err := s.GetMeme(ctx, "m1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetMeme after delete err = %v, want ErrNotFound", err)
	}
}

func TestUpsertUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, &core.User{Subject: "0xabc", Provider: "wallet"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	first, err := s.GetUser(ctx, "0xabc")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}

	if err := s.UpsertUser(ctx, &core.User{Subject: "0xabc", Provider: "wallet", Name: "anon"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	second, _ := s.GetUser(ctx, "0xabc")
	if second.Name != "anon" || !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("upsert = %+v, first = %+v", second, first)
	}

	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetUser(nobody) err = %v, want ErrNotFound", err)
	}
	if err := s.UpsertUser(ctx, &core.User{}); err == nil {
		t.Error("UpsertUser without subject succeeded")
	}
}
