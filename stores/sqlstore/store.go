package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"meme-composer/core"
)

// Dialect names a supported database/sql driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

type sqlStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewStore opens dataSourceName with the driver for dialect and creates the
// tables it needs. MySQL DSNs must carry parseTime=true.
func NewStore(dialect Dialect, dataSourceName string) *sqlStore {
	s, err := Open(dialect, dataSourceName)
	if err != nil {
		log.Fatalf("failed to open %s database: %v", dialect, err)
	}
	return s
}

// Open is NewStore without the fatal exit.
func Open(dialect Dialect, dataSourceName string) (*sqlStore, error) {
	switch dialect {
	case SQLite, Postgres, MySQL:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dataSourceName)
	if err != nil {
		return nil, err
	}
	s := &sqlStore{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate() error {
	ts, text, key := "DATETIME", "TEXT", "TEXT"
	switch s.dialect {
	case Postgres:
		ts = "TIMESTAMPTZ"
	case MySQL:
		ts, key = "DATETIME(6)", "VARCHAR(191)"
	}

	memeTableStmt := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS memes (
		id %[3]s NOT NULL PRIMARY KEY,
		account %[3]s NOT NULL,
		category %[2]s,
		labels %[2]s,
		content_type %[2]s,
		blob_key %[2]s,
		thumbnail_key %[2]s,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		downloads BIGINT NOT NULL DEFAULT 0,
		shares BIGINT NOT NULL DEFAULT 0,
		created_at %[1]s,
		updated_at %[1]s
	)`, ts, text, key)
	if _, err := s.db.Exec(memeTableStmt); err != nil {
		return fmt.Errorf("failed to create memes table: %w", err)
	}

	userTableStmt := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS users (
		subject %[3]s NOT NULL PRIMARY KEY,
		provider %[2]s,
		login %[2]s,
		email %[2]s,
		avatar_url %[2]s,
		name %[2]s,
		created_at %[1]s,
		updated_at %[1]s
	)`, ts, text, key)
	if _, err := s.db.Exec(userTableStmt); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into the dialect's form.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const memeColumns = "id, account, category, labels, content_type, blob_key, thumbnail_key, width, height, downloads, shares, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanMeme(row scanner) (*core.Meme, error) {
	var m core.Meme
	var labels sql.NullString
	var category, contentType, blobKey, thumbKey sql.NullString
	err := row.Scan(&m.ID, &m.Account, &category, &labels, &contentType, &blobKey, &thumbKey,
		&m.Width, &m.Height, &m.Downloads, &m.Shares, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Category, m.ContentType = category.String, contentType.String
	m.BlobKey, m.ThumbnailKey = blobKey.String, thumbKey.String
	m.Labels = []string{}
	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &m.Labels); err != nil {
			return nil, fmt.Errorf("meme %s: bad labels: %w", m.ID, err)
		}
	}
	return &m, nil
}

func (s *sqlStore) ListMemes(ctx context.Context, account string) ([]*core.Meme, error) {
	log := logrus.WithField("account", account)
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+memeColumns+" FROM memes WHERE account = ? ORDER BY created_at DESC"), account)
	if err != nil {
		log.WithError(err).Error("Failed to list memes")
		return nil, err
	}
	defer rows.Close()

	memes := make([]*core.Meme, 0)
	for rows.Next() {
		m, err := scanMeme(rows)
		if err != nil {
			return nil, err
		}
		memes = append(memes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	log.Debugf("Listed %d memes", len(memes))
	return memes, nil
}

func (s *sqlStore) GetMeme(ctx context.Context, id string) (*core.Meme, error) {
	m, err := scanMeme(s.db.QueryRowContext(ctx, s.rebind("SELECT "+memeColumns+" FROM memes WHERE id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logrus.WithField("meme_id", id).Warn("Meme with specified ID not found")
			return nil, fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
		}
		logrus.WithError(err).WithField("meme_id", id).Error("Failed to retrieve meme")
		return nil, err
	}
	return m, nil
}

func (s *sqlStore) SaveMeme(ctx context.Context, meme *core.Meme) error {
	if meme.ID == "" || meme.Account == "" {
		return fmt.Errorf("meme id and account are required")
	}
	labels, err := json.Marshal(append([]string{}, meme.Labels...))
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"account": meme.Account, "meme_id": meme.ID})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	var createdAt time.Time
	var downloads, shares int64
	err = tx.QueryRowContext(ctx, s.rebind("SELECT created_at, downloads, shares FROM memes WHERE id = ?"), meme.ID).
		Scan(&createdAt, &downloads, &shares)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE memes SET account = ?, category = ?, labels = ?, content_type = ?,
			blob_key = ?, thumbnail_key = ?, width = ?, height = ?, updated_at = ? WHERE id = ?`),
			meme.Account, meme.Category, string(labels), meme.ContentType, meme.BlobKey, meme.ThumbnailKey,
			meme.Width, meme.Height, now, meme.ID)
		meme.CreatedAt, meme.Downloads, meme.Shares = createdAt, downloads, shares
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, s.rebind("INSERT INTO memes ("+memeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)"),
			meme.ID, meme.Account, meme.Category, string(labels), meme.ContentType, meme.BlobKey, meme.ThumbnailKey,
			meme.Width, meme.Height, now, now)
		meme.CreatedAt, meme.Downloads, meme.Shares = now, 0, 0
	}
	if err != nil {
		log.WithError(err).Error("Failed to save meme")
		return err
	}
	meme.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Info("Meme saved successfully")
	return nil
}

func (s *sqlStore) DeleteMeme(ctx context.Context, account, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM memes WHERE account = ? AND id = ?"), account, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	logrus.WithFields(logrus.Fields{"account": account, "meme_id": id}).Info("Meme deleted successfully")
	return nil
}

func (s *sqlStore) Increment(ctx context.Context, id string, kind core.EventKind) error {
	var column string
	switch kind {
	case core.EventDownload:
		column = "downloads"
	case core.EventShare:
		column = "shares"
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE memes SET "+column+" = "+column+" + 1 WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("meme %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *sqlStore) UpsertUser(ctx context.Context, user *core.User) error {
	if user.Subject == "" {
		return fmt.Errorf("user subject is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, s.rebind("SELECT created_at FROM users WHERE subject = ?"), user.Subject).Scan(&createdAt)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE users SET provider = ?, login = ?, email = ?, avatar_url = ?,
			name = ?, updated_at = ? WHERE subject = ?`),
			user.Provider, user.Login, user.Email, user.AvatarURL, user.Name, now, user.Subject)
		user.CreatedAt = createdAt
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO users (subject, provider, login, email, avatar_url, name,
			created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			user.Subject, user.Provider, user.Login, user.Email, user.AvatarURL, user.Name, now, now)
		user.CreatedAt = now
	}
	if err != nil {
		logrus.WithError(err).WithField("subject", user.Subject).Error("Failed to upsert user")
		return err
	}
	user.UpdatedAt = now
	return tx.Commit()
}

func (s *sqlStore) GetUser(ctx context.Context, subject string) (*core.User, error) {
	var u core.User
	var provider, login, email, avatar, name sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT subject, provider, login, email, avatar_url, name, created_at, updated_at
		FROM users WHERE subject = ?`), subject).
		Scan(&u.Subject, &provider, &login, &email, &avatar, &name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", subject, core.ErrNotFound)
		}
		return nil, err
	}
	u.Provider, u.Login, u.Email = provider.String, login.String, email.String
	u.AvatarURL, u.Name = avatar.String, name.String
	return &u, nil
}
