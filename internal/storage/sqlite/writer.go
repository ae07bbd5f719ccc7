// Package sqlite implements the embedded content writer and its read paths.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/database"
	"github.com/JakeFAU/nexus/internal/ingest"
)

// timeLayout keeps a fixed fraction width so stored timestamps sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Writer persists videos, articles, and ingestion logs in one SQLite file.
type Writer struct {
	db        *sql.DB
	clock     ingest.Clock
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

var (
	_ ingest.Writer = (*Writer)(nil)
	_ ingest.Reader = (*Writer)(nil)
)

// Open opens the content database at path and migrates its schema.
func Open(ctx context.Context, path string, clock ingest.Clock, logger *zap.Logger) (*Writer, error) {
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	w, err := NewWithDB(db, clock, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewWithDB wraps an already open database and migrates its schema.
func NewWithDB(db *sql.DB, clock ingest.Clock, logger *zap.Logger) (*Writer, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	version, err := database.MigrateContent(db)
	if err != nil {
		return nil, fmt.Errorf("migrate content store: %w", err)
	}
	logger.Debug("content schema ready", zap.Uint("version", version))
	return &Writer{db: db, clock: clock, logger: logger}, nil
}

const upsertVideo = `
INSERT INTO videos (title, url, summary, thumbnail_url, source, published_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
    title = excluded.title,
    summary = excluded.summary,
    thumbnail_url = excluded.thumbnail_url,
    source = excluded.source,
    published_at = excluded.published_at,
    updated_at = excluded.updated_at
RETURNING id`

const upsertArticle = `
INSERT INTO articles (title, url, summary, body, source, published_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
    title = excluded.title,
    summary = excluded.summary,
    body = excluded.body,
    source = excluded.source,
    published_at = excluded.published_at,
    updated_at = excluded.updated_at
RETURNING id`

// UpsertVideo inserts or updates the video row keyed by URL.
func (w *Writer) UpsertVideo(ctx context.Context, rec ingest.VideoRecord) (string, error) {
	var id int64
	err := w.db.QueryRowContext(ctx, upsertVideo,
		rec.Title, rec.URL, rec.Summary, rec.Thumbnail, rec.Source,
		formatTime(rec.PublishedAt), w.updatedAt(rec.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert video %s: %w", rec.URL, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// UpsertArticle inserts or updates the article row keyed by URL.
func (w *Writer) UpsertArticle(ctx context.Context, rec ingest.ArticleRecord) (string, error) {
	var id int64
	err := w.db.QueryRowContext(ctx, upsertArticle,
		rec.Title, rec.URL, rec.Summary, rec.Body, rec.Source,
		formatTime(rec.PublishedAt), w.updatedAt(rec.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert article %s: %w", rec.URL, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// LogEvent appends an ingestion log row. Unknown actions or results are
// rejected by the table's CHECK constraints.
func (w *Writer) LogEvent(ctx context.Context, entry ingest.LogEntry) (string, error) {
	when := entry.When
	if when.IsZero() {
		when = w.now()
	}
	res, err := w.db.ExecContext(ctx,
		"INSERT INTO ingestion_logs (timestamp, item_url, action, result, message) VALUES (?, ?, ?, ?, ?)",
		when.UTC().Format(timeLayout), entry.ItemURL, string(entry.Action), string(entry.Result), entry.Message,
	)
	if err != nil {
		return "", fmt.Errorf("insert ingestion log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("read log id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Ping checks that the database is reachable.
func (w *Writer) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping content store: %w", err)
	}
	return nil
}

// Close releases the connection pool. Subsequent calls return the first result.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.db.Close()
	})
	return w.closeErr
}

func (w *Writer) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now().UTC()
}

func (w *Writer) updatedAt(t *time.Time) string {
	if t != nil {
		return t.UTC().Format(timeLayout)
	}
	return w.now().Format(timeLayout)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s.String); err == nil {
			return &t
		}
	}
	return nil
}
