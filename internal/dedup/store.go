// Package dedup persists the last processed content hash per URL so
// re-ingesting unchanged content becomes a no-op.
package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/nexus/internal/database"
	"github.com/JakeFAU/nexus/internal/ingest"
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_hashes (
    url TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

// Store implements ingest.DedupStore on its own SQLite file.
type Store struct {
	db        *sql.DB
	clock     ingest.Clock
	closeOnce sync.Once
	closeErr  error
}

var _ ingest.DedupStore = (*Store)(nil)

// Open opens (creating if needed) the dedup database at path.
func Open(ctx context.Context, path string, clock ingest.Clock) (*Store, error) {
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create seen_hashes: %w", err)
	}
	return &Store{db: db, clock: clock}, nil
}

// GetStoredHash returns the last processed hash for url, if any.
func (s *Store) GetStoredHash(ctx context.Context, url string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM seen_hashes WHERE url = ?", url).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query seen hash: %w", err)
	}
	return hash, true, nil
}

// HasChanged reports whether hash differs from the stored hash for url.
// An unseen URL counts as changed.
func (s *Store) HasChanged(ctx context.Context, url, hash string) (bool, error) {
	stored, ok, err := s.GetStoredHash(ctx, url)
	if err != nil {
		return false, err
	}
	return !ok || stored != hash, nil
}

// MarkProcessed records hash as the latest processed content for url.
func (s *Store) MarkProcessed(ctx context.Context, url, hash string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO seen_hashes (url, content_hash, updated_at) VALUES (?, ?, ?)",
		url, hash, s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// Close releases the connection pool. Subsequent calls return the first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}
