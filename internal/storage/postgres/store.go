// Package postgres provides a Postgres-backed content writer and reader.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/nexus/internal/ingest"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes content records and logs into Postgres.
type Store struct {
	pool  pool
	clock ingest.Clock
	psql  sq.StatementBuilderType
}

var (
	_ ingest.Writer = (*Store)(nil)
	_ ingest.Reader = (*Store)(nil)
)

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg Config, clock ingest.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("writer.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, clock ingest.Clock) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{
		pool:  p,
		clock: clock,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// EnsureSchema creates the content tables, indexes, and log constraints.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
	}
	return nil
}

// UpsertVideo inserts or updates the video row keyed by URL.
func (s *Store) UpsertVideo(ctx context.Context, rec ingest.VideoRecord) (string, error) {
	var id int64
	err := s.pool.QueryRow(ctx, upsertVideoSQL,
		rec.Title, rec.URL, rec.Summary, rec.Thumbnail, rec.Source, rec.PublishedAt, s.updatedAt(rec.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert video %s: %w", rec.URL, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// UpsertArticle inserts or updates the article row keyed by URL.
func (s *Store) UpsertArticle(ctx context.Context, rec ingest.ArticleRecord) (string, error) {
	var id int64
	err := s.pool.QueryRow(ctx, upsertArticleSQL,
		rec.Title, rec.URL, rec.Summary, rec.Body, rec.Source, rec.PublishedAt, s.updatedAt(rec.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert article %s: %w", rec.URL, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// LogEvent appends a log row; the CHECK constraints reject unknown values.
func (s *Store) LogEvent(ctx context.Context, entry ingest.LogEntry) (string, error) {
	when := entry.When
	if when.IsZero() {
		when = s.now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, insertLogSQL,
		when.UTC(), entry.ItemURL, string(entry.Action), string(entry.Result), entry.Message,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert ingestion log: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Recent returns up to limit records of kind, newest publish time first.
func (s *Store) Recent(ctx context.Context, kind ingest.Kind, limit int) ([]ingest.Record, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	q := s.psql.Select(t.columns()...).
		From(t.name).
		OrderBy("published_at DESC NULLS LAST").
		Limit(clampLimit(limit))
	return s.query(ctx, t, q)
}

// Search runs a websearch-style full-text query, newest publish time first.
func (s *Store) Search(ctx context.Context, kind ingest.Kind, text string, limit int) ([]ingest.Record, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if text == "" {
		return nil, errors.New("search query is required")
	}
	q := s.psql.Select(t.columns()...).
		From(t.name).
		Where(sq.Expr("search @@ websearch_to_tsquery('english', ?)", text)).
		OrderBy("published_at DESC NULLS LAST").
		Limit(clampLimit(limit))
	return s.query(ctx, t, q)
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) query(ctx context.Context, t table, b sq.SelectBuilder) ([]ingest.Record, error) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", t.name, err)
	}
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []ingest.Record
	for rows.Next() {
		var (
			rec                    ingest.Record
			extra, summary, source *string
		)
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &extra, &summary, &source, &rec.PublishedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", t.name, err)
		}
		if t.hasImg {
			rec.Thumbnail = deref(extra)
		} else {
			rec.Body = deref(extra)
		}
		rec.Summary = deref(summary)
		rec.Source = deref(source)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", t.name, err)
	}
	return out, nil
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

func (s *Store) updatedAt(t *time.Time) time.Time {
	if t != nil {
		return t.UTC()
	}
	return s.now()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func clampLimit(limit int) uint64 {
	switch {
	case limit <= 0:
		return 20
	case limit > 500:
		return 500
	default:
		return uint64(limit)
	}
}
