// Package storage selects the content writer backend named in configuration.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/config"
	"github.com/JakeFAU/nexus/internal/ingest"
	"github.com/JakeFAU/nexus/internal/ratelimit"
	"github.com/JakeFAU/nexus/internal/storage/memory"
	"github.com/JakeFAU/nexus/internal/storage/notion"
	"github.com/JakeFAU/nexus/internal/storage/postgres"
	"github.com/JakeFAU/nexus/internal/storage/sqlite"
)

// ErrNoReader is returned by OpenReader for write-only backends.
var ErrNoReader = errors.New("writer backend does not support reads")

// Store is a writer that can also serve recent and search queries.
type Store interface {
	ingest.Writer
	ingest.Reader
}

// New opens the writer selected by cfg.Backend. The caller owns the returned
// writer and must Close it.
func New(ctx context.Context, cfg config.WriterConfig, clock ingest.Clock, logger *zap.Logger) (ingest.Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.BackendSQLite, "":
		w, err := sqlite.Open(ctx, cfg.SQLitePath, clock, logger.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite writer: %w", err)
		}
		logger.Info("using sqlite writer", zap.String("path", cfg.SQLitePath))
		return w, nil
	case config.BackendNotion:
		return newNotion(cfg.Notion, clock, logger)
	case config.BackendPostgres:
		s, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns}, clock)
		if err != nil {
			return nil, fmt.Errorf("open postgres writer: %w", err)
		}
		logger.Info("using postgres writer")
		return s, nil
	case config.BackendMemory:
		logger.Info("using in-memory writer; records are discarded on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown writer backend: %s", cfg.Backend)
	}
}

// OpenReader opens the configured backend for queries. Backends without a
// query surface return ErrNoReader.
func OpenReader(ctx context.Context, cfg config.WriterConfig, clock ingest.Clock, logger *zap.Logger) (Store, error) {
	if cfg.Backend == config.BackendNotion {
		return nil, ErrNoReader
	}
	w, err := New(ctx, cfg, clock, logger)
	if err != nil {
		return nil, err
	}
	store, ok := w.(Store)
	if !ok {
		_ = w.Close()
		return nil, ErrNoReader
	}
	return store, nil
}

func newNotion(cfg config.NotionConfig, clock ingest.Clock, logger *zap.Logger) (ingest.Writer, error) {
	client, err := notion.NewHTTPClient(notion.ClientConfig{
		Token:   cfg.Token,
		BaseURL: cfg.BaseURL,
		Version: cfg.Version,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build notion client: %w", err)
	}
	limiter, err := ratelimit.NewWindow(cfg.Rate, cfg.Period, ratelimit.WithName("notion"))
	if err != nil {
		return nil, fmt.Errorf("build notion limiter: %w", err)
	}
	w, err := notion.NewWriter(client, notion.Databases{
		Videos:   cfg.VideosDBID,
		Articles: cfg.ArticlesDBID,
		Logs:     cfg.LogsDBID,
	}, limiter, clock, logger.Named("notion"))
	if err != nil {
		return nil, fmt.Errorf("build notion writer: %w", err)
	}
	logger.Info("using notion writer", zap.Int("rate", cfg.Rate), zap.Duration("period", cfg.Period))
	return w, nil
}
