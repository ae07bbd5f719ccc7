package notion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/ingest"
)

// Limiter throttles remote calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Databases names the Notion databases backing each logical table.
type Databases struct {
	Videos   string
	Articles string
	Logs     string
}

// Writer implements ingest.Writer against Notion databases.
//
// All remote calls go through one mutex because the API client is not safe
// for concurrent use, and each call first acquires the limiter.
//
// Upserts are query-then-create. Two writers (or two processes) upserting a
// brand-new URL at the same moment can both miss the query and create two
// pages. Within one Writer the mutex spans the query and the create, so only
// cross-instance races remain.
type Writer struct {
	mu      sync.Mutex
	api     API
	dbs     Databases
	limiter Limiter
	clock   ingest.Clock
	logger  *zap.Logger
}

var _ ingest.Writer = (*Writer)(nil)

// NewWriter validates the database ids and builds a Writer.
func NewWriter(api API, dbs Databases, limiter Limiter, clock ingest.Clock, logger *zap.Logger) (*Writer, error) {
	if api == nil {
		return nil, errors.New("notion api client is required")
	}
	if limiter == nil {
		return nil, errors.New("notion rate limiter is required")
	}
	if dbs.Videos == "" || dbs.Articles == "" || dbs.Logs == "" {
		return nil, errors.New("notion videos, articles, and logs database ids are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{api: api, dbs: dbs, limiter: limiter, clock: clock, logger: logger}, nil
}

// UpsertVideo creates or updates the video page whose Link matches rec.URL.
func (w *Writer) UpsertVideo(ctx context.Context, rec ingest.VideoRecord) (string, error) {
	if rec.URL == "" {
		return "", errors.New("url is required")
	}
	return w.upsert(ctx, w.dbs.Videos, rec.URL, videoProperties(rec, w.updatedAt(rec.UpdatedAt)))
}

// UpsertArticle creates or updates the article page whose Link matches rec.URL.
func (w *Writer) UpsertArticle(ctx context.Context, rec ingest.ArticleRecord) (string, error) {
	if rec.URL == "" {
		return "", errors.New("url is required")
	}
	return w.upsert(ctx, w.dbs.Articles, rec.URL, articleProperties(rec, w.updatedAt(rec.UpdatedAt)))
}

// LogEvent creates a log page. Actions and results outside the closed sets
// are rejected before any remote call.
func (w *Writer) LogEvent(ctx context.Context, entry ingest.LogEntry) (string, error) {
	if !entry.Action.Valid() {
		return "", fmt.Errorf("invalid action %q", entry.Action)
	}
	if !entry.Result.Valid() {
		return "", fmt.Errorf("invalid result %q", entry.Result)
	}
	if entry.When.IsZero() {
		entry.When = w.now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	id, err := w.api.CreatePage(ctx, w.dbs.Logs, logProperties(entry))
	if err != nil {
		return "", fmt.Errorf("log event: %w", err)
	}
	return id, nil
}

// Close releases idle HTTP connections when the client supports it.
func (w *Writer) Close() error {
	if c, ok := w.api.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func (w *Writer) upsert(ctx context.Context, databaseID, link string, props Properties) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	pageID, found, err := w.api.QueryByLink(ctx, databaseID, link)
	if err != nil {
		return "", fmt.Errorf("find page for %s: %w", link, err)
	}

	if err := w.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	if found {
		if err := w.api.UpdatePage(ctx, pageID, props); err != nil {
			return "", fmt.Errorf("update page for %s: %w", link, err)
		}
		w.logger.Debug("notion page updated", zap.String("url", link), zap.String("page_id", pageID))
		return pageID, nil
	}
	pageID, err = w.api.CreatePage(ctx, databaseID, props)
	if err != nil {
		return "", fmt.Errorf("create page for %s: %w", link, err)
	}
	w.logger.Debug("notion page created", zap.String("url", link), zap.String("page_id", pageID))
	return pageID, nil
}

func (w *Writer) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now().UTC()
}

func (w *Writer) updatedAt(t *time.Time) time.Time {
	if t != nil {
		return t.UTC()
	}
	return w.now()
}
