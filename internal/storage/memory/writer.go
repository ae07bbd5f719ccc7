// Package memory provides an in-memory content writer for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/nexus/internal/ingest"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memory writer closed")

// Writer stores records in maps keyed by URL.
type Writer struct {
	mu       sync.RWMutex
	nextID   int64
	videos   map[string]ingest.Record
	articles map[string]ingest.Record
	logs     []ingest.LogEntry
	closed   bool
	now      func() time.Time
}

var (
	_ ingest.Writer = (*Writer)(nil)
	_ ingest.Reader = (*Writer)(nil)
)

// New constructs an empty Writer.
func New() *Writer {
	return &Writer{
		videos:   make(map[string]ingest.Record),
		articles: make(map[string]ingest.Record),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// UpsertVideo inserts or replaces the video keyed by URL.
func (w *Writer) UpsertVideo(_ context.Context, rec ingest.VideoRecord) (string, error) {
	return w.upsert(w.videos, ingest.Record{
		URL:         rec.URL,
		Title:       rec.Title,
		Summary:     rec.Summary,
		Thumbnail:   rec.Thumbnail,
		Source:      rec.Source,
		PublishedAt: rec.PublishedAt,
	}, rec.UpdatedAt)
}

// UpsertArticle inserts or replaces the article keyed by URL.
func (w *Writer) UpsertArticle(_ context.Context, rec ingest.ArticleRecord) (string, error) {
	return w.upsert(w.articles, ingest.Record{
		URL:         rec.URL,
		Title:       rec.Title,
		Summary:     rec.Summary,
		Body:        rec.Body,
		Source:      rec.Source,
		PublishedAt: rec.PublishedAt,
	}, rec.UpdatedAt)
}

func (w *Writer) upsert(table map[string]ingest.Record, rec ingest.Record, updatedAt *time.Time) (string, error) {
	if rec.URL == "" {
		return "", errors.New("url is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", ErrClosed
	}
	if existing, ok := table[rec.URL]; ok {
		rec.ID = existing.ID
	} else {
		w.nextID++
		rec.ID = w.nextID
	}
	rec.UpdatedAt = w.now()
	if updatedAt != nil {
		rec.UpdatedAt = updatedAt.UTC()
	}
	table[rec.URL] = rec
	return strconv.FormatInt(rec.ID, 10), nil
}

// LogEvent appends entry after validating its action and result.
func (w *Writer) LogEvent(_ context.Context, entry ingest.LogEntry) (string, error) {
	if !entry.Action.Valid() {
		return "", fmt.Errorf("invalid action %q", entry.Action)
	}
	if !entry.Result.Valid() {
		return "", fmt.Errorf("invalid result %q", entry.Result)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", ErrClosed
	}
	if entry.When.IsZero() {
		entry.When = w.now()
	}
	w.logs = append(w.logs, entry)
	return strconv.Itoa(len(w.logs)), nil
}

// Logs returns a copy of every log entry in insertion order.
func (w *Writer) Logs() []ingest.LogEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ingest.LogEntry, len(w.logs))
	copy(out, w.logs)
	return out
}

// Recent returns up to limit records of kind, newest publish time first.
func (w *Writer) Recent(_ context.Context, kind ingest.Kind, limit int) ([]ingest.Record, error) {
	return w.list(kind, limit, func(ingest.Record) bool { return true })
}

// Search matches query case-insensitively against title, summary, and body.
func (w *Writer) Search(_ context.Context, kind ingest.Kind, query string, limit int) ([]ingest.Record, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, errors.New("search query is required")
	}
	return w.list(kind, limit, func(r ingest.Record) bool {
		return strings.Contains(strings.ToLower(r.Title+"\n"+r.Summary+"\n"+r.Body), q)
	})
}

// Close marks the writer closed. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *Writer) list(kind ingest.Kind, limit int, keep func(ingest.Record) bool) ([]ingest.Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var table map[string]ingest.Record
	switch kind {
	case ingest.KindVideo:
		table = w.videos
	case ingest.KindArticle:
		table = w.articles
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	out := make([]ingest.Record, 0, len(table))
	for _, r := range table {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].PublishedAt, out[j].PublishedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID > out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
