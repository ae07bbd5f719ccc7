// Package pipeline runs discovered items through fetch, dedup check,
// summarize and write with bounded concurrency.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/nexus/internal/ingest"
	"github.com/JakeFAU/nexus/internal/metrics"
	"github.com/JakeFAU/nexus/internal/offload"
)

const (
	defaultWorkers        = 10
	defaultOffloadWorkers = 8
	defaultFetchTimeout   = 60 * time.Second
	defaultSummarize      = 120 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultFallbackChars  = 2000
	previewChars          = 1000
)

// ErrClosed is returned when an Orchestrator is reused after cleanup.
var ErrClosed = errors.New("orchestrator already closed")

// Config tunes an Orchestrator. Zero values take defaults.
type Config struct {
	Workers          int
	OffloadWorkers   int
	FetchTimeout     time.Duration
	SummarizeTimeout time.Duration
	WriteTimeout     time.Duration
	FallbackChars    int
	// Kind applies to items that do not carry one.
	Kind ingest.Kind
}

// Deps are the collaborators an Orchestrator drives. Fetcher, Dedup and
// Hasher are required. The Orchestrator takes ownership of Summarizer, Dedup
// and Writer and closes them during cleanup.
type Deps struct {
	Fetcher    ingest.Fetcher
	Summarizer ingest.Summarizer
	Writer     ingest.Writer
	Dedup      ingest.DedupStore
	Hasher     ingest.Hasher
	Clock      ingest.Clock
	IDs        ingest.IDGenerator
	Resolver   ingest.MetadataResolver
}

// BatchOptions override Config for a single RunBatch call.
type BatchOptions struct {
	Workers int
}

// SingleOptions control RunSingle.
type SingleOptions struct {
	DryRun bool
	// Preview receives a short description of the fetched content.
	Preview io.Writer
	// Item seeds metadata when no resolver is configured.
	Item ingest.DiscoveredItem
}

// Orchestrator owns the dedup store and writer for one invocation. It is not
// reusable: RunBatch and RunSingle release every owned resource on return.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	pool   *offload.Pool
	logger *zap.Logger

	mu        sync.Mutex
	started   bool
	closeOnce sync.Once
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("pipeline requires a fetcher")
	}
	if deps.Dedup == nil {
		return nil, fmt.Errorf("pipeline requires a dedup store")
	}
	if deps.Hasher == nil {
		return nil, fmt.Errorf("pipeline requires a hasher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)
	pool, err := offload.New(cfg.OffloadWorkers)
	if err != nil {
		return nil, fmt.Errorf("create offload pool: %w", err)
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		pool:   pool,
		logger: logger,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.OffloadWorkers <= 0 {
		cfg.OffloadWorkers = defaultOffloadWorkers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.SummarizeTimeout <= 0 {
		cfg.SummarizeTimeout = defaultSummarize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.FallbackChars <= 0 {
		cfg.FallbackChars = defaultFallbackChars
	}
	if cfg.Kind == "" {
		cfg.Kind = ingest.KindArticle
	}
	return cfg
}

// RunBatch processes items with at most Workers in flight and returns the
// number written. A blocked fetch stops admission of further items and is
// returned as *ingest.FatalError once in-flight items finish. Cleanup runs
// before RunBatch returns.
func (o *Orchestrator) RunBatch(ctx context.Context, items []ingest.DiscoveredItem, opts BatchOptions) (int, error) {
	if err := o.begin(); err != nil {
		return 0, err
	}
	defer o.Close()

	workers := opts.Workers
	if workers <= 0 {
		workers = o.cfg.Workers
	}
	logger := o.logger.With(zap.String("run_id", o.runID()))
	items = ingest.UniqueByURL(items)
	logger.Info("batch started", zap.Int("items", len(items)), zap.Int("workers", workers))
	start := time.Now()

	gate := semaphore.NewWeighted(int64(workers))
	sched, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	var (
		g       errgroup.Group
		written atomic.Int64
	)
	for _, item := range items {
		if err := gate.Acquire(sched, 1); err != nil {
			break
		}
		if sched.Err() != nil {
			gate.Release(1)
			break
		}
		g.Go(func() error {
			defer gate.Release(1)
			metrics.IncActiveItems()
			defer metrics.DecActiveItems()

			ok, err := o.process(ctx, logger, item)
			if err != nil {
				stop(err)
				return err
			}
			if ok {
				written.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	count := int(written.Load())
	metrics.ObserveStage("batch", time.Since(start))
	switch {
	case err != nil:
		metrics.ObserveBatch("fatal")
		logger.Error("batch aborted", zap.Int("written", count), zap.Error(err))
		return count, err
	case ctx.Err() != nil:
		metrics.ObserveBatch("canceled")
		logger.Warn("batch canceled", zap.Int("written", count), zap.Error(ctx.Err()))
		return count, fmt.Errorf("run batch: %w", ctx.Err())
	default:
		metrics.ObserveBatch("ok")
		logger.Info("batch finished", zap.Int("written", count), zap.Duration("elapsed", time.Since(start)))
		return count, nil
	}
}

// RunSingle processes one URL and returns 1 when it was written (or
// previewed in dry-run mode) and 0 otherwise. Dry runs fetch and hash the
// content without summarizing, writing, logging or marking it processed.
func (o *Orchestrator) RunSingle(ctx context.Context, url string, opts SingleOptions) (int, error) {
	if err := o.begin(); err != nil {
		return 0, err
	}
	defer o.Close()

	logger := o.logger.With(zap.String("run_id", o.runID()), zap.String("url", url))
	item := opts.Item
	item.URL = url
	if o.deps.Resolver != nil {
		resolved, err := o.deps.Resolver.Resolve(ctx, url)
		if err != nil {
			logger.Warn("metadata resolution failed", zap.Error(err))
			if !opts.DryRun {
				o.record(ctx, url, ingest.ActionFetch, ingest.ResultError, "metadata error: "+err.Error())
			}
		} else {
			item = mergeItem(item, resolved)
		}
	}

	if opts.DryRun {
		text, err := o.fetch(ctx, url)
		if err != nil {
			logger.Warn("dry-run fetch failed", zap.Error(err))
			if ingest.IsBlocked(err) {
				return 0, &ingest.FatalError{URL: url, Err: err}
			}
			return 0, nil
		}
		hash, err := o.deps.Hasher.Hash([]byte(text))
		if err != nil {
			return 0, fmt.Errorf("hash content: %w", err)
		}
		writePreview(opts.Preview, item, hash, text)
		return 1, nil
	}

	if o.deps.Writer == nil {
		logger.Warn("no writer configured; skipping")
		return 0, nil
	}
	ok, err := o.process(ctx, logger, item)
	if err != nil {
		return 0, err
	}
	if ok {
		if opts.Preview != nil {
			fmt.Fprintf(opts.Preview, "wrote %s\n", url)
		}
		return 1, nil
	}
	return 0, nil
}

// LogDiscovery records the outcome of listing one source descriptor.
func (o *Orchestrator) LogDiscovery(ctx context.Context, source string, count int, err error) {
	if err != nil {
		o.record(ctx, source, ingest.ActionDiscover, ingest.ResultError, err.Error())
		return
	}
	o.record(ctx, source, ingest.ActionDiscover, ingest.ResultOK, fmt.Sprintf("%d items discovered", count))
}

// Close releases the offload pool, summarizer, dedup store and writer.
// Failures are logged. Close is idempotent.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.started = true
		o.mu.Unlock()

		o.pool.Close()
		if o.deps.Summarizer != nil {
			if err := o.deps.Summarizer.Close(); err != nil {
				o.logger.Warn("close summarizer", zap.Error(err))
			}
		}
		if err := o.deps.Dedup.Close(); err != nil {
			o.logger.Warn("close dedup store", zap.Error(err))
		}
		if o.deps.Writer != nil {
			if err := o.deps.Writer.Close(); err != nil {
				o.logger.Warn("close writer", zap.Error(err))
			}
		}
	})
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return ErrClosed
	}
	o.started = true
	return nil
}

func (o *Orchestrator) runID() string {
	if o.deps.IDs == nil {
		return ""
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		o.logger.Warn("generate run id", zap.Error(err))
		return ""
	}
	return id
}

// process runs one item through the stage machine. It reports whether the
// item was written; the only error it returns is *ingest.FatalError.
func (o *Orchestrator) process(ctx context.Context, logger *zap.Logger, item ingest.DiscoveredItem) (bool, error) {
	logger = logger.With(zap.String("url", item.URL))

	text, err := o.fetch(ctx, item.URL)
	if err != nil {
		o.record(ctx, item.URL, ingest.ActionFetch, ingest.ResultError, err.Error())
		if ingest.IsBlocked(err) {
			logger.Error("upstream blocked", zap.Error(err))
			return false, &ingest.FatalError{URL: item.URL, Err: err}
		}
		logger.Warn("fetch failed", zap.Error(err))
		return false, nil
	}

	hash, err := o.deps.Hasher.Hash([]byte(text))
	if err != nil {
		logger.Error("hash content failed", zap.Error(err))
		o.record(ctx, item.URL, ingest.ActionFetch, ingest.ResultError, "hash: "+err.Error())
		return false, nil
	}
	changed, err := o.deps.Dedup.HasChanged(ctx, item.URL, hash)
	if err != nil {
		logger.Error("dedup check failed", zap.Error(err))
		o.record(ctx, item.URL, ingest.ActionFetch, ingest.ResultError, "dedup: "+err.Error())
		return false, nil
	}
	if !changed {
		logger.Debug("content unchanged")
		o.record(ctx, item.URL, ingest.ActionFetch, ingest.ResultSkip, "unchanged")
		return false, nil
	}

	kind := item.Kind
	if kind == "" {
		kind = o.cfg.Kind
	}
	summary := o.summarize(ctx, logger, item, kind, text)

	if err := o.write(ctx, item, kind, summary, text); err != nil {
		logger.Error("write failed", zap.Error(err))
		o.record(ctx, item.URL, ingest.ActionWrite, ingest.ResultError, err.Error())
		return false, nil
	}
	o.record(ctx, item.URL, ingest.ActionWrite, ingest.ResultOK, string(kind)+" upserted")

	if err := o.deps.Dedup.MarkProcessed(ctx, item.URL, hash); err != nil {
		logger.Warn("mark processed failed", zap.Error(err))
	}
	logger.Debug("item written", zap.String("kind", string(kind)))
	return true, nil
}

func (o *Orchestrator) fetch(ctx context.Context, url string) (string, error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(string(ingest.ActionFetch), time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	var text string
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = o.deps.Fetcher.Fetch(ctx, url)
		return err
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ingest.Transient(url, ingest.ErrNoContent)
	}
	return text, nil
}

func (o *Orchestrator) summarize(
	ctx context.Context,
	logger *zap.Logger,
	item ingest.DiscoveredItem,
	kind ingest.Kind,
	text string,
) string {
	fallback := ingest.Fallback(item.SummaryHeader, text, o.cfg.FallbackChars)
	if o.deps.Summarizer == nil {
		return fallback
	}
	start := time.Now()
	defer func() { metrics.ObserveStage(string(ingest.ActionSummarize), time.Since(start)) }()

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SummarizeTimeout)
	defer cancel()
	s, err := o.deps.Summarizer.Summarize(sctx, ingest.SummaryRequest{
		Kind:   kind,
		Title:  item.Title,
		Source: item.Source,
		Text:   text,
	})
	if err != nil {
		logger.Warn("summarize failed; using fallback", zap.Error(err))
		o.record(ctx, item.URL, ingest.ActionSummarize, ingest.ResultError, err.Error())
		return fallback
	}
	o.record(ctx, item.URL, ingest.ActionSummarize, ingest.ResultOK, "summary generated")
	return s.Format(item.SummaryHeader)
}

func (o *Orchestrator) write(ctx context.Context, item ingest.DiscoveredItem, kind ingest.Kind, summary, text string) error {
	if o.deps.Writer == nil {
		return fmt.Errorf("no writer configured")
	}
	start := time.Now()
	defer func() { metrics.ObserveStage(string(ingest.ActionWrite), time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.WriteTimeout)
	defer cancel()

	now := o.now()
	var err error
	switch kind {
	case ingest.KindVideo:
		_, err = o.deps.Writer.UpsertVideo(ctx, ingest.VideoRecord{
			URL:         item.URL,
			Title:       item.Title,
			Summary:     summary,
			Thumbnail:   ingest.YouTubeThumbnail(item.MediaID),
			Source:      item.Source,
			PublishedAt: item.PublishedAt,
			UpdatedAt:   &now,
		})
	case ingest.KindArticle:
		_, err = o.deps.Writer.UpsertArticle(ctx, ingest.ArticleRecord{
			URL:         item.URL,
			Title:       item.Title,
			Summary:     summary,
			Body:        text,
			Source:      item.Source,
			PublishedAt: item.PublishedAt,
			UpdatedAt:   &now,
		})
	default:
		err = fmt.Errorf("unknown kind %q", kind)
	}
	return err
}

// record appends a log entry. Log failures never affect the item.
func (o *Orchestrator) record(ctx context.Context, url string, action ingest.Action, result ingest.Result, msg string) {
	metrics.ObserveItem(string(action), string(result))
	if o.deps.Writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.WriteTimeout)
	defer cancel()
	if _, err := o.deps.Writer.LogEvent(ctx, ingest.LogEntry{
		ItemURL: url,
		Action:  action,
		Result:  result,
		Message: msg,
		When:    o.now(),
	}); err != nil {
		o.logger.Warn("log event failed",
			zap.String("url", url),
			zap.String("action", string(action)),
			zap.String("result", string(result)),
			zap.Error(err))
	}
}

func (o *Orchestrator) now() time.Time {
	if o.deps.Clock == nil {
		return time.Now().UTC()
	}
	return o.deps.Clock.Now().UTC()
}

func mergeItem(base, resolved ingest.DiscoveredItem) ingest.DiscoveredItem {
	if resolved.Title != "" {
		base.Title = resolved.Title
	}
	if resolved.Source != "" {
		base.Source = resolved.Source
	}
	if resolved.PublishedAt != nil {
		base.PublishedAt = resolved.PublishedAt
	}
	if resolved.MediaID != "" {
		base.MediaID = resolved.MediaID
	}
	if resolved.Kind != "" {
		base.Kind = resolved.Kind
	}
	return base
}

func writePreview(w io.Writer, item ingest.DiscoveredItem, hash, text string) {
	if w == nil {
		return
	}
	preview := strings.ReplaceAll(ingest.Truncate(text, previewChars), "\n", " ")
	fmt.Fprintf(w, "%s\nTitle: %s\nSource: %s\nHash: %s\nLength: %d chars\nPreview: %s...\n",
		item.URL, item.Title, item.Source, hash, utf8.RuneCountInString(text), preview)
}
