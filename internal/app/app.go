// Package app holds long-lived services and opens one pipeline per command
// invocation.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/clock/system"
	"github.com/JakeFAU/nexus/internal/config"
	"github.com/JakeFAU/nexus/internal/dedup"
	collyfetcher "github.com/JakeFAU/nexus/internal/fetcher/colly"
	"github.com/JakeFAU/nexus/internal/fetcher/youtube"
	"github.com/JakeFAU/nexus/internal/hash/sha256"
	"github.com/JakeFAU/nexus/internal/id/uuid"
	"github.com/JakeFAU/nexus/internal/ingest"
	"github.com/JakeFAU/nexus/internal/metrics"
	"github.com/JakeFAU/nexus/internal/pipeline"
	"github.com/JakeFAU/nexus/internal/ratelimit"
	"github.com/JakeFAU/nexus/internal/source/hackernews"
	"github.com/JakeFAU/nexus/internal/source/rss"
	"github.com/JakeFAU/nexus/internal/storage"
	"github.com/JakeFAU/nexus/internal/summarizer/openai"
)

// App is the service container shared by every command. It owns nothing that
// needs closing; each pipeline opens and releases its own stores.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock
	ids    *uuid.Generator
	hasher *sha256.Hasher
	hosts  *ratelimit.HostLimiter
}

// New builds an App from loaded configuration.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		hasher: sha256.New(),
		hosts: ratelimit.NewHostLimiter(ratelimit.HostConfig{
			RPS:   cfg.Fetch.PerHostRPS,
			Burst: cfg.Fetch.PerHostBurst,
		}),
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the shared UTC clock.
func (a *App) Clock() ingest.Clock { return a.clock }

// PipelineOptions select the fetch path for one invocation.
type PipelineOptions struct {
	Kind     ingest.Kind
	Fetcher  ingest.Fetcher
	Resolver ingest.MetadataResolver
	// DryRun skips opening the writer and summarizer.
	DryRun bool
}

// OpenPipeline opens the dedup store, writer and summarizer and hands them to
// a new Orchestrator, which owns and closes them.
func (a *App) OpenPipeline(ctx context.Context, opts PipelineOptions) (*pipeline.Orchestrator, error) {
	store, err := dedup.Open(ctx, a.cfg.Dedup.Path, a.clock)
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	deps := pipeline.Deps{
		Fetcher:  opts.Fetcher,
		Dedup:    store,
		Hasher:   a.hasher,
		Clock:    a.clock,
		IDs:      a.ids,
		Resolver: opts.Resolver,
	}
	if !opts.DryRun {
		writer, err := storage.New(ctx, a.cfg.Writer, a.clock, a.logger.Named("storage"))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open writer: %w", err)
		}
		deps.Writer = writer
		deps.Summarizer = a.summarizer()
	}

	pc := a.cfg.Pipeline
	orch, err := pipeline.New(pipeline.Config{
		Workers:          pc.Workers,
		OffloadWorkers:   pc.OffloadWorkers,
		FetchTimeout:     pc.FetchTimeout,
		SummarizeTimeout: pc.SummarizeTimeout,
		WriteTimeout:     pc.WriteTimeout,
		FallbackChars:    pc.FallbackChars,
		Kind:             opts.Kind,
	}, deps, a.logger.Named("pipeline"))
	if err != nil {
		_ = store.Close()
		if deps.Writer != nil {
			_ = deps.Writer.Close()
		}
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return orch, nil
}

func (a *App) summarizer() ingest.Summarizer {
	sc := a.cfg.Summarizer
	key := sc.APIKey()
	if key == "" {
		a.logger.Warn("summarizer api key not set; summaries fall back to truncated text",
			zap.String("env", sc.APIKeyEnv))
	}
	return openai.New(openai.Config{
		APIKey:      key,
		BaseURL:     sc.BaseURL,
		Model:       sc.Model,
		MaxTokens:   sc.MaxTokens,
		Temperature: sc.Temperature,
		ChunkSize:   sc.ChunkSize,
		Timeout:     sc.Timeout,
	}, a.logger.Named("summarizer"))
}

// ArticleFetcher builds the readability-based web fetcher.
func (a *App) ArticleFetcher() ingest.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.Fetch.Timeout,
	}, a.hosts, a.logger.Named("article_fetcher"))
}

func (a *App) youtubeConfig() youtube.Config {
	return youtube.Config{
		BaseURL:   a.cfg.Fetch.YouTubeBaseURL,
		UserAgent: a.cfg.Fetch.UserAgent,
		Languages: a.cfg.Fetch.TranscriptLanguages,
		Timeout:   a.cfg.Fetch.Timeout,
	}
}

// TranscriptFetcher builds the YouTube transcript fetcher.
func (a *App) TranscriptFetcher() ingest.Fetcher {
	return youtube.NewTranscriptFetcher(a.youtubeConfig(), a.hosts, a.logger.Named("transcript_fetcher"))
}

// MetadataResolver builds the YouTube watch-page resolver.
func (a *App) MetadataResolver() ingest.MetadataResolver {
	return youtube.NewMetadataResolver(a.youtubeConfig(), a.hosts, a.logger.Named("metadata"))
}

// Feeds reads the configured feeds file.
func (a *App) Feeds() (config.Feeds, error) {
	feeds, err := config.LoadFeeds(a.cfg.FeedsFile)
	if err != nil {
		return config.Feeds{}, err
	}
	return feeds, nil
}

// YouTubeSources lists one discoverer per channel and per feed URL.
func (a *App) YouTubeSources(feeds config.Feeds) ([]ingest.Discoverer, error) {
	urls := make([]string, 0, len(feeds.YouTubeChannels)+len(feeds.YouTubeFeedURLs))
	for _, id := range feeds.YouTubeChannels {
		urls = append(urls, rss.ChannelFeedURL(id))
	}
	urls = append(urls, feeds.YouTubeFeedURLs...)
	return a.feedSources(urls, ingest.KindVideo)
}

// NewsSources lists one discoverer per RSS or Atom feed.
func (a *App) NewsSources(feeds config.Feeds) ([]ingest.Discoverer, error) {
	return a.feedSources(feeds.RSSFeeds, ingest.KindArticle)
}

func (a *App) feedSources(urls []string, kind ingest.Kind) ([]ingest.Discoverer, error) {
	sources := make([]ingest.Discoverer, 0, len(urls))
	for _, u := range urls {
		d, err := rss.New(rss.Config{
			FeedURL:   u,
			Kind:      kind,
			UserAgent: a.cfg.Fetch.UserAgent,
			Timeout:   a.cfg.Fetch.Timeout,
		}, a.logger.Named("rss"))
		if err != nil {
			return nil, fmt.Errorf("build feed source %s: %w", u, err)
		}
		sources = append(sources, d)
	}
	return sources, nil
}

// HackerNewsSource builds the top-stories discoverer. A positive minScore
// overrides the feeds file.
func (a *App) HackerNewsSource(feeds config.Feeds, minScore int) ingest.Discoverer {
	cfg := hackernews.Config{
		MinScore:   feeds.HackerNews.MinScore,
		MaxStories: feeds.HackerNews.MaxStories,
		Timeout:    a.cfg.Fetch.Timeout,
	}
	if minScore > 0 {
		cfg.MinScore = minScore
	}
	return hackernews.New(cfg, a.logger.Named("hackernews"))
}

// BatchRequest describes one discover-then-process invocation.
type BatchRequest struct {
	Kind    ingest.Kind
	Fetcher ingest.Fetcher
	Sources []ingest.Discoverer
	Since   time.Time
	Workers int
}

// RunSources discovers items from every source, records each discovery in the
// ingestion log and processes the combined list. A blocked source aborts the
// run with *ingest.FatalError before any item is processed.
func (a *App) RunSources(ctx context.Context, req BatchRequest) (int, error) {
	orch, err := a.OpenPipeline(ctx, PipelineOptions{Kind: req.Kind, Fetcher: req.Fetcher})
	if err != nil {
		return 0, err
	}
	defer orch.Close()

	var items []ingest.DiscoveredItem
	for _, src := range req.Sources {
		found, err := src.Discover(ctx, req.Since)
		orch.LogDiscovery(ctx, src.Name(), len(found), err)
		if err != nil {
			if ingest.IsBlocked(err) {
				return 0, &ingest.FatalError{URL: src.Name(), Err: err}
			}
			if ctx.Err() != nil {
				return 0, fmt.Errorf("discover %s: %w", src.Name(), ctx.Err())
			}
			a.logger.Warn("discovery failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		items = append(items, found...)
	}
	a.logger.Info("discovery complete",
		zap.Int("sources", len(req.Sources)),
		zap.Int("items", len(items)),
		zap.Time("since", req.Since))

	return orch.RunBatch(ctx, items, pipeline.BatchOptions{Workers: req.Workers})
}

// RunURL ingests a single URL, routing YouTube videos to the transcript path
// and everything else to the article path.
func (a *App) RunURL(ctx context.Context, url string, dryRun bool, out io.Writer) (int, error) {
	opts := PipelineOptions{Kind: ingest.KindArticle, DryRun: dryRun}
	if youtube.IsVideoURL(url) {
		opts.Kind = ingest.KindVideo
		opts.Fetcher = a.TranscriptFetcher()
		opts.Resolver = a.MetadataResolver()
	} else {
		opts.Fetcher = a.ArticleFetcher()
	}
	orch, err := a.OpenPipeline(ctx, opts)
	if err != nil {
		return 0, err
	}
	return orch.RunSingle(ctx, url, pipeline.SingleOptions{
		DryRun:  dryRun,
		Preview: out,
		Item:    ingest.DiscoveredItem{Kind: opts.Kind, Title: url},
	})
}

// OpenReader opens the configured writer backend for queries.
func (a *App) OpenReader(ctx context.Context) (storage.Store, error) {
	store, err := storage.OpenReader(ctx, a.cfg.Writer, a.clock, a.logger.Named("storage"))
	if errors.Is(err, storage.ErrNoReader) {
		return nil, fmt.Errorf("%s backend: %w", a.cfg.Writer.Backend, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}
	return store, nil
}
