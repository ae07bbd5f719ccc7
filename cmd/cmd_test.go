package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/app"
	"github.com/JakeFAU/nexus/internal/config"
	"github.com/JakeFAU/nexus/internal/ingest"
	"github.com/JakeFAU/nexus/internal/storage"
	"github.com/JakeFAU/nexus/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type namedSource string

func (n namedSource) Name() string { return string(n) }

func (namedSource) Discover(context.Context, time.Time) ([]ingest.DiscoveredItem, error) {
	return nil, nil
}

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, string) (string, error) { return "", nil }

type fakeApp struct {
	mu       sync.Mutex
	cfg      config.Config
	feeds    config.Feeds
	store    *memory.Writer
	batches  []app.BatchRequest
	minScore int
	urls     []string
	dryRuns  []bool
	n        int
	err      error
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Config() config.Config { return f.cfg }

func (f *fakeApp) Clock() ingest.Clock { return fixedClock{} }

func (f *fakeApp) Feeds() (config.Feeds, error) { return f.feeds, nil }

func (f *fakeApp) ArticleFetcher() ingest.Fetcher { return nopFetcher{} }

func (f *fakeApp) TranscriptFetcher() ingest.Fetcher { return nopFetcher{} }

func (f *fakeApp) YouTubeSources(feeds config.Feeds) ([]ingest.Discoverer, error) {
	var out []ingest.Discoverer
	for _, c := range feeds.YouTubeChannels {
		out = append(out, namedSource("youtube:"+c))
	}
	return out, nil
}

func (f *fakeApp) NewsSources(feeds config.Feeds) ([]ingest.Discoverer, error) {
	var out []ingest.Discoverer
	for _, u := range feeds.RSSFeeds {
		out = append(out, namedSource("rss:"+u))
	}
	return out, nil
}

func (f *fakeApp) HackerNewsSource(_ config.Feeds, minScore int) ingest.Discoverer {
	f.minScore = minScore
	return namedSource("hackernews")
}

func (f *fakeApp) RunSources(_ context.Context, req app.BatchRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, req)
	return f.n, f.err
}

func (f *fakeApp) RunURL(_ context.Context, url string, dryRun bool, out io.Writer) (int, error) {
	f.urls = append(f.urls, url)
	f.dryRuns = append(f.dryRuns, dryRun)
	if f.err == nil && f.n > 0 {
		fmt.Fprintf(out, "wrote %s\n", url)
	}
	return f.n, f.err
}

func (f *fakeApp) OpenReader(context.Context) (storage.Store, error) {
	if f.store == nil {
		return nil, storage.ErrNoReader
	}
	return keepOpen{f.store}, nil
}

// keepOpen lets one memory store serve several commands.
type keepOpen struct{ *memory.Writer }

func (keepOpen) Close() error { return nil }

// run executes the root command against fake. Commands share the package
// level factory, so these tests do not run in parallel.
func run(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	prev := newApp
	newApp = func(config.Config, *zap.Logger) App { return fake }
	t.Cleanup(func() { newApp = prev })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	require.Equal(t, ExitOK, ExitCode(nil))
	require.Equal(t, ExitError, ExitCode(errors.New("boom")))
	fatal := fmt.Errorf("ingest: %w", &ingest.FatalError{URL: "u", Err: errors.New("429")})
	require.Equal(t, ExitBlocked, ExitCode(fatal))
}

func TestIngestNews(t *testing.T) {
	fake := &fakeApp{feeds: config.Feeds{RSSFeeds: []string{"a", "b"}}, n: 2}
	out, err := run(t, fake, "ingest", "news", "--since", "48h", "--workers", "3")
	require.NoError(t, err)
	require.Contains(t, out, "processed 2 articles")

	require.Len(t, fake.batches, 1)
	req := fake.batches[0]
	require.Equal(t, ingest.KindArticle, req.Kind)
	require.Len(t, req.Sources, 2)
	require.Equal(t, "rss:a", req.Sources[0].Name())
	require.Equal(t, 3, req.Workers)
	require.Equal(t, testNow.Add(-48*time.Hour), req.Since)
}

func TestIngestYouTubeBlocked(t *testing.T) {
	fake := &fakeApp{
		feeds: config.Feeds{YouTubeChannels: []string{"UC1"}},
		n:     1,
		err:   &ingest.FatalError{URL: "https://www.youtube.com/watch?v=x", Err: errors.New("HTTP 429")},
	}
	out, err := run(t, fake, "ingest", "youtube")
	require.Error(t, err)
	require.Equal(t, ExitBlocked, ExitCode(err))
	require.Contains(t, out, "processed 1 videos")
	require.Equal(t, ingest.KindVideo, fake.batches[0].Kind)
	require.Equal(t, testNow.Add(-24*time.Hour), fake.batches[0].Since)
}

func TestIngestHackerNewsMinScore(t *testing.T) {
	fake := &fakeApp{}
	_, err := run(t, fake, "ingest", "hn", "--min-score", "250")
	require.NoError(t, err)
	require.Equal(t, 250, fake.minScore)
	require.Equal(t, "hackernews", fake.batches[0].Sources[0].Name())
}

func TestIngestWithoutSources(t *testing.T) {
	fake := &fakeApp{}
	out, err := run(t, fake, "ingest", "news")
	require.NoError(t, err)
	require.Contains(t, out, "no sources configured")
	require.Empty(t, fake.batches)
}

func TestIngestURL(t *testing.T) {
	fake := &fakeApp{n: 1}
	out, err := run(t, fake, "ingest", "url", "--dry-run", "https://a.example/post")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/post"}, fake.urls)
	require.Equal(t, []bool{true}, fake.dryRuns)
	require.Contains(t, out, "wrote https://a.example/post")

	_, err = run(t, &fakeApp{}, "ingest", "url")
	require.Error(t, err)
}

func TestRecentAndSearch(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	older := testNow.Add(-time.Hour)
	_, err := store.UpsertArticle(ctx, ingest.ArticleRecord{URL: "https://a.example/1", Title: "Go generics", Summary: "s", PublishedAt: &older})
	require.NoError(t, err)
	_, err = store.UpsertArticle(ctx, ingest.ArticleRecord{URL: "https://a.example/2", Title: "Rust traits", Summary: "s", PublishedAt: &testNow})
	require.NoError(t, err)
	fake := &fakeApp{store: store}

	out, err := run(t, fake, "recent", "--kind", "articles", "--limit", "5")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first ingest.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "Rust traits", first.Title)

	out, err = run(t, fake, "search", "--kind", "article", "generics")
	require.NoError(t, err)
	require.Contains(t, out, "Go generics")
	require.NotContains(t, out, "Rust traits")

	_, err = run(t, fake, "recent", "--kind", "podcast")
	require.ErrorContains(t, err, "unknown kind")

	_, err = run(t, &fakeApp{}, "recent")
	require.ErrorIs(t, err, storage.ErrNoReader)
}
