package notion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/ingest"
)

type fakeAPI struct {
	mu       sync.Mutex
	inFlight atomic.Int32
	overlap  atomic.Bool
	pages    map[string]map[string]Properties // database -> page id -> props
	links    map[string]map[string]string     // database -> link -> page id
	calls    []string
	queryErr error
	nextID   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages: map[string]map[string]Properties{},
		links: map[string]map[string]string{},
	}
}

func (f *fakeAPI) enter(call string) func() {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeAPI) QueryByLink(_ context.Context, db, link string) (string, bool, error) {
	defer f.enter("query")()
	if f.queryErr != nil {
		return "", false, f.queryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.links[db][link]
	return id, ok, nil
}

func (f *fakeAPI) CreatePage(_ context.Context, db string, props Properties) (string, error) {
	defer f.enter("create")()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("page-%d", f.nextID)
	if f.pages[db] == nil {
		f.pages[db] = map[string]Properties{}
		f.links[db] = map[string]string{}
	}
	f.pages[db][id] = props
	if link, ok := props["Link"].(map[string]any); ok {
		if u, ok := link["url"].(string); ok {
			f.links[db][u] = id
		}
	}
	return id, nil
}

func (f *fakeAPI) UpdatePage(_ context.Context, pageID string, props Properties) error {
	defer f.enter("update")()
	f.mu.Lock()
	defer f.mu.Unlock()
	for db := range f.pages {
		if _, ok := f.pages[db][pageID]; ok {
			f.pages[db][pageID] = props
			return nil
		}
	}
	return fmt.Errorf("page %s not found", pageID)
}

type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.n.Add(1)
	return ctx.Err()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testDBs = Databases{Videos: "db-videos", Articles: "db-articles", Logs: "db-logs"}

func newTestWriter(t *testing.T, api API, limiter Limiter) *Writer {
	t.Helper()
	w, err := NewWriter(api, testDBs, limiter, fixedClock{now: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func titleOf(p Properties) string {
	title := p["Name"].(map[string]any)["title"].([]any)
	return title[0].(map[string]any)["text"].(map[string]any)["content"].(string)
}

func TestUpsertVideoCreatesThenUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeAPI()
	limiter := &countingLimiter{}
	w := newTestWriter(t, api, limiter)

	id1, err := w.UpsertVideo(ctx, ingest.VideoRecord{URL: "https://yt/1", Title: "first"})
	require.NoError(t, err)
	id2, err := w.UpsertVideo(ctx, ingest.VideoRecord{URL: "https://yt/1", Title: "second"})
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Len(t, api.pages["db-videos"], 1)
	require.Equal(t, "second", titleOf(api.pages["db-videos"][id1]))
	require.Equal(t, []string{"query", "create", "query", "update"}, api.calls)
	require.Equal(t, int32(4), limiter.n.Load())
}

func TestUpsertArticleTruncatesLongFields(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	w := newTestWriter(t, api, &countingLimiter{})
	id, err := w.UpsertArticle(context.Background(), ingest.ArticleRecord{
		URL:   "https://blog/1",
		Title: strings.Repeat("t", 500),
		Body:  strings.Repeat("b", 5000),
	})
	require.NoError(t, err)

	props := api.pages["db-articles"][id]
	require.Len(t, titleOf(props), 200)
	body := props["Body"].(map[string]any)["rich_text"].([]any)[0].(map[string]any)["text"].(map[string]any)["content"].(string)
	require.Len(t, body, 2000)
	require.Nil(t, props["Published"].(map[string]any)["date"])
}

func TestUpsertPropagatesQueryFailure(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.queryErr = &APIError{Status: 502, Code: "bad_gateway", Message: "upstream"}
	w := newTestWriter(t, api, &countingLimiter{})
	_, err := w.UpsertVideo(context.Background(), ingest.VideoRecord{URL: "https://yt/1", Title: "x"})
	require.Error(t, err)
	require.Empty(t, api.pages)
}

func TestRemoteCallsAreSerialized(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeAPI()
	w := newTestWriter(t, api, &countingLimiter{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := w.UpsertArticle(ctx, ingest.ArticleRecord{URL: fmt.Sprintf("https://blog/%d", i%3), Title: "t"}); err != nil {
				t.Errorf("upsert: %v", err)
			}
			if _, err := w.LogEvent(ctx, ingest.LogEntry{ItemURL: "https://blog/x", Action: ingest.ActionWrite, Result: ingest.ResultOK}); err != nil {
				t.Errorf("log: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.False(t, api.overlap.Load(), "remote calls overlapped")
	require.Len(t, api.pages["db-articles"], 3)
	require.Len(t, api.pages["db-logs"], 8)
}

func TestLogEventValidatesAndNamesPage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeAPI()
	limiter := &countingLimiter{}
	w := newTestWriter(t, api, limiter)

	_, err := w.LogEvent(ctx, ingest.LogEntry{Action: "purge", Result: ingest.ResultOK})
	require.Error(t, err)
	_, err = w.LogEvent(ctx, ingest.LogEntry{Action: ingest.ActionFetch, Result: "unknown"})
	require.Error(t, err)
	require.Zero(t, limiter.n.Load())

	id, err := w.LogEvent(ctx, ingest.LogEntry{ItemURL: "https://x/1", Action: ingest.ActionFetch, Result: ingest.ResultSkip, Message: "unchanged"})
	require.NoError(t, err)
	props := api.pages["db-logs"][id]
	require.Equal(t, "fetch | skip", titleOf(props))
	require.Equal(t, "2025-05-01T00:00:00Z", props["Time"].(map[string]any)["date"].(map[string]any)["start"])
	require.NotContains(t, props, "Link")
	require.Empty(t, api.links["db-logs"])
	require.Equal(t, int32(1), limiter.n.Load())
}

func TestNewWriterRequiresDatabases(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(newFakeAPI(), Databases{Videos: "v"}, &countingLimiter{}, nil, nil)
	require.Error(t, err)
	_, err = NewWriter(nil, testDBs, &countingLimiter{}, nil, nil)
	require.Error(t, err)
}
