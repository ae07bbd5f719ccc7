package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nexus/internal/ingest"
)

func TestExtractVideoID(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		id string
		ok bool
	}{
		"dQw4w9WgXcQ":                                        {"dQw4w9WgXcQ", true},
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":        {"dQw4w9WgXcQ", true},
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s":  {"dQw4w9WgXcQ", true},
		"https://youtu.be/dQw4w9WgXcQ?si=abc":                {"dQw4w9WgXcQ", true},
		"https://www.youtube.com/shorts/dQw4w9WgXcQ?feature": {"dQw4w9WgXcQ", true},
		"https://www.youtube.com/embed/dQw4w9WgXcQ":          {"dQw4w9WgXcQ", true},
		"https://www.youtube.com/live/dQw4w9WgXcQ":           {"dQw4w9WgXcQ", true},
		"https://example.com/blog/post":                      {"post", false},
		"https://www.youtube.com/watch?v=short":              {"short", false},
	}
	for in, want := range cases {
		id, ok := ExtractVideoID(in)
		require.Equal(t, want.ok, ok, in)
		require.Equal(t, want.id, id, in)
	}
}

func TestIsVideoURL(t *testing.T) {
	t.Parallel()

	require.True(t, IsVideoURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	require.True(t, IsVideoURL("https://m.youtube.com/watch?v=dQw4w9WgXcQ"))
	require.True(t, IsVideoURL("https://youtu.be/dQw4w9WgXcQ"))
	require.False(t, IsVideoURL("https://example.com/watch?v=dQw4w9WgXcQ"))
	require.False(t, IsVideoURL("https://www.youtube.com/@channel"))
	require.Equal(t, "https://www.youtube.com/watch?v=abc", WatchURL("abc"))
}

const timedTextXML = `<?xml version="1.0" encoding="utf-8" ?>
<transcript>
<text start="0.5" dur="2.1">Hello &amp;amp; welcome</text>
<text start="2.6" dur="3.0">it&amp;#39;s a test</text>
<text start="5.6" dur="1.0">  </text>
</transcript>`

func TestTranscriptFetcherFallsBackThroughLanguages(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		langs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/timedtext" || r.URL.Query().Get("v") != "dQw4w9WgXcQ" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		lang := r.URL.Query().Get("lang")
		mu.Lock()
		langs = append(langs, lang)
		mu.Unlock()
		if lang == "en-US" {
			_, _ = w.Write([]byte(timedTextXML))
		}
	}))
	t.Cleanup(srv.Close)

	f := NewTranscriptFetcher(Config{BaseURL: srv.URL}, nil, nil)
	text, err := f.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	require.Equal(t, "Hello & welcome\nit's a test", text)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"en", "en-US"}, langs)
}

func TestTranscriptFetcherMissingTranscriptIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	t.Cleanup(srv.Close)

	f := NewTranscriptFetcher(Config{BaseURL: srv.URL, Languages: []string{"en"}}, nil, nil)
	_, err := f.Fetch(context.Background(), "dQw4w9WgXcQ")
	require.ErrorIs(t, err, ingest.ErrNoContent)
	require.False(t, ingest.IsBlocked(err))
}

func TestTranscriptFetcherClassifiesBlocking(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"too many requests": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"forbidden": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
		"captcha": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/sorry/index" {
				_, _ = w.Write([]byte("are you a robot?"))
				return
			}
			http.Redirect(w, r, "/sorry/index", http.StatusFound)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(handler)
			t.Cleanup(srv.Close)

			f := NewTranscriptFetcher(Config{BaseURL: srv.URL}, nil, nil)
			_, err := f.Fetch(context.Background(), "dQw4w9WgXcQ")
			require.True(t, ingest.IsBlocked(err), "err = %v", err)
		})
	}
}

func TestTranscriptFetcherServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := NewTranscriptFetcher(Config{BaseURL: srv.URL}, nil, nil)
	_, err := f.Fetch(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	require.False(t, ingest.IsBlocked(err))
}

type countingWaiter struct{ calls atomic.Int32 }

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return nil
}

const watchHTML = `<html><head>
<meta property="og:title" content="Never Gonna Give You Up">
<meta property="og:image" content="https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg">
<meta itemprop="datePublished" content="2009-10-24T23:57:33-07:00">
</head><body>
<span itemprop="author" itemscope itemtype="http://schema.org/Person">
<link itemprop="url" href="http://www.youtube.com/@RickAstleyYT">
<link itemprop="name" content="Rick Astley">
</span>
</body></html>`

func TestMetadataResolverReadsWatchPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/watch" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(watchHTML))
	}))
	t.Cleanup(srv.Close)

	waiter := &countingWaiter{}
	r := NewMetadataResolver(Config{BaseURL: srv.URL}, waiter, nil)
	item, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	require.Equal(t, "Never Gonna Give You Up", item.Title)
	require.Equal(t, "Rick Astley", item.Source)
	require.Equal(t, "dQw4w9WgXcQ", item.MediaID)
	require.Equal(t, ingest.KindVideo, item.Kind)
	require.NotNil(t, item.PublishedAt)
	require.Equal(t, time.Date(2009, 10, 25, 6, 57, 33, 0, time.UTC), *item.PublishedAt)
	require.Equal(t, int32(1), waiter.calls.Load())
}

func TestMetadataResolverReturnsDefaultsOnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	r := NewMetadataResolver(Config{BaseURL: srv.URL}, nil, nil)
	item, err := r.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.Error(t, err)
	require.Equal(t, defaultTitle, item.Title)
	require.Equal(t, "dQw4w9WgXcQ", item.MediaID)

	_, err = r.Resolve(context.Background(), "https://example.com/")
	require.Error(t, err)
}
