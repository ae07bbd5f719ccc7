package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const structuredReply = `**TL;DR:** Go makes concurrency approachable.

**Key Takeaways:**
- Goroutines are cheap
* Channels carry ownership
• Select multiplexes

Notable Quotes:
- "Don't communicate by sharing memory"

Topics: go, concurrency ,  channels`

func TestParseStructuredReply(t *testing.T) {
	t.Parallel()

	s := Parse(structuredReply)
	require.Equal(t, "Go makes concurrency approachable.", s.TLDR)
	require.Equal(t, []string{"Goroutines are cheap", "Channels carry ownership", "Select multiplexes"}, s.Takeaways)
	require.Equal(t, []string{`"Don't communicate by sharing memory"`}, s.Quotes)
	require.Equal(t, []string{"go", "concurrency", "channels"}, s.Topics)
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	s := Parse("the model rambled without structure")
	require.Equal(t, noSummary, s.TLDR)
	require.Equal(t, []string{noTakeaways}, s.Takeaways)
	require.Empty(t, s.Quotes)
	require.Empty(t, s.Topics)

	s = Parse("TLDR: short one")
	require.Equal(t, "short one", s.TLDR)
}

func TestChunkWords(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a b c"}, chunkWords("a b c", 3))
	require.Equal(t, []string{"a b", "c d", "e"}, chunkWords("a b\nc d e", 2))
	require.Equal(t, []string{""}, chunkWords("", 2))
}

type completionServer struct {
	mu       sync.Mutex
	requests []chatRequest
	auth     []string
	reply    func(n int) (int, string)
}

func (c *completionServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		c.mu.Lock()
		c.requests = append(c.requests, req)
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		n := len(c.requests)
		c.mu.Unlock()

		status, content := c.reply(n)
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"` + content + `","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSummarizeSingleChunk(t *testing.T) {
	t.Parallel()

	cs := &completionServer{reply: func(int) (int, string) { return http.StatusOK, structuredReply }}
	srv := cs.start(t)

	s := New(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model", Temperature: 0.3}, nil)
	sum, err := s.Summarize(context.Background(), ingest.SummaryRequest{
		Kind:  ingest.KindVideo,
		Title: "Concurrency",
		Text:  "short transcript",
	})
	require.NoError(t, err)
	require.Equal(t, "Go makes concurrency approachable.", sum.TLDR)

	require.Len(t, cs.requests, 1)
	req := cs.requests[0]
	require.Equal(t, "test-model", req.Model)
	require.Equal(t, 1000, req.MaxTokens)
	require.Equal(t, "Bearer sk-test", cs.auth[0])
	require.Equal(t, "system", req.Messages[0].Role)
	require.Contains(t, req.Messages[1].Content, "Source: Unknown")
	require.Contains(t, req.Messages[1].Content, "Summarize the following video")
}

func TestSummarizeMapReduce(t *testing.T) {
	t.Parallel()

	cs := &completionServer{reply: func(n int) (int, string) {
		if n <= 3 {
			return http.StatusOK, "partial"
		}
		return http.StatusOK, "TL;DR: combined\nTakeaways:\n- one"
	}}
	srv := cs.start(t)

	// ChunkSize 4 allows three words per chunk.
	s := New(Config{APIKey: "k", BaseURL: srv.URL, ChunkSize: 4}, nil)
	sum, err := s.Summarize(context.Background(), ingest.SummaryRequest{
		Title:  "Long",
		Source: "Blog",
		Text:   strings.Repeat("word ", 9),
	})
	require.NoError(t, err)
	require.Equal(t, "combined", sum.TLDR)
	require.Equal(t, []string{"one"}, sum.Takeaways)

	require.Len(t, cs.requests, 4)
	require.Contains(t, cs.requests[0].Messages[0].Content, "part 1/3")
	require.Equal(t, chunkSummaryTokens, cs.requests[0].MaxTokens)
	require.Contains(t, cs.requests[3].Messages[0].Content, "partial\n\npartial\n\npartial")
	require.Contains(t, cs.requests[3].Messages[0].Content, "from Blog")
}

func TestSummarizeFailures(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil).Summarize(context.Background(), ingest.SummaryRequest{Text: "x"})
	require.ErrorIs(t, err, ErrNoAPIKey)

	cs := &completionServer{reply: func(int) (int, string) { return http.StatusTooManyRequests, "slow down" }}
	srv := cs.start(t)
	s := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err = s.Summarize(context.Background(), ingest.SummaryRequest{Text: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Equal(t, "slow down", apiErr.Message)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Summarize(context.Background(), ingest.SummaryRequest{Text: "x"})
	require.ErrorIs(t, err, ErrClosed)
}
