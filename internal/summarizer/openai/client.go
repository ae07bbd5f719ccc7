// Package openai summarizes fetched text through an OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 1000
	defaultTemperature = 0.3
	defaultChunkSize   = 8000
	chunkSummaryTokens = 500
	systemPrompt       = "You are a helpful assistant that creates concise, structured summaries."
)

var (
	// ErrNoAPIKey is returned by Summarize when no key was configured.
	ErrNoAPIKey = errors.New("summarizer api key not set")
	// ErrClosed is returned by Summarize after Close.
	ErrClosed = errors.New("summarizer closed")
)

// Config configures the Summarizer.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	// ChunkSize is an approximate token budget per request; text longer than
	// ChunkSize*0.75 words is summarized in parts and then combined.
	ChunkSize int
	Timeout   time.Duration
	Client    *http.Client
}

// Summarizer implements ingest.Summarizer.
type Summarizer struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ ingest.Summarizer = (*Summarizer)(nil)

// New builds a Summarizer. A missing API key is not an error here; every
// Summarize call fails instead, which sends the pipeline down its fallback.
func New(cfg Config, logger *zap.Logger) *Summarizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{cfg: cfg, client: client, logger: logger}
}

// Summarize condenses req.Text. Long text is split into word chunks, each
// chunk summarized, and the partial summaries combined into the final one.
func (s *Summarizer) Summarize(ctx context.Context, req ingest.SummaryRequest) (ingest.Summary, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ingest.Summary{}, ErrClosed
	}
	if s.cfg.APIKey == "" {
		return ingest.Summary{}, ErrNoAPIKey
	}

	source := req.Source
	if source == "" {
		source = "Unknown"
	}
	kind := string(req.Kind)
	if kind == "" {
		kind = string(ingest.KindArticle)
	}

	chunks := chunkWords(req.Text, s.cfg.ChunkSize*3/4)
	if len(chunks) <= 1 {
		raw, err := s.complete(ctx, []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: singlePrompt(req.Title, source, kind, req.Text)},
		}, s.cfg.MaxTokens)
		if err != nil {
			return ingest.Summary{}, err
		}
		return Parse(raw), nil
	}

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt := fmt.Sprintf("Summarize this excerpt (part %d/%d) from '%s':\n\n%s", i+1, len(chunks), req.Title, chunk)
		raw, err := s.complete(ctx, []message{{Role: "user", Content: prompt}}, chunkSummaryTokens)
		if err != nil {
			return ingest.Summary{}, fmt.Errorf("summarize part %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, raw)
	}
	s.logger.Debug("combining partial summaries", zap.String("title", req.Title), zap.Int("parts", len(partials)))
	raw, err := s.complete(ctx, []message{
		{Role: "user", Content: reducePrompt(req.Title, source, partials)},
	}, s.cfg.MaxTokens)
	if err != nil {
		return ingest.Summary{}, fmt.Errorf("combine summaries: %w", err)
	}
	return Parse(raw), nil
}

// Close releases idle connections. Later Summarize calls fail.
func (s *Summarizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.client.CloseIdleConnections()
	}
	return nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// APIError is a non-200 reply from the completions endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completions api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (s *Summarizer) complete(ctx context.Context, msgs []message, maxTokens int) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       s.cfg.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read completion: %w", err)
	}
	var out chatResponse
	decodeErr := json.Unmarshal(body, &out)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && out.Error != nil {
			msg = out.Error.Message
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode completion: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// chunkWords splits text into runs of at most perChunk words. Text that fits
// in one chunk is returned unchanged.
func chunkWords(text string, perChunk int) []string {
	words := strings.Fields(text)
	if perChunk <= 0 || len(words) <= perChunk {
		return []string{text}
	}
	chunks := make([]string, 0, len(words)/perChunk+1)
	for i := 0; i < len(words); i += perChunk {
		end := min(i+perChunk, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

const outputFormat = `Return in this exact format:
TL;DR: ...
Takeaways:
- ...
- ...
Quotes:
- ...
Topics: tag1, tag2, tag3
`

func singlePrompt(title, source, kind, text string) string {
	return fmt.Sprintf(`Title: %s
Source: %s

Summarize the following %s into a structured format:
1. TL;DR (2-3 sentences)
2. Key Takeaways (5-8 bullet points)
3. Notable Quotes or Facts (2-3 items)
4. Topics (3-5 tags)

Content:
%s

%s`, title, source, kind, text, outputFormat)
}

func reducePrompt(title, source string, partials []string) string {
	return fmt.Sprintf(`Synthesize these summaries of '%s' from %s into a final structured summary.

Summaries:
%s

%s`, title, source, strings.Join(partials, "\n\n"), outputFormat)
}
