package youtube

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const (
	// DefaultBaseURL is the YouTube origin used for transcripts and metadata.
	DefaultBaseURL = "https://www.youtube.com"
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 8 << 20
)

// DefaultLanguages are tried in order when no languages are configured.
var DefaultLanguages = []string{"en", "en-US"}

// HostWaiter paces requests to the same host.
type HostWaiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config configures both the transcript fetcher and the metadata resolver.
type Config struct {
	BaseURL   string
	UserAgent string
	Languages []string
	Timeout   time.Duration
	Client    *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if len(c.Languages) == 0 {
		c.Languages = DefaultLanguages
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// TranscriptFetcher implements ingest.Fetcher for YouTube videos. HTTP 429,
// HTTP 403 and captcha redirects are reported as blocked.
type TranscriptFetcher struct {
	cfg     Config
	limiter HostWaiter
	logger  *zap.Logger
}

var _ ingest.Fetcher = (*TranscriptFetcher)(nil)

// NewTranscriptFetcher builds a TranscriptFetcher. limiter may be nil.
func NewTranscriptFetcher(cfg Config, limiter HostWaiter, logger *zap.Logger) *TranscriptFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptFetcher{cfg: cfg.withDefaults(), limiter: limiter, logger: logger}
}

type timedText struct {
	Texts []struct {
		Body string `xml:",chardata"`
	} `xml:"text"`
}

// Fetch returns the transcript of the video at rawURL, one caption per line.
func (f *TranscriptFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	id, ok := ExtractVideoID(rawURL)
	if !ok {
		return "", ingest.Transient(rawURL, fmt.Errorf("no video id in %q", rawURL))
	}
	for _, lang := range f.cfg.Languages {
		text, err := f.fetchLanguage(ctx, rawURL, id, lang)
		if err != nil {
			return "", err
		}
		if text != "" {
			f.logger.Debug("transcript fetched",
				zap.String("video_id", id),
				zap.String("lang", lang),
				zap.Int("chars", len(text)))
			return text, nil
		}
	}
	return "", ingest.Transient(rawURL, fmt.Errorf("no transcript in %s: %w",
		strings.Join(f.cfg.Languages, ","), ingest.ErrNoContent))
}

func (f *TranscriptFetcher) fetchLanguage(ctx context.Context, rawURL, id, lang string) (string, error) {
	q := url.Values{"v": {id}, "lang": {lang}}
	endpoint := f.cfg.BaseURL + "/api/timedtext?" + q.Encode()
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, endpoint); err != nil {
			return "", ingest.Transient(rawURL, err)
		}
	}

	body, err := get(ctx, f.cfg, endpoint)
	if err != nil {
		return "", classify(rawURL, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", ingest.Transient(rawURL, fmt.Errorf("decode timedtext: %w", err))
	}
	lines := make([]string, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		// Caption bodies are HTML-escaped once more inside the XML payload.
		line := strings.TrimSpace(html.UnescapeString(t.Body))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// statusError reports a non-200 response.
type statusError struct {
	Code     int
	FinalURL string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Code, e.FinalURL)
}

var errCaptcha = errors.New("redirected to captcha page")

func get(ctx context.Context, cfg Config, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.Request != nil && strings.Contains(resp.Request.URL.Path, "/sorry/") {
		return nil, errCaptcha
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode, FinalURL: endpoint}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func classify(rawURL string, err error) error {
	if errors.Is(err, errCaptcha) {
		return ingest.Blocked(rawURL, err)
	}
	var se *statusError
	if errors.As(err, &se) && (se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden) {
		return ingest.Blocked(rawURL, err)
	}
	return ingest.Transient(rawURL, err)
}
