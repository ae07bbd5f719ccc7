// Package collyfetcher fetches web articles with gocolly and reduces them to
// readable markdown text.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const defaultTimeout = 20 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// HostWaiter paces requests to the same host.
type HostWaiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements ingest.Fetcher for web articles. Every failure is
// reported as a transient fetch error.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       HostWaiter
	logger        *zap.Logger
}

var _ ingest.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type page struct {
	url  *url.URL
	body []byte
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter HostWaiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newRobotsTransport(newHTTPTransport(), logger.Named("robots"))
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch downloads rawURL and returns its main content as markdown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return "", ingest.Transient(rawURL, err)
		}
	}

	var (
		result   page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return "", ingest.Transient(rawURL, err)
	}

	text, err := extract(result.body, result.url)
	if err != nil {
		if looksClientRendered(result.body) {
			err = clientRendered(err)
		}
		return "", ingest.Transient(rawURL, err)
	}
	f.logger.Debug("article fetched",
		zap.String("url", rawURL),
		zap.Int("bytes", len(result.body)),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			url:  r.Request.URL,
			body: append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("HTTP %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// extract pulls the readable part of an HTML page and renders it as markdown.
// Plain text is used when the markdown conversion yields nothing.
func extract(body []byte, pageURL *url.URL) (string, error) {
	if len(body) == 0 {
		return "", ingest.ErrNoContent
	}
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("extract readable content: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", ingest.ErrNoContent
	}
	md, err := htmltomarkdown.ConvertString(article.Content)
	if err == nil && strings.TrimSpace(md) != "" {
		return strings.TrimSpace(md), nil
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", ingest.ErrNoContent
	}
	return text, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
