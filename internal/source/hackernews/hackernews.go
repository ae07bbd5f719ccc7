// Package hackernews discovers high-scoring stories from the Hacker News
// Firebase API.
package hackernews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const (
	// DefaultBaseURL is the public Firebase API root.
	DefaultBaseURL     = "https://hacker-news.firebaseio.com/v0"
	discussionURL      = "https://news.ycombinator.com/item?id="
	defaultMinScore    = 100
	defaultMaxStories  = 100
	defaultConcurrency = 10
)

// Config tunes story discovery.
type Config struct {
	BaseURL     string
	MinScore    int
	MaxStories  int
	Concurrency int
	Timeout     time.Duration
	Client      *http.Client
}

// Story is the subset of an HN item used for discovery.
type Story struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Score int    `json:"score"`
	By    string `json:"by"`
	Time  int64  `json:"time"`
}

// Discoverer implements ingest.Discoverer over the top stories list.
type Discoverer struct {
	cfg    Config
	logger *zap.Logger
}

var _ ingest.Discoverer = (*Discoverer)(nil)

// New builds a Discoverer with defaults applied.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.MaxStories <= 0 {
		cfg.MaxStories = defaultMaxStories
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, logger: logger}
}

// Name identifies the source in discovery logs.
func (d *Discoverer) Name() string {
	return "hackernews"
}

// Discover returns link stories posted at or after since with at least
// MinScore points, highest score first. Individual item failures are skipped.
func (d *Discoverer) Discover(ctx context.Context, since time.Time) ([]ingest.DiscoveredItem, error) {
	var ids []int64
	if err := d.getJSON(ctx, d.cfg.BaseURL+"/topstories.json", &ids); err != nil {
		return nil, classify(d.cfg.BaseURL, err)
	}
	if len(ids) > d.cfg.MaxStories {
		ids = ids[:d.cfg.MaxStories]
	}

	var (
		mu      sync.Mutex
		stories []Story
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			var s Story
			if err := d.getJSON(gctx, d.cfg.BaseURL+"/item/"+strconv.FormatInt(id, 10)+".json", &s); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d.logger.Debug("skip story", zap.Int64("id", id), zap.Error(err))
				return nil
			}
			if !d.keep(s, since) {
				return nil
			}
			mu.Lock()
			stories = append(stories, s)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ingest.Transient(d.cfg.BaseURL, fmt.Errorf("fetch stories: %w", err))
	}

	sort.SliceStable(stories, func(i, j int) bool {
		if stories[i].Score != stories[j].Score {
			return stories[i].Score > stories[j].Score
		}
		return stories[i].ID < stories[j].ID
	})
	items := make([]ingest.DiscoveredItem, 0, len(stories))
	for _, s := range stories {
		items = append(items, toItem(s))
	}
	d.logger.Info("hacker news stories discovered",
		zap.Int("checked", len(ids)),
		zap.Int("kept", len(items)),
		zap.Int("min_score", d.cfg.MinScore))
	return items, nil
}

func (d *Discoverer) keep(s Story, since time.Time) bool {
	if s.Type != "story" || s.URL == "" {
		return false
	}
	if s.Score < d.cfg.MinScore {
		return false
	}
	return since.IsZero() || !time.Unix(s.Time, 0).Before(since)
}

func toItem(s Story) ingest.DiscoveredItem {
	published := time.Unix(s.Time, 0).UTC()
	title := s.Title
	if title == "" {
		title = "Untitled"
	}
	by := s.By
	if by == "" {
		by = "unknown"
	}
	return ingest.DiscoveredItem{
		URL:         s.URL,
		Title:       title,
		PublishedAt: &published,
		Source:      fmt.Sprintf("Hacker News (%d points)", s.Score),
		Kind:        ingest.KindArticle,
		SummaryHeader: []string{
			"Hacker News Discussion: " + discussionURL + strconv.FormatInt(s.ID, 10),
			fmt.Sprintf("Score: %d points by %s", s.Score, by),
		},
	}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

func (d *Discoverer) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func classify(url string, err error) error {
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusTooManyRequests {
		return ingest.Blocked(url, err)
	}
	return ingest.Transient(url, err)
}
