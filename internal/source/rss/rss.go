// Package rss discovers items from RSS and Atom feeds, including YouTube
// channel and playlist feeds.
package rss

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/fetcher/youtube"
	"github.com/JakeFAU/nexus/internal/ingest"
)

const channelFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id="

// ChannelFeedURL returns the uploads feed of a YouTube channel id.
func ChannelFeedURL(channelID string) string {
	return channelFeedURL + url.QueryEscape(channelID)
}

// Config configures a feed Discoverer.
type Config struct {
	FeedURL   string
	Kind      ingest.Kind
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
}

// Discoverer lists recent entries of one feed.
type Discoverer struct {
	cfg    Config
	parser *gofeed.Parser
	policy *bluemonday.Policy
	logger *zap.Logger
}

var _ ingest.Discoverer = (*Discoverer)(nil)

// New builds a Discoverer for cfg.FeedURL.
func New(cfg Config, logger *zap.Logger) (*Discoverer, error) {
	if strings.TrimSpace(cfg.FeedURL) == "" {
		return nil, errors.New("feed url is required")
	}
	if cfg.Kind == "" {
		cfg.Kind = ingest.KindArticle
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := gofeed.NewParser()
	if cfg.Client != nil {
		p.Client = cfg.Client
	}
	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	return &Discoverer{
		cfg:    cfg,
		parser: p,
		policy: bluemonday.StrictPolicy(),
		logger: logger,
	}, nil
}

// Name identifies the feed in discovery logs.
func (d *Discoverer) Name() string {
	if d.cfg.Kind == ingest.KindVideo {
		return "youtube:" + d.cfg.FeedURL
	}
	return "rss:" + d.cfg.FeedURL
}

// Discover returns entries published at or after since. Entries without a
// publish date are kept. A zero since keeps everything.
func (d *Discoverer) Discover(ctx context.Context, since time.Time) ([]ingest.DiscoveredItem, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	feed, err := d.parser.ParseURLWithContext(d.cfg.FeedURL, ctx)
	if err != nil {
		return nil, d.classify(err)
	}

	site := d.clean(feed.Title)
	if d.cfg.Kind == ingest.KindVideo && feed.Author != nil && feed.Author.Name != "" {
		site = d.clean(feed.Author.Name)
	}

	items := make([]ingest.DiscoveredItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			continue
		}
		published := entry.PublishedParsed
		if published == nil {
			published = entry.UpdatedParsed
		}
		if published != nil && !since.IsZero() && published.Before(since) {
			continue
		}
		title := d.clean(entry.Title)
		if title == "" {
			title = link
		}
		item := ingest.DiscoveredItem{
			URL:    link,
			Title:  title,
			Source: site,
			Kind:   d.cfg.Kind,
		}
		if published != nil {
			t := published.UTC()
			item.PublishedAt = &t
		}
		if d.cfg.Kind == ingest.KindVideo {
			item.MediaID = videoID(entry)
			if item.Source == "" && entry.Author != nil {
				item.Source = d.clean(entry.Author.Name)
			}
		}
		items = append(items, item)
	}
	d.logger.Debug("feed discovered",
		zap.String("feed", d.cfg.FeedURL),
		zap.Int("entries", len(feed.Items)),
		zap.Int("kept", len(items)))
	return items, nil
}

// clean strips markup from feed text and decodes entities.
func (d *Discoverer) clean(s string) string {
	s = html.UnescapeString(d.policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// classify marks HTTP 429 and 403 from YouTube feeds as blocked, since those
// share an upstream with transcript fetching. Article feed failures only
// affect their own feed.
func (d *Discoverer) classify(err error) error {
	var httpErr gofeed.HTTPError
	if d.cfg.Kind == ingest.KindVideo && errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode == http.StatusForbidden) {
		return ingest.Blocked(d.cfg.FeedURL, err)
	}
	return ingest.Transient(d.cfg.FeedURL, fmt.Errorf("parse feed: %w", err))
}

func videoID(entry *gofeed.Item) string {
	if yt, ok := entry.Extensions["yt"]; ok {
		if ids := yt["videoId"]; len(ids) > 0 && ids[0].Value != "" {
			return ids[0].Value
		}
	}
	if id, ok := youtube.ExtractVideoID(entry.Link); ok {
		return id
	}
	return ""
}
