package youtube

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const defaultTitle = "YouTube Video"

// MetadataResolver reads title, channel and publish date from a watch page.
type MetadataResolver struct {
	cfg     Config
	limiter HostWaiter
	logger  *zap.Logger
}

var _ ingest.MetadataResolver = (*MetadataResolver)(nil)

// NewMetadataResolver builds a MetadataResolver. limiter may be nil.
func NewMetadataResolver(cfg Config, limiter HostWaiter, logger *zap.Logger) *MetadataResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataResolver{cfg: cfg.withDefaults(), limiter: limiter, logger: logger}
}

// Resolve fetches the watch page for rawURL. The returned item always
// carries the video id and kind, even when the page lacks metadata.
func (r *MetadataResolver) Resolve(ctx context.Context, rawURL string) (ingest.DiscoveredItem, error) {
	id, ok := ExtractVideoID(rawURL)
	if !ok {
		return ingest.DiscoveredItem{}, fmt.Errorf("no video id in %q", rawURL)
	}
	item := ingest.DiscoveredItem{
		URL:     rawURL,
		Title:   defaultTitle,
		MediaID: id,
		Kind:    ingest.KindVideo,
	}

	endpoint := r.cfg.BaseURL + "/watch?v=" + id
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, endpoint); err != nil {
			return item, fmt.Errorf("wait for %s: %w", endpoint, err)
		}
	}
	body, err := get(ctx, r.cfg, endpoint)
	if err != nil {
		return item, fmt.Errorf("fetch watch page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return item, fmt.Errorf("parse watch page: %w", err)
	}
	return applyMetadata(item, doc), nil
}

func applyMetadata(item ingest.DiscoveredItem, doc *goquery.Document) ingest.DiscoveredItem {
	if title := metaContent(doc, `meta[property="og:title"]`, `meta[name="title"]`); title != "" {
		item.Title = title
	}
	if channel := metaContent(doc,
		`span[itemprop="author"] link[itemprop="name"]`,
		`link[itemprop="name"]`,
	); channel != "" {
		item.Source = channel
	}
	if raw := metaContent(doc, `meta[itemprop="datePublished"]`, `meta[itemprop="uploadDate"]`); raw != "" {
		if t, ok := parseDate(raw); ok {
			item.PublishedAt = &t
		}
	}
	return item
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
