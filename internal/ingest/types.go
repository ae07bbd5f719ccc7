package ingest

import (
	"strings"
	"time"
)

// Kind distinguishes the two content record shapes.
type Kind string

// Content kinds persisted by writers.
const (
	KindVideo   Kind = "video"
	KindArticle Kind = "article"
)

// ParseKind maps user input (singular or plural) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "videos":
		return KindVideo, true
	case "article", "articles":
		return KindArticle, true
	default:
		return "", false
	}
}

// Action is the pipeline stage recorded in an ingestion log entry.
type Action string

// Actions accepted by every writer's log table.
const (
	ActionDiscover  Action = "discover"
	ActionFetch     Action = "fetch"
	ActionSummarize Action = "summarize"
	ActionWrite     Action = "write"
)

// Result is the outcome recorded in an ingestion log entry.
type Result string

// Results accepted by every writer's log table.
const (
	ResultOK    Result = "ok"
	ResultSkip  Result = "skip"
	ResultError Result = "error"
)

// Valid reports whether a is one of the closed set of actions.
func (a Action) Valid() bool {
	switch a {
	case ActionDiscover, ActionFetch, ActionSummarize, ActionWrite:
		return true
	default:
		return false
	}
}

// Valid reports whether r is one of the closed set of results.
func (r Result) Valid() bool {
	switch r {
	case ResultOK, ResultSkip, ResultError:
		return true
	default:
		return false
	}
}

// DiscoveredItem is a unit of work produced by a discovery source.
type DiscoveredItem struct {
	URL         string
	Title       string
	PublishedAt *time.Time
	Source      string
	MediaID     string
	Kind        Kind
	// SummaryHeader lines are prepended to the stored summary.
	SummaryHeader []string
}

// VideoRecord is the upsert payload for the videos collection.
type VideoRecord struct {
	URL         string
	Title       string
	Summary     string
	Thumbnail   string
	Source      string
	PublishedAt *time.Time
	UpdatedAt   *time.Time
}

// ArticleRecord is the upsert payload for the articles collection.
type ArticleRecord struct {
	URL         string
	Title       string
	Summary     string
	Body        string
	Source      string
	PublishedAt *time.Time
	UpdatedAt   *time.Time
}

// LogEntry is appended to the ingestion log for each stage transition.
type LogEntry struct {
	ItemURL string
	Action  Action
	Result  Result
	Message string
	// When defaults to the writer's current UTC time when zero.
	When time.Time
}

// Record is the fixed read shape returned by Reader implementations.
type Record struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Thumbnail   string     `json:"thumbnail_url,omitempty"`
	Body        string     `json:"body,omitempty"`
	Summary     string     `json:"summary"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SummaryRequest carries the inputs to a summarizer call.
type SummaryRequest struct {
	Kind   Kind
	Title  string
	Source string
	Text   string
}

// Summary is the structured output of a summarizer.
type Summary struct {
	TLDR      string
	Takeaways []string
	Quotes    []string
	Topics    []string
}

// YouTubeThumbnail returns the max-resolution thumbnail URL for a video id.
func YouTubeThumbnail(videoID string) string {
	if videoID == "" {
		return ""
	}
	return "https://i.ytimg.com/vi/" + videoID + "/maxresdefault.jpg"
}

// UniqueByURL drops items whose URL already appeared earlier in the slice.
func UniqueByURL(items []DiscoveredItem) []DiscoveredItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]DiscoveredItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.URL]; ok {
			continue
		}
		seen[item.URL] = struct{}{}
		out = append(out, item)
	}
	return out
}
