package notion

import (
	"time"

	"github.com/JakeFAU/nexus/internal/ingest"
)

const (
	shortTextLimit = 200
	longTextLimit  = 2000
)

func titleProp(s string) map[string]any {
	return map[string]any{"title": []any{textObject(ingest.Truncate(s, shortTextLimit))}}
}

func richTextProp(s string, limit int) map[string]any {
	if s == "" {
		return map[string]any{"rich_text": []any{}}
	}
	return map[string]any{"rich_text": []any{textObject(ingest.Truncate(s, limit))}}
}

func urlProp(s string) map[string]any {
	if s == "" {
		return map[string]any{"url": nil}
	}
	return map[string]any{"url": s}
}

func dateProp(t *time.Time) map[string]any {
	if t == nil {
		return map[string]any{"date": nil}
	}
	return map[string]any{"date": map[string]any{"start": t.UTC().Format(time.RFC3339)}}
}

func selectProp(name string) map[string]any {
	return map[string]any{"select": map[string]any{"name": name}}
}

func textObject(s string) map[string]any {
	return map[string]any{"type": "text", "text": map[string]any{"content": s}}
}

func videoProperties(rec ingest.VideoRecord, updated time.Time) Properties {
	return Properties{
		"Name":         titleProp(rec.Title),
		"Link":         urlProp(rec.URL),
		"Thumbnail":    urlProp(rec.Thumbnail),
		"Summary":      richTextProp(rec.Summary, longTextLimit),
		"Source":       richTextProp(rec.Source, shortTextLimit),
		"Published":    dateProp(rec.PublishedAt),
		"Last Updated": dateProp(&updated),
	}
}

func articleProperties(rec ingest.ArticleRecord, updated time.Time) Properties {
	return Properties{
		"Name":         titleProp(rec.Title),
		"Link":         urlProp(rec.URL),
		"Summary":      richTextProp(rec.Summary, longTextLimit),
		"Body":         richTextProp(rec.Body, longTextLimit),
		"Source":       richTextProp(rec.Source, shortTextLimit),
		"Published":    dateProp(rec.PublishedAt),
		"Last Updated": dateProp(&updated),
	}
}

func logProperties(entry ingest.LogEntry) Properties {
	return Properties{
		"Name":     titleProp(string(entry.Action) + " | " + string(entry.Result)),
		"Time":     dateProp(&entry.When),
		"Item URL": urlProp(entry.ItemURL),
		"Action":   selectProp(string(entry.Action)),
		"Result":   selectProp(string(entry.Result)),
		"Message":  richTextProp(entry.Message, longTextLimit),
	}
}
