package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nexus/internal/ingest"
)

func TestWriterUpsertKeepsID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := New()
	id1, err := w.UpsertArticle(ctx, ingest.ArticleRecord{URL: "https://a", Title: "one"})
	require.NoError(t, err)
	id2, err := w.UpsertArticle(ctx, ingest.ArticleRecord{URL: "https://a", Title: "two"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	recs, err := w.Recent(ctx, ingest.KindArticle, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "two", recs[0].Title)
}

func TestWriterLogValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := New()
	_, err := w.LogEvent(ctx, ingest.LogEntry{Action: "bogus", Result: ingest.ResultOK})
	require.Error(t, err)
	_, err = w.LogEvent(ctx, ingest.LogEntry{Action: ingest.ActionFetch, Result: ingest.ResultSkip})
	require.NoError(t, err)
	logs := w.Logs()
	require.Len(t, logs, 1)
	require.False(t, logs[0].When.IsZero())
}

func TestWriterSearchAndOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := New()
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	_, err := w.UpsertVideo(ctx, ingest.VideoRecord{URL: "https://v/1", Title: "Rust talk", PublishedAt: &early})
	require.NoError(t, err)
	_, err = w.UpsertVideo(ctx, ingest.VideoRecord{URL: "https://v/2", Title: "Go talk", PublishedAt: &late})
	require.NoError(t, err)
	_, err = w.UpsertVideo(ctx, ingest.VideoRecord{URL: "https://v/3", Title: "Undated talk"})
	require.NoError(t, err)

	recs, err := w.Search(ctx, ingest.KindVideo, "TALK", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "Go talk", recs[0].Title)
	require.Equal(t, "Undated talk", recs[2].Title)

	_, err = w.Search(ctx, ingest.KindVideo, "", 0)
	require.Error(t, err)
}

func TestWriterClosedRejectsWrites(t *testing.T) {
	t.Parallel()

	w := New()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err := w.UpsertVideo(context.Background(), ingest.VideoRecord{URL: "https://v/1"})
	require.ErrorIs(t, err, ErrClosed)
}
