package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/nexus/internal/ingest"
)

type table struct {
	name   string
	fts    string
	extra  string
	hasImg bool
}

var tables = map[ingest.Kind]table{
	ingest.KindVideo:   {name: "videos", fts: "videos_fts", extra: "thumbnail_url", hasImg: true},
	ingest.KindArticle: {name: "articles", fts: "articles_fts", extra: "body"},
}

func (t table) columns() []string {
	cols := []string{"id", "url", "title", t.extra, "summary", "source", "published_at", "updated_at"}
	for i, c := range cols {
		cols[i] = t.name + "." + c
	}
	return cols
}

// Recent returns up to limit records of kind, newest publish time first.
func (w *Writer) Recent(ctx context.Context, kind ingest.Kind, limit int) ([]ingest.Record, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	query := sq.Select(t.columns()...).
		From(t.name).
		OrderBy(t.name + ".published_at DESC").
		Limit(clampLimit(limit))
	return w.query(ctx, t, query)
}

// Search runs a full-text query over title and summary (and body for
// articles), newest publish time first.
func (w *Writer) Search(ctx context.Context, kind ingest.Kind, text string, limit int) ([]ingest.Record, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("search query is required")
	}
	query := sq.Select(t.columns()...).
		From(t.name).
		Join(fmt.Sprintf("%s ON %s.id = %s.rowid", t.fts, t.name, t.fts)).
		Where(sq.Expr(t.fts+" MATCH ?", matchExpr(text))).
		OrderBy(t.name + ".published_at DESC").
		Limit(clampLimit(limit))
	return w.query(ctx, t, query)
}

// matchExpr quotes each whitespace-separated term as an FTS5 string, so
// operators and punctuation in user input match literally. Terms are ANDed.
func matchExpr(text string) string {
	terms := strings.Fields(text)
	for i, term := range terms {
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func (w *Writer) query(ctx context.Context, t table, b sq.SelectBuilder) ([]ingest.Record, error) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", t.name, err)
	}
	rows, err := w.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []ingest.Record
	for rows.Next() {
		var (
			rec                         ingest.Record
			extra, summary, source      sql.NullString
			publishedAt, updatedAtValue sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &extra, &summary, &source, &publishedAt, &updatedAtValue); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", t.name, err)
		}
		if t.hasImg {
			rec.Thumbnail = extra.String
		} else {
			rec.Body = extra.String
		}
		rec.Summary = summary.String
		rec.Source = source.String
		rec.PublishedAt = parseTime(publishedAt)
		if ts := parseTime(updatedAtValue); ts != nil {
			rec.UpdatedAt = *ts
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", t.name, err)
	}
	return out, nil
}

func clampLimit(limit int) uint64 {
	switch {
	case limit <= 0:
		return 20
	case limit > 500:
		return 500
	default:
		return uint64(limit)
	}
}
