package postgres

import "github.com/JakeFAU/nexus/internal/ingest"

type table struct {
	name   string
	extra  string
	hasImg bool
}

var tables = map[ingest.Kind]table{
	ingest.KindVideo:   {name: "videos", extra: "thumbnail_url", hasImg: true},
	ingest.KindArticle: {name: "articles", extra: "body"},
}

func (t table) columns() []string {
	return []string{"id", "url", "title", t.extra, "summary", "source", "published_at", "updated_at"}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS videos (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE CHECK (length(url) > 0),
	title TEXT NOT NULL,
	summary TEXT,
	thumbnail_url TEXT,
	source TEXT,
	published_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	search TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(title, '') || ' ' || coalesce(summary, ''))
	) STORED
)`,
	`CREATE TABLE IF NOT EXISTS articles (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE CHECK (length(url) > 0),
	title TEXT NOT NULL,
	summary TEXT,
	body TEXT,
	source TEXT,
	published_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	search TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(title, '') || ' ' || coalesce(summary, '') || ' ' || coalesce(body, ''))
	) STORED
)`,
	`CREATE TABLE IF NOT EXISTS ingestion_logs (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	item_url TEXT,
	action TEXT NOT NULL CHECK (action IN ('discover', 'fetch', 'summarize', 'write')),
	result TEXT NOT NULL CHECK (result IN ('ok', 'skip', 'error')),
	message TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_published ON videos (published_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_updated ON videos (updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_source ON videos (source)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_search ON videos USING GIN (search)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_published ON articles (published_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_updated ON articles (updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_source ON articles (source)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_search ON articles USING GIN (search)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON ingestion_logs (timestamp DESC)`,
}

const upsertVideoSQL = `
INSERT INTO videos (title, url, summary, thumbnail_url, source, published_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	thumbnail_url = EXCLUDED.thumbnail_url,
	source = EXCLUDED.source,
	published_at = EXCLUDED.published_at,
	updated_at = EXCLUDED.updated_at
RETURNING id`

const upsertArticleSQL = `
INSERT INTO articles (title, url, summary, body, source, published_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	body = EXCLUDED.body,
	source = EXCLUDED.source,
	published_at = EXCLUDED.published_at,
	updated_at = EXCLUDED.updated_at
RETURNING id`

const insertLogSQL = `
INSERT INTO ingestion_logs (timestamp, item_url, action, result, message)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
