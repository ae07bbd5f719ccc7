// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Writer backends.
const (
	BackendSQLite   = "sqlite"
	BackendNotion   = "notion"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Writer     WriterConfig     `mapstructure:"writer"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Server     ServerConfig     `mapstructure:"server"`
	FeedsFile  string           `mapstructure:"feeds_file"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WriterConfig selects and configures the content writer.
type WriterConfig struct {
	Backend    string         `mapstructure:"backend"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Notion     NotionConfig   `mapstructure:"notion"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// NotionConfig holds the hosted workspace credentials and database ids.
type NotionConfig struct {
	Token        string        `mapstructure:"token"`
	BaseURL      string        `mapstructure:"base_url"`
	Version      string        `mapstructure:"version"`
	VideosDBID   string        `mapstructure:"videos_db_id"`
	ArticlesDBID string        `mapstructure:"articles_db_id"`
	LogsDBID     string        `mapstructure:"logs_db_id"`
	Rate         int           `mapstructure:"rate"`
	Period       time.Duration `mapstructure:"period"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DedupConfig locates the content-hash store.
type DedupConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig governs orchestrator concurrency and stage timeouts.
type PipelineConfig struct {
	Workers          int           `mapstructure:"workers"`
	OffloadWorkers   int           `mapstructure:"offload_workers"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	SummarizeTimeout time.Duration `mapstructure:"summarize_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	FallbackChars    int           `mapstructure:"fallback_chars"`
}

// SummarizerConfig configures the chat-completions summarizer. The key itself
// is read from the environment variable named by APIKeyEnv.
type SummarizerConfig struct {
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// APIKey returns the configured key, or "" when the variable is unset.
func (s SummarizerConfig) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// FetchConfig configures article and transcript fetching.
type FetchConfig struct {
	UserAgent           string        `mapstructure:"user_agent"`
	Timeout             time.Duration `mapstructure:"timeout"`
	PerHostRPS          float64       `mapstructure:"per_host_rps"`
	PerHostBurst        int           `mapstructure:"per_host_burst"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	TranscriptLanguages []string      `mapstructure:"transcript_languages"`
	YouTubeBaseURL      string        `mapstructure:"youtube_base_url"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("writer.backend", BackendSQLite)
	v.SetDefault("writer.sqlite_path", "db/nexus.sqlite")
	v.SetDefault("writer.notion.token", "")
	v.SetDefault("writer.notion.base_url", "")
	v.SetDefault("writer.notion.version", "")
	v.SetDefault("writer.notion.videos_db_id", "")
	v.SetDefault("writer.notion.articles_db_id", "")
	v.SetDefault("writer.notion.logs_db_id", "")
	v.SetDefault("writer.notion.rate", 3)
	v.SetDefault("writer.notion.period", time.Second)
	v.SetDefault("writer.notion.timeout", 30*time.Second)
	v.SetDefault("writer.postgres.dsn", "")
	v.SetDefault("writer.postgres.max_conns", 4)
	v.SetDefault("dedup.path", "db/queue.sqlite")
	v.SetDefault("pipeline.workers", 10)
	v.SetDefault("pipeline.offload_workers", 8)
	v.SetDefault("pipeline.fetch_timeout", 60*time.Second)
	v.SetDefault("pipeline.summarize_timeout", 120*time.Second)
	v.SetDefault("pipeline.write_timeout", 30*time.Second)
	v.SetDefault("pipeline.fallback_chars", 2000)
	v.SetDefault("summarizer.model", "gpt-4o-mini")
	v.SetDefault("summarizer.max_tokens", 1000)
	v.SetDefault("summarizer.temperature", 0.3)
	v.SetDefault("summarizer.chunk_size", 8000)
	v.SetDefault("summarizer.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("summarizer.base_url", "https://api.openai.com/v1")
	v.SetDefault("summarizer.timeout", 60*time.Second)
	v.SetDefault("fetch.user_agent", "nexus/0.1 (+https://github.com/JakeFAU/nexus)")
	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.per_host_rps", 1.0)
	v.SetDefault("fetch.per_host_burst", 2)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.transcript_languages", []string{"en", "en-US"})
	v.SetDefault("fetch.youtube_base_url", "https://www.youtube.com")
	v.SetDefault("feeds_file", "config/feeds.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Writer.Backend {
	case BackendSQLite:
		if c.Writer.SQLitePath == "" {
			return fmt.Errorf("writer.sqlite_path must be set for the sqlite backend")
		}
	case BackendNotion:
		n := c.Writer.Notion
		if n.Token == "" {
			return fmt.Errorf("writer.notion.token must be set for the notion backend")
		}
		if n.VideosDBID == "" || n.ArticlesDBID == "" || n.LogsDBID == "" {
			return fmt.Errorf("writer.notion database ids must all be set for the notion backend")
		}
		if n.Rate <= 0 || n.Period <= 0 {
			return fmt.Errorf("writer.notion.rate and writer.notion.period must be > 0")
		}
	case BackendPostgres:
		if c.Writer.Postgres.DSN == "" {
			return fmt.Errorf("writer.postgres.dsn must be set for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("writer.backend %q is not one of sqlite, notion, postgres, memory", c.Writer.Backend)
	}
	if c.Dedup.Path == "" {
		return fmt.Errorf("dedup.path must be set")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.OffloadWorkers <= 0 {
		return fmt.Errorf("pipeline.offload_workers must be > 0")
	}
	if c.Pipeline.FetchTimeout <= 0 || c.Pipeline.SummarizeTimeout <= 0 || c.Pipeline.WriteTimeout <= 0 {
		return fmt.Errorf("pipeline timeouts must be > 0")
	}
	if c.Pipeline.FallbackChars <= 0 {
		return fmt.Errorf("pipeline.fallback_chars must be > 0")
	}
	if c.Summarizer.ChunkSize <= 0 {
		return fmt.Errorf("summarizer.chunk_size must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// Feeds lists the discovery sources read from the feeds file.
type Feeds struct {
	RSSFeeds        []string         `yaml:"rss_feeds"`
	YouTubeChannels []string         `yaml:"youtube_channels"`
	YouTubeFeedURLs []string         `yaml:"youtube_feed_urls"`
	HackerNews      HackerNewsConfig `yaml:"hackernews"`
}

// HackerNewsConfig tunes top-story discovery.
type HackerNewsConfig struct {
	MinScore   int `yaml:"min_score"`
	MaxStories int `yaml:"max_stories"`
}

// LoadFeeds reads the YAML feeds file. A missing file yields an empty Feeds.
func LoadFeeds(path string) (Feeds, error) {
	var feeds Feeds
	if path == "" {
		return feeds, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return feeds, nil
	}
	if err != nil {
		return Feeds{}, fmt.Errorf("read feeds file: %w", err)
	}
	if err := yaml.Unmarshal(data, &feeds); err != nil {
		return Feeds{}, fmt.Errorf("parse feeds file %s: %w", path, err)
	}
	return feeds, nil
}
