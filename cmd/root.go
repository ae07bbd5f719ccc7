// Package cmd defines and implements the CLI commands for the nexus executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/app"
	"github.com/JakeFAU/nexus/internal/config"
	"github.com/JakeFAU/nexus/internal/ingest"
	"github.com/JakeFAU/nexus/internal/logging"
	"github.com/JakeFAU/nexus/internal/storage"
)

// Exit codes returned by Execute.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitBlocked = 5
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service surface commands use. Tests swap in a fake through
// newApp.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Clock() ingest.Clock
	Feeds() (config.Feeds, error)
	YouTubeSources(feeds config.Feeds) ([]ingest.Discoverer, error)
	NewsSources(feeds config.Feeds) ([]ingest.Discoverer, error)
	HackerNewsSource(feeds config.Feeds, minScore int) ingest.Discoverer
	ArticleFetcher() ingest.Fetcher
	TranscriptFetcher() ingest.Fetcher
	RunSources(ctx context.Context, req app.BatchRequest) (int, error)
	RunURL(ctx context.Context, url string, dryRun bool, out io.Writer) (int, error)
	OpenReader(ctx context.Context) (storage.Store, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfg config.Config, logger *zap.Logger) App {
	return app.New(cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexus",
		Short: "Personal content ingestion pipeline.",
		Long: `nexus discovers videos and articles from YouTube channels, RSS feeds and
Hacker News, fetches their transcripts or text, summarizes them and stores the
results in SQLite, Notion or Postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, newApp(cfg, logger))
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(App); ok && a != nil {
				_ = a.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newRecentCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// ExitCode maps a command error to the process exit status. Blocked
// upstreams exit with ExitBlocked so schedulers can back off.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case ingest.IsFatal(err):
		return ExitBlocked
	default:
		return ExitError
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nexus: %v\n", err)
	}
	return ExitCode(err)
}
