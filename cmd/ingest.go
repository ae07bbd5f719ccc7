package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/app"
	"github.com/JakeFAU/nexus/internal/config"
	"github.com/JakeFAU/nexus/internal/ingest"
)

type batchFlags struct {
	since   time.Duration
	workers int
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.since, "since", 24*time.Hour, "only ingest items published within this window")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "items processed concurrently (0 uses pipeline.workers)")
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Discover and ingest content",
	}
	cmd.AddCommand(newIngestYouTubeCmd())
	cmd.AddCommand(newIngestNewsCmd())
	cmd.AddCommand(newIngestHackerNewsCmd())
	cmd.AddCommand(newIngestURLCmd())
	return cmd
}

func newIngestYouTubeCmd() *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "youtube",
		Short: "Ingest new videos from the configured channels and feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, flags, ingest.KindVideo, func(a App, feeds config.Feeds) ([]ingest.Discoverer, ingest.Fetcher, error) {
				sources, err := a.YouTubeSources(feeds)
				return sources, a.TranscriptFetcher(), err
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newIngestNewsCmd() *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Ingest new articles from the configured RSS and Atom feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, flags, ingest.KindArticle, func(a App, feeds config.Feeds) ([]ingest.Discoverer, ingest.Fetcher, error) {
				sources, err := a.NewsSources(feeds)
				return sources, a.ArticleFetcher(), err
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newIngestHackerNewsCmd() *cobra.Command {
	var (
		flags    batchFlags
		minScore int
	)
	cmd := &cobra.Command{
		Use:     "hackernews",
		Aliases: []string{"hn"},
		Short:   "Ingest high-scoring Hacker News stories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, flags, ingest.KindArticle, func(a App, feeds config.Feeds) ([]ingest.Discoverer, ingest.Fetcher, error) {
				return []ingest.Discoverer{a.HackerNewsSource(feeds, minScore)}, a.ArticleFetcher(), nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&minScore, "min-score", 0, "minimum story score (0 uses the feeds file, then 100)")
	return cmd
}

func newIngestURLCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "url URL",
		Short: "Ingest a single article or YouTube video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.RunURL(cmd.Context(), args[0], dryRun, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			if n == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "nothing written for %s\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch and preview without summarizing or writing")
	return cmd
}

type sourceBuilder func(a App, feeds config.Feeds) ([]ingest.Discoverer, ingest.Fetcher, error)

func runBatch(cmd *cobra.Command, flags batchFlags, kind ingest.Kind, build sourceBuilder) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	feeds, err := a.Feeds()
	if err != nil {
		return err
	}
	sources, fetcher, err := build(a, feeds)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		a.Logger().Warn("no sources configured", zap.String("feeds_file", a.Config().FeedsFile))
		fmt.Fprintln(cmd.OutOrStdout(), "no sources configured")
		return nil
	}

	n, err := a.RunSources(cmd.Context(), app.BatchRequest{
		Kind:    kind,
		Fetcher: fetcher,
		Sources: sources,
		Since:   a.Clock().Now().Add(-flags.since),
		Workers: flags.workers,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d %ss\n", n, kind)
	if err != nil {
		return fmt.Errorf("ingest %ss: %w", kind, err)
	}
	return nil
}
