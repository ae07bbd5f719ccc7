package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nexus/internal/api"
	"github.com/JakeFAU/nexus/internal/ingest"
)

type queryFlags struct {
	kind  string
	limit int
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", "article", "video or article")
	cmd.Flags().IntVar(&f.limit, "limit", 20, "maximum records to print")
}

func (f *queryFlags) parse() (ingest.Kind, error) {
	kind, ok := ingest.ParseKind(f.kind)
	if !ok {
		return "", fmt.Errorf("unknown kind %q", f.kind)
	}
	if f.limit <= 0 {
		return "", errors.New("limit must be > 0")
	}
	return kind, nil
}

func newRecentCmd() *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the most recently published records as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := flags.parse()
			if err != nil {
				return err
			}
			return query(cmd, func(ctx context.Context, r ingest.Reader) ([]ingest.Record, error) {
				return r.Recent(ctx, kind, flags.limit)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newSearchCmd() *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search titles and summaries, printing JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := flags.parse()
			if err != nil {
				return err
			}
			q := strings.Join(args, " ")
			return query(cmd, func(ctx context.Context, r ingest.Reader) ([]ingest.Record, error) {
				return r.Search(ctx, kind, q, flags.limit)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func query(cmd *cobra.Command, fn func(context.Context, ingest.Reader) ([]ingest.Record, error)) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	store, err := a.OpenReader(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.Logger().Warn("close store", zap.Error(cerr))
		}
	}()

	recs, err := fn(cmd.Context(), store)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API over the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if port <= 0 {
				port = a.Config().Server.Port
			}
			return serve(cmd.Context(), a, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (0 uses server.port)")
	return cmd
}

func serve(ctx context.Context, a App, port int) error {
	logger := a.Logger()
	store, err := a.OpenReader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close store", zap.Error(cerr))
		}
	}()

	apiServer := api.NewServer(store, api.Options{APIKey: a.Config().Server.APIKey}, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
