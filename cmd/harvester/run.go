package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/issue-harvester/internal/config"
	"github.com/Sternrassler/issue-harvester/pkg/client"
	"github.com/Sternrassler/issue-harvester/pkg/logging"
	"github.com/Sternrassler/issue-harvester/pkg/metrics"
	"github.com/Sternrassler/issue-harvester/pkg/pagination"
	"github.com/Sternrassler/issue-harvester/pkg/ratelimit"
	"github.com/Sternrassler/issue-harvester/pkg/telemetry"
)

// testModeLimit caps every collection in --test mode.
const testModeLimit = 100

type runOptions struct {
	*rootOptions
	limit    int
	testMode bool
	workers  int
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [collection...]",
		Short: "Harvest collections, resuming from their checkpoints",
		Long: `Harvest the named collections, or run.collections from the config when
none are given. Each collection resumes at its checkpoint and stops once the
remote reports no further pages or the item limit is reached.

Example:
  harvester run --config harvester.yaml
  harvester run --test SPARK KAFKA
  harvester run --limit 500 --workers 4 SPARK KAFKA HADOOP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return commandError("failed to load configuration", err)
			}

			if opts.limit < 0 {
				return commandError(fmt.Sprintf("invalid --limit %d", opts.limit), nil)
			}
			if opts.testMode {
				opts.limit = testModeLimit
			}
			if opts.limit > 0 {
				cfg.Run.MaxItems = opts.limit
			}
			if opts.workers > 0 {
				cfg.Run.Workers = opts.workers
			}
			if err := cfg.Validate(); err != nil {
				return commandError("invalid configuration", err)
			}

			collections := args
			if len(collections) == 0 {
				collections = cfg.Run.Collections
			}
			if len(collections) == 0 {
				return commandError("no collections given and run.collections is empty", nil)
			}

			return runHarvest(cmd.Context(), cfg, collections, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum items per collection (0 = no limit)")
	cmd.Flags().BoolVar(&opts.testMode, "test", false, fmt.Sprintf("test mode: limit every collection to %d items", testModeLimit))
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "collections harvested concurrently (default from config)")

	return cmd
}

func runHarvest(ctx context.Context, cfg *config.Config, collections []string, out io.Writer) error {
	logging.Setup(cfg.LoggerConfig())
	logger := logging.NewLogger("harvester")

	shutdownTracing, err := telemetry.Init(ctx, cfg.TelemetryConfig())
	if err != nil {
		return commandError("failed to initialise tracing", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	if cfg.Metrics.Listen != "" {
		srv, err := metrics.Start(cfg.Metrics.Listen)
		if err != nil {
			return commandError("failed to start metrics server", err)
		}
		logger.Info().Str("addr", srv.Addr()).Msg("Serving metrics")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	stores, err := openBackends(ctx, cfg.Storage)
	if err != nil {
		return commandError("failed to open storage", err)
	}
	defer stores.Close()

	var clientOpts []client.Option
	if cfg.API.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, client.WithRateLimiter(ratelimit.NewRateLimiter(cfg.API.RequestsPerSecond, 1)))
	}
	fetcher, err := client.New(cfg.ClientConfig(), clientOpts...)
	if err != nil {
		return commandError("failed to create fetch client", err)
	}

	controller := pagination.NewController(fetcher, stores.checkpoints, stores.pages, cfg.ControllerConfig())
	orchestrator := pagination.NewOrchestrator(controller, cfg.Run.Workers)

	logger.Info().
		Strs("collections", collections).
		Int("workers", cfg.Run.Workers).
		Int("max_items", cfg.Run.MaxItems).
		Str("checkpoint_backend", cfg.Storage.CheckpointBackend).
		Str("page_backend", cfg.Storage.PageBackend).
		Msg("Starting harvest")

	summaries, runErr := orchestrator.Run(ctx, pagination.NewJobs(collections, cfg.API.FilterTemplate))
	if errors.Is(runErr, pagination.ErrDuplicateCollection) {
		return commandError("invalid collection list", runErr)
	}

	printSummaries(out, summaries)

	if runErr != nil {
		return &ExitError{Code: ExitFailure, Message: "harvest incomplete", Err: runErr}
	}
	return nil
}

func printSummaries(out io.Writer, summaries []pagination.RunSummary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tOUTCOME\tPAGES\tREUSED\tITEMS\tGAPS\tNEXT OFFSET\tDETAIL")
	for _, s := range summaries {
		detail := "-"
		if s.Failed() {
			detail = fmt.Sprintf("%s after offset %d", s.FailureKind, s.LastCommittedOffset)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Collection, s.Outcome, s.PagesFetched, s.PagesReused, s.ItemsFetched,
			len(s.Gaps), s.NextOffset, detail)
	}
	tw.Flush()
}
