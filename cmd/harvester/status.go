package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/issue-harvester/internal/config"
)

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the checkpoint of every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return commandError("failed to load configuration", err)
			}

			ctx := cmd.Context()
			stores, err := openBackends(ctx, cfg.Storage)
			if err != nil {
				return commandError("failed to open storage", err)
			}
			defer stores.Close()

			cps, err := stores.checkpoints.List(ctx)
			if err != nil {
				return fmt.Errorf("list checkpoints: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(cps) == 0 {
				fmt.Fprintln(out, "No checkpoints.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COLLECTION\tLAST PAGE\tLAST OFFSET\tNEXT OFFSET\tPAGES\tGAPS\tUPDATED")
			for _, cp := range cps {
				pages, err := stores.pages.List(ctx, cp.Collection)
				if err != nil {
					return fmt.Errorf("list pages of %s: %w", cp.Collection, err)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					cp.Collection, cp.LastPage, cp.LastOffset, cp.NextOffset(), len(pages),
					formatGaps(cp.Gaps), cp.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <collection>",
		Short: "Delete a collection's checkpoint",
		Long: `Delete the checkpoint of a collection so the next run starts at offset 0.
Archived pages are kept; the next run reads them back instead of fetching
them again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return commandError("failed to load configuration", err)
			}

			ctx := cmd.Context()
			stores, err := openBackends(ctx, cfg.Storage)
			if err != nil {
				return commandError("failed to open storage", err)
			}
			defer stores.Close()

			if err := stores.checkpoints.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("delete checkpoint of %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint of %s removed.\n", args[0])
			return nil
		},
	}
}

func formatGaps(gaps []int) string {
	if len(gaps) == 0 {
		return "-"
	}
	parts := make([]string, len(gaps))
	for i, g := range gaps {
		parts[i] = fmt.Sprint(g)
	}
	return strings.Join(parts, ",")
}
