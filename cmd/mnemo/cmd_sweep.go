package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/forget"
)

func sweepCmd() *cobra.Command {
	var (
		dryRun      bool
		skipReviews bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a forgetting sweep and review pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("sweep: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine := forget.NewEngine(st, cfg.Forget, logger)
			report, err := engine.Run(ctx, dryRun)
			if err != nil {
				return fmt.Errorf("sweep: forget pass: %w", err)
			}

			label := ""
			if report.DryRun {
				label = " (dry run)"
			}
			fmt.Printf("Forget sweep%s: %d evaluated, %d soft-deleted, %d hard-deleted, %d deferred, %d kept\n",
				label, report.Evaluated, report.SoftDeleted, report.HardDeleted, report.Deferred, report.Kept)

			if dryRun {
				for _, d := range report.Decisions {
					if d.Action == forget.ActionKeep {
						continue
					}
					fmt.Printf("  %s → %s (score %.3f: %s)\n",
						d.MemoryID, d.Action, d.Score, strings.Join(d.Reasons, ", "))
				}
			}

			if skipReviews || dryRun {
				return nil
			}

			review := forget.NewScheduler(st, cfg.Review, logger)
			rr, err := review.Run(ctx)
			if err != nil {
				return fmt.Errorf("sweep: review pass: %w", err)
			}
			fmt.Printf("Review pass: %d scanned, %d seeded, %d updated, %d due\n",
				rr.Scanned, rr.Seeded, rr.Updated, len(rr.Due))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report decisions without applying them")
	cmd.Flags().BoolVar(&skipReviews, "skip-reviews", false, "skip the review scheduling pass")
	return cmd
}
