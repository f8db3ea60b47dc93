package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/backup"
)

func regenerateCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Re-embed memories after an embedding provider change",
		Long: `Marks every embedding produced by a different model as stale, then
re-embeds stale and missing entries in batches with the configured
provider. Run this after switching providers so vector search compares
vectors from a single embedding space.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("regenerate: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			emb, err := newEmbedder(logger)
			if err != nil {
				return fmt.Errorf("regenerate: %w", err)
			}

			report, err := backup.Regenerate(ctx, st, emb, batchSize, logger)
			if err != nil {
				return fmt.Errorf("regenerate: %w", err)
			}

			fmt.Printf("Marked %d stale, re-embedded %d, %d failed\n",
				report.MarkedStale, report.Embedded, report.Failed)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch", 32, "memories per embedding batch")
	return cmd
}
