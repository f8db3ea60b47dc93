package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/backup"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [backup-file]",
		Short: "Restore embeddings from a JSON backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("import: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			r := os.Stdin
			if args[0] != "-" {
				r, err = os.Open(args[0])
				if err != nil {
					return fmt.Errorf("import: opening backup file: %w", err)
				}
				defer func() { _ = r.Close() }()
			}

			report, err := backup.Import(ctx, st, r, logger)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			fmt.Printf("Restored %d of %d embeddings (%d missing memories, %d invalid records)\n",
				report.Restored, report.Total, report.Missing, report.Invalid)
			return nil
		},
	}

	return cmd
}
