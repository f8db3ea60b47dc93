package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/backup"
)

func exportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the embedding index as a JSON backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("export: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			w := os.Stdout
			if output != "" && output != "-" {
				w, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("export: creating output file: %w", err)
				}
				defer func() { _ = w.Close() }()
			}

			doc, err := backup.Export(ctx, st, w)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d embeddings to %s\n", doc.TotalEmbeddings, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file path (- for stdout)")
	return cmd
}
