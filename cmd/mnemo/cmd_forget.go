package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/tools"
)

func forgetCmd() *cobra.Command {
	var hard bool

	cmd := &cobra.Command{
		Use:   "forget [memory-id]",
		Short: "Delete a memory (soft by default, --hard to purge)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			defer func() { _ = st.Close() }()

			res, err := svc.Forget(ctx, tools.ForgetParams{ID: args[0], Hard: hard})
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}

			fmt.Printf("Memory %s %s\n", res.MemoryID, res.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&hard, "hard", false, "remove the row and its index entries permanently")
	return cmd
}
