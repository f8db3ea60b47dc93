package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/tools"
)

func feedbackCmd() *cobra.Command {
	var (
		notHelpful bool
		score      float64
	)

	cmd := &cobra.Command{
		Use:   "feedback [memory-id]",
		Short: "Record whether a recalled memory was helpful",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("feedback: %w", err)
			}
			defer func() { _ = st.Close() }()

			p := tools.FeedbackParams{MemoryID: args[0], Helpful: !notHelpful}
			if cmd.Flags().Changed("score") {
				p.Score = &score
			}

			res, err := svc.Feedback(ctx, p)
			if err != nil {
				return fmt.Errorf("feedback: %w", err)
			}

			fmt.Printf("Recorded %s for %s\n", strings.Join(res.Recorded, "+"), res.MemoryID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&notHelpful, "not-helpful", false, "mark the memory as unhelpful")
	cmd.Flags().Float64Var(&score, "score", 0, "optional strength in [0,1]")
	return cmd
}
