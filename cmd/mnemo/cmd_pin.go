package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/tools"
)

func pinCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pin [memory-id...]",
		Short: "Pin memories so forgetting sweeps never remove them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("pin: %w", err)
			}
			defer func() { _ = st.Close() }()

			res, err := svc.Pin(ctx, tools.PinParams{Batch: args, Reason: reason})
			if err != nil {
				return fmt.Errorf("pin: %w", err)
			}
			printPinOutcomes(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why these memories are pinned")
	return cmd
}

func unpinCmd() *cobra.Command {
	var (
		reason  string
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "unpin [memory-id...]",
		Short: "Unpin memories (high-importance ones need --confirm)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("unpin: %w", err)
			}
			defer func() { _ = st.Close() }()

			res, err := svc.Unpin(ctx, tools.PinParams{Batch: args, Reason: reason, Confirm: confirm})
			if err != nil {
				return fmt.Errorf("unpin: %w", err)
			}
			printPinOutcomes(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why these memories are unpinned")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm unpinning high-importance memories")
	return cmd
}

func printPinOutcomes(res *tools.PinResponse) {
	for _, r := range res.Results {
		if r.Success {
			fmt.Printf("%s: ok\n", r.ID)
		} else {
			fmt.Printf("%s: FAILED (%s)\n", r.ID, r.Error)
		}
	}
	fmt.Printf("%d of %d succeeded\n", res.Succeeded, res.Requested)
}
