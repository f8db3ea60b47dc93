package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/tools"
)

func rememberCmd() *cobra.Command {
	var (
		memType    string
		tags       string
		importance float64
		source     string
		scope      string
	)

	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a new memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("remember: %w", err)
			}
			defer func() { _ = st.Close() }()

			p := tools.RememberParams{
				Content:      args[0],
				Type:         memType,
				Source:       source,
				PrivacyScope: scope,
			}
			if tags != "" {
				for _, t := range strings.Split(tags, ",") {
					p.Tags = append(p.Tags, strings.TrimSpace(t))
				}
			}
			if cmd.Flags().Changed("importance") {
				p.Importance = &importance
			}

			res, err := svc.Remember(ctx, p)
			if err != nil {
				return fmt.Errorf("remember: %w", err)
			}

			fmt.Printf("Stored memory %s [%s] importance=%.2f\n", res.MemoryID, res.Type, res.Importance)
			return nil
		},
	}

	cmd.Flags().StringVar(&memType, "type", "", "memory type (working|episodic|semantic|procedural)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	cmd.Flags().Float64Var(&importance, "importance", 0, "importance in [0,1] (default depends on type)")
	cmd.Flags().StringVar(&source, "source", "", "where the memory came from")
	cmd.Flags().StringVar(&scope, "scope", "", "privacy scope (private|team|public)")
	return cmd
}
