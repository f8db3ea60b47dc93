package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/tools"
	"github.com/mnemo-ai/mnemo/pkg/tokenizer"
)

func recallCmd() *cobra.Command {
	var (
		limit      int
		memTypes   []string
		tags       []string
		scopes     []string
		pinnedOnly bool
		noVector   bool
		budget     int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall relevant memories with hybrid ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}
			defer func() { _ = st.Close() }()

			p := tools.RecallParams{
				Query: args[0],
				Limit: limit,
			}
			if len(memTypes) > 0 || len(tags) > 0 || len(scopes) > 0 || pinnedOnly {
				p.Filters = &tools.RecallFilters{
					Type:         memTypes,
					Tags:         tags,
					PrivacyScope: scopes,
				}
				if pinnedOnly {
					pinned := true
					p.Filters.Pinned = &pinned
				}
			}
			if noVector {
				hybrid := false
				p.EnableHybrid = &hybrid
			}

			res, err := svc.Recall(ctx, p)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("recall: marshaling JSON output: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			if len(res.Items) == 0 {
				fmt.Println("No memories found.")
				return nil
			}

			// Render within the token budget so output can be pasted into
			// an agent prompt directly.
			lines := make([]string, len(res.Items))
			for i, item := range res.Items {
				var b strings.Builder
				fmt.Fprintf(&b, "[%.3f] %s (%s", item.Score, item.ID, item.Type)
				if item.Pinned {
					b.WriteString(", pinned")
				}
				fmt.Fprintf(&b, ") — %s\n%s", item.RecallReason, item.Content)
				lines[i] = b.String()
			}
			output, count := tokenizer.FormatWithBudget(lines, budget)

			fmt.Printf("Recalled %d of %d memories (%s search, %s, budget: %d tokens):\n\n",
				count, res.TotalCount, res.SearchType, res.QueryTime, budget)
			fmt.Println(output)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max results (default from config)")
	cmd.Flags().StringSliceVar(&memTypes, "type", nil, "filter by memory type")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "filter by tag")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "filter by privacy scope")
	cmd.Flags().BoolVar(&pinnedOnly, "pinned", false, "only pinned memories")
	cmd.Flags().BoolVar(&noVector, "no-vector", false, "text search only, skip the embedding leg")
	cmd.Flags().IntVar(&budget, "budget", 2000, "token budget for text output")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the full response as JSON")
	return cmd
}
