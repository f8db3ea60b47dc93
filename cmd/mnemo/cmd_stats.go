package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store, cache, and embedding statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = st.Close() }()

			stats, err := svc.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return fmt.Errorf("stats: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			s := stats.Store
			fmt.Printf("Memories: %d live, %d soft-deleted, %d pinned\n\n", s.LiveMemories, s.SoftDeleted, s.Pinned)

			fmt.Println("By type:")
			for t, c := range s.ByType {
				fmt.Printf("  %-12s %d\n", t, c)
			}

			fmt.Println("\nBy scope:")
			for sc, c := range s.ByScope {
				fmt.Printf("  %-12s %d\n", sc, c)
			}

			fmt.Printf("\nEmbeddings: %d (%d stale), model %s, dim %d\n",
				s.Embeddings, s.StaleEmbeddings, stats.Embedder.Model, stats.Embedder.Dimension)
			fmt.Printf("Feedback events: %d, reviews tracked: %d\n", s.FeedbackEvents, s.ReviewsTracked)
			fmt.Printf("Store size: %.1f MB\n", float64(s.DBSizeBytes)/(1024*1024))
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
