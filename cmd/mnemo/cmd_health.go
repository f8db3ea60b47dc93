package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the store and embedding provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			st, err := newStore(logger)
			if err != nil {
				fmt.Printf("Store: FAIL (%v)\n", err)
				allOK = false
			} else {
				defer func() { _ = st.Close() }()
				if err := st.Ping(ctx); err != nil {
					fmt.Printf("Store: FAIL (%v)\n", err)
					allOK = false
				} else {
					fmt.Println("Store: OK")
				}
			}

			emb, err := newEmbedder(logger)
			switch {
			case err != nil:
				fmt.Printf("Embedder: FAIL (%v)\n", err)
				allOK = false
			case !emb.Available():
				fmt.Println("Embedder: unavailable (recall is text-only)")
			default:
				if _, embedErr := emb.Embed(ctx, "health check"); embedErr != nil {
					fmt.Printf("Embedder: FAIL (%v)\n", embedErr)
					allOK = false
				} else {
					fmt.Printf("Embedder: OK (%s, dim %d)\n", emb.Model(), emb.Dimension())
				}
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}
