package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/models"
	"github.com/mnemo-ai/mnemo/internal/store"
)

func listCmd() *cobra.Command {
	var (
		memType string
		scope   string
		tag     string
		pinned  bool
		deleted bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("list: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			f := store.Filters{Limit: limit, IncludeDeleted: deleted}
			if memType != "" {
				f.Types = []models.MemoryType{models.MemoryType(memType)}
			}
			if scope != "" {
				f.Scopes = []models.PrivacyScope{models.PrivacyScope(scope)}
			}
			if tag != "" {
				f.Tags = []string{tag}
			}
			if pinned {
				p := true
				f.Pinned = &p
			}

			memories, err := st.ListMemories(ctx, f)
			if err != nil {
				return fmt.Errorf("list: fetching memories: %w", err)
			}

			for i, m := range memories {
				marker := ""
				if m.Pinned {
					marker = " *"
				}
				fmt.Printf("[%d] [%s/%s]%s %s\n", i+1, m.Type, m.PrivacyScope, marker, truncate(m.Content, 100))
				fmt.Printf("    ID: %s | Importance: %.2f | Views: %d | Created: %s\n",
					m.ID, m.Importance, m.ViewCount, m.CreatedAt.Format("2006-01-02"))
			}

			if len(memories) == 0 {
				fmt.Println("No memories found.")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&memType, "type", "", "filter by type")
	cmd.Flags().StringVar(&scope, "scope", "", "filter by privacy scope")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "only pinned memories")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include soft-deleted memories")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}
