package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "get [memory-id]",
		Short: "Retrieve a single memory by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("get: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			mem, err := st.GetMemory(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}

			if outputJSON {
				out, err := json.MarshalIndent(mem, "", "  ")
				if err != nil {
					return fmt.Errorf("get: marshaling JSON: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("ID:         %s\n", mem.ID)
			fmt.Printf("Type:       %s\n", mem.Type)
			fmt.Printf("Scope:      %s\n", mem.PrivacyScope)
			fmt.Printf("Importance: %.2f\n", mem.Importance)
			fmt.Printf("Pinned:     %t\n", mem.Pinned)
			fmt.Printf("Tags:       %s\n", strings.Join(mem.Tags, ", "))
			fmt.Printf("Source:     %s\n", mem.Source)
			fmt.Printf("Created:    %s\n", mem.CreatedAt.Format("2006-01-02 15:04:05"))
			if mem.LastAccessed != nil {
				fmt.Printf("Accessed:   %s\n", mem.LastAccessed.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Usage:      %d views, %d cites, %d edits\n", mem.ViewCount, mem.CiteCount, mem.EditCount)
			if !mem.Live() {
				fmt.Println("Status:     soft-deleted")
			}
			fmt.Printf("\nContent:\n%s\n", mem.Content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
