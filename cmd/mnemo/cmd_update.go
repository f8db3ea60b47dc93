package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/tools"
)

func updateCmd() *cobra.Command {
	var (
		content    string
		memType    string
		importance float64
		tags       string
		source     string
		scope      string
	)

	cmd := &cobra.Command{
		Use:   "update [memory-id]",
		Short: "Update fields of an existing memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			svc, st, err := newService(logger)
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			defer func() { _ = st.Close() }()

			p := tools.UpdateParams{ID: args[0]}
			if cmd.Flags().Changed("content") {
				p.Content = &content
			}
			if cmd.Flags().Changed("type") {
				p.Type = &memType
			}
			if cmd.Flags().Changed("importance") {
				p.Importance = &importance
			}
			if cmd.Flags().Changed("source") {
				p.Source = &source
			}
			if cmd.Flags().Changed("scope") {
				p.PrivacyScope = &scope
			}
			if cmd.Flags().Changed("tags") {
				p.TagsSet = true
				if tags != "" {
					for _, t := range strings.Split(tags, ",") {
						p.Tags = append(p.Tags, strings.TrimSpace(t))
					}
				}
			}

			mem, err := svc.Update(ctx, p)
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}

			fmt.Printf("Updated memory %s [%s] importance=%.2f\n", mem.ID, mem.Type, mem.Importance)
			return nil
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "replacement content")
	cmd.Flags().StringVar(&memType, "type", "", "new memory type")
	cmd.Flags().Float64Var(&importance, "importance", 0, "new importance in [0,1]")
	cmd.Flags().StringVar(&tags, "tags", "", "replacement comma-separated tags (empty clears)")
	cmd.Flags().StringVar(&source, "source", "", "new source")
	cmd.Flags().StringVar(&scope, "scope", "", "new privacy scope")
	return cmd
}
