package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mnemo-ai/mnemo/internal/alerts"
	"github.com/mnemo-ai/mnemo/internal/forget"
	mnemomcp "github.com/mnemo-ai/mnemo/internal/mcp"
	"github.com/mnemo-ai/mnemo/internal/sweep"
	"github.com/mnemo-ai/mnemo/internal/taskqueue"
	"github.com/mnemo-ai/mnemo/internal/tools"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  remember  — store a memory
  recall    — hybrid text/vector search with ranked results
  pin       — protect memories from forgetting
  unpin     — release that protection
  forget    — soft- or hard-delete a memory
  feedback  — record whether a recalled memory helped
  stats     — store, cache, and queue statistics

Background forgetting sweeps, review scheduling, and alert checks run
while the server is up. If the embedding provider is unavailable,
recall degrades to text-only search instead of failing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("mcp: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			emb, err := newEmbedder(logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}

			queries := newQueryCache()
			pipeline := newPipeline(st, emb, queries, logger)

			queue := taskqueue.New(taskqueue.Config{
				Workers:        cfg.Queue.Workers,
				Depth:          cfg.Queue.Depth,
				DefaultTimeout: cfg.Queue.DefaultTimeout,
				MaxRetries:     cfg.Queue.MaxRetries,
			}, logger)
			queue.Start(ctx)
			defer queue.Stop(cfg.Queue.DrainTimeout)

			monitor := alerts.NewMonitor(cfg.Alerts, logger)
			svc := tools.New(st, emb, pipeline, queries, queue, monitor, cfg, logger)

			engine := forget.NewEngine(st, cfg.Forget, logger)
			review := forget.NewScheduler(st, cfg.Review, logger)
			sweeper, err := sweep.New(st, queue, engine, review, monitor, queries, cfg.Sweep, logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			sweeper.Start()
			defer sweeper.Stop()

			srv := mnemomcp.NewServer(svc, logger)

			// A standard log.Logger on stderr for the mcp-go error path.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
