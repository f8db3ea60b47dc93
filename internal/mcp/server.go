// Package mcp exposes the memory tools over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/tools"
)

const serverVersion = "1.0.0"

// Server wraps an MCPServer around the tool service.
type Server struct {
	mcp    *mcpserver.MCPServer
	svc    *tools.Service
	logger *slog.Logger
}

// NewServer creates the MCP server and registers every tool.
func NewServer(svc *tools.Service, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"mnemo",
		serverVersion,
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildRememberTool(), s.handleRemember)
	mcpSrv.AddTool(buildRecallTool(), s.handleRecall)
	mcpSrv.AddTool(buildPinTool(), s.handlePin)
	mcpSrv.AddTool(buildUnpinTool(), s.handleUnpin)
	mcpSrv.AddTool(buildForgetTool(), s.handleForget)
	mcpSrv.AddTool(buildFeedbackTool(), s.handleFeedback)
	mcpSrv.AddTool(buildStatsTool(), s.handleStats)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleRemember is the exported handler for the "remember" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleRemember(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRemember(ctx, req)
}

// HandleRecall is the exported handler for the "recall" tool.
func (s *Server) HandleRecall(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRecall(ctx, req)
}

// HandlePin is the exported handler for the "pin" tool.
func (s *Server) HandlePin(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handlePin(ctx, req)
}

// HandleUnpin is the exported handler for the "unpin" tool.
func (s *Server) HandleUnpin(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleUnpin(ctx, req)
}

// HandleForget is the exported handler for the "forget" tool.
func (s *Server) HandleForget(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleForget(ctx, req)
}

// HandleFeedback is the exported handler for the "feedback" tool.
func (s *Server) HandleFeedback(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleFeedback(ctx, req)
}

// HandleStats is the exported handler for the "stats" tool.
func (s *Server) HandleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStats(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// toolError converts a service error into a tool error result. Tool-level
// failures ride inside the result so the protocol call itself succeeds.
func toolError(err error) *mcpgo.CallToolResult {
	return mcpgo.NewToolResultError(memerr.UserMessage(err))
}

// floatArg returns the float argument under key and whether it was present.
func floatArg(req mcpgo.CallToolRequest, key string) (float64, bool) {
	if _, ok := req.GetArguments()[key]; !ok {
		return 0, false
	}
	return req.GetFloat(key, 0), true
}

// --- tool definitions ---

func buildRememberTool() mcpgo.Tool {
	return mcpgo.NewTool("remember",
		mcpgo.WithDescription("Store a memory in mnemo. Recallable by text immediately and by vector once its embedding is generated."),
		mcpgo.WithString("content",
			mcpgo.Required(),
			mcpgo.Description("The text content to remember, up to 1000 characters"),
		),
		mcpgo.WithString("type",
			mcpgo.Description("Memory type: working, episodic, semantic, or procedural (default: semantic)"),
		),
		mcpgo.WithArray("tags",
			mcpgo.Description("Tags used for filtering and relevance"),
			mcpgo.Items(map[string]any{"type": "string"}),
		),
		mcpgo.WithNumber("importance",
			mcpgo.Description("Importance score 0.0-1.0 (default depends on type)"),
		),
		mcpgo.WithString("source",
			mcpgo.Description("Where the memory came from"),
		),
		mcpgo.WithString("privacy_scope",
			mcpgo.Description("Visibility tag: private, team, or public (default: private)"),
		),
	)
}

func buildRecallTool() mcpgo.Tool {
	return mcpgo.NewTool("recall",
		mcpgo.WithDescription("Retrieve memories ranked by hybrid text+vector relevance, recency, importance, and usage."),
		mcpgo.WithString("query",
			mcpgo.Required(),
			mcpgo.Description("The query to recall memories for; empty returns recent memories"),
		),
		mcpgo.WithObject("filters",
			mcpgo.Description("Restrict results by id, type, tags, privacy_scope, time_from, time_to, or pinned"),
			mcpgo.Properties(map[string]any{
				"id":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"type":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"tags":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"privacy_scope": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"time_from":     map[string]any{"type": "string"},
				"time_to":       map[string]any{"type": "string"},
				"pinned":        map[string]any{"type": "boolean"},
			}),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of results, 1-100 (default: 10)"),
		),
		mcpgo.WithNumber("vector_weight",
			mcpgo.Description("Override the vector leg weight for this call"),
		),
		mcpgo.WithNumber("text_weight",
			mcpgo.Description("Override the text leg weight for this call"),
		),
		mcpgo.WithBoolean("enable_hybrid",
			mcpgo.Description("false forces text-only search (default: true)"),
		),
		mcpgo.WithBoolean("include_metadata",
			mcpgo.Description("false trims score breakdowns from items (default: true)"),
		),
	)
}

func buildPinTool() mcpgo.Tool {
	return mcpgo.NewTool("pin",
		mcpgo.WithDescription("Pin memories so they are protected from hard delete and down-weighted by the forgetting sweep."),
		mcpgo.WithString("id",
			mcpgo.Description("A single memory ID to pin"),
		),
		mcpgo.WithArray("batch",
			mcpgo.Description("Multiple memory IDs to pin"),
			mcpgo.Items(map[string]any{"type": "string"}),
		),
		mcpgo.WithString("reason",
			mcpgo.Description("Why these memories are pinned"),
		),
	)
}

func buildUnpinTool() mcpgo.Tool {
	return mcpgo.NewTool("unpin",
		mcpgo.WithDescription("Unpin memories. Unpinning a memory with importance above 0.8 requires confirm=true."),
		mcpgo.WithString("id",
			mcpgo.Description("A single memory ID to unpin"),
		),
		mcpgo.WithArray("batch",
			mcpgo.Description("Multiple memory IDs to unpin"),
			mcpgo.Items(map[string]any{"type": "string"}),
		),
		mcpgo.WithString("reason",
			mcpgo.Description("Why these memories are unpinned"),
		),
		mcpgo.WithBoolean("confirm",
			mcpgo.Description("Required when unpinning a high-importance memory"),
		),
	)
}

func buildForgetTool() mcpgo.Tool {
	return mcpgo.NewTool("forget",
		mcpgo.WithDescription("Soft-delete a memory, or purge it and all dependent data with hard=true. Pinned memories must be unpinned first."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The ID of the memory to forget"),
		),
		mcpgo.WithBoolean("hard",
			mcpgo.Description("true removes the row, its embedding, feedback, and review schedule"),
		),
	)
}

func buildFeedbackTool() mcpgo.Tool {
	return mcpgo.NewTool("feedback",
		mcpgo.WithDescription("Record whether a recalled memory was helpful. Helpful feedback also counts as a citation."),
		mcpgo.WithString("memory_id",
			mcpgo.Required(),
			mcpgo.Description("The ID of the memory the feedback is about"),
		),
		mcpgo.WithBoolean("helpful",
			mcpgo.Required(),
			mcpgo.Description("Whether the memory helped"),
		),
		mcpgo.WithNumber("score",
			mcpgo.Description("Optional strength of the signal, 0.0-1.0"),
		),
	)
}

func buildStatsTool() mcpgo.Tool {
	return mcpgo.NewTool("stats",
		mcpgo.WithDescription("Get store, cache, queue, and tool-call statistics."),
	)
}

// --- tool handlers ---

// handleRemember stores a new memory.
func (s *Server) handleRemember(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	p := tools.RememberParams{
		Content:      req.GetString("content", ""),
		Type:         req.GetString("type", ""),
		Tags:         req.GetStringSlice("tags", nil),
		Source:       req.GetString("source", ""),
		PrivacyScope: req.GetString("privacy_scope", ""),
	}
	if imp, ok := floatArg(req, "importance"); ok {
		p.Importance = &imp
	}

	result, err := s.svc.Remember(ctx, p)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(result)
}

// handleRecall runs the hybrid retrieval pipeline. Arguments are bound as
// one document because of the nested filter object.
func (s *Server) handleRecall(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	var p tools.RecallParams
	if err := req.BindArguments(&p); err != nil {
		return mcpgo.NewToolResultErrorf("invalid arguments: %s", err.Error()), nil
	}

	resp, err := s.svc.Recall(ctx, p)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(resp)
}

// handlePin pins one memory or a batch.
func (s *Server) handlePin(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	resp, err := s.svc.Pin(ctx, pinParams(req))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(resp)
}

// handleUnpin unpins one memory or a batch.
func (s *Server) handleUnpin(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	resp, err := s.svc.Unpin(ctx, pinParams(req))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(resp)
}

func pinParams(req mcpgo.CallToolRequest) tools.PinParams {
	return tools.PinParams{
		ID:      req.GetString("id", ""),
		Batch:   tools.StringList(req.GetStringSlice("batch", nil)),
		Reason:  req.GetString("reason", ""),
		Confirm: req.GetBool("confirm", false),
	}
}

// handleForget soft- or hard-deletes a memory.
func (s *Server) handleForget(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	p := tools.ForgetParams{
		ID:   req.GetString("id", ""),
		Hard: req.GetBool("hard", false),
	}
	resp, err := s.svc.Forget(ctx, p)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(resp)
}

// handleFeedback records a quality signal for a memory.
func (s *Server) handleFeedback(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if _, ok := req.GetArguments()["helpful"]; !ok {
		return mcpgo.NewToolResultError("helpful is required"), nil
	}
	p := tools.FeedbackParams{
		MemoryID: req.GetString("memory_id", ""),
		Helpful:  req.GetBool("helpful", false),
	}
	if score, ok := floatArg(req, "score"); ok {
		p.Score = &score
	}

	resp, err := s.svc.Feedback(ctx, p)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(resp)
}

// handleStats returns service statistics.
func (s *Server) handleStats(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	resp, err := s.svc.Stats(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(resp)
}
