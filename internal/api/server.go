// Package api exposes the memory tools over HTTP: POST /tools/<name> for
// every tool, plus health, catalog, and metrics endpoints and the
// WebSocket mount.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/tools"
)

// maxBodyBytes bounds tool request bodies. Content tops out at a thousand
// characters, so a megabyte is generous.
const maxBodyBytes = 1 << 20

// Server is the HTTP API server.
type Server struct {
	svc      *tools.Service
	registry map[string]tools.Handler
	catalog  []tools.ToolSpec
	limiter  *clientLimiter
	ws       http.Handler
	version  string
	logger   *slog.Logger
}

// NewServer creates a new Server. ws is mounted at /ws when non-nil.
func NewServer(svc *tools.Service, version string, cfg config.ServerConfig, ws http.Handler, logger *slog.Logger) *Server {
	return &Server{
		svc:      svc,
		registry: svc.Registry(),
		catalog:  tools.Catalog(),
		limiter:  newClientLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst),
		ws:       ws,
		version:  version,
		logger:   logger,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tools", s.handleCatalog)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /tools/{name}", s.rateLimit(s.handleTool))
	mux.HandleFunc("POST /alerts/{metric}/resolve", s.handleResolveAlert)

	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	return mux
}

// --- handlers ---

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Store         string `json:"store"`
	TextSearch    bool   `json:"text_search"`
	VectorSearch  bool   `json:"vector_search"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(s.svc.Uptime().Seconds()),
		Store:         "ok",
		TextSearch:    true,
		VectorSearch:  s.svc.VectorSearchAvailable(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	if err := s.svc.Store().Ping(ctx); err != nil {
		s.logger.Warn("health: store ping failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "unreachable"
		resp.TextSearch = false
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": s.catalog})
}

// handleTool dispatches POST /tools/{name} through the shared registry.
// Responses carry either a result or an error, never both.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	handler, ok := s.registry[name]
	if !ok {
		s.writeToolError(w, memerr.Ef("api", memerr.ErrNotFound, "unknown tool %q", name))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeToolError(w, memerr.E("api", memerr.ErrInvalid, "reading request body failed"))
		return
	}

	result, err := handler(r.Context(), body)
	if err != nil {
		if memerr.CodeOf(err) == memerr.CodeInternal {
			s.logger.Error("tool call failed", "tool", name, "error", err)
		}
		s.writeToolError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// alertResolveRequest is the optional body of POST /alerts/{metric}/resolve.
type alertResolveRequest struct {
	By string `json:"by"`
}

// handleResolveAlert manually clears an active alert, attributing the
// resolution to the caller-supplied name or, failing that, the client IP.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeToolError(w, memerr.E("api", memerr.ErrInvalid, "reading request body failed"))
		return
	}

	var req alertResolveRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeToolError(w, memerr.E("api", memerr.ErrInvalid, "malformed request body"))
			return
		}
	}
	if req.By == "" {
		req.By = clientIP(r)
	}

	metric := r.PathValue("metric")
	if err := s.svc.ResolveAlert(metric, req.By); err != nil {
		s.writeToolError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"result": map[string]any{"metric": metric, "resolved": true, "by": req.By},
	})
}

// --- helpers ---

// errorBody is the error half of the tool response envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeToolError maps err onto its HTTP status and the error envelope.
func (s *Server) writeToolError(w http.ResponseWriter, err error) {
	s.writeJSON(w, memerr.HTTPStatus(err), map[string]any{
		"error": errorBody{
			Code:    string(memerr.CodeOf(err)),
			Message: memerr.UserMessage(err),
		},
	})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
