// Package ws serves tool calls over WebSocket as JSON-RPC 2.0. Each
// connection is handled sequentially: one request, one response, in
// order. Agents that want concurrency open more connections.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mnemo-ai/mnemo/internal/memerr"
	"github.com/mnemo-ai/mnemo/internal/tools"
)

const (
	// maxFrameBytes bounds one inbound frame.
	maxFrameBytes = 1 << 20

	// callTimeout bounds one tool call so a stalled store cannot wedge the
	// connection loop forever.
	callTimeout = 30 * time.Second
)

// JSON-RPC error codes. The -32602/-32603 pair follows the JSON-RPC 2.0
// reserved range; taxonomy categories map into the server-defined range.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeNotFound       = -32001
	codeConflict       = -32002
	codeBusy           = -32003
	codeUnavailable    = -32004
)

// Handler upgrades HTTP requests and serves tool calls on the socket.
type Handler struct {
	registry map[string]tools.Handler
	logger   *slog.Logger
}

// NewHandler creates the WebSocket tool endpoint.
func NewHandler(svc *tools.Service, logger *slog.Logger) *Handler {
	return &Handler{
		registry: svc.Registry(),
		logger:   logger,
	}
}

// request is one JSON-RPC 2.0 call frame. A nil id marks a notification,
// which is executed without a response.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is one JSON-RPC 2.0 result frame.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin checks only affect browsers; agent clients send no Origin
		// header and always pass.
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	h.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	h.serve(r.Context(), conn)
	h.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// serve runs the read-dispatch-write loop until the connection drops.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	for {
		var req request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}

		resp := h.dispatch(ctx, &req)
		if resp == nil {
			continue // notification
		}
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			return
		}
	}
}

// dispatch executes one call. Returns nil for notifications.
func (h *Handler) dispatch(ctx context.Context, req *request) *response {
	handler, ok := h.registry[req.Method]
	if !ok {
		if req.ID == nil {
			return nil
		}
		return &response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: codeMethodNotFound, Message: "unknown tool " + req.Method},
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	result, err := handler(callCtx, req.Params)
	cancel()

	if req.ID == nil {
		return nil
	}
	resp := &response{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		if memerr.CodeOf(err) == memerr.CodeInternal {
			h.logger.Error("websocket tool call failed", "method", req.Method, "error", err)
		}
		resp.Error = &rpcError{
			Code:    rpcCode(err),
			Message: memerr.UserMessage(err),
			Data:    string(memerr.CodeOf(err)),
		}
		return resp
	}
	resp.Result = result
	return resp
}

// rpcCode maps the error taxonomy onto JSON-RPC codes.
func rpcCode(err error) int {
	switch memerr.CodeOf(err) {
	case memerr.CodeInvalid:
		return codeInvalidParams
	case memerr.CodeNotFound:
		return codeNotFound
	case memerr.CodeConflict:
		return codeConflict
	case memerr.CodeBusy:
		return codeBusy
	case memerr.CodeUnavailable:
		return codeUnavailable
	default:
		return codeInternal
	}
}
