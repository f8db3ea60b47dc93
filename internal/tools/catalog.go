package tools

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/mnemo-ai/mnemo/internal/memerr"
)

// Handler executes one tool call from raw JSON parameters. HTTP and
// WebSocket dispatch through handlers; MCP builds typed schemas of its own
// and calls the Service methods directly.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// decode unmarshals raw parameters, treating malformed JSON as invalid
// input. Empty parameters decode to the zero value.
func decode[T any](op string, raw json.RawMessage) (T, error) {
	var p T
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, memerr.Ef(op, memerr.ErrInvalid, "malformed parameters: %v", err)
	}
	return p, nil
}

// Registry returns the tool dispatch table.
func (s *Service) Registry() map[string]Handler {
	return map[string]Handler{
		"remember": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[RememberParams]("tools.Remember", raw)
			if err != nil {
				return nil, err
			}
			return s.Remember(ctx, p)
		},
		"recall": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[RecallParams]("tools.Recall", raw)
			if err != nil {
				return nil, err
			}
			return s.Recall(ctx, p)
		},
		"pin": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[PinParams]("tools.Pin", raw)
			if err != nil {
				return nil, err
			}
			return s.Pin(ctx, p)
		},
		"unpin": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[PinParams]("tools.Unpin", raw)
			if err != nil {
				return nil, err
			}
			return s.Unpin(ctx, p)
		},
		"forget": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[ForgetParams]("tools.Forget", raw)
			if err != nil {
				return nil, err
			}
			return s.Forget(ctx, p)
		},
		"feedback": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[FeedbackParams]("tools.Feedback", raw)
			if err != nil {
				return nil, err
			}
			return s.Feedback(ctx, p)
		},
		"stats": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.Stats(ctx)
		},
	}
}

// ToolSpec describes one tool for the catalog endpoint.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Catalog enumerates every tool with its input schema, in the order agents
// usually discover them.
func Catalog() []ToolSpec {
	memoryTypes := []string{"working", "episodic", "semantic", "procedural"}
	privacyScopes := []string{"private", "team", "public"}

	filterSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":            arraySchema("memory ids to restrict results to"),
			"type":          enumArraySchema("memory types to include", memoryTypes),
			"tags":          arraySchema("match memories carrying any of these tags"),
			"privacy_scope": enumArraySchema("privacy scopes to include", privacyScopes),
			"time_from":     map[string]any{"type": "string", "description": "ISO-8601 lower bound on created_at"},
			"time_to":       map[string]any{"type": "string", "description": "ISO-8601 upper bound on created_at"},
			"pinned":        map[string]any{"type": "boolean", "description": "restrict to pinned or unpinned memories"},
		},
	}

	return []ToolSpec{
		{
			Name:        "remember",
			Description: "Store a new memory. Returns its id; recallable by text immediately, by vector once embedded.",
			InputSchema: objectSchema(map[string]any{
				"content":       map[string]any{"type": "string", "description": "memory text, up to 1000 characters"},
				"type":          map[string]any{"type": "string", "enum": memoryTypes, "description": "memory type, default semantic"},
				"tags":          arraySchema("tags for filtering and relevance"),
				"importance":    map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": "importance in [0,1], default per type"},
				"source":        map[string]any{"type": "string", "description": "origin of the memory"},
				"privacy_scope": map[string]any{"type": "string", "enum": privacyScopes, "description": "visibility tag, default private"},
			}, "content"),
		},
		{
			Name:        "recall",
			Description: "Retrieve memories ranked by hybrid text+vector relevance, recency, importance, and usage.",
			InputSchema: objectSchema(map[string]any{
				"query":            map[string]any{"type": "string", "description": "search text, up to 1000 characters; empty returns recent memories"},
				"filters":          filterSchema,
				"limit":            map[string]any{"type": "integer", "minimum": 1, "maximum": MaxLimit, "description": "maximum results, default 10"},
				"vector_weight":    map[string]any{"type": "number", "minimum": 0, "description": "override vector leg weight"},
				"text_weight":      map[string]any{"type": "number", "minimum": 0, "description": "override text leg weight"},
				"enable_hybrid":    map[string]any{"type": "boolean", "description": "false forces text-only search"},
				"include_metadata": map[string]any{"type": "boolean", "description": "false trims score breakdowns from items"},
			}, "query"),
		},
		{
			Name:        "pin",
			Description: "Pin memories: protected from hard delete and down-weighted by the forgetting sweep.",
			InputSchema: objectSchema(map[string]any{
				"id":     map[string]any{"type": "string", "description": "single memory id"},
				"batch":  arraySchema("multiple memory ids"),
				"reason": map[string]any{"type": "string", "description": "why these memories are pinned"},
			}),
		},
		{
			Name:        "unpin",
			Description: "Unpin memories. Unpinning importance > 0.8 requires confirm=true.",
			InputSchema: objectSchema(map[string]any{
				"id":      map[string]any{"type": "string", "description": "single memory id"},
				"batch":   arraySchema("multiple memory ids"),
				"reason":  map[string]any{"type": "string", "description": "why these memories are unpinned"},
				"confirm": map[string]any{"type": "boolean", "description": "required for high-importance memories"},
			}),
		},
		{
			Name:        "forget",
			Description: "Soft-delete a memory, or purge it with hard=true. Pinned memories must be unpinned first.",
			InputSchema: objectSchema(map[string]any{
				"id":   map[string]any{"type": "string", "description": "memory id"},
				"hard": map[string]any{"type": "boolean", "description": "true removes the row and all dependent data"},
			}, "id"),
		},
		{
			Name:        "feedback",
			Description: "Record whether a recalled memory was helpful. Helpful feedback counts as a citation.",
			InputSchema: objectSchema(map[string]any{
				"memory_id": map[string]any{"type": "string", "description": "memory id"},
				"helpful":   map[string]any{"type": "boolean", "description": "whether the memory helped"},
				"score":     map[string]any{"type": "number", "minimum": 0, "maximum": 1, "description": "optional strength of the signal"},
			}, "memory_id", "helpful"),
		},
		{
			Name:        "stats",
			Description: "Report store, cache, queue, and tool-call statistics.",
			InputSchema: objectSchema(map[string]any{}),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func arraySchema(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

func enumArraySchema(desc string, values []string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string", "enum": values},
		"description": desc,
	}
}
