package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mnemo-ai/mnemo/internal/models"
)

const (
	// defaultReasonerCandidates is how many top results are passed to
	// Claude for re-ranking.
	defaultReasonerCandidates = 10

	// reasonerMaxTokens caps the re-ranking response.
	reasonerMaxTokens = 512
)

// Reasoner re-ranks recall results with Claude. Cosine similarity finds
// related content; the model can judge which memories actually answer the
// query. It is opt-in: when disabled the pipeline stays fully
// deterministic, and on any API failure the original order is returned so
// the caller always gets a usable response.
type Reasoner struct {
	client        *anthropic.Client
	model         string
	maxCandidates int
	logger        *slog.Logger
}

// NewReasoner creates a Reasoner backed by the Anthropic API.
// maxCandidates defaults to 10 when <= 0.
func NewReasoner(apiKey, model string, maxCandidates int, logger *slog.Logger) *Reasoner {
	if maxCandidates <= 0 {
		maxCandidates = defaultReasonerCandidates
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Reasoner{
		client:        &c,
		model:         model,
		maxCandidates: maxCandidates,
		logger:        logger,
	}
}

// ReRank reorders the top candidates by relevance to query; results past
// the candidate window keep their positions after the re-ranked set. The
// per-result scores are not rewritten, only the order changes.
//
// maxCandidates overrides the configured window when > 0. Any failure
// returns the input order with a nil error.
func (r *Reasoner) ReRank(ctx context.Context, query string, results []models.RecallResult, maxCandidates int) ([]models.RecallResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	if maxCandidates <= 0 {
		maxCandidates = r.maxCandidates
	}

	candidates := results
	var tail []models.RecallResult
	if len(results) > maxCandidates {
		candidates = results[:maxCandidates]
		tail = results[maxCandidates:]
	}

	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "[%d] %s\n", i, xmlEscaper.Replace(c.Memory.Content))
	}

	prompt := fmt.Sprintf(`You are a memory relevance ranker for an AI agent memory system.

Given the query and a numbered list of memory snippets, output a JSON array of the indices ordered from MOST to LEAST relevant to the query. Include every index exactly once.

Output ONLY a valid JSON array of integers, nothing else. Example: [2, 0, 3, 1]

<query>%s</query>

<memories>
%s</memories>`,
		xmlEscaper.Replace(query),
		sb.String(),
	)

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: reasonerMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		r.logger.Warn("reasoner: API call failed, keeping original order", "error", err)
		return results, nil
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = strings.TrimSpace(resp.Content[i].Text)
			break
		}
	}
	if responseText == "" {
		r.logger.Warn("reasoner: empty response, keeping original order")
		return results, nil
	}

	var order []int
	if err := json.Unmarshal([]byte(responseText), &order); err != nil {
		r.logger.Warn("reasoner: could not parse response, keeping original order",
			"response", responseText, "error", err)
		return results, nil
	}

	// Apply the ordering, guarding against out-of-range or duplicate indices.
	seen := make(map[int]bool, len(candidates))
	reranked := make([]models.RecallResult, 0, len(candidates))
	for _, idx := range order {
		if idx >= 0 && idx < len(candidates) && !seen[idx] {
			reranked = append(reranked, candidates[idx])
			seen[idx] = true
		}
	}
	for i := range candidates {
		if !seen[i] {
			reranked = append(reranked, candidates[i])
		}
	}

	r.logger.Debug("reasoner: re-ranked results", "candidates", len(candidates), "order", order)
	return append(reranked, tail...), nil
}

// xmlEscaper neutralizes markup in user and memory content before it is
// embedded in the prompt's XML tags.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)
