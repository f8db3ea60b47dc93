// Package tokenizer estimates token counts and fits text into token
// budgets. The estimates are heuristic, roughly four characters per token
// for English text, which is accurate enough for budget enforcement
// without shipping a model vocabulary.
package tokenizer

import "strings"

// EstimateTokens returns a rough token count for text: the average of a
// word-based estimate (~1.3 tokens per word) and a character-based one
// (~4 characters per token).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)

	wordEstimate := int(float64(words) * 1.3)
	charEstimate := chars / 4

	return (wordEstimate + charEstimate) / 2
}

// Truncate cuts text down to approximately maxTokens, breaking at a word
// boundary when one falls in the second half of the budget. Truncated
// text ends with an ellipsis.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	maxChars := maxTokens * 4
	if maxChars >= len(text) {
		return text
	}

	truncated := text[:maxChars]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxChars/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// FormatWithBudget joins items with a separator line until the token
// budget is exhausted. Returns the joined text and how many items fit.
func FormatWithBudget(items []string, budget int) (string, int) {
	if budget <= 0 || len(items) == 0 {
		return "", 0
	}

	var b strings.Builder
	count := 0
	used := 0

	for _, item := range items {
		cost := EstimateTokens(item) + 2 // separator overhead
		if used+cost > budget {
			break
		}
		if count > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(item)
		used += cost
		count++
	}
	return b.String(), count
}
