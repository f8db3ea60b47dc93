package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens_Empty(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokens_Scales(t *testing.T) {
	short := EstimateTokens("hello world")
	long := EstimateTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short*30)
}

func TestTruncate_FitsUnchanged(t *testing.T) {
	text := "short text"
	assert.Equal(t, text, Truncate(text, 100))
}

func TestTruncate_ZeroBudget(t *testing.T) {
	assert.Equal(t, "", Truncate("anything", 0))
	assert.Equal(t, "", Truncate("anything", -1))
}

func TestTruncate_CutsWithEllipsis(t *testing.T) {
	text := strings.Repeat("word ", 200)
	out := Truncate(text, 10)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Less(t, len(out), len(text))
	// Word-boundary cut: no partial "wor" fragment before the ellipsis.
	trimmed := strings.TrimSuffix(out, "...")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(trimmed), "word"))
}

func TestFormatWithBudget_AllFit(t *testing.T) {
	items := []string{"first memory", "second memory"}
	out, count := FormatWithBudget(items, 1000)
	assert.Equal(t, 2, count)
	assert.Contains(t, out, "first memory")
	assert.Contains(t, out, "second memory")
	assert.Contains(t, out, "\n---\n")
}

func TestFormatWithBudget_StopsAtBudget(t *testing.T) {
	big := strings.Repeat("filler ", 100)
	items := []string{big, big, big}
	_, count := FormatWithBudget(items, EstimateTokens(big)+5)
	assert.Equal(t, 1, count)
}

func TestFormatWithBudget_Empty(t *testing.T) {
	out, count := FormatWithBudget(nil, 100)
	assert.Equal(t, "", out)
	assert.Equal(t, 0, count)
}
