package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_LowercaseAndStrip(t *testing.T) {
	assert.Equal(t, "go is great", Normalize("Go is GREAT!!!"))
	assert.Equal(t, "hello world", Normalize("  hello,   world  "))
	assert.Equal(t, "snake_case kept", Normalize("snake_case (kept)"))
}

func TestNormalize_PreservesCJK(t *testing.T) {
	assert.Equal(t, "한국어 테스트", Normalize("한국어 테스트!"))
	assert.Equal(t, "漢字 と かな", Normalize("漢字、と・かな"))
}

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("!!! ... ???"))
}

func TestTokenize_DropsStopwords(t *testing.T) {
	toks := Tokenize("the quick brown fox is in the barn")
	assert.Equal(t, []string{"quick", "brown", "fox", "barn"}, toks)
}

func TestTokenize_KoreanStopwords(t *testing.T) {
	toks := Tokenize("그리고 메모리 시스템")
	assert.Equal(t, []string{"메모리", "시스템"}, toks)
}

func TestIsStopword(t *testing.T) {
	assert.True(t, IsStopword("the"))
	assert.True(t, IsStopword("그리고"))
	assert.False(t, IsStopword("memory"))
}

func TestJaccard(t *testing.T) {
	a := TokenSet("spaced repetition algorithms")
	b := TokenSet("spaced repetition")
	// intersection 2, union 3
	assert.InDelta(t, 2.0/3.0, Jaccard(a, b), 1e-9)

	assert.Equal(t, 0.0, Jaccard(nil, b))
	assert.Equal(t, 0.0, Jaccard(a, nil))
	assert.Equal(t, 1.0, Jaccard(a, a))
}

func TestJaccardSlices_CaseInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, JaccardSlices([]string{"Go", "SQLite"}, []string{"go", "sqlite"}))
}

func TestHasCJK(t *testing.T) {
	assert.True(t, HasCJK("메모리"))
	assert.True(t, HasCJK("漢字"))
	assert.True(t, HasCJK("カタカナ"))
	assert.False(t, HasCJK("memory"))
}

func TestRuneBigrams(t *testing.T) {
	assert.Equal(t, []string{"메모", "모리"}, RuneBigrams("메모리"))
	assert.Nil(t, RuneBigrams("a"))
	assert.Nil(t, RuneBigrams(""))
}

func TestBigramOverlap(t *testing.T) {
	require.Greater(t, BigramOverlap("메모리 검색", "메모리"), 0.0)
	assert.Equal(t, 0.0, BigramOverlap("abc", "xyz"))
}

func TestFTSQuery_QuotesAndPrefix(t *testing.T) {
	assert.Equal(t, `"spaced" "repetition*"`, FTSQuery("spaced repetition"))
}

func TestFTSQuery_SingleShortToken(t *testing.T) {
	// One-rune final tokens get no wildcard.
	assert.Equal(t, `"x"`, FTSQuery("x"))
}

func TestFTSQuery_EmptyAfterNormalization(t *testing.T) {
	assert.Equal(t, "", FTSQuery("the of and"))
	assert.Equal(t, "", FTSQuery("!!!"))
}

func TestFTSQuery_EscapesQuotes(t *testing.T) {
	// Normalization strips quotes, so injection characters never survive
	// into the MATCH expression.
	q := FTSQuery(`"; DROP TABLE memory_item; --`)
	assert.NotContains(t, q, ";")
	assert.NotContains(t, q, "--")
}
