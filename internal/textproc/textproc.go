// Package textproc provides the query/content normalization shared by the
// lexical searcher and the lightweight embedding provider: CJK-preserving
// tokenization, English+Korean stopword filtering, and token-set overlap.
package textproc

import (
	"strings"
	"unicode"
)

// englishStopwords is a compact set of high-frequency English function words.
var englishStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "i": {}, "if": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "my": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "she": {}, "so": {}, "that": {},
	"the": {}, "their": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "which": {}, "who": {}, "will": {}, "with": {},
	"you": {}, "your": {},
}

// koreanStopwords covers common Korean particles, determiners, and
// light verbs that carry no retrieval signal.
var koreanStopwords = map[string]struct{}{
	"이": {}, "그": {}, "저": {}, "것": {}, "수": {}, "등": {}, "들": {},
	"및": {}, "의": {}, "가": {}, "을": {}, "를": {}, "은": {}, "는": {},
	"에": {}, "와": {}, "과": {}, "도": {}, "로": {}, "으로": {},
	"에서": {}, "부터": {}, "까지": {}, "에게": {}, "께서": {},
	"그리고": {}, "하지만": {}, "그러나": {}, "또한": {}, "또는": {},
	"하다": {}, "있다": {}, "없다": {}, "되다": {}, "않다": {},
	"같다": {}, "보다": {}, "이다": {}, "때문": {}, "위해": {},
	"대한": {}, "통해": {},
}

// IsStopword reports whether tok is an English or Korean stopword.
// The token is expected to be lowercased already.
func IsStopword(tok string) bool {
	if _, ok := englishStopwords[tok]; ok {
		return true
	}
	_, ok := koreanStopwords[tok]
	return ok
}

// Normalize lowercases s (CJK text is unaffected), replaces every rune
// outside letters, digits, and underscore with a space, and collapses
// repeated whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize normalizes s and splits it into tokens with stopwords removed.
func Tokenize(s string) []string {
	fields := strings.Fields(Normalize(s))
	toks := make([]string, 0, len(fields))
	for _, f := range fields {
		if IsStopword(f) {
			continue
		}
		toks = append(toks, f)
	}
	return toks
}

// TokenSet returns the unique tokens of s.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(s) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard computes |a∩b| / |a∪b| over two token sets.
// Two empty sets have similarity 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// JaccardSlices is Jaccard over two token slices.
func JaccardSlices(a, b []string) float64 {
	return Jaccard(sliceSet(a), sliceSet(b))
}

func sliceSet(toks []string) map[string]struct{} {
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[strings.ToLower(t)] = struct{}{}
	}
	return set
}

// HasCJK reports whether s contains Hangul, Han, Hiragana, or Katakana runes.
func HasCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) || unicode.Is(unicode.Han, r) ||
			unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) {
			return true
		}
	}
	return false
}

// RuneBigrams returns the rune bigrams of s. Used to decompose CJK tokens,
// where word boundaries under-segment agglutinated text.
func RuneBigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	grams := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		grams = append(grams, string(runes[i:i+2]))
	}
	return grams
}

// BigramOverlap is the Jaccard similarity of the rune-bigram sets of a and b.
func BigramOverlap(a, b string) float64 {
	return JaccardSlices(RuneBigrams(Normalize(a)), RuneBigrams(Normalize(b)))
}

// FTSQuery converts free text into a safe FTS5 MATCH expression: each token
// is double-quoted, tokens are joined with implicit AND, and the final token
// gets a prefix wildcard when it is at least two runes long. Returns "" when
// nothing survives normalization.
func FTSQuery(s string) string {
	toks := Tokenize(s)
	if len(toks) == 0 {
		return ""
	}
	parts := make([]string, len(toks))
	for i, t := range toks {
		quoted := `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		if i == len(toks)-1 && len([]rune(t)) >= 2 {
			quoted += "*"
		}
		parts[i] = quoted
	}
	return strings.Join(parts, " ")
}
