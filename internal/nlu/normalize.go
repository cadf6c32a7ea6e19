package nlu

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var punctuationRun = regexp.MustCompile(`[.,;:!?]+`)

// foldAccents strips combining marks: "médicament" -> "medicament".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// dedupeAdjacent drops a token equal to the one before it and joins with
// single spaces.
func dedupeAdjacent(tokens []string) string {
	out := tokens[:0]
	for _, tok := range tokens {
		if len(out) > 0 && out[len(out)-1] == tok {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// CleanText lower-cases and folds accents, removes punctuation runs and
// filler words, collapses immediately repeated words and whitespace.
func (l *Lexicon) CleanText(text string) string {
	value := foldAccents(strings.ToLower(strings.TrimSpace(text)))
	value = punctuationRun.ReplaceAllString(value, " ")
	if l.fillerRe != nil {
		value = l.fillerRe.ReplaceAllString(value, " ")
	}
	return dedupeAdjacent(strings.Fields(value))
}

// NormalizeDialect maps each token through the dialect table. Tokens mapped
// to "" are dropped; repeats produced by the mapping are collapsed.
func (l *Lexicon) NormalizeDialect(text string) string {
	tokens := strings.Fields(text)
	mapped := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if canonical, ok := l.Dialect[tok]; ok {
			tok = canonical
		}
		if tok == "" {
			continue
		}
		mapped = append(mapped, tok)
	}
	return dedupeAdjacent(mapped)
}

// Normalize runs CleanText then NormalizeDialect.
func (l *Lexicon) Normalize(text string) string {
	return l.NormalizeDialect(l.CleanText(text))
}
