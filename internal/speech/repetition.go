package speech

import "strings"

// IsRepetitive reports whether text looks like a degenerate engine loop:
// very few distinct words repeated, or the opening word pair recurring at
// least three times.
func IsRepetitive(text string) bool {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	if len(words) < 3 {
		return false
	}

	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[w] = struct{}{}
	}
	if len(distinct) <= 2 && len(words) >= 4 {
		return true
	}

	pair := words[0] + " " + words[1]
	return strings.Count(lower, pair) >= 3
}
