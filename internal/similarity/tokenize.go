package similarity

import "strings"

// stopWords is process-wide and immutable. Tokenize drops these so the token
// index and keyword fallback key on content-bearing terms only.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(
		"a an and are as at be been but by can did do does for from had has " +
			"have he her his how i if in into is it its just me my no nor not " +
			"of on or our she so some than that the their them then there " +
			"these they this those to too was we were what when which who " +
			"will with you your") {
		stopWords[w] = struct{}{}
	}
}

// Tokenize lowercases text, strips everything outside [a-z0-9 ], splits on
// whitespace, drops single-character tokens and stop words, and dedupes
// while preserving first-seen order.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 1 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

// IsStopWord reports whether the (already lowercased) token is on the stop
// list.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}
