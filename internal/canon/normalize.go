package canon

import "strings"

// Street-type tokens dropped from the end of a normalized street line.
var trailingSuffixes = map[string]struct{}{
	"st": {}, "ave": {}, "rd": {}, "dr": {}, "ln": {},
	"ct": {}, "cir": {}, "blvd": {}, "way": {}, "pl": {},
}

// Normalize reduces an address to a lowercase street line for comparison:
// everything after the first comma is dropped, punctuation becomes
// whitespace, long suffixes are abbreviated and trailing street-type tokens
// are removed. Normalize is idempotent.
func Normalize(address string) string {
	s := strings.ToLower(address)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	toks := strings.Fields(rePunct.ReplaceAllString(s, " "))
	for i, t := range toks {
		if v, ok := suffixAbbrev[strings.ToUpper(t)]; ok {
			toks[i] = strings.ToLower(v)
		}
	}
	for len(toks) > 1 {
		if _, ok := trailingSuffixes[toks[len(toks)-1]]; !ok {
			break
		}
		toks = toks[:len(toks)-1]
	}
	return strings.Join(toks, " ")
}

// IsStreetAddress reports whether a normalized string looks like a street
// line ("123 main") rather than a city or ZIP fragment.
func IsStreetAddress(normalized string) bool {
	return len(normalized) >= 10 && normalized[0] >= '0' && normalized[0] <= '9'
}
