package gazetteer

import "strings"

// Similarity computes trigram similarity between two names, mirroring the
// pg_trgm similarity() semantics used by the PostgreSQL fuzzy index: names
// are lowercased, word boundaries padded, and the score is the Jaccard ratio
// of the trigram sets.
func Similarity(a, b string) float64 {
	ta := trigramSet(a)
	tb := trigramSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}

	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func trigramSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		// Two leading spaces and one trailing, like pg_trgm.
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			set[padded[i:i+3]] = true
		}
	}
	return set
}

// Normalize collapses whitespace and lowercases a name for exact-match
// lookups against the gazetteer's name_norm column.
func Normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
