package fuzzy

import "strings"

// TitleSimilarity scores how close an email subject is to a task title.
// Returns a value in [0,1]:
//   - 1.0 for case-insensitive equality
//   - 0.8 when one string contains the other
//   - Jaccard similarity of whitespace-tokenized word sets otherwise
//
// The 0.8 containment score and the >0.8 acceptance threshold used by the
// matcher are tuned heuristics; changing either needs re-validation against
// real mailboxes.
func TitleSimilarity(subject, title string) float64 {
	s1 := normalizeString(subject)
	s2 := normalizeString(title)

	if s1 == s2 {
		return 1.0
	}

	if s1 != "" && s2 != "" && (strings.Contains(s1, s2) || strings.Contains(s2, s1)) {
		return 0.8
	}

	return jaccard(s1, s2)
}

// jaccard computes |intersection| / |union| over whitespace-split word sets.
func jaccard(s1, s2 string) float64 {
	words1 := wordSet(s1)
	words2 := wordSet(s2)

	if len(words1) == 0 || len(words2) == 0 {
		return 0.0
	}

	intersection := 0
	union := len(words2)
	for w := range words1 {
		if _, ok := words2[w]; ok {
			intersection++
		} else {
			union++
		}
	}

	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// normalizeString converts to lowercase and collapses whitespace
func normalizeString(s string) string {
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}
