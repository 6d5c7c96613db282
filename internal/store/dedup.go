package store

import (
	"regexp"
	"sort"
	"strings"
)

var punctuation = regexp.MustCompile(`[^\w\s]`)

// normalizeTokens lowercases, strips punctuation, and sorts the words of s,
// the normalization the Jaccard similarity comparison requires.
func normalizeTokens(s string) []string {
	cleaned := punctuation.ReplaceAllString(strings.ToLower(s), "")
	words := strings.Fields(cleaned)
	sort.Strings(words)
	return words
}

// jaccard computes word-set overlap between two normalized token lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// similarEnough applies the Jaccard >= 0.8 "similar" threshold.
func similarEnough(a, b string) bool {
	return jaccard(normalizeTokens(a), normalizeTokens(b)) >= 0.8
}
