package gate

import (
	"strings"

	"github.com/rivo/uniseg"
)

// charCount counts user-perceived characters (grapheme clusters).
func charCount(text string) int {
	return uniseg.GraphemeClusterCount(text)
}

func distinctChars(text string) map[string]struct{} {
	set := make(map[string]struct{})
	graphemes := uniseg.NewGraphemes(text)
	for graphemes.Next() {
		set[graphemes.Str()] = struct{}{}
	}
	return set
}

// Similarity is |chars(a) ∩ chars(b)| / max(|chars(a)|, |chars(b)|) over
// distinct characters. Two empty sets have similarity 0.
func Similarity(a, b string) float64 {
	setA := distinctChars(a)
	setB := distinctChars(b)

	larger := len(setA)
	if len(setB) > larger {
		larger = len(setB)
	}
	if larger == 0 {
		return 0
	}

	common := 0
	for ch := range setA {
		if _, ok := setB[ch]; ok {
			common++
		}
	}
	return float64(common) / float64(larger)
}

// mutuallyContained reports whether either string contains the other.
// An empty string is never treated as contained.
func mutuallyContained(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
