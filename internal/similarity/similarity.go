// Package similarity scores how alike two strings are using edit distance.
package similarity

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Ratio returns 1 - levenshtein(a, b) / max(len(a), len(b)), with lengths
// counted in runes. Two empty strings are identical (1.0).
// Comparison is case-sensitive; callers fold case first.
func Ratio(a, b string) float64 {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(d)/float64(longest)
}
