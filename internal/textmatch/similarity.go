package textmatch

import "strings"

// Scores for the two shortcut cases.
const (
	ExactScore       = 1.0
	ContainmentScore = 0.95
)

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Two rolling rows are enough.
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity scores two already-normalized strings in [0, 1]:
// 1.0 when equal, 0.95 when keyword occurs in text as whole words,
// otherwise (maxLen - distance) / maxLen.
func Similarity(text, keyword string) float64 {
	if text == keyword {
		return ExactScore
	}
	if text == "" || keyword == "" {
		return 0
	}
	if ContainsWords(text, keyword) {
		return ContainmentScore
	}

	maxLen := max(len([]rune(text)), len([]rune(keyword)))
	d := Levenshtein(text, keyword)
	return float64(maxLen-d) / float64(maxLen)
}

// ContainsWords reports whether phrase appears in text on word boundaries.
// Both arguments are expected to be normalized (single-spaced).
func ContainsWords(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
