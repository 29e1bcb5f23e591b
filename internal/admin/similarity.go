package admin

// Similarity scores two normalized names in [0, 1]. 1 means identical.
type Similarity interface {
	Score(a, b string) float64
}

// SimilarityFunc adapts a function to Similarity.
type SimilarityFunc func(a, b string) float64

// Score implements Similarity
func (f SimilarityFunc) Score(a, b string) float64 { return f(a, b) }

// LevenshteinRatio is the default strategy: one minus the edit distance
// divided by the longer length.
var LevenshteinRatio = SimilarityFunc(func(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
})

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
