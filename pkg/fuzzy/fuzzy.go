// Package fuzzy ranks stored messages against a short search query with
// typo tolerance.
package fuzzy

import (
	"sort"
	"strings"
)

// Fields are the searchable parts of one message
type Fields struct {
	Subject    string
	Sender     string
	SenderName string
	Snippet    string
}

// Match is the index of a matching document and its relevance
type Match struct {
	Index int
	Score float64
}

// LevenshteinDistance is the number of single rune edits between s1 and s2
func LevenshteinDistance(s1, s2 string) int {
	r1 := []rune(normalize(s1))
	r2 := []rune(normalize(s2))
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}

// Threshold is the edit distance tolerated for a query of this length
func Threshold(query string) int {
	n := len([]rune(query))
	switch {
	case n <= 3:
		return 0
	case n < 8:
		return 1
	default:
		return 2
	}
}

// Score rates how well f matches query. Zero means no match.
func Score(query string, f Fields) float64 {
	query = normalize(query)
	if query == "" {
		return 0
	}
	threshold := Threshold(query)

	score := fieldScore(query, f.Subject, threshold, 100)
	score += fieldScore(query, f.SenderName, threshold, 80)
	score += fieldScore(query, f.Sender, threshold, 60)
	score += fieldScore(query, f.Snippet, threshold, 20)
	return score
}

func fieldScore(query, text string, threshold int, weight float64) float64 {
	text = normalize(text)
	if text == "" {
		return 0
	}
	if strings.Contains(text, query) {
		if containsWord(text, query) {
			return weight * 1.5
		}
		return weight
	}

	best := 0.0
	for _, word := range strings.FieldsFunc(text, isSeparator) {
		if strings.HasPrefix(word, query) {
			best = max(best, weight*0.8)
			continue
		}
		if threshold == 0 {
			continue
		}
		if d := LevenshteinDistance(query, word); d <= threshold {
			best = max(best, weight*0.6-float64(d)*weight*0.15)
		}
	}
	return best
}

// Rank returns the matching documents, best first. Ties keep input order.
func Rank(query string, docs []Fields) []Match {
	var matches []Match
	for i, d := range docs {
		if s := Score(query, d); s > 0 {
			matches = append(matches, Match{Index: i, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '@', '.', ',', ':', ';', '-', '_', '!', '?', '(', ')', '"', '\'':
		return true
	}
	return false
}

func containsWord(text, query string) bool {
	for _, word := range strings.FieldsFunc(text, isSeparator) {
		if word == query {
			return true
		}
	}
	return false
}
