// Package levenshtein scores how close user input is to a known name
package levenshtein

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// levenshtein returns the edit distance of two strings counted in runes
// Insertions, deletions and substitutions all cost one, two rows of the matrix are kept
func levenshtein(os, ot string) int {
	n := utf8.RuneCountInString(os)
	m := utf8.RuneCountInString(ot)
	s := []rune(os)
	t := []rune(ot)
	v0 := make([]int, m+1)
	v1 := make([]int, m+1)
	for i := 0; i <= m; i++ {
		v0[i] = i
	}

	for i := 0; i < n; i++ {
		v1[0] = i + 1
		for j := 0; j < m; j++ {
			dc := v0[j+1] + 1
			ic := v1[j] + 1
			sc := v0[j]
			if s[i] != t[j] {
				sc++
			}
			v1[j+1] = min(dc, ic, sc)
		}
		v0, v1 = v1, v0
	}
	return v0[m]
}

// Distance returns the distance between the normalized a and b
func Distance(a, b string) int {
	return levenshtein(normalize(a), normalize(b))
}

// Closest returns at most n candidates sorted by their distance to query
// Ties keep the order of candidates
func Closest(query string, candidates []string, n int) []string {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	type scored struct {
		name  string
		score int
	}
	q := normalize(query)
	all := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, scored{name: c, score: levenshtein(q, normalize(c))})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].score < all[j].score
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, 0, len(all))
	for _, s := range all {
		out = append(out, s.name)
	}
	return out
}

// removeDiacritics strips combining marks, São Paulo becomes Sao Paulo
func removeDiacritics(text string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, text)
	if err != nil {
		return text, err
	}
	return result, nil
}

// normalize makes names comparable regardless of case and accents
func normalize(text string) string {
	dt, _ := removeDiacritics(text)
	return strings.ToLower(dt)
}
