package command

import (
	"sort"

	"github.com/sahilm/fuzzy"
)

// maxTypoDistance is the edit distance still considered a typo.
const maxTypoDistance = 2

// Suggest returns up to limit simple names close to name. Names containing
// the query as a subsequence rank first (by fuzzy score), then names within a
// small edit distance.
func (t *Table) Suggest(name string, limit int) []string {
	query := t.trimPrefix(name)
	if query == "" || limit <= 0 {
		return nil
	}

	names := t.SimpleNames()
	bare := make([]string, len(names))
	for i, n := range names {
		bare[i] = t.trimPrefix(n)
	}

	var out []string
	seen := make(map[int]bool)

	for _, m := range fuzzy.Find(query, bare) {
		if len(out) == limit {
			return out
		}
		seen[m.Index] = true
		out = append(out, names[m.Index])
	}

	type near struct {
		index int
		dist  int
	}
	var typos []near
	for i, b := range bare {
		if seen[i] {
			continue
		}
		if d := editDistance(query, b); d <= maxTypoDistance {
			typos = append(typos, near{i, d})
		}
	}
	sort.SliceStable(typos, func(i, j int) bool { return typos[i].dist < typos[j].dist })

	for _, n := range typos {
		if len(out) == limit {
			break
		}
		out = append(out, names[n.index])
	}
	return out
}

// editDistance is the Levenshtein distance between a and b.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
