package opportunity

import "sort"

// Rank returns a new slice ordered by priority weight descending. Equal
// priorities keep their input order.
func Rank(opps []Opportunity) []Opportunity {
	ranked := make([]Opportunity, len(opps))
	copy(ranked, opps)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority.Weight() > ranked[j].Priority.Weight()
	})
	return ranked
}

// CountByKind is used for run summaries and metrics.
func CountByKind(opps []Opportunity) map[Kind]int {
	counts := make(map[Kind]int, 3)
	for _, o := range opps {
		counts[o.Kind]++
	}
	return counts
}
