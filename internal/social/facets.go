package social

import (
	"cmp"
	"slices"

	"github.com/pitabwire/inkline/model"
)

// ComputeFacets derives the style, service and body part filter options from
// posts, most frequent first and ties broken by value.
func ComputeFacets(posts []model.Post) model.Facets {
	styles := map[string]int{}
	services := map[string]int{}
	bodyParts := map[string]int{}
	for _, p := range posts {
		tally(styles, p.Styles)
		tally(services, p.Services)
		tally(bodyParts, p.BodyParts)
	}
	return model.Facets{
		Styles:    ranked(styles),
		Services:  ranked(services),
		BodyParts: ranked(bodyParts),
	}
}

// tally counts each distinct value once per post.
func tally(counts map[string]int, values []string) {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		counts[v]++
	}
}

func ranked(counts map[string]int) []model.Facet {
	out := make([]model.Facet, 0, len(counts))
	for v, n := range counts {
		out = append(out, model.Facet{Value: v, Count: n})
	}
	slices.SortFunc(out, func(a, b model.Facet) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return out
}
