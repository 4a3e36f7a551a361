// Package fusion implements the pure, testable math behind
// search_hybrid: Reciprocal Rank Fusion across a vector-similarity
// ranked list and a full-text ranked list, and the threshold
// relaxation schedule used when too few results survive.
//
// Grounded on two sources: the structural RRF implementation in
// internal/rag/retrieve/fusion.go (FuseRRF, safeRankSum) and the exact
// scoring formula and relaxation loop in the original Python
// implementation's memory/vector_store.py search_hybrid (loop up to 5
// times, threshold -= 0.1 floored at 0.2, score += weight/(k+rank+1)).
package fusion

import "sort"

// Ranked is one entry of a single ranked candidate list (vector or
// full-text), ordered by the caller from best to worst match.
type Ranked struct {
	ID string
}

// Scored is one fused result, carrying the id and its combined RRF score.
type Scored struct {
	ID    string
	Score float64
}

// RRF fuses vectorRanked and textRanked with Reciprocal Rank Fusion:
// every id's score is the sum, over whichever lists it appears in, of
// weight/(k+rank+1), where rank is the id's zero-based position in
// that list. vectorRanked entries are weighted by vectorWeight,
// textRanked entries by 1-vectorWeight. The result is sorted by score
// descending; ties broken by id for determinism.
func RRF(vectorRanked, textRanked []Ranked, vectorWeight float64, k int) []Scored {
	scores := make(map[string]float64)
	order := make([]string, 0, len(vectorRanked)+len(textRanked))

	add := func(list []Ranked, weight float64) {
		for rank, item := range list {
			if _, seen := scores[item.ID]; !seen {
				order = append(order, item.ID)
			}
			scores[item.ID] += weight / float64(k+rank+1)
		}
	}
	add(vectorRanked, vectorWeight)
	add(textRanked, 1-vectorWeight)

	out := make([]Scored, 0, len(order))
	for _, id := range order {
		out = append(out, Scored{ID: id, Score: scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
