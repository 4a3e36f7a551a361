package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/config"
)

// fakeVectorIndex returns the next scripted result set on each call
// (nil once they run out), letting a test assert how many threshold-relaxation rounds
// SearchHybrid actually ran.
type fakeVectorIndex struct {
	calls   int
	perCall [][]VectorCandidate
}

func (f *fakeVectorIndex) SimilaritySearch(context.Context, string, TargetTable, []float32, float64, int) ([]VectorCandidate, error) {
	i := f.calls
	f.calls++
	if i >= len(f.perCall) {
		return nil, nil
	}
	return f.perCall[i], nil
}

type emptyFullText struct{}

func (emptyFullText) Search(context.Context, string, TargetTable, string, int) ([]TextCandidate, error) {
	return nil, nil
}

type nopStore struct{ Store }

func (nopStore) MarkHit(context.Context, TargetTable, string) error { return nil }

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		VectorWeight:     0.5,
		InitialThreshold: 0.8,
		MinResults:       3,
		ThresholdFloor:   0.3,
		ThresholdStep:    0.1,
		MaxRelaxations:   5,
		RRFConstant:      60,
	}
}

func TestSearchHybrid_UnsetMinResultsUsesConfigDefaultAndRelaxes(t *testing.T) {
	vec := &fakeVectorIndex{perCall: [][]VectorCandidate{
		{{ID: "a"}},
		{{ID: "a"}, {ID: "b"}},
		{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	}}
	m := New(nopStore{}, vec, emptyFullText{}, nil, testMemoryConfig(), zerolog.Nop())

	hits, err := m.SearchHybrid(context.Background(), SearchHybridParams{
		QueryVector: []float32{1, 0, 0},
		CharacterID: "aria",
	})
	require.NoError(t, err)
	require.Len(t, hits, 3, "should relax until the configured default of 3 results survive")
	require.Equal(t, 3, vec.calls, "should have taken three relaxation rounds")
}

func TestSearchHybrid_ExplicitZeroMinResultsPerformsExactlyOnePass(t *testing.T) {
	vec := &fakeVectorIndex{perCall: [][]VectorCandidate{
		{{ID: "a"}},
		{{ID: "a"}, {ID: "b"}},
		{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	}}
	m := New(nopStore{}, vec, emptyFullText{}, nil, testMemoryConfig(), zerolog.Nop())

	zero := 0
	hits, err := m.SearchHybrid(context.Background(), SearchHybridParams{
		QueryVector: []float32{1, 0, 0},
		CharacterID: "aria",
		MinResults:  &zero,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1, "an explicit min_results=0 must not relax past the first pass")
	require.Equal(t, 1, vec.calls, "invariant 10: min_results=0 performs exactly one pass")
}
