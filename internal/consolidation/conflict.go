package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"lumina/internal/memory"
)

// Embedder computes a dense vector for arbitrary text, reused here for
// the conflict check's object-similarity comparison.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// resolveConflicts walks newFacts, and for each one whose
// (subject, relation) already has an existing fact with a different
// object and object-embedding cosine similarity above threshold,
// delegates to the LLM to merge the new fact against every conflicting
// existing one at once (mirroring memory_consolidator.py's
// conflict_groups batching instead of a pairwise merge). Facts with no
// conflict pass through unchanged.
func resolveConflicts(ctx context.Context, store memory.Store, embedder Embedder, dreamer Dreamer, characterID string, threshold float64, newFacts []FactOut) ([]FactOut, error) {
	if embedder == nil || dreamer == nil {
		return newFacts, nil
	}

	out := make([]FactOut, 0, len(newFacts))
	for _, nf := range newFacts {
		existing, err := store.FactsBySubjectRelation(ctx, characterID, nf.Subject, nf.Relation)
		if err != nil {
			return nil, fmt.Errorf("consolidation: lookup existing facts: %w", err)
		}

		conflicts, err := conflictingFacts(ctx, embedder, threshold, nf, existing)
		if err != nil {
			return nil, err
		}
		if len(conflicts) == 0 {
			out = append(out, nf)
			continue
		}

		merged, err := mergeViaLLM(ctx, dreamer, nf, conflicts)
		if err != nil {
			// Original facts are kept on LLM error.
			out = append(out, nf)
			continue
		}
		out = append(out, merged...)
	}
	return out, nil
}

func conflictingFacts(ctx context.Context, embedder Embedder, threshold float64, nf FactOut, existing []memory.KnowledgeFact) ([]memory.KnowledgeFact, error) {
	var conflicts []memory.KnowledgeFact
	for _, ef := range existing {
		if strings.EqualFold(ef.Object, nf.Object) {
			continue // identical object is a reinforcement, not a conflict
		}
		sim, err := objectSimilarity(ctx, embedder, nf.Object, ef.Object)
		if err != nil {
			return nil, err
		}
		if sim > threshold {
			conflicts = append(conflicts, ef)
		}
	}
	return conflicts, nil
}

func objectSimilarity(ctx context.Context, embedder Embedder, a, b string) (float64, error) {
	va, err := embedder.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := embedder.Embed(ctx, b)
	if err != nil {
		return 0, err
	}
	return cosine(va, vb), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// mergeViaLLM asks the LLM to consolidate a new fact against its
// conflicting existing facts into the smallest accurate set, matching
// memory_consolidator.py's _llm_resolve_conflict contract.
func mergeViaLLM(ctx context.Context, dreamer Dreamer, nf FactOut, conflicts []memory.KnowledgeFact) ([]FactOut, error) {
	var existingDesc strings.Builder
	for _, c := range conflicts {
		fmt.Fprintf(&existingDesc, "- (%s) %s %s %s [weight=%.2f]\n", c.ID, c.Subject, c.Relation, c.Object, c.Weight)
	}

	prompt := fmt.Sprintf(`You are consolidating conflicting memory facts.

NEW FACT: %s %s %s [weight=%.2f, emotion=%s]

EXISTING CONFLICTING FACTS:
%s
Consolidate these into the smallest accurate set of facts. If the new
fact supersedes an existing one, keep only the new. If they describe
distinct aspects, keep both, phrased clearly. Return JSON:
{"facts": [{"subject":"...","relation":"...","object":"...","weight":0.0,"emotion":"...","context":"..."}]}`,
		nf.Subject, nf.Relation, nf.Object, nf.Weight, nf.Emotion, existingDesc.String())

	raw, err := dreamer.InvokeDreaming(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Facts []FactOut `json:"facts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("consolidation: parse merge response: %w", err)
	}
	return parsed.Facts, nil
}
