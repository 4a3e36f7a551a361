package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lumina/internal/config"
	"lumina/internal/memory/fusion"
)

// Embedder computes a dense vector for arbitrary text, used both to
// embed a search_hybrid query and, when configured, to compute a
// ConversationLogEntry's embedding inline at log time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MemoryStore is the hybrid vector+full-text facade over Store,
// VectorIndex and FullTextIndex: the single source of truth for
// conversational history and distilled memory.
type MemoryStore struct {
	store    Store
	vector   VectorIndex
	fulltext FullTextIndex
	embedder Embedder // optional; nil disables inline embedding
	cfg      config.MemoryConfig
	log      zerolog.Logger
}

// New builds a MemoryStore. embedder may be nil, in which case
// LogConversation leaves Embedding unset for later backfill.
func New(store Store, vector VectorIndex, fulltext FullTextIndex, embedder Embedder, cfg config.MemoryConfig, log zerolog.Logger) *MemoryStore {
	return &MemoryStore{store: store, vector: vector, fulltext: fulltext, embedder: embedder, cfg: cfg, log: log}
}

// SearchHybridParams overrides MemoryConfig defaults per call. Zero
// values fall back to the configured default for every field except
// MinResults: MinResults is a *int because 0 is a meaningful, distinct
// value from "unset" (invariant 10: min_results=0 must perform exactly
// one hybrid-search pass with no threshold relaxation, never the
// configured default of 3). Leave it nil to use the default.
type SearchHybridParams struct {
	QueryText        string
	QueryVector      []float32
	CharacterID      string
	Limit            int
	VectorWeight     float64
	InitialThreshold float64
	MinResults       *int
	TargetTable      TargetTable
}

// SearchHybrid implements the five-step contract: parallel vector +
// full-text candidate retrieval at a widened limit, RRF fusion,
// adaptive threshold relaxation until min_results survive (or the
// floor/iteration cap is hit), and best-effort hit-count marking of
// the final result set.
//
// Grounded step-for-step on the original's
// memory/vector_store.py#search_hybrid: same widened-limit*2 fetch,
// same up-to-5-iteration threshold relaxation schedule, same
// fire-and-forget hit marking after the loop.
func (m *MemoryStore) SearchHybrid(ctx context.Context, p SearchHybridParams) ([]SearchHit, error) {
	characterID := strings.ToLower(p.CharacterID)
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}
	vectorWeight := p.VectorWeight
	if vectorWeight == 0 {
		vectorWeight = m.cfg.VectorWeight
	}
	table := p.TargetTable
	if table == "" {
		table = TargetEpisodicMemory
	}

	sched := fusion.RelaxSchedule{
		Initial:       valueOr(p.InitialThreshold, m.cfg.InitialThreshold),
		Step:          m.cfg.ThresholdStep,
		Floor:         m.cfg.ThresholdFloor,
		MaxIterations: m.cfg.MaxRelaxations,
	}
	minResults := m.cfg.MinResults
	if p.MinResults != nil {
		minResults = *p.MinResults
	}

	var fused []fusion.Scored
	content := map[string]string{}

	for _, threshold := range sched.Thresholds() {
		vecCandidates, textCandidates, err := m.fetchCandidates(ctx, characterID, table, p.QueryText, p.QueryVector, threshold, limit*2)
		if err != nil {
			return nil, err
		}

		vecRanked := make([]fusion.Ranked, len(vecCandidates))
		for i, c := range vecCandidates {
			vecRanked[i] = fusion.Ranked{ID: c.ID}
			content[c.ID] = c.Content
		}
		textRanked := make([]fusion.Ranked, len(textCandidates))
		for i, c := range textCandidates {
			textRanked[i] = fusion.Ranked{ID: c.ID}
			content[c.ID] = c.Content
		}

		fused = fusion.RRF(vecRanked, textRanked, vectorWeight, m.cfg.RRFConstant)
		if len(fused) >= minResults {
			break
		}
	}

	if len(fused) > limit {
		fused = fused[:limit]
	}

	hits := make([]SearchHit, len(fused))
	ids := make([]string, len(fused))
	for i, s := range fused {
		hits[i] = SearchHit{ID: s.ID, Content: content[s.ID], HybridScore: s.Score}
		ids[i] = s.ID
	}

	m.markHitsBestEffort(table, ids)
	return hits, nil
}

func (m *MemoryStore) fetchCandidates(ctx context.Context, characterID string, table TargetTable, queryText string, queryVector []float32, threshold float64, limit int) ([]VectorCandidate, []TextCandidate, error) {
	var (
		vecResults  []VectorCandidate
		textResults []TextCandidate
		vecErr      error
		textErr     error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if len(queryVector) == 0 {
			return
		}
		vecResults, vecErr = m.vector.SimilaritySearch(ctx, characterID, table, queryVector, threshold, limit)
	}()
	go func() {
		defer wg.Done()
		if queryText == "" {
			return
		}
		textResults, textErr = m.fulltext.Search(ctx, characterID, table, queryText, limit)
	}()
	wg.Wait()

	if vecErr != nil {
		return nil, nil, vecErr
	}
	if textErr != nil {
		return nil, nil, textErr
	}
	return vecResults, textResults, nil
}

// markHitsBestEffort increments hit_count/last_hit_at for every id in
// the final result set. Per-id failures are logged and never abort
// the caller, matching vector_store.py's _mark_memories_hit.
func (m *MemoryStore) markHitsBestEffort(table TargetTable, ids []string) {
	go func() {
		ctx := context.Background()
		for _, id := range ids {
			if err := m.store.MarkHit(ctx, table, id); err != nil {
				m.log.Warn().Str("id", id).Err(err).Msg("memory: hit-count mark failed")
			}
		}
	}()
}

// AddEpisodicMemory inserts a new active episodic memory row.
func (m *MemoryStore) AddEpisodicMemory(ctx context.Context, characterID, content string, embedding []float32) (string, error) {
	return m.store.AddEpisodicMemory(ctx, strings.ToLower(characterID), content, embedding)
}

// LogConversation appends a ConversationLogEntry. If an embedder is
// configured, the entry's embedding is computed inline; otherwise it
// is left nil for a later backfill pass.
func (m *MemoryStore) LogConversation(ctx context.Context, characterID, narrative string) (int64, error) {
	var embedding []float32
	if m.embedder != nil {
		var err error
		embedding, err = m.embedder.Embed(ctx, narrative)
		if err != nil {
			m.log.Warn().Err(err).Msg("memory: inline embedding failed, leaving null for backfill")
			embedding = nil
		}
	}
	return m.store.LogConversation(ctx, strings.ToLower(characterID), narrative, embedding)
}

func valueOr(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
