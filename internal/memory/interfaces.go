package memory

import "context"

// VectorCandidate is one hit from a vector-similarity query, ranked
// best-first by the backend.
type VectorCandidate struct {
	ID      string
	Content string
	Score   float64
}

// VectorIndex is the cosine-similarity backend search_hybrid queries,
// implemented by internal/memory/qdrant.
type VectorIndex interface {
	SimilaritySearch(ctx context.Context, characterID string, table TargetTable, queryVector []float32, threshold float64, limit int) ([]VectorCandidate, error)
}

// TextCandidate is one hit from a full-text/substring query.
type TextCandidate struct {
	ID      string
	Content string
}

// FullTextIndex is the Postgres tsvector-backed search_hybrid queries,
// implemented by internal/memory/postgres.
type FullTextIndex interface {
	Search(ctx context.Context, characterID string, table TargetTable, queryText string, limit int) ([]TextCandidate, error)
}

// Store is the relational backing store for conversation logs,
// episodic memory, and the consolidation pipeline's output tables,
// implemented by internal/memory/postgres.
type Store interface {
	AddEpisodicMemory(ctx context.Context, characterID, content string, embedding []float32) (string, error)
	LogConversation(ctx context.Context, characterID, narrative string, embedding []float32) (int64, error)
	MarkHit(ctx context.Context, table TargetTable, id string) error
	ContentByIDs(ctx context.Context, table TargetTable, ids []string) (map[string]string, error)

	UnprocessedLogEntries(ctx context.Context, characterID string, limit int) ([]ConversationLogEntry, error)
	MarkLogProcessed(ctx context.Context, ids []int64) error
	RecentEpisodicMemories(ctx context.Context, characterID string, limit int) ([]EpisodicMemory, error)

	UpsertKnowledgeFact(ctx context.Context, f KnowledgeFact) (string, error)
	FactsBySubjectRelation(ctx context.Context, characterID, subject, relation string) ([]KnowledgeFact, error)
	UpsertInsight(ctx context.Context, in Insight) (string, error)

	CreateBatch(ctx context.Context, b ConsolidationBatch) error
	UpdateBatchStatus(ctx context.Context, batchID string, status BatchStatus) error
	PurgeTerminalBatches(ctx context.Context, olderThanRetention int64) (int64, error)
}
