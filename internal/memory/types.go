// Package memory is the single source of truth for conversational
// history and semantic memory: the MemoryStore facade fuses vector and
// full-text retrieval over episodic memory (search_hybrid), appends
// conversation log entries, and exposes the rows ConsolidationEngine
// distills into knowledge facts and insights.
package memory

import "time"

// Status is an EpisodicMemory's lifecycle stage. It is monotonic:
// active -> archived -> deleted, with no resurrection.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// ConversationLogEntry is one append-only raw conversation record.
// IsProcessed transitions false->true exactly once, by
// ConsolidationEngine, and never back.
type ConversationLogEntry struct {
	ID          int64
	CharacterID string
	Narrative   string
	CreatedAt   time.Time
	Embedding   []float32
	IsProcessed bool
}

// EpisodicMemory is one character-scoped distilled memory row.
type EpisodicMemory struct {
	ID          string
	CharacterID string
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
	Status      Status
	HitCount    uint64
	LastHitAt   *time.Time
	BatchID     *string
}

// KnowledgeFact is keyed by (Subject, Relation, Object, CharacterID);
// duplicate insertion reinforces Weight rather than creating a second row.
type KnowledgeFact struct {
	ID          string
	Subject     string
	Relation    string
	Object      string
	Weight      float32
	Emotion     string
	Context     string
	CharacterID string
}

// Insight is a higher-order distillation evidenced by a set of facts.
type Insight struct {
	ID          string
	Label       string
	Description string
	Confidence  float32
	Weight      float32
	CharacterID string
	EvidenceIDs []string
}

// BatchStatus is a ConsolidationBatch's lifecycle stage: pending ->
// processing -> (completed | failed), both terminal.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// ConsolidationBatch tracks one ConsolidationEngine cycle's input/output set.
type ConsolidationBatch struct {
	BatchID      string
	CharacterID  string
	RetrievedIDs []int64
	SentToLLMIDs []int64
	Status       BatchStatus
	CreatedAt    time.Time
}

// SearchHit is one fused search_hybrid result.
type SearchHit struct {
	ID          string
	Content     string
	HybridScore float64
}

// TargetTable names which table search_hybrid queries.
type TargetTable string

const (
	TargetEpisodicMemory TargetTable = "episodic_memory"
	TargetConversationLog TargetTable = "conversation_log"
)
