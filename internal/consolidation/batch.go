package consolidation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumina/internal/memory"
)

// BatchManager tracks which episodic memories were returned to the LLM
// during a chat turn; those batches are candidate inputs for a future
// re-consolidation pass that dedupes or merges overlapping content.
// Batches have explicit state transitions and are garbage-collected on
// terminal states, per consolidation_batch.py.
type BatchManager struct {
	store memory.Store
	log   zerolog.Logger
}

// NewBatchManager builds a BatchManager over store.
func NewBatchManager(store memory.Store, log zerolog.Logger) *BatchManager {
	return &BatchManager{store: store, log: log}
}

// Open records a new pending batch for the episodic memory ids a
// search_hybrid call surfaced to the LLM.
func (bm *BatchManager) Open(ctx context.Context, characterID string, retrievedIDs []int64) (string, error) {
	batchID := uuid.NewString()
	err := bm.store.CreateBatch(ctx, memory.ConsolidationBatch{
		BatchID:      batchID,
		CharacterID:  characterID,
		RetrievedIDs: retrievedIDs,
		Status:       memory.BatchPending,
	})
	if err != nil {
		return "", fmt.Errorf("consolidation: open batch: %w", err)
	}
	return batchID, nil
}

// MarkSentToLLM transitions a batch to processing once its content has
// actually been included in an LLM call.
func (bm *BatchManager) MarkSentToLLM(ctx context.Context, batchID string) error {
	return bm.store.UpdateBatchStatus(ctx, batchID, memory.BatchProcessing)
}

// Complete transitions a batch to its terminal completed state.
func (bm *BatchManager) Complete(ctx context.Context, batchID string) error {
	return bm.store.UpdateBatchStatus(ctx, batchID, memory.BatchCompleted)
}

// Fail transitions a batch to its terminal failed state.
func (bm *BatchManager) Fail(ctx context.Context, batchID string) error {
	return bm.store.UpdateBatchStatus(ctx, batchID, memory.BatchFailed)
}

// GCTerminal purges completed/failed batches older than retentionSeconds.
func (bm *BatchManager) GCTerminal(ctx context.Context, retentionSeconds int64) (int64, error) {
	n, err := bm.store.PurgeTerminalBatches(ctx, retentionSeconds)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		bm.log.Debug().Int64("purged", n).Msg("consolidation: garbage-collected terminal batches")
	}
	return n, nil
}
