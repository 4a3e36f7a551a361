package postgres

import (
	"context"

	"github.com/google/uuid"

	"lumina/internal/memory"
)

// UnprocessedLogEntries returns up to limit unprocessed conversation_log
// rows for characterID, oldest first, the shape ConsolidationEngine
// consumes per cycle.
func (b *Backend) UnprocessedLogEntries(ctx context.Context, characterID string, limit int) ([]memory.ConversationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.pool.Query(ctx, `
		SELECT id, character_id, narrative, embedding, created_at, is_processed
		FROM conversation_log
		WHERE character_id = $1 AND NOT is_processed
		ORDER BY id ASC
		LIMIT $2`, characterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.ConversationLogEntry
	for rows.Next() {
		var e memory.ConversationLogEntry
		if err := rows.Scan(&e.ID, &e.CharacterID, &e.Narrative, &e.Embedding, &e.CreatedAt, &e.IsProcessed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkLogProcessed flips is_processed true for the given conversation_log ids.
func (b *Backend) MarkLogProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := b.pool.Exec(ctx, `UPDATE conversation_log SET is_processed = true WHERE id = ANY($1)`, ids)
	return err
}

// RecentEpisodicMemories returns the most recently created active
// episodic memories for characterID, newest first, the input to
// SoulService's scheduled evolution pass.
func (b *Backend) RecentEpisodicMemories(ctx context.Context, characterID string, limit int) ([]memory.EpisodicMemory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.pool.Query(ctx, `
		SELECT id, character_id, content, status, hit_count, created_at
		FROM episodic_memory
		WHERE character_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT $2`, characterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.EpisodicMemory
	for rows.Next() {
		var m memory.EpisodicMemory
		var status string
		if err := rows.Scan(&m.ID, &m.CharacterID, &m.Content, &status, &m.HitCount, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = memory.Status(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertKnowledgeFact reinforces an existing (subject, relation, object,
// character_id) row's weight or inserts a new one, matching the
// original consolidator's dedup-by-reinforcement semantics.
func (b *Backend) UpsertKnowledgeFact(ctx context.Context, f memory.KnowledgeFact) (string, error) {
	id := f.ID
	if id == "" {
		id = uuid.NewString()
	}
	var returnedID string
	err := b.pool.QueryRow(ctx, `
		INSERT INTO knowledge_fact (id, subject, relation, object, weight, emotion, context, character_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject, relation, object, character_id)
		DO UPDATE SET weight = knowledge_fact.weight + EXCLUDED.weight,
			emotion = EXCLUDED.emotion, context = EXCLUDED.context
		RETURNING id`,
		id, f.Subject, f.Relation, f.Object, f.Weight, f.Emotion, f.Context, f.CharacterID).Scan(&returnedID)
	if err != nil {
		return "", err
	}
	return returnedID, nil
}

// FactsBySubjectRelation returns every existing fact sharing (subject,
// relation, character_id), the candidate set conflict detection
// compares a new fact's object against.
func (b *Backend) FactsBySubjectRelation(ctx context.Context, characterID, subject, relation string) ([]memory.KnowledgeFact, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, subject, relation, object, weight, emotion, context, character_id
		FROM knowledge_fact
		WHERE character_id = $1 AND subject = $2 AND relation = $3`,
		characterID, subject, relation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.KnowledgeFact
	for rows.Next() {
		var f memory.KnowledgeFact
		if err := rows.Scan(&f.ID, &f.Subject, &f.Relation, &f.Object, &f.Weight, &f.Emotion, &f.Context, &f.CharacterID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertInsight inserts or replaces an insight and its evidence links
// inside a transaction.
func (b *Backend) UpsertInsight(ctx context.Context, in memory.Insight) (string, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO insight (id, label, description, confidence, weight, character_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, description = EXCLUDED.description,
			confidence = EXCLUDED.confidence, weight = EXCLUDED.weight`,
		id, in.Label, in.Description, in.Confidence, in.Weight, in.CharacterID)
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM evidence WHERE insight_id = $1`, id); err != nil {
		return "", err
	}
	for _, factID := range in.EvidenceIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO evidence (insight_id, fact_id) VALUES ($1, $2)`, id, factID); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// CreateBatch records a new consolidation cycle's input set.
func (b *Backend) CreateBatch(ctx context.Context, batch memory.ConsolidationBatch) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO consolidation_batch (batch_id, character_id, retrieved_ids, sent_to_llm_ids, status)
		VALUES ($1, $2, $3, $4, $5)`,
		batch.BatchID, batch.CharacterID, batch.RetrievedIDs, batch.SentToLLMIDs, string(batch.Status))
	return err
}

// UpdateBatchStatus transitions a batch's lifecycle status.
func (b *Backend) UpdateBatchStatus(ctx context.Context, batchID string, status memory.BatchStatus) error {
	_, err := b.pool.Exec(ctx, `UPDATE consolidation_batch SET status = $1 WHERE batch_id = $2`, string(status), batchID)
	return err
}

// PurgeTerminalBatches deletes completed/failed batches older than the
// retention window (in seconds) and returns the number removed.
func (b *Backend) PurgeTerminalBatches(ctx context.Context, olderThanRetention int64) (int64, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM consolidation_batch
		WHERE status IN ('completed', 'failed')
		AND created_at < now() - make_interval(secs => $1)`, olderThanRetention)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
