// Package postgres backs memory.Store and memory.FullTextIndex with
// pgx against a Postgres database: conversation_log, episodic_memory,
// knowledge_fact, insight, evidence, and consolidation_batch tables.
//
// Grounded on internal/persistence/databases/postgres_search.go (the
// bootstrap-own-schema-on-construct pattern, tsvector GIN index,
// plainto_tsquery/ts_rank search) and
// evolving_memory_store_postgres.go (CREATE TABLE IF NOT EXISTS +
// ALTER TABLE IF NOT EXISTS column-add pattern, pgxpool usage).
package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"lumina/internal/memory"
)

// Backend implements memory.Store and memory.FullTextIndex over a
// pgxpool.Pool.
type Backend struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New builds a Backend and bootstraps its schema (best-effort, mirroring
// the teacher's CREATE TABLE/EXTENSION IF NOT EXISTS construction-time
// bootstrap instead of a separate migration step).
func New(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) (*Backend, error) {
	b := &Backend{pool: pool, log: log}
	if err := b.bootstrap(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS conversation_log (
			id BIGSERIAL PRIMARY KEY,
			character_id TEXT NOT NULL,
			narrative TEXT NOT NULL,
			embedding FLOAT4[],
			is_processed BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_log_unprocessed_idx ON conversation_log (character_id) WHERE NOT is_processed`,
		`CREATE TABLE IF NOT EXISTS episodic_memory (
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding FLOAT4[],
			status TEXT NOT NULL DEFAULT 'active',
			hit_count BIGINT NOT NULL DEFAULT 0,
			last_hit_at TIMESTAMPTZ,
			batch_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,''))) STORED
		)`,
		`CREATE INDEX IF NOT EXISTS episodic_memory_ts_idx ON episodic_memory USING GIN (ts)`,
		`CREATE INDEX IF NOT EXISTS episodic_memory_character_idx ON episodic_memory (character_id, status)`,
		`CREATE TABLE IF NOT EXISTS knowledge_fact (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			relation TEXT NOT NULL,
			object TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			emotion TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			character_id TEXT NOT NULL,
			UNIQUE (subject, relation, object, character_id)
		)`,
		`CREATE TABLE IF NOT EXISTS insight (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			description TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			weight REAL NOT NULL DEFAULT 0,
			character_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS evidence (
			insight_id TEXT NOT NULL REFERENCES insight(id) ON DELETE CASCADE,
			fact_id TEXT NOT NULL REFERENCES knowledge_fact(id) ON DELETE CASCADE,
			PRIMARY KEY (insight_id, fact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS consolidation_batch (
			batch_id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL,
			retrieved_ids BIGINT[] NOT NULL DEFAULT '{}',
			sent_to_llm_ids BIGINT[] NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func tableName(t memory.TargetTable) string {
	if t == memory.TargetConversationLog {
		return "conversation_log"
	}
	return "episodic_memory"
}

// Search implements memory.FullTextIndex against the given table's
// generated tsvector column.
func (b *Backend) Search(ctx context.Context, characterID string, table memory.TargetTable, queryText string, limit int) ([]memory.TextCandidate, error) {
	q := strings.TrimSpace(queryText)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	tbl := tableName(table)
	idCol := "id::text"
	contentCol := "content"
	if table == memory.TargetConversationLog {
		contentCol = "narrative"
	}

	stmt := `SELECT ` + idCol + `, ` + contentCol + ` FROM ` + tbl + `
		WHERE character_id = $1 AND to_tsvector('simple', coalesce(` + contentCol + `,'')) @@ plainto_tsquery('simple', $2)`
	if table == memory.TargetEpisodicMemory {
		stmt += ` AND status = 'active'`
	}
	stmt += ` ORDER BY ts_rank(to_tsvector('simple', coalesce(` + contentCol + `,'')), plainto_tsquery('simple', $2)) DESC LIMIT $3`

	rows, err := b.pool.Query(ctx, stmt, characterID, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]memory.TextCandidate, 0, limit)
	for rows.Next() {
		var c memory.TextCandidate
		if err := rows.Scan(&c.ID, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddEpisodicMemory inserts a new active episodic memory row.
func (b *Backend) AddEpisodicMemory(ctx context.Context, characterID, content string, embedding []float32) (string, error) {
	id := uuid.NewString()
	_, err := b.pool.Exec(ctx, `
		INSERT INTO episodic_memory (id, character_id, content, embedding, status)
		VALUES ($1, $2, $3, $4, 'active')`,
		id, characterID, content, embedding)
	if err != nil {
		return "", err
	}
	return id, nil
}

// LogConversation appends a ConversationLogEntry, embedding nullable.
func (b *Backend) LogConversation(ctx context.Context, characterID, narrative string, embedding []float32) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx, `
		INSERT INTO conversation_log (character_id, narrative, embedding)
		VALUES ($1, $2, $3) RETURNING id`,
		characterID, narrative, embedding).Scan(&id)
	return id, err
}

// MarkHit atomically increments hit_count and sets last_hit_at. Only
// episodic_memory carries hit-count feedback.
func (b *Backend) MarkHit(ctx context.Context, table memory.TargetTable, id string) error {
	if table != memory.TargetEpisodicMemory {
		return nil
	}
	_, err := b.pool.Exec(ctx, `
		UPDATE episodic_memory SET hit_count = hit_count + 1, last_hit_at = now() WHERE id = $1`, id)
	return err
}

// ContentByIDs batch-fetches content for a set of ids, used when a
// caller already has ranked ids and needs their text.
func (b *Backend) ContentByIDs(ctx context.Context, table memory.TargetTable, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	tbl := tableName(table)
	contentCol := "content"
	if table == memory.TargetConversationLog {
		contentCol = "narrative"
	}
	rows, err := b.pool.Query(ctx, `SELECT id::text, `+contentCol+` FROM `+tbl+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		out[id] = content
	}
	return out, rows.Err()
}
