// Package qdrant backs memory.VectorIndex with Qdrant's gRPC client,
// one collection per (character scoped via a payload filter, not a
// per-character collection) keyed by TargetTable.
//
// Grounded on internal/persistence/databases/qdrant_vector.go: the
// deterministic-UUID-from-arbitrary-id trick (Qdrant only accepts UUID
// or integer point ids), the payload-carried original id, and the
// ensureCollection-on-construct bootstrap.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"lumina/internal/memory"
)

const payloadIDField = "_original_id"
const payloadCharacterField = "character_id"
const payloadTableField = "table"
const payloadContentField = "content"

// Index implements memory.VectorIndex over a single Qdrant collection
// shared by both episodic_memory and conversation_log rows,
// disambiguated by the "table" payload field.
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// New dials Qdrant and ensures the collection exists with the given
// dense-vector dimension, cosine distance (the only metric search_hybrid
// needs).
func New(ctx context.Context, dsn, collection string, dimension int) (*Index, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	idx := &Index{client: client, collection: collection, dimension: dimension}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if idx.dimension <= 0 {
		return fmt.Errorf("qdrant: dimension must be > 0")
	}
	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointID(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

// Upsert indexes (or reindexes) a vector for the given memory id under
// the given table, scoped to characterID.
func (idx *Index) Upsert(ctx context.Context, characterID string, table memory.TargetTable, id, content string, vector []float32) error {
	uuidStr, remapped := pointID(id)
	payload := map[string]any{
		payloadCharacterField: strings.ToLower(characterID),
		payloadTableField:     string(table),
		payloadContentField:   content,
	}
	if remapped {
		payload[payloadIDField] = id
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

// Delete removes a previously indexed id.
func (idx *Index) Delete(ctx context.Context, id string) error {
	uuidStr, _ := pointID(id)
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	return err
}

// SimilaritySearch implements memory.VectorIndex: cosine search scoped
// to characterID and table, filtered by Qdrant's native score_threshold
// so the adaptive-relaxation loop can widen it per iteration without a
// client-side re-rank.
func (idx *Index) SimilaritySearch(ctx context.Context, characterID string, table memory.TargetTable, queryVector []float32, threshold float64, limit int) ([]memory.VectorCandidate, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(queryVector))
	copy(vec, queryVector)

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadCharacterField, strings.ToLower(characterID)),
			qdrant.NewMatch(payloadTableField, string(table)),
		},
	}
	lim := uint64(limit)
	scoreThreshold := float32(threshold)
	result, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		Filter:         filter,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]memory.VectorCandidate, 0, len(result))
	for _, hit := range result {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		id := uuidStr
		content := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadIDField]; ok {
				id = v.GetStringValue()
			}
			if v, ok := hit.Payload[payloadContentField]; ok {
				content = v.GetStringValue()
			}
		}
		out = append(out, memory.VectorCandidate{ID: id, Content: content, Score: float64(hit.Score)})
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (idx *Index) Close() error {
	return idx.client.Close()
}
