package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/config"
	"lumina/internal/eventbus"
	"lumina/internal/memory"
)

func zeroLogger() zerolog.Logger { return zerolog.Nop() }

// memStore is a minimal in-memory memory.Store for engine tests.
type memStore struct {
	mu        sync.Mutex
	log       []memory.ConversationLogEntry
	facts     []memory.KnowledgeFact
	insights  []memory.Insight
	batches   map[string]memory.ConsolidationBatch
	nextFact  int
}

func newMemStore(entries []memory.ConversationLogEntry) *memStore {
	return &memStore{log: entries, batches: map[string]memory.ConsolidationBatch{}}
}

func (s *memStore) AddEpisodicMemory(context.Context, string, string, []float32) (string, error) { return "", nil }
func (s *memStore) LogConversation(context.Context, string, string, []float32) (int64, error)     { return 0, nil }
func (s *memStore) MarkHit(context.Context, memory.TargetTable, string) error                     { return nil }
func (s *memStore) ContentByIDs(context.Context, memory.TargetTable, []string) (map[string]string, error) {
	return nil, nil
}

func (s *memStore) UnprocessedLogEntries(_ context.Context, characterID string, limit int) ([]memory.ConversationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.ConversationLogEntry
	for _, e := range s.log {
		if e.CharacterID == characterID && !e.IsProcessed {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) MarkLogProcessed(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	for i := range s.log {
		if idSet[s.log[i].ID] {
			s.log[i].IsProcessed = true
		}
	}
	return nil
}

func (s *memStore) UpsertKnowledgeFact(_ context.Context, f memory.KnowledgeFact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFact++
	f.ID = fmt.Sprintf("fact-%d", s.nextFact)
	s.facts = append(s.facts, f)
	return f.ID, nil
}

func (s *memStore) FactsBySubjectRelation(_ context.Context, characterID, subject, relation string) ([]memory.KnowledgeFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.KnowledgeFact
	for _, f := range s.facts {
		if f.CharacterID == characterID && f.Subject == subject && f.Relation == relation {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memStore) UpsertInsight(_ context.Context, in memory.Insight) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, in)
	return "insight-1", nil
}

func (s *memStore) CreateBatch(_ context.Context, b memory.ConsolidationBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.BatchID] = b
	return nil
}

func (s *memStore) UpdateBatchStatus(_ context.Context, batchID string, status memory.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.batches[batchID]
	b.Status = status
	s.batches[batchID] = b
	return nil
}

func (s *memStore) PurgeTerminalBatches(context.Context, int64) (int64, error) { return 0, nil }

func (s *memStore) RecentEpisodicMemories(context.Context, string, int) ([]memory.EpisodicMemory, error) {
	return nil, nil
}

func testDreamResponse() json.RawMessage {
	return json.RawMessage(`{
		"facts": [{"subject":"user","relation":"likes","object":"jazz","weight":1,"emotion":"joy","context":"music chat"}],
		"insights": [{"label":"music-lover","description":"enjoys jazz","confidence":0.9,"weight":1}],
		"evidence_chain": [{"insight_label":"music-lover","fact_keys":["user|likes|jazz"]}]
	}`)
}

func TestRunCycle_NotEnoughEntriesAccumulatesWithoutForce(t *testing.T) {
	store := newMemStore([]memory.ConversationLogEntry{{ID: 1, CharacterID: "alice", Narrative: "hi"}})
	cfg := config.ConsolidationConfig{BatchSize: 20}
	e := New(eventbus.New(zeroLogger()), store, nil, nil, fakeDreamer{response: testDreamResponse()}, nil, nil, cfg, zeroLogger())

	result, err := e.RunCycle(context.Background(), "alice", false)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestRunCycle_ForcedRunsDespiteSmallBatch(t *testing.T) {
	store := newMemStore([]memory.ConversationLogEntry{{ID: 1, CharacterID: "alice", Narrative: "alice: I love jazz"}})
	cfg := config.ConsolidationConfig{BatchSize: 20}
	e := New(eventbus.New(zeroLogger()), store, nil, nil, fakeDreamer{response: testDreamResponse()}, nil, nil, cfg, zeroLogger())

	result, err := e.RunCycle(context.Background(), "alice", true)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 1, result.FactsAdded)
	require.Equal(t, 1, result.InsightsAdded)

	entries, _ := store.UnprocessedLogEntries(context.Background(), "alice", 20)
	require.Empty(t, entries)
}

func TestRunCycle_MalformedJSONAbortsWithoutMarkingProcessed(t *testing.T) {
	store := newMemStore([]memory.ConversationLogEntry{{ID: 1, CharacterID: "alice", Narrative: "hi"}})
	cfg := config.ConsolidationConfig{BatchSize: 20}
	e := New(eventbus.New(zeroLogger()), store, nil, nil, fakeDreamer{response: json.RawMessage(`not json`)}, nil, nil, cfg, zeroLogger())

	_, err := e.RunCycle(context.Background(), "alice", true)
	require.Error(t, err)

	entries, _ := store.UnprocessedLogEntries(context.Background(), "alice", 20)
	require.Len(t, entries, 1)
	require.False(t, entries[0].IsProcessed)
}

func TestRunCycleSafe_SecondTriggerWhileInFlightIsDropped(t *testing.T) {
	store := newMemStore([]memory.ConversationLogEntry{{ID: 1, CharacterID: "alice", Narrative: "alice: I love jazz"}})
	cfg := config.ConsolidationConfig{BatchSize: 20}
	e := New(eventbus.New(zeroLogger()), store, nil, nil, fakeDreamer{response: testDreamResponse()}, nil, nil, cfg, zeroLogger())

	lock := e.cycleLock("alice")
	lock.Lock()
	e.runCycleSafe(context.Background(), "alice", true)
	lock.Unlock()

	entries, _ := store.UnprocessedLogEntries(context.Background(), "alice", 20)
	require.Len(t, entries, 1, "cycle must not have run while the lock was held")
}
