package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lumina/internal/cache"
	"lumina/internal/config"
	"lumina/internal/eventbus"
	"lumina/internal/memory"
	"lumina/internal/telemetry"
)

// charState tracks the idle-trigger bookkeeping for one character:
// when it last produced input, whether the idle trigger has already
// fired since then, and when its last cycle ran.
type charState struct {
	lastInputAt time.Time
	idleFired   bool
	lastCycleAt time.Time
}

// Engine is the ConsolidationEngine: it distills unprocessed
// conversation_log entries into knowledge facts and insights,
// triggered by host idle time or a fixed interval, never more than one
// pass per character at once. A cycle writes no episodic_memory rows.
type Engine struct {
	bus      *eventbus.Bus
	store    memory.Store
	vector   memory.VectorIndex
	embedder Embedder
	dreamer  Dreamer
	batches   *BatchManager
	cache     *cache.Client
	telemetry *telemetry.ConsolidationSink
	cfg       config.ConsolidationConfig
	log       zerolog.Logger

	mu          sync.Mutex
	characters  map[string]*charState
	cycleLocks  map[string]*sync.Mutex
	cancel      context.CancelFunc
	subInput    eventbus.SubscriptionID
	subTick     eventbus.SubscriptionID
	subMinute   eventbus.SubscriptionID
}

// New builds an Engine. embedder may be nil, which disables conflict
// detection (new facts are always appended, never merged). cacheClient
// may be nil, in which case the idle-trigger lock is purely in-process.
// sink may be nil, in which case cycle metrics are not recorded.
func New(bus *eventbus.Bus, store memory.Store, vector memory.VectorIndex, embedder Embedder, dreamer Dreamer, cacheClient *cache.Client, sink *telemetry.ConsolidationSink, cfg config.ConsolidationConfig, log zerolog.Logger) *Engine {
	return &Engine{
		bus:        bus,
		store:      store,
		vector:     vector,
		embedder:   embedder,
		dreamer:    dreamer,
		batches:    NewBatchManager(store, log),
		cache:      cacheClient,
		telemetry:  sink,
		cfg:        cfg,
		log:        log,
		characters: make(map[string]*charState),
		cycleLocks: make(map[string]*sync.Mutex),
	}
}

// Start subscribes to input.text (to reset idle timers) and the ticker
// events (to evaluate idle/interval triggers). A no-op if Consolidation
// is disabled in config.
func (e *Engine) Start(ctx context.Context) {
	if !e.cfg.Enabled {
		e.log.Info().Msg("consolidation: disabled, engine not started")
		return
	}
	_, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.subInput = e.bus.Subscribe("input.text", e.onInputText)
	e.subTick = e.bus.Subscribe("system.tick", e.onTick)
	e.subMinute = e.bus.Subscribe("system.tick.minute", e.onMinute)
}

// Stop unsubscribes from the bus. Any in-flight cycle runs to completion.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.bus.Unsubscribe(e.subInput)
	e.bus.Unsubscribe(e.subTick)
	e.bus.Unsubscribe(e.subMinute)
}

func characterIDFromEvent(ev eventbus.Event) (string, bool) {
	v, ok := ev.Data["character_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.ToLower(s), ok && s != ""
}

func (e *Engine) onInputText(_ context.Context, ev eventbus.Event) error {
	characterID, ok := characterIDFromEvent(ev)
	if !ok {
		return nil
	}
	e.mu.Lock()
	st, exists := e.characters[characterID]
	if !exists {
		st = &charState{}
		e.characters[characterID] = st
	}
	st.lastInputAt = time.Now()
	st.idleFired = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) onTick(ctx context.Context, _ eventbus.Event) error {
	if e.cfg.IdleThreshold <= 0 {
		return nil
	}
	now := time.Now()
	var due []string
	e.mu.Lock()
	for id, st := range e.characters {
		if !st.idleFired && !st.lastInputAt.IsZero() && now.Sub(st.lastInputAt) >= e.cfg.IdleThreshold {
			st.idleFired = true
			due = append(due, id)
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		go e.runCycleSafe(ctx, id, false)
	}
	return nil
}

func (e *Engine) onMinute(ctx context.Context, _ eventbus.Event) error {
	if e.cfg.Interval <= 0 {
		return nil
	}
	now := time.Now()
	var due []string
	e.mu.Lock()
	for id, st := range e.characters {
		if st.lastCycleAt.IsZero() || now.Sub(st.lastCycleAt) >= e.cfg.Interval {
			due = append(due, id)
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		go e.runCycleSafe(ctx, id, false)
	}

	if e.cfg.BatchRetention > 0 {
		if _, err := e.batches.GCTerminal(ctx, int64(e.cfg.BatchRetention.Seconds())); err != nil {
			e.log.Warn().Err(err).Msg("consolidation: batch GC failed")
		}
	}
	return nil
}

func (e *Engine) cycleLock(characterID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.cycleLocks[characterID]
	if !ok {
		m = &sync.Mutex{}
		e.cycleLocks[characterID] = m
	}
	return m
}

// runCycleSafe serializes per-character cycles: a second trigger while
// one is in flight is silently dropped rather than queued.
func (e *Engine) runCycleSafe(ctx context.Context, characterID string, force bool) {
	lock := e.cycleLock(characterID)
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	lockKey := "lumina:consolidation:cycle:" + characterID
	if !e.cache.TryLock(ctx, lockKey, 5*time.Minute) {
		e.log.Debug().Str("character_id", characterID).Msg("consolidation: cycle already claimed by another process")
		return
	}

	started := time.Now()
	result, err := e.RunCycle(ctx, characterID, force)
	if err != nil {
		e.log.Warn().Str("character_id", characterID).Err(err).Msg("consolidation: cycle failed")
		return
	}

	e.mu.Lock()
	if st, ok := e.characters[characterID]; ok {
		st.lastCycleAt = time.Now()
	}
	e.mu.Unlock()

	if result != nil {
		e.telemetry.RecordCycle(ctx, characterID, result.FactsAdded, result.InsightsAdded, time.Since(started))
	}

	if result != nil {
		e.bus.EmitSync(eventbus.Event{
			Type: "consolidation.completed",
			Data: map[string]any{
				"character_id":   result.CharacterID,
				"facts_added":    result.FactsAdded,
				"insights_added": result.InsightsAdded,
			},
		})
	}
}

// RunCycle executes one consolidation pass for characterID. When force
// is false and fewer than cfg.BatchSize unprocessed entries exist, the
// cycle is a no-op (entries are left to accumulate) and RunCycle
// returns (nil, nil).
//
// Grounded step-for-step on spec §4.4's seven-step cycle.
func (e *Engine) RunCycle(ctx context.Context, characterID string, force bool) (*CycleResult, error) {
	characterID = strings.ToLower(characterID)
	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	entries, err := e.store.UnprocessedLogEntries(ctx, characterID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("consolidation: read unprocessed entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) < batchSize && !force {
		return nil, nil
	}

	var transcript strings.Builder
	ids := make([]int64, len(entries))
	for i, entry := range entries {
		fmt.Fprintf(&transcript, "[%s] %s\n", entry.CreatedAt.Format(time.RFC3339), entry.Narrative)
		ids[i] = entry.ID
	}

	if e.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.LLMTimeout)
		defer cancel()
	}

	raw, err := e.dreamer.InvokeDreaming(ctx, dreamingPrompt(transcript.String()))
	if err != nil {
		return nil, fmt.Errorf("consolidation: dreaming route: %w", err)
	}

	var parsed DreamResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		e.log.Error().Str("character_id", characterID).Str("raw_payload", string(raw)).Err(err).
			Msg("consolidation: malformed dreaming response, aborting cycle without marking entries processed")
		return nil, fmt.Errorf("consolidation: parse dreaming response: %w", err)
	}

	resolved, err := resolveConflicts(ctx, e.store, e.embedder, e.dreamer, characterID, e.cfg.ConflictSimilarity, parsed.Facts)
	if err != nil {
		return nil, err
	}

	factIDByKey := make(map[string]string, len(resolved))
	for _, f := range resolved {
		id, err := e.store.UpsertKnowledgeFact(ctx, memory.KnowledgeFact{
			Subject:     f.Subject,
			Relation:    f.Relation,
			Object:      f.Object,
			Weight:      f.Weight,
			Emotion:     f.Emotion,
			Context:     f.Context,
			CharacterID: characterID,
		})
		if err != nil {
			return nil, fmt.Errorf("consolidation: upsert fact: %w", err)
		}
		factIDByKey[factKey(f.Subject, f.Relation, f.Object)] = id
	}

	evidenceByLabel := make(map[string][]string, len(parsed.EvidenceChain))
	for _, link := range parsed.EvidenceChain {
		for _, key := range link.FactKeys {
			if id, ok := factIDByKey[key]; ok {
				evidenceByLabel[link.InsightLabel] = append(evidenceByLabel[link.InsightLabel], id)
			}
		}
	}

	for _, in := range parsed.Insights {
		if _, err := e.store.UpsertInsight(ctx, memory.Insight{
			Label:       in.Label,
			Description: in.Description,
			Confidence:  in.Confidence,
			Weight:      in.Weight,
			CharacterID: characterID,
			EvidenceIDs: evidenceByLabel[in.Label],
		}); err != nil {
			return nil, fmt.Errorf("consolidation: upsert insight: %w", err)
		}
	}

	if err := e.store.MarkLogProcessed(ctx, ids); err != nil {
		return nil, fmt.Errorf("consolidation: mark processed: %w", err)
	}

	return &CycleResult{
		CharacterID:   characterID,
		FactsAdded:    len(resolved),
		InsightsAdded: len(parsed.Insights),
	}, nil
}

func dreamingPrompt(transcript string) string {
	return fmt.Sprintf(`You are distilling a raw conversation transcript into structured memory.

TRANSCRIPT:
%s

Extract facts, higher-order insights, and which facts evidence each
insight. Return JSON exactly shaped as:
{
  "facts": [{"subject":"...","relation":"...","object":"...","weight":1.0,"emotion":"...","context":"..."}],
  "insights": [{"label":"...","description":"...","confidence":0.0,"weight":0.0}],
  "evidence_chain": [{"insight_label":"...","fact_keys":["subject|relation|object"]}]
}`, transcript)
}
