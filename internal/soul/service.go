package soul

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"lumina/internal/eventbus"
	"lumina/internal/memory"
)

// Dreamer is the LLMManager routing surface the evolution pass needs.
type Dreamer interface {
	InvokeEvolution(ctx context.Context, prompt string) (json.RawMessage, error)
}

// evolutionUpdate is the evolution pass's expected structured-output
// shape: new traits to merge, an optional mood label, and optional PAD
// deltas, per spec §4.6.
type evolutionUpdate struct {
	NewTraits   []string       `json:"new_traits"`
	CurrentMood string         `json:"current_mood"`
	PADDelta    map[string]float64 `json:"pad_delta"`
}

// Service is SoulService: holds the active character's CharacterSoul,
// renders system prompts, and runs a scheduled evolution pass.
//
// Grounded on soul_service.py: single active character, persistence
// delegation, and the interaction hook that feeds the evolution pass.
type Service struct {
	bus            *eventbus.Bus
	charactersRoot string
	renderer       *renderer
	memStore       memory.Store
	dreamer        Dreamer
	evolutionAt    string // cron expression, default "0 4 * * *"
	log            zerolog.Logger

	mu     sync.RWMutex
	active *CharacterSoul

	schedule  cron.Schedule
	nextFire  time.Time
	subMinute eventbus.SubscriptionID
}

// New builds a Service. dreamer may be nil, which disables the
// scheduled evolution pass (its tick handler becomes a no-op).
func New(bus *eventbus.Bus, charactersRoot, templatePath string, memStore memory.Store, dreamer Dreamer, evolutionCron string, log zerolog.Logger) (*Service, error) {
	if evolutionCron == "" {
		evolutionCron = "0 4 * * *"
	}
	schedule, err := cron.ParseStandard(evolutionCron)
	if err != nil {
		return nil, fmt.Errorf("soul: parse evolution schedule: %w", err)
	}
	return &Service{
		bus:            bus,
		charactersRoot: charactersRoot,
		renderer:       newRenderer(templatePath),
		memStore:       memStore,
		dreamer:        dreamer,
		evolutionAt:    evolutionCron,
		schedule:       schedule,
		nextFire:       schedule.Next(time.Now()),
		log:            log,
	}, nil
}

// Start loads the given default character active and subscribes to
// system.tick.minute to drive the scheduled evolution check (per spec
// §4.6, scheduled behavior subscribes to the global ticker rather than
// spawning its own timer; robfig/cron is used only to compute the next
// fire time from the configured expression).
func (s *Service) Start(ctx context.Context, defaultCharacterID string) error {
	if err := s.SetActiveCharacter(ctx, defaultCharacterID); err != nil {
		return err
	}
	s.subMinute = s.bus.Subscribe("system.tick.minute", s.onMinute)
	return nil
}

// Stop unsubscribes from the bus.
func (s *Service) Stop() {
	s.bus.Unsubscribe(s.subMinute)
}

func (s *Service) onMinute(ctx context.Context, _ eventbus.Event) error {
	if s.dreamer == nil {
		return nil
	}
	now := time.Now()
	if now.Before(s.nextFire) {
		return nil
	}
	s.nextFire = s.schedule.Next(now)

	s.mu.RLock()
	characterID := ""
	if s.active != nil {
		characterID = s.active.ID
	}
	s.mu.RUnlock()
	if characterID == "" {
		return nil
	}

	if err := s.RunEvolution(ctx, characterID); err != nil {
		s.log.Warn().Str("character_id", characterID).Err(err).Msg("soul: evolution pass failed")
	}
	return nil
}

// SetActiveCharacter atomically reloads config/soul/state for
// characterID and emits character.switched.
func (s *Service) SetActiveCharacter(_ context.Context, characterID string) error {
	p, err := newPersistence(s.charactersRoot, characterID)
	if err != nil {
		return err
	}
	loaded, err := p.load(sanitizeName(characterID))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.active = &loaded
	s.mu.Unlock()

	s.bus.EmitSync(eventbus.Event{
		Type: "character.switched",
		Data: map[string]any{"character_id": loaded.ID},
	})
	return nil
}

// ActiveCharacterID returns the currently active character's id, or
// "" if none is loaded.
func (s *Service) ActiveCharacterID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

// CurrentMood returns a copy of the active character's mood, or nil if
// no character is active. Used by LLMManager to perturb generation
// parameters per spec §4.7.
func (s *Service) CurrentMood() *PAD {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	mood := s.active.Profile.Mood
	return &mood
}

// GetSystemPrompt renders the active character's system prompt,
// merging extra context variables on top of the character's own state.
func (s *Service) GetSystemPrompt(extra map[string]any) (string, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active == nil {
		return "", fmt.Errorf("soul: no active character")
	}
	return s.renderer.Render(*active, extra)
}

// OnInteraction is called after each successful chat turn: it
// increments the interaction counter and persists state atomically.
func (s *Service) OnInteraction(_ context.Context, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return fmt.Errorf("soul: no active character")
	}
	s.active.State.InteractionCount++
	s.active.State.LastInteractionAt = time.Now()

	p, err := newPersistence(s.charactersRoot, s.active.ID)
	if err != nil {
		return err
	}
	return p.saveState(s.active.State)
}

// RunEvolution runs one evolution pass for characterID: reads recent
// episodic memories, asks the LLM for trait-update JSON, and applies
// non-destructive updates (traits merged, never replaced).
func (s *Service) RunEvolution(ctx context.Context, characterID string) error {
	memories, err := s.memStore.RecentEpisodicMemories(ctx, characterID, 50)
	if err != nil {
		return fmt.Errorf("soul: read recent memories: %w", err)
	}
	if len(memories) == 0 {
		return nil
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].CreatedAt.Before(memories[j].CreatedAt) })

	var transcript strings.Builder
	for _, m := range memories {
		transcript.WriteString("- " + m.Content + "\n")
	}

	raw, err := s.dreamer.InvokeEvolution(ctx, evolutionPrompt(transcript.String()))
	if err != nil {
		return fmt.Errorf("soul: evolution route: %w", err)
	}
	var update evolutionUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return fmt.Errorf("soul: parse evolution response: %w", err)
	}

	p, err := newPersistence(s.charactersRoot, characterID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != sanitizeName(characterID) {
		return nil // evolution targets a character no longer active; skip applying
	}

	s.active.Profile.Traits = mergeTraits(s.active.Profile.Traits, update.NewTraits)
	if update.CurrentMood != "" {
		s.active.Profile.CurrentMood = update.CurrentMood
	}
	if d, ok := update.PADDelta["pleasure"]; ok {
		s.active.Profile.Mood.Pleasure += d
	}
	if d, ok := update.PADDelta["arousal"]; ok {
		s.active.Profile.Mood.Arousal += d
	}
	if d, ok := update.PADDelta["dominance"]; ok {
		s.active.Profile.Mood.Dominance += d
	}
	s.active.Profile.LastEvolvedAt = time.Now()

	return p.saveProfile(s.active.Profile)
}

func evolutionPrompt(transcript string) string {
	return fmt.Sprintf(`You are evolving an AI character's personality based on recent memories.

RECENT MEMORIES:
%s

Propose trait additions and a mood update. Return JSON exactly shaped as:
{"new_traits": ["..."], "current_mood": "...", "pad_delta": {"pleasure": 0.0, "arousal": 0.0, "dominance": 0.0}}`, transcript)
}
