// Package soul implements SoulService: per-character personality
// state, system-prompt rendering, atomic on-disk persistence, and a
// scheduled evolution pass that merges LLM-proposed trait updates into
// a character's profile over time.
//
// Grounded on original_source/python_backend/services/soul_service.py
// (active-character switching, persistence delegation),
// services/soul/persistence.py (atomic tmp-then-rename JSON I/O, path
// sanitization), and services/soul/renderer.py (section-based system
// prompt rendering).
package soul

import "time"

// Config is the user-authored half of a CharacterSoul: display name,
// description, and a custom system-prompt fragment. Never written by
// the evolution pass.
type Config struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

// PAD is a Pleasure-Arousal-Dominance mood vector.
type PAD struct {
	Pleasure float64 `json:"pleasure"`
	Arousal  float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// Profile is the AI-evolved half of a CharacterSoul: traits accrue
// over time via the evolution pass and are merged, never replaced.
type Profile struct {
	Traits       []string           `json:"traits"`
	CurrentMood  string             `json:"current_mood"`
	Mood         PAD                `json:"mood_pad"`
	BigFive      map[string]float64 `json:"big_five"`
	LastEvolvedAt time.Time         `json:"last_evolved_at,omitempty"`
}

// RuntimeState is the runtime-counters third of a CharacterSoul:
// interaction counts and timestamps, updated on every chat turn.
type RuntimeState struct {
	InteractionCount  int64     `json:"interaction_count"`
	LastInteractionAt time.Time `json:"last_interaction_at,omitempty"`
	RelationshipLevel int       `json:"relationship_level"`
}

// CharacterSoul is the logically-one-document triple (config.json,
// soul.json, state.json) readers see merged.
type CharacterSoul struct {
	ID      string
	Config  Config
	Profile Profile
	State   RuntimeState
}

// mergeTraits appends any trait in additions not already present in
// existing, preserving existing order (non-destructive merge per
// spec: "traits are merged, never replaced").
func mergeTraits(existing, additions []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	out := existing
	for _, t := range additions {
		if !seen[t] {
			out = append(out, t)
			seen[t] = true
		}
	}
	return out
}
