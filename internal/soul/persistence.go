package soul

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// persistence is the sole filesystem I/O entry point for one
// character's directory: config.json, soul.json, state.json, each
// written atomically (tmp-then-rename).
//
// Grounded on services/soul/persistence.py: same file layout, same
// atomic-write discipline, same path-traversal guard.
type persistence struct {
	dir string
}

func newPersistence(charactersRoot, characterID string) (*persistence, error) {
	safe := sanitizeName(characterID)
	if safe == "" {
		return nil, fmt.Errorf("soul: invalid character id %q", characterID)
	}
	dir := filepath.Join(charactersRoot, safe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("soul: create character dir: %w", err)
	}
	return &persistence{dir: dir}, nil
}

// sanitizeName strips any path component, preventing traversal via a
// character id like "../../etc".
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	return filepath.Base(filepath.Clean(name))
}

func (p *persistence) configPath() string { return filepath.Join(p.dir, "config.json") }
func (p *persistence) soulPath() string   { return filepath.Join(p.dir, "soul.json") }
func (p *persistence) statePath() string  { return filepath.Join(p.dir, "state.json") }

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// writeJSONAtomic writes v to path via a sibling .tmp file and
// os.Rename, so a reader never observes a partial write.
func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (p *persistence) loadConfig() (Config, error) {
	var cfg Config
	err := readJSON(p.configPath(), &cfg)
	return cfg, err
}

func (p *persistence) saveConfig(cfg Config) error {
	return writeJSONAtomic(p.configPath(), cfg)
}

func (p *persistence) loadProfile() (Profile, error) {
	profile := Profile{BigFive: map[string]float64{}}
	err := readJSON(p.soulPath(), &profile)
	if profile.BigFive == nil {
		profile.BigFive = map[string]float64{}
	}
	return profile, err
}

func (p *persistence) saveProfile(profile Profile) error {
	return writeJSONAtomic(p.soulPath(), profile)
}

func (p *persistence) loadState() (RuntimeState, error) {
	var state RuntimeState
	err := readJSON(p.statePath(), &state)
	return state, err
}

func (p *persistence) saveState(state RuntimeState) error {
	return writeJSONAtomic(p.statePath(), state)
}

func (p *persistence) load(id string) (CharacterSoul, error) {
	cfg, err := p.loadConfig()
	if err != nil {
		return CharacterSoul{}, fmt.Errorf("soul: load config: %w", err)
	}
	profile, err := p.loadProfile()
	if err != nil {
		return CharacterSoul{}, fmt.Errorf("soul: load profile: %w", err)
	}
	state, err := p.loadState()
	if err != nil {
		return CharacterSoul{}, fmt.Errorf("soul: load state: %w", err)
	}
	return CharacterSoul{ID: id, Config: cfg, Profile: profile, State: state}, nil
}
