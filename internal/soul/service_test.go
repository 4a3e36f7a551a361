package soul

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/eventbus"
	"lumina/internal/memory"
)

type stubMemStore struct {
	memory.Store
	memories []memory.EpisodicMemory
}

func (s stubMemStore) RecentEpisodicMemories(context.Context, string, int) ([]memory.EpisodicMemory, error) {
	return s.memories, nil
}

type stubDreamer struct {
	response json.RawMessage
	err      error
}

func (d stubDreamer) InvokeEvolution(context.Context, string) (json.RawMessage, error) {
	return d.response, d.err
}

func writeCharacter(t *testing.T, root, id string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cfg := Config{Name: "Aria", Description: "a test character", SystemPrompt: "You are Aria."}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644))
}

func newTestService(t *testing.T, memStore memory.Store, dreamer Dreamer) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	writeCharacter(t, root, "aria")

	templatePath := filepath.Join(root, "system.yaml")
	require.NoError(t, os.WriteFile(templatePath, []byte("role: You are {{.char_name}}.\nstyle: Be concise.\nconstraints: Never lie.\n"), 0o644))

	svc, err := New(eventbus.New(zerolog.Nop()), root, templatePath, memStore, dreamer, "0 4 * * *", zerolog.Nop())
	require.NoError(t, err)
	return svc, root
}

func TestSetActiveCharacter_LoadsAndEmitsSwitchEvent(t *testing.T) {
	svc, _ := newTestService(t, stubMemStore{}, nil)

	var received eventbus.Event
	done := make(chan struct{})
	svc.bus.Subscribe("character.switched", func(_ context.Context, ev eventbus.Event) error {
		received = ev
		close(done)
		return nil
	})

	require.NoError(t, svc.SetActiveCharacter(context.Background(), "aria"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for character.switched")
	}
	require.Equal(t, "aria", received.Data["character_id"])
	require.Equal(t, "aria", svc.ActiveCharacterID())
}

func TestGetSystemPrompt_RendersFixedSectionOrder(t *testing.T) {
	svc, _ := newTestService(t, stubMemStore{}, nil)
	require.NoError(t, svc.SetActiveCharacter(context.Background(), "aria"))

	prompt, err := svc.GetSystemPrompt(nil)
	require.NoError(t, err)
	require.Equal(t, "You are Aria.\n\nBe concise.\n\nNever lie.", prompt)
}

func TestGetSystemPrompt_NoActiveCharacterErrors(t *testing.T) {
	svc, _ := newTestService(t, stubMemStore{}, nil)
	_, err := svc.GetSystemPrompt(nil)
	require.Error(t, err)
}

func TestOnInteraction_PersistsIncrementedCount(t *testing.T) {
	svc, root := newTestService(t, stubMemStore{}, nil)
	require.NoError(t, svc.SetActiveCharacter(context.Background(), "aria"))

	require.NoError(t, svc.OnInteraction(context.Background(), "hi", "hello"))

	b, err := os.ReadFile(filepath.Join(root, "aria", "state.json"))
	require.NoError(t, err)
	var state RuntimeState
	require.NoError(t, json.Unmarshal(b, &state))
	require.Equal(t, int64(1), state.InteractionCount)
}

func TestRunEvolution_MergesNewTraitsNonDestructively(t *testing.T) {
	store := stubMemStore{memories: []memory.EpisodicMemory{
		{Content: "alice mentioned she loves hiking", CreatedAt: time.Unix(100, 0)},
	}}
	dreamer := stubDreamer{response: json.RawMessage(`{"new_traits":["curious","outdoorsy"],"current_mood":"content","pad_delta":{"pleasure":0.2}}`)}
	svc, root := newTestService(t, store, dreamer)
	require.NoError(t, svc.SetActiveCharacter(context.Background(), "aria"))

	existing := Profile{Traits: []string{"curious"}, BigFive: map[string]float64{}}
	require.NoError(t, writeJSONAtomic(filepath.Join(root, "aria", "soul.json"), existing))
	require.NoError(t, svc.SetActiveCharacter(context.Background(), "aria"))

	require.NoError(t, svc.RunEvolution(context.Background(), "aria"))

	b, err := os.ReadFile(filepath.Join(root, "aria", "soul.json"))
	require.NoError(t, err)
	var profile Profile
	require.NoError(t, json.Unmarshal(b, &profile))
	require.ElementsMatch(t, []string{"curious", "outdoorsy"}, profile.Traits)
	require.Equal(t, "content", profile.CurrentMood)
	require.InDelta(t, 0.2, profile.Mood.Pleasure, 0.0001)
}

func TestRunEvolution_NoMemoriesIsANoop(t *testing.T) {
	svc, root := newTestService(t, stubMemStore{}, stubDreamer{})
	require.NoError(t, svc.SetActiveCharacter(context.Background(), "aria"))

	require.NoError(t, svc.RunEvolution(context.Background(), "aria"))

	_, err := os.Stat(filepath.Join(root, "aria", "soul.json"))
	require.True(t, os.IsNotExist(err))
}

func TestRunEvolution_MalformedResponseErrors(t *testing.T) {
	store := stubMemStore{memories: []memory.EpisodicMemory{{Content: "x", CreatedAt: time.Unix(1, 0)}}}
	svc, _ := newTestService(t, store, stubDreamer{response: json.RawMessage("not json")})
	require.NoError(t, svc.SetActiveCharacter(context.Background(), "aria"))

	err := svc.RunEvolution(context.Background(), "aria")
	require.Error(t, err)
}
