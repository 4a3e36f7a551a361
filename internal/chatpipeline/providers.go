package chatpipeline

import (
	"context"
	"fmt"
	"strings"

	"lumina/internal/memory"
	"lumina/internal/session"
	"lumina/internal/soul"
)

// SoulProvider renders the active character's system prompt as a
// ContextProvider, per spec §4.5: "The Soul provider returns the
// rendered system prompt (static identity + dynamic state)."
type SoulProvider struct {
	soul *soul.Service
}

func NewSoulProvider(s *soul.Service) *SoulProvider { return &SoulProvider{soul: s} }

func (p *SoulProvider) Name() string { return "soul" }

func (p *SoulProvider) BuildContext(_ context.Context, sess *session.Session, _ string) (string, error) {
	extra := map[string]any{}
	if sess != nil {
		extra["user_id"] = sess.UserID
	}
	return p.soul.GetSystemPrompt(extra)
}

// RAGProvider embeds the last user message, runs search_hybrid against
// episodic memory, and formats the hits as a memory block. Its output
// is spliced into the user's message rather than the system prompt.
//
// Grounded on spec §4.5's RAG provider description and
// internal/memory's SearchHybrid contract.
type RAGProvider struct {
	memory   *memory.MemoryStore
	embedder memory.Embedder
	limit    int
}

func NewRAGProvider(m *memory.MemoryStore, embedder memory.Embedder, limit int) *RAGProvider {
	if limit <= 0 {
		limit = 5
	}
	return &RAGProvider{memory: m, embedder: embedder, limit: limit}
}

func (p *RAGProvider) Name() string  { return "rag" }
func (p *RAGProvider) Splice() bool  { return true }

func (p *RAGProvider) BuildContext(ctx context.Context, sess *session.Session, userInput string) (string, error) {
	if strings.TrimSpace(userInput) == "" {
		return "", nil
	}
	var vector []float32
	if p.embedder != nil {
		// best-effort: a failed embed degrades to text-only search rather than aborting the turn
		if v, err := p.embedder.Embed(ctx, userInput); err == nil {
			vector = v
		}
	}
	hits, err := p.memory.SearchHybrid(ctx, memory.SearchHybridParams{
		QueryText:   userInput,
		QueryVector: vector,
		CharacterID: sess.CharacterID,
		Limit:       p.limit,
		TargetTable: memory.TargetEpisodicMemory,
	})
	if err != nil || len(hits) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString("Relevant memories:\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "- %s\n", h.Content)
	}
	return sb.String(), nil
}
