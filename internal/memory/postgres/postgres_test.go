package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"lumina/internal/memory"
)

func TestTableName(t *testing.T) {
	require.Equal(t, "conversation_log", tableName(memory.TargetConversationLog))
	require.Equal(t, "episodic_memory", tableName(memory.TargetEpisodicMemory))
	require.Equal(t, "episodic_memory", tableName(""))
}

func TestSearch_EmptyQueryReturnsNoCandidatesWithoutQuerying(t *testing.T) {
	b := &Backend{}
	out, err := b.Search(context.Background(), "char-1", memory.TargetEpisodicMemory, "   ", 10)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestContentByIDs_EmptyInputShortCircuits(t *testing.T) {
	b := &Backend{}
	out, err := b.ContentByIDs(context.Background(), memory.TargetEpisodicMemory, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMarkHit_NoopForConversationLog(t *testing.T) {
	b := &Backend{}
	err := b.MarkHit(context.Background(), memory.TargetConversationLog, "1")
	require.NoError(t, err)
}
