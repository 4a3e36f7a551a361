package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/config"
)

func TestNewConsolidationSink_DisabledReturnsNil(t *testing.T) {
	t.Parallel()
	s, err := NewConsolidationSink(context.Background(), config.ClickHouseConfig{Enabled: false}, zerolog.Nop())
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestNilSink_RecordCycleIsNoop(t *testing.T) {
	t.Parallel()
	var s *ConsolidationSink
	s.RecordCycle(context.Background(), "char1", 1, 1, time.Second)
}

func TestNilSink_CloseIsNoop(t *testing.T) {
	t.Parallel()
	var s *ConsolidationSink
	require.NoError(t, s.Close())
}
