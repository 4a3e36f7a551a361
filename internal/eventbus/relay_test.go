package eventbus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/config"
)

func TestNewKafkaRelay_DisabledReturnsNil(t *testing.T) {
	t.Parallel()
	r := NewKafkaRelay(config.KafkaConfig{Enabled: false}, zerolog.Nop())
	require.Nil(t, r)
}

func TestNewKafkaRelay_EnabledNoBrokersReturnsNil(t *testing.T) {
	t.Parallel()
	r := NewKafkaRelay(config.KafkaConfig{Enabled: true}, zerolog.Nop())
	require.Nil(t, r)
}

func TestNilRelay_AttachDetachAreNoop(t *testing.T) {
	t.Parallel()
	bus := New(zerolog.Nop())
	var r *KafkaRelay
	r.Attach(bus)
	r.Detach(bus)
}
