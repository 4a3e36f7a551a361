package luminaerr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := NewValidation("eventbus.Emit", "schema mismatch", nil)
	require.True(t, errors.Is(err, ErrValidation))
	require.False(t, errors.Is(err, ErrFatal))
}

func TestUnwrap_ExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransient("postgres.Connect", "dial failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	err := NewPermission("plugin.SandboxedContext.Memory", "missing memory.read", nil)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindPermission, kind)

	_, ok = KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(NewTransient("x", "y", nil)))
	require.False(t, IsTransient(NewFatal("x", "y", nil)))
	require.False(t, IsTransient(errors.New("plain")))
}

func TestRetry_StopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), time.Second, func() error {
		calls++
		return NewValidation("op", "bad input", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2*time.Second, func() error {
		calls++
		if calls < 3 {
			return NewTransient("op", "timeout", nil)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}
