package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/config"
)

func zeroLogger() zerolog.Logger { return zerolog.Nop() }

func TestNew_EmptyAddrReturnsNilClient(t *testing.T) {
	t.Parallel()
	c, err := New(context.Background(), config.RedisConfig{}, zeroLogger())
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestNilClient_TryLockAlwaysSucceeds(t *testing.T) {
	t.Parallel()
	var c *Client
	require.True(t, c.TryLock(context.Background(), "key", time.Second))
}

func TestNilClient_SeenRecentlyNeverDedups(t *testing.T) {
	t.Parallel()
	var c *Client
	require.False(t, c.SeenRecently(context.Background(), "key", time.Second))
}

func TestNilClient_CloseIsNoop(t *testing.T) {
	t.Parallel()
	var c *Client
	require.NoError(t, c.Close())
}
