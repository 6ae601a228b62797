package chainsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()
	def := DefaultConfig()

	cfg := Config{
		BlockDelay:          500 * time.Microsecond,
		AllowableClockDrift: -time.Second,
		FetchTimeout:        -time.Second,
		RetryBackoff:        -time.Millisecond,
	}.withDefaults()
	require.Equal(t, def.BlockDelay, cfg.BlockDelay)
	require.Zero(t, cfg.AllowableClockDrift)
	require.Equal(t, def.FetchTimeout, cfg.FetchTimeout)
	require.Equal(t, def.RetryBackoff, cfg.RetryBackoff)
	require.Equal(t, def.MaxFetchLength, cfg.MaxFetchLength)
	require.Equal(t, def.MaxForkLength, cfg.MaxForkLength)
	require.NotNil(t, cfg.Clock)

	cfg = Config{BlockDelay: 500 * time.Millisecond, MaxForkLength: 10}.withDefaults()
	require.Equal(t, 500*time.Millisecond, cfg.BlockDelay)
	require.Equal(t, uint64(10), cfg.MaxForkLength)
}
