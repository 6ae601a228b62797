package chainsync

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/textileio/filsync/util"
)

// Config configures a Syncer.
type Config struct {
	// BlockDelay is the minimum duration between two consecutive rounds.
	BlockDelay time.Duration
	// AllowableClockDrift is how far in the future a block timestamp can be.
	AllowableClockDrift time.Duration
	// FetchTimeout bounds every network fetch.
	FetchTimeout time.Duration
	// FetchRetries is the number of retries against an unreachable peer.
	FetchRetries uint64
	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration
	// MaxFetchLength is the max number of tipsets requested at once.
	MaxFetchLength uint64
	// MaxForkLength is how far below the current head a fetched chain can
	// fork from the local chain.
	MaxForkLength uint64
	// AcceptIncomplete adopts tipsets whose validation couldn't be
	// completed, as long as no check failed.
	AcceptIncomplete bool
	// Clock is the source of wall-clock time.
	Clock clock.Clock
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BlockDelay:          util.DefaultBlockDelay,
		AllowableClockDrift: time.Second,
		FetchTimeout:        time.Second * 30,
		FetchRetries:        3,
		RetryBackoff:        time.Second,
		MaxFetchLength:      100,
		MaxForkLength:       900,
		Clock:               clock.New(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BlockDelay < time.Millisecond {
		c.BlockDelay = def.BlockDelay
	}
	if c.AllowableClockDrift < 0 {
		c.AllowableClockDrift = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.MaxFetchLength == 0 {
		c.MaxFetchLength = def.MaxFetchLength
	}
	if c.MaxForkLength == 0 {
		c.MaxForkLength = def.MaxForkLength
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}
