package signaler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/tests"
)

func TestSignal(t *testing.T) {
	t.Parallel()
	cg, err := tests.NewChainGen(1, 45)
	require.NoError(t, err)
	chain, err := cg.Chain(cg.GenesisTipSet(), 2, 0)
	require.NoError(t, err)
	ts1, err := chain[0].TipSet()
	require.NoError(t, err)
	ts2, err := chain[1].TipSet()
	require.NoError(t, err)

	s := New()
	c1 := s.Listen()
	c2 := s.Listen()

	s.Signal(ts1)
	require.True(t, (<-c1).Equals(ts1))

	// c2 didn't read ts1, it only sees the latest head.
	s.Signal(ts2)
	require.True(t, (<-c2).Equals(ts2))
	require.True(t, (<-c1).Equals(ts2))

	s.Unregister(c1)
	_, ok := <-c1
	require.False(t, ok)

	s.Close()
	_, ok = <-c2
	require.False(t, ok)
	_, ok = <-s.Listen()
	require.False(t, ok)
}
