package chainsync

import (
	"context"
	"errors"
	"testing"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/tests"
	"github.com/textileio/filsync/types"
)

type brokenMsg struct{}

func (brokenMsg) Cid() (cid.Cid, error) { return cid.Undef, errors.New("can't encode") }

func (brokenMsg) ToStorageBlock() (blocks.Block, error) { return nil, errors.New("can't encode") }

func TestCidsFromMessages(t *testing.T) {
	t.Parallel()
	cg, err := tests.NewChainGen(1, 45)
	require.NoError(t, err)
	m1 := cg.BlsMessage(0, 1)
	m2, err := cg.SignedMessage(0, 2)
	require.NoError(t, err)

	cids, err := CidsFromMessages([]types.ChainMsg{m1, m2})
	require.NoError(t, err)
	c1, err := m1.Cid()
	require.NoError(t, err)
	c2, err := m2.Cid()
	require.NoError(t, err)
	require.Equal(t, []cid.Cid{c1, c2}, cids)

	cids, err = CidsFromMessages(nil)
	require.NoError(t, err)
	require.Empty(t, cids)

	_, err = CidsFromMessages([]types.ChainMsg{m1, brokenMsg{}})
	require.Error(t, err)
}

func TestGetPathToHead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	gen := h.cg.GenesisTipSet()

	chain, err := h.cg.Chain(gen, 4, 0)
	require.NoError(t, err)
	var tss []*types.TipSet
	for _, fts := range chain {
		tss = append(tss, tests.PersistFullTipSet(t, h.cs, fts))
	}
	require.NoError(t, h.cs.SetHead(ctx, tss[3]))

	path, err := GetPathToHead(ctx, h.cs, tss[1].Key())
	require.NoError(t, err)
	require.Len(t, path, 3)
	require.True(t, path[0].Equals(tss[3]))
	require.True(t, path[2].Equals(tss[1]))

	path, err = GetPathToHead(ctx, h.cs, gen.Key())
	require.NoError(t, err)
	require.Len(t, path, 5)
	require.True(t, path[4].Equals(gen))

	// A fork base isn't the end of the path.
	fork, err := h.cg.Chain(tss[0], 2, 1)
	require.NoError(t, err)
	forkTs := tests.PersistFullTipSet(t, h.cs, fork[0])
	path, err = GetPathToHead(ctx, h.cs, forkTs.Key())
	require.NoError(t, err)
	require.False(t, path[len(path)-1].Equals(forkTs))

	_, err = GetPathToHead(ctx, h.cs, types.EmptyTSK)
	require.Error(t, err)
}
