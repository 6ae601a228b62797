package chainstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/tests"
	"github.com/textileio/filsync/types"
)

func newStore(t *testing.T) (*Store, *tests.ChainGen, *tests.TxMapDatastore) {
	ds := tests.NewTxMapDatastore()
	cs, err := New(ds)
	require.NoError(t, err)
	cg, err := tests.NewChainGen(2, 45)
	require.NoError(t, err)
	require.NoError(t, cs.SetGenesis(context.Background(), cg.Genesis))
	return cs, cg, ds
}

func persistChain(t *testing.T, cs *Store, chain []*types.FullTipSet) []*types.TipSet {
	res := make([]*types.TipSet, len(chain))
	for i, fts := range chain {
		res[i] = tests.PersistFullTipSet(t, cs, fts)
	}
	return res
}

func TestEmptyStore(t *testing.T) {
	t.Parallel()
	cs, err := New(tests.NewTxMapDatastore())
	require.NoError(t, err)
	_, err = cs.HeaviestTipSet(context.Background())
	require.ErrorIs(t, err, ErrNoHead)
	require.Nil(t, cs.Genesis())
}

func TestGenesisIsHead(t *testing.T) {
	t.Parallel()
	cs, cg, _ := newStore(t)
	head, err := cs.HeaviestTipSet(context.Background())
	require.NoError(t, err)
	require.True(t, head.Equals(cg.GenesisTipSet()))
	require.True(t, cs.Genesis().Equals(cg.GenesisTipSet()))
}

func TestLoadTipSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs, cg, _ := newStore(t)

	fts, err := cg.NextTipSet(cg.GenesisTipSet(), tests.BlockOpts{Miner: 0}, tests.BlockOpts{Miner: 1})
	require.NoError(t, err)
	ts, err := fts.TipSet()
	require.NoError(t, err)

	ok, err := cs.HasTipSet(ctx, ts.Key())
	require.NoError(t, err)
	require.False(t, ok)
	_, err = cs.LoadTipSet(ctx, ts.Key())
	require.ErrorIs(t, err, ErrNotFound)

	persistChain(t, cs, []*types.FullTipSet{fts})
	ok, err = cs.HasTipSet(ctx, ts.Key())
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := cs.LoadTipSet(ctx, ts.Key())
	require.NoError(t, err)
	require.True(t, loaded.Equals(ts))
	require.Equal(t, ts.Cids(), loaded.Cids())
}

func TestLoadFullTipSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs, cg, _ := newStore(t)

	smsg, err := cg.SignedMessage(0, 1)
	require.NoError(t, err)
	fts, err := cg.NextTipSet(cg.GenesisTipSet(), tests.BlockOpts{
		BlsMessages:   []*types.Message{cg.BlsMessage(1, 1)},
		SecpkMessages: []*types.SignedMessage{smsg},
	})
	require.NoError(t, err)
	ts := persistChain(t, cs, []*types.FullTipSet{fts})[0]

	loaded, err := cs.LoadFullTipSet(ctx, ts.Key())
	require.NoError(t, err)
	require.Len(t, loaded.Blocks, 1)
	require.Len(t, loaded.Blocks[0].BlsMessages, 1)
	require.Len(t, loaded.Blocks[0].SecpkMessages, 1)

	root, err := loaded.Blocks[0].ComputeMessageRoot()
	require.NoError(t, err)
	require.True(t, root.Equals(ts.Blocks()[0].Messages()))
}

func TestSetHeadAndReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs, cg, ds := newStore(t)

	chain, err := cg.Chain(cg.GenesisTipSet(), 3, 0)
	require.NoError(t, err)
	tss := persistChain(t, cs, chain)
	for _, ts := range tss {
		require.NoError(t, cs.SetHead(ctx, ts))
	}

	cs2, err := New(ds)
	require.NoError(t, err)
	head, err := cs2.HeaviestTipSet(ctx)
	require.NoError(t, err)
	require.True(t, head.Equals(tss[2]))
	require.True(t, cs2.Genesis().Equals(cg.GenesisTipSet()))
	require.Len(t, cs2.RecentHeads(), 4)
}

func TestSetHeadCapsCheckpoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs, cg, _ := newStore(t)

	chain, err := cg.Chain(cg.GenesisTipSet(), maxCheckpoints+5, 0)
	require.NoError(t, err)
	tss := persistChain(t, cs, chain)
	for _, ts := range tss {
		require.NoError(t, cs.SetHead(ctx, ts))
	}
	heads := cs.RecentHeads()
	require.Len(t, heads, maxCheckpoints)
	require.Equal(t, tss[len(tss)-1].Key(), heads[len(heads)-1])
}

// Adopting a fork prunes the journaled heads of the abandoned branch.
func TestSetHeadPrunesForkedHeads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs, cg, _ := newStore(t)

	main, err := cg.Chain(cg.GenesisTipSet(), 3, 0)
	require.NoError(t, err)
	mainTss := persistChain(t, cs, main)
	for _, ts := range mainTss {
		require.NoError(t, cs.SetHead(ctx, ts))
	}

	fork, err := cg.Chain(mainTss[0], 4, 1)
	require.NoError(t, err)
	forkTss := persistChain(t, cs, fork)
	require.NoError(t, cs.SetHead(ctx, forkTss[3]))

	heads := cs.RecentHeads()
	require.Equal(t, []types.TipSetKey{
		cg.GenesisTipSet().Key(),
		mainTss[0].Key(),
		forkTss[3].Key(),
	}, heads)
}

func TestPrecedes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs, cg, _ := newStore(t)

	main, err := cg.Chain(cg.GenesisTipSet(), 3, 0)
	require.NoError(t, err)
	tss := persistChain(t, cs, main)
	fork, err := cg.Chain(tss[0], 2, 1)
	require.NoError(t, err)
	forkTss := persistChain(t, cs, fork)

	gen := cg.GenesisTipSet().Key()
	cases := []struct {
		from, to types.TipSetKey
		ok       bool
	}{
		{gen, tss[2].Key(), true},
		{tss[0].Key(), tss[2].Key(), true},
		{tss[2].Key(), tss[2].Key(), true},
		{tss[2].Key(), tss[0].Key(), false},
		{tss[1].Key(), forkTss[1].Key(), false},
		{tss[0].Key(), forkTss[1].Key(), true},
		{types.EmptyTSK, tss[1].Key(), true},
	}
	for i, c := range cases {
		ok, err := cs.Precedes(ctx, c.from, c.to)
		require.NoError(t, err)
		require.Equal(t, c.ok, ok, "case %d", i)
	}
}
