package node

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/chainsync"
	"github.com/textileio/filsync/fchost"
	"github.com/textileio/filsync/tests"
)

func newNode(t *testing.T, genesisPath string, bootstrap ...string) *Node {
	t.Helper()
	cfg := chainsync.DefaultConfig()
	cfg.AcceptIncomplete = true
	n, err := New(context.Background(), Config{
		RepoPath:    t.TempDir(),
		GenesisPath: genesisPath,
		Host: fchost.Config{
			ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
			Bootstrap:   bootstrap,
		},
		Sync: cfg,
	})
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func writeGenesis(t *testing.T, cg *tests.ChainGen) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.cbor")
	require.NoError(t, ioutil.WriteFile(path, cg.Genesis.RawData(), 0644))
	return path
}

func TestNodeSyncsFromBootstrapPeer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cg, err := tests.NewChainGen(2, 45)
	require.NoError(t, err)
	genesis := writeGenesis(t, cg)

	a := newNode(t, genesis)
	chain, err := cg.Chain(cg.GenesisTipSet(), 5, 0)
	require.NoError(t, err)
	for _, fts := range chain {
		ts := tests.PersistFullTipSet(t, a.ChainStore(), fts)
		require.NoError(t, a.ChainStore().SetHead(ctx, ts))
	}
	target, err := a.ChainStore().HeaviestTipSet(ctx)
	require.NoError(t, err)

	addr := fmt.Sprintf("%s/p2p/%s", a.Host().Addrs()[0], a.Host().ID())
	b := newNode(t, genesis, addr)
	require.Eventually(t, func() bool {
		head, err := b.ChainStore().HeaviestTipSet(ctx)
		return err == nil && head.Equals(target)
	}, 10*time.Second, 50*time.Millisecond)

	_, messages, err := b.Health().Check(ctx)
	require.NoError(t, err)
	require.NotContains(t, messages, "no connected peers")
}

func TestNodeRequiresGenesis(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{
		RepoPath: t.TempDir(),
		Host:     fchost.Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}},
	})
	require.Error(t, err)
}

func TestNodeReopensRepo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cg, err := tests.NewChainGen(1, 45)
	require.NoError(t, err)
	genesis := writeGenesis(t, cg)
	repo := t.TempDir()
	conf := Config{
		RepoPath:    repo,
		GenesisPath: genesis,
		Host:        fchost.Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}},
	}

	n, err := New(ctx, conf)
	require.NoError(t, err)
	n.Close()

	conf.GenesisPath = ""
	n, err = New(ctx, conf)
	require.NoError(t, err)
	require.True(t, n.ChainStore().Genesis().Equals(cg.GenesisTipSet()))
	n.Close()

	other, err := tests.NewChainGen(1, 45)
	require.NoError(t, err)
	conf.GenesisPath = writeGenesis(t, other)
	_, err = New(ctx, conf)
	require.Error(t, err)
}
