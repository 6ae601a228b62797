package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/test"
	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/chainsync"
	"github.com/textileio/filsync/tests"
	"github.com/textileio/filsync/types"
)

var (
	ctx = context.Background()
)

type peerList []peer.ID

func (p peerList) Peers() []peer.ID { return p }

type fixedState chainsync.SyncState

func (s fixedState) State() chainsync.SyncState { return chainsync.SyncState(s) }

type fixedHead struct {
	ts  *types.TipSet
	err error
}

func (h fixedHead) HeaviestTipSet(context.Context) (*types.TipSet, error) { return h.ts, h.err }

func TestModule(t *testing.T) {
	t.Parallel()

	cg, err := tests.NewChainGen(1, 45)
	require.NoError(t, err)
	gen := cg.GenesisTipSet()
	clk := clock.NewMock()
	clk.Set(time.Unix(tests.GenesisTimestamp, 0).Add(time.Minute))
	p, err := test.RandPeerID()
	require.NoError(t, err)

	t.Run("Ok", func(t *testing.T) {
		m := New(peerList{p}, fixedState{Stage: chainsync.StageAccepted}, fixedHead{ts: gen}, 45*time.Second, clk)
		status, messages, err := m.Check(ctx)
		require.NoError(t, err)
		require.Equal(t, Ok, status)
		require.Empty(t, messages)
	})

	t.Run("Degraded", func(t *testing.T) {
		stale := clock.NewMock()
		stale.Set(time.Unix(tests.GenesisTimestamp, 0).Add(time.Hour))
		state := fixedState{Stage: chainsync.StageRejected, Target: gen, Err: chainsync.ErrValidation}
		m := New(peerList{}, state, fixedHead{ts: gen}, 45*time.Second, stale)
		status, messages, err := m.Check(ctx)
		require.NoError(t, err)
		require.Equal(t, Degraded, status)
		want := []string{
			"no connected peers",
			fmt.Sprintf("head %s is 1h0m0s old", gen),
			fmt.Sprintf("last sync of %s was rejected: block validation failed", gen),
		}
		if diff := cmp.Diff(want, messages); diff != "" {
			t.Fatalf("unexpected messages (-want +got):\n%s", diff)
		}
	})

	t.Run("Error", func(t *testing.T) {
		m := New(peerList{p}, fixedState{}, fixedHead{err: errors.New("no head")}, 45*time.Second, clk)
		status, _, err := m.Check(ctx)
		require.Error(t, err)
		require.Equal(t, Error, status)
	})
}
