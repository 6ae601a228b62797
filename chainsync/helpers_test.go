package chainsync

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/chainstore"
	"github.com/textileio/filsync/sigs"
	"github.com/textileio/filsync/syncmanager"
	"github.com/textileio/filsync/tests"
	"github.com/textileio/filsync/types"
)

type harness struct {
	ds    *tests.TxMapDatastore
	cs    *chainstore.Store
	cg    *tests.ChainGen
	sm    *syncmanager.Manager
	clock *clock.Mock
	s     *Syncer
}

func testConfig(clk clock.Clock) Config {
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.FetchTimeout = 5 * time.Second
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newHarness(t *testing.T, exch Exchange, cfgFn func(*Config), opts ...Option) *harness {
	ctx := context.Background()
	ds := tests.NewTxMapDatastore()
	cs, err := chainstore.New(ds)
	require.NoError(t, err)
	cg, err := tests.NewChainGen(3, 45)
	require.NoError(t, err)
	require.NoError(t, cs.SetGenesis(ctx, cg.Genesis))

	clk := clock.NewMock()
	clk.Set(time.Unix(tests.GenesisTimestamp+1_000_000, 0))
	cfg := testConfig(clk)
	if cfgFn != nil {
		cfgFn(&cfg)
	}
	sm := syncmanager.New()
	opts = append([]Option{WithStateManager(&stateManager{eligible: true})}, opts...)
	s := New(cfg, cs, exch, sm, opts...)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return &harness{ds: ds, cs: cs, cg: cg, sm: sm, clock: clk, s: s}
}

func (h *harness) head(t *testing.T) *types.TipSet {
	head, err := h.cs.HeaviestTipSet(context.Background())
	require.NoError(t, err)
	return head
}

func (h *harness) hasBlock(t *testing.T, c cid.Cid) bool {
	ok, err := blockstore.NewBlockstore(h.ds).Has(c)
	require.NoError(t, err)
	return ok
}

func (h *harness) next(t *testing.T, parent *types.TipSet, opts ...tests.BlockOpts) (*types.FullTipSet, *types.TipSet) {
	fts, err := h.cg.NextTipSet(parent, opts...)
	require.NoError(t, err)
	ts, err := fts.TipSet()
	require.NoError(t, err)
	return fts, ts
}

// resign signs a modified header with the key of the given miner.
func (h *harness) resign(t *testing.T, miner int, hb *types.HeaderBuilder) *types.BlockHeader {
	hb.BlockSig = nil
	unsigned, err := hb.Build()
	require.NoError(t, err)
	data, err := unsigned.SigningBytes()
	require.NoError(t, err)
	hb.BlockSig, err = sigs.Sign(h.cg.Miners[miner].Key, data)
	require.NoError(t, err)
	hdr, err := hb.Build()
	require.NoError(t, err)
	return hdr
}

// stateManager resolves every miner as its own worker and executes blocks
// to the roots generated chains carry.
type stateManager struct {
	eligible   bool
	badState   bool
	badMessage error
}

var _ StateManager = (*stateManager)(nil)

func (sm *stateManager) ExecuteBlock(ctx context.Context, fb *types.FullBlock, parentState cid.Cid) (cid.Cid, cid.Cid, error) {
	if sm.badState {
		return tests.StateRootAt(-1), tests.ReceiptsRootAt(fb.Header.Height()), nil
	}
	return tests.StateRootAt(fb.Header.Height()), tests.ReceiptsRootAt(fb.Header.Height()), nil
}

func (sm *stateManager) ValidateMessage(ctx context.Context, msg types.ChainMsg, parentState cid.Cid) error {
	return sm.badMessage
}

func (sm *stateManager) MinerIsEligible(ctx context.Context, miner address.Address, base *types.TipSet) (bool, error) {
	return sm.eligible, nil
}

func (sm *stateManager) MinerWorker(ctx context.Context, miner address.Address, base *types.TipSet) (address.Address, error) {
	return miner, nil
}

// unavailableStateManager can execute blocks but can't answer questions
// about miners.
type unavailableStateManager struct {
	stateManager
}

func (unavailableStateManager) MinerIsEligible(ctx context.Context, miner address.Address, base *types.TipSet) (bool, error) {
	return false, ErrUnavailable
}

func (unavailableStateManager) MinerWorker(ctx context.Context, miner address.Address, base *types.TipSet) (address.Address, error) {
	return address.Undef, ErrUnavailable
}
