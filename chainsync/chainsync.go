package chainsync

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/textileio/filsync/types"
)

// ChainStore is the persistent chain the syncer extends.
type ChainStore interface {
	TipSetLoader
	Genesis() *types.TipSet
	HasTipSet(context.Context, types.TipSetKey) (bool, error)
	PersistHeaders(context.Context, *types.TipSet) error
	PutMessages(context.Context, []types.ChainMsg) error
	PutTxMeta(context.Context, *types.TxMeta) error
	SetHead(context.Context, *types.TipSet) error
}

// TipSetLoader loads stored tipsets.
type TipSetLoader interface {
	HeaviestTipSet(context.Context) (*types.TipSet, error)
	LoadTipSet(context.Context, types.TipSetKey) (*types.TipSet, error)
}

// Exchange fetches chain data from peers.
type Exchange interface {
	// FetchFullTipSet fetches a single tipset with its messages.
	FetchFullTipSet(ctx context.Context, p peer.ID, key types.TipSetKey) (*types.FullTipSet, error)
	// FetchChain fetches up to length tipsets starting at key and walking
	// towards genesis. The first element is the tipset at key.
	FetchChain(ctx context.Context, p peer.ID, key types.TipSetKey, length uint64) ([]*types.FullTipSet, error)
}

// StateManager executes blocks and answers questions about the chain state.
// Methods return an error wrapping ErrUnavailable when they can't answer.
type StateManager interface {
	// ExecuteBlock applies the block messages on parentState and returns the
	// resulting state and receipts roots.
	ExecuteBlock(ctx context.Context, fb *types.FullBlock, parentState cid.Cid) (stateRoot, receiptsRoot cid.Cid, err error)
	// ValidateMessage returns a non-nil error if msg is invalid on parentState.
	ValidateMessage(ctx context.Context, msg types.ChainMsg, parentState cid.Cid) error
	// MinerIsEligible returns true if the miner has enough power to mine on
	// top of base.
	MinerIsEligible(ctx context.Context, miner address.Address, base *types.TipSet) (bool, error)
	// MinerWorker returns the address of the key that signs for the miner.
	MinerWorker(ctx context.Context, miner address.Address, base *types.TipSet) (address.Address, error)
}

// ElectionVerifier checks election proofs.
type ElectionVerifier interface {
	VerifyElection(ctx context.Context, proof *types.ElectionProof, randomness []byte, miner address.Address) (bool, error)
}

// SignatureVerifier checks block signatures and ticket proofs.
type SignatureVerifier interface {
	VerifyBlockSignature(ctx context.Context, h *types.BlockHeader, worker address.Address) (bool, error)
	VerifyVRF(ctx context.Context, worker address.Address, randomness, proof []byte) (bool, error)
}

// CidsFromMessages returns the identifiers of the messages in order.
func CidsFromMessages(msgs []types.ChainMsg) ([]cid.Cid, error) {
	res := make([]cid.Cid, len(msgs))
	for i, m := range msgs {
		c, err := m.Cid()
		if err != nil {
			return nil, fmt.Errorf("getting message %d cid: %w", i, err)
		}
		res[i] = c
	}
	return res, nil
}

// GetPathToHead returns an ordered tipset slice from the current head down
// to the tipset at the base height. The last element is base itself when
// the head extends it.
func GetPathToHead(ctx context.Context, c TipSetLoader, base types.TipSetKey) ([]*types.TipSet, error) {
	bts, err := c.LoadTipSet(ctx, base)
	if err != nil {
		return nil, err
	}
	ts, err := c.HeaviestTipSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting heaviest tipset: %s", err)
	}
	if ts.Height() < bts.Height() {
		return nil, fmt.Errorf("chain rollback, current height %d, base height %d", ts.Height(), bts.Height())
	}
	path := make([]*types.TipSet, 0, ts.Height()-bts.Height()+1)
	for {
		path = append(path, ts)
		if ts.Height() <= bts.Height() || ts.Parents().IsEmpty() {
			break
		}
		next, err := c.LoadTipSet(ctx, ts.Parents())
		if err != nil {
			return nil, err
		}
		if next.Height() < bts.Height() {
			break
		}
		ts = next
	}
	return path, nil
}

func msgsOf(fb *types.FullBlock) (bls, secpk []types.ChainMsg) {
	bls = make([]types.ChainMsg, len(fb.BlsMessages))
	for i, m := range fb.BlsMessages {
		bls[i] = m
	}
	secpk = make([]types.ChainMsg, len(fb.SecpkMessages))
	for i, m := range fb.SecpkMessages {
		secpk[i] = m
	}
	return bls, secpk
}
