package lotus

import (
	"context"
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	"github.com/textileio/filsync/chainsync"
	"github.com/textileio/filsync/types"
)

// StateClient answers miner questions with the state of a Lotus node. It
// can't execute blocks nor validate messages, so those checks are reported
// as unavailable.
type StateClient struct {
	cb ClientBuilder
}

var _ chainsync.StateManager = (*StateClient)(nil)

// NewStateClient returns a new StateClient.
func NewStateClient(cb ClientBuilder) *StateClient {
	return &StateClient{cb: cb}
}

// ExecuteBlock isn't supported by a remote node.
func (sc *StateClient) ExecuteBlock(ctx context.Context, fb *types.FullBlock, parentState cid.Cid) (cid.Cid, cid.Cid, error) {
	return cid.Undef, cid.Undef, fmt.Errorf("executing block: %w", chainsync.ErrUnavailable)
}

// ValidateMessage isn't supported by a remote node.
func (sc *StateClient) ValidateMessage(ctx context.Context, msg types.ChainMsg, parentState cid.Cid) error {
	return fmt.Errorf("validating message: %w", chainsync.ErrUnavailable)
}

// MinerIsEligible returns true if the miner meets the minimum power at base.
func (sc *StateClient) MinerIsEligible(ctx context.Context, miner address.Address, base *types.TipSet) (bool, error) {
	c, cls, err := sc.cb(ctx)
	if err != nil {
		return false, fmt.Errorf("creating lotus client: %s", err)
	}
	defer cls()
	power, err := c.StateMinerPower(ctx, miner, base.Cids())
	if err != nil {
		return false, fmt.Errorf("getting power of %s: %s", miner, err)
	}
	return power.HasMinPower, nil
}

// MinerWorker returns the key address of the miner worker at base.
func (sc *StateClient) MinerWorker(ctx context.Context, miner address.Address, base *types.TipSet) (address.Address, error) {
	c, cls, err := sc.cb(ctx)
	if err != nil {
		return address.Undef, fmt.Errorf("creating lotus client: %s", err)
	}
	defer cls()
	info, err := c.StateMinerInfo(ctx, miner, base.Cids())
	if err != nil {
		return address.Undef, fmt.Errorf("getting info of %s: %s", miner, err)
	}
	key, err := c.StateAccountKey(ctx, info.Worker, base.Cids())
	if err != nil {
		return address.Undef, fmt.Errorf("resolving worker key of %s: %s", info.Worker, err)
	}
	log.Debugf("resolved worker of %s to %s", miner, key)
	return key, nil
}
