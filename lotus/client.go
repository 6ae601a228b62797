package lotus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/textileio/filsync/util"
)

var log = logging.Logger("lotus")

// ClientBuilder creates a new Lotus client. The returned function releases
// the connection.
type ClientBuilder func(ctx context.Context) (*API, func(), error)

// MinerInfo is the subset of the miner info this module uses.
type MinerInfo struct {
	Owner  address.Address
	Worker address.Address
}

// Claim is the power claimed by a miner.
type Claim struct {
	RawBytePower    abi.StoragePower
	QualityAdjPower abi.StoragePower
}

// MinerPower is the power of a miner and of the whole network.
type MinerPower struct {
	MinerPower  Claim
	TotalPower  Claim
	HasMinPower bool
}

// TipSet is the subset of a Lotus tipset this module uses.
type TipSet struct {
	Cids   []cid.Cid
	Height abi.ChainEpoch
}

// API is a Lotus JSON-RPC client.
type API struct {
	Internal struct {
		ChainHead       func(context.Context) (*TipSet, error)
		StateMinerInfo  func(context.Context, address.Address, []cid.Cid) (MinerInfo, error)
		StateAccountKey func(context.Context, address.Address, []cid.Cid) (address.Address, error)
		StateMinerPower func(context.Context, address.Address, []cid.Cid) (*MinerPower, error)
	}
}

// New creates a new client to the Lotus API listening on maddr.
func New(ctx context.Context, maddr ma.Multiaddr, authToken string) (*API, func(), error) {
	addr, err := util.TCPAddrFromMultiAddr(maddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving lotus address: %s", err)
	}
	headers := http.Header{}
	if authToken != "" {
		headers.Set("Authorization", "Bearer "+authToken)
	}
	var api API
	closer, err := jsonrpc.NewMergeClient(ctx, "ws://"+addr+"/rpc/v0", "Filecoin",
		[]interface{}{
			&api.Internal,
		}, headers)
	if err != nil {
		return nil, nil, err
	}
	return &api, func() { closer() }, nil
}

// NewBuilder returns a ClientBuilder which connects to the same Lotus node
// on every call.
func NewBuilder(maddr ma.Multiaddr, authToken string) ClientBuilder {
	return func(ctx context.Context) (*API, func(), error) {
		return New(ctx, maddr, authToken)
	}
}

// ChainHead returns the Lotus node head.
func (a *API) ChainHead(ctx context.Context) (*TipSet, error) {
	return a.Internal.ChainHead(ctx)
}

// StateMinerInfo returns the miner info at the tipset.
func (a *API) StateMinerInfo(ctx context.Context, miner address.Address, tsk []cid.Cid) (MinerInfo, error) {
	return a.Internal.StateMinerInfo(ctx, miner, tsk)
}

// StateAccountKey resolves an account to its key address.
func (a *API) StateAccountKey(ctx context.Context, addr address.Address, tsk []cid.Cid) (address.Address, error) {
	return a.Internal.StateAccountKey(ctx, addr, tsk)
}

// StateMinerPower returns the power of a miner at the tipset.
func (a *API) StateMinerPower(ctx context.Context, miner address.Address, tsk []cid.Cid) (*MinerPower, error) {
	return a.Internal.StateMinerPower(ctx, miner, tsk)
}
