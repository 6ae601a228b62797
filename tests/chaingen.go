package tests

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/textileio/filsync/sigs"
	"github.com/textileio/filsync/types"
)

// GenesisTimestamp is the timestamp of generated genesis blocks.
const GenesisTimestamp = 1_600_000_000

// Miner is a generated block producer. Its worker key is the same key that
// controls the miner address.
type Miner struct {
	Addr address.Address
	Key  []byte
}

// ChainGen generates valid signed chains for tests.
type ChainGen struct {
	Miners     []Miner
	Genesis    *types.BlockHeader
	BlockDelay uint64
}

// BlockOpts customizes a generated block.
type BlockOpts struct {
	// Miner is the index of the producing miner.
	Miner int
	// Weight overrides the parent weight written in the header.
	Weight *big.Int
	// NullRounds is the number of skipped rounds before this block.
	NullRounds int
	// TimestampOffset is added to the minimum valid timestamp.
	TimestampOffset int64
	// BlsMessages and SecpkMessages are included in the block.
	BlsMessages   []*types.Message
	SecpkMessages []*types.SignedMessage
}

// NewChainGen creates a generator with numMiners miners and a genesis block.
func NewChainGen(numMiners int, blockDelay uint64) (*ChainGen, error) {
	cg := &ChainGen{BlockDelay: blockDelay}
	for i := 0; i < numMiners; i++ {
		k, err := sigs.GenerateKey()
		if err != nil {
			return nil, err
		}
		addr, err := sigs.ToAddress(k)
		if err != nil {
			return nil, err
		}
		cg.Miners = append(cg.Miners, Miner{Addr: addr, Key: k})
	}

	root, err := types.ComputeMessageRoot(nil, nil)
	if err != nil {
		return nil, err
	}
	gen, err := (&types.HeaderBuilder{
		Miner:           cg.Miners[0].Addr,
		Ticket:          &types.Ticket{VRFProof: []byte("genesis")},
		ParentWeight:    big.Zero(),
		StateRoot:       StateRootAt(0),
		MessageReceipts: ReceiptsRootAt(0),
		Messages:        root,
		Timestamp:       GenesisTimestamp,
	}).Build()
	if err != nil {
		return nil, fmt.Errorf("building genesis: %s", err)
	}
	cg.Genesis = gen
	return cg, nil
}

// GenesisTipSet returns the genesis tipset.
func (cg *ChainGen) GenesisTipSet() *types.TipSet {
	ts, err := types.NewTipSet([]*types.BlockHeader{cg.Genesis})
	if err != nil {
		panic(err)
	}
	return ts
}

// NextBlock produces a signed block on top of parent.
func (cg *ChainGen) NextBlock(parent *types.TipSet, opts BlockOpts) (*types.FullBlock, error) {
	if opts.Miner >= len(cg.Miners) {
		return nil, fmt.Errorf("unknown miner %d", opts.Miner)
	}
	m := cg.Miners[opts.Miner]
	height := parent.Height() + 1 + abi.ChainEpoch(opts.NullRounds)

	vrf, err := sigs.TicketProof(m.Key, parent.MinTicket().VRFProof)
	if err != nil {
		return nil, fmt.Errorf("computing ticket: %s", err)
	}
	election, err := sigs.ElectionProof(m.Key, parent.MinTicket().VRFProof)
	if err != nil {
		return nil, fmt.Errorf("computing election proof: %s", err)
	}

	bls := make([]cid.Cid, len(opts.BlsMessages))
	for i, msg := range opts.BlsMessages {
		if bls[i], err = msg.Cid(); err != nil {
			return nil, err
		}
	}
	secpk := make([]cid.Cid, len(opts.SecpkMessages))
	for i, msg := range opts.SecpkMessages {
		if secpk[i], err = msg.Cid(); err != nil {
			return nil, err
		}
	}
	root, err := types.ComputeMessageRoot(bls, secpk)
	if err != nil {
		return nil, err
	}

	weight := ChildWeight(parent)
	if opts.Weight != nil {
		weight = *opts.Weight
	}
	ts := int64(parent.MinTimestamp()) + int64(cg.BlockDelay)*int64(height-parent.Height()) + opts.TimestampOffset

	hb := &types.HeaderBuilder{
		Miner:           m.Addr,
		Ticket:          &types.Ticket{VRFProof: vrf},
		ElectionProof:   &types.ElectionProof{Proof: election},
		Parents:         parent.Cids(),
		ParentWeight:    weight,
		Height:          height,
		StateRoot:       StateRootAt(height),
		MessageReceipts: ReceiptsRootAt(height),
		Messages:        root,
		Timestamp:       uint64(ts),
	}
	unsigned, err := hb.Build()
	if err != nil {
		return nil, err
	}
	data, err := unsigned.SigningBytes()
	if err != nil {
		return nil, err
	}
	if hb.BlockSig, err = sigs.Sign(m.Key, data); err != nil {
		return nil, err
	}
	h, err := hb.Build()
	if err != nil {
		return nil, err
	}
	return &types.FullBlock{
		Header:        h,
		BlsMessages:   opts.BlsMessages,
		SecpkMessages: opts.SecpkMessages,
	}, nil
}

// NextTipSet produces a full tipset on top of parent with one block per
// given options.
func (cg *ChainGen) NextTipSet(parent *types.TipSet, opts ...BlockOpts) (*types.FullTipSet, error) {
	if len(opts) == 0 {
		opts = []BlockOpts{{}}
	}
	fbs := make([]*types.FullBlock, len(opts))
	for i, o := range opts {
		fb, err := cg.NextBlock(parent, o)
		if err != nil {
			return nil, err
		}
		fbs[i] = fb
	}
	return types.NewFullTipSet(fbs), nil
}

// Chain produces n consecutive single-block tipsets on top of parent.
func (cg *ChainGen) Chain(parent *types.TipSet, n int, miner int) ([]*types.FullTipSet, error) {
	res := make([]*types.FullTipSet, 0, n)
	for i := 0; i < n; i++ {
		fts, err := cg.NextTipSet(parent, BlockOpts{Miner: miner})
		if err != nil {
			return nil, err
		}
		if parent, err = fts.TipSet(); err != nil {
			return nil, err
		}
		res = append(res, fts)
	}
	return res, nil
}

// SignedMessage returns a message from the miner signed with its key.
func (cg *ChainGen) SignedMessage(miner int, nonce uint64) (*types.SignedMessage, error) {
	m := cg.Miners[miner]
	msg := types.Message{
		To:         m.Addr,
		From:       m.Addr,
		Nonce:      nonce,
		Value:      big.NewInt(1),
		GasLimit:   1000,
		GasFeeCap:  big.NewInt(1),
		GasPremium: big.NewInt(1),
	}
	mc, err := msg.Cid()
	if err != nil {
		return nil, err
	}
	sig, err := sigs.Sign(m.Key, mc.Bytes())
	if err != nil {
		return nil, err
	}
	return &types.SignedMessage{Message: msg, Signature: *sig}, nil
}

// BlsMessage returns an unsigned message from the miner.
func (cg *ChainGen) BlsMessage(miner int, nonce uint64) *types.Message {
	m := cg.Miners[miner]
	return &types.Message{
		To:         m.Addr,
		From:       m.Addr,
		Nonce:      nonce,
		Value:      big.NewInt(2),
		GasLimit:   1000,
		GasFeeCap:  big.NewInt(1),
		GasPremium: big.NewInt(1),
	}
}

// ChildWeight is the parent weight generated blocks carry on top of ts.
func ChildWeight(ts *types.TipSet) big.Int {
	return big.Add(ts.ParentWeight(), big.NewInt(int64(len(ts.Blocks()))))
}

// StateRootAt returns the deterministic state root generated blocks carry.
func StateRootAt(h abi.ChainEpoch) cid.Cid {
	return mustSum(fmt.Sprintf("state/%d", h))
}

// ReceiptsRootAt returns the deterministic receipts root generated blocks carry.
func ReceiptsRootAt(h abi.ChainEpoch) cid.Cid {
	return mustSum(fmt.Sprintf("receipts/%d", h))
}

func mustSum(s string) cid.Cid {
	c, err := types.SumCid([]byte(s))
	if err != nil {
		panic(err)
	}
	return c
}
