package types

import (
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

func dummyCid(t require.TestingT, s string) cid.Cid {
	c, err := SumCid([]byte(s))
	require.NoError(t, err)
	return c
}

func newBuilder(t require.TestingT, miner uint64, ticket []byte, parents []cid.Cid, weight int64, height abi.ChainEpoch) *HeaderBuilder {
	m, err := address.NewIDAddress(miner)
	require.NoError(t, err)
	return &HeaderBuilder{
		Miner:           m,
		Ticket:          &Ticket{VRFProof: ticket},
		Parents:         parents,
		ParentWeight:    big.NewInt(weight),
		Height:          height,
		StateRoot:       dummyCid(t, "state"),
		MessageReceipts: dummyCid(t, "receipts"),
		Messages:        dummyCid(t, "messages"),
		Timestamp:       1000,
		BlockSig:        &crypto.Signature{Type: crypto.SigTypeSecp256k1, Data: []byte("sig")},
	}
}

func mustBuild(t *testing.T, hb *HeaderBuilder) *BlockHeader {
	h, err := hb.Build()
	require.NoError(t, err)
	return h
}

func mustTipSet(t *testing.T, hs ...*BlockHeader) *TipSet {
	ts, err := NewTipSet(hs)
	require.NoError(t, err)
	return ts
}
