package types

import (
	"bytes"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

func testMessage(t *testing.T, nonce uint64) *Message {
	to, err := address.NewIDAddress(100)
	require.NoError(t, err)
	from, err := address.NewIDAddress(101)
	require.NoError(t, err)
	return &Message{
		To:         to,
		From:       from,
		Nonce:      nonce,
		Value:      big.NewInt(10),
		GasLimit:   1000,
		GasFeeCap:  big.NewInt(1),
		GasPremium: big.NewInt(1),
		Method:     2,
		Params:     []byte("params"),
	}
}

func TestMessageCid(t *testing.T) {
	t.Parallel()
	m1, m2 := testMessage(t, 1), testMessage(t, 2)
	c1, err := m1.Cid()
	require.NoError(t, err)
	c1b, err := testMessage(t, 1).Cid()
	require.NoError(t, err)
	c2, err := m2.Cid()
	require.NoError(t, err)

	require.True(t, c1.Equals(c1b))
	require.False(t, c1.Equals(c2))

	blk, err := m1.ToStorageBlock()
	require.NoError(t, err)
	var dec Message
	require.NoError(t, dec.UnmarshalCBOR(bytes.NewReader(blk.RawData())))
	dc, err := dec.Cid()
	require.NoError(t, err)
	require.True(t, dc.Equals(c1))
}

func TestMessageCidUndefinedAddress(t *testing.T) {
	t.Parallel()
	m := testMessage(t, 1)
	m.To = address.Undef
	_, err := m.Cid()
	require.Error(t, err)
}

func TestComputeMessageRoot(t *testing.T) {
	t.Parallel()
	bls := testMessage(t, 1)
	secp := &SignedMessage{
		Message:   *testMessage(t, 2),
		Signature: crypto.Signature{Type: crypto.SigTypeSecp256k1, Data: []byte("sig")},
	}
	fb := &FullBlock{
		BlsMessages:   []*Message{bls},
		SecpkMessages: []*SignedMessage{secp},
	}
	root, err := fb.ComputeMessageRoot()
	require.NoError(t, err)

	bc, err := bls.Cid()
	require.NoError(t, err)
	sc, err := secp.Cid()
	require.NoError(t, err)
	expected, err := ComputeMessageRoot([]cid.Cid{bc}, []cid.Cid{sc})
	require.NoError(t, err)
	require.True(t, expected.Equals(root))

	swapped, err := ComputeMessageRoot([]cid.Cid{sc}, []cid.Cid{bc})
	require.NoError(t, err)
	require.False(t, swapped.Equals(root))
}

func TestFullTipSetEncoding(t *testing.T) {
	t.Parallel()
	msg := testMessage(t, 1)
	mc, err := msg.Cid()
	require.NoError(t, err)
	root, err := ComputeMessageRoot([]cid.Cid{mc}, nil)
	require.NoError(t, err)

	hb := newBuilder(t, 1, []byte{1}, nil, 1, 1)
	hb.Messages = root
	fts := NewFullTipSet([]*FullBlock{{
		Header:      mustBuild(t, hb),
		BlsMessages: []*Message{msg},
	}})

	b, err := Encode(fts)
	require.NoError(t, err)
	var dec FullTipSet
	require.NoError(t, dec.UnmarshalCBOR(bytes.NewReader(b)))
	require.Len(t, dec.Blocks, 1)
	require.True(t, dec.Blocks[0].Header.Equals(fts.Blocks[0].Header))
	require.Len(t, dec.Blocks[0].BlsMessages, 1)
	require.Empty(t, dec.Blocks[0].SecpkMessages)

	decRoot, err := dec.Blocks[0].ComputeMessageRoot()
	require.NoError(t, err)
	require.True(t, decRoot.Equals(root))

	ts, err := dec.TipSet()
	require.NoError(t, err)
	require.Equal(t, fts.Cids(), ts.Cids())
}

func TestFullTipSetEmpty(t *testing.T) {
	t.Parallel()
	_, err := (&FullTipSet{}).TipSet()
	require.ErrorIs(t, err, ErrEmptyTipSet)
	_, err = (&FullTipSet{Blocks: []*FullBlock{{}}}).TipSet()
	require.ErrorIs(t, err, ErrNilHeader)
}
