package types

import (
	"bytes"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func TestBuildIdentifier(t *testing.T) {
	t.Parallel()
	parents := []cid.Cid{dummyCid(t, "p1")}
	h1 := mustBuild(t, newBuilder(t, 1000, []byte{1}, parents, 10, 3))
	h2 := mustBuild(t, newBuilder(t, 1000, []byte{1}, parents, 10, 3))

	require.True(t, h1.Cid().Equals(h2.Cid()))
	require.Equal(t, h1.RawData(), h2.RawData())

	pref := h1.Cid().Prefix()
	require.Equal(t, uint64(1), pref.Version)
	require.Equal(t, uint64(cid.DagCBOR), pref.Codec)
	require.Equal(t, uint64(multihash.BLAKE2B_MIN+31), pref.MhType)
	require.Equal(t, 32, pref.MhLength)

	expected, err := SumCid(h1.RawData())
	require.NoError(t, err)
	require.True(t, expected.Equals(h1.Cid()))
}

func TestBuildIdentifierChangesWithFields(t *testing.T) {
	t.Parallel()
	parents := []cid.Cid{dummyCid(t, "p1")}
	base := mustBuild(t, newBuilder(t, 1000, []byte{1}, parents, 10, 3))

	mutations := map[string]func(hb *HeaderBuilder){
		"miner":     func(hb *HeaderBuilder) { hb.Miner, _ = address.NewIDAddress(1001) },
		"ticket":    func(hb *HeaderBuilder) { hb.Ticket = &Ticket{VRFProof: []byte{2}} },
		"election":  func(hb *HeaderBuilder) { hb.ElectionProof = &ElectionProof{Proof: []byte{9}} },
		"parents":   func(hb *HeaderBuilder) { hb.Parents = []cid.Cid{dummyCid(t, "p2")} },
		"weight":    func(hb *HeaderBuilder) { hb.ParentWeight = big.NewInt(11) },
		"height":    func(hb *HeaderBuilder) { hb.Height = 4 },
		"state":     func(hb *HeaderBuilder) { hb.StateRoot = dummyCid(t, "other") },
		"receipts":  func(hb *HeaderBuilder) { hb.MessageReceipts = dummyCid(t, "other") },
		"messages":  func(hb *HeaderBuilder) { hb.Messages = dummyCid(t, "other") },
		"bls":       func(hb *HeaderBuilder) { hb.BLSAggregate = &crypto.Signature{Type: crypto.SigTypeBLS, Data: []byte{1}} },
		"timestamp": func(hb *HeaderBuilder) { hb.Timestamp++ },
		"signature": func(hb *HeaderBuilder) { hb.BlockSig = nil },
		"fork":      func(hb *HeaderBuilder) { hb.ForkSignaling = 1 },
	}
	for name, mutate := range mutations {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			hb := base.Builder()
			mutate(hb)
			h := mustBuild(t, hb)
			require.False(t, h.Cid().Equals(base.Cid()))
		})
	}
}

func TestBuildRejectsUndefinedMiner(t *testing.T) {
	t.Parallel()
	hb := newBuilder(t, 1000, []byte{1}, nil, 0, 0)
	hb.Miner = address.Undef
	_, err := hb.Build()
	require.ErrorIs(t, err, ErrUndefinedMiner)
}

func TestBuilderChangesDontLeak(t *testing.T) {
	t.Parallel()
	hb := newBuilder(t, 1000, []byte{1, 2}, []cid.Cid{dummyCid(t, "p1")}, 10, 3)
	h := mustBuild(t, hb)
	c := h.Cid()

	hb.Ticket.VRFProof[0] = 7
	hb.Parents[0] = dummyCid(t, "p2")
	hb.Timestamp = 5

	require.Equal(t, []byte{1, 2}, h.Ticket().VRFProof)
	require.True(t, h.Parents()[0].Equals(dummyCid(t, "p1")))
	require.True(t, c.Equals(h.Cid()))

	b2 := h.Builder()
	b2.Ticket.VRFProof[0] = 9
	require.Equal(t, []byte{1, 2}, h.Ticket().VRFProof)
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	hb := newBuilder(t, 1000, []byte{1, 2, 3}, []cid.Cid{dummyCid(t, "p1"), dummyCid(t, "p2")}, 12345, 42)
	hb.ElectionProof = &ElectionProof{
		Proof:    []byte("proof"),
		PostRand: []byte("rand"),
		Candidates: []ElectionCandidate{
			{Partial: []byte{1}, SectorID: 7, ChallengeIndex: 3},
		},
	}
	hb.ForkSignaling = 2
	h := mustBuild(t, hb)

	h2, err := DecodeBlockHeader(h.RawData())
	require.NoError(t, err)
	require.True(t, h.Equals(h2))
	require.Equal(t, h.RawData(), h2.RawData())
	require.Equal(t, h.ElectionProof(), h2.ElectionProof())
	require.Equal(t, h.Ticket(), h2.Ticket())
	require.Equal(t, h.Height(), h2.Height())
	require.Equal(t, h.Epoch(), h2.Height())
	require.Equal(t, uint64(2), h2.ForkSignaling())
	require.True(t, big.Cmp(h.ParentWeight(), h2.ParentWeight()) == 0)

	var fromStream BlockHeader
	require.NoError(t, fromStream.UnmarshalCBOR(bytes.NewReader(h.RawData())))
	require.True(t, fromStream.Equals(h))
}

func TestHeaderNilFieldsEncodeAsNull(t *testing.T) {
	t.Parallel()
	hb := newBuilder(t, 1000, nil, nil, 0, 0)
	hb.Ticket = nil
	hb.BlockSig = nil
	h := mustBuild(t, hb)

	// array(13), then the miner address bytes, then null ticket and proof.
	require.Equal(t, byte(0x8d), h.RawData()[0])
	minerLen := len(hb.Miner.Bytes()) + 1
	require.Equal(t, []byte{0xf6, 0xf6}, h.RawData()[1+minerLen:3+minerLen])

	h2, err := DecodeBlockHeader(h.RawData())
	require.NoError(t, err)
	require.Nil(t, h2.Ticket())
	require.Nil(t, h2.ElectionProof())
	require.Nil(t, h2.BlockSig())
	require.Nil(t, h2.BLSAggregate())
}

func TestSigningBytes(t *testing.T) {
	t.Parallel()
	hb := newBuilder(t, 1000, []byte{1}, nil, 0, 0)
	signed := mustBuild(t, hb)
	hb.BlockSig = nil
	unsigned := mustBuild(t, hb)

	sb, err := signed.SigningBytes()
	require.NoError(t, err)
	require.Equal(t, unsigned.RawData(), sb)
	require.NotNil(t, signed.BlockSig())
}

func TestTicketEncoding(t *testing.T) {
	t.Parallel()
	tk := &Ticket{VRFProof: []byte{1, 2, 3}}
	b, err := Encode(tk)
	require.NoError(t, err)
	require.Equal(t, []byte{0x81, 0x43, 0x01, 0x02, 0x03}, b)

	var tk2 Ticket
	require.NoError(t, tk2.UnmarshalCBOR(bytes.NewReader(b)))
	require.True(t, tk.Equals(&tk2))
}

func TestElectionProofEncoding(t *testing.T) {
	t.Parallel()
	ep := &ElectionProof{
		Proof:    []byte{0xaa},
		PostRand: []byte{0xbb},
		Candidates: []ElectionCandidate{
			{Partial: []byte{0xcc}, SectorID: 1, ChallengeIndex: 2},
		},
	}
	b, err := Encode(ep)
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x83, 0x41, 0xaa, 0x41, 0xbb,
		0x81, 0x83, 0x41, 0xcc, 0x01, 0x02,
	}, b)

	var ep2 ElectionProof
	require.NoError(t, ep2.UnmarshalCBOR(bytes.NewReader(b)))
	require.Equal(t, ep, &ep2)
}

func TestTicketCompare(t *testing.T) {
	t.Parallel()
	a := &Ticket{VRFProof: []byte{1}}
	b := &Ticket{VRFProof: []byte{2}}
	var nilTicket *Ticket

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.Equal(t, 0, a.Compare(&Ticket{VRFProof: []byte{1}}))
	require.True(t, nilTicket.Less(a))
	require.Nil(t, nilTicket.Copy())
}
