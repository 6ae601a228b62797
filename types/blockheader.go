package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
)

// HeaderBuilder holds every encoded field of a block header. It's the only
// way to produce a BlockHeader.
type HeaderBuilder struct {
	Miner           address.Address
	Ticket          *Ticket
	ElectionProof   *ElectionProof
	Parents         []cid.Cid
	ParentWeight    big.Int
	Height          abi.ChainEpoch
	StateRoot       cid.Cid
	MessageReceipts cid.Cid
	Messages        cid.Cid
	BLSAggregate    *crypto.Signature
	Timestamp       uint64
	BlockSig        *crypto.Signature
	ForkSignaling   uint64
}

// Build validates the fields, computes the canonical encoding and the
// identifier, and returns an immutable header. The builder can be reused
// afterwards without affecting the returned header.
func (hb *HeaderBuilder) Build() (*BlockHeader, error) {
	if hb.Miner == address.Undef {
		return nil, ErrUndefinedMiner
	}
	h := &BlockHeader{f: hb.copy()}
	raw, err := Encode(&h.f)
	if err != nil {
		return nil, fmt.Errorf("encoding block header: %s", err)
	}
	c, err := SumCid(raw)
	if err != nil {
		return nil, err
	}
	h.raw = raw
	h.cid = c
	return h, nil
}

func (hb *HeaderBuilder) copy() HeaderBuilder {
	out := *hb
	out.Ticket = hb.Ticket.Copy()
	out.ElectionProof = hb.ElectionProof.Copy()
	if hb.Parents != nil {
		out.Parents = make([]cid.Cid, len(hb.Parents))
		copy(out.Parents, hb.Parents)
	}
	if hb.ParentWeight.Int == nil {
		out.ParentWeight = big.Zero()
	} else {
		out.ParentWeight = big.Add(hb.ParentWeight, big.Zero())
	}
	out.BLSAggregate = copySig(hb.BLSAggregate)
	out.BlockSig = copySig(hb.BlockSig)
	return out
}

func copySig(s *crypto.Signature) *crypto.Signature {
	if s == nil {
		return nil
	}
	return &crypto.Signature{Type: s.Type, Data: copyBytes(s.Data)}
}

// BlockHeader is an immutable, content-addressed block header. Its
// identifier and canonical bytes are computed once when it's built.
type BlockHeader struct {
	f   HeaderBuilder
	raw []byte
	cid cid.Cid
}

// DecodeBlockHeader decodes a header from its encoding and recomputes its
// identifier from the canonical bytes.
func DecodeBlockHeader(b []byte) (*BlockHeader, error) {
	var hb HeaderBuilder
	if err := hb.UnmarshalCBOR(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("decoding block header: %s", err)
	}
	return hb.Build()
}

// Builder returns a builder initialized with a copy of the header fields.
func (h *BlockHeader) Builder() *HeaderBuilder {
	b := h.f.copy()
	return &b
}

// Cid returns the header identifier.
func (h *BlockHeader) Cid() cid.Cid { return h.cid }

// RawData returns the canonical encoding of the header.
func (h *BlockHeader) RawData() []byte { return h.raw }

// Miner returns the address of the miner that produced the block.
func (h *BlockHeader) Miner() address.Address { return h.f.Miner }

// Ticket returns the block ticket.
func (h *BlockHeader) Ticket() *Ticket { return h.f.Ticket }

// ElectionProof returns the block election proof.
func (h *BlockHeader) ElectionProof() *ElectionProof { return h.f.ElectionProof }

// Parents returns the identifiers of the parent tipset blocks.
func (h *BlockHeader) Parents() []cid.Cid { return h.f.Parents }

// ParentWeight returns the weight of the parent tipset.
func (h *BlockHeader) ParentWeight() big.Int { return h.f.ParentWeight }

// Height returns the chain height of the block.
func (h *BlockHeader) Height() abi.ChainEpoch { return h.f.Height }

// Epoch returns the round the block was mined in. The round isn't encoded
// separately and always equals the height.
func (h *BlockHeader) Epoch() abi.ChainEpoch { return h.f.Height }

// StateRoot returns the parent state root.
func (h *BlockHeader) StateRoot() cid.Cid { return h.f.StateRoot }

// MessageReceipts returns the receipts root.
func (h *BlockHeader) MessageReceipts() cid.Cid { return h.f.MessageReceipts }

// Messages returns the message root.
func (h *BlockHeader) Messages() cid.Cid { return h.f.Messages }

// BLSAggregate returns the aggregated signature of the BLS messages.
func (h *BlockHeader) BLSAggregate() *crypto.Signature { return h.f.BLSAggregate }

// Timestamp returns the block timestamp in seconds.
func (h *BlockHeader) Timestamp() uint64 { return h.f.Timestamp }

// BlockSig returns the miner worker signature of the block.
func (h *BlockHeader) BlockSig() *crypto.Signature { return h.f.BlockSig }

// ForkSignaling returns the fork signal bits.
func (h *BlockHeader) ForkSignaling() uint64 { return h.f.ForkSignaling }

// Equals returns true if both headers have the same identifier.
func (h *BlockHeader) Equals(o *BlockHeader) bool {
	return h.cid.Equals(o.cid)
}

// SigningBytes returns the encoding of the header without its signature,
// which is what the miner worker signs.
func (h *BlockHeader) SigningBytes() ([]byte, error) {
	f := h.f.copy()
	f.BlockSig = nil
	return Encode(&f)
}

// ToStorageBlock returns the header as a content-addressed block.
func (h *BlockHeader) ToStorageBlock() (blocks.Block, error) {
	return blocks.NewBlockWithCid(h.raw, h.cid)
}

// MarshalCBOR writes the cached canonical encoding.
func (h *BlockHeader) MarshalCBOR(w io.Writer) error {
	_, err := w.Write(h.raw)
	return err
}

// UnmarshalCBOR decodes a header and rebuilds it.
func (h *BlockHeader) UnmarshalCBOR(r io.Reader) error {
	var hb HeaderBuilder
	if err := hb.UnmarshalCBOR(r); err != nil {
		return err
	}
	nh, err := hb.Build()
	if err != nil {
		return err
	}
	*h = *nh
	return nil
}

func (h *BlockHeader) String() string {
	return fmt.Sprintf("%s@%d", h.cid, h.f.Height)
}
