package types

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// FullBlock is a block header together with the messages it includes.
type FullBlock struct {
	Header        *BlockHeader
	BlsMessages   []*Message
	SecpkMessages []*SignedMessage
}

// Cid returns the header identifier.
func (fb *FullBlock) Cid() cid.Cid {
	return fb.Header.Cid()
}

// ComputeMessageRoot computes the message root from the included messages.
func (fb *FullBlock) ComputeMessageRoot() (cid.Cid, error) {
	bls := make([]cid.Cid, len(fb.BlsMessages))
	for i, m := range fb.BlsMessages {
		c, err := m.Cid()
		if err != nil {
			return cid.Undef, fmt.Errorf("computing bls message %d cid: %s", i, err)
		}
		bls[i] = c
	}
	secpk := make([]cid.Cid, len(fb.SecpkMessages))
	for i, m := range fb.SecpkMessages {
		c, err := m.Cid()
		if err != nil {
			return cid.Undef, fmt.Errorf("computing secpk message %d cid: %s", i, err)
		}
		secpk[i] = c
	}
	return ComputeMessageRoot(bls, secpk)
}

// FullTipSet is a tipset with the messages of every block.
type FullTipSet struct {
	Blocks []*FullBlock
}

// NewFullTipSet returns a full tipset with the given blocks.
func NewFullTipSet(blks []*FullBlock) *FullTipSet {
	return &FullTipSet{Blocks: blks}
}

// TipSet builds the tipset made by the block headers.
func (fts *FullTipSet) TipSet() (*TipSet, error) {
	if len(fts.Blocks) == 0 {
		return nil, ErrEmptyTipSet
	}
	hs := make([]*BlockHeader, len(fts.Blocks))
	for i, b := range fts.Blocks {
		if b == nil || b.Header == nil {
			return nil, ErrNilHeader
		}
		hs[i] = b.Header
	}
	return NewTipSet(hs)
}

// Cids returns the identifiers of the blocks in the given order.
func (fts *FullTipSet) Cids() []cid.Cid {
	cids := make([]cid.Cid, 0, len(fts.Blocks))
	for _, b := range fts.Blocks {
		if b != nil && b.Header != nil {
			cids = append(cids, b.Header.Cid())
		}
	}
	return cids
}
