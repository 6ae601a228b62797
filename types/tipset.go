package types

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// TipSet is a non-empty set of blocks mined in the same round on top of the
// same parents. Blocks are kept in canonical order: ascending ticket, ties
// broken by identifier bytes.
type TipSet struct {
	blks   []*BlockHeader
	cids   []cid.Cid
	key    TipSetKey
	height abi.ChainEpoch
}

// NewTipSet validates the headers and builds a tipset in canonical order.
func NewTipSet(blks []*BlockHeader) (*TipSet, error) {
	if len(blks) == 0 {
		return nil, ErrEmptyTipSet
	}
	sorted := make([]*BlockHeader, len(blks))
	copy(sorted, blks)
	for _, b := range sorted {
		if b == nil {
			return nil, ErrNilHeader
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return blockLess(sorted[i], sorted[j])
	})

	first := sorted[0]
	miners := make(map[address.Address]struct{}, len(sorted))
	for _, b := range sorted {
		if b.Height() != first.Height() {
			return nil, fmt.Errorf("%w: height %d differs from %d", ErrMismatchedParents, b.Height(), first.Height())
		}
		if !cidsEqual(b.Parents(), first.Parents()) {
			return nil, fmt.Errorf("%w: block %s", ErrMismatchedParents, b.Cid())
		}
		if big.Cmp(b.ParentWeight(), first.ParentWeight()) != 0 {
			return nil, fmt.Errorf("%w: weight %s differs from %s", ErrMismatchedParents, b.ParentWeight(), first.ParentWeight())
		}
		if _, ok := miners[b.Miner()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMiner, b.Miner())
		}
		miners[b.Miner()] = struct{}{}
	}

	cids := make([]cid.Cid, len(sorted))
	for i, b := range sorted {
		cids[i] = b.Cid()
	}
	return &TipSet{
		blks:   sorted,
		cids:   cids,
		key:    NewTipSetKey(cids...),
		height: first.Height(),
	}, nil
}

func blockLess(a, b *BlockHeader) bool {
	if c := a.Ticket().Compare(b.Ticket()); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Cid().Bytes(), b.Cid().Bytes()) < 0
}

// Key returns the tipset key.
func (ts *TipSet) Key() TipSetKey { return ts.key }

// Cids returns the identifiers of the blocks in canonical order.
func (ts *TipSet) Cids() []cid.Cid {
	out := make([]cid.Cid, len(ts.cids))
	copy(out, ts.cids)
	return out
}

// Blocks returns the headers in canonical order.
func (ts *TipSet) Blocks() []*BlockHeader {
	out := make([]*BlockHeader, len(ts.blks))
	copy(out, ts.blks)
	return out
}

// Height returns the tipset height.
func (ts *TipSet) Height() abi.ChainEpoch { return ts.height }

// Parents returns the key of the parent tipset.
func (ts *TipSet) Parents() TipSetKey {
	return NewTipSetKey(ts.blks[0].Parents()...)
}

// ParentWeight returns the weight of the parent tipset.
func (ts *TipSet) ParentWeight() big.Int { return ts.blks[0].ParentWeight() }

// ParentState returns the state root shared by the tipset blocks.
func (ts *TipSet) ParentState() cid.Cid { return ts.blks[0].StateRoot() }

// MinTimestamp returns the smallest block timestamp.
func (ts *TipSet) MinTimestamp() uint64 {
	min := ts.blks[0].Timestamp()
	for _, b := range ts.blks[1:] {
		if b.Timestamp() < min {
			min = b.Timestamp()
		}
	}
	return min
}

// MinTicketBlock returns the block with the smallest ticket.
func (ts *TipSet) MinTicketBlock() *BlockHeader {
	return ts.blks[0]
}

// MinTicket returns the smallest ticket of the tipset.
func (ts *TipSet) MinTicket() *Ticket {
	return ts.blks[0].Ticket()
}

// Contains returns true if the block is a member of the tipset.
func (ts *TipSet) Contains(c cid.Cid) bool {
	for _, tc := range ts.cids {
		if tc.Equals(c) {
			return true
		}
	}
	return false
}

// IsChildOf returns true if parent is the direct parent of ts.
func (ts *TipSet) IsChildOf(parent *TipSet) bool {
	return ts.Parents().Equals(parent.Key()) && ts.height > parent.height
}

// Equals returns true if both tipsets have the same key.
func (ts *TipSet) Equals(o *TipSet) bool {
	if ts == nil || o == nil {
		return ts == o
	}
	return ts.key.Equals(o.key)
}

func (ts *TipSet) String() string {
	return fmt.Sprintf("%s@%d", ts.key, ts.height)
}
