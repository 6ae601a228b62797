package types

import "errors"

var (
	// ErrEmptyTipSet is returned when building a tipset without blocks.
	ErrEmptyTipSet = errors.New("tipset has no blocks")
	// ErrMismatchedParents is returned when tipset members disagree on
	// parents, height or parent weight.
	ErrMismatchedParents = errors.New("tipset blocks have mismatched parents")
	// ErrDuplicateMiner is returned when two tipset members share a miner.
	ErrDuplicateMiner = errors.New("tipset has more than one block from the same miner")
	// ErrNilHeader is returned when a nil header is used to build a tipset.
	ErrNilHeader = errors.New("nil block header")
	// ErrUndefinedMiner is returned when building a header without a miner address.
	ErrUndefinedMiner = errors.New("block header miner address is undefined")
)
