package chainsync

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/textileio/filsync/util"
)

var (
	// ErrNoBlocks is returned when an announced tipset carries no blocks.
	ErrNoBlocks = errors.New("announced tipset has no blocks")
	// ErrInvalidRoots is returned when a block message root doesn't match
	// the messages it carries.
	ErrInvalidRoots = errors.New("message root doesn't match included messages")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("block validation failed")
	// ErrIncomplete matches every *IncompleteError.
	ErrIncomplete = errors.New("block validation incomplete")
	// ErrUnavailable is returned by consensus capabilities that can't answer.
	ErrUnavailable = util.ErrUnavailable
)

// Check is a step of the block validation pipeline.
type Check int

// Validation checks, in the order they run.
const (
	CheckSignaturePresence Check = iota + 1
	CheckTimestamp
	CheckElection
	CheckMessages
	CheckMinerEligibility
	CheckBlockSignature
	CheckTicket
)

func (c Check) String() string {
	switch c {
	case CheckSignaturePresence:
		return "signature-presence"
	case CheckTimestamp:
		return "timestamp"
	case CheckElection:
		return "election"
	case CheckMessages:
		return "messages"
	case CheckMinerEligibility:
		return "miner-eligibility"
	case CheckBlockSignature:
		return "block-signature"
	case CheckTicket:
		return "ticket"
	default:
		return fmt.Sprintf("check(%d)", int(c))
	}
}

// ValidationError is returned when a block fails a validation check.
type ValidationError struct {
	Block  cid.Cid
	Check  Check
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("block %s failed %s check: %s", e.Block, e.Check, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IncompleteError is returned when a check couldn't be completed because a
// required capability was unavailable. The block is neither valid nor
// invalid.
type IncompleteError struct {
	Block cid.Cid
	Check Check
	Err   error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("block %s %s check incomplete: %s", e.Block, e.Check, e.Err)
}

// Is makes errors.Is(err, ErrIncomplete) match.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

func (e *IncompleteError) Unwrap() error {
	return e.Err
}
