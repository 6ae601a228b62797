package chainsync

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/textileio/filsync/types"
	"golang.org/x/sync/errgroup"
)

// Validate runs the consensus checks of a block against its parent tipset.
// Checks run in order and the first failure is returned as a
// *ValidationError. A check that can't be completed because a capability is
// unavailable doesn't stop the pipeline, since later checks can still fail
// the block; if nothing fails, the first *IncompleteError is returned.
func (s *Syncer) Validate(ctx context.Context, fb *types.FullBlock, base *types.TipSet) error {
	if fb == nil || fb.Header == nil {
		return types.ErrNilHeader
	}
	if base == nil {
		return fmt.Errorf("validating block %s: missing parent tipset", fb.Header.Cid())
	}
	v := validation{s: s, fb: fb, h: fb.Header, base: base}

	checks := []func(context.Context) error{
		v.signaturePresence,
		v.timestamp,
		v.election,
		v.messages,
		v.minerEligibility,
		v.blockSignature,
		v.ticket,
	}
	var incomplete error
	for _, check := range checks {
		err := check(ctx)
		if err == nil {
			continue
		}
		if isIncomplete(err) {
			if incomplete == nil {
				incomplete = err
			}
			continue
		}
		return err
	}
	return incomplete
}

// validateTipSet validates every block of fts in parallel. It returns the
// first failure, or the first incomplete result when none failed.
func (s *Syncer) validateTipSet(ctx context.Context, fts *types.FullTipSet, base *types.TipSet) error {
	incompletes := make([]error, len(fts.Blocks))
	g, gctx := errgroup.WithContext(ctx)
	for i, fb := range fts.Blocks {
		i, fb := i, fb
		g.Go(func() error {
			err := s.Validate(gctx, fb, base)
			s.metricValidations.Add(ctx, 1, validationAttr(err))
			if isIncomplete(err) {
				incompletes[i] = err
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, err := range incompletes {
		if err == nil {
			continue
		}
		if !s.cfg.AcceptIncomplete {
			return err
		}
		log.Warnf("accepting block with incomplete validation: %s", err)
	}
	return nil
}

type validation struct {
	s    *Syncer
	fb   *types.FullBlock
	h    *types.BlockHeader
	base *types.TipSet

	worker address.Address
}

func (v *validation) fail(c Check, format string, args ...interface{}) error {
	return &ValidationError{Block: v.h.Cid(), Check: c, Reason: fmt.Sprintf(format, args...)}
}

// capability classifies an error returned by a consensus capability.
func (v *validation) capability(c Check, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return &IncompleteError{Block: v.h.Cid(), Check: c, Err: err}
	}
	return fmt.Errorf("running %s check on block %s: %w", c, v.h.Cid(), err)
}

func (v *validation) unavailable(c Check, what string) error {
	return &IncompleteError{Block: v.h.Cid(), Check: c, Err: fmt.Errorf("%s: %w", what, ErrUnavailable)}
}

func (v *validation) signaturePresence(ctx context.Context) error {
	if v.h.BlockSig() == nil {
		return v.fail(CheckSignaturePresence, "block has no signature")
	}
	return nil
}

func (v *validation) timestamp(ctx context.Context) error {
	if v.h.Height() <= v.base.Height() {
		return v.fail(CheckTimestamp, "height %d isn't above parent height %d", v.h.Height(), v.base.Height())
	}
	cfg := v.s.cfg
	latest := cfg.Clock.Now().Add(cfg.AllowableClockDrift).Unix()
	if latest < 0 || v.h.Timestamp() > uint64(latest) {
		return v.fail(CheckTimestamp, "timestamp %d is in the future", v.h.Timestamp())
	}
	// Bounds are compared in milliseconds so sub-second delays are honored.
	// The timestamp is at most latest here, so scaling it can't overflow.
	rounds := uint64(v.h.Height() - v.base.Height())
	earliest, ok := earliestMillis(v.base.MinTimestamp(), cfg.BlockDelay, rounds)
	if !ok {
		return v.fail(CheckTimestamp, "height %d is too far above parent height %d", v.h.Height(), v.base.Height())
	}
	if v.h.Timestamp()*1000 < earliest {
		return v.fail(CheckTimestamp, "timestamp %d is before %d", v.h.Timestamp(), (earliest+999)/1000)
	}
	return nil
}

// earliestMillis returns the earliest valid timestamp, in milliseconds, of
// a block mined rounds after a tipset with the given minimum timestamp. It
// returns false on overflow.
func earliestMillis(baseTimestamp uint64, delay time.Duration, rounds uint64) (uint64, bool) {
	hi, base := bits.Mul64(baseTimestamp, 1000)
	if hi != 0 {
		return 0, false
	}
	hi, span := bits.Mul64(uint64(delay.Milliseconds()), rounds)
	if hi != 0 {
		return 0, false
	}
	earliest, carry := bits.Add64(base, span, 0)
	return earliest, carry == 0
}

func (v *validation) election(ctx context.Context) error {
	if v.s.election == nil {
		return v.unavailable(CheckElection, "no election verifier")
	}
	if v.h.ElectionProof() == nil {
		return v.fail(CheckElection, "block has no election proof")
	}
	ok, err := v.s.election.VerifyElection(ctx, v.h.ElectionProof(), v.randomness(), v.h.Miner())
	if err != nil {
		return v.capability(CheckElection, err)
	}
	if !ok {
		return v.fail(CheckElection, "miner %s didn't win the round", v.h.Miner())
	}
	return nil
}

func (v *validation) messages(ctx context.Context) error {
	if v.s.stm == nil {
		return v.unavailable(CheckMessages, "no state manager")
	}
	parentState := v.base.ParentState()
	bls, secpk := msgsOf(v.fb)
	for _, msg := range append(bls, secpk...) {
		if err := v.s.stm.ValidateMessage(ctx, msg, parentState); err != nil {
			if errors.Is(err, ErrUnavailable) {
				return v.capability(CheckMessages, err)
			}
			return v.fail(CheckMessages, "invalid message: %s", err)
		}
	}
	stateRoot, receiptsRoot, err := v.s.stm.ExecuteBlock(ctx, v.fb, parentState)
	if err != nil {
		return v.capability(CheckMessages, err)
	}
	if !stateRoot.Equals(v.h.StateRoot()) {
		return v.fail(CheckMessages, "state root %s doesn't match computed %s", v.h.StateRoot(), stateRoot)
	}
	if !receiptsRoot.Equals(v.h.MessageReceipts()) {
		return v.fail(CheckMessages, "receipts root %s doesn't match computed %s", v.h.MessageReceipts(), receiptsRoot)
	}
	return nil
}

func (v *validation) minerEligibility(ctx context.Context) error {
	if v.s.stm == nil {
		return v.unavailable(CheckMinerEligibility, "no state manager")
	}
	ok, err := v.s.stm.MinerIsEligible(ctx, v.h.Miner(), v.base)
	if err != nil {
		return v.capability(CheckMinerEligibility, err)
	}
	if !ok {
		return v.fail(CheckMinerEligibility, "miner %s isn't eligible to mine", v.h.Miner())
	}
	return nil
}

func (v *validation) resolveWorker(ctx context.Context, c Check) error {
	if v.worker != address.Undef {
		return nil
	}
	if v.s.stm == nil {
		return v.unavailable(c, "no state manager")
	}
	w, err := v.s.stm.MinerWorker(ctx, v.h.Miner(), v.base)
	if err != nil {
		return v.capability(c, fmt.Errorf("resolving worker of %s: %w", v.h.Miner(), err))
	}
	v.worker = w
	return nil
}

func (v *validation) blockSignature(ctx context.Context) error {
	if err := v.resolveWorker(ctx, CheckBlockSignature); err != nil {
		return err
	}
	if v.s.sigVerifier == nil {
		return v.unavailable(CheckBlockSignature, "no signature verifier")
	}
	ok, err := v.s.sigVerifier.VerifyBlockSignature(ctx, v.h, v.worker)
	if err != nil {
		return v.capability(CheckBlockSignature, err)
	}
	if !ok {
		return v.fail(CheckBlockSignature, "block isn't signed by worker %s", v.worker)
	}
	return nil
}

func (v *validation) ticket(ctx context.Context) error {
	if v.h.Ticket() == nil {
		return v.fail(CheckTicket, "block has no ticket")
	}
	if err := v.resolveWorker(ctx, CheckTicket); err != nil {
		return err
	}
	if v.s.sigVerifier == nil {
		return v.unavailable(CheckTicket, "no signature verifier")
	}
	ok, err := v.s.sigVerifier.VerifyVRF(ctx, v.worker, v.randomness(), v.h.Ticket().VRFProof)
	if err != nil {
		return v.capability(CheckTicket, err)
	}
	if !ok {
		return v.fail(CheckTicket, "ticket isn't derived from the parent ticket")
	}
	return nil
}

// randomness is the parent min ticket proof that tickets and election
// proofs are derived from.
func (v *validation) randomness() []byte {
	if t := v.base.MinTicket(); t != nil {
		return t.VRFProof
	}
	return nil
}

func isIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}
