package chainsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/sethvargo/go-retry"
	"github.com/textileio/filsync/exchange"
	"github.com/textileio/filsync/syncmanager"
	"github.com/textileio/filsync/types"
)

// Start launches the background syncer, which syncs the chains of queued
// buckets whose ancestry isn't stored locally.
func (s *Syncer) Start() {
	s.clsLock.Lock()
	defer s.clsLock.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run()
}

// Close stops the background syncer and closes every listener channel.
func (s *Syncer) Close() error {
	log.Info("closing")
	s.clsLock.Lock()
	defer s.clsLock.Unlock()
	if s.closed {
		return nil
	}
	s.cancel()
	if s.started {
		<-s.finished
	}
	s.signaler.Close()
	s.closed = true
	return nil
}

func (s *Syncer) wakeWorker() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Syncer) run() {
	defer close(s.finished)
	ticker := s.cfg.Clock.Ticker(s.cfg.BlockDelay)
	defer ticker.Stop()
	for {
		s.syncBuckets()
		select {
		case <-s.ctx.Done():
			log.Info("graceful shutdown of background syncer")
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// syncBuckets syncs queued buckets, heaviest first, until none is left.
func (s *Syncer) syncBuckets() {
	for s.ctx.Err() == nil {
		h, ok := s.sm.HeaviestBucket()
		if !ok {
			return
		}
		if err := s.syncBucket(s.ctx, h); err != nil {
			log.Warnf("syncing bucket %d: %s", h, err)
		}
		s.sm.RemoveBucket(h)
	}
}

func (s *Syncer) syncBucket(ctx context.Context, h syncmanager.BucketHandle) (err error) {
	b, ok := s.sm.Bucket(h)
	if !ok {
		return nil
	}
	target := b.Heaviest()
	start := s.cfg.Clock.Now()
	defer func() {
		if err != nil {
			s.setState(StageRejected, target, err)
			return
		}
		s.metricSyncDuration.Record(ctx, s.cfg.Clock.Since(start).Milliseconds())
	}()

	s.setState(StageEvaluating, target, nil)
	head, err := s.cs.HeaviestTipSet(ctx)
	if err != nil {
		return fmt.Errorf("getting heaviest tipset: %w", err)
	}
	if !types.Heavier(target, head) {
		log.Debugf("bucket %d target %s isn't heavier than %s", h, target, head)
		s.setState(StageIdle, nil, nil)
		return nil
	}
	if max := s.maxHeight(); target.Height() > max {
		return fmt.Errorf("target %s is above the highest possible epoch %d", target, max)
	}
	peers := s.sm.PeersFor(h)
	if len(peers) == 0 {
		return fmt.Errorf("no peer claims a head in bucket %d", h)
	}

	s.setState(StageFetching, target, nil)
	chain, err := s.fetchAncestry(ctx, peers, head, target)
	if err != nil {
		return err
	}

	s.setState(StageValidating, target, nil)
	var last *types.TipSet
	for i := len(chain) - 1; i >= 0; i-- {
		if last, err = s.processFetched(ctx, chain[i]); err != nil {
			return err
		}
	}
	adopted, err := s.adopt(ctx, "", last)
	if err != nil {
		return err
	}
	if !adopted {
		s.setState(StageIdle, nil, nil)
		return nil
	}
	s.setState(StageAccepted, last, nil)
	return nil
}

// processFetched persists the messages of a fetched tipset, validates it
// against its stored parent and persists its headers.
func (s *Syncer) processFetched(ctx context.Context, fts *types.FullTipSet) (*types.TipSet, error) {
	if err := s.persistMessages(ctx, fts); err != nil {
		return nil, err
	}
	ts, err := fts.TipSet()
	if err != nil {
		return nil, fmt.Errorf("building fetched tipset: %w", err)
	}
	base, err := s.cs.LoadTipSet(ctx, ts.Parents())
	if err != nil {
		return nil, fmt.Errorf("loading parent of %s: %w", ts, err)
	}
	if err := s.validateTipSet(ctx, fts, base); err != nil {
		return nil, err
	}
	if err := s.cs.PersistHeaders(ctx, ts); err != nil {
		return nil, fmt.Errorf("persisting headers of %s: %w", ts, err)
	}
	return ts, nil
}

// fetchAncestry fetches tipsets from target back to the first tipset whose
// parent is stored. The result is ordered from target down. Fetched heights
// must strictly decrease, and the chain can't fork more than MaxForkLength
// epochs below head.
func (s *Syncer) fetchAncestry(ctx context.Context, peers []peer.ID, head, target *types.TipSet) ([]*types.FullTipSet, error) {
	floor := head.Height() - abi.ChainEpoch(s.cfg.MaxForkLength)
	var chain []*types.FullTipSet
	cursor := target.Key()
	prev := target.Height() + 1
	for {
		batch, err := s.fetchChain(ctx, peers, cursor)
		if err != nil {
			return nil, err
		}
		for _, fts := range batch {
			ts, err := fts.TipSet()
			if err != nil {
				return nil, fmt.Errorf("fetched tipset is malformed: %w", err)
			}
			if !ts.Key().Equals(cursor) {
				return nil, fmt.Errorf("fetched tipset %s doesn't link to %s", ts.Key(), cursor)
			}
			if ts.Height() >= prev {
				return nil, fmt.Errorf("fetched tipset %s isn't below its child height %d", ts, prev)
			}
			prev = ts.Height()
			chain = append(chain, fts)
			cursor = ts.Parents()
			if cursor.IsEmpty() {
				return nil, fmt.Errorf("chain of %s has no common ancestor with the local chain", target)
			}
			known, err := s.cs.HasTipSet(ctx, cursor)
			if err != nil {
				return nil, fmt.Errorf("looking up %s: %w", cursor, err)
			}
			if known {
				return chain, nil
			}
			if ts.Height() <= floor {
				return nil, fmt.Errorf("chain of %s forks more than %d epochs below head %s", target, s.cfg.MaxForkLength, head)
			}
		}
	}
}

// maxHeight returns the highest epoch the wall clock allows since genesis.
func (s *Syncer) maxHeight() abi.ChainEpoch {
	gen := s.cs.Genesis()
	latest := s.cfg.Clock.Now().Add(s.cfg.AllowableClockDrift).Unix()
	if gen == nil || latest < 0 || uint64(latest) < gen.MinTimestamp() {
		return 0
	}
	elapsed := uint64(latest) - gen.MinTimestamp()
	return gen.Height() + abi.ChainEpoch(elapsed*1000/uint64(s.cfg.BlockDelay.Milliseconds()))
}

// fetchChain asks each peer in turn for the chain ending at key. Every
// attempt is bounded by FetchTimeout; unreachable peers are retried with
// exponential backoff.
func (s *Syncer) fetchChain(ctx context.Context, peers []peer.ID, key types.TipSetKey) ([]*types.FullTipSet, error) {
	var errs *multierror.Error
	for _, p := range peers {
		b := retry.WithMaxRetries(s.cfg.FetchRetries, retry.NewExponential(s.cfg.RetryBackoff))

		var chain []*types.FullTipSet
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
			res, err := s.exch.FetchChain(fctx, p, key, s.cfg.MaxFetchLength)
			if errors.Is(err, exchange.ErrPeerUnreachable) {
				return retry.RetryableError(err)
			}
			if err != nil {
				return err
			}
			if len(res) == 0 {
				return fmt.Errorf("peer returned an empty chain")
			}
			chain = res
			return nil
		})
		if err == nil {
			s.metricFetches.Add(ctx, 1, attrFetchSuccess)
			return chain, nil
		}
		s.metricFetches.Add(ctx, 1, attrFetchFail)
		log.Debugf("fetching %s from %s: %s", key, p, err)
		errs = multierror.Append(errs, fmt.Errorf("fetching from %s: %w", p, err))
		if ctx.Err() != nil {
			break
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no peers to fetch %s from", key)
}
