package chainsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/textileio/filsync/signaler"
	"github.com/textileio/filsync/sigs"
	"github.com/textileio/filsync/syncmanager"
	"github.com/textileio/filsync/types"
	"go.opentelemetry.io/otel/metric"
)

var log = logging.Logger("chainsync")

// Option configures optional Syncer collaborators.
type Option func(*Syncer)

// WithStateManager sets the state manager used to execute blocks and
// resolve miner information.
func WithStateManager(sm StateManager) Option {
	return func(s *Syncer) {
		s.stm = sm
	}
}

// WithElectionVerifier overrides the default election verifier.
func WithElectionVerifier(ev ElectionVerifier) Option {
	return func(s *Syncer) {
		s.election = ev
	}
}

// WithSignatureVerifier overrides the default signature verifier.
func WithSignatureVerifier(sv SignatureVerifier) Option {
	return func(s *Syncer) {
		s.sigVerifier = sv
	}
}

// Syncer keeps the local chain in sync with the heaviest valid chain
// announced by peers.
type Syncer struct {
	cfg         Config
	cs          ChainStore
	exch        Exchange
	sm          *syncmanager.Manager
	signaler    *signaler.Signaler
	stm         StateManager
	election    ElectionVerifier
	sigVerifier SignatureVerifier

	// adoptLk makes the fresh head read, comparison and head update a
	// single critical section.
	adoptLk sync.Mutex

	lock  sync.Mutex
	state SyncState

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	clsLock  sync.Mutex
	started  bool
	closed   bool

	metricAnnouncements metric.Int64Counter
	metricValidations   metric.Int64Counter
	metricFetches       metric.Int64Counter
	metricSyncDuration  metric.Int64ValueRecorder
}

// New returns a new Syncer. Block and ticket signatures and election proofs
// are verified with sigs.Verifier unless overridden. Without a state manager
// message execution, miner eligibility and worker resolution are reported as
// incomplete.
func New(cfg Config, cs ChainStore, exch Exchange, sm *syncmanager.Manager, opts ...Option) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		cfg:         cfg.withDefaults(),
		cs:          cs,
		exch:        exch,
		sm:          sm,
		signaler:    signaler.New(),
		election:    sigs.Verifier{},
		sigVerifier: sigs.Verifier{},
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		finished:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = SyncState{Stage: StageIdle, Updated: s.cfg.Clock.Now()}
	s.initMetrics()
	return s
}

// InformNewHead processes a tipset announced by a peer. Messages of every
// block are checked against the block message root and persisted. If the
// tipset is heavier than the current head and its parent is known, it's
// validated and adopted as the new head. If the parent is unknown, the
// tipset is queued for the background syncer. Lighter tipsets are ignored.
func (s *Syncer) InformNewHead(ctx context.Context, from peer.ID, fts *types.FullTipSet) error {
	if fts == nil || len(fts.Blocks) == 0 {
		return ErrNoBlocks
	}
	for _, fb := range fts.Blocks {
		if fb == nil || fb.Header == nil {
			return types.ErrNilHeader
		}
	}
	if err := s.persistMessages(ctx, fts); err != nil {
		s.metricAnnouncements.Add(ctx, 1, attrRejected)
		return err
	}

	ts, err := fts.TipSet()
	if err != nil {
		s.metricAnnouncements.Add(ctx, 1, attrRejected)
		return fmt.Errorf("building announced tipset: %w", err)
	}
	head, err := s.cs.HeaviestTipSet(ctx)
	if err != nil {
		return fmt.Errorf("getting heaviest tipset: %w", err)
	}
	if !types.Heavier(ts, head) {
		log.Debugf("ignoring tipset %s from %s, not heavier than %s", ts, from, head)
		s.metricAnnouncements.Add(ctx, 1, attrIgnored)
		return nil
	}

	known, err := s.cs.HasTipSet(ctx, ts.Parents())
	if err != nil {
		return fmt.Errorf("looking up parent of %s: %w", ts, err)
	}
	if !known {
		if from != "" {
			s.sm.SetPeerHead(from, ts)
		}
		h := s.sm.AddTipSet(ts)
		log.Debugf("tipset %s has unknown parents, queued in bucket %d", ts, h)
		s.metricAnnouncements.Add(ctx, 1, attrPending)
		s.wakeWorker()
		return nil
	}

	base, err := s.cs.LoadTipSet(ctx, ts.Parents())
	if err != nil {
		return fmt.Errorf("loading parent of %s: %w", ts, err)
	}
	if err := s.validateTipSet(ctx, fts, base); err != nil {
		s.metricAnnouncements.Add(ctx, 1, validationAttr(err))
		return err
	}
	if _, err := s.adopt(ctx, from, ts); err != nil {
		return err
	}
	s.metricAnnouncements.Add(ctx, 1, attrAccepted)
	return nil
}

// persistMessages checks every block message root and stores the messages
// and the root object. It stops at the first block with a mismatching root.
func (s *Syncer) persistMessages(ctx context.Context, fts *types.FullTipSet) error {
	for _, fb := range fts.Blocks {
		bls, secpk := msgsOf(fb)
		blsCids, err := CidsFromMessages(bls)
		if err != nil {
			return fmt.Errorf("computing bls message cids: %w", err)
		}
		secpkCids, err := CidsFromMessages(secpk)
		if err != nil {
			return fmt.Errorf("computing secpk message cids: %w", err)
		}
		root, err := types.ComputeMessageRoot(blsCids, secpkCids)
		if err != nil {
			return fmt.Errorf("computing message root: %w", err)
		}
		if !root.Equals(fb.Header.Messages()) {
			return fmt.Errorf("%w: block %s", ErrInvalidRoots, fb.Header.Cid())
		}
		if err := s.cs.PutMessages(ctx, bls); err != nil {
			return fmt.Errorf("persisting bls messages: %w", err)
		}
		if err := s.cs.PutMessages(ctx, secpk); err != nil {
			return fmt.Errorf("persisting secpk messages: %w", err)
		}
		if err := s.cs.PutTxMeta(ctx, &types.TxMeta{BlsMessages: blsCids, SecpkMessages: secpkCids}); err != nil {
			return fmt.Errorf("persisting message root: %w", err)
		}
	}
	return nil
}

// adopt persists the validated tipset headers and sets it as the new head
// if it's still heavier than the current head. It returns true if the head
// changed.
func (s *Syncer) adopt(ctx context.Context, from peer.ID, ts *types.TipSet) (bool, error) {
	s.adoptLk.Lock()
	defer s.adoptLk.Unlock()

	head, err := s.cs.HeaviestTipSet(ctx)
	if err != nil {
		return false, fmt.Errorf("getting heaviest tipset: %w", err)
	}
	if err := s.cs.PersistHeaders(ctx, ts); err != nil {
		return false, fmt.Errorf("persisting headers of %s: %w", ts, err)
	}
	if !types.Heavier(ts, head) {
		log.Debugf("tipset %s is no longer heavier than %s", ts, head)
		return false, nil
	}
	if err := s.cs.SetHead(ctx, ts); err != nil {
		return false, fmt.Errorf("setting head to %s: %w", ts, err)
	}
	if from != "" {
		s.sm.SetPeerHead(from, ts)
	}
	s.logHeadChange(ctx, head, ts)
	s.signaler.Signal(ts)
	return true, nil
}

func (s *Syncer) logHeadChange(ctx context.Context, prev, ts *types.TipSet) {
	path, err := GetPathToHead(ctx, s.cs, prev.Key())
	if err != nil {
		log.Infof("new head %s (previous %s)", ts, prev)
		return
	}
	if path[len(path)-1].Equals(prev) {
		log.Infof("head advanced %d tipsets to %s", len(path)-1, ts)
		return
	}
	log.Infof("reorg from %s to %s", prev, ts)
}

// Listen returns a channel that receives every new head. Only the most
// recent unread head is buffered.
func (s *Syncer) Listen() <-chan *types.TipSet {
	return s.signaler.Listen()
}

// Unregister frees a channel returned by Listen.
func (s *Syncer) Unregister(c <-chan *types.TipSet) {
	s.signaler.Unregister(c)
}

// Stage is a step of the background sync of a bucket.
type Stage int

// Sync stages.
const (
	StageIdle Stage = iota
	StageEvaluating
	StageFetching
	StageValidating
	StageAccepted
	StageRejected
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageEvaluating:
		return "evaluating"
	case StageFetching:
		return "fetching"
	case StageValidating:
		return "validating"
	case StageAccepted:
		return "accepted"
	case StageRejected:
		return "rejected"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// SyncState is the state of the background syncer.
type SyncState struct {
	Stage   Stage
	Target  *types.TipSet
	Err     error
	Updated time.Time
}

// State returns the current background syncer state.
func (s *Syncer) State() SyncState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

func (s *Syncer) setState(stage Stage, target *types.TipSet, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state = SyncState{
		Stage:   stage,
		Target:  target,
		Err:     err,
		Updated: s.cfg.Clock.Now(),
	}
}
