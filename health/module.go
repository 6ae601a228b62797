package health

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/textileio/filsync/chainsync"
	"github.com/textileio/filsync/types"
)

// staleRounds is the number of rounds without a new head after which the
// node is considered stalled.
const staleRounds = 5

// PeerLister lists connected peers.
type PeerLister interface {
	Peers() []peer.ID
}

// StateReader reports the syncer state.
type StateReader interface {
	State() chainsync.SyncState
}

// HeadReader returns the adopted head.
type HeadReader interface {
	HeaviestTipSet(context.Context) (*types.TipSet, error)
}

// Module exposes the node health.
type Module struct {
	peers      PeerLister
	syncer     StateReader
	head       HeadReader
	blockDelay time.Duration
	clock      clock.Clock
}

// Status represents the node's health status
type Status int

const (
	// Ok specifies the node is healthy
	Ok Status = iota
	// Degraded specifies there are problems with the node health
	Degraded
	// Error specifies there was an error when determining node health
	Error
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case Degraded:
		return "degraded"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// New creates a new health module.
func New(peers PeerLister, syncer StateReader, head HeadReader, blockDelay time.Duration, clk clock.Clock) *Module {
	if clk == nil {
		clk = clock.New()
	}
	return &Module{
		peers:      peers,
		syncer:     syncer,
		head:       head,
		blockDelay: blockDelay,
		clock:      clk,
	}
}

// Check returns the current health status and any messages related to the status.
func (m *Module) Check(ctx context.Context) (status Status, messages []string, err error) {
	head, err := m.head.HeaviestTipSet(ctx)
	if err != nil {
		return Error, nil, fmt.Errorf("getting head: %s", err)
	}
	if len(m.peers.Peers()) == 0 {
		messages = append(messages, "no connected peers")
	}
	age := m.clock.Since(time.Unix(int64(head.MinTimestamp()), 0))
	if age > m.blockDelay*staleRounds {
		messages = append(messages, fmt.Sprintf("head %s is %s old", head, age.Truncate(time.Second)))
	}
	if st := m.syncer.State(); st.Stage == chainsync.StageRejected {
		messages = append(messages, fmt.Sprintf("last sync of %s was rejected: %v", st.Target, st.Err))
	}
	status = Ok
	if len(messages) > 0 {
		status = Degraded
	}
	return status, messages, nil
}
