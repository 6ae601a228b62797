package hello

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/textileio/filsync/chainsync"
	"github.com/textileio/filsync/types"
)

// ProtocolID is the hello protocol identifier.
const ProtocolID = "/fil/hello/1.0.0"

const (
	streamTimeout = 10 * time.Second
	fetchTimeout  = 30 * time.Second
)

var log = logging.Logger("hello")

// ChainReader provides the local chain summary sent to peers.
type ChainReader interface {
	HeaviestTipSet(context.Context) (*types.TipSet, error)
	Genesis() *types.TipSet
}

// Informer receives the heads announced by peers.
type Informer interface {
	InformNewHead(ctx context.Context, from peer.ID, fts *types.FullTipSet) error
}

// Service greets every newly connected peer with the local head and feeds
// the heads announced by peers to the syncer.
type Service struct {
	h      host.Host
	cr     ChainReader
	exch   chainsync.Exchange
	syncer Informer
	notif  *network.NotifyBundle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New registers the hello protocol on h.
func New(h host.Host, cr ChainReader, exch chainsync.Exchange, syncer Informer) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		h:      h,
		cr:     cr,
		exch:   exch,
		syncer: syncer,
		ctx:    ctx,
		cancel: cancel,
	}
	s.notif = &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			s.goSafe(func() {
				if err := s.SayHello(s.ctx, c.RemotePeer()); err != nil {
					log.Debugf("saying hello to %s: %s", c.RemotePeer(), err)
				}
			})
		},
	}
	h.SetStreamHandler(ProtocolID, s.handleStream)
	h.Network().Notify(s.notif)
	return s
}

// Close unregisters the protocol and waits for running handlers.
func (s *Service) Close() error {
	s.h.Network().StopNotify(s.notif)
	s.h.RemoveStreamHandler(ProtocolID)
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) goSafe(f func()) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

// SayHello sends the local chain summary to p.
func (s *Service) SayHello(ctx context.Context, p peer.ID) error {
	msg, err := s.localMessage(ctx)
	if err != nil {
		return err
	}
	stream, err := s.h.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return fmt.Errorf("opening stream: %s", err)
	}
	defer stream.Close() // nolint:errcheck
	if err := stream.SetWriteDeadline(time.Now().Add(streamTimeout)); err != nil {
		log.Warnf("setting stream deadline: %s", err)
	}
	if err := msg.MarshalCBOR(stream); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("writing hello: %s", err)
	}
	return nil
}

func (s *Service) localMessage(ctx context.Context) (*Message, error) {
	gen := s.cr.Genesis()
	if gen == nil {
		return nil, fmt.Errorf("unknown genesis")
	}
	head, err := s.cr.HeaviestTipSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting heaviest tipset: %s", err)
	}
	return &Message{
		HeaviestTipSet:       head.Key(),
		HeaviestTipSetHeight: head.Height(),
		HeaviestTipSetWeight: head.ParentWeight(),
		GenesisHash:          gen.Cids()[0],
	}, nil
}

func (s *Service) handleStream(stream network.Stream) {
	p := stream.Conn().RemotePeer()
	if err := stream.SetReadDeadline(time.Now().Add(streamTimeout)); err != nil {
		log.Warnf("setting stream deadline: %s", err)
	}
	var msg Message
	err := msg.UnmarshalCBOR(bufio.NewReader(stream))
	_ = stream.Close()
	if err != nil {
		log.Debugf("reading hello from %s: %s", p, err)
		return
	}

	gen := s.cr.Genesis()
	if gen == nil || !gen.Cids()[0].Equals(msg.GenesisHash) {
		log.Warnf("peer %s has a different genesis %s, disconnecting", p, msg.GenesisHash)
		if err := s.h.Network().ClosePeer(p); err != nil {
			log.Debugf("closing connection to %s: %s", p, err)
		}
		return
	}
	if msg.HeaviestTipSet.IsEmpty() {
		return
	}
	s.goSafe(func() {
		if err := s.processHead(p, &msg); err != nil {
			log.Warnf("processing head of %s: %s", p, err)
		}
	})
}

func (s *Service) processHead(p peer.ID, msg *Message) error {
	ctx, cancel := context.WithTimeout(s.ctx, fetchTimeout)
	defer cancel()
	fts, err := s.exch.FetchFullTipSet(ctx, p, msg.HeaviestTipSet)
	if err != nil {
		return fmt.Errorf("fetching tipset %s: %s", msg.HeaviestTipSet, err)
	}
	ts, err := fts.TipSet()
	if err != nil {
		return fmt.Errorf("building fetched tipset: %s", err)
	}
	if ts.Height() != msg.HeaviestTipSetHeight {
		return fmt.Errorf("announced height %d doesn't match fetched %d", msg.HeaviestTipSetHeight, ts.Height())
	}
	log.Debugf("peer %s announced head %s", p, ts)
	return s.syncer.InformNewHead(ctx, p, fts)
}
