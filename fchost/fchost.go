package fchost

import (
	"context"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	routedhost "github.com/libp2p/go-libp2p/p2p/host/routed"
)

var (
	log = logging.Logger("fchost")
)

// FilecoinHost is a libp2p host connected to a Filecoin network.
type FilecoinHost struct {
	host.Host
	dht   *dht.IpfsDHT
	peers []peer.AddrInfo
}

// New returns a new FilecoinHost listening on the configured addresses.
// Bootstrap peers aren't dialed until Bootstrap is called.
func New(ctx context.Context, conf Config) (*FilecoinHost, error) {
	peers, err := conf.bootstrapPeers()
	if err != nil {
		return nil, fmt.Errorf("resolving bootstrap peers: %s", err)
	}
	opts := []libp2p.Option{libp2p.Defaults}
	if len(conf.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(conf.ListenAddrs...))
	}
	h, err := libp2p.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %s", err)
	}
	fh := &FilecoinHost{Host: h, peers: peers}
	if conf.DHT {
		d, err := dht.New(ctx, h)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("creating dht: %s", err)
		}
		fh.dht = d
		fh.Host = routedhost.Wrap(h, d)
	}
	return fh, nil
}

// Bootstrap connects to the bootstrap peers and bootstraps the DHT if
// enabled. It fails only if peers are configured and none is reachable.
func (fh *FilecoinHost) Bootstrap(ctx context.Context) error {
	if len(fh.peers) > 0 {
		if err := connectToBootstrapPeers(ctx, fh.Host, fh.peers); err != nil {
			return err
		}
	}
	if fh.dht == nil {
		return nil
	}
	log.Info("bootstraping libp2p host dht")
	if err := fh.dht.Bootstrap(ctx); err != nil {
		return err
	}
	log.Info("dht bootstraped!")
	return nil
}

// Close closes the DHT and the underlying host.
func (fh *FilecoinHost) Close() error {
	if fh.dht != nil {
		if err := fh.dht.Close(); err != nil {
			log.Errorf("closing dht: %s", err)
		}
	}
	return fh.Host.Close()
}

func connectToBootstrapPeers(ctx context.Context, h host.Host, peers []peer.AddrInfo) error {
	var lock sync.Mutex
	var success int
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, ai := range peers {
		go func(ai peer.AddrInfo) {
			defer wg.Done()
			if err := h.Connect(ctx, ai); err != nil {
				log.Debugf("connecting to bootstrap peer %s: %s", ai.ID, err)
				return
			}
			lock.Lock()
			success++
			lock.Unlock()
		}(ai)
	}
	wg.Wait()
	if success == 0 {
		return fmt.Errorf("couldn't connect to any of bootstrap peers")
	}
	log.Infof("connected to %d out of %d bootstrap peers", success, len(peers))
	return nil
}
