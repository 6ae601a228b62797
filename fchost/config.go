package fchost

import (
	"fmt"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/multiformats/go-multiaddr"
)

var (
	networkBootstrappers = map[string][]string{
		"calibrationnet": {
			"/dns4/bootstrap-0.calibration.fildev.network/tcp/1347/p2p/12D3KooWPmhFGJkE7wDUdtzDYr7ReML9vgzJ8Tv7ubh9T6Le1Bmn",
			"/dns4/bootstrap-2.calibration.fildev.network/tcp/1347/p2p/12D3KooWPWUw5yEet6NWpxhxoibXFbLprG4k5PMLKLeubGBLf6nd",
			"/dns4/bootstrap-1.calibration.fildev.network/tcp/1347/p2p/12D3KooWGwv2YtXyYPrEKssttUT3TKZknPkCWKR6WVTvt9LW4hdf",
			"/dns4/bootstrap-3.calibration.fildev.network/tcp/1347/p2p/12D3KooWHgMU953YxD5skVG3RKa58TXwVL9z5ycGKrZdaFzGpouT",
		},
	}
)

// Config configures a host.
type Config struct {
	// ListenAddrs are the addresses the host listens on.
	ListenAddrs []string
	// Network selects a known set of bootstrap peers. It's ignored if
	// Bootstrap is set.
	Network string
	// Bootstrap are explicit bootstrap peer multiaddrs.
	Bootstrap []string
	// DHT enables routing through a Kademlia DHT.
	DHT bool
}

// DefaultConfig listens on every interface on the standard Filecoin port.
var DefaultConfig = Config{
	ListenAddrs: []string{"/ip4/0.0.0.0/tcp/1347"},
	DHT:         true,
}

func (c Config) bootstrapPeers() ([]peer.AddrInfo, error) {
	addrs := c.Bootstrap
	if len(addrs) == 0 && c.Network != "" {
		var ok bool
		addrs, ok = networkBootstrappers[c.Network]
		if !ok {
			return nil, fmt.Errorf("network %s doesn't have any configured bootstrappers", c.Network)
		}
	}
	if len(addrs) == 0 {
		return nil, nil
	}

	maddrs := make([]multiaddr.Multiaddr, len(addrs))
	for i, addr := range addrs {
		var err error
		maddrs[i], err = multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("converting multiaddrs: %s", err)
		}
	}
	peers, err := peer.AddrInfosFromP2pAddrs(maddrs...)
	if err != nil {
		return nil, fmt.Errorf("multiaddr conversion: %s", err)
	}
	return peers, nil
}
