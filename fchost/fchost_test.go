package fchost

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBootstrapToLocalPeer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	boot, err := New(ctx, Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, boot.Close()) })
	require.NoError(t, boot.Bootstrap(ctx))

	addr := fmt.Sprintf("%s/p2p/%s", boot.Addrs()[0], boot.ID())
	h, err := New(ctx, Config{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Bootstrap:   []string{addr},
		DHT:         true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })

	require.NoError(t, h.Bootstrap(ctx))
	require.Len(t, h.Network().ConnsToPeer(boot.ID()), 1)
}

func TestBootstrapUnreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h, err := New(ctx, Config{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Bootstrap:   []string{"/ip4/127.0.0.1/tcp/1/p2p/12D3KooWPmhFGJkE7wDUdtzDYr7ReML9vgzJ8Tv7ubh9T6Le1Bmn"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	require.Error(t, h.Bootstrap(ctx))
}

func TestUnknownNetwork(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{Network: "nonexistent"})
	require.Error(t, err)
}

func TestKnownNetworkPeers(t *testing.T) {
	t.Parallel()
	peers, err := Config{Network: "calibrationnet"}.bootstrapPeers()
	require.NoError(t, err)
	require.Len(t, peers, 4)

	peers, err = Config{}.bootstrapPeers()
	require.NoError(t, err)
	require.Empty(t, peers)
}
