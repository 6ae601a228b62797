package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTCPAddrFromMultiAddr(t *testing.T) {
	addr, err := TCPAddrFromMultiAddr(MustParseAddr("/ip4/127.0.0.1/tcp/1234"))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:1234", addr)

	_, err = TCPAddrFromMultiAddr(nil)
	require.Error(t, err)

	_, err = TCPAddrFromMultiAddr(MustParseAddr("/ip4/127.0.0.1/udp/1234"))
	require.Error(t, err)
}
