package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/textileio/filsync/types"
)

// Client fetches chain data from peers running a Server.
type Client struct {
	h host.Host
}

// NewClient returns a new Client.
func NewClient(h host.Host) *Client {
	return &Client{h: h}
}

// FetchFullTipSet fetches a single tipset with its messages.
func (c *Client) FetchFullTipSet(ctx context.Context, p peer.ID, key types.TipSetKey) (*types.FullTipSet, error) {
	chain, err := c.FetchChain(ctx, p, key, 1)
	if err != nil {
		return nil, err
	}
	return chain[0], nil
}

// FetchChain fetches up to length tipsets with their messages, starting at
// key and walking towards genesis. The response is checked to be a linked
// chain starting at key.
func (c *Client) FetchChain(ctx context.Context, p peer.ID, key types.TipSetKey, length uint64) ([]*types.FullTipSet, error) {
	req := &Request{Start: key, Length: length, Options: OptHeaders | OptMessages}
	resp, err := c.request(ctx, p, req)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case StatusOK, StatusPartial:
	case StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resp.Message)
	default:
		return nil, fmt.Errorf("peer %s returned status %d: %s", p, resp.Status, resp.Message)
	}
	if len(resp.Chain) == 0 {
		return nil, fmt.Errorf("peer %s returned an empty chain", p)
	}
	if uint64(len(resp.Chain)) > length {
		return nil, fmt.Errorf("peer %s returned %d tipsets, requested %d", p, len(resp.Chain), length)
	}
	if err := checkLinked(key, resp.Chain); err != nil {
		return nil, fmt.Errorf("peer %s returned an invalid chain: %s", p, err)
	}
	return resp.Chain, nil
}

func (c *Client) request(ctx context.Context, p peer.ID, req *Request) (*Response, error) {
	stream, err := c.h.NewStream(ctx, p, ProtocolID)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: opening stream to %s", ErrTimeout, p)
		}
		return nil, fmt.Errorf("%w: opening stream to %s: %s", ErrPeerUnreachable, p, err)
	}
	defer stream.Close() // nolint:errcheck

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(streamTimeout)
	}
	if err := stream.SetDeadline(deadline); err != nil {
		log.Warnf("setting stream deadline: %s", err)
	}
	if err := req.MarshalCBOR(stream); err != nil {
		_ = stream.Reset()
		return nil, classify(ctx, fmt.Errorf("writing request to %s: %w", p, err))
	}
	if err := stream.CloseWrite(); err != nil {
		_ = stream.Reset()
		return nil, classify(ctx, fmt.Errorf("closing request to %s: %w", p, err))
	}
	var resp Response
	if err := resp.UnmarshalCBOR(bufio.NewReader(stream)); err != nil {
		_ = stream.Reset()
		return nil, classify(ctx, fmt.Errorf("reading response from %s: %w", p, err))
	}
	return &resp, nil
}

// classify marks deadline errors as timeouts.
func classify(ctx context.Context, err error) error {
	var ne net.Error
	if ctx.Err() == context.DeadlineExceeded || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return err
}

func checkLinked(start types.TipSetKey, chain []*types.FullTipSet) error {
	cursor := start
	for i, fts := range chain {
		ts, err := fts.TipSet()
		if err != nil {
			return fmt.Errorf("tipset %d: %s", i, err)
		}
		if !ts.Key().Equals(cursor) {
			return fmt.Errorf("tipset %d is %s, expected %s", i, ts.Key(), cursor)
		}
		cursor = ts.Parents()
	}
	return nil
}
