package exchange

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/textileio/filsync/chainstore"
	"github.com/textileio/filsync/types"
)

var log = logging.Logger("exchange")

const streamTimeout = time.Minute

// ChainReader reads stored chain data.
type ChainReader interface {
	LoadFullTipSet(context.Context, types.TipSetKey) (*types.FullTipSet, error)
}

// Server serves chain exchange requests from a local chain.
type Server struct {
	h  host.Host
	cr ChainReader
}

// NewServer registers the protocol handler on h.
func NewServer(h host.Host, cr ChainReader) *Server {
	s := &Server{h: h, cr: cr}
	h.SetStreamHandler(ProtocolID, s.handleStream)
	return s
}

// Close removes the protocol handler.
func (s *Server) Close() error {
	s.h.RemoveStreamHandler(ProtocolID)
	return nil
}

func (s *Server) handleStream(stream network.Stream) {
	defer stream.Close() // nolint:errcheck
	if err := stream.SetDeadline(time.Now().Add(streamTimeout)); err != nil {
		log.Warnf("setting stream deadline: %s", err)
	}

	var req Request
	if err := req.UnmarshalCBOR(bufio.NewReader(stream)); err != nil {
		log.Debugf("reading request from %s: %s", stream.Conn().RemotePeer(), err)
		_ = stream.Reset()
		return
	}
	resp := s.serve(context.Background(), &req)
	if err := resp.MarshalCBOR(stream); err != nil {
		log.Debugf("writing response to %s: %s", stream.Conn().RemotePeer(), err)
		_ = stream.Reset()
	}
}

// serve builds the response for a request. It walks the local chain from
// the start tipset towards genesis.
func (s *Server) serve(ctx context.Context, req *Request) *Response {
	if err := req.validate(); err != nil {
		return &Response{Status: StatusBadRequest, Message: err.Error()}
	}
	length := req.Length
	if length > MaxRequestLength {
		length = MaxRequestLength
	}

	resp := &Response{Status: StatusOK}
	cursor := req.Start
	for uint64(len(resp.Chain)) < length {
		fts, err := s.cr.LoadFullTipSet(ctx, cursor)
		if errors.Is(err, chainstore.ErrNotFound) {
			if len(resp.Chain) == 0 {
				return &Response{Status: StatusNotFound, Message: fmt.Sprintf("tipset %s not found", cursor)}
			}
			resp.Status = StatusPartial
			resp.Message = fmt.Sprintf("tipset %s not found", cursor)
			break
		}
		if err != nil {
			log.Errorf("loading tipset %s: %s", cursor, err)
			return &Response{Status: StatusInternal, Message: "internal error"}
		}
		if req.Options&OptMessages == 0 {
			fts = headersOnly(fts)
		}
		resp.Chain = append(resp.Chain, fts)

		ts, err := fts.TipSet()
		if err != nil {
			log.Errorf("building stored tipset %s: %s", cursor, err)
			return &Response{Status: StatusInternal, Message: "internal error"}
		}
		cursor = ts.Parents()
		if cursor.IsEmpty() {
			break
		}
	}
	return resp
}

func headersOnly(fts *types.FullTipSet) *types.FullTipSet {
	blks := make([]*types.FullBlock, len(fts.Blocks))
	for i, fb := range fts.Blocks {
		blks[i] = &types.FullBlock{Header: fb.Header}
	}
	return types.NewFullTipSet(blks)
}
