package exchange

import (
	"errors"
	"fmt"
	"io"

	"github.com/textileio/filsync/types"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// ProtocolID is the chain exchange protocol identifier.
const ProtocolID = "/fil/sync/blk/0.0.1"

// Request options.
const (
	OptHeaders  = 1 << iota
	OptMessages = 1 << iota
)

// Response statuses.
const (
	StatusOK         = 0
	StatusPartial    = 101
	StatusNotFound   = 201
	StatusGoAway     = 202
	StatusInternal   = 203
	StatusBadRequest = 204
)

// MaxRequestLength is the max number of tipsets served per request.
const MaxRequestLength = 500

var (
	// ErrTimeout is returned when a peer doesn't answer in time.
	ErrTimeout = errors.New("exchange request timed out")
	// ErrPeerUnreachable is returned when a stream to the peer can't be
	// opened.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrNotFound is returned when the peer doesn't have the requested tipset.
	ErrNotFound = errors.New("tipset not found by peer")
)

// Request asks for Length tipsets starting at Start and walking towards
// genesis.
type Request struct {
	Start   types.TipSetKey
	Length  uint64
	Options uint64
}

// Response carries the requested chain, ordered from Start down.
type Response struct {
	Status  uint64
	Message string
	Chain   []*types.FullTipSet
}

func (r *Request) validate() error {
	if r.Start.IsEmpty() {
		return fmt.Errorf("no start tipset")
	}
	if r.Length == 0 {
		return fmt.Errorf("zero length")
	}
	if r.Options&OptHeaders == 0 {
		return fmt.Errorf("headers not requested")
	}
	return nil
}

var (
	lengthBufRequest  = []byte{0x83}
	lengthBufResponse = []byte{0x83}
)

func (t *Request) MarshalCBOR(w io.Writer) error {
	if _, err := w.Write(lengthBufRequest); err != nil {
		return err
	}
	scratch := make([]byte, 9)
	if err := t.Start.MarshalCBOR(w); err != nil {
		return err
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.Length); err != nil {
		return err
	}
	return cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.Options)
}

func (t *Request) UnmarshalCBOR(r io.Reader) error {
	*t = Request{}
	br := cbg.GetPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 3); err != nil {
		return err
	}
	if err := t.Start.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.Start: %s", err)
	}
	var err error
	if t.Length, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("unmarshaling t.Length: %s", err)
	}
	if t.Options, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("unmarshaling t.Options: %s", err)
	}
	return nil
}

func (t *Response) MarshalCBOR(w io.Writer) error {
	if _, err := w.Write(lengthBufResponse); err != nil {
		return err
	}
	scratch := make([]byte, 9)
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.Status); err != nil {
		return err
	}
	if len(t.Message) > cbg.MaxLength {
		return fmt.Errorf("value in field t.Message was too long")
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajTextString, uint64(len(t.Message))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, t.Message); err != nil {
		return err
	}
	if len(t.Chain) > cbg.MaxLength {
		return fmt.Errorf("slice value in field t.Chain was too long")
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(t.Chain))); err != nil {
		return err
	}
	for _, fts := range t.Chain {
		if err := fts.MarshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (t *Response) UnmarshalCBOR(r io.Reader) error {
	*t = Response{}
	br := cbg.GetPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 3); err != nil {
		return err
	}
	var err error
	if t.Status, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("unmarshaling t.Status: %s", err)
	}
	if t.Message, err = cbg.ReadStringBuf(br, scratch); err != nil {
		return fmt.Errorf("unmarshaling t.Message: %s", err)
	}
	maj, n, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("t.Chain: expected cbor array")
	}
	if n > MaxRequestLength {
		return fmt.Errorf("t.Chain: too many tipsets (%d)", n)
	}
	if n > 0 {
		t.Chain = make([]*types.FullTipSet, n)
	}
	for i := range t.Chain {
		var fts types.FullTipSet
		if err := fts.UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling t.Chain[%d]: %s", i, err)
		}
		t.Chain[i] = &fts
	}
	return nil
}

func readArrayHeader(br io.Reader, scratch []byte, fields uint64) error {
	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("cbor input should be of type array")
	}
	if extra != fields {
		return fmt.Errorf("cbor input had wrong number of fields")
	}
	return nil
}

func readUint(br io.Reader, scratch []byte) (uint64, error) {
	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return 0, err
	}
	if maj != cbg.MajUnsignedInt {
		return 0, fmt.Errorf("wrong type for uint64 field")
	}
	return extra, nil
}
