package hello

import (
	"fmt"
	"io"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/textileio/filsync/types"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// Message is exchanged by both sides of a new connection.
type Message struct {
	HeaviestTipSet       types.TipSetKey
	HeaviestTipSetHeight abi.ChainEpoch
	HeaviestTipSetWeight big.Int
	GenesisHash          cid.Cid
}

var lengthBufMessage = []byte{0x84}

func (t *Message) MarshalCBOR(w io.Writer) error {
	if _, err := w.Write(lengthBufMessage); err != nil {
		return err
	}
	scratch := make([]byte, 9)
	if err := t.HeaviestTipSet.MarshalCBOR(w); err != nil {
		return err
	}
	if t.HeaviestTipSetHeight < 0 {
		return fmt.Errorf("negative height %d", t.HeaviestTipSetHeight)
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, uint64(t.HeaviestTipSetHeight)); err != nil {
		return err
	}
	if err := t.HeaviestTipSetWeight.MarshalCBOR(w); err != nil {
		return err
	}
	if err := cbg.WriteCidBuf(scratch, w, t.GenesisHash); err != nil {
		return fmt.Errorf("failed to write cid field t.GenesisHash: %s", err)
	}
	return nil
}

func (t *Message) UnmarshalCBOR(r io.Reader) error {
	*t = Message{}
	br := cbg.GetPeeker(r)
	scratch := make([]byte, 8)

	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("cbor input should be of type array")
	}
	if extra != 4 {
		return fmt.Errorf("cbor input had wrong number of fields")
	}
	if err := t.HeaviestTipSet.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.HeaviestTipSet: %s", err)
	}
	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajUnsignedInt {
		return fmt.Errorf("wrong type for t.HeaviestTipSetHeight")
	}
	t.HeaviestTipSetHeight = abi.ChainEpoch(extra)
	if err := t.HeaviestTipSetWeight.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.HeaviestTipSetWeight: %s", err)
	}
	if t.GenesisHash, err = cbg.ReadCid(br); err != nil {
		return fmt.Errorf("unmarshaling t.GenesisHash: %s", err)
	}
	return nil
}
