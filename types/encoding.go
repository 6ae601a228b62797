package types

import (
	"fmt"
	"io"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

type peeker interface {
	io.Reader
	io.ByteScanner
}

func asPeeker(r io.Reader) peeker {
	if p, ok := r.(peeker); ok {
		return p
	}
	return cbg.GetPeeker(r)
}

var (
	lengthBufTicket            = []byte{0x81}
	lengthBufElectionCandidate = []byte{0x83}
	lengthBufElectionProof     = []byte{0x83}
	lengthBufHeader            = []byte{0x8d}
	lengthBufMessage           = []byte{0x8a}
	lengthBufSignedMessage     = []byte{0x82}
	lengthBufTxMeta            = []byte{0x82}
	lengthBufFullBlock         = []byte{0x83}
)

func (t *Ticket) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if _, err := w.Write(lengthBufTicket); err != nil {
		return err
	}
	scratch := make([]byte, 9)

	// t.VRFProof ([]uint8) (slice)
	return writeBytes(w, scratch, t.VRFProof, "t.VRFProof")
}

func (t *Ticket) UnmarshalCBOR(r io.Reader) error {
	*t = Ticket{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 1); err != nil {
		return err
	}
	var err error
	t.VRFProof, err = readBytes(br, scratch, "t.VRFProof")
	return err
}

func (t *ElectionCandidate) MarshalCBOR(w io.Writer) error {
	if _, err := w.Write(lengthBufElectionCandidate); err != nil {
		return err
	}
	scratch := make([]byte, 9)

	if err := writeBytes(w, scratch, t.Partial, "t.Partial"); err != nil {
		return err
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.SectorID); err != nil {
		return err
	}
	return cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.ChallengeIndex)
}

func (t *ElectionCandidate) UnmarshalCBOR(r io.Reader) error {
	*t = ElectionCandidate{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 3); err != nil {
		return err
	}
	var err error
	if t.Partial, err = readBytes(br, scratch, "t.Partial"); err != nil {
		return err
	}
	if t.SectorID, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("t.SectorID: %s", err)
	}
	if t.ChallengeIndex, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("t.ChallengeIndex: %s", err)
	}
	return nil
}

func (t *ElectionProof) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if _, err := w.Write(lengthBufElectionProof); err != nil {
		return err
	}
	scratch := make([]byte, 9)

	if err := writeBytes(w, scratch, t.Proof, "t.Proof"); err != nil {
		return err
	}
	if err := writeBytes(w, scratch, t.PostRand, "t.PostRand"); err != nil {
		return err
	}

	// t.Candidates ([]types.ElectionCandidate) (slice)
	if len(t.Candidates) > cbg.MaxLength {
		return fmt.Errorf("slice value in field t.Candidates was too long")
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(t.Candidates))); err != nil {
		return err
	}
	for i := range t.Candidates {
		if err := t.Candidates[i].MarshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (t *ElectionProof) UnmarshalCBOR(r io.Reader) error {
	*t = ElectionProof{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 3); err != nil {
		return err
	}
	var err error
	if t.Proof, err = readBytes(br, scratch, "t.Proof"); err != nil {
		return err
	}
	if t.PostRand, err = readBytes(br, scratch, "t.PostRand"); err != nil {
		return err
	}

	n, err := readArrayLen(br, scratch, "t.Candidates")
	if err != nil {
		return err
	}
	if n > 0 {
		t.Candidates = make([]ElectionCandidate, n)
	}
	for i := 0; i < int(n); i++ {
		if err := t.Candidates[i].UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling t.Candidates[%d]: %s", i, err)
		}
	}
	return nil
}

func (t *HeaderBuilder) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if _, err := w.Write(lengthBufHeader); err != nil {
		return err
	}
	scratch := make([]byte, 9)

	// t.Miner (address.Address) (struct)
	if err := t.Miner.MarshalCBOR(w); err != nil {
		return err
	}
	// t.Ticket (types.Ticket) (struct)
	if err := t.Ticket.MarshalCBOR(w); err != nil {
		return err
	}
	// t.ElectionProof (types.ElectionProof) (struct)
	if err := t.ElectionProof.MarshalCBOR(w); err != nil {
		return err
	}
	// t.Parents ([]cid.Cid) (slice)
	if err := writeCids(w, scratch, t.Parents); err != nil {
		return fmt.Errorf("t.Parents: %s", err)
	}
	// t.ParentWeight (big.Int) (struct)
	if err := t.ParentWeight.MarshalCBOR(w); err != nil {
		return err
	}
	// t.Height (abi.ChainEpoch) (int64)
	if err := writeInt64(w, scratch, int64(t.Height)); err != nil {
		return err
	}
	// t.StateRoot (cid.Cid) (struct)
	if err := cbg.WriteCidBuf(scratch, w, t.StateRoot); err != nil {
		return fmt.Errorf("failed to write cid field t.StateRoot: %s", err)
	}
	// t.MessageReceipts (cid.Cid) (struct)
	if err := cbg.WriteCidBuf(scratch, w, t.MessageReceipts); err != nil {
		return fmt.Errorf("failed to write cid field t.MessageReceipts: %s", err)
	}
	// t.Messages (cid.Cid) (struct)
	if err := cbg.WriteCidBuf(scratch, w, t.Messages); err != nil {
		return fmt.Errorf("failed to write cid field t.Messages: %s", err)
	}
	// t.BLSAggregate (crypto.Signature) (struct)
	if err := t.BLSAggregate.MarshalCBOR(w); err != nil {
		return err
	}
	// t.Timestamp (uint64) (uint64)
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.Timestamp); err != nil {
		return err
	}
	// t.BlockSig (crypto.Signature) (struct)
	if err := t.BlockSig.MarshalCBOR(w); err != nil {
		return err
	}
	// t.ForkSignaling (uint64) (uint64)
	return cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.ForkSignaling)
}

func (t *HeaderBuilder) UnmarshalCBOR(r io.Reader) error {
	*t = HeaderBuilder{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 13); err != nil {
		return err
	}

	if err := t.Miner.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.Miner: %s", err)
	}
	isNull, err := peekNull(br)
	if err != nil {
		return err
	}
	if !isNull {
		t.Ticket = new(Ticket)
		if err := t.Ticket.UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling t.Ticket pointer: %s", err)
		}
	}
	if isNull, err = peekNull(br); err != nil {
		return err
	}
	if !isNull {
		t.ElectionProof = new(ElectionProof)
		if err := t.ElectionProof.UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling t.ElectionProof pointer: %s", err)
		}
	}
	if t.Parents, err = readCids(br, scratch); err != nil {
		return fmt.Errorf("t.Parents: %s", err)
	}
	if err := t.ParentWeight.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.ParentWeight: %s", err)
	}
	h, err := readInt64(br, scratch)
	if err != nil {
		return fmt.Errorf("t.Height: %s", err)
	}
	t.Height = abi.ChainEpoch(h)
	if t.StateRoot, err = cbg.ReadCid(br); err != nil {
		return fmt.Errorf("failed to read cid field t.StateRoot: %s", err)
	}
	if t.MessageReceipts, err = cbg.ReadCid(br); err != nil {
		return fmt.Errorf("failed to read cid field t.MessageReceipts: %s", err)
	}
	if t.Messages, err = cbg.ReadCid(br); err != nil {
		return fmt.Errorf("failed to read cid field t.Messages: %s", err)
	}
	if t.BLSAggregate, err = readSignature(br); err != nil {
		return fmt.Errorf("unmarshaling t.BLSAggregate pointer: %s", err)
	}
	if t.Timestamp, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("t.Timestamp: %s", err)
	}
	if t.BlockSig, err = readSignature(br); err != nil {
		return fmt.Errorf("unmarshaling t.BlockSig pointer: %s", err)
	}
	if t.ForkSignaling, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("t.ForkSignaling: %s", err)
	}
	return nil
}

func (t *Message) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if _, err := w.Write(lengthBufMessage); err != nil {
		return err
	}
	scratch := make([]byte, 9)

	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.Version); err != nil {
		return err
	}
	if err := t.To.MarshalCBOR(w); err != nil {
		return err
	}
	if err := t.From.MarshalCBOR(w); err != nil {
		return err
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, t.Nonce); err != nil {
		return err
	}
	if err := t.Value.MarshalCBOR(w); err != nil {
		return err
	}
	if err := writeInt64(w, scratch, t.GasLimit); err != nil {
		return err
	}
	if err := t.GasFeeCap.MarshalCBOR(w); err != nil {
		return err
	}
	if err := t.GasPremium.MarshalCBOR(w); err != nil {
		return err
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, uint64(t.Method)); err != nil {
		return err
	}
	return writeBytes(w, scratch, t.Params, "t.Params")
}

func (t *Message) UnmarshalCBOR(r io.Reader) error {
	*t = Message{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 10); err != nil {
		return err
	}
	var err error
	if t.Version, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("t.Version: %s", err)
	}
	if err := t.To.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.To: %s", err)
	}
	if err := t.From.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.From: %s", err)
	}
	if t.Nonce, err = readUint(br, scratch); err != nil {
		return fmt.Errorf("t.Nonce: %s", err)
	}
	if err := t.Value.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.Value: %s", err)
	}
	if t.GasLimit, err = readInt64(br, scratch); err != nil {
		return fmt.Errorf("t.GasLimit: %s", err)
	}
	if err := t.GasFeeCap.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.GasFeeCap: %s", err)
	}
	if err := t.GasPremium.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.GasPremium: %s", err)
	}
	m, err := readUint(br, scratch)
	if err != nil {
		return fmt.Errorf("t.Method: %s", err)
	}
	t.Method = abi.MethodNum(m)
	t.Params, err = readBytes(br, scratch, "t.Params")
	return err
}

func (t *SignedMessage) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if _, err := w.Write(lengthBufSignedMessage); err != nil {
		return err
	}
	if err := t.Message.MarshalCBOR(w); err != nil {
		return err
	}
	return t.Signature.MarshalCBOR(w)
}

func (t *SignedMessage) UnmarshalCBOR(r io.Reader) error {
	*t = SignedMessage{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 2); err != nil {
		return err
	}
	if err := t.Message.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.Message: %s", err)
	}
	if err := t.Signature.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.Signature: %s", err)
	}
	return nil
}

func (t *TxMeta) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if _, err := w.Write(lengthBufTxMeta); err != nil {
		return err
	}
	scratch := make([]byte, 9)

	if err := writeCids(w, scratch, t.BlsMessages); err != nil {
		return fmt.Errorf("t.BlsMessages: %s", err)
	}
	if err := writeCids(w, scratch, t.SecpkMessages); err != nil {
		return fmt.Errorf("t.SecpkMessages: %s", err)
	}
	return nil
}

func (t *TxMeta) UnmarshalCBOR(r io.Reader) error {
	*t = TxMeta{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 2); err != nil {
		return err
	}
	var err error
	if t.BlsMessages, err = readCids(br, scratch); err != nil {
		return fmt.Errorf("t.BlsMessages: %s", err)
	}
	if t.SecpkMessages, err = readCids(br, scratch); err != nil {
		return fmt.Errorf("t.SecpkMessages: %s", err)
	}
	return nil
}

func (t *FullBlock) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	if t.Header == nil {
		return ErrNilHeader
	}
	if _, err := w.Write(lengthBufFullBlock); err != nil {
		return err
	}
	scratch := make([]byte, 9)

	if err := t.Header.MarshalCBOR(w); err != nil {
		return err
	}
	if len(t.BlsMessages) > cbg.MaxLength {
		return fmt.Errorf("slice value in field t.BlsMessages was too long")
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(t.BlsMessages))); err != nil {
		return err
	}
	for _, m := range t.BlsMessages {
		if err := m.MarshalCBOR(w); err != nil {
			return err
		}
	}
	if len(t.SecpkMessages) > cbg.MaxLength {
		return fmt.Errorf("slice value in field t.SecpkMessages was too long")
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(t.SecpkMessages))); err != nil {
		return err
	}
	for _, m := range t.SecpkMessages {
		if err := m.MarshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (t *FullBlock) UnmarshalCBOR(r io.Reader) error {
	*t = FullBlock{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	if err := readArrayHeader(br, scratch, 3); err != nil {
		return err
	}
	t.Header = new(BlockHeader)
	if err := t.Header.UnmarshalCBOR(br); err != nil {
		return fmt.Errorf("unmarshaling t.Header: %s", err)
	}

	n, err := readArrayLen(br, scratch, "t.BlsMessages")
	if err != nil {
		return err
	}
	if n > 0 {
		t.BlsMessages = make([]*Message, n)
	}
	for i := 0; i < int(n); i++ {
		var m Message
		if err := m.UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling t.BlsMessages[%d]: %s", i, err)
		}
		t.BlsMessages[i] = &m
	}

	if n, err = readArrayLen(br, scratch, "t.SecpkMessages"); err != nil {
		return err
	}
	if n > 0 {
		t.SecpkMessages = make([]*SignedMessage, n)
	}
	for i := 0; i < int(n); i++ {
		var m SignedMessage
		if err := m.UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling t.SecpkMessages[%d]: %s", i, err)
		}
		t.SecpkMessages[i] = &m
	}
	return nil
}

func (t *FullTipSet) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}
	scratch := make([]byte, 9)
	if len(t.Blocks) > cbg.MaxLength {
		return fmt.Errorf("slice value in field t.Blocks was too long")
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(t.Blocks))); err != nil {
		return err
	}
	for _, b := range t.Blocks {
		if err := b.MarshalCBOR(w); err != nil {
			return err
		}
	}
	return nil
}

func (t *FullTipSet) UnmarshalCBOR(r io.Reader) error {
	*t = FullTipSet{}
	br := asPeeker(r)
	scratch := make([]byte, 8)

	n, err := readArrayLen(br, scratch, "t.Blocks")
	if err != nil {
		return err
	}
	if n > 0 {
		t.Blocks = make([]*FullBlock, n)
	}
	for i := 0; i < int(n); i++ {
		var b FullBlock
		if err := b.UnmarshalCBOR(br); err != nil {
			return fmt.Errorf("unmarshaling t.Blocks[%d]: %s", i, err)
		}
		t.Blocks[i] = &b
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

func readArrayLen(br io.Reader, scratch []byte, field string) (uint64, error) {
	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return 0, err
	}
	if extra > cbg.MaxLength {
		return 0, fmt.Errorf("%s: array too large (%d)", field, extra)
	}
	if maj != cbg.MajArray {
		return 0, fmt.Errorf("%s: expected cbor array", field)
	}
	return extra, nil
}

func writeBytes(w io.Writer, scratch []byte, b []byte, field string) error {
	if len(b) > cbg.ByteArrayMaxLen {
		return fmt.Errorf("byte array in field %s was too long", field)
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajByteString, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(br io.Reader, scratch []byte, field string) ([]byte, error) {
	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return nil, err
	}
	if extra > cbg.ByteArrayMaxLen {
		return nil, fmt.Errorf("%s: byte array too large (%d)", field, extra)
	}
	if maj != cbg.MajByteString {
		return nil, fmt.Errorf("%s: expected byte array", field)
	}
	if extra == 0 {
		return nil, nil
	}
	b := make([]byte, extra)
	if _, err := io.ReadFull(br, b); err != nil {
		return nil, err
	}
	return b, nil
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

func writeInt64(w io.Writer, scratch []byte, v int64) error {
	if v >= 0 {
		return cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, uint64(v))
	}
	return cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajNegativeInt, uint64(-v-1))
}

func readInt64(br io.Reader, scratch []byte) (int64, error) {
	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return 0, err
	}
	v := int64(extra)
	switch maj {
	case cbg.MajUnsignedInt:
		if v < 0 {
			return 0, fmt.Errorf("int64 positive overflow")
		}
	case cbg.MajNegativeInt:
		if v < 0 {
			return 0, fmt.Errorf("int64 negative overflow")
		}
		v = -1 - v
	default:
		return 0, fmt.Errorf("wrong type for int64 field: %d", maj)
	}
	return v, nil
}

func writeCids(w io.Writer, scratch []byte, cids []cid.Cid) error {
	if len(cids) > cbg.MaxLength {
		return fmt.Errorf("slice value was too long")
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(cids))); err != nil {
		return err
	}
	for _, c := range cids {
		if err := cbg.WriteCidBuf(scratch, w, c); err != nil {
			return fmt.Errorf("failed writing cid: %s", err)
		}
	}
	return nil
}

func readCids(br io.Reader, scratch []byte) ([]cid.Cid, error) {
	n, err := readArrayLen(br, scratch, "cids")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	cids := make([]cid.Cid, n)
	for i := range cids {
		c, err := cbg.ReadCid(br)
		if err != nil {
			return nil, fmt.Errorf("reading cid failed: %s", err)
		}
		cids[i] = c
	}
	return cids, nil
}

func peekNull(br peeker) (bool, error) {
	b, err := br.ReadByte()
	if err != nil {
		return false, err
	}
	if b == cbg.CborNull[0] {
		return true, nil
	}
	return false, br.UnreadByte()
}

func readSignature(br peeker) (*crypto.Signature, error) {
	isNull, err := peekNull(br)
	if err != nil || isNull {
		return nil, err
	}
	var s crypto.Signature
	if err := s.UnmarshalCBOR(br); err != nil {
		return nil, err
	}
	return &s, nil
}
