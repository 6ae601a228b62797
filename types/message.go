package types

import (
	"fmt"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/crypto"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// ChainMsg is a message that can be included in a block.
type ChainMsg interface {
	Cid() (cid.Cid, error)
	ToStorageBlock() (blocks.Block, error)
}

// Message is an unsigned message. BLS messages travel unsigned and are
// covered by the block aggregate signature.
type Message struct {
	Version    uint64
	To         address.Address
	From       address.Address
	Nonce      uint64
	Value      big.Int
	GasLimit   int64
	GasFeeCap  big.Int
	GasPremium big.Int
	Method     abi.MethodNum
	Params     []byte
}

var _ ChainMsg = (*Message)(nil)

// Cid returns the message identifier.
func (m *Message) Cid() (cid.Cid, error) {
	b, err := m.ToStorageBlock()
	if err != nil {
		return cid.Undef, err
	}
	return b.Cid(), nil
}

// ToStorageBlock returns the encoded message as a content-addressed block.
func (m *Message) ToStorageBlock() (blocks.Block, error) {
	return toStorageBlock(m)
}

// SignedMessage is a message carrying its own secp256k1 signature.
type SignedMessage struct {
	Message   Message
	Signature crypto.Signature
}

var _ ChainMsg = (*SignedMessage)(nil)

// Cid returns the signed message identifier.
func (sm *SignedMessage) Cid() (cid.Cid, error) {
	b, err := sm.ToStorageBlock()
	if err != nil {
		return cid.Undef, err
	}
	return b.Cid(), nil
}

// ToStorageBlock returns the encoded signed message as a content-addressed block.
func (sm *SignedMessage) ToStorageBlock() (blocks.Block, error) {
	return toStorageBlock(sm)
}

// TxMeta lists the messages included in a block. Its identifier is the
// block message root.
type TxMeta struct {
	BlsMessages   []cid.Cid
	SecpkMessages []cid.Cid
}

// Cid returns the message root described by the meta.
func (mm *TxMeta) Cid() (cid.Cid, error) {
	b, err := mm.ToStorageBlock()
	if err != nil {
		return cid.Undef, err
	}
	return b.Cid(), nil
}

// ToStorageBlock returns the encoded meta as a content-addressed block.
func (mm *TxMeta) ToStorageBlock() (blocks.Block, error) {
	return toStorageBlock(mm)
}

// ComputeMessageRoot returns the message root for the given message lists.
func ComputeMessageRoot(bls, secpk []cid.Cid) (cid.Cid, error) {
	mm := &TxMeta{BlsMessages: bls, SecpkMessages: secpk}
	return mm.Cid()
}

func toStorageBlock(m cbg.CBORMarshaler) (blocks.Block, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, fmt.Errorf("encoding: %s", err)
	}
	c, err := SumCid(data)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}
