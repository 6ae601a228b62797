package types

import (
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"
)

// EmptyTSK is the key of no tipset.
var EmptyTSK = TipSetKey{}

// TipSetKey is the ordered list of block identifiers of a tipset. It's
// comparable and can be used as a map key.
type TipSetKey struct {
	value string
}

// NewTipSetKey builds a key from an ordered list of block identifiers.
func NewTipSetKey(cids ...cid.Cid) TipSetKey {
	var sb strings.Builder
	for _, c := range cids {
		sb.Write(c.Bytes())
	}
	return TipSetKey{value: sb.String()}
}

// TipSetKeyFromBytes parses a key from its byte representation.
func TipSetKeyFromBytes(b []byte) (TipSetKey, error) {
	if _, err := decodeKey(b); err != nil {
		return EmptyTSK, err
	}
	return TipSetKey{value: string(b)}, nil
}

// Cids returns the block identifiers.
func (k TipSetKey) Cids() []cid.Cid {
	cids, err := decodeKey([]byte(k.value))
	if err != nil {
		panic("invalid tipset key: " + err.Error())
	}
	return cids
}

// Bytes returns the concatenation of the block identifier bytes.
func (k TipSetKey) Bytes() []byte {
	return []byte(k.value)
}

// IsEmpty returns true if the key has no blocks.
func (k TipSetKey) IsEmpty() bool {
	return len(k.value) == 0
}

// Equals returns true if both keys have the same blocks in the same order.
func (k TipSetKey) Equals(o TipSetKey) bool {
	return k.value == o.value
}

func (k TipSetKey) String() string {
	cids := k.Cids()
	strs := make([]string, len(cids))
	for i, c := range cids {
		strs[i] = c.String()
	}
	return "{" + strings.Join(strs, ",") + "}"
}

// MarshalCBOR encodes the key as an array of identifiers.
func (k TipSetKey) MarshalCBOR(w io.Writer) error {
	return writeCids(w, make([]byte, 9), k.Cids())
}

// UnmarshalCBOR decodes a key from an array of identifiers.
func (k *TipSetKey) UnmarshalCBOR(r io.Reader) error {
	cids, err := readCids(asPeeker(r), make([]byte, 8))
	if err != nil {
		return fmt.Errorf("decoding tipset key: %s", err)
	}
	*k = NewTipSetKey(cids...)
	return nil
}

func decodeKey(b []byte) ([]cid.Cid, error) {
	var cids []cid.Cid
	for len(b) > 0 {
		n, c, err := cid.CidFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("parsing cid in tipset key: %s", err)
		}
		cids = append(cids, c)
		b = b[n:]
	}
	return cids, nil
}
