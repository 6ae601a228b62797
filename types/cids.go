package types

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// DefaultCidBuilder computes identifiers for every chain object:
// CIDv1, dag-cbor codec, blake2b-256 multihash.
var DefaultCidBuilder = cid.Prefix{
	Version:  1,
	Codec:    cid.DagCBOR,
	MhType:   multihash.BLAKE2B_MIN + 31,
	MhLength: -1,
}

// SumCid returns the identifier of an already encoded object.
func SumCid(data []byte) (cid.Cid, error) {
	c, err := DefaultCidBuilder.Sum(data)
	if err != nil {
		return cid.Undef, fmt.Errorf("computing cid: %s", err)
	}
	return c, nil
}

// Encode returns the canonical encoding of a chain object.
func Encode(m cbg.CBORMarshaler) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.MarshalCBOR(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cidsEqual(a, b []cid.Cid) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
