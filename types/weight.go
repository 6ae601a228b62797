package types

import (
	"bytes"

	"github.com/filecoin-project/go-state-types/big"
)

// WeightCmp totally orders tipsets by chain preference. It returns a
// positive number if a is heavier than b, negative if b is heavier, and
// zero only when both have the same key.
//
// Tipsets are compared by parent weight first. On equal weight the tipset
// with the numerically smaller minimal ticket is heavier, and as a last
// resort the one with the lexicographically smaller key bytes.
func WeightCmp(a, b *TipSet) int {
	if c := big.Cmp(a.ParentWeight(), b.ParentWeight()); c != 0 {
		return c
	}
	if c := a.MinTicket().Compare(b.MinTicket()); c != 0 {
		return -c
	}
	return -bytes.Compare(a.Key().Bytes(), b.Key().Bytes())
}

// Heavier returns true if a is strictly preferred over b.
func Heavier(a, b *TipSet) bool {
	return WeightCmp(a, b) > 0
}
