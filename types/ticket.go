package types

import "bytes"

// Ticket is the verifiable randomness a miner derives from the previous
// round's minimal ticket.
type Ticket struct {
	VRFProof []byte
}

// Compare orders tickets by their VRF output bytes. A nil ticket sorts
// before any other ticket.
func (t *Ticket) Compare(o *Ticket) int {
	return bytes.Compare(t.proof(), o.proof())
}

// Less returns true if t sorts strictly before o.
func (t *Ticket) Less(o *Ticket) bool {
	return t.Compare(o) < 0
}

// Equals returns true if both tickets carry the same proof.
func (t *Ticket) Equals(o *Ticket) bool {
	return t.Compare(o) == 0
}

// Copy returns a deep copy of the ticket.
func (t *Ticket) Copy() *Ticket {
	if t == nil {
		return nil
	}
	return &Ticket{VRFProof: copyBytes(t.VRFProof)}
}

func (t *Ticket) proof() []byte {
	if t == nil {
		return nil
	}
	return t.VRFProof
}

// ElectionCandidate is a single winning PoSt candidate.
type ElectionCandidate struct {
	Partial        []byte
	SectorID       uint64
	ChallengeIndex uint64
}

// ElectionProof proves a miner was elected to produce a block in a round.
type ElectionProof struct {
	Proof      []byte
	PostRand   []byte
	Candidates []ElectionCandidate
}

// Copy returns a deep copy of the proof.
func (ep *ElectionProof) Copy() *ElectionProof {
	if ep == nil {
		return nil
	}
	out := &ElectionProof{
		Proof:    copyBytes(ep.Proof),
		PostRand: copyBytes(ep.PostRand),
	}
	if ep.Candidates != nil {
		out.Candidates = make([]ElectionCandidate, len(ep.Candidates))
		for i, c := range ep.Candidates {
			out.Candidates[i] = ElectionCandidate{
				Partial:        copyBytes(c.Partial),
				SectorID:       c.SectorID,
				ChallengeIndex: c.ChallengeIndex,
			}
		}
	}
	return out
}
