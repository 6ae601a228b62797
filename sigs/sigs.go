package sigs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/textileio/filsync/types"
	"github.com/textileio/filsync/util"
	"golang.org/x/crypto/blake2b"
)

const (
	// PrivateKeyLen is the size of a secp256k1 private key.
	PrivateKeyLen = 32
	// SignatureLen is the size of a recoverable signature: r, s and v.
	SignatureLen = 65
)

// ErrInvalidSignature is returned when a signature doesn't match the signer.
var ErrInvalidSignature = errors.New("invalid signature")

// GenerateKey returns a new secp256k1 private key.
func GenerateKey() ([]byte, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("generating key: %s", err)
	}
	return priv.Serialize(), nil
}

// ToAddress returns the address controlled by a private key.
func ToAddress(priv []byte) (address.Address, error) {
	if len(priv) != PrivateKeyLen {
		return address.Undef, fmt.Errorf("invalid private key length %d", len(priv))
	}
	_, pub := btcec.PrivKeyFromBytes(btcec.S256(), priv)
	return address.NewSecp256k1Address(pub.SerializeUncompressed())
}

// Sign signs the blake2b-256 digest of msg.
func Sign(priv []byte, msg []byte) (*crypto.Signature, error) {
	if len(priv) != PrivateKeyLen {
		return nil, fmt.Errorf("invalid private key length %d", len(priv))
	}
	pk, _ := btcec.PrivKeyFromBytes(btcec.S256(), priv)
	digest := blake2b.Sum256(msg)
	compact, err := btcec.SignCompact(btcec.S256(), pk, digest[:], false)
	if err != nil {
		return nil, fmt.Errorf("signing: %s", err)
	}
	// Compact signatures are v||r||s with v offset by 27.
	sig := make([]byte, SignatureLen)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return &crypto.Signature{Type: crypto.SigTypeSecp256k1, Data: sig}, nil
}

// Verify checks that sig is a signature of msg by addr.
func Verify(sig *crypto.Signature, addr address.Address, msg []byte) error {
	if sig == nil {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	switch sig.Type {
	case crypto.SigTypeSecp256k1:
		return verifySecp(sig.Data, addr, msg)
	case crypto.SigTypeBLS:
		return fmt.Errorf("bls signatures: %w", util.ErrUnavailable)
	default:
		return fmt.Errorf("unknown signature type %d: %w", sig.Type, util.ErrUnavailable)
	}
}

func verifySecp(sig []byte, addr address.Address, msg []byte) error {
	if addr.Protocol() != address.SECP256K1 {
		return fmt.Errorf("secp signature for %s address: %w", addr, util.ErrUnavailable)
	}
	if len(sig) != SignatureLen || sig[64] > 3 {
		return fmt.Errorf("%w: malformed secp signature", ErrInvalidSignature)
	}
	compact := make([]byte, SignatureLen)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])

	digest := blake2b.Sum256(msg)
	pub, _, err := btcec.RecoverCompact(btcec.S256(), compact, digest[:])
	if err != nil {
		return fmt.Errorf("%w: recovering public key: %s", ErrInvalidSignature, err)
	}
	signer, err := address.NewSecp256k1Address(pub.SerializeUncompressed())
	if err != nil {
		return fmt.Errorf("deriving signer address: %s", err)
	}
	if signer != addr {
		return fmt.Errorf("%w: signed by %s, expected %s", ErrInvalidSignature, signer, addr)
	}
	return nil
}

// Verifier checks block and ticket signatures made with worker keys.
type Verifier struct{}

// VerifyBlockSignature checks the header signature against the worker key.
func (Verifier) VerifyBlockSignature(ctx context.Context, h *types.BlockHeader, worker address.Address) (bool, error) {
	data, err := h.SigningBytes()
	if err != nil {
		return false, fmt.Errorf("getting signing bytes: %s", err)
	}
	return result(Verify(h.BlockSig(), worker, data))
}

// VerifyVRF checks a ticket proof computed over the parent ticket
// randomness. Secp workers produce VRF proofs by signing the input.
func (Verifier) VerifyVRF(ctx context.Context, worker address.Address, randomness, proof []byte) (bool, error) {
	return verifyVRF(worker, VRFInput(crypto.DomainSeparationTag_TicketProduction, randomness), proof)
}

// VerifyElection checks that the election proof was produced by the miner
// over the given randomness.
func (Verifier) VerifyElection(ctx context.Context, proof *types.ElectionProof, randomness []byte, miner address.Address) (bool, error) {
	if proof == nil || len(proof.Proof) == 0 {
		return false, nil
	}
	return verifyVRF(miner, VRFInput(crypto.DomainSeparationTag_ElectionProofProduction, randomness), proof.Proof)
}

func verifyVRF(signer address.Address, input, proof []byte) (bool, error) {
	if signer.Protocol() == address.BLS {
		return false, fmt.Errorf("bls vrf: %w", util.ErrUnavailable)
	}
	return result(Verify(&crypto.Signature{Type: crypto.SigTypeSecp256k1, Data: proof}, signer, input))
}

// VRFInput prefixes randomness with the big-endian domain separation tag so
// proofs for one purpose can't be replayed for another.
func VRFInput(dst crypto.DomainSeparationTag, randomness []byte) []byte {
	buf := make([]byte, 8+len(randomness))
	binary.BigEndian.PutUint64(buf, uint64(dst))
	copy(buf[8:], randomness)
	return buf
}

// VRF computes a proof over input.
func VRF(priv []byte, input []byte) ([]byte, error) {
	sig, err := Sign(priv, input)
	if err != nil {
		return nil, err
	}
	return sig.Data, nil
}

// TicketProof computes the ticket a miner puts in a block mined on top of a
// tipset whose min ticket is parentTicket.
func TicketProof(priv []byte, parentTicket []byte) ([]byte, error) {
	return VRF(priv, VRFInput(crypto.DomainSeparationTag_TicketProduction, parentTicket))
}

// ElectionProof computes the election proof of a miner for randomness.
func ElectionProof(priv []byte, randomness []byte) ([]byte, error) {
	return VRF(priv, VRFInput(crypto.DomainSeparationTag_ElectionProofProduction, randomness))
}

func result(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrInvalidSignature) {
		return false, nil
	}
	return false, err
}
