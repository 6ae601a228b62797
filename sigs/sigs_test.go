package sigs

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/stretchr/testify/require"
	"github.com/textileio/filsync/types"
	"github.com/textileio/filsync/util"
)

func TestSignVerify(t *testing.T) {
	t.Parallel()
	priv, err := GenerateKey()
	require.NoError(t, err)
	addr, err := ToAddress(priv)
	require.NoError(t, err)
	require.Equal(t, address.SECP256K1, addr.Protocol())

	sig, err := Sign(priv, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, sig.Data, SignatureLen)
	require.NoError(t, Verify(sig, addr, []byte("hello")))

	err = Verify(sig, addr, []byte("bye"))
	require.ErrorIs(t, err, ErrInvalidSignature)

	other, err := GenerateKey()
	require.NoError(t, err)
	otherAddr, err := ToAddress(other)
	require.NoError(t, err)
	require.ErrorIs(t, Verify(sig, otherAddr, []byte("hello")), ErrInvalidSignature)
}

func TestVerifyUnavailable(t *testing.T) {
	t.Parallel()
	priv, err := GenerateKey()
	require.NoError(t, err)
	addr, err := ToAddress(priv)
	require.NoError(t, err)

	err = Verify(&crypto.Signature{Type: crypto.SigTypeBLS, Data: []byte{1}}, addr, nil)
	require.ErrorIs(t, err, util.ErrUnavailable)

	id, err := address.NewIDAddress(10)
	require.NoError(t, err)
	sig, err := Sign(priv, []byte("x"))
	require.NoError(t, err)
	require.ErrorIs(t, Verify(sig, id, []byte("x")), util.ErrUnavailable)
}

func TestVerifyMalformed(t *testing.T) {
	t.Parallel()
	priv, err := GenerateKey()
	require.NoError(t, err)
	addr, err := ToAddress(priv)
	require.NoError(t, err)

	require.ErrorIs(t, Verify(nil, addr, nil), ErrInvalidSignature)
	bad := &crypto.Signature{Type: crypto.SigTypeSecp256k1, Data: []byte{1, 2, 3}}
	require.ErrorIs(t, Verify(bad, addr, nil), ErrInvalidSignature)
}

func TestTicketVRF(t *testing.T) {
	t.Parallel()
	priv, err := GenerateKey()
	require.NoError(t, err)
	addr, err := ToAddress(priv)
	require.NoError(t, err)

	proof, err := TicketProof(priv, []byte("parent ticket"))
	require.NoError(t, err)

	var v Verifier
	ok, err := v.VerifyVRF(context.Background(), addr, []byte("parent ticket"), proof)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.VerifyVRF(context.Background(), addr, []byte("other ticket"), proof)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestElectionVRF(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	priv, err := GenerateKey()
	require.NoError(t, err)
	addr, err := ToAddress(priv)
	require.NoError(t, err)

	proof, err := ElectionProof(priv, []byte("rand"))
	require.NoError(t, err)

	var v Verifier
	ok, err := v.VerifyElection(ctx, &types.ElectionProof{Proof: proof}, []byte("rand"), addr)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.VerifyElection(ctx, nil, []byte("rand"), addr)
	require.NoError(t, err)
	require.False(t, ok)

	// A ticket over the same randomness isn't a valid election proof.
	ticket, err := TicketProof(priv, []byte("rand"))
	require.NoError(t, err)
	ok, err = v.VerifyElection(ctx, &types.ElectionProof{Proof: ticket}, []byte("rand"), addr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVRFInput(t *testing.T) {
	t.Parallel()
	in := VRFInput(crypto.DomainSeparationTag_TicketProduction, []byte{0xaa})
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1, 0xaa}, in)
}

func TestVerifyVRFBLSWorker(t *testing.T) {
	t.Parallel()
	bls, err := address.NewBLSAddress(make([]byte, address.BlsPublicKeyBytes))
	require.NoError(t, err)
	var v Verifier
	_, err = v.VerifyVRF(context.Background(), bls, []byte("x"), []byte("y"))
	require.ErrorIs(t, err, util.ErrUnavailable)
}
