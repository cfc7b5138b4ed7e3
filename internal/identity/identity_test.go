package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

func TestGenerateDerivesIDFromPublicKeyHash(t *testing.T) {
	svc := New(memstore.New())
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	identity, err := svc.Generate(context.Background(), pub)
	require.NoError(t, err)
	require.Equal(t, DeriveID(pub), identity.ID)
	require.Equal(t, model.IdentityActive, identity.Status)
	require.Len(t, identity.Document.VerificationMethods, 1)
}

func TestGenerateRejectsWrongSizedKey(t *testing.T) {
	svc := New(memstore.New())
	_, err := svc.Generate(context.Background(), []byte("too-short"))
	require.Error(t, err)
}

func TestResolveUnknownIDReturnsNotFound(t *testing.T) {
	svc := New(memstore.New())
	_, err := svc.Resolve(context.Background(), "did:pohw:missing")
	require.Error(t, err)
}

func TestRotateProducesTwoNodeContinuityChain(t *testing.T) {
	svc := New(memstore.New())
	oldPub, oldPriv, err := GenerateKeyPair()
	require.NoError(t, err)
	old, err := svc.Generate(context.Background(), oldPub)
	require.NoError(t, err)

	_, newPriv, err := GenerateKeyPair()
	require.NoError(t, err)

	newIdentity, claim, err := svc.Rotate(context.Background(), old.ID, oldPriv, newPriv, "0xlastanchor")
	require.NoError(t, err)
	require.Equal(t, model.IdentityActive, newIdentity.Status)
	require.Equal(t, old.ID, newIdentity.PreviousID)
	require.Equal(t, old.ID, claim.PreviousID)
	require.Equal(t, newIdentity.ID, claim.NewID)

	rotatedOld, err := svc.Resolve(context.Background(), old.ID)
	require.NoError(t, err)
	require.Equal(t, model.IdentityRotated, rotatedOld.Status)

	chain, err := svc.ContinuityChain(context.Background(), newIdentity.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, old.ID, chain[0].ID)
	require.Equal(t, newIdentity.ID, chain[1].ID)
}

func TestRotateRejectsInactiveOldIdentity(t *testing.T) {
	svc := New(memstore.New())
	oldPub, oldPriv, err := GenerateKeyPair()
	require.NoError(t, err)
	old, err := svc.Generate(context.Background(), oldPub)
	require.NoError(t, err)

	_, priv2, err := GenerateKeyPair()
	require.NoError(t, err)
	_, _, err = svc.Rotate(context.Background(), old.ID, oldPriv, priv2, "")
	require.NoError(t, err)

	_, priv3, err := GenerateKeyPair()
	require.NoError(t, err)
	_, _, err = svc.Rotate(context.Background(), old.ID, oldPriv, priv3, "")
	require.Error(t, err)
}

func TestVerifyContinuityClaimDetectsTamperedSignature(t *testing.T) {
	svc := New(memstore.New())
	oldPub, oldPriv, err := GenerateKeyPair()
	require.NoError(t, err)
	old, err := svc.Generate(context.Background(), oldPub)
	require.NoError(t, err)

	_, newPriv, err := GenerateKeyPair()
	require.NoError(t, err)
	newIdentity, claim, err := svc.Rotate(context.Background(), old.ID, oldPriv, newPriv, "")
	require.NoError(t, err)

	require.NoError(t, VerifyContinuityClaim(claim, old, newIdentity))

	tampered := *claim
	tampered.OldKeySignature = append([]byte(nil), claim.NewKeySignature...)
	require.Error(t, VerifyContinuityClaim(&tampered, old, newIdentity))
}
