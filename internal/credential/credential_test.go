package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

func newTestService() *Service {
	return New(memstore.New(), []Attestor{
		{ID: "did:pohw:attestor-a", Domain: "a.example"},
		{ID: "did:pohw:attestor-b", Domain: "b.example"},
	})
}

func TestIssueRejectsUnapprovedAttestor(t *testing.T) {
	svc := newTestService()
	_, err := svc.Issue(context.Background(), "did:pohw:subject", "did:pohw:unknown", "human-verification", nil)
	require.Error(t, err)
}

func TestIssueAndRevoke(t *testing.T) {
	svc := newTestService()
	cred, err := svc.Issue(context.Background(), "did:pohw:subject", "did:pohw:attestor-a", "human-verification", nil)
	require.NoError(t, err)
	require.False(t, cred.Revoked)

	require.NoError(t, svc.Revoke(context.Background(), cred.Hash, "subject requested revocation"))

	stored, err := svc.store.GetCredential(context.Background(), cred.Hash)
	require.NoError(t, err)
	require.True(t, stored.Revoked)
}

func TestTierForDeclaresAIReturnsPurpleRegardlessOfCredentials(t *testing.T) {
	svc := newTestService()
	tier, err := svc.TierFor(context.Background(), "did:pohw:subject", model.AssistanceAIAssisted)
	require.NoError(t, err)
	require.Equal(t, model.TierPurple, tier)
}

func TestTierForNoCredentialsReturnsGrey(t *testing.T) {
	svc := newTestService()
	tier, err := svc.TierFor(context.Background(), "did:pohw:subject", model.AssistanceHumanOnly)
	require.NoError(t, err)
	require.Equal(t, model.TierGrey, tier)
}

func TestTierForOneValidCredentialReturnsBlue(t *testing.T) {
	svc := newTestService()
	_, err := svc.Issue(context.Background(), "did:pohw:subject", "did:pohw:attestor-a", "human-verification", nil)
	require.NoError(t, err)

	tier, err := svc.TierFor(context.Background(), "did:pohw:subject", model.AssistanceHumanOnly)
	require.NoError(t, err)
	require.Equal(t, model.TierBlue, tier)
}

func TestTierForTwoDistinctAttestorDomainsReturnsGreen(t *testing.T) {
	svc := newTestService()
	_, err := svc.Issue(context.Background(), "did:pohw:subject", "did:pohw:attestor-a", "human-verification", nil)
	require.NoError(t, err)
	_, err = svc.Issue(context.Background(), "did:pohw:subject", "did:pohw:attestor-b", "human-verification", nil)
	require.NoError(t, err)

	tier, err := svc.TierFor(context.Background(), "did:pohw:subject", model.AssistanceHumanOnly)
	require.NoError(t, err)
	require.Equal(t, model.TierGreen, tier)
}

func TestTierForIgnoresExpiredCredential(t *testing.T) {
	svc := newTestService()
	past := time.Now().UTC().Add(-time.Hour)
	_, err := svc.Issue(context.Background(), "did:pohw:subject", "did:pohw:attestor-a", "human-verification", &past)
	require.NoError(t, err)

	tier, err := svc.TierFor(context.Background(), "did:pohw:subject", model.AssistanceHumanOnly)
	require.NoError(t, err)
	require.Equal(t, model.TierGrey, tier)
}

func TestTierForIgnoresRevokedCredential(t *testing.T) {
	svc := newTestService()
	cred, err := svc.Issue(context.Background(), "did:pohw:subject", "did:pohw:attestor-a", "human-verification", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(context.Background(), cred.Hash, "compromised"))

	tier, err := svc.TierFor(context.Background(), "did:pohw:subject", model.AssistanceHumanOnly)
	require.NoError(t, err)
	require.Equal(t, model.TierGrey, tier)
}
