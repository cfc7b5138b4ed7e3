package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/anchor"
	"github.com/gdnshnk/pohw-registry-node/internal/batcher"
	"github.com/gdnshnk/pohw-registry-node/internal/claim"
	"github.com/gdnshnk/pohw-registry-node/internal/credential"
	"github.com/gdnshnk/pohw-registry-node/internal/federation"
	"github.com/gdnshnk/pohw-registry-node/internal/identity"
	"github.com/gdnshnk/pohw-registry-node/internal/intake"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/metrics"
	"github.com/gdnshnk/pohw-registry-node/internal/reputation"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	s := memstore.New()
	logger := logging.New("transport-test", "error", "json")
	m := metrics.New(prometheus.NewRegistry())

	anchorEngine := anchor.New(s, nil, logger)
	batcherSvc := batcher.New(s, 1000, anchorEngine)
	credSvc := credential.New(s, nil)
	repEngine := reputation.New(s, reputation.Config{Cap: 60, Window: time.Minute})
	intakeSvc := intake.New(s, repEngine, credSvc, batcherSvc, "did:pohw:registry-test")
	identitySvc := identity.New(s)
	claimSvc := claim.New(s)
	federationEngine := federation.New(s, "did:pohw:registry-test", 5, logger)

	deps := Deps{
		RegistryID:     "did:pohw:registry-test",
		Store:          s,
		Intake:         intakeSvc,
		Batcher:        batcherSvc,
		Anchor:         anchorEngine,
		Identity:       identitySvc,
		Credential:     credSvc,
		Reputation:     repEngine,
		Claim:          claimSvc,
		Federation:     federationEngine,
		Metrics:        m,
		Logger:         logger,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	return NewRouter(deps)
}

func TestAttestVerifyAndStatusRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	hash := "0x" + repeatHex("aa", 32)
	attestBody, err := json.Marshal(attestRequest{
		Hash:              hash,
		Signature:         "0xsig",
		IdentityID:        "did:pohw:u1",
		ClientTimestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		AssistanceProfile: "human-only",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/pohw/attest", bytes.NewReader(attestBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, 201, rec.Code, rec.Body.String())

	var receipt attestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "did:pohw:registry-test", receipt.RegistryID)
	assert.NotEmpty(t, receipt.ReceiptHash)

	// duplicate submission is rejected
	req2 := httptest.NewRequest("POST", "/pohw/attest", bytes.NewReader(attestBody))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, 409, rec2.Code)

	statusReq := httptest.NewRequest("GET", "/pohw/status", nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	require.Equal(t, 200, statusRec.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.TotalProofs)
	assert.Equal(t, 1, status.PendingProofCount)

	batchReq := httptest.NewRequest("POST", "/pohw/batch/create", nil)
	batchRec := httptest.NewRecorder()
	router.ServeHTTP(batchRec, batchReq)
	require.Equal(t, 201, batchRec.Code, batchRec.Body.String())

	var batch batchCreateResponse
	require.NoError(t, json.Unmarshal(batchRec.Body.Bytes(), &batch))
	assert.Equal(t, 1, batch.Size)

	verifyReq := httptest.NewRequest("GET", "/pohw/verify/"+hash, nil)
	verifyRec := httptest.NewRecorder()
	router.ServeHTTP(verifyRec, verifyReq)
	require.Equal(t, 200, verifyRec.Code)

	var verify verifyResponse
	require.NoError(t, json.Unmarshal(verifyRec.Body.Bytes(), &verify))
	assert.True(t, verify.Valid)
	assert.Equal(t, "did:pohw:u1", verify.Identity)
	assert.NotEmpty(t, verify.MerkleRoot)
}

func TestHealthReportsOK(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
