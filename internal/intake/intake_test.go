package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/credential"
	"github.com/gdnshnk/pohw-registry-node/internal/hashing"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/reputation"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

type recordingSignal struct {
	hashes []string
}

func (r *recordingSignal) NotifyPending(_ context.Context, hash string) {
	r.hashes = append(r.hashes, hash)
}

func newTestService(signal BatchSignal) *Service {
	s := memstore.New()
	rep := reputation.New(s, reputation.Config{
		Window:           time.Minute,
		Cap:              60,
		RefusalThreshold: 10,
		ScoreIncrement:   1,
		ScoreDecrement:   5,
	})
	cred := credential.New(s, nil)
	return New(s, rep, cred, signal, "registry-1")
}

func validHash() string {
	return hashing.SHA256Hex([]byte("content"))
}

func TestAttestRejectsMalformedHash(t *testing.T) {
	svc := newTestService(nil)
	_, err := svc.Attest(context.Background(), Request{
		Hash:            "not-a-hash",
		IdentityID:      "did:pohw:abc",
		ClientTimestamp: time.Now().Format(time.RFC3339Nano),
	}, time.Now())
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeInvalid, errors.Code(err))
}

func TestAttestRejectsMalformedDID(t *testing.T) {
	svc := newTestService(nil)
	_, err := svc.Attest(context.Background(), Request{
		Hash:            validHash(),
		IdentityID:      "not-a-did",
		ClientTimestamp: time.Now().Format(time.RFC3339Nano),
	}, time.Now())
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeInvalid, errors.Code(err))
}

func TestAttestSucceedsAndSignalsBatcher(t *testing.T) {
	signal := &recordingSignal{}
	svc := newTestService(signal)
	now := time.Now()
	receipt, err := svc.Attest(context.Background(), Request{
		Hash:              validHash(),
		Signature:         "0xsig",
		IdentityID:        "did:pohw:abc",
		ClientTimestamp:   now.Format(time.RFC3339Nano),
		AssistanceProfile: model.AssistanceHumanOnly,
	}, now)
	require.NoError(t, err)
	require.Equal(t, "registry-1", receipt.RegistryID)
	require.Len(t, signal.hashes, 1)
}

func TestAttestRejectsDuplicateHash(t *testing.T) {
	svc := newTestService(nil)
	now := time.Now()
	req := Request{
		Hash:              validHash(),
		Signature:         "0xsig",
		IdentityID:        "did:pohw:abc",
		ClientTimestamp:   now.Format(time.RFC3339Nano),
		AssistanceProfile: model.AssistanceHumanOnly,
	}
	_, err := svc.Attest(context.Background(), req, now)
	require.NoError(t, err)

	_, err = svc.Attest(context.Background(), req, now.Add(time.Second))
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestAttestRejectsProcessDigestMismatch(t *testing.T) {
	svc := newTestService(nil)
	now := time.Now()
	_, err := svc.Attest(context.Background(), Request{
		Hash:              validHash(),
		Signature:         "0xsig",
		IdentityID:        "did:pohw:abc",
		ClientTimestamp:   now.Format(time.RFC3339Nano),
		ProcessMetrics:    map[string]any{"keystrokes": 120},
		ProcessDigest:     hashing.SHA256Hex([]byte("wrong-digest")),
		AssistanceProfile: model.AssistanceHumanOnly,
	}, now)
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeInvalid, errors.Code(err))
}

func TestAttestAcceptsConsistentProcessDigestAndCompoundHash(t *testing.T) {
	svc := newTestService(nil)
	now := time.Now()
	hash := validHash()
	metrics := map[string]any{"keystrokes": 120}
	digest, err := hashing.CanonicalDigestHex(metrics)
	require.NoError(t, err)
	compound := hashing.ConcatHex([]byte(hash), []byte(digest))

	_, err = svc.Attest(context.Background(), Request{
		Hash:              hash,
		Signature:         "0xsig",
		IdentityID:        "did:pohw:abc",
		ClientTimestamp:   now.Format(time.RFC3339Nano),
		ProcessMetrics:    metrics,
		ProcessDigest:     digest,
		CompoundHash:      compound,
		AssistanceProfile: model.AssistanceHumanOnly,
	}, now)
	require.NoError(t, err)
}

func TestAttestRateLimitsAfterCapReached(t *testing.T) {
	s := memstore.New()
	rep := reputation.New(s, reputation.Config{Window: time.Minute, Cap: 1, ScoreIncrement: 1, ScoreDecrement: 5})
	cred := credential.New(s, nil)
	svc := New(s, rep, cred, nil, "registry-1")

	now := time.Now()
	_, err := svc.Attest(context.Background(), Request{
		Hash:              hashing.SHA256Hex([]byte("first")),
		IdentityID:        "did:pohw:abc",
		ClientTimestamp:   now.Format(time.RFC3339Nano),
		AssistanceProfile: model.AssistanceHumanOnly,
	}, now)
	require.NoError(t, err)

	_, err = svc.Attest(context.Background(), Request{
		Hash:              hashing.SHA256Hex([]byte("second")),
		IdentityID:        "did:pohw:abc",
		ClientTimestamp:   now.Format(time.RFC3339Nano),
		AssistanceProfile: model.AssistanceHumanOnly,
	}, now)
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeRateLimited, errors.Code(err))
}
