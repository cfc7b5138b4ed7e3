// Package intake implements Attestation Intake (§4.5): the attest()
// procedure that validates, rate-admits, de-duplicates, verifies digest
// consistency, tiers, and persists a Proof, then signals the Batcher.
// Explicit service handles (Store, Reputation Engine, Credential Service,
// BatchSignal) are constructed once at process startup and passed in here
// rather than reached for as package-level singletons (§9 "Global
// singletons ... are avoided").
package intake

import (
	"context"
	"regexp"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/credential"
	"github.com/gdnshnk/pohw-registry-node/internal/hashing"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/reputation"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

var didPattern = regexp.MustCompile(`^did:[a-z0-9]+:.+$`)

// Request is the attest() input (§4.5).
type Request struct {
	Hash              string
	Signature         string
	IdentityID        string
	ClientTimestamp   string
	ProcessDigest     string
	CompoundHash      string
	ProcessMetrics    map[string]any
	DerivedFrom       *model.DerivedFrom
	AssistanceProfile model.AssistanceProfile
}

// Receipt is the attest() success response (§4.5 step 8).
type Receipt struct {
	ReceiptHash     string
	ServerTimestamp time.Time
	RegistryID      string
}

// BatchSignal is notified of a newly admitted proof so the Batcher can pick
// it up (§4.5 step 7). It is satisfied by the Batcher service.
type BatchSignal interface {
	NotifyPending(ctx context.Context, hash string)
}

// noopSignal is used when no Batcher is wired yet (e.g. in isolated tests).
type noopSignal struct{}

func (noopSignal) NotifyPending(context.Context, string) {}

// Service implements attest() against its collaborators.
type Service struct {
	store      store.Store
	reputation *reputation.Engine
	credential *credential.Service
	signal     BatchSignal
	registryID string
}

// New constructs an Intake Service. signal may be nil, in which case pending
// notifications are dropped (useful before the Batcher is wired).
func New(s store.Store, rep *reputation.Engine, cred *credential.Service, signal BatchSignal, registryID string) *Service {
	if signal == nil {
		signal = noopSignal{}
	}
	return &Service{store: s, reputation: rep, credential: cred, signal: signal, registryID: registryID}
}

// Attest runs the eight-step admission procedure (§4.5).
func (s *Service) Attest(ctx context.Context, req Request, now time.Time) (*Receipt, error) {
	// Step 1: syntactic validation.
	if !hashing.IsValidHash(req.Hash) {
		return nil, errors.Invalid("hash", "must be a 32-byte hex digest")
	}
	if !didPattern.MatchString(req.IdentityID) {
		return nil, errors.Invalid("identity_id", "must be a well-formed DID")
	}
	clientTimestamp, err := time.Parse(time.RFC3339Nano, req.ClientTimestamp)
	if err != nil {
		return nil, errors.Invalid("client_timestamp", "must be an RFC3339 timestamp")
	}

	hash := hashing.Normalize(req.Hash)

	// Step 2: rate/reputation admission.
	decision, err := s.reputation.Allow(ctx, req.IdentityID, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, errors.RateLimited(decision.Reason, decision.CurrentRate)
	}

	// Step 3: duplicate check.
	if _, err := s.store.GetProofByHash(ctx, hash); err == nil {
		return nil, errors.Conflict("already-attested")
	} else if errors.Code(err) != errors.ErrCodeNotFound {
		return nil, err
	}

	// Step 4: processMetrics/compoundHash consistency.
	if len(req.ProcessMetrics) > 0 {
		recomputed, err := hashing.CanonicalDigestHex(req.ProcessMetrics)
		if err != nil {
			return nil, errors.Invalid("processMetrics", "failed to canonicalize")
		}
		if req.ProcessDigest == "" || recomputed != hashing.Normalize(req.ProcessDigest) {
			_ = s.reputation.RecordAnomaly(ctx, req.IdentityID, "processDigest mismatch", now)
			return nil, errors.Invalid("processDigest", "does not match recomputed canonical digest")
		}
	}
	if req.CompoundHash != "" {
		expected := hashing.ConcatHex([]byte(hash), []byte(req.ProcessDigest))
		if hashing.Normalize(req.CompoundHash) != expected {
			_ = s.reputation.RecordAnomaly(ctx, req.IdentityID, "compoundHash mismatch", now)
			return nil, errors.Invalid("compoundHash", "does not match H(hash||processDigest)")
		}
	}

	// Step 5: tier computation.
	tier, err := s.credential.TierFor(ctx, req.IdentityID, req.AssistanceProfile)
	if err != nil {
		return nil, err
	}

	// Step 6: persist.
	proof := &model.Proof{
		Hash:              hash,
		Signature:         req.Signature,
		IdentityID:        req.IdentityID,
		ClientTimestamp:   clientTimestamp,
		ServerTimestamp:   now,
		ProcessDigest:     req.ProcessDigest,
		CompoundHash:      req.CompoundHash,
		ProcessMetrics:    req.ProcessMetrics,
		DerivedFrom:       req.DerivedFrom,
		Tier:              tier,
		AssistanceProfile: req.AssistanceProfile,
	}
	if err := s.store.PutProof(ctx, proof); err != nil {
		return nil, err
	}

	if err := s.reputation.RecordSuccess(ctx, req.IdentityID, now); err != nil {
		return nil, err
	}

	// Step 7: signal the Batcher.
	s.signal.NotifyPending(ctx, hash)

	// Step 8: receipt.
	receiptHash := hashing.ConcatHex([]byte(hash), []byte(now.UTC().Format(time.RFC3339Nano)))
	return &Receipt{ReceiptHash: receiptHash, ServerTimestamp: now, RegistryID: s.registryID}, nil
}
