// Package credential implements the Credential Service & Tiering (§4.3):
// issuing and revoking human-verification credentials from approved
// attestors, and computing the trust tier for an identity. Domain
// fingerprinting follows the teacher's own golang.org/x/crypto/sha3 usage
// (internal/crypto/crypto.go, applications/auth/manager.go) rather than
// stdlib sha256, to exercise the dependency the teacher already carries for
// this kind of short stable digest.
package credential

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/gdnshnk/pohw-registry-node/internal/hashing"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// Attestor is an approved issuer of human-verification credentials.
type Attestor struct {
	ID     string
	Domain string
}

// Service implements issue/revoke/tier_for (§4.3) against a Store and a
// fixed allowlist of approved attestors.
type Service struct {
	store store.Store

	mu        sync.RWMutex
	attestors map[string]Attestor
}

// New constructs a Credential Service backed by s, seeded with approved
// attestors.
func New(s store.Store, attestors []Attestor) *Service {
	byID := make(map[string]Attestor, len(attestors))
	for _, a := range attestors {
		byID[a.ID] = a
	}
	return &Service{store: s, attestors: byID}
}

// RegisterAttestor adds or updates an approved attestor at runtime.
func (s *Service) RegisterAttestor(a Attestor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attestors[a.ID] = a
}

// Attestors lists every currently approved attestor (§6 "list").
func (s *Service) Attestors() []Attestor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Attestor, 0, len(s.attestors))
	for _, a := range s.attestors {
		out = append(out, a)
	}
	return out
}

func (s *Service) attestor(issuerID string) (Attestor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attestors[issuerID]
	return a, ok
}

// Issue creates and persists a credential from issuerID to subjectID
// (§4.3 issue). issuerID must be an approved attestor.
func (s *Service) Issue(ctx context.Context, subjectID, issuerID, credType string, expiresAt *time.Time) (*model.Credential, error) {
	if _, ok := s.attestor(issuerID); !ok {
		return nil, errors.Invalid("issuer_id", "issuer is not an approved attestor")
	}
	if subjectID == "" || credType == "" {
		return nil, errors.Invalid("subject_id/type", "must be non-empty")
	}

	now := time.Now().UTC()
	hash, err := hashing.CanonicalDigestHex(struct {
		SubjectID string    `json:"subject_id"`
		IssuerID  string    `json:"issuer_id"`
		Type      string    `json:"type"`
		IssuedAt  time.Time `json:"issued_at"`
	}{subjectID, issuerID, credType, now})
	if err != nil {
		return nil, errors.Invalid("credential", "failed to derive credential hash")
	}

	cred := &model.Credential{
		Hash:      hash,
		SubjectID: subjectID,
		IssuerID:  issuerID,
		Type:      credType,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := s.store.PutCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Revoke marks a credential as revoked (§4.3 revoke). reason is recorded by
// the caller's logging layer; the Credential record itself only tracks the
// boolean revoked state (§3 Credential).
func (s *Service) Revoke(ctx context.Context, credentialHash, reason string) error {
	cred, err := s.store.GetCredential(ctx, credentialHash)
	if err != nil {
		return err
	}
	if cred.Revoked {
		return nil
	}
	cred.Revoked = true
	return s.store.PutCredential(ctx, cred)
}

// TierFor computes the trust tier for identityID given its declared
// assistance profile (§4.3 tier_for).
func (s *Service) TierFor(ctx context.Context, identityID string, profile model.AssistanceProfile) (model.Tier, error) {
	if profile.DeclaresAI() {
		return model.TierPurple, nil
	}

	creds, err := s.store.ListCredentialsForSubject(ctx, identityID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	domains := make(map[string]struct{})
	validCount := 0
	for _, c := range creds {
		if !c.Valid(now) {
			continue
		}
		validCount++
		if a, ok := s.attestor(c.IssuerID); ok && a.Domain != "" {
			domains[domainFingerprint(a.Domain)] = struct{}{}
		}
	}

	switch {
	case len(domains) >= 2:
		return model.TierGreen, nil
	case validCount >= 1:
		return model.TierBlue, nil
	default:
		return model.TierGrey, nil
	}
}

// domainFingerprint returns a stable, short, order-independent identifier
// for an attestor domain, used only to count distinct domains.
func domainFingerprint(domain string) string {
	digest := sha3.Sum256([]byte(domain))
	return hex.EncodeToString(digest[:8])
}
