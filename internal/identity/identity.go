// Package identity implements the Identity Service (§4.2): generation and
// resolution of decentralized identifiers, and key rotation through
// bilaterally-signed ContinuityClaims. Key handling is grounded on
// certenIO-certen-validator's pkg/proof.AttestationCollectorService — the
// same generate/sign/verify/serialize shape, rebased from attestor quorum
// onto identity continuity.
package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/hashing"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

const method = "pohw"

// Service implements generate/resolve/rotate/continuity_chain (§4.2) on top
// of a Store.
type Service struct {
	store store.Store
}

// New constructs an Identity Service backed by s.
func New(s store.Store) *Service {
	return &Service{store: s}
}

// GenerateKeyPair produces a fresh Ed25519 key pair for a new identity,
// mirroring certenIO's GenerateValidatorKeyPair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return pub, priv, nil
}

// DeriveID computes the method-specific id = H(public_key) (§4.2 generate)
// and returns the full "did:pohw:<hex>" identifier.
func DeriveID(publicKey ed25519.PublicKey) string {
	digest := hashing.SHA256(publicKey)
	return fmt.Sprintf("did:%s:%s", method, hex.EncodeToString(digest[:]))
}

// Generate registers a new identity for publicKey and persists its document
// (§4.2 generate).
func (s *Service) Generate(ctx context.Context, publicKey ed25519.PublicKey) (*model.Identity, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, errors.Invalid("public_key", "must be a 32-byte ed25519 public key")
	}

	id := DeriveID(publicKey)
	now := time.Now().UTC()
	identity := &model.Identity{
		ID: id,
		Document: model.IdentityDocument{
			VerificationMethods: []model.VerificationMethod{
				{ID: id + "#keys-1", Type: "Ed25519VerificationKey2020", PublicKey: publicKey},
			},
			CreatedAt: now,
		},
		Status: model.IdentityActive,
	}

	if err := s.store.PutIdentity(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Resolve looks up an identity's current document (§4.2 resolve).
func (s *Service) Resolve(ctx context.Context, identityID string) (*model.Identity, error) {
	return s.store.GetIdentity(ctx, identityID)
}

// Rotate retires oldID in favor of a new identity derived from newPrivateKey,
// producing a bilaterally-signed ContinuityClaim (§4.2 rotate). The caller
// supplies both private keys — see SPEC_FULL.md §9 for why the signature
// departs from the two-key-holder reading of the distilled spec.
func (s *Service) Rotate(ctx context.Context, oldID string, oldPrivateKey, newPrivateKey ed25519.PrivateKey, lastAnchor string) (*model.Identity, *model.ContinuityClaim, error) {
	if len(oldPrivateKey) != ed25519.PrivateKeySize || len(newPrivateKey) != ed25519.PrivateKeySize {
		return nil, nil, errors.Invalid("private_key", "must be 64-byte ed25519 private keys")
	}

	old, err := s.store.GetIdentity(ctx, oldID)
	if err != nil {
		return nil, nil, err
	}
	if old.Status != model.IdentityActive {
		return nil, nil, errors.Invalid("old_id", "identity is not active")
	}

	oldPublicKey, err := activePublicKey(old)
	if err != nil {
		return nil, nil, err
	}
	newPublicKey, ok := newPrivateKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, nil, errors.Invalid("new_private_key", "does not produce an ed25519 public key")
	}

	registryTimestamp := time.Now().UTC()
	message := rotationMessage(oldPublicKey, newPublicKey, lastAnchor, registryTimestamp)

	oldSig := ed25519.Sign(oldPrivateKey, message)
	newSig := ed25519.Sign(newPrivateKey, message)

	if !ed25519.Verify(oldPublicKey, message, oldSig) {
		return nil, nil, errors.Invalid("old_private_key", "signature verification failed")
	}
	if !ed25519.Verify(newPublicKey, message, newSig) {
		return nil, nil, errors.Invalid("new_private_key", "signature verification failed")
	}

	newID := DeriveID(newPublicKey)
	newIdentity := &model.Identity{
		ID: newID,
		Document: model.IdentityDocument{
			VerificationMethods: []model.VerificationMethod{
				{ID: newID + "#keys-1", Type: "Ed25519VerificationKey2020", PublicKey: newPublicKey},
			},
			CreatedAt: registryTimestamp,
		},
		Status:     model.IdentityActive,
		PreviousID: oldID,
	}
	claim := &model.ContinuityClaim{
		PreviousID:        oldID,
		NewID:             newID,
		ParentReference:   oldID,
		LastAnchor:        lastAnchor,
		OldKeySignature:   oldSig,
		NewKeySignature:   newSig,
		RegistryTimestamp: registryTimestamp,
	}

	// Neither store write has landed yet; a failure here leaves stored state
	// untouched, matching "missing either [signature] is fatal for that call
	// but never damages stored state" (§4.2).
	if err := s.store.PutIdentity(ctx, newIdentity); err != nil {
		return nil, nil, err
	}
	if err := s.store.PutContinuityClaim(ctx, claim); err != nil {
		return nil, nil, err
	}

	old.Status = model.IdentityRotated
	if err := s.store.PutIdentity(ctx, old); err != nil {
		return nil, nil, err
	}

	return newIdentity, claim, nil
}

// ContinuityChain returns the ordered chain from root to head for
// identityID (§4.2 continuity_chain).
func (s *Service) ContinuityChain(ctx context.Context, identityID string) ([]*model.Identity, error) {
	return s.store.ContinuityChain(ctx, identityID)
}

// VerifyContinuityClaim re-checks a claim's bilateral signatures against the
// old and new identities' documents, independent of trusting stored state.
func VerifyContinuityClaim(claim *model.ContinuityClaim, old, new *model.Identity) error {
	oldPublicKey, err := activePublicKey(old)
	if err != nil {
		return err
	}
	newPublicKey, err := activePublicKey(new)
	if err != nil {
		return err
	}
	message := rotationMessage(oldPublicKey, newPublicKey, claim.LastAnchor, claim.RegistryTimestamp)
	if !ed25519.Verify(oldPublicKey, message, claim.OldKeySignature) {
		return errors.Invalid("old_key_signature", "signature verification failed")
	}
	if !ed25519.Verify(newPublicKey, message, claim.NewKeySignature) {
		return errors.Invalid("new_key_signature", "signature verification failed")
	}
	return nil
}

func activePublicKey(identity *model.Identity) (ed25519.PublicKey, error) {
	if len(identity.Document.VerificationMethods) == 0 {
		return nil, errors.Invalid("document", "identity has no verification methods")
	}
	return ed25519.PublicKey(identity.Document.VerificationMethods[0].PublicKey), nil
}

// rotationMessage builds H(old_public_key||new_public_key||last_anchor||registry_timestamp)
// (§4.2 rotate).
func rotationMessage(oldPublicKey, newPublicKey ed25519.PublicKey, lastAnchor string, registryTimestamp time.Time) []byte {
	digest := hashing.Concat(
		oldPublicKey,
		newPublicKey,
		[]byte(lastAnchor),
		[]byte(registryTimestamp.UTC().Format(time.RFC3339Nano)),
	)
	return digest[:]
}
