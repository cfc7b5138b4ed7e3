package http

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleDIDRegister serves POST /pohw/did/register (§4.2 generate, §6).
func handleDIDRegister(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body didRegisterRequest
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		pub, err := hex.DecodeString(body.PublicKey)
		if err != nil {
			httputil.WriteServiceError(w, r, errors.Invalid("public_key", "must be hex-encoded"))
			return
		}

		identity, err := deps.Identity.Generate(r.Context(), ed25519.PublicKey(pub))
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, toIdentityWire(identity))
	}
}

// handleDIDResolve serves GET /pohw/did/{id} (§4.2 resolve, §6).
func handleDIDResolve(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		identity, err := deps.Identity.Resolve(r.Context(), id)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toIdentityWire(identity))
	}
}

// handleDIDRotate serves POST /pohw/did/{id}/rotate (§4.2 rotate, §6).
func handleDIDRotate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		oldID := chi.URLParam(r, "id")
		var body didRotateRequest
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}

		oldKey, err := hex.DecodeString(body.OldPrivateKey)
		if err != nil {
			httputil.WriteServiceError(w, r, errors.Invalid("old_private_key", "must be hex-encoded"))
			return
		}
		newKey, err := hex.DecodeString(body.NewPrivateKey)
		if err != nil {
			httputil.WriteServiceError(w, r, errors.Invalid("new_private_key", "must be hex-encoded"))
			return
		}

		newIdentity, claim, err := deps.Identity.Rotate(r.Context(), oldID, ed25519.PrivateKey(oldKey), ed25519.PrivateKey(newKey), body.LastAnchor)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"identity": toIdentityWire(newIdentity),
			"claim":    toContinuityClaimWire(claim),
		})
	}
}

// handleDIDContinuity serves GET /pohw/did/{id}/continuity (§4.2
// continuity_chain, §6).
func handleDIDContinuity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		chain, err := deps.Identity.ContinuityChain(r.Context(), id)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		out := make([]identityDocumentWire, len(chain))
		for i, identity := range chain {
			out[i] = toIdentityWire(identity)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"chain": out})
	}
}

func toIdentityWire(identity *model.Identity) identityDocumentWire {
	methods := make([]verificationMethodWire, len(identity.Document.VerificationMethods))
	for i, m := range identity.Document.VerificationMethods {
		methods[i] = verificationMethodWire{ID: m.ID, Type: m.Type, PublicKey: hex.EncodeToString(m.PublicKey)}
	}
	return identityDocumentWire{
		ID:                  identity.ID,
		Status:              identity.Status,
		PreviousID:          identity.PreviousID,
		VerificationMethods: methods,
	}
}

func toContinuityClaimWire(claim *model.ContinuityClaim) continuityClaimWire {
	return continuityClaimWire{
		PreviousID:        claim.PreviousID,
		NewID:             claim.NewID,
		ParentReference:   claim.ParentReference,
		LastAnchor:        claim.LastAnchor,
		OldKeySignature:   hex.EncodeToString(claim.OldKeySignature),
		NewKeySignature:   hex.EncodeToString(claim.NewKeySignature),
		RegistryTimestamp: claim.RegistryTimestamp,
	}
}
