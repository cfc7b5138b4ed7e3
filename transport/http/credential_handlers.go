package http

import (
	"net/http"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleAttestorsList serves GET /pohw/attestors (§4.3 "list", §6).
func handleAttestorsList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"attestors": deps.Credential.Attestors()})
	}
}

// handleCredentialIssue serves POST /pohw/attestors/issue (§4.3 issue, §6).
func handleCredentialIssue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body issueCredentialRequest
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		cred, err := deps.Credential.Issue(r.Context(), body.SubjectID, body.IssuerID, body.Type, body.ExpiresAt)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, cred)
	}
}

// handleCredentialRevoke serves POST /pohw/attestors/revoke (§4.3 revoke, §6).
func handleCredentialRevoke(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body revokeCredentialRequest
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		if body.Hash == "" {
			httputil.WriteServiceError(w, r, errors.Invalid("hash", "must be non-empty"))
			return
		}
		if err := deps.Credential.Revoke(r.Context(), body.Hash, body.Reason); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"hash": body.Hash, "revoked": true})
	}
}

// handleCredentialVerify serves GET /pohw/attestors/verify (§4.3 tier_for,
// §6 "policy-verify"): computes the trust tier for identity_id given its
// declared assistance_profile.
func handleCredentialVerify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID := httputil.QueryString(r, "identity_id", "")
		if identityID == "" {
			httputil.WriteServiceError(w, r, errors.Invalid("identity_id", "query parameter is required"))
			return
		}
		profile := model.AssistanceProfile(httputil.QueryString(r, "assistance_profile", string(model.AssistanceHumanOnly)))

		tier, err := deps.Credential.TierFor(r.Context(), identityID, profile)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"identity_id":       identityID,
			"assistanceProfile": profile,
			"tier":              tier,
		})
	}
}
