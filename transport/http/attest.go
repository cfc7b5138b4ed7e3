package http

import (
	"net/http"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/intake"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleAttest serves POST /pohw/attest (§4.5, §6).
func handleAttest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body attestRequest
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}

		derivedFrom, err := parseDerivedFrom(body.DerivedFrom)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		req := intake.Request{
			Hash:              body.Hash,
			Signature:         body.Signature,
			IdentityID:        body.IdentityID,
			ClientTimestamp:   body.ClientTimestamp,
			ProcessDigest:     body.ProcessDigest,
			CompoundHash:      body.CompoundHash,
			ProcessMetrics:    body.ProcessMetrics,
			DerivedFrom:       derivedFrom,
			AssistanceProfile: body.AssistanceProfile,
		}

		receipt, err := deps.Intake.Attest(r.Context(), req, time.Now().UTC())
		if err != nil {
			if deps.Metrics != nil && errors.Code(err) == errors.ErrCodeRateLimited {
				deps.Metrics.ReputationDenialsTotal.Inc()
			}
			httputil.WriteServiceError(w, r, err)
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.ProofsTotal.Inc()
		}

		httputil.WriteJSON(w, http.StatusCreated, attestResponse{
			ReceiptHash:     receipt.ReceiptHash,
			ServerTimestamp: receipt.ServerTimestamp,
			RegistryID:      receipt.RegistryID,
		})
	}
}
