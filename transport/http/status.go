package http

import (
	"net/http"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleStatus serves GET /pohw/status: a registry summary whose latest
// batch timestamp is authentic — the sealing time, not a client-supplied
// one (§4.9, §6).
func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		chains := make([]string, 0)
		if deps.Anchor != nil {
			for _, c := range deps.Anchor.ConfiguredChains() {
				chains = append(chains, string(c))
			}
		}

		httputil.WriteJSON(w, http.StatusOK, statusResponse{
			RegistryID:        deps.RegistryID,
			TotalProofs:       stats.TotalProofs,
			TotalBatches:      stats.TotalBatches,
			PendingProofCount: stats.PendingProofCount,
			LatestBatchTime:   stats.LatestBatchTime,
			ConfiguredChains:  chains,
		})
	}
}

// handleFederationDescriptor serves GET /pohw/verify/index.json: a minimal
// self-description any peer or verifier can fetch without querying the
// richer /pohw/status surface (§6 "created field equals latest batch
// timestamp").
func handleFederationDescriptor(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		var root string
		latest, err := deps.Store.GetLatestBatch(r.Context())
		if err == nil {
			root = latest.MerkleRoot
		} else if errors.Code(err) != errors.ErrCodeNotFound {
			httputil.WriteServiceError(w, r, err)
			return
		}

		created := time.Time{}
		if stats.LatestBatchTime != nil {
			if parsed, parseErr := time.Parse(time.RFC3339, *stats.LatestBatchTime); parseErr == nil {
				created = parsed
			}
		}

		httputil.WriteJSON(w, http.StatusOK, federationDescriptor{
			RegistryID: deps.RegistryID,
			MerkleRoot: root,
			Height:     stats.TotalBatches,
			Created:    created,
		})
	}
}
