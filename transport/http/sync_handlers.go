package http

import (
	"net/http"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleSyncMerkleRoot serves GET /pohw/sync/merkle-root: the current
// (latest sealed) root, used by a peer's Federation Sync loop as a quick
// divergence check before fetching batches (§4.8).
func handleSyncMerkleRoot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, err := deps.Store.GetLatestBatch(r.Context())
		if err != nil {
			if errors.Code(err) == errors.ErrCodeNotFound {
				httputil.WriteJSON(w, http.StatusOK, map[string]any{"root": ""})
				return
			}
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"root": latest.MerkleRoot})
	}
}

// handleSyncProofs serves GET /pohw/sync/proofs?batch_id=...: every proof
// belonging to batch_id, the shape Federation Sync's fetchProofsForBatch
// expects back from a peer (§4.8).
func handleSyncProofs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := httputil.QueryString(r, "batch_id", "")
		if batchID == "" {
			httputil.WriteServiceError(w, r, errors.Invalid("batch_id", "query parameter is required"))
			return
		}

		batch, err := deps.Store.GetBatch(r.Context(), batchID)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		proofs := make([]model.Proof, 0, len(batch.Leaves))
		for _, hash := range batch.Leaves {
			p, err := deps.Store.GetProofByHash(r.Context(), hash)
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}
			proofs = append(proofs, *p)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"proofs": proofs})
	}
}

// handleSyncBatches serves GET /pohw/sync/batches?after_height=N: every
// sealed batch beyond the caller's reported height, the gap-repair listing
// Federation Sync's fetchBatchesAfter pulls (§4.8).
func handleSyncBatches(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		afterHeight := httputil.QueryInt(r, "after_height", 0)
		batches, err := deps.Store.ListBatchesSince(r.Context(), afterHeight)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		out := make([]model.Batch, len(batches))
		for i, b := range batches {
			out[i] = *b
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"batches": out})
	}
}

// handleSyncStatus serves GET /pohw/sync/status: the registry_id/root/height
// triple a peer's syncPeer compares against its own before deciding whether
// to fetch anything (§4.8).
func handleSyncStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		var root string
		if latest, err := deps.Store.GetLatestBatch(r.Context()); err == nil {
			root = latest.MerkleRoot
		} else if errors.Code(err) != errors.ErrCodeNotFound {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, syncStatusResponse{
			RegistryID: deps.RegistryID,
			Root:       root,
			Height:     stats.TotalBatches,
		})
	}
}

// handleSyncAddPeer serves POST /pohw/sync/peers: dynamic peer registration
// (§4.8 "Peers may also be added dynamically", §6).
func handleSyncAddPeer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body addPeerRequest
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		if body.RegistryID == "" || body.Endpoint == "" {
			httputil.WriteServiceError(w, r, errors.Invalid("registry_id/endpoint", "must be non-empty"))
			return
		}
		endpoint := httputil.NormalizeBaseURL(body.Endpoint)
		if err := deps.Federation.AddPeer(r.Context(), body.RegistryID, endpoint, body.Region); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{"registry_id": body.RegistryID, "endpoint": endpoint})
	}
}
