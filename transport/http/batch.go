package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleBatchCreate serves POST /pohw/batch/create: an explicit seal_now()
// call (§4.6 Seal trigger, second disjunct).
func handleBatchCreate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := deps.Batcher.SealNow(r.Context())
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.BatchesSealedTotal.Inc()
		}
		httputil.WriteJSON(w, http.StatusCreated, batchCreateResponse{
			BatchID:    batch.BatchID,
			MerkleRoot: batch.MerkleRoot,
			Size:       batch.Size,
			CreatedAt:  batch.CreatedAt,
		})
	}
}

// handleBatchAnchor serves POST /pohw/batch/anchor/{batch_id}: a synchronous,
// per-chain-parallel anchor attempt returning each chain's result and
// explorer URL (§6).
func handleBatchAnchor(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batch_id")
		if _, err := deps.Store.GetBatch(r.Context(), batchID); err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		results := deps.Anchor.AnchorNow(r.Context(), batchID)
		out := make([]anchorResultWire, 0, len(results))
		for chain, res := range results {
			if deps.Metrics != nil {
				deps.Metrics.AnchorsTotal.WithLabelValues(string(chain), string(res.Status)).Inc()
			}
			out = append(out, anchorResultWire{
				Chain:       res.Chain,
				Status:      res.Status,
				TxHash:      res.TxHash,
				Error:       res.Error,
				ExplorerURL: explorerURL(res.Chain, deps.ChainNetworks[res.Chain], res.TxHash),
			})
		}

		httputil.WriteJSON(w, http.StatusOK, batchAnchorResponse{BatchID: batchID, Results: out})
	}
}

// handleBatchAnchors serves GET /pohw/batch/{batch_id}/anchors (§6).
func handleBatchAnchors(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batch_id")
		anchors, err := deps.Store.ListAnchorsForBatch(r.Context(), batchID)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"batch_id": batchID,
			"anchors":  toAnchorRefs(deps, anchors),
		})
	}
}
