package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gdnshnk/pohw-registry-node/internal/claim"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleVerify serves GET /pohw/verify/{hash} (§6).
func handleVerify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		doc, err := deps.Claim.Compose(r.Context(), hash)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		valid := true
		if doc.InclusionProof != nil {
			ok, verifyErr := claim.Verify(doc)
			valid = verifyErr == nil && ok
		}

		httputil.WriteJSON(w, http.StatusOK, verifyResponse{
			Valid:             valid,
			Hash:              doc.ContentHash,
			Identity:          doc.Creator,
			Tier:              doc.Tier,
			AssistanceProfile: doc.AssistanceProfile,
			MerkleRoot:        doc.MerkleRoot,
			InclusionProof:    doc.InclusionProof,
		})
	}
}

// handleProof serves GET /pohw/proof/{hash}: the inclusion proof plus every
// anchor record — pending, confirmed, or failed — for the proof's batch,
// unlike claim.Compose which reports confirmed anchors only.
func handleProof(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")

		proof, err := deps.Store.GetProofByHash(r.Context(), hash)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		doc, err := deps.Claim.Compose(r.Context(), hash)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}

		resp := proofResponse{Hash: proof.Hash, BatchID: proof.BatchID, InclusionProof: doc.InclusionProof}
		if proof.BatchID != "" {
			anchors, err := deps.Store.ListAnchorsForBatch(r.Context(), proof.BatchID)
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}
			resp.Anchors = toAnchorRefs(deps, anchors)
		}
		if resp.Anchors == nil {
			resp.Anchors = []anchorRef{}
		}

		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// handleClaim serves GET /pohw/claim/{hash}: the JSON-LD provenance document
// itself (§4.9, §6).
func handleClaim(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := chi.URLParam(r, "hash")
		doc, err := deps.Claim.Compose(r.Context(), hash)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, doc)
	}
}

func toAnchorRefs(deps Deps, anchors []*model.Anchor) []anchorRef {
	out := make([]anchorRef, len(anchors))
	for i, a := range anchors {
		out[i] = anchorRef{
			Chain:       a.Chain,
			TxHash:      a.TxHash,
			BlockNumber: a.BlockNumber,
			Status:      a.Status,
			Timestamp:   a.Timestamp,
			Error:       a.Error,
			ExplorerURL: explorerURL(a.Chain, deps.ChainNetworks[a.Chain], a.TxHash),
		}
	}
	return out
}
