package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
)

// handleReputation serves GET /pohw/reputation/{id}: a lock-free snapshot
// read, never an admission check (§4.4, §6 "Inspection").
func handleReputation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rep, err := deps.Reputation.Snapshot(r.Context(), id)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rep)
	}
}

// handleRateLimit serves GET /pohw/rate-limit/{id}: the same reputation
// snapshot, narrowed to the rate-relevant fields — a read, so it never
// consumes a slot in the sliding submission window the way Allow would
// (§4.4, §6 "Inspection").
func handleRateLimit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rep, err := deps.Reputation.Snapshot(r.Context(), id)
		if err != nil {
			httputil.WriteServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"identity_id":   rep.IdentityID,
			"score":         rep.Score,
			"tier":          rep.Tier,
			"last_activity": rep.LastActivity,
			"anomaly_count": len(rep.AnomalyLog),
		})
	}
}
