package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gdnshnk/pohw-registry-node/internal/anchor"
	"github.com/gdnshnk/pohw-registry-node/internal/batcher"
	"github.com/gdnshnk/pohw-registry-node/internal/claim"
	"github.com/gdnshnk/pohw-registry-node/internal/credential"
	"github.com/gdnshnk/pohw-registry-node/internal/federation"
	"github.com/gdnshnk/pohw-registry-node/internal/identity"
	"github.com/gdnshnk/pohw-registry-node/internal/intake"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/metrics"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/httputil"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/middleware"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/workerpool"
	"github.com/gdnshnk/pohw-registry-node/internal/reputation"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// Deps wires every core service this node's HTTP surface calls into,
// constructed once in cmd/registryd and threaded through the handlers —
// the same explicit-dependency shape intake.Service and friends use rather
// than package-level singletons (§9).
type Deps struct {
	RegistryID string

	Store       store.Store
	Intake      *intake.Service
	Batcher     *batcher.Service
	Anchor      *anchor.Engine
	Identity    *identity.Service
	Credential  *credential.Service
	Reputation  *reputation.Engine
	Claim       *claim.Service
	Federation  *federation.Engine
	Pool        *workerpool.Pool

	Metrics *metrics.Metrics
	Logger  *logging.Logger

	// ChainNetworks maps a configured chain to its network name (e.g.
	// "mainnet", "testnet", "sepolia") for explorer URL construction.
	ChainNetworks map[model.Chain]string

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// NewRouter assembles the chi router covering the full §6 wire surface,
// with the teacher's middleware chain ordering (trace id, recover, metrics,
// rate limit, cors) ahead of routing.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.TraceID())
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(deps.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type", "X-Trace-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/pohw", func(r chi.Router) {
		r.Post("/attest", handleAttest(deps))
		r.Get("/verify/index.json", handleFederationDescriptor(deps))
		r.Get("/verify/{hash}", handleVerify(deps))
		r.Get("/proof/{hash}", handleProof(deps))
		r.Get("/claim/{hash}", handleClaim(deps))

		r.Post("/batch/create", handleBatchCreate(deps))
		r.Post("/batch/anchor/{batch_id}", handleBatchAnchor(deps))
		r.Get("/batch/{batch_id}/anchors", handleBatchAnchors(deps))

		r.Get("/status", handleStatus(deps))

		r.Route("/did", func(r chi.Router) {
			r.Post("/register", handleDIDRegister(deps))
			r.Get("/{id}", handleDIDResolve(deps))
			r.Post("/{id}/rotate", handleDIDRotate(deps))
			r.Get("/{id}/continuity", handleDIDContinuity(deps))
		})

		r.Route("/attestors", func(r chi.Router) {
			r.Get("/", handleAttestorsList(deps))
			r.Post("/issue", handleCredentialIssue(deps))
			r.Post("/revoke", handleCredentialRevoke(deps))
			r.Get("/verify", handleCredentialVerify(deps))
		})

		r.Get("/reputation/{id}", handleReputation(deps))
		r.Get("/rate-limit/{id}", handleRateLimit(deps))

		r.Route("/sync", func(r chi.Router) {
			r.Get("/merkle-root", handleSyncMerkleRoot(deps))
			r.Get("/proofs", handleSyncProofs(deps))
			r.Get("/batches", handleSyncBatches(deps))
			r.Get("/status", handleSyncStatus(deps))
			r.Post("/peers", handleSyncAddPeer(deps))
		})
	})

	return r
}

func corsOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy := true
		if deps.Pool != nil {
			healthy = deps.Pool.Healthy()
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, map[string]any{"status": boolStatus(healthy)})
	}
}

func boolStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}
