// registryd is the Proof-of-Human-Work registry node process: it loads
// configuration, wires the core services to a Store, starts the background
// workers, and serves the §6 HTTP surface. The load/wire/start/wait-for-signal
// shape follows cmd/indexer's entry point, the simplest of the teacher's
// non-Marble processes.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gdnshnk/pohw-registry-node/internal/anchor"
	"github.com/gdnshnk/pohw-registry-node/internal/batcher"
	"github.com/gdnshnk/pohw-registry-node/internal/claim"
	"github.com/gdnshnk/pohw-registry-node/internal/credential"
	"github.com/gdnshnk/pohw-registry-node/internal/federation"
	"github.com/gdnshnk/pohw-registry-node/internal/identity"
	"github.com/gdnshnk/pohw-registry-node/internal/intake"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/config"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/metrics"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/workerpool"
	"github.com/gdnshnk/pohw-registry-node/internal/reputation"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
	"github.com/gdnshnk/pohw-registry-node/internal/store/pgstore"
	transporthttp "github.com/gdnshnk/pohw-registry-node/transport/http"
)

func main() {
	config.LoadDotEnv(".env")
	cfg := config.Load()

	logger := logging.New("registryd", cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting registry node")

	s, closeStore := openStore(cfg, logger)
	defer closeStore()

	registryID := config.GetEnv("REGISTRY_ID", identity.DeriveID(nil))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	identitySvc := identity.New(s)
	credSvc := credential.New(s, loadAttestors())
	repEngine := reputation.New(s, reputation.Config{
		Window:           cfg.RateLimitWindow,
		Cap:              cfg.RateLimitCap,
		MinInterval:      time.Duration(cfg.MinIntervalMS) * time.Millisecond,
		RefusalThreshold: cfg.ScoreRefusalThreshold,
		ScoreIncrement:   cfg.ScoreIncrement,
		ScoreDecrement:   cfg.ScoreDecrement,
		DecayPerIdleDay:  cfg.ScoreDecayPerIdleDay,
	})
	claimSvc := claim.New(s)
	federationEngine := federation.New(s, registryID, 5, logger)

	chainClients, chainNetworks := buildChainClients(cfg, logger)
	anchorEngine := anchor.New(s, chainClients, logger)
	batcherSvc := batcher.New(s, cfg.BatchSize, anchorEngine)
	intakeSvc := intake.New(s, repEngine, credSvc, batcherSvc, registryID)

	for _, peerEndpoint := range cfg.Peers {
		if err := federationEngine.AddPeer(context.Background(), peerEndpoint, peerEndpoint, ""); err != nil {
			logger.WithError(err).Warn("failed to register configured peer")
		}
	}

	pool := workerpool.New(logger)
	batcherSvc.Run(pool)
	anchorEngine.Run(pool, 30*time.Second)
	federationEngine.Run(pool, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	router := transporthttp.NewRouter(transporthttp.Deps{
		RegistryID:     registryID,
		Store:          s,
		Intake:         intakeSvc,
		Batcher:        batcherSvc,
		Anchor:         anchorEngine,
		Identity:       identitySvc,
		Credential:     credSvc,
		Reputation:     repEngine,
		Claim:          claimSvc,
		Federation:     federationEngine,
		Pool:           pool,
		Metrics:        m,
		Logger:         logger,
		ChainNetworks:  chainNetworks,
		RateLimitRPS:   200,
		RateLimitBurst: 400,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(map[string]interface{}{"addr": cfg.HTTPAddr}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

// openStore selects pgstore when DATABASE_URL is configured, falling back to
// memstore for single-process/dev deployments (§4.1 "Two implementations
// satisfy it").
func openStore(cfg config.Config, logger *logging.Logger) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("no DATABASE_URL configured, using in-memory store")
		return memstore.New(), func() {}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to open postgres connection")
	}
	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("failed to reach postgres")
	}
	logger.Info("using postgres-backed store")
	return pgstore.New(db), func() { _ = db.Close() }
}

// buildChainClients constructs one anchor.ChainClient per enabled chain from
// cfg, along with the network label each is anchoring against (for explorer
// URL construction in transport/http). NewBitcoinClient/NewEthereumClient
// never fail on a missing or malformed private key: key parsing is deferred
// into Broadcast, which classifies the failure as AnchorFailed(chain,
// "invalid-key") instead of the chain being dropped from the engine here and
// never anchoring at all (spec.md §8 boundary behavior).
func buildChainClients(cfg config.Config, logger *logging.Logger) ([]anchor.ChainClient, map[model.Chain]string) {
	var clients []anchor.ChainClient
	networks := make(map[model.Chain]string)

	if cfg.AnchoringEnabled && cfg.Bitcoin.Enabled {
		client, err := anchor.NewBitcoinClient(cfg.Bitcoin.RPCURL, cfg.Bitcoin.Network, cfg.Bitcoin.PrivateKey)
		if err != nil {
			logger.WithError(err).Warn("failed to configure bitcoin anchoring, skipping")
		} else {
			clients = append(clients, client)
			networks[model.ChainBitcoin] = cfg.Bitcoin.Network
		}
	}

	if cfg.AnchoringEnabled && cfg.Ethereum.Enabled {
		client, err := anchor.NewEthereumClient(context.Background(), cfg.Ethereum.RPCURL, cfg.Ethereum.PrivateKey)
		if err != nil {
			logger.WithError(err).Warn("failed to configure ethereum anchoring, skipping")
		} else {
			clients = append(clients, client)
			networks[model.ChainEthereum] = cfg.Ethereum.Network
		}
	}

	return clients, networks
}

// loadAttestors seeds the Credential Service's approved-attestor allowlist
// from ATTESTOR_IDS/ATTESTOR_DOMAINS (parallel comma-separated lists); with
// an empty allowlist Issue rejects every issuer, and tier_for can never reach
// green, which needs credentials from two approved attestor domains.
func loadAttestors() []credential.Attestor {
	ids := config.GetEnvCSV("ATTESTOR_IDS")
	domains := config.GetEnvCSV("ATTESTOR_DOMAINS")
	out := make([]credential.Attestor, 0, len(ids))
	for i, id := range ids {
		domain := ""
		if i < len(domains) {
			domain = domains[i]
		}
		out = append(out, credential.Attestor{ID: id, Domain: domain})
	}
	return out
}
