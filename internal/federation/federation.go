// Package federation implements Federation Sync (§4.8): a single ticker
// worker that visits every configured peer in turn under one shared outbound
// rate limit, comparing each peer's current Merkle root/height against the
// local one and pulling any missing batches and proofs. Peers are synced one
// after another, not concurrently. Sync is best-effort and carries no quorum
// semantics — a peer that cannot be reached is logged and retried on the next
// tick, and the remaining peers are still synced in that round. The
// retry/breaker wiring (one breaker per peer) follows internal/anchor's
// per-chain workers, grounded the same way on internal/platform/resilience
// and internal/platform/workerpool.Pool.AddTickerWorker.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/resilience"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/workerpool"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// syncStatus is the wire shape of GET /pohw/sync/status on a peer.
type syncStatus struct {
	RegistryID string `json:"registry_id"`
	Root       string `json:"root"`
	Height     int    `json:"height"`
}

type batchesResponse struct {
	Batches []model.Batch `json:"batches"`
}

type proofsResponse struct {
	Proofs []model.Proof `json:"proofs"`
}

// PeerClient is the HTTP client Federation Sync uses to talk to a peer
// registry node over the same /pohw/sync/* surface this node itself serves.
type PeerClient struct {
	http *http.Client
}

// NewPeerClient constructs a PeerClient with a bounded request timeout.
func NewPeerClient(timeout time.Duration) *PeerClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PeerClient{http: &http.Client{Timeout: timeout}}
}

func (c *PeerClient) fetchStatus(ctx context.Context, endpoint string) (syncStatus, error) {
	var out syncStatus
	return out, c.getJSON(ctx, endpoint+"/pohw/sync/status", &out)
}

func (c *PeerClient) fetchBatchesAfter(ctx context.Context, endpoint string, afterHeight int) ([]model.Batch, error) {
	var out batchesResponse
	url := fmt.Sprintf("%s/pohw/sync/batches?after_height=%d", endpoint, afterHeight)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out.Batches, nil
}

func (c *PeerClient) fetchProofsForBatch(ctx context.Context, endpoint, batchID string) ([]model.Proof, error) {
	var out proofsResponse
	url := fmt.Sprintf("%s/pohw/sync/proofs?batch_id=%s", endpoint, batchID)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out.Proofs, nil
}

func (c *PeerClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("federation: %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Engine runs the federation sync worker.
type Engine struct {
	store      store.Store
	client     *PeerClient
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    map[string]*resilience.CircuitBreaker
	logger     *logging.Logger
	registryID string
}

// New constructs a Federation Sync engine. requestsPerSecond bounds the
// shared outbound rate across every peer (§5 "shared rate limit on outbound
// requests").
func New(s store.Store, registryID string, requestsPerSecond float64, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Engine{
		store:      s,
		client:     NewPeerClient(0),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		retry:      resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2, Jitter: 0.2},
		breaker:    make(map[string]*resilience.CircuitBreaker),
		logger:     logger,
		registryID: registryID,
	}
}

// Run registers a single ticker worker that syncs every configured peer in
// turn, re-reading store.ListPeers on each tick so peers added dynamically
// are picked up without a restart (§4.8 "Peers may also be added dynamically").
func (e *Engine) Run(pool *workerpool.Pool, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	pool.AddTickerWorker(interval, e.syncAllPeers, workerpool.TickerOptions{Name: "federation-sync"})
}

func (e *Engine) syncAllPeers(ctx context.Context) error {
	peers, err := e.store.ListPeers(ctx)
	if err != nil {
		return err
	}
	for _, p := range peers {
		if err := e.syncPeer(ctx, p); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithField("peer", p.RegistryID).Warn("federation: peer sync failed")
		}
	}
	return nil
}

func (e *Engine) breakerFor(registryID string) *resilience.CircuitBreaker {
	if b, ok := e.breaker[registryID]; ok {
		return b
	}
	b := resilience.NewBreaker(resilience.DefaultBreakerConfig(e.logger, "peer-"+registryID))
	e.breaker[registryID] = b
	return b
}

// syncPeer executes one round of the §4.8 sync loop against a single peer.
func (e *Engine) syncPeer(ctx context.Context, peer *model.Peer) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	local, err := e.store.Stats(ctx)
	if err != nil {
		return err
	}

	var status syncStatus
	breaker := e.breakerFor(peer.RegistryID)
	fetchErr := breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, e.retry, func() error {
			var err error
			status, err = e.client.fetchStatus(ctx, peer.Endpoint)
			return err
		})
	})
	if fetchErr != nil {
		return errors.PeerUnreachable(peer.RegistryID, fetchErr)
	}

	now := time.Now().UTC()
	localRoot, _ := e.currentRoot(ctx)
	if status.Root == localRoot {
		e.updatePeerSeen(ctx, peer, status.Root, now)
		e.logger.LogSyncEvent(ctx, peer.RegistryID, 0, nil)
		return nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	batches, err := e.client.fetchBatchesAfter(ctx, peer.Endpoint, local.TotalBatches)
	if err != nil {
		return errors.PeerUnreachable(peer.RegistryID, err)
	}

	fetched := 0
	for i := range batches {
		n, err := e.pullBatch(ctx, peer, &batches[i])
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"peer": peer.RegistryID, "batch_id": batches[i].BatchID,
			}).Warn("federation: failed to pull batch")
			continue
		}
		fetched += n
	}

	e.updatePeerSeen(ctx, peer, status.Root, now)
	e.logger.LogSyncEvent(ctx, peer.RegistryID, fetched, nil)
	return nil
}

// pullBatch inserts a peer's batch and its constituent proofs, tagging each
// proof with its source registry. Hashes already recorded locally under a
// different, already-sealed batch are a conflict: logged, never overwritten,
// and the whole batch is skipped rather than sealed partially (§4.8 step 3).
func (e *Engine) pullBatch(ctx context.Context, peer *model.Peer, batch *model.Batch) (int, error) {
	for _, hash := range batch.Leaves {
		existing, err := e.store.GetProofByHash(ctx, hash)
		if err != nil {
			if errors.Code(err) == errors.ErrCodeNotFound {
				continue
			}
			return 0, err
		}
		if existing.BatchID != "" && existing.BatchID != batch.BatchID {
			e.logger.WithContext(ctx).WithFields(map[string]interface{}{"peer": peer.RegistryID, "hash": hash, "local_batch": existing.BatchID, "peer_batch": batch.BatchID}).Warn("federation: conflicting batch assignment for hash, skipping batch")
			return 0, nil
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	proofs, err := e.client.fetchProofsForBatch(ctx, peer.Endpoint, batch.BatchID)
	if err != nil {
		return 0, err
	}
	byHash := make(map[string]*model.Proof, len(proofs))
	for i := range proofs {
		byHash[proofs[i].Hash] = &proofs[i]
	}

	inserted := 0
	for _, hash := range batch.Leaves {
		existing, err := e.store.GetProofByHash(ctx, hash)
		if err == nil {
			if existing.BatchID != "" && existing.BatchID != batch.BatchID {
				e.logger.WithContext(ctx).WithFields(map[string]interface{}{
					"peer": peer.RegistryID, "hash": hash,
					"local_batch": existing.BatchID, "peer_batch": batch.BatchID,
				}).Warn("federation: conflicting batch assignment for hash, skipping batch")
				return inserted, nil
			}
			continue
		}
		if errors.Code(err) != errors.ErrCodeNotFound {
			return inserted, err
		}
		foreign, ok := byHash[hash]
		if !ok {
			return inserted, fmt.Errorf("federation: peer %s did not return proof %s for batch %s", peer.RegistryID, hash, batch.BatchID)
		}
		toStore := *foreign
		toStore.BatchID = ""
		toStore.SourceRegistry = peer.RegistryID
		if err := e.store.PutProof(ctx, &toStore); err != nil {
			return inserted, err
		}
		inserted++
	}

	if err := e.store.SealBatch(ctx, batch); err != nil {
		return inserted, err
	}
	return inserted, nil
}

func (e *Engine) currentRoot(ctx context.Context) (string, error) {
	latest, err := e.store.GetLatestBatch(ctx)
	if err != nil {
		if errors.Code(err) == errors.ErrCodeNotFound {
			return "", nil
		}
		return "", err
	}
	return latest.MerkleRoot, nil
}

func (e *Engine) updatePeerSeen(ctx context.Context, peer *model.Peer, root string, seen time.Time) {
	updated := *peer
	updated.LastRoot = root
	updated.LastSeen = &seen
	if err := e.store.PutPeer(ctx, &updated); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("federation: failed to persist peer heartbeat")
	}
}

// AddPeer registers a new peer for sync, satisfying §4.8 "Peers may also be
// added dynamically".
func (e *Engine) AddPeer(ctx context.Context, registryID, endpoint, region string) error {
	return e.store.PutPeer(ctx, &model.Peer{RegistryID: registryID, Endpoint: endpoint, Region: region})
}
