// Package anchor implements the Anchoring Engine (§4.7): one serial worker
// per configured chain that anchors sealed batches, plus a confirmation
// poller that transitions pending anchors to confirmed. Retry and
// circuit-breaking reuse internal/platform/resilience exactly as the
// teacher's infrastructure/resilience pair is used for outbound RPCs; the
// per-chain worker loop is grounded on certenIO-certen-validator's
// pkg/chain/strategy (one ChainExecutionStrategy per chain, serialized
// anchor workflow, separate transaction observer).
package anchor

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/resilience"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/workerpool"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// ChainClient is the per-chain anchoring strategy (§4.7 "Common algorithm
// for each chain"). bitcoin.go and ethereum.go each provide one.
type ChainClient interface {
	Chain() model.Chain
	// Broadcast estimates fee, constructs, signs, and sends a transaction
	// committing root, returning its hash (§4.7 steps 1-4).
	Broadcast(ctx context.Context, root [32]byte) (txHash string, err error)
	// Confirmations reports whether txHash has appeared in a block yet, and
	// at which height (§4.7 step 7).
	Confirmations(ctx context.Context, txHash string) (blockNumber *uint64, confirmed bool, err error)
	// ClassifyError normalizes a client error into the §4.7 error taxonomy:
	// one of "insufficient-funds", "invalid-key", "rpc-unreachable",
	// "rejected-by-network", "unknown", plus a human-readable hint.
	ClassifyError(err error) (reason, hint string)
}

type pendingAnchor struct {
	chain   model.Chain
	batchID string
	txHash  string
}

type chainQueue struct {
	mu      sync.Mutex
	pending []string
	wake    chan struct{}
}

func newChainQueue() *chainQueue {
	return &chainQueue{wake: make(chan struct{}, 1)}
}

func (q *chainQueue) push(batchID string) {
	q.mu.Lock()
	q.pending = append(q.pending, batchID)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *chainQueue) drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = nil
	return drained
}

// Engine runs the per-chain anchoring workers and the confirmation poller.
type Engine struct {
	store   store.Store
	clients map[model.Chain]ChainClient
	queues  map[model.Chain]*chainQueue
	breaker map[model.Chain]*resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *logging.Logger

	pendingMu sync.Mutex
	pending   []pendingAnchor
}

// New constructs an Anchoring Engine from one ChainClient per configured
// chain.
func New(s store.Store, clients []ChainClient, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:   s,
		clients: make(map[model.Chain]ChainClient, len(clients)),
		queues:  make(map[model.Chain]*chainQueue, len(clients)),
		breaker: make(map[model.Chain]*resilience.CircuitBreaker, len(clients)),
		retry:   resilience.AnchorRetryConfig(),
		logger:  logger,
	}
	for _, c := range clients {
		chain := c.Chain()
		e.clients[chain] = c
		e.queues[chain] = newChainQueue()
		e.breaker[chain] = resilience.NewBreaker(resilience.DefaultBreakerConfig(logger, string(chain)))
	}
	return e
}

// NotifyBatchSealed enqueues batchID for anchoring on every configured
// chain (§4.6 "anchor-this signal"). It satisfies batcher.AnchorSignal.
func (e *Engine) NotifyBatchSealed(_ context.Context, batchID string) {
	for _, q := range e.queues {
		q.push(batchID)
	}
}

// Run registers one serial worker per configured chain plus a confirmation
// poller, on pool.
func (e *Engine) Run(pool *workerpool.Pool, confirmPollInterval time.Duration) {
	for chain := range e.clients {
		chain := chain
		pool.AddWorker(fmt.Sprintf("anchor-%s", chain), func(ctx context.Context, stop <-chan struct{}) {
			e.chainWorkerLoop(ctx, stop, chain)
		})
	}
	if confirmPollInterval <= 0 {
		confirmPollInterval = 30 * time.Second
	}
	pool.AddTickerWorker(confirmPollInterval, e.pollConfirmations, workerpool.TickerOptions{Name: "anchor-confirm-poller"})
}

func (e *Engine) chainWorkerLoop(ctx context.Context, stop <-chan struct{}, chain model.Chain) {
	q := e.queues[chain]
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-q.wake:
			for _, batchID := range q.drain() {
				e.anchorBatch(ctx, chain, batchID)
			}
		}
	}
}

// anchorBatch runs the common per-chain algorithm (§4.7 steps 1-6) for one
// batch, serially — the chain's worker processes one batch at a time.
func (e *Engine) anchorBatch(ctx context.Context, chain model.Chain, batchID string) {
	logger := e.logger.WithContext(ctx).WithFields(map[string]interface{}{"chain": string(chain), "batch_id": batchID})

	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		logger.WithError(err).Warn("anchor: batch lookup failed")
		return
	}

	root, err := rootBytes(batch.MerkleRoot)
	if err != nil {
		logger.WithError(err).Warn("anchor: malformed batch root")
		return
	}

	client := e.clients[chain]
	breaker := e.breaker[chain]

	var txHash string
	broadcastErr := breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, e.retry, func() error {
			var err error
			txHash, err = client.Broadcast(ctx, root)
			return err
		})
	})

	if broadcastErr != nil {
		reason, hint := client.ClassifyError(broadcastErr)
		svcErr := errors.AnchorFailed(string(chain), reason, hint, broadcastErr)
		logger.WithError(svcErr).Warn("anchor: broadcast failed after retries")
		if err := e.store.PutAnchor(ctx, &model.Anchor{
			BatchID:   batchID,
			Chain:     chain,
			Status:    model.AnchorFailed,
			Timestamp: time.Now().UTC(),
			Error:     svcErr.Error(),
		}); err != nil {
			logger.WithError(err).Warn("anchor: failed to persist failed-anchor record")
		}
		return
	}

	anchor := &model.Anchor{
		BatchID:   batchID,
		Chain:     chain,
		TxHash:    txHash,
		Status:    model.AnchorPending,
		Timestamp: time.Now().UTC(),
	}
	if err := e.store.PutAnchor(ctx, anchor); err != nil {
		logger.WithError(err).Warn("anchor: failed to persist pending anchor")
		return
	}

	e.pendingMu.Lock()
	e.pending = append(e.pending, pendingAnchor{chain: chain, batchID: batchID, txHash: txHash})
	e.pendingMu.Unlock()
}

// Result is one chain's outcome from a synchronous AnchorNow call.
type Result struct {
	Chain  model.Chain
	Status model.AnchorStatus
	TxHash string
	Error  string
}

// AnchorNow runs the per-chain anchoring algorithm synchronously, in
// parallel across every configured chain, against batchID and returns each
// chain's resulting status (§6 POST /pohw/batch/anchor/{batch_id}: "returns
// per-chain results"). Unlike NotifyBatchSealed, which only enqueues work
// for the background chain workers, AnchorNow blocks until each chain's
// attempt — including its retries — completes (§5 "batches for different
// chains anchor in parallel").
func (e *Engine) AnchorNow(ctx context.Context, batchID string) map[model.Chain]Result {
	results := make(map[model.Chain]Result, len(e.clients))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for chain := range e.clients {
		chain := chain
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.anchorBatch(ctx, chain, batchID)

			var latest *model.Anchor
			if anchors, err := e.store.ListAnchorsForBatch(ctx, batchID); err == nil {
				for _, a := range anchors {
					if a.Chain == chain {
						latest = a
					}
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if latest != nil {
				results[chain] = Result{Chain: chain, Status: latest.Status, TxHash: latest.TxHash, Error: latest.Error}
				return
			}
			results[chain] = Result{Chain: chain, Status: model.AnchorFailed, Error: "anchor record not found after attempt"}
		}()
	}
	wg.Wait()
	return results
}

// ConfiguredChains reports which chains this engine is wired to anchor to.
func (e *Engine) ConfiguredChains() []model.Chain {
	out := make([]model.Chain, 0, len(e.clients))
	for chain := range e.clients {
		out = append(out, chain)
	}
	return out
}

// pollConfirmations checks every outstanding anchor for inclusion in a
// block and transitions it to confirmed (§4.7 step 7).
func (e *Engine) pollConfirmations(ctx context.Context) error {
	e.pendingMu.Lock()
	outstanding := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	var stillPending []pendingAnchor
	for _, p := range outstanding {
		client := e.clients[p.chain]
		blockNumber, confirmed, err := client.Confirmations(ctx, p.txHash)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithField("chain", string(p.chain)).Warn("anchor: confirmation check failed")
			stillPending = append(stillPending, p)
			continue
		}
		if !confirmed {
			stillPending = append(stillPending, p)
			continue
		}
		if err := e.store.UpdateAnchorStatus(ctx, p.batchID, p.chain, model.AnchorConfirmed, blockNumber, ""); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("anchor: failed to persist confirmation")
			stillPending = append(stillPending, p)
		}
	}

	e.pendingMu.Lock()
	e.pending = append(e.pending, stillPending...)
	e.pendingMu.Unlock()
	return nil
}

func rootBytes(hexRoot string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(hexRoot, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("anchor: merkle root must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
