// Package batcher implements the Merkle Batcher (§4.6): an Idle →
// Accumulating → Sealing → Sealed state machine that reads pending proofs
// from Store, builds a deterministic Merkle tree over them, and seals a
// Batch atomically. The signal-driven worker loop is built on
// workerpool.Pool.AddWorker, the same primitive the teacher uses for its
// custom-loop background services.
package batcher

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gdnshnk/pohw-registry-node/internal/merkle"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/workerpool"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// State is the batcher's current lifecycle phase (§4.6 States).
type State int32

const (
	StateIdle State = iota
	StateAccumulating
	StateSealing
	StateSealed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateSealing:
		return "sealing"
	case StateSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// AnchorSignal is notified once a batch is sealed so the Anchoring Engine
// can pick it up (§4.6 "the batcher emits an anchor-this signal").
type AnchorSignal interface {
	NotifyBatchSealed(ctx context.Context, batchID string)
}

type noopAnchorSignal struct{}

func (noopAnchorSignal) NotifyBatchSealed(context.Context, string) {}

// Service runs the batching state machine.
type Service struct {
	store     store.Store
	batchSize int
	signal    AnchorSignal

	mu    sync.Mutex
	state atomic.Int32
	wake  chan struct{}
}

// New constructs a Batcher sealing at batchSize proofs (§4.6 "Parameter:
// BatchSize N"). signal may be nil before the Anchoring Engine is wired.
func New(s store.Store, batchSize int, signal AnchorSignal) *Service {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if signal == nil {
		signal = noopAnchorSignal{}
	}
	return &Service{store: s, batchSize: batchSize, signal: signal, wake: make(chan struct{}, 1)}
}

// State reports the batcher's current phase.
func (b *Service) State() State {
	return State(b.state.Load())
}

// NotifyPending wakes the batcher to re-check the seal threshold (§4.5 step
// 7, §4.6 "Seal trigger"). It satisfies intake.BatchSignal.
func (b *Service) NotifyPending(_ context.Context, _ string) {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run registers the batcher's signal-driven worker on pool.
func (b *Service) Run(pool *workerpool.Pool) {
	pool.AddWorker("batcher", b.loop)
}

func (b *Service) loop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-b.wake:
			_, _ = b.trySealAtThreshold(ctx)
		}
	}
}

// trySealAtThreshold seals only if list_pending_proofs() size >= N (§4.6
// Seal trigger, first disjunct).
func (b *Service) trySealAtThreshold(ctx context.Context) (*model.Batch, error) {
	pending, err := b.store.ListPendingProofs(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) < b.batchSize {
		if len(pending) > 0 {
			b.state.Store(int32(StateAccumulating))
		} else {
			b.state.Store(int32(StateIdle))
		}
		return nil, nil
	}
	return b.seal(ctx, pending)
}

// SealNow forces a seal of whatever is pending, regardless of threshold
// (§4.6 Seal trigger, second disjunct — "an explicit seal_now() call").
func (b *Service) SealNow(ctx context.Context) (*model.Batch, error) {
	pending, err := b.store.ListPendingProofs(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, errors.Invalid("batch", "no pending proofs to seal")
	}
	return b.seal(ctx, pending)
}

// seal builds the Merkle tree over pending in canonical order and persists
// the batch atomically (§4.6 Build rule, "Sealing is atomic").
func (b *Service) seal(ctx context.Context, pending []*model.Proof) (*model.Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.Store(int32(StateSealing))

	ordered := canonicalOrder(pending)
	tree, err := merkle.Build(ordered)
	if err != nil {
		b.state.Store(int32(StateIdle))
		return nil, err
	}

	batch := &model.Batch{
		BatchID:    uuid.New().String(),
		MerkleRoot: tree.RootHex(),
		Size:       len(ordered),
		Leaves:     ordered,
		CreatedAt:  time.Now().UTC(),
	}

	if err := b.store.SealBatch(ctx, batch); err != nil {
		b.state.Store(int32(StateIdle))
		return nil, err
	}

	b.state.Store(int32(StateSealed))
	b.signal.NotifyBatchSealed(ctx, batch.BatchID)
	b.state.Store(int32(StateIdle))

	return batch, nil
}

// canonicalOrder sorts pending proofs in ascending (server_timestamp, hash)
// order (§4.6 Build rule).
func canonicalOrder(pending []*model.Proof) []string {
	sorted := append([]*model.Proof(nil), pending...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ServerTimestamp.Equal(sorted[j].ServerTimestamp) {
			return sorted[i].ServerTimestamp.Before(sorted[j].ServerTimestamp)
		}
		return sorted[i].Hash < sorted[j].Hash
	})
	hashes := make([]string, len(sorted))
	for i, p := range sorted {
		hashes[i] = p.Hash
	}
	return hashes
}
