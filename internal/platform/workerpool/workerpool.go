// Package workerpool provides the ticker-driven background worker harness
// used by the Merkle Batcher, Anchoring Engine, confirmation pollers, and
// Federation Sync (§5), adapted from the teacher's
// infrastructure/service.BaseService worker registration with the
// Marble/enclave-specific hydrate and secret-health wiring removed.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
)

// TickerOptions configures AddTickerWorker behavior.
type TickerOptions struct {
	Name           string
	RunImmediately bool
}

// Pool runs a set of named background workers and supports cooperative,
// idempotent shutdown via Stop.
type Pool struct {
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	workers []namedWorker
	healthy map[string]bool

	logger *logging.Logger
}

type namedWorker struct {
	name string
	run  func(context.Context)
}

// New creates an empty Pool. logger may be nil, in which case a default
// logger is used for worker-error reporting.
func New(logger *logging.Logger) *Pool {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pool{
		stopCh:  make(chan struct{}),
		healthy: make(map[string]bool),
		logger:  logger,
	}
}

// AddTickerWorker registers a worker invoked at interval until Stop is
// called. The anchor confirmation poller and the federation sync loop (a
// single worker covering every peer) build on this primitive; signal-driven
// workers such as the batcher and the per-chain anchor workers instead call
// AddWorker directly with their own select loop.
func (p *Pool) AddTickerWorker(interval time.Duration, fn func(context.Context) error, opts TickerOptions) {
	worker := func(ctx context.Context) {
		p.setHealthy(opts.Name, true)

		runOnce := func() {
			if err := fn(ctx); err != nil {
				p.setHealthy(opts.Name, false)
				entry := p.logger.WithContext(ctx).WithError(err)
				if opts.Name != "" {
					entry = entry.WithField("worker", opts.Name)
				}
				entry.Warn("worker error")
				return
			}
			p.setHealthy(opts.Name, true)
		}

		if opts.RunImmediately {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			default:
				runOnce()
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}

	p.mu.Lock()
	p.workers = append(p.workers, namedWorker{name: opts.Name, run: worker})
	p.mu.Unlock()
}

// AddWorker registers a worker with a custom loop body (used by the Batcher,
// which sleeps on a pending-count signal and a manual-seal signal).
func (p *Pool) AddWorker(name string, fn func(ctx context.Context, stop <-chan struct{})) {
	worker := func(ctx context.Context) {
		fn(ctx, p.stopCh)
	}
	p.mu.Lock()
	p.workers = append(p.workers, namedWorker{name: name, run: worker})
	p.mu.Unlock()
}

// Start launches every registered worker in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		go w.run(ctx)
	}
}

// Stop signals all workers to return. Safe to call multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// StopChan exposes the stop channel for workers that need it directly.
func (p *Pool) StopChan() <-chan struct{} {
	return p.stopCh
}

func (p *Pool) setHealthy(name string, ok bool) {
	if name == "" {
		return
	}
	p.mu.Lock()
	p.healthy[name] = ok
	p.mu.Unlock()
}

// Healthy reports whether every named worker's most recent run succeeded.
func (p *Pool) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ok := range p.healthy {
		if !ok {
			return false
		}
	}
	return true
}
