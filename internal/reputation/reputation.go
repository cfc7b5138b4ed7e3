// Package reputation implements the Reputation & Rate Engine (§4.4): a
// sliding submission window, a bounded score with idle decay, and an
// anomaly log, admitted through a single entry point per identity so writes
// to that identity serialize while reads elsewhere stay lock-free. The
// per-key map-of-locks idiom is grounded on the teacher's
// infrastructure/middleware.RateLimiter (a map of per-key *rate.Limiter
// guarded by one mutex), adapted from a single HTTP rate limiter into a
// score-and-window engine with its own per-identity mutex so concurrent
// callers for different identities never block each other.
package reputation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// Config carries the admission thresholds named in §4.4 (configurable cap,
// floor, refusal threshold, decay rate).
type Config struct {
	Window           time.Duration
	Cap              int
	MinInterval      time.Duration
	RefusalThreshold float64
	ScoreIncrement   float64
	ScoreDecrement   float64
	DecayPerIdleDay  float64
}

// Decision is the result of an admission check (§4.4 allow).
type Decision struct {
	Allowed     bool
	Reason      string
	CurrentRate int
}

type identityState struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Engine is the single-writer-per-identity admission and scoring engine.
type Engine struct {
	store store.Store
	cfg   Config

	mu      sync.RWMutex
	entries map[string]*identityState
}

// New constructs a Reputation & Rate Engine backed by s.
func New(s store.Store, cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 60
	}
	if cfg.ScoreIncrement <= 0 {
		cfg.ScoreIncrement = 1
	}
	if cfg.ScoreDecrement <= 0 {
		cfg.ScoreDecrement = 5
	}
	return &Engine{store: s, cfg: cfg, entries: make(map[string]*identityState)}
}

func (e *Engine) stateFor(identityID string) *identityState {
	e.mu.RLock()
	st, ok := e.entries[identityID]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.entries[identityID]; ok {
		return st
	}
	st = &identityState{}
	e.entries[identityID] = st
	return st
}

// Allow evaluates the admission contract for identityID at now (§4.4
// allow). A Deny is logged to the anomaly log and decrements score before
// returning.
func (e *Engine) Allow(ctx context.Context, identityID string, now time.Time) (Decision, error) {
	st := e.stateFor(identityID)
	st.mu.Lock()
	defer st.mu.Unlock()

	rep, err := e.loadAndDecay(ctx, identityID, now)
	if err != nil {
		return Decision{}, err
	}

	st.timestamps = pruneWindow(st.timestamps, now, e.cfg.Window)
	currentRate := len(st.timestamps)

	var denyReason string
	switch {
	case currentRate >= e.cfg.Cap:
		denyReason = "sliding-window count at or above cap"
	case len(st.timestamps) > 0 && e.cfg.MinInterval > 0 && now.Sub(st.timestamps[len(st.timestamps)-1]) < e.cfg.MinInterval:
		denyReason = "inter-submission interval below floor"
	case rep.Score < e.cfg.RefusalThreshold:
		denyReason = "score below refusal threshold"
	}

	if denyReason != "" {
		rep.FailureCount++
		rep.Score = clampScore(rep.Score - e.cfg.ScoreDecrement)
		rep.AnomalyLog = append(rep.AnomalyLog, fmt.Sprintf("%s: deny (%s)", now.UTC().Format(time.RFC3339), denyReason))
		rep.LastActivity = now
		if err := e.store.PutReputation(ctx, rep); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: false, Reason: denyReason, CurrentRate: currentRate}, nil
	}

	st.timestamps = append(st.timestamps, now)
	rep.LastActivity = now
	if err := e.store.PutReputation(ctx, rep); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true, CurrentRate: currentRate + 1}, nil
}

// RecordSuccess increments score and the success counter for a verified
// submission (§4.4 "incremented per verified submission").
func (e *Engine) RecordSuccess(ctx context.Context, identityID string, now time.Time) error {
	st := e.stateFor(identityID)
	st.mu.Lock()
	defer st.mu.Unlock()

	rep, err := e.loadAndDecay(ctx, identityID, now)
	if err != nil {
		return err
	}
	rep.SuccessCount++
	rep.Score = clampScore(rep.Score + e.cfg.ScoreIncrement)
	rep.LastActivity = now
	return e.store.PutReputation(ctx, rep)
}

// RecordAnomaly decrements score, increments the failure counter, and logs
// reason (§4.4 "decremented per rejected/anomalous event").
func (e *Engine) RecordAnomaly(ctx context.Context, identityID, reason string, now time.Time) error {
	st := e.stateFor(identityID)
	st.mu.Lock()
	defer st.mu.Unlock()

	rep, err := e.loadAndDecay(ctx, identityID, now)
	if err != nil {
		return err
	}
	rep.FailureCount++
	rep.Score = clampScore(rep.Score - e.cfg.ScoreDecrement)
	rep.AnomalyLog = append(rep.AnomalyLog, fmt.Sprintf("%s: %s", now.UTC().Format(time.RFC3339), reason))
	rep.LastActivity = now
	return e.store.PutReputation(ctx, rep)
}

// Snapshot returns a lock-free read of identityID's current reputation row
// (§4.4 "reads may be lock-free snapshots").
func (e *Engine) Snapshot(ctx context.Context, identityID string) (*model.Reputation, error) {
	return e.store.GetReputation(ctx, identityID)
}

// loadAndDecay fetches the stored reputation and applies the configured
// linear decay toward the neutral score of 50 for days idle since the last
// recorded activity (§4.4 "score moves toward 50 at a configurable rate per
// idle day"). Must be called with the identity's state mutex held.
func (e *Engine) loadAndDecay(ctx context.Context, identityID string, now time.Time) (*model.Reputation, error) {
	rep, err := e.store.GetReputation(ctx, identityID)
	if err != nil {
		if errors.Code(err) == errors.ErrCodeNotFound {
			return &model.Reputation{IdentityID: identityID, Score: 50, Tier: model.TierGrey, LastActivity: now}, nil
		}
		return nil, err
	}

	idleDays := now.Sub(rep.LastActivity).Hours() / 24
	if idleDays <= 0 || e.cfg.DecayPerIdleDay <= 0 {
		return rep, nil
	}
	decay := idleDays * e.cfg.DecayPerIdleDay
	if rep.Score > 50 {
		rep.Score = max(50, rep.Score-decay)
	} else if rep.Score < 50 {
		rep.Score = min(50, rep.Score+decay)
	}
	return rep, nil
}

func pruneWindow(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TierThresholds is the score→tier threshold table for bronze/silver/gold
// that TierForScore applies, pluggable and overridable. It is not wired to any automatic promotion
// call (SPEC_FULL.md §9 open question decision): nothing in this package or
// in Credential Service invokes it.
type TierThresholds struct {
	Bronze float64
	Silver float64
	Gold   float64
}

// DefaultTierThresholds are placeholder thresholds pending a promotion
// policy.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Bronze: 70, Silver: 85, Gold: 95}
}

// TierForScore maps score to a reputation-driven tier under thresholds, or
// "" if score does not clear Bronze.
func TierForScore(score float64, thresholds TierThresholds) model.Tier {
	switch {
	case score >= thresholds.Gold:
		return model.TierGold
	case score >= thresholds.Silver:
		return model.TierSilver
	case score >= thresholds.Bronze:
		return model.TierBronze
	default:
		return ""
	}
}
