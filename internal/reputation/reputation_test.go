package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

func newTestEngine() *Engine {
	return New(memstore.New(), Config{
		Window:           time.Minute,
		Cap:              3,
		MinInterval:      100 * time.Millisecond,
		RefusalThreshold: 10,
		ScoreIncrement:   1,
		ScoreDecrement:   5,
		DecayPerIdleDay:  2,
	})
}

func TestAllowSeedsDefaultReputationOnFirstCall(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	decision, err := e.Allow(context.Background(), "did:pohw:u1", now)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 1, decision.CurrentRate)
}

func TestAllowDeniesAtCap(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	for i := 0; i < 3; i++ {
		now = now.Add(200 * time.Millisecond)
		decision, err := e.Allow(context.Background(), "did:pohw:u1", now)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	now = now.Add(200 * time.Millisecond)
	decision, err := e.Allow(context.Background(), "did:pohw:u1", now)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, 3, decision.CurrentRate)
}

func TestAllowDeniesBelowMinInterval(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	decision, err := e.Allow(context.Background(), "did:pohw:u1", now)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = e.Allow(context.Background(), "did:pohw:u1", now.Add(10*time.Millisecond))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestRecordAnomalyDecrementsScoreAndAppendsLog(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	require.NoError(t, e.RecordAnomaly(context.Background(), "did:pohw:u1", "digest mismatch", now))

	rep, err := e.Snapshot(context.Background(), "did:pohw:u1")
	require.NoError(t, err)
	require.Equal(t, 45.0, rep.Score)
	require.Len(t, rep.AnomalyLog, 1)
}

func TestRepeatedDeniesEventuallyRefuseOnLowScore(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	for i := 0; i < 10; i++ {
		_ = e.RecordAnomaly(context.Background(), "did:pohw:u1", "anomaly", now)
		now = now.Add(time.Hour)
	}
	decision, err := e.Allow(context.Background(), "did:pohw:u1", now)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, "score below refusal threshold", decision.Reason)
}

func TestDecayMovesScoreTowardNeutralWhenIdle(t *testing.T) {
	e := newTestEngine()
	now := time.Now()
	require.NoError(t, e.RecordAnomaly(context.Background(), "did:pohw:u1", "anomaly", now))

	rep, err := e.Snapshot(context.Background(), "did:pohw:u1")
	require.NoError(t, err)
	require.Equal(t, 45.0, rep.Score)

	later := now.Add(48 * time.Hour)
	decision, err := e.Allow(context.Background(), "did:pohw:u1", later)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	rep, err = e.Snapshot(context.Background(), "did:pohw:u1")
	require.NoError(t, err)
	require.InDelta(t, 49.0, rep.Score, 0.01)
}

func TestTierForScoreThresholds(t *testing.T) {
	thresholds := DefaultTierThresholds()
	require.Equal(t, "", string(TierForScore(50, thresholds)))
	require.Equal(t, "bronze", string(TierForScore(70, thresholds)))
	require.Equal(t, "silver", string(TierForScore(85, thresholds)))
	require.Equal(t, "gold", string(TierForScore(95, thresholds)))
}
