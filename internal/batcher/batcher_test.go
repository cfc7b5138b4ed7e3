package batcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/hashing"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/workerpool"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

type recordingSignal struct {
	batchIDs []string
}

func (r *recordingSignal) NotifyBatchSealed(_ context.Context, batchID string) {
	r.batchIDs = append(r.batchIDs, batchID)
}

func seedProof(t *testing.T, s *memstore.Store, content string, ts time.Time) *model.Proof {
	t.Helper()
	p := &model.Proof{
		Hash:            hashing.SHA256Hex([]byte(content)),
		IdentityID:      "did:pohw:abc",
		ServerTimestamp: ts,
		ClientTimestamp: ts,
	}
	require.NoError(t, s.PutProof(context.Background(), p))
	return p
}

func TestSealNowRejectsWhenNothingPending(t *testing.T) {
	s := memstore.New()
	b := New(s, 1000, nil)
	_, err := b.SealNow(context.Background())
	require.Error(t, err)
}

func TestSealNowSealsAllPendingAndSignalsAnchor(t *testing.T) {
	s := memstore.New()
	signal := &recordingSignal{}
	b := New(s, 1000, signal)

	now := time.Now()
	seedProof(t, s, "a", now)
	seedProof(t, s, "b", now.Add(time.Second))

	batch, err := b.SealNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, batch.Size)
	require.Len(t, signal.batchIDs, 1)
	require.Equal(t, batch.BatchID, signal.batchIDs[0])
	require.Equal(t, StateIdle, b.State())

	pending, err := s.ListPendingProofs(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestNotifyPendingTriggersSealAtThreshold(t *testing.T) {
	s := memstore.New()
	signal := &recordingSignal{}
	b := New(s, 2, signal)
	pool := workerpool.New(nil)
	b.Run(pool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	now := time.Now()
	seedProof(t, s, "a", now)
	seedProof(t, s, "b", now.Add(time.Second))
	b.NotifyPending(ctx, "")

	require.Eventually(t, func() bool {
		return len(signal.batchIDs) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTrySealAtThresholdLeavesAccumulatingBelowSize(t *testing.T) {
	s := memstore.New()
	b := New(s, 10, nil)

	now := time.Now()
	seedProof(t, s, "a", now)

	batch, err := b.trySealAtThreshold(context.Background())
	require.NoError(t, err)
	require.Nil(t, batch)
	require.Equal(t, StateAccumulating, b.State())
}
