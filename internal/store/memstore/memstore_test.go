package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
)

func TestPutProofRejectsDuplicateHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &model.Proof{Hash: "0xaaaa", IdentityID: "did:pohw:1", ServerTimestamp: time.Now()}

	require.NoError(t, s.PutProof(ctx, p))

	err := s.PutProof(ctx, p)
	require.Error(t, err)
	assert.Equal(t, platformerrors.ErrCodeConflict, platformerrors.Code(err))
}

func TestSealBatchIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()

	p1 := &model.Proof{Hash: "0x01", ServerTimestamp: time.Now()}
	require.NoError(t, s.PutProof(ctx, p1))

	// Leaves references a proof that was never put; SealBatch must fail and
	// leave p1 unbatched (nothing partially applied).
	batch := &model.Batch{BatchID: "batch-1", Leaves: []string{"0x01", "0xmissing"}, CreatedAt: time.Now()}
	err := s.SealBatch(ctx, batch)
	require.Error(t, err)

	got, err := s.GetProofByHash(ctx, "0x01")
	require.NoError(t, err)
	assert.Empty(t, got.BatchID, "proof must not be marked batched when SealBatch fails partway")

	_, err = s.GetBatch(ctx, "batch-1")
	assert.Error(t, err, "batch must not be persisted when SealBatch fails")
}

func TestSealBatchMarksLeavesAndPersistsBatch(t *testing.T) {
	s := New()
	ctx := context.Background()

	p1 := &model.Proof{Hash: "0x01", ServerTimestamp: time.Now()}
	p2 := &model.Proof{Hash: "0x02", ServerTimestamp: time.Now()}
	require.NoError(t, s.PutProof(ctx, p1))
	require.NoError(t, s.PutProof(ctx, p2))

	batch := &model.Batch{BatchID: "batch-1", MerkleRoot: "0xroot", Leaves: []string{"0x01", "0x02"}, CreatedAt: time.Now()}
	require.NoError(t, s.SealBatch(ctx, batch))

	got1, err := s.GetProofByHash(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", got1.BatchID)
	assert.Equal(t, 0, got1.LeafIndex)

	got2, err := s.GetProofByHash(ctx, "0x02")
	require.NoError(t, err)
	assert.Equal(t, 1, got2.LeafIndex)

	latest, err := s.GetLatestBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", latest.BatchID)

	pending, err := s.ListPendingProofs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListBatchesSinceReturnsOnlyNewerBatches(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, hash := range []string{"0x01", "0x02", "0x03"} {
		require.NoError(t, s.PutProof(ctx, &model.Proof{Hash: hash, ServerTimestamp: time.Now()}))
		batch := &model.Batch{BatchID: "batch-" + hash, MerkleRoot: "0xroot", Leaves: []string{hash}, CreatedAt: time.Now()}
		require.NoError(t, s.SealBatch(ctx, batch))
		_ = i
	}

	all, err := s.ListBatchesSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	tail, err := s.ListBatchesSince(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "batch-0x03", tail[0].BatchID)

	none, err := s.ListBatchesSince(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListPendingProofsExcludesBatched(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.PutProof(ctx, &model.Proof{Hash: "0x01", ServerTimestamp: time.Now()}))
	require.NoError(t, s.PutProof(ctx, &model.Proof{Hash: "0x02", ServerTimestamp: time.Now()}))
	require.NoError(t, s.SealBatch(ctx, &model.Batch{BatchID: "b1", Leaves: []string{"0x01"}, CreatedAt: time.Now()}))

	pending, err := s.ListPendingProofs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0x02", pending[0].Hash)
}

func TestUpdateAnchorStatusTransitionsPendingAnchor(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.PutAnchor(ctx, &model.Anchor{BatchID: "b1", Chain: model.ChainBitcoin, TxHash: "0xtx", Status: model.AnchorPending}))

	block := uint64(100)
	require.NoError(t, s.UpdateAnchorStatus(ctx, "b1", model.ChainBitcoin, model.AnchorConfirmed, &block, ""))

	anchors, err := s.ListAnchorsForBatch(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, model.AnchorConfirmed, anchors[0].Status)
	assert.Equal(t, &block, anchors[0].BlockNumber)
}

func TestUpdateAnchorStatusNotFoundWhenNoPendingAnchor(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.UpdateAnchorStatus(ctx, "nonexistent", model.ChainBitcoin, model.AnchorConfirmed, nil, "")
	require.Error(t, err)
	assert.Equal(t, platformerrors.ErrCodeNotFound, platformerrors.Code(err))
}

func TestContinuityChainWalksRotationHistory(t *testing.T) {
	s := New()
	ctx := context.Background()

	root := &model.Identity{ID: "did:pohw:a", Status: model.IdentityRotated}
	mid := &model.Identity{ID: "did:pohw:b", Status: model.IdentityRotated, PreviousID: "did:pohw:a"}
	head := &model.Identity{ID: "did:pohw:c", Status: model.IdentityActive, PreviousID: "did:pohw:b"}

	require.NoError(t, s.PutIdentity(ctx, root))
	require.NoError(t, s.PutIdentity(ctx, mid))
	require.NoError(t, s.PutIdentity(ctx, head))

	chain, err := s.ContinuityChain(ctx, "did:pohw:c")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "did:pohw:a", chain[0].ID)
	assert.Equal(t, "did:pohw:b", chain[1].ID)
	assert.Equal(t, "did:pohw:c", chain[2].ID)
}

func TestGetReputationSeedsDefaultWhenAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	rep, err := s.GetReputation(ctx, "did:pohw:new")
	require.NoError(t, err)
	assert.Equal(t, float64(50), rep.Score)
	assert.Equal(t, model.TierGrey, rep.Tier)
}

func TestPutCredentialRejectsDuplicateHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	c := &model.Credential{Hash: "0xcred", SubjectID: "did:pohw:1", IssuerID: "did:pohw:issuer"}
	require.NoError(t, s.PutCredential(ctx, c))
	err := s.PutCredential(ctx, c)
	require.Error(t, err)
	assert.Equal(t, platformerrors.ErrCodeConflict, platformerrors.Code(err))

	list, err := s.ListCredentialsForSubject(ctx, "did:pohw:1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestStatsReportsCounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.PutProof(ctx, &model.Proof{Hash: "0x01", ServerTimestamp: time.Now()}))
	require.NoError(t, s.PutProof(ctx, &model.Proof{Hash: "0x02", ServerTimestamp: time.Now()}))
	require.NoError(t, s.SealBatch(ctx, &model.Batch{BatchID: "b1", Leaves: []string{"0x01"}, CreatedAt: time.Now()}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProofs)
	assert.Equal(t, 1, stats.TotalBatches)
	assert.Equal(t, 1, stats.PendingProofCount)
	require.NotNil(t, stats.LatestBatchTime)
}

func TestErrorInjectionSurfacesUnavailable(t *testing.T) {
	s := New()
	ctx := context.Background()
	injected := errors.New("connection reset")
	s.ErrorOnNextCall = injected

	_, err := s.GetLatestBatch(ctx)
	require.Error(t, err)
	assert.Equal(t, platformerrors.ErrCodeUnavailable, platformerrors.Code(err))

	// injection is cleared after firing once
	_, err = s.GetLatestBatch(ctx)
	assert.Error(t, err) // still NotFound since no batch sealed, but not Unavailable
	assert.Equal(t, platformerrors.ErrCodeNotFound, platformerrors.Code(err))
}
