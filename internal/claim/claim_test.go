package claim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/hashing"
	"github.com/gdnshnk/pohw-registry-node/internal/merkle"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

func TestComposeUnbatchedProofHasNoInclusionProof(t *testing.T) {
	s := memstore.New()
	now := time.Now().UTC()
	hash := hashing.SHA256Hex([]byte("content"))
	require.NoError(t, s.PutProof(context.Background(), &model.Proof{
		Hash: hash, IdentityID: "did:pohw:abc", ServerTimestamp: now, ClientTimestamp: now,
		Tier: model.TierBlue, AssistanceProfile: model.AssistanceHumanOnly,
	}))

	svc := New(s)
	doc, err := svc.Compose(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, hash, doc.ContentHash)
	require.Nil(t, doc.InclusionProof)
	require.Empty(t, doc.MerkleRoot)
}

func TestComposeBatchedProofIncludesVerifiableInclusionProof(t *testing.T) {
	s := memstore.New()
	now := time.Now().UTC()
	hashA := hashing.SHA256Hex([]byte("a"))
	hashB := hashing.SHA256Hex([]byte("b"))

	require.NoError(t, s.PutProof(context.Background(), &model.Proof{
		Hash: hashA, IdentityID: "did:pohw:abc", ServerTimestamp: now, ClientTimestamp: now,
		Tier: model.TierBlue, AssistanceProfile: model.AssistanceHumanOnly,
	}))
	require.NoError(t, s.PutProof(context.Background(), &model.Proof{
		Hash: hashB, IdentityID: "did:pohw:def", ServerTimestamp: now.Add(time.Second), ClientTimestamp: now,
		Tier: model.TierGrey, AssistanceProfile: model.AssistanceHumanOnly,
	}))

	batch := buildTestBatch(t, []string{hashA, hashB}, now.Add(time.Minute))
	require.NoError(t, s.SealBatch(context.Background(), batch))

	blockNumber := uint64(100)
	require.NoError(t, s.PutAnchor(context.Background(), &model.Anchor{
		BatchID: batch.BatchID, Chain: model.ChainEthereum, TxHash: "0xabc",
		Status: model.AnchorConfirmed, BlockNumber: &blockNumber, Timestamp: now.Add(2 * time.Minute),
	}))
	require.NoError(t, s.PutAnchor(context.Background(), &model.Anchor{
		BatchID: batch.BatchID, Chain: model.ChainBitcoin, TxHash: "0xdef",
		Status: model.AnchorPending, Timestamp: now.Add(2 * time.Minute),
	}))

	svc := New(s)
	doc, err := svc.Compose(context.Background(), hashA)
	require.NoError(t, err)
	require.Equal(t, batch.MerkleRoot, doc.MerkleRoot)
	require.Equal(t, batch.CreatedAt, doc.IssuanceDate)
	require.NotNil(t, doc.InclusionProof)
	require.Len(t, doc.Anchors, 1)
	require.Equal(t, model.ChainEthereum, doc.Anchors[0].Chain)

	ok, err := Verify(doc)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedRoot(t *testing.T) {
	s := memstore.New()
	now := time.Now().UTC()
	hash := hashing.SHA256Hex([]byte("solo"))
	require.NoError(t, s.PutProof(context.Background(), &model.Proof{
		Hash: hash, IdentityID: "did:pohw:abc", ServerTimestamp: now, ClientTimestamp: now,
	}))
	batch := buildTestBatch(t, []string{hash}, now.Add(time.Minute))
	require.NoError(t, s.SealBatch(context.Background(), batch))

	svc := New(s)
	doc, err := svc.Compose(context.Background(), hash)
	require.NoError(t, err)

	doc.MerkleRoot = hashing.SHA256Hex([]byte("tampered"))
	ok, err := Verify(doc)
	require.NoError(t, err)
	require.False(t, ok)
}

func buildTestBatch(t *testing.T, leaves []string, createdAt time.Time) *model.Batch {
	t.Helper()
	tree, err := merkle.Build(leaves)
	require.NoError(t, err)
	return &model.Batch{
		BatchID:    "batch-1",
		MerkleRoot: tree.RootHex(),
		Size:       len(leaves),
		Leaves:     leaves,
		CreatedAt:  createdAt,
	}
}
