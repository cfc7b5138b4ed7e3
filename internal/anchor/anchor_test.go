package anchor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/logging"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

type fakeClient struct {
	chain model.Chain

	mu          sync.Mutex
	broadcasts  int
	failUntil   int
	txHash      string
	confirmed   bool
	blockNumber uint64
}

func (f *fakeClient) Chain() model.Chain { return f.chain }

func (f *fakeClient) Broadcast(context.Context, [32]byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts++
	if f.broadcasts <= f.failUntil {
		return "", errors.New("insufficient funds for fee")
	}
	return f.txHash, nil
}

func (f *fakeClient) Confirmations(context.Context, string) (*uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.confirmed {
		return nil, false, nil
	}
	bn := f.blockNumber
	return &bn, true, nil
}

func (f *fakeClient) ClassifyError(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	return "insufficient-funds", "fund the configured address"
}

func seedBatch(t *testing.T, s *memstore.Store) *model.Batch {
	t.Helper()
	leaf := "0x" + "cd00000000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, s.PutProof(context.Background(), &model.Proof{Hash: leaf, ServerTimestamp: time.Now().UTC()}))
	batch := &model.Batch{
		BatchID:    "batch-1",
		MerkleRoot: "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000",
		Size:       1,
		Leaves:     []string{leaf},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.SealBatch(context.Background(), batch))
	return batch
}

func TestAnchorBatchPersistsPendingAnchorOnSuccess(t *testing.T) {
	s := memstore.New()
	batch := seedBatch(t, s)
	client := &fakeClient{chain: model.ChainEthereum, txHash: "0xdeadbeef"}
	e := New(s, []ChainClient{client}, logging.Default())

	e.anchorBatch(context.Background(), model.ChainEthereum, batch.BatchID)

	anchors, err := s.ListAnchorsForBatch(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	require.Equal(t, model.AnchorPending, anchors[0].Status)
	require.Equal(t, "0xdeadbeef", anchors[0].TxHash)
}

func TestAnchorBatchRetriesThenSucceeds(t *testing.T) {
	s := memstore.New()
	batch := seedBatch(t, s)
	client := &fakeClient{chain: model.ChainEthereum, txHash: "0xabc123", failUntil: 2}
	e := New(s, []ChainClient{client}, logging.Default())

	e.anchorBatch(context.Background(), model.ChainEthereum, batch.BatchID)

	anchors, err := s.ListAnchorsForBatch(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	require.Equal(t, model.AnchorPending, anchors[0].Status)
}

func TestAnchorBatchPersistsFailedAnchorAfterExhaustingRetries(t *testing.T) {
	s := memstore.New()
	batch := seedBatch(t, s)
	client := &fakeClient{chain: model.ChainEthereum, failUntil: 999}
	e := New(s, []ChainClient{client}, logging.Default())

	e.anchorBatch(context.Background(), model.ChainEthereum, batch.BatchID)

	anchors, err := s.ListAnchorsForBatch(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	require.Equal(t, model.AnchorFailed, anchors[0].Status)
	require.NotEmpty(t, anchors[0].Error)
}

func TestPollConfirmationsTransitionsPendingToConfirmed(t *testing.T) {
	s := memstore.New()
	batch := seedBatch(t, s)
	client := &fakeClient{chain: model.ChainEthereum, txHash: "0xdeadbeef"}
	e := New(s, []ChainClient{client}, logging.Default())

	e.anchorBatch(context.Background(), model.ChainEthereum, batch.BatchID)
	client.confirmed = true
	client.blockNumber = 12345

	require.NoError(t, e.pollConfirmations(context.Background()))

	anchors, err := s.ListAnchorsForBatch(context.Background(), batch.BatchID)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	require.Equal(t, model.AnchorConfirmed, anchors[0].Status)
	require.NotNil(t, anchors[0].BlockNumber)
	require.Equal(t, uint64(12345), *anchors[0].BlockNumber)
}

func TestNotifyBatchSealedEnqueuesOnEveryConfiguredChain(t *testing.T) {
	s := memstore.New()
	btc := &fakeClient{chain: model.ChainBitcoin}
	eth := &fakeClient{chain: model.ChainEthereum}
	e := New(s, []ChainClient{btc, eth}, logging.Default())

	e.NotifyBatchSealed(context.Background(), "batch-1")

	require.Len(t, e.queues[model.ChainBitcoin].drain(), 1)
	require.Len(t, e.queues[model.ChainEthereum].drain(), 1)
}
