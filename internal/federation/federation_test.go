package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/store/memstore"
)

func newPeerServer(t *testing.T, status syncStatus, batches []model.Batch, proofsByBatch map[string][]model.Proof) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pohw/sync/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/pohw/sync/batches", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(batchesResponse{Batches: batches})
	})
	mux.HandleFunc("/pohw/sync/proofs", func(w http.ResponseWriter, r *http.Request) {
		batchID := r.URL.Query().Get("batch_id")
		_ = json.NewEncoder(w).Encode(proofsResponse{Proofs: proofsByBatch[batchID]})
	})
	return httptest.NewServer(mux)
}

func TestSyncPeerSkipsWhenRootsMatch(t *testing.T) {
	s := memstore.New()
	srv := newPeerServer(t, syncStatus{RegistryID: "peer-a", Root: "", Height: 0}, nil, nil)
	defer srv.Close()

	require.NoError(t, s.PutPeer(context.Background(), &model.Peer{RegistryID: "peer-a", Endpoint: srv.URL}))
	e := New(s, "local-registry", 1000, nil)

	require.NoError(t, e.syncAllPeers(context.Background()))

	peers, err := s.ListPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.NotNil(t, peers[0].LastSeen)
}

func TestSyncPeerPullsMissingBatchAndProofs(t *testing.T) {
	s := memstore.New()
	now := time.Now().UTC()
	foreignHash := "0x" + "1111111111111111111111111111111111111111111111111111111111111111"[:64]
	batch := model.Batch{
		BatchID:    "peer-batch-1",
		MerkleRoot: "0x" + "2222222222222222222222222222222222222222222222222222222222222222"[:64],
		Size:       1,
		Leaves:     []string{foreignHash},
		CreatedAt:  now,
	}
	proof := model.Proof{
		Hash:            foreignHash,
		IdentityID:      "did:pohw:peer-identity",
		ServerTimestamp: now,
		ClientTimestamp: now,
	}

	srv := newPeerServer(t,
		syncStatus{RegistryID: "peer-a", Root: batch.MerkleRoot, Height: 1},
		[]model.Batch{batch},
		map[string][]model.Proof{"peer-batch-1": {proof}},
	)
	defer srv.Close()

	require.NoError(t, s.PutPeer(context.Background(), &model.Peer{RegistryID: "peer-a", Endpoint: srv.URL}))
	e := New(s, "local-registry", 1000, nil)

	require.NoError(t, e.syncAllPeers(context.Background()))

	stored, err := s.GetProofByHash(context.Background(), foreignHash)
	require.NoError(t, err)
	require.Equal(t, "peer-a", stored.SourceRegistry)
	require.Equal(t, "peer-batch-1", stored.BatchID)

	storedBatch, err := s.GetBatch(context.Background(), "peer-batch-1")
	require.NoError(t, err)
	require.Equal(t, batch.MerkleRoot, storedBatch.MerkleRoot)
}

func TestPullBatchSkipsOnConflictingLocalAssignment(t *testing.T) {
	s := memstore.New()
	now := time.Now().UTC()
	hash := "0x" + "3333333333333333333333333333333333333333333333333333333333333333"[:64]

	require.NoError(t, s.PutProof(context.Background(), &model.Proof{
		Hash: hash, IdentityID: "did:pohw:local", ServerTimestamp: now, ClientTimestamp: now,
	}))
	require.NoError(t, s.SealBatch(context.Background(), &model.Batch{
		BatchID: "local-batch-1", MerkleRoot: "0x" + "4444444444444444444444444444444444444444444444444444444444444444"[:64],
		Size: 1, Leaves: []string{hash}, CreatedAt: now,
	}))

	e := New(s, "local-registry", 1000, nil)
	peer := &model.Peer{RegistryID: "peer-a", Endpoint: "http://unused"}
	foreignBatch := &model.Batch{BatchID: "peer-batch-2", Leaves: []string{hash}}

	inserted, err := e.pullBatch(context.Background(), peer, foreignBatch)
	require.NoError(t, err)
	require.Equal(t, 0, inserted)

	stored, err := s.GetProofByHash(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, "local-batch-1", stored.BatchID)
}

func TestAddPeerPersistsNewPeer(t *testing.T) {
	s := memstore.New()
	e := New(s, "local-registry", 1000, nil)
	require.NoError(t, e.AddPeer(context.Background(), "peer-b", "http://peer-b.example", "eu"))

	peers, err := s.ListPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "peer-b", peers[0].RegistryID)
}
