package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
)

func TestPutProofTranslatesUniqueViolationToConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	p := &model.Proof{Hash: "0xaaaa", IdentityID: "did:pohw:1", ServerTimestamp: time.Now(), ClientTimestamp: time.Now()}

	mock.ExpectExec("INSERT INTO pohw_proofs").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err = s.PutProof(context.Background(), p)
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeConflict, errors.Code(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProofByHashReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	cols := []string{"hash", "signature", "identity_id", "client_timestamp", "server_timestamp", "process_digest", "compound_hash", "process_metrics", "derived_from", "tier", "assistance_profile", "batch_id", "leaf_index", "source_registry"}
	mock.ExpectQuery("SELECT hash, signature").WillReturnRows(sqlmock.NewRows(cols))

	_, err = s.GetProofByHash(context.Background(), "0xmissing")
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSealBatchRollsBackOnMissingProof(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT batch_id FROM pohw_proofs").
		WithArgs("0xmissing").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id"}))
	mock.ExpectRollback()

	batch := &model.Batch{BatchID: "b1", Leaves: []string{"0xmissing"}, CreatedAt: time.Now()}
	err = s.SealBatch(context.Background(), batch)
	require.Error(t, err)
	require.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBatchesSinceAppliesOffset(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	cols := []string{"batch_id", "merkle_root", "size", "leaves", "created_at"}
	mock.ExpectQuery("SELECT batch_id, merkle_root, size, leaves, created_at FROM pohw_batches").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("b3", "0xroot3", 1, []byte(`["0x03"]`), time.Now()))

	batches, err := s.ListBatchesSince(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "b3", batches[0].BatchID)
	require.NoError(t, mock.ExpectationsWereMet())
}
