// Package store defines the typed persistence contract (§4.1) shared by
// every core component. Two implementations satisfy it: memstore (an
// in-memory double grounded on infrastructure/database.MockRepository) and
// pgstore (a Postgres-backed implementation grounded on
// applications/storage/postgres/store_datafeeds.go).
package store

import (
	"context"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
)

// Store is the persistence contract every core component depends on. It
// must observe (proof.batch_id, batch.leaves) serializably: SealBatch is the
// only operation allowed to make both visible together (§4.1).
type Store interface {
	PutProof(ctx context.Context, p *model.Proof) error
	GetProofByHash(ctx context.Context, hash string) (*model.Proof, error)
	ListPendingProofs(ctx context.Context) ([]*model.Proof, error)

	// SealBatch atomically marks ordered_hashes as batched under batchID and
	// persists batch. Either both effects land or neither does (§4.1, §4.6
	// "Sealing is atomic").
	SealBatch(ctx context.Context, batch *model.Batch) error

	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	GetLatestBatch(ctx context.Context) (*model.Batch, error)

	// ListBatchesSince returns every sealed batch beyond the afterHeight'th
	// one in sealing order (an ordinal count, not a block height), oldest
	// first. It backs Federation Sync's gap repair (§4.8) and the
	// /pohw/sync/batches wire endpoint.
	ListBatchesSince(ctx context.Context, afterHeight int) ([]*model.Batch, error)

	PutAnchor(ctx context.Context, a *model.Anchor) error
	UpdateAnchorStatus(ctx context.Context, batchID string, chain model.Chain, status model.AnchorStatus, blockNumber *uint64, errMsg string) error
	ListAnchorsForBatch(ctx context.Context, batchID string) ([]*model.Anchor, error)

	PutIdentity(ctx context.Context, id *model.Identity) error
	GetIdentity(ctx context.Context, identityID string) (*model.Identity, error)
	PutContinuityClaim(ctx context.Context, claim *model.ContinuityClaim) error
	ContinuityChain(ctx context.Context, identityID string) ([]*model.Identity, error)

	PutCredential(ctx context.Context, c *model.Credential) error
	GetCredential(ctx context.Context, hash string) (*model.Credential, error)
	ListCredentialsForSubject(ctx context.Context, subjectID string) ([]*model.Credential, error)

	PutReputation(ctx context.Context, r *model.Reputation) error
	GetReputation(ctx context.Context, identityID string) (*model.Reputation, error)

	PutPeer(ctx context.Context, p *model.Peer) error
	ListPeers(ctx context.Context) ([]*model.Peer, error)

	// Stats reports registry-wide counters for the §6 /pohw/status endpoint.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is the summary surfaced by GET /pohw/status.
type Stats struct {
	TotalProofs       int
	TotalBatches      int
	LatestBatchTime   *string
	PendingProofCount int
}
