// Package pgstore is the Postgres-backed Store implementation, grounded on
// the teacher's applications/storage/postgres/store_datafeeds.go: raw
// database/sql with the lib/pq driver, JSON-marshaled nested fields, and a
// scanX(rowScanner) helper per entity.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/lib/pq"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
	"github.com/gdnshnk/pohw-registry-node/internal/store/pgstore/migrations"
)

// Store implements store.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, applies embedded migrations, and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Fatal("open postgres connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Unavailable("ping", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		return nil, errors.Fatal("apply schema migrations", err)
	}
	return New(db), nil
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the code raised by the PRIMARY KEY constraints backing
// PutProof/PutCredential's duplicate detection.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// PutProof persists a new proof, failing with Conflict on a duplicate hash.
func (s *Store) PutProof(ctx context.Context, p *model.Proof) error {
	metricsJSON, err := json.Marshal(p.ProcessMetrics)
	if err != nil {
		return errors.Fatal("marshal process_metrics", err)
	}
	derivedJSON, err := json.Marshal(p.DerivedFrom)
	if err != nil {
		return errors.Fatal("marshal derived_from", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pohw_proofs
			(hash, signature, identity_id, client_timestamp, server_timestamp, process_digest, compound_hash, process_metrics, derived_from, tier, assistance_profile, batch_id, leaf_index, source_registry)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, p.Hash, p.Signature, p.IdentityID, p.ClientTimestamp, p.ServerTimestamp, p.ProcessDigest, p.CompoundHash, metricsJSON, derivedJSON, p.Tier, p.AssistanceProfile, p.BatchID, p.LeafIndex, p.SourceRegistry)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("proof already exists")
		}
		return errors.Unavailable("put_proof", err)
	}
	return nil
}

// GetProofByHash returns the proof with the given hash, or NotFound.
func (s *Store) GetProofByHash(ctx context.Context, hash string) (*model.Proof, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, signature, identity_id, client_timestamp, server_timestamp, process_digest, compound_hash, process_metrics, derived_from, tier, assistance_profile, batch_id, leaf_index, source_registry
		FROM pohw_proofs WHERE hash = $1
	`, hash)
	p, err := scanProof(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("proof", hash)
		}
		return nil, errors.Unavailable("get_proof_by_hash", err)
	}
	return p, nil
}

// ListPendingProofs returns every proof not yet assigned to a batch.
func (s *Store) ListPendingProofs(ctx context.Context) ([]*model.Proof, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, signature, identity_id, client_timestamp, server_timestamp, process_digest, compound_hash, process_metrics, derived_from, tier, assistance_profile, batch_id, leaf_index, source_registry
		FROM pohw_proofs
		WHERE batch_id IS NULL OR batch_id = ''
		ORDER BY server_timestamp ASC, hash ASC
	`)
	if err != nil {
		return nil, errors.Unavailable("list_pending_proofs", err)
	}
	defer rows.Close()

	var out []*model.Proof
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, errors.Unavailable("list_pending_proofs", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SealBatch atomically marks batch.Leaves as batched and persists batch
// inside a single transaction (§4.1, §4.6 "Sealing is atomic").
func (s *Store) SealBatch(ctx context.Context, batch *model.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Unavailable("seal_batch", err)
	}
	defer tx.Rollback()

	for i, hash := range batch.Leaves {
		var existingBatchID sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT batch_id FROM pohw_proofs WHERE hash = $1 FOR UPDATE`, hash).Scan(&existingBatchID); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("proof", hash)
			}
			return errors.Unavailable("seal_batch", err)
		}
		if existingBatchID.Valid && existingBatchID.String != "" {
			return errors.Conflict("proof already batched: " + hash)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE pohw_proofs SET batch_id = $1, leaf_index = $2 WHERE hash = $3`, batch.BatchID, i, hash); err != nil {
			return errors.Unavailable("seal_batch", err)
		}
	}

	leavesJSON, err := json.Marshal(batch.Leaves)
	if err != nil {
		return errors.Fatal("marshal leaves", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pohw_batches (batch_id, merkle_root, size, leaves, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, batch.BatchID, batch.MerkleRoot, batch.Size, leavesJSON, batch.CreatedAt); err != nil {
		return errors.Unavailable("seal_batch", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Unavailable("seal_batch", err)
	}
	return nil
}

// GetBatch returns the batch with the given id, or NotFound.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT batch_id, merkle_root, size, leaves, created_at FROM pohw_batches WHERE batch_id = $1
	`, batchID)
	b, err := scanBatch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch", batchID)
		}
		return nil, errors.Unavailable("get_batch", err)
	}
	return b, nil
}

// GetLatestBatch returns the most recently sealed batch, or NotFound if none exists.
func (s *Store) GetLatestBatch(ctx context.Context) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT batch_id, merkle_root, size, leaves, created_at FROM pohw_batches
		ORDER BY created_at DESC LIMIT 1
	`)
	b, err := scanBatch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch", "latest")
		}
		return nil, errors.Unavailable("get_latest_batch", err)
	}
	return b, nil
}

// ListBatchesSince returns every batch sealed after the afterHeight'th one,
// oldest first, ordered by sealing time (§4.8 gap repair).
func (s *Store) ListBatchesSince(ctx context.Context, afterHeight int) ([]*model.Batch, error) {
	if afterHeight < 0 {
		afterHeight = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, merkle_root, size, leaves, created_at FROM pohw_batches
		ORDER BY created_at ASC, batch_id ASC
		OFFSET $1
	`, afterHeight)
	if err != nil {
		return nil, errors.Unavailable("list_batches_since", err)
	}
	defer rows.Close()

	out := make([]*model.Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, errors.Unavailable("list_batches_since", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PutAnchor appends an anchor record for a (batch, chain) pair.
func (s *Store) PutAnchor(ctx context.Context, a *model.Anchor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pohw_anchors (batch_id, chain, tx_hash, block_number, anchored_at, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.BatchID, a.Chain, a.TxHash, a.BlockNumber, a.Timestamp, a.Status, a.Error)
	if err != nil {
		return errors.Unavailable("put_anchor", err)
	}
	return nil
}

// UpdateAnchorStatus transitions the most recent pending anchor for
// (batchID, chain) to a new status.
func (s *Store) UpdateAnchorStatus(ctx context.Context, batchID string, chain model.Chain, status model.AnchorStatus, blockNumber *uint64, errMsg string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pohw_anchors SET status = $1, block_number = $2, error = $3
		WHERE id = (
			SELECT id FROM pohw_anchors
			WHERE batch_id = $4 AND chain = $5 AND status = $6
			ORDER BY id DESC LIMIT 1
		)
	`, status, blockNumber, errMsg, batchID, chain, model.AnchorPending)
	if err != nil {
		return errors.Unavailable("update_anchor_status", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("anchor", batchID+"/"+string(chain))
	}
	return nil
}

// ListAnchorsForBatch returns every anchor attempt recorded for batchID.
func (s *Store) ListAnchorsForBatch(ctx context.Context, batchID string) ([]*model.Anchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, chain, tx_hash, block_number, anchored_at, status, error
		FROM pohw_anchors WHERE batch_id = $1 ORDER BY id ASC
	`, batchID)
	if err != nil {
		return nil, errors.Unavailable("list_anchors_for_batch", err)
	}
	defer rows.Close()

	out := make([]*model.Anchor, 0)
	for rows.Next() {
		var a model.Anchor
		var blockNumber sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&a.BatchID, &a.Chain, &a.TxHash, &blockNumber, &a.Timestamp, &a.Status, &errMsg); err != nil {
			return nil, errors.Unavailable("list_anchors_for_batch", err)
		}
		if blockNumber.Valid {
			v := uint64(blockNumber.Int64)
			a.BlockNumber = &v
		}
		if errMsg.Valid {
			a.Error = errMsg.String
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// PutIdentity upserts an identity record.
func (s *Store) PutIdentity(ctx context.Context, id *model.Identity) error {
	docJSON, err := json.Marshal(id.Document)
	if err != nil {
		return errors.Fatal("marshal document", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pohw_identities (id, document, status, previous_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET document = $2, status = $3, previous_id = $4
	`, id.ID, docJSON, id.Status, toNullString(id.PreviousID))
	if err != nil {
		return errors.Unavailable("put_identity", err)
	}
	return nil
}

// GetIdentity resolves an identity by id, or NotFound.
func (s *Store) GetIdentity(ctx context.Context, identityID string) (*model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document, status, previous_id FROM pohw_identities WHERE id = $1
	`, identityID)
	id, err := scanIdentity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("identity", identityID)
		}
		return nil, errors.Unavailable("get_identity", err)
	}
	return id, nil
}

// PutContinuityClaim records a rotation's bilateral-signature claim.
func (s *Store) PutContinuityClaim(ctx context.Context, claim *model.ContinuityClaim) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pohw_continuity_claims (new_id, previous_id, parent_reference, last_anchor, old_key_signature, new_key_signature, registry_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, claim.NewID, claim.PreviousID, claim.ParentReference, toNullString(claim.LastAnchor), claim.OldKeySignature, claim.NewKeySignature, claim.RegistryTimestamp)
	if err != nil {
		return errors.Unavailable("put_continuity_claim", err)
	}
	return nil
}

// ContinuityChain walks the single-parent rotation chain from root to
// identityID's head (§4.2 continuity_chain).
func (s *Store) ContinuityChain(ctx context.Context, identityID string) ([]*model.Identity, error) {
	head, err := s.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	chain := []*model.Identity{head}
	cur := head
	for cur.PreviousID != "" {
		prev, err := s.GetIdentity(ctx, cur.PreviousID)
		if err != nil {
			break
		}
		chain = append([]*model.Identity{prev}, chain...)
		cur = prev
	}
	return chain, nil
}

// PutCredential persists a credential and indexes it by subject.
func (s *Store) PutCredential(ctx context.Context, c *model.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pohw_credentials (hash, subject_id, issuer_id, type, issued_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.Hash, c.SubjectID, c.IssuerID, c.Type, c.IssuedAt, toNullTime(c.ExpiresAt), c.Revoked)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("credential already exists")
		}
		return errors.Unavailable("put_credential", err)
	}
	return nil
}

// GetCredential returns the credential with the given hash, or NotFound.
func (s *Store) GetCredential(ctx context.Context, hash string) (*model.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, subject_id, issuer_id, type, issued_at, expires_at, revoked FROM pohw_credentials WHERE hash = $1
	`, hash)
	c, err := scanCredential(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("credential", hash)
		}
		return nil, errors.Unavailable("get_credential", err)
	}
	return c, nil
}

// ListCredentialsForSubject returns every credential issued to subjectID.
func (s *Store) ListCredentialsForSubject(ctx context.Context, subjectID string) ([]*model.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, subject_id, issuer_id, type, issued_at, expires_at, revoked
		FROM pohw_credentials WHERE subject_id = $1 ORDER BY issued_at ASC
	`, subjectID)
	if err != nil {
		return nil, errors.Unavailable("list_credentials_for_subject", err)
	}
	defer rows.Close()

	out := make([]*model.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, errors.Unavailable("list_credentials_for_subject", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutReputation upserts the reputation record for an identity.
func (s *Store) PutReputation(ctx context.Context, r *model.Reputation) error {
	logJSON, err := json.Marshal(r.AnomalyLog)
	if err != nil {
		return errors.Fatal("marshal anomaly_log", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pohw_reputations (identity_id, score, tier, success_count, failure_count, last_activity, anomaly_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity_id) DO UPDATE SET score = $2, tier = $3, success_count = $4, failure_count = $5, last_activity = $6, anomaly_log = $7
	`, r.IdentityID, r.Score, r.Tier, r.SuccessCount, r.FailureCount, r.LastActivity, logJSON)
	if err != nil {
		return errors.Unavailable("put_reputation", err)
	}
	return nil
}

// GetReputation returns the reputation record for identityID, or a fresh
// record seeded at the default score of 50 if none exists yet (§4.4).
func (s *Store) GetReputation(ctx context.Context, identityID string) (*model.Reputation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity_id, score, tier, success_count, failure_count, last_activity, anomaly_log
		FROM pohw_reputations WHERE identity_id = $1
	`, identityID)

	var (
		r       model.Reputation
		logRaw  []byte
	)
	if err := row.Scan(&r.IdentityID, &r.Score, &r.Tier, &r.SuccessCount, &r.FailureCount, &r.LastActivity, &logRaw); err != nil {
		if err == sql.ErrNoRows {
			return &model.Reputation{IdentityID: identityID, Score: 50, Tier: model.TierGrey}, nil
		}
		return nil, errors.Unavailable("get_reputation", err)
	}
	if len(logRaw) > 0 {
		_ = json.Unmarshal(logRaw, &r.AnomalyLog)
	}
	return &r, nil
}

// PutPeer upserts a federation peer record.
func (s *Store) PutPeer(ctx context.Context, p *model.Peer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pohw_peers (registry_id, endpoint, region, last_seen, last_root)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (registry_id) DO UPDATE SET endpoint = $2, region = $3, last_seen = $4, last_root = $5
	`, p.RegistryID, p.Endpoint, toNullString(p.Region), toNullTime(p.LastSeen), toNullString(p.LastRoot))
	if err != nil {
		return errors.Unavailable("put_peer", err)
	}
	return nil
}

// ListPeers returns every known federation peer.
func (s *Store) ListPeers(ctx context.Context) ([]*model.Peer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT registry_id, endpoint, region, last_seen, last_root FROM pohw_peers ORDER BY registry_id ASC
	`)
	if err != nil {
		return nil, errors.Unavailable("list_peers", err)
	}
	defer rows.Close()

	out := make([]*model.Peer, 0)
	for rows.Next() {
		var (
			p        model.Peer
			region   sql.NullString
			lastSeen sql.NullTime
			lastRoot sql.NullString
		)
		if err := rows.Scan(&p.RegistryID, &p.Endpoint, &region, &lastSeen, &lastRoot); err != nil {
			return nil, errors.Unavailable("list_peers", err)
		}
		if region.Valid {
			p.Region = region.String
		}
		if lastSeen.Valid {
			t := lastSeen.Time.UTC()
			p.LastSeen = &t
		}
		if lastRoot.Valid {
			p.LastRoot = lastRoot.String
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Stats summarizes registry-wide counters for GET /pohw/status.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pohw_proofs`).Scan(&stats.TotalProofs); err != nil {
		return store.Stats{}, errors.Unavailable("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pohw_batches`).Scan(&stats.TotalBatches); err != nil {
		return store.Stats{}, errors.Unavailable("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pohw_proofs WHERE batch_id IS NULL OR batch_id = ''`).Scan(&stats.PendingProofCount); err != nil {
		return store.Stats{}, errors.Unavailable("stats", err)
	}

	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT max(created_at) FROM pohw_batches`).Scan(&latest); err != nil {
		return store.Stats{}, errors.Unavailable("stats", err)
	}
	if latest.Valid {
		t := latest.Time.UTC().Format(time.RFC3339)
		stats.LatestBatchTime = &t
	}
	return stats, nil
}

func scanProof(scanner rowScanner) (*model.Proof, error) {
	var (
		p                            model.Proof
		processDigest, compoundHash  sql.NullString
		metricsRaw, derivedRaw       []byte
		batchID, sourceRegistry      sql.NullString
	)
	if err := scanner.Scan(&p.Hash, &p.Signature, &p.IdentityID, &p.ClientTimestamp, &p.ServerTimestamp, &processDigest, &compoundHash, &metricsRaw, &derivedRaw, &p.Tier, &p.AssistanceProfile, &batchID, &p.LeafIndex, &sourceRegistry); err != nil {
		return nil, err
	}
	p.ProcessDigest = processDigest.String
	p.CompoundHash = compoundHash.String
	p.BatchID = batchID.String
	p.SourceRegistry = sourceRegistry.String
	p.ClientTimestamp = p.ClientTimestamp.UTC()
	p.ServerTimestamp = p.ServerTimestamp.UTC()
	if len(metricsRaw) > 0 {
		_ = json.Unmarshal(metricsRaw, &p.ProcessMetrics)
	}
	if len(derivedRaw) > 0 && string(derivedRaw) != "null" {
		var derived model.DerivedFrom
		if err := json.Unmarshal(derivedRaw, &derived); err == nil {
			p.DerivedFrom = &derived
		}
	}
	return &p, nil
}

func scanBatch(scanner rowScanner) (*model.Batch, error) {
	var (
		b         model.Batch
		leavesRaw []byte
	)
	if err := scanner.Scan(&b.BatchID, &b.MerkleRoot, &b.Size, &leavesRaw, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	if len(leavesRaw) > 0 {
		_ = json.Unmarshal(leavesRaw, &b.Leaves)
	}
	return &b, nil
}

func scanIdentity(scanner rowScanner) (*model.Identity, error) {
	var (
		id         model.Identity
		docRaw     []byte
		previousID sql.NullString
	)
	if err := scanner.Scan(&id.ID, &docRaw, &id.Status, &previousID); err != nil {
		return nil, err
	}
	if previousID.Valid {
		id.PreviousID = previousID.String
	}
	if len(docRaw) > 0 {
		_ = json.Unmarshal(docRaw, &id.Document)
	}
	return &id, nil
}

func scanCredential(scanner rowScanner) (*model.Credential, error) {
	var (
		c         model.Credential
		expiresAt sql.NullTime
	)
	if err := scanner.Scan(&c.Hash, &c.SubjectID, &c.IssuerID, &c.Type, &c.IssuedAt, &expiresAt, &c.Revoked); err != nil {
		return nil, err
	}
	c.IssuedAt = c.IssuedAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		c.ExpiresAt = &t
	}
	return &c, nil
}

func toNullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ store.Store = (*Store)(nil)
