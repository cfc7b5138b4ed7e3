// Package memstore is an in-memory Store implementation for tests and
// single-node operation, grounded on the teacher's
// infrastructure/database.MockRepository (sync.RWMutex-guarded maps, error
// injection for exercising failure paths).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	platformerrors "github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// Store is a sync.RWMutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	proofs      map[string]*model.Proof // by hash
	batches     map[string]*model.Batch // by batch_id
	batchOrder  []string                // batch_id, in sealing order
	latestBatch string

	anchors map[string][]*model.Anchor // by batch_id

	identities       map[string]*model.Identity // by id
	continuityClaims map[string]*model.ContinuityClaim
	parentOf         map[string]string // new_id -> previous_id

	credentials       map[string]*model.Credential   // by hash
	credentialsBySubj map[string][]string            // subject_id -> hashes

	reputations map[string]*model.Reputation // by identity_id

	peers map[string]*model.Peer // by registry_id

	// ErrorOnNextCall, when non-nil, is returned (and cleared) by the next
	// Store call — an error-injection hook for exercising failure paths.
	ErrorOnNextCall error
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		proofs:            make(map[string]*model.Proof),
		batches:           make(map[string]*model.Batch),
		anchors:           make(map[string][]*model.Anchor),
		identities:        make(map[string]*model.Identity),
		continuityClaims:  make(map[string]*model.ContinuityClaim),
		parentOf:          make(map[string]string),
		credentials:       make(map[string]*model.Credential),
		credentialsBySubj: make(map[string][]string),
		reputations:       make(map[string]*model.Reputation),
		peers:             make(map[string]*model.Peer),
	}
}

func (s *Store) checkError() error {
	if s.ErrorOnNextCall != nil {
		err := s.ErrorOnNextCall
		s.ErrorOnNextCall = nil
		return err
	}
	return nil
}

func cloneProof(p *model.Proof) *model.Proof {
	cp := *p
	return &cp
}

// PutProof persists a new proof, failing with Conflict if its hash already exists.
func (s *Store) PutProof(_ context.Context, p *model.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("put_proof", err)
	}
	if _, exists := s.proofs[p.Hash]; exists {
		return platformerrors.Conflict("proof already exists")
	}
	s.proofs[p.Hash] = cloneProof(p)
	return nil
}

// GetProofByHash returns the proof with the given hash, or NotFound.
func (s *Store) GetProofByHash(_ context.Context, hash string) (*model.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("get_proof_by_hash", err)
	}
	p, ok := s.proofs[hash]
	if !ok {
		return nil, platformerrors.NotFound("proof", hash)
	}
	return cloneProof(p), nil
}

// ListPendingProofs returns every proof not yet assigned to a batch.
func (s *Store) ListPendingProofs(_ context.Context) ([]*model.Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("list_pending_proofs", err)
	}
	pending := make([]*model.Proof, 0)
	for _, p := range s.proofs {
		if p.BatchID == "" {
			pending = append(pending, cloneProof(p))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].ServerTimestamp.Equal(pending[j].ServerTimestamp) {
			return pending[i].ServerTimestamp.Before(pending[j].ServerTimestamp)
		}
		return pending[i].Hash < pending[j].Hash
	})
	return pending, nil
}

// SealBatch marks batch.Leaves as batched and stores batch, atomically under
// the store's lock — the transactional guarantee §4.1/§4.6 require.
func (s *Store) SealBatch(_ context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("seal_batch", err)
	}

	for _, hash := range batch.Leaves {
		p, ok := s.proofs[hash]
		if !ok {
			return platformerrors.NotFound("proof", hash)
		}
		if p.BatchID != "" {
			return platformerrors.Conflict("proof already batched: " + hash)
		}
	}
	for i, hash := range batch.Leaves {
		p := s.proofs[hash]
		p.BatchID = batch.BatchID
		p.LeafIndex = i
	}

	batchCopy := *batch
	batchCopy.Leaves = append([]string(nil), batch.Leaves...)
	s.batches[batch.BatchID] = &batchCopy
	s.batchOrder = append(s.batchOrder, batch.BatchID)
	s.latestBatch = batch.BatchID
	return nil
}

// GetBatch returns the batch with the given id, or NotFound.
func (s *Store) GetBatch(_ context.Context, batchID string) (*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("get_batch", err)
	}
	b, ok := s.batches[batchID]
	if !ok {
		return nil, platformerrors.NotFound("batch", batchID)
	}
	bc := *b
	return &bc, nil
}

// GetLatestBatch returns the most recently sealed batch, or NotFound if none exists.
func (s *Store) GetLatestBatch(_ context.Context) (*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("get_latest_batch", err)
	}
	if s.latestBatch == "" {
		return nil, platformerrors.NotFound("batch", "latest")
	}
	b := s.batches[s.latestBatch]
	bc := *b
	return &bc, nil
}

// ListBatchesSince returns every batch sealed after the afterHeight'th one,
// oldest first, by sealing order (§4.8 gap repair).
func (s *Store) ListBatchesSince(_ context.Context, afterHeight int) ([]*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("list_batches_since", err)
	}
	if afterHeight < 0 {
		afterHeight = 0
	}
	if afterHeight >= len(s.batchOrder) {
		return []*model.Batch{}, nil
	}
	out := make([]*model.Batch, 0, len(s.batchOrder)-afterHeight)
	for _, id := range s.batchOrder[afterHeight:] {
		b := *s.batches[id]
		out = append(out, &b)
	}
	return out, nil
}

// PutAnchor appends an anchor record for a (batch, chain) pair.
func (s *Store) PutAnchor(_ context.Context, a *model.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("put_anchor", err)
	}
	ac := *a
	s.anchors[a.BatchID] = append(s.anchors[a.BatchID], &ac)
	return nil
}

// UpdateAnchorStatus transitions the most recent pending anchor for
// (batchID, chain) to a new status (§3 Anchor: pending→confirmed|failed).
func (s *Store) UpdateAnchorStatus(_ context.Context, batchID string, chain model.Chain, status model.AnchorStatus, blockNumber *uint64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("update_anchor_status", err)
	}
	list := s.anchors[batchID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Chain == chain && list[i].Status == model.AnchorPending {
			list[i].Status = status
			list[i].BlockNumber = blockNumber
			list[i].Error = errMsg
			return nil
		}
	}
	return platformerrors.NotFound("anchor", batchID+"/"+string(chain))
}

// ListAnchorsForBatch returns every anchor attempt recorded for batchID.
func (s *Store) ListAnchorsForBatch(_ context.Context, batchID string) ([]*model.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("list_anchors_for_batch", err)
	}
	list := s.anchors[batchID]
	out := make([]*model.Anchor, len(list))
	for i, a := range list {
		ac := *a
		out[i] = &ac
	}
	return out, nil
}

// PutIdentity upserts an identity record.
func (s *Store) PutIdentity(_ context.Context, id *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("put_identity", err)
	}
	idc := *id
	s.identities[id.ID] = &idc
	if id.PreviousID != "" {
		s.parentOf[id.ID] = id.PreviousID
	}
	return nil
}

// GetIdentity resolves an identity by id, or NotFound.
func (s *Store) GetIdentity(_ context.Context, identityID string) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("get_identity", err)
	}
	id, ok := s.identities[identityID]
	if !ok {
		return nil, platformerrors.NotFound("identity", identityID)
	}
	idc := *id
	return &idc, nil
}

// PutContinuityClaim records a rotation's bilateral-signature claim.
func (s *Store) PutContinuityClaim(_ context.Context, claim *model.ContinuityClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("put_continuity_claim", err)
	}
	cc := *claim
	s.continuityClaims[claim.NewID] = &cc
	return nil
}

// ContinuityChain walks the single-parent rotation chain from root to head,
// ending at identityID's active head (§4.2 continuity_chain).
func (s *Store) ContinuityChain(_ context.Context, identityID string) ([]*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("continuity_chain", err)
	}

	head, ok := s.identities[identityID]
	if !ok {
		return nil, platformerrors.NotFound("identity", identityID)
	}

	chain := []*model.Identity{}
	cur := head
	for {
		cc := *cur
		chain = append([]*model.Identity{&cc}, chain...)
		parent, ok := s.parentOf[cur.ID]
		if !ok || parent == "" {
			break
		}
		prev, ok := s.identities[parent]
		if !ok {
			break
		}
		cur = prev
	}
	return chain, nil
}

// PutCredential persists a credential and indexes it by subject.
func (s *Store) PutCredential(_ context.Context, c *model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("put_credential", err)
	}
	if _, exists := s.credentials[c.Hash]; exists {
		return platformerrors.Conflict("credential already exists")
	}
	cc := *c
	s.credentials[c.Hash] = &cc
	s.credentialsBySubj[c.SubjectID] = append(s.credentialsBySubj[c.SubjectID], c.Hash)
	return nil
}

// GetCredential returns the credential with the given hash, or NotFound.
func (s *Store) GetCredential(_ context.Context, hash string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("get_credential", err)
	}
	c, ok := s.credentials[hash]
	if !ok {
		return nil, platformerrors.NotFound("credential", hash)
	}
	cc := *c
	return &cc, nil
}

// ListCredentialsForSubject returns every credential issued to subjectID.
func (s *Store) ListCredentialsForSubject(_ context.Context, subjectID string) ([]*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("list_credentials_for_subject", err)
	}
	hashes := s.credentialsBySubj[subjectID]
	out := make([]*model.Credential, 0, len(hashes))
	for _, h := range hashes {
		if c, ok := s.credentials[h]; ok {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

// PutReputation upserts the reputation record for an identity.
func (s *Store) PutReputation(_ context.Context, r *model.Reputation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("put_reputation", err)
	}
	rc := *r
	rc.AnomalyLog = append([]string(nil), r.AnomalyLog...)
	s.reputations[r.IdentityID] = &rc
	return nil
}

// GetReputation returns the reputation record for identityID, or a fresh
// record seeded at the default score of 50 if none exists yet (§4.4).
func (s *Store) GetReputation(_ context.Context, identityID string) (*model.Reputation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("get_reputation", err)
	}
	r, ok := s.reputations[identityID]
	if !ok {
		return &model.Reputation{IdentityID: identityID, Score: 50, Tier: model.TierGrey}, nil
	}
	rc := *r
	rc.AnomalyLog = append([]string(nil), r.AnomalyLog...)
	return &rc, nil
}

// PutPeer upserts a federation peer record.
func (s *Store) PutPeer(_ context.Context, p *model.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkError(); err != nil {
		return platformerrors.Unavailable("put_peer", err)
	}
	pc := *p
	s.peers[p.RegistryID] = &pc
	return nil
}

// ListPeers returns every known federation peer.
func (s *Store) ListPeers(_ context.Context) ([]*model.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return nil, platformerrors.Unavailable("list_peers", err)
	}
	out := make([]*model.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		pc := *p
		out = append(out, &pc)
	}
	return out, nil
}

// Stats summarizes registry-wide counters for GET /pohw/status.
func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkError(); err != nil {
		return store.Stats{}, platformerrors.Unavailable("stats", err)
	}

	pending := 0
	for _, p := range s.proofs {
		if p.BatchID == "" {
			pending++
		}
	}

	stats := store.Stats{
		TotalProofs:       len(s.proofs),
		TotalBatches:      len(s.batches),
		PendingProofCount: pending,
	}
	if s.latestBatch != "" {
		t := s.batches[s.latestBatch].CreatedAt.UTC().Format(time.RFC3339)
		stats.LatestBatchTime = &t
	}
	return stats, nil
}

var _ store.Store = (*Store)(nil)
