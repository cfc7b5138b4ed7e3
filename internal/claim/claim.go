// Package claim composes the JSON-LD provenance document of §4.9: a
// self-contained record binding a proof's content hash, creator identity,
// authentic server timestamp, optional process digest and derived-from
// links, its Merkle inclusion proof, and every confirmed anchor — enough
// for a verifier to recompute the root and check chain inclusion from the
// document alone, without querying this registry again.
package claim

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/merkle"
	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/store"
)

// Context is the JSON-LD context every provenance document declares.
var Context = []string{
	"https://www.w3.org/ns/credentials/v2",
	"https://w3id.org/security/suites/ed25519-2020/v1",
}

// ProofStepDoc is the hex-encoded wire form of one merkle.ProofStep.
type ProofStepDoc struct {
	Sibling string `json:"sibling"`
	Side    string `json:"side"`
}

// InclusionProofDoc is the wire form of a merkle.InclusionProof.
type InclusionProofDoc struct {
	LeafIndex int            `json:"leafIndex"`
	Steps     []ProofStepDoc `json:"steps"`
}

// AnchorRecord is one confirmed on-chain commitment of the proof's batch.
type AnchorRecord struct {
	Chain       model.Chain `json:"chain"`
	TxHash      string      `json:"txHash"`
	BlockNumber *uint64     `json:"blockNumber,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Document is the composed provenance record (§4.9).
type Document struct {
	Context           []string                `json:"@context"`
	ContentHash       string                  `json:"contentHash"`
	Creator           string                  `json:"creator"`
	IssuanceDate      time.Time               `json:"issuanceDate"`
	Tier              model.Tier              `json:"tier"`
	AssistanceProfile model.AssistanceProfile `json:"assistanceProfile"`
	ProcessDigest     string                  `json:"processDigest,omitempty"`
	DerivedFrom       *model.DerivedFrom      `json:"derivedFrom,omitempty"`
	BatchID           string                  `json:"batchId,omitempty"`
	MerkleRoot        string                  `json:"merkleRoot,omitempty"`
	InclusionProof    *InclusionProofDoc      `json:"inclusionProof,omitempty"`
	Anchors           []AnchorRecord          `json:"anchors,omitempty"`
}

// Service composes provenance documents from Store state.
type Service struct {
	store store.Store
}

// New constructs a claim composer.
func New(s store.Store) *Service {
	return &Service{store: s}
}

// Compose builds the provenance document for the proof identified by hash
// (§4.9). A proof not yet batched yields a document with no Merkle root,
// inclusion proof, or anchors — those fields populate only once sealed.
func (s *Service) Compose(ctx context.Context, hash string) (*Document, error) {
	proof, err := s.store.GetProofByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Context:           Context,
		ContentHash:       proof.Hash,
		Creator:           proof.IdentityID,
		IssuanceDate:      proof.ServerTimestamp,
		Tier:              proof.Tier,
		AssistanceProfile: proof.AssistanceProfile,
		ProcessDigest:     proof.ProcessDigest,
		DerivedFrom:       proof.DerivedFrom,
	}

	if proof.BatchID == "" {
		return doc, nil
	}

	batch, err := s.store.GetBatch(ctx, proof.BatchID)
	if err != nil {
		return nil, err
	}
	// The batch's sealing time is the authentic timestamp once batched
	// (§4.9, §5 ordering guarantee: server_timestamp <= batch created_at).
	doc.IssuanceDate = batch.CreatedAt
	doc.BatchID = batch.BatchID
	doc.MerkleRoot = batch.MerkleRoot

	tree, err := merkle.Build(batch.Leaves)
	if err != nil {
		return nil, fmt.Errorf("claim: rebuild merkle tree for batch %s: %w", batch.BatchID, err)
	}
	inclusion, err := tree.Prove(hash)
	if err != nil {
		return nil, fmt.Errorf("claim: prove inclusion for %s: %w", hash, err)
	}
	doc.InclusionProof = toInclusionProofDoc(inclusion)

	anchors, err := s.store.ListAnchorsForBatch(ctx, proof.BatchID)
	if err != nil {
		return nil, err
	}
	for _, a := range anchors {
		if a.Status != model.AnchorConfirmed {
			continue
		}
		doc.Anchors = append(doc.Anchors, AnchorRecord{
			Chain: a.Chain, TxHash: a.TxHash, BlockNumber: a.BlockNumber, Timestamp: a.Timestamp,
		})
	}

	return doc, nil
}

func toInclusionProofDoc(p *merkle.InclusionProof) *InclusionProofDoc {
	steps := make([]ProofStepDoc, len(p.Steps))
	for i, step := range p.Steps {
		side := "right"
		if step.Side == merkle.SideLeft {
			side = "left"
		}
		steps[i] = ProofStepDoc{Sibling: "0x" + hex.EncodeToString(step.Sibling[:]), Side: side}
	}
	return &InclusionProofDoc{LeafIndex: p.LeafIndex, Steps: steps}
}

// Verify recomputes doc's Merkle root from its inclusion proof and checks it
// against MerkleRoot, the self-contained check §4.9 requires of a verifier
// holding only the document.
func Verify(doc *Document) (bool, error) {
	if doc.InclusionProof == nil || doc.MerkleRoot == "" {
		return false, fmt.Errorf("claim: document carries no inclusion proof to verify")
	}

	rootBytes, err := decodeRoot(doc.MerkleRoot)
	if err != nil {
		return false, err
	}

	steps := make([]merkle.ProofStep, len(doc.InclusionProof.Steps))
	for i, s := range doc.InclusionProof.Steps {
		sib, err := decodeRoot(s.Sibling)
		if err != nil {
			return false, err
		}
		side := merkle.SideRight
		if s.Side == "left" {
			side = merkle.SideLeft
		}
		steps[i] = merkle.ProofStep{Sibling: sib, Side: side}
	}

	proof := &merkle.InclusionProof{Root: rootBytes, LeafIndex: doc.InclusionProof.LeafIndex, Steps: steps}
	return merkle.Verify(doc.ContentHash, proof), nil
}

func decodeRoot(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(trimHexPrefix(hexStr))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("claim: expected 32-byte digest, got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0:2] == "0x" {
		return s[2:]
	}
	return s
}
