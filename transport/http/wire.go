// Package http assembles the chi-routed HTTP surface of §6: the wire-level
// adapter between external callers and the core service packages. Handler
// grouping and the constructor-closure pattern (func xHandler(deps) http.HandlerFunc)
// follow the teacher's cmd/gateway/handlers_*.go files, rebased from gorilla's
// mux.Vars onto chi.URLParam.
package http

import (
	"encoding/json"
	"time"

	"github.com/gdnshnk/pohw-registry-node/internal/model"
	"github.com/gdnshnk/pohw-registry-node/internal/platform/errors"
)

// derivedFromEntryWire is the wire shape of one structured derivedFrom entry.
type derivedFromEntryWire struct {
	Text       string          `json:"text,omitempty"`
	Source     string          `json:"source"`
	SourceType string          `json:"sourceType,omitempty"`
	Position   *model.Position `json:"position,omitempty"`
}

// parseDerivedFrom decodes the §9 "strings-as-JSON" tagged union: raw is
// either a JSON array of strings or a JSON array of {text, source,
// sourceType, position} objects. An empty or absent raw yields a nil result.
func parseDerivedFrom(raw json.RawMessage) (*model.DerivedFrom, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, nil
		}
		return &model.DerivedFrom{Flat: flat}, nil
	}

	var structured []derivedFromEntryWire
	if err := json.Unmarshal(raw, &structured); err != nil {
		return nil, errors.Invalid("derivedFrom", "must be a list of strings or a list of structured entries")
	}
	if len(structured) == 0 {
		return nil, nil
	}

	out := make([]model.DerivedFromEntry, len(structured))
	for i, e := range structured {
		if e.Source == "" {
			return nil, errors.Invalid("derivedFrom", "structured entries require a source")
		}
		out[i] = model.DerivedFromEntry{
			Text:       e.Text,
			Source:     e.Source,
			SourceType: model.SourceType(e.SourceType),
			Position:   e.Position,
		}
	}
	return &model.DerivedFrom{Structured: out}, nil
}

// attestRequest is the POST /pohw/attest wire body (§4.5, §6).
type attestRequest struct {
	Hash              string            `json:"hash"`
	Signature         string            `json:"signature"`
	IdentityID        string            `json:"identity_id"`
	ClientTimestamp   string            `json:"client_timestamp"`
	ProcessDigest     string            `json:"processDigest,omitempty"`
	CompoundHash      string            `json:"compoundHash,omitempty"`
	ProcessMetrics    map[string]any    `json:"processMetrics,omitempty"`
	DerivedFrom       json.RawMessage   `json:"derivedFrom,omitempty"`
	AssistanceProfile model.AssistanceProfile `json:"assistanceProfile"`
}

// attestResponse is the 201 receipt returned from POST /pohw/attest.
type attestResponse struct {
	ReceiptHash     string    `json:"receipt_hash"`
	ServerTimestamp time.Time `json:"server_timestamp"`
	RegistryID      string    `json:"registry_id"`
}

// verifyResponse is the GET /pohw/verify/{hash} wire body.
type verifyResponse struct {
	Valid             bool                    `json:"valid"`
	Hash              string                  `json:"hash"`
	Identity          string                  `json:"identity"`
	Tier              model.Tier              `json:"tier"`
	AssistanceProfile model.AssistanceProfile `json:"assistanceProfile"`
	MerkleRoot        string                  `json:"merkle_root,omitempty"`
	InclusionProof    interface{}             `json:"inclusion_proof,omitempty"`
}

// anchorRef is one chain's entry in a proof/anchor listing, with a best-effort
// block explorer link alongside the raw record.
type anchorRef struct {
	Chain       model.Chain        `json:"chain"`
	TxHash      string             `json:"tx_hash"`
	BlockNumber *uint64            `json:"block_number,omitempty"`
	Status      model.AnchorStatus `json:"status"`
	Timestamp   time.Time          `json:"timestamp"`
	Error       string             `json:"error,omitempty"`
	ExplorerURL string             `json:"explorer_url,omitempty"`
}

// proofResponse is the GET /pohw/proof/{hash} wire body.
type proofResponse struct {
	Hash           string      `json:"hash"`
	BatchID        string      `json:"batch_id,omitempty"`
	InclusionProof interface{} `json:"inclusion_proof,omitempty"`
	Anchors        []anchorRef `json:"anchors"`
}

// batchCreateResponse is the POST /pohw/batch/create wire body.
type batchCreateResponse struct {
	BatchID    string    `json:"batch_id"`
	MerkleRoot string    `json:"merkle_root"`
	Size       int       `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

// anchorResultWire is one chain's outcome in the batch/anchor response.
type anchorResultWire struct {
	Chain       model.Chain        `json:"chain"`
	Status      model.AnchorStatus `json:"status"`
	TxHash      string             `json:"tx_hash,omitempty"`
	Error       string             `json:"error,omitempty"`
	ExplorerURL string             `json:"explorer_url,omitempty"`
}

// batchAnchorResponse is the POST /pohw/batch/anchor/{batch_id} wire body.
type batchAnchorResponse struct {
	BatchID string             `json:"batch_id"`
	Results []anchorResultWire `json:"results"`
}

// statusResponse is the GET /pohw/status wire body.
type statusResponse struct {
	RegistryID        string   `json:"registry_id"`
	TotalProofs       int      `json:"total_proofs"`
	TotalBatches      int      `json:"total_batches"`
	PendingProofCount int      `json:"pending_proof_count"`
	LatestBatchTime   *string  `json:"latest_batch_time,omitempty"`
	ConfiguredChains  []string `json:"configured_chains"`
}

// federationDescriptor is the GET /pohw/verify/index.json wire body — a
// minimal self-description a peer or verifier can fetch without
// authenticating against this node.
type federationDescriptor struct {
	RegistryID string    `json:"registry_id"`
	MerkleRoot string    `json:"merkle_root,omitempty"`
	Height     int       `json:"height"`
	Created    time.Time `json:"created"`
}

// didRegisterRequest is the POST /pohw/did/register wire body.
type didRegisterRequest struct {
	PublicKey string `json:"public_key"`
}

// didRotateRequest is the POST /pohw/did/{id}/rotate wire body.
type didRotateRequest struct {
	OldPrivateKey string `json:"old_private_key"`
	NewPrivateKey string `json:"new_private_key"`
	LastAnchor    string `json:"last_anchor,omitempty"`
}

// identityDocumentWire is the hex-encoded wire form of model.Identity.
type identityDocumentWire struct {
	ID                  string                     `json:"id"`
	Status              model.IdentityStatus       `json:"status"`
	PreviousID          string                     `json:"previous_id,omitempty"`
	VerificationMethods []verificationMethodWire   `json:"verificationMethods"`
}

type verificationMethodWire struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	PublicKey string `json:"publicKey"`
}

// continuityClaimWire is the hex-encoded wire form of model.ContinuityClaim.
type continuityClaimWire struct {
	PreviousID        string    `json:"previous_id"`
	NewID             string    `json:"new_id"`
	ParentReference   string    `json:"parent_reference"`
	LastAnchor        string    `json:"last_anchor,omitempty"`
	OldKeySignature   string    `json:"old_key_signature"`
	NewKeySignature   string    `json:"new_key_signature"`
	RegistryTimestamp time.Time `json:"registry_timestamp"`
}

// issueCredentialRequest is the POST /pohw/attestors/issue wire body.
type issueCredentialRequest struct {
	SubjectID string     `json:"subject_id"`
	IssuerID  string     `json:"issuer_id"`
	Type      string     `json:"type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// revokeCredentialRequest is the POST /pohw/attestors/revoke wire body.
type revokeCredentialRequest struct {
	Hash   string `json:"hash"`
	Reason string `json:"reason,omitempty"`
}

// addPeerRequest is the POST /pohw/sync/peers wire body.
type addPeerRequest struct {
	RegistryID string `json:"registry_id"`
	Endpoint   string `json:"endpoint"`
	Region     string `json:"region,omitempty"`
}

// syncStatusResponse is the GET /pohw/sync/status wire body a peer scrapes.
type syncStatusResponse struct {
	RegistryID string `json:"registry_id"`
	Root       string `json:"root"`
	Height     int    `json:"height"`
}
