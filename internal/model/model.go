// Package model defines the registry node's persistent entities (§3),
// shaped the way the teacher models its domain entities (plain structs with
// JSON tags, nested fields marshaled as JSON columns by the Store — see
// domain/gasbank/model.go).
package model

import "time"

// Tier is the coarse trust label derived from credentials and assistance
// profile (§4.3).
type Tier string

const (
	TierGrey   Tier = "grey"
	TierBlue   Tier = "blue"
	TierGreen  Tier = "green"
	TierPurple Tier = "purple"
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// AssistanceProfile labels the degree of AI involvement in a piece of work.
type AssistanceProfile string

const (
	AssistanceHumanOnly   AssistanceProfile = "human-only"
	AssistanceAIAssisted  AssistanceProfile = "AI-assisted"
	AssistanceAIGenerated AssistanceProfile = "AI-generated"
)

// DeclaresAI reports whether the profile indicates any AI involvement,
// which the tiering policy (§4.3) treats as disqualifying for blue/green.
func (a AssistanceProfile) DeclaresAI() bool {
	return a == AssistanceAIAssisted || a == AssistanceAIGenerated
}

// SourceType distinguishes the kind of reference a DerivedFromEntry points to.
type SourceType string

const (
	SourceTypePoHWHash SourceType = "pohw-hash"
	SourceTypeURL      SourceType = "url"
	SourceTypeDOI      SourceType = "doi"
)

// Position marks a span within the authored content a DerivedFromEntry covers.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DerivedFromEntry is the structured form of a derivedFrom reference; a flat
// list of opaque strings is the alternative form of the same tagged union
// (§9 "Strings-as-JSON for structured fields").
type DerivedFromEntry struct {
	Text       string     `json:"text,omitempty"`
	Source     string     `json:"source"`
	SourceType SourceType `json:"sourceType,omitempty"`
	Position   *Position  `json:"position,omitempty"`
}

// DerivedFrom is a tagged union: either a flat list of source identifiers or
// a list of structured DerivedFromEntry values. Exactly one of the two
// fields is populated on any given Proof.
type DerivedFrom struct {
	Flat       []string           `json:"flat,omitempty"`
	Structured []DerivedFromEntry `json:"structured,omitempty"`
}

// IsEmpty reports whether neither form carries any entries.
func (d *DerivedFrom) IsEmpty() bool {
	return d == nil || (len(d.Flat) == 0 && len(d.Structured) == 0)
}

// Proof is a signed attestation that an identity authored a piece of content
// identified by Hash (§3 Proof).
type Proof struct {
	Hash              string            `json:"hash"`
	Signature         string            `json:"signature"`
	IdentityID        string            `json:"identity_id"`
	ClientTimestamp   time.Time         `json:"client_timestamp"`
	ServerTimestamp   time.Time         `json:"server_timestamp"`
	ProcessDigest     string            `json:"processDigest,omitempty"`
	CompoundHash      string            `json:"compoundHash,omitempty"`
	ProcessMetrics    map[string]any    `json:"processMetrics,omitempty"`
	DerivedFrom       *DerivedFrom      `json:"derivedFrom,omitempty"`
	Tier              Tier              `json:"tier"`
	AssistanceProfile AssistanceProfile `json:"assistanceProfile"`
	BatchID           string            `json:"batch_id,omitempty"`
	LeafIndex         int               `json:"leaf_index,omitempty"`
	SourceRegistry    string            `json:"source_registry,omitempty"`
}

// AnchorStatus is the lifecycle state of an Anchor (§3 Anchor).
type AnchorStatus string

const (
	AnchorPending   AnchorStatus = "pending"
	AnchorConfirmed AnchorStatus = "confirmed"
	AnchorFailed    AnchorStatus = "failed"
)

// Chain identifies a configured anchoring target (§4.7).
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
)

// Anchor is an on-chain transaction committing a batch root (§3 Anchor).
type Anchor struct {
	BatchID     string       `json:"batch_id"`
	Chain       Chain        `json:"chain"`
	TxHash      string       `json:"tx_hash"`
	BlockNumber *uint64      `json:"block_number,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Status      AnchorStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
}

// Batch is an ordered, sealed set of proof hashes with its Merkle root
// (§3 Batch).
type Batch struct {
	BatchID    string    `json:"batch_id"`
	MerkleRoot string    `json:"merkle_root"`
	Size       int       `json:"size"`
	Leaves     []string  `json:"leaves"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdentityStatus is the lifecycle state of an Identity (§3 Identity).
type IdentityStatus string

const (
	IdentityActive  IdentityStatus = "active"
	IdentityRotated IdentityStatus = "rotated"
	IdentityRevoked IdentityStatus = "revoked"
)

// VerificationMethod is one public key entry in an Identity's document.
type VerificationMethod struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	PublicKey []byte `json:"publicKey"`
}

// IdentityDocument is the resolvable document behind a decentralized
// identifier (§3 Identity, GLOSSARY "Decentralized identifier").
type IdentityDocument struct {
	VerificationMethods []VerificationMethod `json:"verificationMethods"`
	CreatedAt           time.Time            `json:"created_at"`
}

// Identity is a decentralized identifier and its lifecycle state
// (§3 Identity).
type Identity struct {
	ID         string           `json:"id"`
	Document   IdentityDocument `json:"document"`
	Status     IdentityStatus   `json:"status"`
	PreviousID string           `json:"previous_id,omitempty"`
}

// ContinuityClaim binds a key rotation with bilateral signatures (§3
// ContinuityClaim, §4.2 rotate).
type ContinuityClaim struct {
	PreviousID       string    `json:"previous_id"`
	NewID            string    `json:"new_id"`
	ParentReference  string    `json:"parent_reference"`
	LastAnchor       string    `json:"last_anchor,omitempty"`
	OldKeySignature  []byte    `json:"old_key_signature"`
	NewKeySignature  []byte    `json:"new_key_signature"`
	RegistryTimestamp time.Time `json:"registry_timestamp"`
}

// Credential is a human-verification credential issued by an approved
// attestor (§3 Credential).
type Credential struct {
	Hash      string     `json:"hash"`
	SubjectID string     `json:"subject_id"`
	IssuerID  string     `json:"issuer_id"`
	Type      string     `json:"type"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Valid reports whether the credential currently counts toward tiering
// (§3 Credential invariant).
func (c *Credential) Valid(now time.Time) bool {
	if c.Revoked {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// Reputation tracks an identity's behavioral score and rate-limit state
// (§3 Reputation, §4.4).
type Reputation struct {
	IdentityID    string    `json:"identity_id"`
	Score         float64   `json:"score"`
	Tier          Tier      `json:"tier"`
	SuccessCount  int64     `json:"success_count"`
	FailureCount  int64     `json:"failure_count"`
	LastActivity  time.Time `json:"last_activity"`
	AnomalyLog    []string  `json:"anomaly_log,omitempty"`
}

// Peer is a federated registry this node exchanges records with (§3 Peer).
type Peer struct {
	RegistryID string     `json:"registry_id"`
	Endpoint   string     `json:"endpoint"`
	Region     string     `json:"region,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	LastRoot   string      `json:"last_root,omitempty"`
}
