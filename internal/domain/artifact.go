package domain

import "time"

const ArtifactSchemaVersion = "custodia.artifact.v1"

// Issuer identifies the key that sealed an artifact and carries its
// signature over the canonical artifact body.
type Issuer struct {
	PublicKey string `json:"public_key"` // base64 ed25519 public key
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"` // base64 ed25519 signature
}

// SubjectIdentifier commits to a subject twice: once over its raw bytes and
// once over its canonicalized metadata. Both are independent sha256 hex
// digests.
type SubjectIdentifier struct {
	BytesHash    string `json:"bytes_hash"`
	MetadataHash string `json:"metadata_hash"`
}

type ScheduledKey struct {
	KeyID     string  `json:"key_id"`
	PublicKey string  `json:"public_key"`
	Status    string  `json:"status"`
	NotBefore string  `json:"not_before"`
	NotAfter  *string `json:"not_after"`
}

// Attestation is a third-party co-signature over an already sealed artifact.
// It is signed over artifact_id + policy_hash + the attestor fields only,
// never over the artifact body, so appending one never re-seals anything.
type Attestation struct {
	ArtifactID string `json:"artifact_id"`
	PolicyHash string `json:"policy_hash"`
	Attestor   string `json:"attestor"`
	PublicKey  string `json:"public_key"`
	KeyID      string `json:"key_id"`
	AttestedAt string `json:"attested_at"`
	Signature  string `json:"signature"`
}

type ArtifactRef struct {
	ArtifactID string `json:"artifact_id"`
	PolicyHash string `json:"policy_hash"`
}

// PolicyArtifact is the sealed root trust object. It is immutable once
// sealed except for the append-only attestations list, which is excluded
// from both policy_hash and the issuer signature.
//
// Timestamps are RFC 3339 strings rather than time.Time so the canonical
// form is byte-stable across encoders.
type PolicyArtifact struct {
	SchemaVersion string `json:"schema_version"`
	VaultID       string `json:"vault_id"`
	ArtifactID    string `json:"artifact_id"`

	IssuedAt  string  `json:"issued_at"`
	NotBefore string  `json:"not_before"`
	NotAfter  *string `json:"not_after"` // null = never expires

	Issuer            Issuer            `json:"issuer"`
	SubjectIdentifier SubjectIdentifier `json:"subject_identifier"`
	SealedHash        string            `json:"sealed_hash"`

	IntegrityPolicy   IntegrityPolicy   `json:"integrity_policy"`
	EnforcementPolicy EnforcementPolicy `json:"enforcement_policy"`
	KeySchedule       []ScheduledKey    `json:"key_schedule"`

	PolicyHash   string        `json:"policy_hash"`
	Attestations []Attestation `json:"attestations"`

	PreviousArtifactRef *ArtifactRef `json:"previous_artifact_ref,omitempty"`
}

// ValidityWindow reports where now falls relative to [not_before, not_after].
// A missing not_after means the artifact never expires.
func (a PolicyArtifact) ValidityWindow(now time.Time) (notYetValid bool, expired bool, err error) {
	notBefore, err := time.Parse(time.RFC3339, a.NotBefore)
	if err != nil {
		return false, false, err
	}
	if now.Before(notBefore) {
		notYetValid = true
	}
	if a.NotAfter != nil {
		notAfter, err := time.Parse(time.RFC3339, *a.NotAfter)
		if err != nil {
			return notYetValid, false, err
		}
		if now.After(notAfter) {
			expired = true
		}
	}
	return notYetValid, expired, nil
}

// KeyScheduled reports whether kid appears in the artifact's key schedule.
func (a PolicyArtifact) KeyScheduled(kid string) bool {
	for _, key := range a.KeySchedule {
		if key.KeyID == kid {
			return true
		}
	}
	return false
}
