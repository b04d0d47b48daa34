package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

// Omission paths for the artifact's two self-referential computations.
// policy_hash and the issuer signature cover the same canonical body with
// only each other excluded; attestations are excluded from both so that
// appending one never re-seals the artifact.
var (
	policyHashOmitPaths = []string{"policy_hash", "issuer.signature", "attestations"}
	issuerSigOmitPaths  = []string{"issuer.signature", "attestations"}
)

// Sealer mints and signs policy artifacts with one issuer key.
type Sealer struct {
	Key cryptoinfra.KeyPair
}

func NewSealer(key cryptoinfra.KeyPair) *Sealer {
	return &Sealer{Key: key}
}

// SealInput carries everything the issuer decides about a subject.
type SealInput struct {
	VaultID      string
	ArtifactID   string // optional; generated when empty
	SubjectBytes []byte
	Metadata     any

	IssuedAt  time.Time
	NotBefore time.Time
	NotAfter  *time.Time

	IntegrityPolicy   domain.IntegrityPolicy
	EnforcementPolicy domain.EnforcementPolicy
	KeySchedule       []domain.ScheduledKey

	PreviousArtifactRef *domain.ArtifactRef
}

// Seal assembles, hashes, and signs a policy artifact:
// subject digests → sealed_hash → policy_hash → issuer signature.
func (s *Sealer) Seal(input SealInput) (domain.PolicyArtifact, error) {
	if len(s.Key.PrivateKey) == 0 {
		return domain.PolicyArtifact{}, errors.New("sealer key is required")
	}
	if len(input.SubjectBytes) == 0 {
		return domain.PolicyArtifact{}, fmt.Errorf("%w: subject bytes are required", domain.ErrMalformedInput)
	}
	if err := input.EnforcementPolicy.Validate(); err != nil {
		return domain.PolicyArtifact{}, err
	}

	bytesHash := cryptoinfra.SHA256Hex(input.SubjectBytes)
	metadataCanonical, err := cryptoinfra.Canonicalize(input.Metadata)
	if err != nil {
		return domain.PolicyArtifact{}, fmt.Errorf("canonicalize metadata: %w", err)
	}
	metadataHash := cryptoinfra.SHA256Hex(metadataCanonical)
	sealedHash, err := cryptoinfra.SealedHash(bytesHash, metadataHash)
	if err != nil {
		return domain.PolicyArtifact{}, err
	}

	artifactID := input.ArtifactID
	if artifactID == "" {
		artifactID = uuid.NewString()
	}
	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	notBefore := input.NotBefore
	if notBefore.IsZero() {
		notBefore = issuedAt
	}
	var notAfter *string
	if input.NotAfter != nil {
		formatted := input.NotAfter.UTC().Format(time.RFC3339)
		notAfter = &formatted
	}

	schedule := input.KeySchedule
	if len(schedule) == 0 {
		schedule = []domain.ScheduledKey{{
			KeyID:     s.Key.KeyID,
			PublicKey: cryptoinfra.EncodePublicKey(s.Key.PublicKey),
			Status:    string(domain.KeyStatusActive),
			NotBefore: notBefore.UTC().Format(time.RFC3339),
		}}
	}

	artifact := domain.PolicyArtifact{
		SchemaVersion: domain.ArtifactSchemaVersion,
		VaultID:       input.VaultID,
		ArtifactID:    artifactID,
		IssuedAt:      issuedAt.UTC().Format(time.RFC3339),
		NotBefore:     notBefore.UTC().Format(time.RFC3339),
		NotAfter:      notAfter,
		Issuer: domain.Issuer{
			PublicKey: cryptoinfra.EncodePublicKey(s.Key.PublicKey),
			KeyID:     s.Key.KeyID,
		},
		SubjectIdentifier: domain.SubjectIdentifier{
			BytesHash:    bytesHash,
			MetadataHash: metadataHash,
		},
		SealedHash:          sealedHash,
		IntegrityPolicy:     input.IntegrityPolicy,
		EnforcementPolicy:   input.EnforcementPolicy,
		KeySchedule:         schedule,
		Attestations:        []domain.Attestation{},
		PreviousArtifactRef: input.PreviousArtifactRef,
	}

	policyHash, err := cryptoinfra.HashObject(artifact, policyHashOmitPaths)
	if err != nil {
		return domain.PolicyArtifact{}, err
	}
	artifact.PolicyHash = policyHash

	signature, err := cryptoinfra.SignObject(s.Key.PrivateKey, cryptoinfra.DomainBundle, artifact, issuerSigOmitPaths)
	if err != nil {
		return domain.PolicyArtifact{}, err
	}
	artifact.Issuer.Signature = signature

	return artifact, nil
}

// attestationPayload is the side-signed statement: it binds to the artifact
// by id and policy hash, never to the artifact body.
type attestationPayload struct {
	ArtifactID string `json:"artifact_id"`
	PolicyHash string `json:"policy_hash"`
	Attestor   string `json:"attestor"`
	PublicKey  string `json:"public_key"`
	KeyID      string `json:"key_id"`
	AttestedAt string `json:"attested_at"`
}

// AddAttestation appends a third-party co-signature. The artifact's own
// hash and signature are unaffected.
func AddAttestation(artifact domain.PolicyArtifact, attestor string, key cryptoinfra.KeyPair, attestedAt time.Time) (domain.PolicyArtifact, error) {
	if artifact.PolicyHash == "" {
		return domain.PolicyArtifact{}, fmt.Errorf("%w: artifact is not sealed", domain.ErrMalformedInput)
	}
	payload := attestationPayload{
		ArtifactID: artifact.ArtifactID,
		PolicyHash: artifact.PolicyHash,
		Attestor:   attestor,
		PublicKey:  cryptoinfra.EncodePublicKey(key.PublicKey),
		KeyID:      key.KeyID,
		AttestedAt: attestedAt.UTC().Format(time.RFC3339),
	}
	signature, err := cryptoinfra.SignObject(key.PrivateKey, cryptoinfra.DomainBundle, payload, nil)
	if err != nil {
		return domain.PolicyArtifact{}, err
	}

	attestation := domain.Attestation{
		ArtifactID: payload.ArtifactID,
		PolicyHash: payload.PolicyHash,
		Attestor:   payload.Attestor,
		PublicKey:  payload.PublicKey,
		KeyID:      payload.KeyID,
		AttestedAt: payload.AttestedAt,
		Signature:  signature,
	}
	artifact.Attestations = append(append([]domain.Attestation{}, artifact.Attestations...), attestation)
	return artifact, nil
}

// VerifyAttestation checks one attestation's signature and its binding to
// the given artifact.
func VerifyAttestation(artifact domain.PolicyArtifact, attestation domain.Attestation) error {
	if attestation.ArtifactID != artifact.ArtifactID || attestation.PolicyHash != artifact.PolicyHash {
		return fmt.Errorf("%w: attestation does not reference this artifact", domain.ErrMalformedInput)
	}
	pub, err := cryptoinfra.DecodePublicKey(attestation.PublicKey)
	if err != nil {
		return err
	}
	payload := attestationPayload{
		ArtifactID: attestation.ArtifactID,
		PolicyHash: attestation.PolicyHash,
		Attestor:   attestation.Attestor,
		PublicKey:  attestation.PublicKey,
		KeyID:      attestation.KeyID,
		AttestedAt: attestation.AttestedAt,
	}
	return cryptoinfra.VerifyObject(pub, cryptoinfra.DomainBundle, payload, nil, attestation.Signature)
}
