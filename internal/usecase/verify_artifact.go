package usecase

import (
	"errors"
	"fmt"
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

// ArtifactVerification is a structured result: hard errors imply
// valid=false; warnings (validity-window edges, schedule misses) do not by
// themselves invalidate the artifact. An expired artifact is an error, not a
// warning, when its integrity policy sets expiry_is_fatal.
type ArtifactVerification struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// VerifyArtifact independently recomputes sealed_hash and policy_hash,
// verifies the issuer signature, checks the validity window against now,
// and confirms the issuer key appears in the key schedule. Subject bytes
// are optional; when present the bytes_hash is recomputed too.
func VerifyArtifact(artifact domain.PolicyArtifact, subjectBytes []byte, now time.Time) ArtifactVerification {
	var result ArtifactVerification
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	if subjectBytes != nil {
		if got := cryptoinfra.SHA256Hex(subjectBytes); got != artifact.SubjectIdentifier.BytesHash {
			fail("subject bytes hash mismatch: stored %s recomputed %s",
				artifact.SubjectIdentifier.BytesHash, got)
		}
	}

	sealedHash, err := cryptoinfra.SealedHash(
		artifact.SubjectIdentifier.BytesHash, artifact.SubjectIdentifier.MetadataHash)
	if err != nil {
		fail("sealed hash: %v", err)
	} else if sealedHash != artifact.SealedHash {
		fail("sealed hash mismatch: stored %s recomputed %s", artifact.SealedHash, sealedHash)
	}

	policyHash, err := cryptoinfra.HashObject(artifact, policyHashOmitPaths)
	if err != nil {
		fail("policy hash: %v", err)
	} else if policyHash != artifact.PolicyHash {
		fail("policy hash mismatch: stored %s recomputed %s", artifact.PolicyHash, policyHash)
	}

	pub, err := cryptoinfra.DecodePublicKey(artifact.Issuer.PublicKey)
	if err != nil {
		fail("issuer public key: %v", err)
	} else {
		if kid := cryptoinfra.KeyID(pub); kid != artifact.Issuer.KeyID {
			fail("issuer key_id mismatch: stored %s derived %s", artifact.Issuer.KeyID, kid)
		}
		err := cryptoinfra.VerifyObject(pub, cryptoinfra.DomainBundle, artifact, issuerSigOmitPaths, artifact.Issuer.Signature)
		if errors.Is(err, domain.ErrSignatureInvalid) {
			fail("issuer signature invalid")
		} else if err != nil {
			fail("issuer signature: %v", err)
		}
	}

	if err := artifact.EnforcementPolicy.Validate(); err != nil {
		fail("enforcement policy: %v", err)
	}

	notYetValid, expired, err := artifact.ValidityWindow(now)
	switch {
	case err != nil:
		fail("validity window: %v", err)
	case notYetValid:
		warn("artifact not yet valid at %s", now.UTC().Format(time.RFC3339))
	case expired && artifact.IntegrityPolicy.ExpiryIsFatal:
		fail("artifact expired at %s and expiry is fatal", now.UTC().Format(time.RFC3339))
	case expired:
		warn("artifact expired at %s", now.UTC().Format(time.RFC3339))
	}

	if !artifact.KeyScheduled(artifact.Issuer.KeyID) {
		warn("issuer key %s not present in key schedule", artifact.Issuer.KeyID)
	}

	result.Valid = len(result.Errors) == 0
	return result
}
