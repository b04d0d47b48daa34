// Package seal is the embedder-facing client library: seal a subject into a
// policy artifact, record a run's receipts locally, and export a portable
// evidence bundle, all without a running service.
package seal

import (
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
	"custodia/internal/usecase"
)

// Client wraps one issuer key.
type Client struct {
	key cryptoinfra.KeyPair
}

func NewClient(key cryptoinfra.KeyPair) *Client {
	return &Client{key: key}
}

// NewClientFromKey accepts a PEM, hex, or base64 encoded ed25519 private
// key or 32-byte seed.
func NewClientFromKey(encoded string) (*Client, error) {
	pair, err := cryptoinfra.ImportPrivateKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewClient(pair), nil
}

func (c *Client) KeyID() string {
	return c.key.KeyID
}

func (c *Client) PublicKey() string {
	return cryptoinfra.EncodePublicKey(c.key.PublicKey)
}

// SealOptions is the embedder's view of a seal request.
type SealOptions struct {
	VaultID    string
	ArtifactID string
	Metadata   any

	NotBefore time.Time
	NotAfter  *time.Time

	IntegrityPolicy   domain.IntegrityPolicy
	EnforcementPolicy domain.EnforcementPolicy
	KeySchedule       []domain.ScheduledKey

	PreviousArtifactRef *domain.ArtifactRef
}

// Seal produces a sealed policy artifact over the subject bytes.
func (c *Client) Seal(subject []byte, opts SealOptions) (domain.PolicyArtifact, error) {
	return usecase.NewSealer(c.key).Seal(usecase.SealInput{
		VaultID:             opts.VaultID,
		ArtifactID:          opts.ArtifactID,
		SubjectBytes:        subject,
		Metadata:            opts.Metadata,
		NotBefore:           opts.NotBefore,
		NotAfter:            opts.NotAfter,
		IntegrityPolicy:     opts.IntegrityPolicy,
		EnforcementPolicy:   opts.EnforcementPolicy,
		KeySchedule:         opts.KeySchedule,
		PreviousArtifactRef: opts.PreviousArtifactRef,
	})
}

// Verify checks a sealed artifact offline. Pass the subject bytes to also
// check the seal against the actual content, or nil to skip that.
func Verify(artifact domain.PolicyArtifact, subject []byte) usecase.ArtifactVerification {
	return usecase.VerifyArtifact(artifact, subject, time.Now().UTC())
}

// Attest appends a third-party co-signature to an already sealed artifact.
func Attest(artifact domain.PolicyArtifact, attestor string, key cryptoinfra.KeyPair) (domain.PolicyArtifact, error) {
	return usecase.AddAttestation(artifact, attestor, key, time.Now().UTC())
}
