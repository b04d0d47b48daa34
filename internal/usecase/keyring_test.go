package usecase

import (
	"bytes"
	"errors"
	"testing"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

func TestBuildKeyring_AddsIssuerAndVerifies(t *testing.T) {
	key := testKey(t)
	ring, err := BuildKeyring(key, "vault-a", nil)
	if err != nil {
		t.Fatalf("build keyring: %v", err)
	}

	if ring.SchemaVersion != domain.KeyringSchemaVersion {
		t.Fatalf("schema version: got %s", ring.SchemaVersion)
	}
	desc, ok := ring.FindKey(key.KeyID)
	if !ok {
		t.Fatal("issuer key missing from keyring")
	}
	if desc.Status != domain.KeyStatusActive || desc.Alg != "ed25519" {
		t.Fatalf("issuer descriptor: %+v", desc)
	}
	if err := VerifyKeyring(ring); err != nil {
		t.Fatalf("verify keyring: %v", err)
	}
}

func TestBuildKeyring_KeepsCallerDescriptors(t *testing.T) {
	key := testKey(t)
	attestor, err := cryptoinfra.KeyPairFromSeed(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("attestor key: %v", err)
	}
	ring, err := BuildKeyring(key, "vault-a", []domain.KeyDescriptor{{
		KeyID:     attestor.KeyID,
		Alg:       "ed25519",
		PublicKey: cryptoinfra.EncodePublicKey(attestor.PublicKey),
		Status:    domain.KeyStatusRetired,
	}})
	if err != nil {
		t.Fatalf("build keyring: %v", err)
	}
	if len(ring.Keys) != 2 {
		t.Fatalf("key count: got %d want 2", len(ring.Keys))
	}
	desc, ok := ring.FindKey(attestor.KeyID)
	if !ok || desc.Status != domain.KeyStatusRetired {
		t.Fatalf("attestor descriptor: found=%v %+v", ok, desc)
	}
}

func TestVerifyKeyring_DetectsMutation(t *testing.T) {
	key := testKey(t)
	ring, err := BuildKeyring(key, "vault-a", nil)
	if err != nil {
		t.Fatalf("build keyring: %v", err)
	}

	mutated := ring
	mutated.Keys = append([]domain.KeyDescriptor(nil), ring.Keys...)
	mutated.Keys[0].Status = domain.KeyStatusRevoked
	if err := VerifyKeyring(mutated); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("mutated key status: %v", err)
	}

	other, err := cryptoinfra.KeyPairFromSeed(bytes.Repeat([]byte{0x07}, 32))
	if err != nil {
		t.Fatalf("other key: %v", err)
	}
	swappedSigner := ring
	swappedSigner.Signer.PublicKey = cryptoinfra.EncodePublicKey(other.PublicKey)
	if err := VerifyKeyring(swappedSigner); !errors.Is(err, domain.ErrSignatureInvalid) {
		t.Fatalf("swapped signer key: %v", err)
	}
}
