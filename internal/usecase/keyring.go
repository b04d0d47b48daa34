package usecase

import (
	"fmt"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

var keyringSigOmitPaths = []string{"signer.signature"}

// BuildKeyring assembles and signs the public keyring that ships inside a
// bundle. Callers pass every key an offline verifier may need; the issuer
// key is added automatically if missing.
func BuildKeyring(key cryptoinfra.KeyPair, vaultID string, keys []domain.KeyDescriptor) (domain.Keyring, error) {
	issuerPresent := false
	for _, desc := range keys {
		if desc.KeyID == key.KeyID {
			issuerPresent = true
			break
		}
	}
	if !issuerPresent {
		keys = append(keys, domain.KeyDescriptor{
			KeyID:     key.KeyID,
			Alg:       "ed25519",
			PublicKey: cryptoinfra.EncodePublicKey(key.PublicKey),
			Status:    domain.KeyStatusActive,
		})
	}

	ring := domain.Keyring{
		SchemaVersion: domain.KeyringSchemaVersion,
		VaultID:       vaultID,
		Keys:          keys,
		Signer: domain.Signer{
			PublicKey: cryptoinfra.EncodePublicKey(key.PublicKey),
			KeyID:     key.KeyID,
		},
	}
	sig, err := cryptoinfra.SignObject(key.PrivateKey, cryptoinfra.DomainKeyring, ring, keyringSigOmitPaths)
	if err != nil {
		return domain.Keyring{}, err
	}
	ring.Signer.Signature = sig
	return ring, nil
}

// VerifyKeyring checks the keyring's self-signature and that the signer's
// key_id matches its public key.
func VerifyKeyring(ring domain.Keyring) error {
	pub, err := cryptoinfra.DecodePublicKey(ring.Signer.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: keyring signer public key: %v", domain.ErrMalformedInput, err)
	}
	if cryptoinfra.KeyID(pub) != ring.Signer.KeyID {
		return fmt.Errorf("%w: keyring signer key_id does not match public key", domain.ErrSignatureInvalid)
	}
	if err := cryptoinfra.VerifyObject(pub, cryptoinfra.DomainKeyring, ring, keyringSigOmitPaths, ring.Signer.Signature); err != nil {
		return fmt.Errorf("keyring signature: %w", err)
	}
	return nil
}
