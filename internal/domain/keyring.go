package domain

const KeyringSchemaVersion = "custodia.keyring.v1"

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
	KeyStatusRevoked KeyStatus = "revoked"
)

type KeyDescriptor struct {
	KeyID     string    `json:"key_id"`
	Alg       string    `json:"alg"`
	PublicKey string    `json:"public_key"` // base64
	Status    KeyStatus `json:"status"`
	NotBefore string    `json:"not_before,omitempty"`
	NotAfter  *string   `json:"not_after,omitempty"`
}

// Keyring is the set of public keys shipped inside a bundle. The signature
// is produced by the issuer key under the keyring domain separator over the
// canonical keyring with the signature itself omitted.
type Keyring struct {
	SchemaVersion string          `json:"schema_version"`
	VaultID       string          `json:"vault_id"`
	Keys          []KeyDescriptor `json:"keys"`
	Signer        Signer          `json:"signer"`
}

// FindKey returns the descriptor for kid, if present.
func (k Keyring) FindKey(kid string) (KeyDescriptor, bool) {
	for _, key := range k.Keys {
		if key.KeyID == kid {
			return key, true
		}
	}
	return KeyDescriptor{}, false
}
