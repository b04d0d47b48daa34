package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"custodia/internal/domain"
)

const (
	encryptionAlgorithm = "pbkdf2-sha256+aes-256-gcm"
	encryptionSaltSize  = 16
	encryptionNonceSize = 12
	encryptionKeySize   = 32
)

// DefaultKDFIterations is the PBKDF2 iteration count used when the caller
// does not pick one.
const DefaultKDFIterations = 600_000

// EncryptedKey is a private key encrypted at rest. Every parameter needed to
// decrypt travels inside the blob so decryption never depends on external
// configuration.
type EncryptedKey struct {
	Algorithm  string `json:"algorithm"`
	Salt       string `json:"salt"`  // base64
	Nonce      string `json:"nonce"` // base64
	Iterations int    `json:"iterations"`
	Ciphertext string `json:"ciphertext"` // base64, seed + GCM tag
}

// EncryptPrivateKey seals an Ed25519 seed under a password.
func EncryptPrivateKey(seed []byte, password string, iterations int) (EncryptedKey, error) {
	if len(seed) == 0 {
		return EncryptedKey{}, fmt.Errorf("%w: empty seed", domain.ErrMalformedInput)
	}
	if password == "" {
		return EncryptedKey{}, fmt.Errorf("%w: empty password", domain.ErrMalformedInput)
	}
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}

	salt := make([]byte, encryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return EncryptedKey{}, fmt.Errorf("%w: %v", domain.ErrCryptoProvider, err)
	}
	nonce := make([]byte, encryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedKey{}, fmt.Errorf("%w: %v", domain.ErrCryptoProvider, err)
	}

	gcm, err := deriveGCM(password, salt, iterations)
	if err != nil {
		return EncryptedKey{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, seed, nil)

	return EncryptedKey{
		Algorithm:  encryptionAlgorithm,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Iterations: iterations,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// DecryptPrivateKey reverses EncryptPrivateKey using only the blob's own
// parameters.
func DecryptPrivateKey(enc EncryptedKey, password string) ([]byte, error) {
	if enc.Algorithm != encryptionAlgorithm {
		return nil, fmt.Errorf("%w: unsupported encryption algorithm %q",
			domain.ErrMalformedInput, enc.Algorithm)
	}
	salt, err := base64.StdEncoding.DecodeString(enc.Salt)
	if err != nil || len(salt) != encryptionSaltSize {
		return nil, fmt.Errorf("%w: invalid salt", domain.ErrMalformedInput)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil || len(nonce) != encryptionNonceSize {
		return nil, fmt.Errorf("%w: invalid nonce", domain.ErrMalformedInput)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext", domain.ErrMalformedInput)
	}
	if enc.Iterations <= 0 {
		return nil, fmt.Errorf("%w: invalid iteration count", domain.ErrMalformedInput)
	}

	gcm, err := deriveGCM(password, salt, enc.Iterations)
	if err != nil {
		return nil, err
	}
	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", domain.ErrDecryptionFailed)
	}
	return seed, nil
}

func deriveGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, encryptionKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCryptoProvider, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCryptoProvider, err)
	}
	return gcm, nil
}
