package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"custodia/internal/domain"
)

// Domain separators. Every signature in the system covers
// UTF8(separator) || UTF8(hashHex), never the raw payload, so a signature
// minted for one protocol surface can never be replayed on another. These
// constants are wire contract; changing one silently invalidates every
// signature ever produced under it.
const (
	DomainBundle  = "ai.bundle.v1:"
	DomainRelease = "ai.release.v1:"
	DomainKeyring = "ai.keyring.v1:"
	DomainSubject = "ai.subject.v1:"
)

const hashHexLen = 2 * sha256.Size

func SHA256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

func SHA256StringHex(input string) string {
	return SHA256Hex([]byte(input))
}

// KeyPair holds a generated or imported Ed25519 key. Seed is the 32-byte
// private seed; PrivateKey is the expanded form ed25519 operates on.
type KeyPair struct {
	Seed       []byte
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	KeyID      string
}

// GenerateKeyPair produces a fresh Ed25519 key pair.
// key_id is the first 16 hex chars of sha256(publicKey).
func GenerateKeyPair() (KeyPair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", domain.ErrCryptoProvider, err)
	}
	return KeyPairFromSeed(seed)
}

// KeyPairFromSeed derives the full key pair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("%w: seed must be %d bytes, got %d",
			domain.ErrMalformedInput, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return KeyPair{
		Seed:       append([]byte(nil), seed...),
		PrivateKey: priv,
		PublicKey:  pub,
		KeyID:      KeyID(pub),
	}, nil
}

// KeyID derives the short key identifier for a public key.
func KeyID(pub ed25519.PublicKey) string {
	return SHA256Hex(pub)[:16]
}

// Sign signs a sha256 hex digest under a domain separator. The signed bytes
// are the separator concatenated with the digest's hex text.
func Sign(priv ed25519.PrivateKey, domainSep string, dataHashHex string) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("%w: invalid ed25519 private key length: %d",
			domain.ErrMalformedInput, len(priv))
	}
	if err := validateHashHex(dataHashHex); err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, []byte(domainSep+dataHashHex))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a signature produced by Sign under the same separator.
func Verify(pub ed25519.PublicKey, domainSep string, dataHashHex string, signatureB64 string) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: invalid ed25519 public key length: %d",
			domain.ErrMalformedInput, len(pub))
	}
	if err := validateHashHex(dataHashHex); err != nil {
		return err
	}
	if signatureB64 == "" {
		return fmt.Errorf("%w: signature value is required", domain.ErrMalformedInput)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding", domain.ErrMalformedInput)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: invalid ed25519 signature length: %d",
			domain.ErrMalformedInput, len(sig))
	}
	if !ed25519.Verify(pub, []byte(domainSep+dataHashHex), sig) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// SignObject canonicalizes v with omitPaths removed, hashes the canonical
// bytes, and signs the digest under domainSep.
func SignObject(priv ed25519.PrivateKey, domainSep string, v any, omitPaths []string) (string, error) {
	hashHex, err := HashObject(v, omitPaths)
	if err != nil {
		return "", err
	}
	return Sign(priv, domainSep, hashHex)
}

// VerifyObject recomputes the canonical digest of v (with omitPaths removed)
// and verifies the signature over it.
func VerifyObject(pub ed25519.PublicKey, domainSep string, v any, omitPaths []string, signatureB64 string) error {
	hashHex, err := HashObject(v, omitPaths)
	if err != nil {
		return err
	}
	return Verify(pub, domainSep, hashHex, signatureB64)
}

// HashObject is the canonicalize-with-omission, then sha256 half of
// SignObject, exposed for content-hash fields like receipt_id.
func HashObject(v any, omitPaths []string) (string, error) {
	canonical, err := CanonicalizeOmitting(v, omitPaths)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// SealedHash combines the two subject digests under the subject domain
// separator into the artifact's single sealed commitment.
func SealedHash(bytesHash, metadataHash string) (string, error) {
	if err := validateHashHex(bytesHash); err != nil {
		return "", err
	}
	if err := validateHashHex(metadataHash); err != nil {
		return "", err
	}
	return SHA256StringHex(DomainSubject + bytesHash + metadataHash), nil
}

func validateHashHex(hashHex string) error {
	if len(hashHex) != hashHexLen {
		return fmt.Errorf("%w: hash must be %d hex chars, got %d",
			domain.ErrMalformedInput, hashHexLen, len(hashHex))
	}
	if _, err := hex.DecodeString(hashHex); err != nil {
		return fmt.Errorf("%w: hash is not hex", domain.ErrMalformedInput)
	}
	return nil
}

// DecodePublicKey decodes the base64 public key carried in signer and
// issuer blocks.
func DecodePublicKey(publicKeyB64 string) (ed25519.PublicKey, error) {
	if publicKeyB64 == "" {
		return nil, errors.New("public key is required")
	}
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key encoding", domain.ErrMalformedInput)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: invalid ed25519 public key length: %d",
			domain.ErrMalformedInput, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}
