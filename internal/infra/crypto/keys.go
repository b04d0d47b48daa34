package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"custodia/internal/domain"
)

// ImportPrivateKey accepts any of the supported private key encodings and
// normalizes to a 32-byte Ed25519 seed:
//
//   - PEM (PKCS#8 "PRIVATE KEY" block)
//   - raw hex (32-byte seed or 64-byte expanded key)
//   - base64 / base64url (same lengths)
func ImportPrivateKey(input string) (KeyPair, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return KeyPair{}, fmt.Errorf("%w: empty private key", domain.ErrMalformedInput)
	}

	if strings.Contains(input, "-----BEGIN") {
		return importPEM(input)
	}
	if raw, err := hex.DecodeString(input); err == nil {
		return keyPairFromRaw(raw)
	}
	if raw, err := base64.StdEncoding.DecodeString(input); err == nil {
		return keyPairFromRaw(raw)
	}
	if raw, err := base64.URLEncoding.DecodeString(input); err == nil {
		return keyPairFromRaw(raw)
	}
	if raw, err := base64.RawURLEncoding.DecodeString(input); err == nil {
		return keyPairFromRaw(raw)
	}
	return KeyPair{}, fmt.Errorf("%w: unrecognized private key encoding", domain.ErrMalformedInput)
}

func importPEM(input string) (KeyPair, error) {
	block, _ := pem.Decode([]byte(input))
	if block == nil {
		return KeyPair{}, fmt.Errorf("%w: invalid PEM", domain.ErrMalformedInput)
	}
	if block.Type != "PRIVATE KEY" {
		return KeyPair{}, fmt.Errorf("%w: unsupported PEM block %q", domain.ErrMalformedInput, block.Type)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: parse PKCS#8: %v", domain.ErrMalformedInput, err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return KeyPair{}, fmt.Errorf("%w: PEM key is not ed25519", domain.ErrMalformedInput)
	}
	return KeyPairFromSeed(priv.Seed())
}

func keyPairFromRaw(raw []byte) (KeyPair, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return KeyPairFromSeed(raw)
	case ed25519.PrivateKeySize:
		return KeyPairFromSeed(ed25519.PrivateKey(raw).Seed())
	default:
		return KeyPair{}, fmt.Errorf("%w: private key must be %d or %d bytes, got %d",
			domain.ErrMalformedInput, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// ExportPrivateKeyPEM renders the key pair's seed as a PKCS#8 PEM block.
func ExportPrivateKeyPEM(pair KeyPair) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(pair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCryptoProvider, err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return string(out), nil
}
