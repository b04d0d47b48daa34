// Package soft is a software key manager: issuer private keys held in
// process memory, loaded from config or from a passphrase-encrypted file on
// disk. It is the default backend; an HSM-backed manager would implement the
// same surface.
package soft

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"custodia/internal/config"
	cryptoinfra "custodia/internal/infra/crypto"
)

type Manager struct {
	mu   sync.Mutex
	keys map[string]cryptoinfra.KeyPair
}

func NewManager() *Manager {
	return &Manager{keys: make(map[string]cryptoinfra.KeyPair)}
}

// NewManagerFromConfig resolves the issuer key from config, in precedence
// order: encrypted key file, hex seed, base64 key material.
func NewManagerFromConfig(cfg config.Config) (*Manager, cryptoinfra.KeyPair, error) {
	m := NewManager()
	var pair cryptoinfra.KeyPair
	var err error
	switch {
	case cfg.IssuerKeyFile != "":
		pair, err = LoadEncryptedKeyFile(cfg.IssuerKeyFile, cfg.IssuerKeyPassphrase)
	case cfg.IssuerPrivateKeySeedHex != "":
		pair, err = cryptoinfra.ImportPrivateKey(cfg.IssuerPrivateKeySeedHex)
	case cfg.IssuerPrivateKeyBase64 != "":
		pair, err = cryptoinfra.ImportPrivateKey(cfg.IssuerPrivateKeyBase64)
	default:
		return nil, cryptoinfra.KeyPair{}, errors.New("no issuer key configured")
	}
	if err != nil {
		return nil, cryptoinfra.KeyPair{}, fmt.Errorf("load issuer key: %w", err)
	}
	m.Put(pair)
	return m, pair, nil
}

func (m *Manager) Put(pair cryptoinfra.KeyPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[pair.KeyID] = pair
}

func (m *Manager) Get(keyID string) (cryptoinfra.KeyPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, ok := m.keys[keyID]
	return pair, ok
}

func (m *Manager) Delete(keyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, keyID)
}

// SaveEncryptedKeyFile writes the pair's seed as a passphrase-encrypted blob.
// The file is created with owner-only permissions.
func SaveEncryptedKeyFile(path string, pair cryptoinfra.KeyPair, passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase is required")
	}
	enc, err := cryptoinfra.EncryptPrivateKey(pair.Seed, passphrase, cryptoinfra.DefaultKDFIterations)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(enc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func LoadEncryptedKeyFile(path, passphrase string) (cryptoinfra.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cryptoinfra.KeyPair{}, err
	}
	var enc cryptoinfra.EncryptedKey
	if err := json.Unmarshal(raw, &enc); err != nil {
		return cryptoinfra.KeyPair{}, fmt.Errorf("decode key file %s: %w", path, err)
	}
	seed, err := cryptoinfra.DecryptPrivateKey(enc, passphrase)
	if err != nil {
		return cryptoinfra.KeyPair{}, err
	}
	return cryptoinfra.KeyPairFromSeed(seed)
}

// Sign signs raw bytes with a managed key. Most callers go through the
// domain-separated helpers in the crypto package instead; this exists for
// anchoring backends that need detached signatures.
func (m *Manager) Sign(keyID string, payload []byte) ([]byte, error) {
	pair, ok := m.Get(keyID)
	if !ok {
		return nil, fmt.Errorf("private key %s not found", keyID)
	}
	if len(pair.PrivateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("malformed private key")
	}
	return ed25519.Sign(pair.PrivateKey, payload), nil
}
