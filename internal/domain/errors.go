package domain

import "errors"

var (
	// ErrMalformedInput covers structurally invalid inputs (wrong hash
	// length, bad key length, unknown enum values). Rejected before any
	// crypto work is attempted.
	ErrMalformedInput = errors.New("malformed input")

	// ErrHashMismatch means a recomputed content hash diverged from the
	// stored one.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrSignatureInvalid means an Ed25519 verification failed.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrDecryptionFailed means an encrypted key blob could not be opened:
	// wrong passphrase or tampered ciphertext. AEAD cannot tell the two
	// apart, so neither can callers.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrChainBreak means a sequence gap or prev-hash mismatch. The chain
	// cannot be trusted from that receipt forward; verification still
	// continues so every break is enumerated.
	ErrChainBreak = errors.New("chain break")

	ErrReceiptIDMismatch = errors.New("receipt id mismatch")

	ErrExpired     = errors.New("artifact expired")
	ErrNotYetValid = errors.New("artifact not yet valid")

	// ErrCryptoProvider wraps failures of the underlying hash/sign
	// primitives. Propagated, never masked or retried.
	ErrCryptoProvider = errors.New("crypto provider error")

	ErrNotFound = errors.New("not found")
)
