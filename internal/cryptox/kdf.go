// Package cryptox implements key derivation and the metadata cipher used to
// keep folder and file names encrypted at rest.
//
// Two token formats are understood, both colon-delimited and hex-encoded:
//
//	nonce(12):tag(16):ciphertext   AES-256-GCM, produced by Encrypt
//	iv(16):ciphertext              AES-256-CBC, legacy, read-only in practice
//
// Anything else is passed through unchanged by Decrypt.
package cryptox

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

// KeySize is the size of every symmetric key handled by this package.
const KeySize = 32

// DeriveKey turns a raw per-user secret into a 32-byte key. The same secret
// always yields the same key; any byte string is valid input.
func DeriveKey(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

// DeriveMasterKey stretches a passphrase with argon2id. It is slow on purpose
// and meant to run once at startup, not per request.
func DeriveMasterKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}
