package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/dmitrijs2005/gophdrive/internal/common"
)

var errBadPadding = errors.New("bad padding")

// EncryptLegacy produces a two-segment AES-256-CBC token. New data is never
// written this way; it exists for fixtures and downgrade tooling.
func EncryptLegacy(plaintext string, key []byte) (string, error) {
	block, err := newCBCBlock(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, legacyIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: generate iv: %v", common.ErrCryptoFailure, err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return join(iv, ct), nil
}

// openCBC has no integrity check. Strict padding plus a UTF-8 check keeps a
// wrong key from being mistaken for a successful decrypt in practice.
func openCBC(p parsedToken, key []byte) ([]byte, error) {
	block, err := newCBCBlock(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(p.ciphertext))
	cipher.NewCBCDecrypter(block, p.nonce).CryptBlocks(out, p.ciphertext)

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(plain) {
		return nil, errBadPadding
	}
	return plain, nil
}

func newCBCBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrCryptoFailure, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", common.ErrCryptoFailure, err)
	}
	return block, nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
