package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
)

// Outcome tells whether Open actually decrypted a token.
type Outcome int

const (
	// PassThrough means Text is the input, untouched: not a token, wrong key,
	// failed authentication or bad padding.
	PassThrough Outcome = iota
	// Decrypted means Text is the recovered plaintext.
	Decrypted
)

// Result is the tagged outcome of Open.
type Result struct {
	Text    string
	Outcome Outcome
	Format  Format
}

// Ok reports whether the token was decrypted.
func (r Result) Ok() bool {
	return r.Outcome == Decrypted
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrCryptoFailure, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", common.ErrCryptoFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", common.ErrCryptoFailure, err)
	}
	return aead, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns a nonce:tag:ciphertext token.
func Encrypt(plaintext string, key []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", common.ErrCryptoFailure, err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return join(nonce, tag, ct), nil
}

// Open decrypts token under key. It never fails: anything that cannot be
// decrypted comes back as a PassThrough result carrying the input.
func Open(token string, key []byte) Result {
	pass := Result{Text: token, Outcome: PassThrough}

	p, ok := parse(token)
	if !ok {
		return pass
	}
	pass.Format = p.format

	var (
		plain []byte
		err   error
	)
	switch p.format {
	case FormatGCM:
		plain, err = openGCM(p, key)
	case FormatLegacyCBC:
		plain, err = openCBC(p, key)
	}
	if err != nil {
		return pass
	}

	return Result{Text: string(plain), Outcome: Decrypted, Format: p.format}
}

// Decrypt returns the plaintext of token, or token itself when it does not
// decrypt under key.
func Decrypt(token string, key []byte) string {
	return Open(token, key).Text
}

func openGCM(p parsedToken, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(p.ciphertext)+len(p.tag))
	sealed = append(sealed, p.ciphertext...)
	sealed = append(sealed, p.tag...)
	return aead.Open(nil, p.nonce, sealed, nil)
}
