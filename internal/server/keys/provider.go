// Package keys turns a user's stored session secret into the key material
// that protects folder and file names.
//
// Two keys exist per user. The canonical key is derived from the decrypted
// session secret. The legacy key is derived from the secret's stored token,
// which is how older rows were written; it is only ever used to read.
package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/users"
)

// Secrets holds both representations of one user's session secret.
type Secrets struct {
	// Raw is the decrypted secret.
	Raw []byte
	// Record is the secret as stored in the users table.
	Record []byte
}

// Wipe zeroes both buffers.
func (s *Secrets) Wipe() {
	if s == nil {
		return
	}
	common.WipeByteArray(s.Raw)
	common.WipeByteArray(s.Record)
}

// SessionKeyProvider supplies the per-user secret that seeds name keys.
type SessionKeyProvider interface {
	Secrets(ctx context.Context, ownerID string) (*Secrets, error)
}

// ServerKey derives the key that encrypts session secrets at rest.
func ServerKey(sessionKey, sessionSalt string) []byte {
	return cryptox.DeriveMasterKey([]byte(sessionKey), []byte(sessionSalt))
}

// UserSessionProvider reads session secrets from the users table and
// decrypts them with the server key.
type UserSessionProvider struct {
	users     users.Repository
	serverKey []byte
}

func NewUserSessionProvider(repo users.Repository, serverKey []byte) *UserSessionProvider {
	return &UserSessionProvider{users: repo, serverKey: serverKey}
}

// Secrets loads the owner's row once and returns both forms of its secret.
// A stored value that is not a token at all predates session encryption and
// is used as is.
func (p *UserSessionProvider) Secrets(ctx context.Context, ownerID string) (*Secrets, error) {
	user, err := p.users.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("load session secret: %w", err)
	}

	stored := user.SessionSecret
	res := cryptox.Open(stored, p.serverKey)
	switch {
	case res.Ok():
	case cryptox.LooksEncrypted(stored):
		return nil, fmt.Errorf("%w: session secret of user %s does not open with the server key", common.ErrCryptoFailure, ownerID)
	}

	return &Secrets{Raw: []byte(res.Text), Record: []byte(stored)}, nil
}

// SealSessionSecret encrypts a fresh session secret for storage.
func SealSessionSecret(raw string, serverKey []byte) (string, error) {
	return cryptox.Encrypt(raw, serverKey)
}
