package keys

import (
	"bytes"
	"context"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
)

// Source says which path produced a name.
type Source int

const (
	// SourcePlaintext: nothing decrypted the value, it is taken verbatim.
	SourcePlaintext Source = iota
	SourceCanonical
	SourceLegacy
)

func (s Source) String() string {
	switch s {
	case SourceCanonical:
		return "canonical"
	case SourceLegacy:
		return "legacy"
	default:
		return "plaintext"
	}
}

// Name is a resolved stored name.
type Name struct {
	Text   string
	Source Source
	Format cryptox.Format
	// Ambiguous marks a CBC token that opens under both keys with different
	// text. CBC has no tag, so the canonical reading may be noise.
	Ambiguous bool
}

var openToken = cryptox.Open

// Current reports whether the stored value already is a GCM token under the
// canonical key.
func (n Name) Current() bool {
	return n.Source == SourceCanonical && n.Format == cryptox.FormatGCM
}

// KeyRing carries one owner's canonical and legacy keys for the duration of
// a single operation.
type KeyRing struct {
	canonical []byte
	legacy    []byte
}

// NewKeyRing derives both keys from s. s may be wiped afterwards.
func NewKeyRing(s *Secrets) *KeyRing {
	return &KeyRing{
		canonical: cryptox.DeriveKey(s.Raw),
		legacy:    cryptox.DeriveKey(s.Record),
	}
}

// Resolve tries the canonical key, then the legacy key. If neither opens
// the value it is treated as a plaintext name.
func (k *KeyRing) Resolve(stored string) Name {
	distinct := !bytes.Equal(k.canonical, k.legacy)
	if res := openToken(stored, k.canonical); res.Ok() {
		name := Name{Text: res.Text, Source: SourceCanonical, Format: res.Format}
		if distinct && res.Format == cryptox.FormatLegacyCBC {
			if alt := openToken(stored, k.legacy); alt.Ok() && alt.Text != res.Text {
				name.Ambiguous = true
			}
		}
		return name
	}
	if distinct {
		if res := openToken(stored, k.legacy); res.Ok() {
			return Name{Text: res.Text, Source: SourceLegacy, Format: res.Format}
		}
	}
	return Name{Text: stored, Source: SourcePlaintext, Format: cryptox.DetectFormat(stored)}
}

// Open returns the plaintext name for a stored value.
func (k *KeyRing) Open(stored string) string {
	return k.Resolve(stored).Text
}

// Seal encrypts a name under the canonical key.
func (k *KeyRing) Seal(plain string) (string, error) {
	return cryptox.Encrypt(plain, k.canonical)
}

// Reseal re-encrypts a stored name under the canonical key unless it already
// is current. Values that look like tokens but open with neither key are
// left alone: rewriting them would bake the ciphertext in as the name. So
// are ambiguous CBC tokens.
func (k *KeyRing) Reseal(stored string) (string, bool, error) {
	name := k.Resolve(stored)
	if name.Current() || name.Ambiguous {
		return stored, false, nil
	}
	if name.Source == SourcePlaintext && name.Format != cryptox.FormatUnknown {
		return stored, false, nil
	}
	sealed, err := k.Seal(name.Text)
	if err != nil {
		return "", false, err
	}
	return sealed, true, nil
}

// Wipe zeroes both keys. The ring is unusable afterwards.
func (k *KeyRing) Wipe() {
	common.WipeByteArray(k.canonical)
	common.WipeByteArray(k.legacy)
}

// Resolver builds key rings on demand. Nothing is cached between calls.
type Resolver struct {
	provider SessionKeyProvider
}

func NewResolver(p SessionKeyProvider) *Resolver {
	return &Resolver{provider: p}
}

// KeyRing fetches the owner's secrets and derives both keys from them.
func (r *Resolver) KeyRing(ctx context.Context, ownerID string) (*KeyRing, error) {
	s, err := r.provider.Secrets(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer s.Wipe()
	return NewKeyRing(s), nil
}
