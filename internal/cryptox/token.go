package cryptox

import (
	"encoding/hex"
	"strings"
)

const (
	delimiter = ":"

	nonceSize    = 12
	tagSize      = 16
	legacyIVSize = 16
)

// Format identifies the shape of a stored token.
type Format int

const (
	// FormatUnknown covers plaintext and anything malformed.
	FormatUnknown Format = iota
	// FormatGCM is the current authenticated nonce:tag:ciphertext token.
	FormatGCM
	// FormatLegacyCBC is the older unauthenticated iv:ciphertext token.
	FormatLegacyCBC
)

func (f Format) String() string {
	switch f {
	case FormatGCM:
		return "gcm"
	case FormatLegacyCBC:
		return "legacy-cbc"
	default:
		return "unknown"
	}
}

type parsedToken struct {
	format     Format
	nonce      []byte
	tag        []byte
	ciphertext []byte
}

// DetectFormat reports which token shape value has, checking segment count,
// fixed segment lengths and hex validity.
func DetectFormat(value string) Format {
	p, ok := parse(value)
	if !ok {
		return FormatUnknown
	}
	return p.format
}

// LooksEncrypted reports whether value is structurally a token of a known
// format. It does not prove the value decrypts under any key.
func LooksEncrypted(value string) bool {
	return DetectFormat(value) != FormatUnknown
}

func parse(value string) (parsedToken, bool) {
	parts := strings.Split(value, delimiter)

	switch len(parts) {
	case 3:
		if len(parts[0]) != nonceSize*2 || len(parts[1]) != tagSize*2 {
			return parsedToken{}, false
		}
		nonce, err := hex.DecodeString(parts[0])
		if err != nil {
			return parsedToken{}, false
		}
		tag, err := hex.DecodeString(parts[1])
		if err != nil {
			return parsedToken{}, false
		}
		ct, err := hex.DecodeString(parts[2])
		if err != nil {
			return parsedToken{}, false
		}
		return parsedToken{format: FormatGCM, nonce: nonce, tag: tag, ciphertext: ct}, true

	case 2:
		if len(parts[0]) != legacyIVSize*2 || len(parts[1]) == 0 {
			return parsedToken{}, false
		}
		iv, err := hex.DecodeString(parts[0])
		if err != nil {
			return parsedToken{}, false
		}
		ct, err := hex.DecodeString(parts[1])
		if err != nil || len(ct)%legacyIVSize != 0 {
			return parsedToken{}, false
		}
		return parsedToken{format: FormatLegacyCBC, nonce: iv, ciphertext: ct}, true
	}

	return parsedToken{}, false
}

func join(segments ...[]byte) string {
	enc := make([]string, len(segments))
	for i, s := range segments {
		enc[i] = hex.EncodeToString(s)
	}
	return strings.Join(enc, delimiter)
}
