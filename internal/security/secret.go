// Package security holds the pairing shared secret and the HMAC
// challenge/response primitives built on it. The secret itself never
// crosses the wire; only truncated HMAC-SHA256 digests do.
package security

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SecretSize is the raw shared-secret length in bytes (32 hex characters).
const SecretSize = 16

// pairingSecretHex is injected at link time:
//
//	go build -ldflags "-X github.com/fatiguelab/dialctl/internal/security.pairingSecretHex=$(openssl rand -hex 16)"
//
// Release builds refuse to start without it; debug builds fall back to a
// fixed placeholder so bench setups keep working.
var pairingSecretHex string

const debugPlaceholderHex = "00000000deadbeefcafebabedeadbeef"

var (
	ErrSecretMissing = errors.New("security: pairing secret not configured")
	ErrSecretFormat  = errors.New("security: pairing secret must be 32 hex characters")
)

// Secret is the 16-byte pairing shared secret.
type Secret [SecretSize]byte

// LoadSecret resolves the build-injected pairing secret. In release builds a
// missing secret is a hard failure before any radio traffic; in debug builds
// the placeholder is used and loudly logged.
func LoadSecret() (Secret, error) {
	raw := pairingSecretHex
	if raw == "" {
		if releaseBuild {
			return Secret{}, fmt.Errorf("%w: rebuild with -ldflags -X (generate with: openssl rand -hex 16)", ErrSecretMissing)
		}
		log.Warn().Msg("security: using built-in debug pairing secret, NOT SECURE for production")
		raw = debugPlaceholderHex
	}
	return ParseSecret(raw)
}

// Settings is the security posture surfaced to operators. It carries no key
// material.
type Settings struct {
	ReleaseBuild     bool `json:"release_build"`
	UsingPlaceholder bool `json:"using_placeholder"`
}

// SettingsFor reports the posture for a loaded secret.
func SettingsFor(s Secret) Settings {
	placeholder, _ := ParseSecret(debugPlaceholderHex)
	return Settings{
		ReleaseBuild:     releaseBuild,
		UsingPlaceholder: s == placeholder,
	}
}

// ParseSecret decodes a 32-hex-character secret string.
func ParseSecret(raw string) (Secret, error) {
	if len(raw) != SecretSize*2 {
		return Secret{}, ErrSecretFormat
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return Secret{}, ErrSecretFormat
	}
	var s Secret
	copy(s[:], decoded)
	return s, nil
}
