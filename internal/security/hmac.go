package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/fatiguelab/dialctl/internal/protocol"
)

// GenerateChallenge returns 8 fresh random bytes for one pairing attempt.
func GenerateChallenge() ([protocol.ChallengeSize]byte, error) {
	var c [protocol.ChallengeSize]byte
	if _, err := rand.Read(c[:]); err != nil {
		return [protocol.ChallengeSize]byte{}, err
	}
	return c, nil
}

// ComputeHMAC keys HMAC-SHA256 with the shared secret over challenge and
// truncates to the 16-byte wire size.
func ComputeHMAC(secret Secret, challenge []byte) [protocol.HMACSize]byte {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(challenge)
	full := mac.Sum(nil)

	var out [protocol.HMACSize]byte
	copy(out[:], full[:protocol.HMACSize])
	return out
}

// VerifyHMAC compares a received digest against the expected one over the
// full length with no early exit.
func VerifyHMAC(secret Secret, challenge []byte, received [protocol.HMACSize]byte) bool {
	expected := ComputeHMAC(secret, challenge)
	return subtle.ConstantTimeCompare(expected[:], received[:]) == 1
}
