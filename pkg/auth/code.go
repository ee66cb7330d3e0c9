package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// CodeScheme enumerates stored one-time-code hash formats.
type CodeScheme int

const (
	CodeSchemeUnknown CodeScheme = iota
	// CodeSchemeHMAC is "h1$" + hex(HMAC-SHA256(pepper, code)).
	CodeSchemeHMAC
	// CodeSchemeLegacySHA256 is bare hex(SHA-256(code [+ pepper])) from the
	// previous backend; both the peppered and unpeppered forms are accepted.
	CodeSchemeLegacySHA256
)

const codeHMACPrefix = "h1$"

// HashCode hashes a one-time code with the current scheme.
func HashCode(code, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(code))
	return codeHMACPrefix + hex.EncodeToString(mac.Sum(nil))
}

// DetectCodeScheme inspects a stored code hash.
func DetectCodeScheme(stored string) CodeScheme {
	switch {
	case strings.HasPrefix(stored, codeHMACPrefix):
		return CodeSchemeHMAC
	case len(stored) == sha256.Size*2 && isHex(stored):
		return CodeSchemeLegacySHA256
	default:
		return CodeSchemeUnknown
	}
}

// VerifyCode compares code to a stored hash in constant time per candidate.
func VerifyCode(stored, code, pepper string) bool {
	switch DetectCodeScheme(stored) {
	case CodeSchemeHMAC:
		return constantTimeEqual(stored, HashCode(code, pepper))
	case CodeSchemeLegacySHA256:
		peppered := sha256Hex(code + pepper)
		plain := sha256Hex(code)
		// evaluate both to keep timing independent of which one matches
		a := constantTimeEqual(stored, peppered)
		b := constantTimeEqual(stored, plain)
		return a || b
	default:
		return false
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
