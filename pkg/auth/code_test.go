package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testPepper = "unit-test-pepper-value"

func legacyHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestHashCode(t *testing.T) {
	h := HashCode("123456", testPepper)

	assert.Equal(t, CodeSchemeHMAC, DetectCodeScheme(h))
	assert.Equal(t, h, HashCode("123456", testPepper))
	assert.NotEqual(t, h, HashCode("123456", "other-pepper-value"))
	assert.NotContains(t, h, "123456")
}

func TestVerifyCode(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		code   string
		want   bool
	}{
		{"current scheme match", HashCode("123456", testPepper), "123456", true},
		{"current scheme mismatch", HashCode("123456", testPepper), "654321", false},
		{"legacy peppered match", legacyHash("123456" + testPepper), "123456", true},
		{"legacy unpeppered match", legacyHash("123456"), "123456", true},
		{"legacy mismatch", legacyHash("123456"), "000000", false},
		{"plaintext is never accepted", "123456", "123456", false},
		{"empty stored hash", "", "123456", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyCode(tt.stored, tt.code, testPepper))
		})
	}
}

func TestDetectCodeScheme_UppercaseHexIsUnknown(t *testing.T) {
	upper := "ABCDEF" + legacyHash("x")[6:]
	assert.Equal(t, CodeSchemeUnknown, DetectCodeScheme(upper))
}
