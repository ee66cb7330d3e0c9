package auth

import (
	"encoding/base64"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Derived credentials turn a short PIN into the password the identity
// provider stores for the user. The value is recomputed on each login.
const (
	DerivedCredentialPrefix = "pk1."
	SaltLength              = 16

	deriveTime    = 2
	deriveMemory  = 19 * 1024
	deriveThreads = 1
	deriveKeyLen  = 32
)

var (
	ErrEmptyPepper = errors.New("pepper is not configured")
	ErrEmptySalt   = errors.New("salt is empty")
)

// DeriveCredential is deterministic in all four inputs. Fields are length
// prefixed so no two distinct input tuples share a key.
func DeriveCredential(pin, userID string, salt []byte, pepper string) (string, error) {
	if pepper == "" {
		return "", ErrEmptyPepper
	}
	if len(salt) == 0 {
		return "", ErrEmptySalt
	}

	key := frame(nil, pin)
	key = frame(key, userID)
	key = frame(key, pepper)

	derived := argon2.IDKey(key, salt, deriveTime, deriveMemory, deriveThreads, deriveKeyLen)
	return DerivedCredentialPrefix + base64.RawURLEncoding.EncodeToString(derived), nil
}

// GenerateSalt returns a fresh per-user salt.
func GenerateSalt() ([]byte, error) {
	return RandomBytes(SaltLength)
}

func frame(dst []byte, field string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}
