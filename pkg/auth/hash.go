package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost   = 12
	MinPINLength = 4
	MaxPINLength = 8
)

// HashScheme enumerates the PIN hash formats that can still be verified.
// Adding a scheme means adding a case to DetectScheme and VerifySecret.
type HashScheme int

const (
	SchemeUnknown HashScheme = iota
	SchemeBcrypt
	SchemeArgon2id
)

func (s HashScheme) String() string {
	switch s {
	case SchemeBcrypt:
		return "bcrypt"
	case SchemeArgon2id:
		return "argon2id"
	default:
		return "unknown"
	}
}

var ErrUnknownScheme = errors.New("unknown hash scheme")

// DetectScheme inspects the encoded hash prefix.
func DetectScheme(encoded string) HashScheme {
	switch {
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return SchemeBcrypt
	case strings.HasPrefix(encoded, "$argon2id$"):
		return SchemeArgon2id
	default:
		return SchemeUnknown
	}
}

// VerifySecret checks secret against an encoded hash of any supported scheme.
// A mismatch is (false, nil); a malformed hash is an error.
func VerifySecret(encoded, secret string) (bool, error) {
	switch DetectScheme(encoded) {
	case SchemeBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("bcrypt compare: %w", err)
		}
		return true, nil
	case SchemeArgon2id:
		return verifyArgon2id(encoded, secret)
	default:
		return false, ErrUnknownScheme
	}
}

// HashPIN hashes a PIN with the current scheme (bcrypt).
func HashPIN(pin string) (string, error) {
	if pin == "" {
		return "", fmt.Errorf("pin cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(pin), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hashedBytes), nil
}

// ValidPIN reports whether pin is 4 to 8 ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) < MinPINLength || len(pin) > MaxPINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

// HashArgon2id produces a PHC-formatted argon2id hash. New PINs use bcrypt;
// this exists for hashes imported from the previous backend.
func HashArgon2id(secret string, salt []byte) string {
	const (
		memory  = 64 * 1024
		time    = 3
		threads = 2
	)
	key := argon2.IDKey([]byte(secret), salt, time, memory, threads, 32)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, time, threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// maxArgon2Memory caps imported hashes at 1 GiB (m is in KiB).
const maxArgon2Memory = 1 << 20

func verifyArgon2id(encoded, secret string) (bool, error) {
	// $argon2id$v=19$m=65536,t=3,p=2$salt$hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("argon2id: malformed hash")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return false, fmt.Errorf("argon2id: unsupported version %q", parts[2])
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("argon2id: bad parameters: %w", err)
	}
	// argon2.IDKey panics on zero time or threads
	if iterations < 1 || threads < 1 || memory < 8*uint32(threads) || memory > maxArgon2Memory {
		return false, fmt.Errorf("argon2id: parameters out of range %q", parts[3])
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("argon2id: bad salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("argon2id: bad hash: %w", err)
	}
	if len(want) == 0 {
		return false, fmt.Errorf("argon2id: empty hash")
	}

	got := argon2.IDKey([]byte(secret), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
