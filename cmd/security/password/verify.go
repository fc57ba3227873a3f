package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names the algorithm of an encoded hash ("argon2id", "bcrypt" or "").
func Scheme(encoded string) string {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return "argon2id"
	case strings.HasPrefix(encoded, "$2a$"),
		strings.HasPrefix(encoded, "$2b$"),
		strings.HasPrefix(encoded, "$2y$"):
		return "bcrypt"
	default:
		return ""
	}
}

// Verify reports whether secret matches encoded. A mismatch is (false, nil);
// a malformed or unsupported hash is (false, error).
func (c Config) Verify(encoded, secret string) (bool, error) {
	if len(secret) > c.Policy.MaxLength*4 {
		return false, nil
	}

	switch Scheme(encoded) {
	case "argon2id":
		return c.verifyArgon2id(encoded, secret)
	case "bcrypt":
		return verifyBcrypt(encoded, secret)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether encoded should be replaced by a fresh Hash:
// bcrypt hashes and Argon2id hashes weaker than the configured params.
func (c Config) NeedsRehash(encoded string) bool {
	if Scheme(encoded) != "argon2id" {
		return true
	}
	p, _, _, err := decodeArgon2id(encoded)
	if err != nil {
		return true
	}
	return p.MemoryKiB < c.Params.MemoryKiB ||
		p.Iterations < c.Params.Iterations ||
		p.KeyLength < c.Params.KeyLength
}

func verifyBcrypt(encoded, secret string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword),
		errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}
