package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Password hashing schemes
const (
	SchemeSHA256 = "sha256"
	SchemeBcrypt = "bcrypt"
)

// PasswordHasher hashes new passwords and verifies stored hashes
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// SaltedSHA256 is hex(sha256(password + salt)), the format of existing
// accounts.
type SaltedSHA256 struct {
	Salt string
}

func (h SaltedSHA256) Hash(password string) (string, error) {
	return SHA256Hex(password + h.Salt), nil
}

func (h SaltedSHA256) Verify(hash, password string) bool {
	want, _ := h.Hash(password)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(want)) == 1
}

// Bcrypt hashes with golang.org/x/crypto/bcrypt
type Bcrypt struct {
	Cost int
}

func (h Bcrypt) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hashed), nil
}

func (h Bcrypt) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// schemeHasher hashes with the configured scheme and verifies either
// format, so accounts keep working when the scheme changes.
type schemeHasher struct {
	primary PasswordHasher
	sha     SaltedSHA256
	bcrypt  Bcrypt
}

// NewPasswordHasher returns a hasher for scheme ("sha256" or "bcrypt")
func NewPasswordHasher(scheme, salt string) (PasswordHasher, error) {
	h := &schemeHasher{sha: SaltedSHA256{Salt: salt}}
	switch scheme {
	case SchemeSHA256, "":
		h.primary = h.sha
	case SchemeBcrypt:
		h.primary = h.bcrypt
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
	return h, nil
}

func (h *schemeHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *schemeHasher) Verify(hash, password string) bool {
	if strings.HasPrefix(hash, "$2") {
		return h.bcrypt.Verify(hash, password)
	}
	return h.sha.Verify(hash, password)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of s
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
