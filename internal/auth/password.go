package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var errEmptyPassword = errors.New("password is empty")

// PasswordHasher hashes and checks account passwords with bcrypt.
type PasswordHasher struct {
	Cost int
}

// NewPasswordHasher returns a hasher using bcrypt.DefaultCost when cost is out of range.
func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return PasswordHasher{Cost: cost}
}

// prehash folds a password of any length into 44 bytes so bcrypt's
// 72-byte input limit never applies.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// Hash hashes plaintext password using bcrypt over its SHA-256 digest.
func (h PasswordHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errEmptyPassword
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(prehash(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Matches reports whether password corresponds to the stored hash.
func (h PasswordHasher) Matches(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}
