package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Verifier is the one-way credential check capability. The gate never
// hashes anything itself, so the algorithm stays swappable.
type Verifier interface {
	Verify(plaintext, hash string) bool
}

// BcryptVerifier implements Verifier with bcrypt.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// HashPassword hashes a plaintext password with bcrypt, for registration
// flows and seed tooling.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
