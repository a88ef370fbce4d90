package session

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier compares a candidate password against a stored hash in
// constant time.
type CredentialVerifier interface {
	Verify(hash, password string) error
}

// BcryptVerifier implements CredentialVerifier with bcrypt.
type BcryptVerifier struct{}

// Verify compares plaintext password with stored hash.
func (BcryptVerifier) Verify(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// HashPassword hashes a plaintext password using bcrypt. Registration and
// password-change flows live outside this package but share the scheme.
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
