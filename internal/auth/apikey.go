package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinKeyLength is the minimum accepted API key length
	MinKeyLength = 16
)

// HashKey generates a bcrypt hash from a plain text API key.
func HashKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// IsHashed checks whether a credential looks like a bcrypt hash.
func IsHashed(credential string) bool {
	return strings.HasPrefix(credential, "$2") && len(credential) == 60
}

// VerifyKey compares a presented API key against the configured credential.
// The credential may be a bcrypt hash or a plaintext key; plaintext is
// compared in constant time.
func VerifyKey(presented, credential string) bool {
	if presented == "" || credential == "" {
		return false
	}
	if IsHashed(credential) {
		return bcrypt.CompareHashAndPassword([]byte(credential), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(credential)) == 1
}

// ValidateKeyLength checks whether a new API key is long enough.
func ValidateKeyLength(key string) error {
	if len(key) < MinKeyLength {
		return fmt.Errorf("api key must be at least %d characters long", MinKeyLength)
	}
	return nil
}
