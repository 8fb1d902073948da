// Package utils holds operator credential helpers.
package utils

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest operator password accepted.
const MinPasswordLength = 8

// ErrPasswordTooShort rejects a new operator password under MinPasswordLength.
var ErrPasswordTooShort = errors.New("password must be at least 8 characters")

// HashPassword hashes a new operator password for the operators table.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plain matches a stored operator hash. A row
// without a hash never matches.
func CheckPassword(plain, hashed string) bool {
	if hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
