package util

import (
	"golang.org/x/crypto/bcrypt"
)

// HashAPIKey turns a plaintext API key into a bcrypt hash.
func HashAPIKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckAPIKey verifies a plaintext API key against a bcrypt hash.
func CheckAPIKey(key, hash string) bool {
	if key == "" || hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}
