package auth

import (
	"crypto/md5"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// PasswordFingerprint derives a short digest of the stored password hash.
// It is embedded as a claim at mint time so validation can detect a
// password change without comparing hashes directly. A change detector,
// not a security primitive.
func PasswordFingerprint(passwordHash string) string {
	sum := md5.Sum([]byte(passwordHash))
	return hex.EncodeToString(sum[:])
}
