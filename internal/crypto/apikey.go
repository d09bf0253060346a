package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// keyHashLen is the derived hash length in bytes.
	keyHashLen = 32
)

// HashAPIKey derives the stored hash for an API key with the given salt.
func HashAPIKey(key string, salt []byte) []byte {
	return pbkdf2.Key([]byte(key), salt, pbkdf2Iterations, keyHashLen, sha256.New)
}

// GenerateSalt returns a fresh random salt, hex-encoded for config storage.
func GenerateSalt() (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// APIKeyVerifier checks presented API keys against a stored PBKDF2 hash.
// The zero-value verifier (no hash configured) accepts everything, so
// deployments can run open in dev and locked down in production.
type APIKeyVerifier struct {
	hash []byte
	salt []byte
}

// NewAPIKeyVerifier builds a verifier from hex-encoded hash and salt as they
// appear in configuration. Both empty disables verification.
func NewAPIKeyVerifier(hashHex, saltHex string) (*APIKeyVerifier, error) {
	if hashHex == "" && saltHex == "" {
		return &APIKeyVerifier{}, nil
	}

	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode api key hash: %w", err)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode api key salt: %w", err)
	}
	if len(hash) != keyHashLen {
		return nil, fmt.Errorf("crypto: api key hash must be %d bytes, got %d", keyHashLen, len(hash))
	}
	return &APIKeyVerifier{hash: hash, salt: salt}, nil
}

// Enabled reports whether a key hash is configured.
func (v *APIKeyVerifier) Enabled() bool {
	return len(v.hash) > 0
}

// Verify reports whether the presented key matches the stored hash. The
// comparison is constant-time.
func (v *APIKeyVerifier) Verify(key string) bool {
	if !v.Enabled() {
		return true
	}
	derived := HashAPIKey(key, v.salt)
	return subtle.ConstantTimeCompare(derived, v.hash) == 1
}
