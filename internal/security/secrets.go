package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum length accepted by ValidateSecret.
	MinSecretLength = 48

	// MinEntropy is the minimum Shannon entropy accepted by ValidateSecret.
	MinEntropy = 3.5

	// PasswordHashLength is the length of a hex encoded SHA-256 password hash.
	PasswordHashLength = sha256.Size * 2
)

var placeholderSecrets = map[string]bool{
	"replace-with-secret":   true,
	"webhook-secret":        true,
	"github-webhook-secret": true,
	"cdnbox-secret":         true,
	"topsecret":             true,
	"secret":                true,
	"password":              true,
	"changeme":              true,
	"s3cr3t":                true,
}

// ValidateSecret checks a webhook secret for length, placeholder values and entropy.
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	secretLower := strings.ToLower(secret)
	if placeholderSecrets[secretLower] {
		return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
	}
	for _, marker := range []string{"replace", "changeme", "topsecret", "password"} {
		if strings.Contains(secretLower, marker) {
			return fmt.Errorf("secret appears to be a placeholder value")
		}
	}

	entropy := calculateEntropy(secret)
	if entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret returns a 48-character URL-safe random secret.
func GenerateSecret() (string, error) {
	// 36 bytes encode to 48 base64 characters
	raw := make([]byte, 36)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// HashPassword returns the lowercase hex SHA-256 of password. The login page
// computes the same value in the browser and submits it as the credential.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// ValidatePasswordHash ensures a configured password hash has the shape
// produced by HashPassword.
func ValidatePasswordHash(hash string) error {
	if len(hash) != PasswordHashLength {
		return fmt.Errorf("password hash must be %d hex characters, got %d", PasswordHashLength, len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("password hash is not valid hex")
	}
	if strings.ToLower(hash) != hash {
		return fmt.Errorf("password hash must be lowercase hex")
	}
	return nil
}

// calculateEntropy computes the Shannon entropy of a string in bits per character.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// IsWeakSecret is a quick heuristic used for startup warnings. It never
// blocks startup.
func IsWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}

	if len(strings.Trim(secret, string(secret[0]))) == 0 {
		return true
	}

	if isSequential(secret) {
		return true
	}

	return calculateEntropy(secret) < 2.5
}

// isSequential reports whether more than 70% of adjacent characters differ by one.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	return float64(sequential) > float64(len(s))*0.7
}
