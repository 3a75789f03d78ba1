package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix = "sha256="
	SignatureHeader = "X-Hub-Signature-256"
)

// Sign returns the "sha256=<hex>" signature of payload keyed with secret
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies the HMAC-SHA256 signature header over the raw body.
// Checks run in order: configured secret, header format, digest.
func VerifySignature(payload []byte, signature, secret string) error {
	if secret == "" {
		return ErrNotConfigured
	}

	// Signature format: "sha256=<hex_digest>"
	if !strings.HasPrefix(signature, SignaturePrefix) {
		return ErrMissingSignature
	}

	// Compare the full header so a malformed digest is just a mismatch
	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}

	return nil
}
