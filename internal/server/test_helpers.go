package server

import "cdnbox/internal/webhook"

// MakeTestSignature builds an X-Hub-Signature-256 header value for payload.
// Shared by the package tests and the integration suites.
func MakeTestSignature(payload []byte, secret string) string {
	return webhook.Sign(payload, secret)
}
