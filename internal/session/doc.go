// Package session implements cookie-based session tokens for cdnbox.
//
// A token is "<nonce>.<signature>": a random hex nonce and a truncated
// HMAC-SHA256 of that nonce keyed with a secret that lives only in memory.
// Restarting the process invalidates every outstanding token.
package session
