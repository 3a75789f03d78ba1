package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const (
	// CookieName is the name of the cookie carrying the session token
	CookieName = "session"

	// CookieMaxAge is one year in seconds. Advisory only: tokens carry no expiry.
	CookieMaxAge = 31536000

	// DefaultSignatureLength is the number of hex characters of the HMAC kept in a token
	DefaultSignatureLength = 16

	// MaxSignatureLength is the full hex-encoded HMAC-SHA256 length
	MaxSignatureLength = sha256.Size * 2

	secretBytes = 32
	nonceBytes  = 16
)

// Authenticator issues and verifies session tokens.
// The secret is generated once and never changes, so an Authenticator is
// safe for concurrent use without locking.
type Authenticator struct {
	secret    []byte
	sigLength int
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithSignatureLength sets how many hex characters of the signature are kept.
// Values outside 1..MaxSignatureLength fall back to the full signature.
func WithSignatureLength(n int) Option {
	return func(a *Authenticator) {
		if n <= 0 || n > MaxSignatureLength {
			n = MaxSignatureLength
		}
		a.sigLength = n
	}
}

// NewAuthenticator creates an authenticator with a fresh random secret.
// Tokens issued by one Authenticator cannot be verified by another.
func NewAuthenticator(opts ...Option) (*Authenticator, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}

	a := &Authenticator{
		secret:    secret,
		sigLength: DefaultSignatureLength,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// IssueToken returns a new "<nonce>.<signature>" token.
// The caller must have verified the user's credential first.
func (a *Authenticator) IssueToken() (string, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate session nonce: %w", err)
	}

	data := hex.EncodeToString(nonce)
	return data + "." + a.sign(data), nil
}

// VerifyToken reports whether token was issued by this Authenticator.
// Malformed and forged tokens are indistinguishable to the caller.
func (a *Authenticator) VerifyToken(token string) bool {
	if token == "" {
		return false
	}

	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}

	expected := a.sign(parts[0])
	return hmac.Equal([]byte(parts[1]), []byte(expected))
}

// sign computes the truncated hex HMAC-SHA256 of data
func (a *Authenticator) sign(data string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))[:a.sigLength]
}

// NewCookie wraps a token in the session cookie sent to the browser.
// SameSite=None requires Secure in every current browser.
func NewCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
		MaxAge:   CookieMaxAge,
	}
}

// TokenFromRequest returns the session token cookie value, or "" if absent
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Authenticated reports whether the request carries a valid session token
func (a *Authenticator) Authenticated(r *http.Request) bool {
	return a.VerifyToken(TokenFromRequest(r))
}

// CheckCredential compares a submitted credential hash against the configured
// one in constant time. An empty expected value never matches.
func CheckCredential(candidate, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}
