package integration

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cdnbox/internal/files"
	"cdnbox/internal/history"
	"cdnbox/internal/redeploy"
	"cdnbox/internal/security"
	"cdnbox/internal/server"
	"cdnbox/internal/session"
	"cdnbox/internal/webhook"
	"cdnbox/pkg/templates"
)

const (
	testPassword = "correct horse battery staple"
	testSecret   = "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6"
)

// site is a running cdnbox instance serving <served>/public, with a bare
// origin and a publisher clone to push new content through.
type site struct {
	URL       string
	Publisher string
	Served    string
	Marker    string
	Server    *server.Server
	History   *history.History
}

func requireGit(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v, output: %s", args, err, output)
	}
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func publish(t *testing.T, publisher, name, content string) {
	t.Helper()
	writeFile(t, filepath.Join(publisher, name), content, 0644)
	runGit(t, publisher, "add", name)
	runGit(t, publisher, "commit", "-m", "update "+name)
	runGit(t, publisher, "push", "origin", "main")
}

// startSite builds the repositories and starts a server for them. branch
// selects the branch the redeployer resets to.
func startSite(t *testing.T, branch string) *site {
	t.Helper()
	requireGit(t)

	root := t.TempDir()
	origin := filepath.Join(root, "origin.git")
	publisher := filepath.Join(root, "publisher")
	served := filepath.Join(root, "served")
	marker := filepath.Join(root, "restarted")

	runGit(t, root, "init", "--bare", origin)

	if err := os.MkdirAll(publisher, 0755); err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	runGit(t, publisher, "init")
	runGit(t, publisher, "config", "user.email", "test@example.com")
	runGit(t, publisher, "config", "user.name", "Test User")
	writeFile(t, filepath.Join(publisher, "public", "index.html"), "v1", 0644)
	writeFile(t, filepath.Join(publisher, "cdn", "start-cdn.sh"), "#!/bin/sh\necho restarted > '"+marker+"'\n", 0755)
	runGit(t, publisher, "add", ".")
	runGit(t, publisher, "commit", "-m", "Initial commit")
	runGit(t, publisher, "branch", "-M", "main")
	runGit(t, publisher, "remote", "add", "origin", origin)
	runGit(t, publisher, "push", "-u", "origin", "main")

	runGit(t, root, "clone", "--branch", "main", origin, served)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	git, err := redeploy.New(redeploy.Options{
		RepoDir: served,
		Branch:  branch,
		Timeout: 10 * time.Second,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("Failed to create redeployer: %v", err)
	}

	auth, err := session.NewAuthenticator()
	if err != nil {
		t.Fatalf("Failed to create authenticator: %v", err)
	}
	resolver, err := files.NewResolver(filepath.Join(served, "public"))
	if err != nil {
		t.Fatalf("Failed to create resolver: %v", err)
	}
	loginPage, err := templates.LoadLoginPage("", served)
	if err != nil {
		t.Fatalf("Failed to load login page: %v", err)
	}
	hist, err := history.NewHistory(filepath.Join(root, "cdnbox.db"))
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}

	srv, err := server.NewServer(server.Options{
		Auth:         auth,
		Resolver:     resolver,
		Trigger:      webhook.NewTrigger(testSecret, git),
		LoginPage:    loginPage,
		PasswordHash: security.HashPassword(testPassword),
		History:      hist,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		hist.Close()
	})

	return &site{
		URL:       ts.URL,
		Publisher: publisher,
		Served:    served,
		Marker:    marker,
		Server:    srv,
		History:   hist,
	}
}

// get performs a GET, attaching cookie when non-nil. The session cookie is
// Secure, so it is attached by hand over plain HTTP.
func get(t *testing.T, url string, cookie *http.Cookie) (int, string) {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func login(t *testing.T, baseURL, password string) (int, *http.Cookie) {
	t.Helper()
	body := `{"hash":"` + security.HashPassword(password) + `"}`
	resp, err := http.Post(baseURL+"/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /login failed: %v", err)
	}
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			return resp.StatusCode, c
		}
	}
	return resp.StatusCode, nil
}

func postWebhook(t *testing.T, baseURL string, payload []byte, signature string) (int, string) {
	t.Helper()
	req, err := http.NewRequest("POST", baseURL+"/webhook", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /webhook failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never appeared", path)
}
