// Package forge talks to the GitHub API: commit statuses for redeploys and
// webhook registration.
package forge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const (
	// StatusContext labels commit statuses posted by cdnbox
	StatusContext = "cdnbox/redeploy"

	maxDescription = 140
)

// Client wraps an authenticated GitHub client
type Client struct {
	gh *github.Client
}

// Option configures a Client
type Option func(*github.Client) error

// WithBaseURL points the client at another API root, such as GitHub
// Enterprise or a test server.
func WithBaseURL(base string) Option {
	return func(gh *github.Client) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		gh.BaseURL = u
		return nil
	}
}

// NewClient creates an authenticated client. It returns nil, nil when token
// is empty so callers can treat a missing token as "feature off".
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, nil
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	gh := github.NewClient(tc)

	for _, opt := range opts {
		if err := opt(gh); err != nil {
			return nil, err
		}
	}

	return &Client{gh: gh}, nil
}

// ReportRedeploy posts a commit status for sha. A nil redeployErr reports
// success; otherwise the error text becomes the description.
func (c *Client) ReportRedeploy(ctx context.Context, owner, repo, sha string, redeployErr error) error {
	state := "success"
	description := "Redeployed"
	if redeployErr != nil {
		state = "failure"
		description = redeployErr.Error()
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(truncate(description, maxDescription)),
		Context:     github.String(StatusContext),
	}

	if _, _, err := c.gh.Repositories.CreateStatus(ctx, owner, repo, sha, status); err != nil {
		return fmt.Errorf("creating commit status: %w", err)
	}
	return nil
}

// EnsureWebhook registers a push webhook for hookURL unless one with the
// same URL already exists. Reports whether a hook was created.
func (c *Client) EnsureWebhook(ctx context.Context, owner, repo, hookURL, secret string) (bool, error) {
	hooks, _, err := c.gh.Repositories.ListHooks(ctx, owner, repo, nil)
	if err != nil {
		return false, fmt.Errorf("listing webhooks: %w", err)
	}

	for _, hook := range hooks {
		if hook.Config == nil {
			continue
		}
		if existing, ok := hook.Config["url"].(string); ok && existing == hookURL {
			return false, nil
		}
	}

	hookReq := &github.Hook{
		Events: []string{"push"},
		Active: github.Bool(true),
		Config: map[string]interface{}{
			"url":          hookURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	}

	if _, _, err := c.gh.Repositories.CreateHook(ctx, owner, repo, hookReq); err != nil {
		return false, fmt.Errorf("creating webhook: %w", err)
	}
	return true, nil
}

// SplitOwnerRepo parses "owner/repo"
func SplitOwnerRepo(ownerRepo string) (string, string, error) {
	parts := strings.Split(ownerRepo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid owner/repo format: %s", ownerRepo)
	}
	return parts[0], parts[1], nil
}

// truncate limits s to n characters, never splitting a rune
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}
