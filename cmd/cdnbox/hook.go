package main

import (
	"fmt"
	"net/url"
	"strings"

	"cdnbox/internal/forge"
	"cdnbox/internal/security"

	"github.com/spf13/cobra"
)

var (
	hookPublicURL string
	hookOwnerRepo string
	hookToken     string
	hookSecret    string
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Register the redeploy webhook on GitHub",
	Long: `Create a push webhook on a GitHub repository pointing at
<public-url>/webhook, signed with the configured webhook_secret.

Nothing is changed when a webhook with the same URL already exists.
The token defaults to github_token from the configuration.

Example:
  cdnbox hook --public-url https://cdn.jkyl.io --owner-repo jkyl/cdn`,
	Args: cobra.NoArgs,
	RunE: runHook,
}

func init() {
	hookCmd.Flags().StringVar(&hookPublicURL, "public-url", "", "Public base URL where cdnbox is reachable")
	hookCmd.Flags().StringVar(&hookOwnerRepo, "owner-repo", "", "GitHub owner/repo")
	hookCmd.Flags().StringVar(&hookToken, "github-token", "", "GitHub token (default from config)")
	hookCmd.Flags().StringVar(&hookSecret, "webhook-secret", "", "Webhook secret (default from config)")
	_ = hookCmd.MarkFlagRequired("public-url")
	_ = hookCmd.MarkFlagRequired("owner-repo")
}

// webhookEndpoint returns the webhook URL under publicURL
func webhookEndpoint(publicURL string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", fmt.Errorf("invalid public URL %q", publicURL)
	}
	return strings.TrimRight(u.String(), "/") + "/webhook", nil
}

func runHook(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	token := hookToken
	if token == "" {
		token = cfg.GitHubToken
	}
	if token == "" {
		return fmt.Errorf("a GitHub token is required (--github-token or github_token)")
	}

	secret := hookSecret
	if secret == "" {
		secret = cfg.WebhookSecret
	}
	if err := security.ValidateSecret(secret); err != nil {
		return fmt.Errorf("webhook secret: %w", err)
	}

	owner, repo, err := forge.SplitOwnerRepo(hookOwnerRepo)
	if err != nil {
		return err
	}

	endpoint, err := webhookEndpoint(hookPublicURL)
	if err != nil {
		return err
	}

	client, err := forge.NewClient(token)
	if err != nil {
		return err
	}

	created, err := client.EnsureWebhook(cmd.Context(), owner, repo, endpoint, secret)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if created {
		fmt.Fprintf(out, "Webhook created on %s/%s: %s\n", owner, repo, endpoint)
	} else {
		fmt.Fprintf(out, "Webhook already exists on %s/%s: %s\n", owner, repo, endpoint)
	}
	return nil
}
