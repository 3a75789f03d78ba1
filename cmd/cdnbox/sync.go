package main

import (
	"fmt"
	"io"
	"log/slog"

	"cdnbox/internal/redeploy"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var syncRestart bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update the repository from its remote without a webhook",
	Long: `Fetch the configured remote and hard-reset the working copy to
<remote>/<branch>, exactly as a webhook delivery would.

The restart command is only launched with --restart.

Example:
  cdnbox sync --restart`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncRestart, "restart", false, "Launch the restart command after syncing")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.RepoDir == "" {
		return fmt.Errorf("repo_dir is not configured")
	}

	git, err := redeploy.New(redeploy.Options{
		RepoDir:        cfg.RepoDir,
		Remote:         cfg.Remote,
		Branch:         cfg.Branch,
		RestartCommand: cfg.RestartCommand,
		Timeout:        cfg.GitTimeoutDuration(),
		Redact:         []string{cfg.GitHubToken, cfg.WebhookSecret},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Syncing %s to %s/%s...\n", git.RepoDir, git.Remote, git.Branch)

	if syncRestart {
		if err := git.Redeploy(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nSync successful, restart launched.\n")
		return nil
	}

	results, err := git.Sync(cmd.Context())
	for _, res := range results {
		fmt.Fprintf(out, "  %-6s %s (%s)\n", res.Step, res.Command, humanize.FtoaWithDigits(res.Duration.Seconds(), 2)+"s")
		if res.Output != "" {
			fmt.Fprintf(out, "         %s\n", res.Output)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nSync successful!\n")
	return nil
}
