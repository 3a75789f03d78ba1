// Package redeploy updates the served working copy from its git remote and
// relaunches the server.
package redeploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"cdnbox/internal/security"
	"cdnbox/pkg/cmdutil"
)

const (
	// DefaultTimeout bounds each git step
	DefaultTimeout = 30 * time.Second

	DefaultRemote = "origin"
	DefaultBranch = "main"
)

// Step names
const (
	StepFetch   = "fetch"
	StepReset   = "reset"
	StepRestart = "restart"
)

var ErrNoRepo = errors.New("repository directory not configured")

// StepError reports a failed git step together with its output
type StepError struct {
	Step   string
	Output string
	Err    error
}

func (e *StepError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git %s failed: %s", e.Step, e.Output)
	}
	return fmt.Sprintf("git %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepResult records one executed command
type StepResult struct {
	Step     string
	Command  string
	Output   string
	Duration time.Duration
}

// Options configures a Git redeployer
type Options struct {
	RepoDir string
	Remote  string
	Branch  string

	// RestartCommand is a shell-quoted command line. Empty selects
	// <RepoDir>/cdn/start-cdn.sh.
	RestartCommand string

	Timeout time.Duration

	// Redact lists values scrubbed from command output, such as tokens
	// embedded in remote URLs.
	Redact []string

	Logger *slog.Logger
}

// Git synchronizes a working copy to its remote branch and launches a
// restart command. Redeploys are serialized.
type Git struct {
	RepoDir        string
	Remote         string
	Branch         string
	RestartCommand []string
	Timeout        time.Duration

	redact []string
	logger *slog.Logger
	policy *security.CommandPolicy
	mu     sync.Mutex
}

// DefaultRestartCommand returns the restart script location inside repoDir
func DefaultRestartCommand(repoDir string) string {
	return filepath.Join(repoDir, "cdn", "start-cdn.sh")
}

// New validates opts and builds a Git redeployer
func New(opts Options) (*Git, error) {
	if opts.RepoDir == "" {
		return nil, ErrNoRepo
	}
	repoDir, err := security.SanitizePath(opts.RepoDir)
	if err != nil {
		return nil, fmt.Errorf("invalid repo dir: %w", err)
	}

	g := &Git{
		RepoDir: repoDir,
		Remote:  opts.Remote,
		Branch:  opts.Branch,
		Timeout: opts.Timeout,
		redact:  opts.Redact,
		logger:  opts.Logger,
	}
	if g.Remote == "" {
		g.Remote = DefaultRemote
	}
	if g.Branch == "" {
		g.Branch = DefaultBranch
	}
	if g.Timeout <= 0 {
		g.Timeout = DefaultTimeout
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := security.ValidateRemoteName(g.Remote); err != nil {
		return nil, fmt.Errorf("invalid remote: %w", err)
	}
	if err := security.ValidateBranchName(g.Branch); err != nil {
		return nil, fmt.Errorf("invalid branch: %w", err)
	}

	restart := opts.RestartCommand
	if restart == "" {
		restart = cmdutil.FormatCommand([]string{DefaultRestartCommand(repoDir)})
	}
	g.RestartCommand, err = cmdutil.ParseCommandString(restart)
	if err != nil {
		return nil, fmt.Errorf("invalid restart command: %w", err)
	}

	g.policy = security.NewCommandPolicy("git", g.RestartCommand[0])
	if err := g.policy.Validate(g.RestartCommand); err != nil {
		return nil, fmt.Errorf("invalid restart command: %w", err)
	}

	return g, nil
}

// Redeploy syncs the working copy and then launches the restart command.
// Git steps are detached from ctx cancellation so a dropped client cannot
// interrupt a reset halfway; each step still has its own timeout.
func (g *Git) Redeploy(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.sync(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	pid, err := g.restart()
	if err != nil {
		return err
	}

	g.logger.Info("restart_launched",
		"command", cmdutil.FormatCommand(g.RestartCommand),
		"pid", pid,
	)
	return nil
}

// Sync runs fetch and reset without restarting
func (g *Git) Sync(ctx context.Context) ([]StepResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.sync(context.WithoutCancel(ctx))
}

func (g *Git) sync(ctx context.Context) ([]StepResult, error) {
	steps := []struct {
		name string
		cmd  []string
	}{
		{StepFetch, []string{"git", "-C", g.RepoDir, "fetch", g.Remote}},
		{StepReset, []string{"git", "-C", g.RepoDir, "reset", "--hard", g.Remote + "/" + g.Branch}},
	}

	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		res, err := g.run(ctx, step.name, step.cmd)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

func (g *Git) run(ctx context.Context, step string, cmd []string) (StepResult, error) {
	res := StepResult{Step: step, Command: cmdutil.FormatCommand(cmd)}

	// git is exec'd directly; repo dir, remote and branch were validated in New
	if err := g.policy.ValidateProgram(cmd); err != nil {
		return res, &StepError{Step: step, Err: err}
	}

	out, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Timeout:        g.Timeout,
		CombinedOutput: true,
	}, cmd)
	if out != nil {
		res.Output = string(cmdutil.SanitizeOutput([]byte(out.Diagnostic()), g.redact))
		res.Duration = out.Duration
	}

	if err != nil {
		g.logger.Warn("redeploy_step_failed",
			"step", step,
			"command", res.Command,
			"duration_ms", res.Duration.Milliseconds(),
			"error", err.Error(),
		)
		return res, &StepError{Step: step, Output: res.Output, Err: err}
	}

	g.logger.Info("redeploy_step",
		"step", step,
		"command", res.Command,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (g *Git) restart() (int, error) {
	pid, err := cmdutil.StartDetached(cmdutil.ExecOptions{Dir: g.RepoDir}, g.RestartCommand)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", StepRestart, err)
	}
	return pid, nil
}
