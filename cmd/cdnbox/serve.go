package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cdnbox/internal/config"
	"cdnbox/internal/files"
	"cdnbox/internal/forge"
	"cdnbox/internal/history"
	"cdnbox/internal/redeploy"
	"cdnbox/internal/security"
	"cdnbox/internal/server"
	"cdnbox/internal/session"
	"cdnbox/internal/webhook"
	"cdnbox/pkg/templates"

	"github.com/spf13/cobra"
)

var (
	dataDir        string
	repoDir        string
	logFile        string
	dbPath         string
	host           string
	port           int
	allowedOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the file server",
	Long: `Start the HTTP server.

Files under the data directory are served to clients holding a session
cookie. POST /webhook pulls the repository and launches the restart command.

Settings are read from cdnbox.yaml, then CDNBOX_* environment variables,
then flags.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory to serve")
	serveCmd.Flags().StringVar(&repoDir, "repo-dir", "", "Git working copy updated by the webhook")
	serveCmd.Flags().StringVar(&logFile, "log", config.DefaultLogFile, "Path to log file")
	serveCmd.Flags().StringVar(&dbPath, "db", config.DefaultDBPath, "Path to SQLite history database")
	serveCmd.Flags().StringVar(&host, "host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origins", nil, "Origins allowed to make credentialed cross-origin requests")
}

// applyServeFlags overrides cfg with the flags set on the command line
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("repo-dir") {
		cfg.RepoDir = repoDir
	}
	if flags.Changed("log") {
		cfg.LogFile = logFile
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("allowed-origins") {
		cfg.AllowedOrigins = allowedOrigins
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	// Set up logging
	logger, logFileHandle, err := setupLogging(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting cdnbox", "version", version, "config", cfgPath)

	if err := cfg.Err(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		return err
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}
	if cfgPath != "" {
		if err := checkConfigPermissions(cfgPath); err != nil {
			logger.Warn("Config file permissions are too open", "config", cfgPath, "error", err)
		}
	}

	var authOpts []session.Option
	if cfg.SessionSignatureLength != 0 {
		authOpts = append(authOpts, session.WithSignatureLength(cfg.SessionSignatureLength))
	}
	auth, err := session.NewAuthenticator(authOpts...)
	if err != nil {
		return err
	}

	resolver, err := files.NewResolver(cfg.DataDir)
	if err != nil {
		return err
	}

	var redeployer webhook.Redeployer
	if cfg.RepoDir != "" {
		git, err := redeploy.New(redeploy.Options{
			RepoDir:        cfg.RepoDir,
			Remote:         cfg.Remote,
			Branch:         cfg.Branch,
			RestartCommand: cfg.RestartCommand,
			Timeout:        cfg.GitTimeoutDuration(),
			Redact:         []string{cfg.GitHubToken, cfg.WebhookSecret},
			Logger:         logger,
		})
		if err != nil {
			logger.Error("Invalid redeploy settings", "error", err)
			return err
		}
		redeployer = git
	}
	if cfg.WebhookEnabled() {
		logger.Info("Webhook redeploys enabled",
			"repo", cfg.RepoDir,
			"remote", cfg.Remote,
			"branch", cfg.Branch)
	} else {
		logger.Info("Webhook redeploys disabled; set webhook_secret and repo_dir to enable")
	}

	loginPage, err := templates.LoadLoginPage(cfg.LoginPage, cfg.RepoDir)
	if err != nil {
		return err
	}
	logger.Info("Login page loaded", "source", loginPage.Source)

	logger.Info("Initializing history database", "db", cfg.DBPath)
	hist, err := history.NewHistory(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to initialize history database", "error", err)
		return fmt.Errorf("failed to initialize history database: %w", err)
	}

	forgeClient, err := forge.NewClient(cfg.GitHubToken)
	if err != nil {
		hist.Close()
		return err
	}

	srv, err := server.NewServer(server.Options{
		Auth:           auth,
		Resolver:       resolver,
		Trigger:        webhook.NewTrigger(cfg.WebhookSecret, redeployer),
		LoginPage:      loginPage,
		PasswordHash:   cfg.PasswordHash,
		AllowedOrigins: cfg.AllowedOrigins,
		History:        hist,
		Forge:          forgeClient,
		Logger:         logger,
	})
	if err != nil {
		hist.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting HTTP server", "addr", cfg.Addr(), "data_dir", resolver.Root)
	if err := srv.ListenAndServe(ctx, cfg.Addr()); err != nil {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// checkConfigPermissions reports a config file that other users can read,
// with the chmod that fixes it
func checkConfigPermissions(path string) error {
	if err := security.ValidateSecurePermissions(path); err != nil {
		return fmt.Errorf("%w; run: chmod %04o %s", err, security.PermConfigFile, path)
	}
	return nil
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	// Create log directory if needed
	logDir := filepath.Dir(logPath)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		if err := security.CreateSecureDir(logDir, security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := security.OpenAppendFile(logPath, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
}
