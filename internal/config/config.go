package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cdnbox/internal/security"
	"cdnbox/pkg/fileutil"

	"gopkg.in/yaml.v3"
)

const (
	FileName = "cdnbox.yaml"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "CDNBOX_"

	DefaultHost       = "0.0.0.0"
	DefaultPort       = 8888
	DefaultRemote     = "origin"
	DefaultBranch     = "main"
	DefaultGitTimeout = 30
	DefaultLogFile    = "./cdnbox.log"
	DefaultDBPath     = "./cdnbox.db"

	MinSignatureLength = 16
	MaxSignatureLength = 64
)

// Config is the server configuration, read once at startup
type Config struct {
	DataDir       string `yaml:"data_dir"`
	RepoDir       string `yaml:"repo_dir"`
	PasswordHash  string `yaml:"password_hash"`
	WebhookSecret string `yaml:"webhook_secret"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Remote         string `yaml:"remote"`
	Branch         string `yaml:"branch"`
	RestartCommand string `yaml:"restart_command"`
	GitTimeout     int    `yaml:"git_timeout"` // seconds per git step

	AllowedOrigins []string `yaml:"allowed_origins"`
	LoginPage      string   `yaml:"login_page"`
	GitHubToken    string   `yaml:"github_token"`

	// SessionSignatureLength is the number of hex chars of the session
	// HMAC kept in tokens. Zero keeps the 16-char default.
	SessionSignatureLength int `yaml:"session_signature_length"`

	LogFile string `yaml:"log_file"`
	DBPath  string `yaml:"db_path"`
}

// Default returns a configuration with every optional field set
func Default() *Config {
	return &Config{
		Host:       DefaultHost,
		Port:       DefaultPort,
		Remote:     DefaultRemote,
		Branch:     DefaultBranch,
		GitTimeout: DefaultGitTimeout,
		LogFile:    DefaultLogFile,
		DBPath:     DefaultDBPath,
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected so
// typos do not silently disable a setting.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return cfg, nil
}

// Find returns explicit when set, otherwise the first cdnbox.yaml found in
// the default locations, or an empty string.
func Find(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return fileutil.FindConfigOptional(FileName)
}

// ApplyEnv overrides fields from CDNBOX_* variables found through lookup.
// Lists are comma separated.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATA_DIR":        &c.DataDir,
		"REPO_DIR":        &c.RepoDir,
		"PASSWORD_HASH":   &c.PasswordHash,
		"WEBHOOK_SECRET":  &c.WebhookSecret,
		"HOST":            &c.Host,
		"REMOTE":          &c.Remote,
		"BRANCH":          &c.Branch,
		"RESTART_COMMAND": &c.RestartCommand,
		"LOGIN_PAGE":      &c.LoginPage,
		"GITHUB_TOKEN":    &c.GitHubToken,
		"LOG_FILE":        &c.LogFile,
		"DB_PATH":         &c.DBPath,
	}
	for key, field := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"PORT":                     &c.Port,
		"GIT_TIMEOUT":              &c.GitTimeout,
		"SESSION_SIGNATURE_LENGTH": &c.SessionSignatureLength,
	}
	for key, field := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s must be an integer, got %q", EnvPrefix, key, v)
		}
		*field = n
	}

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = SplitList(v)
	}

	return nil
}

// SplitList splits a comma separated value, dropping empty items
func SplitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate returns every problem found, one human-readable line each
func (c *Config) Validate() []string {
	var problems []string

	if c.DataDir == "" {
		problems = append(problems, "  - missing required 'data_dir'")
	} else {
		problems = append(problems, validateDir("data_dir", c.DataDir)...)
	}

	if c.RepoDir != "" {
		problems = append(problems, validateDir("repo_dir", c.RepoDir)...)
	}

	if c.PasswordHash == "" {
		problems = append(problems, "  - missing required 'password_hash' (see 'cdnbox hash')")
	}

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("  - port must be between 1 and 65535, got %d", c.Port))
	}

	if err := security.ValidateRemoteName(c.Remote); err != nil {
		problems = append(problems, fmt.Sprintf("  - remote: %v", err))
	}
	if err := security.ValidateBranchName(c.Branch); err != nil {
		problems = append(problems, fmt.Sprintf("  - branch: %v", err))
	}

	if c.GitTimeout < 0 {
		problems = append(problems, fmt.Sprintf("  - git_timeout must be a positive integer, got %d", c.GitTimeout))
	}

	if n := c.SessionSignatureLength; n != 0 && (n < MinSignatureLength || n > MaxSignatureLength) {
		problems = append(problems, fmt.Sprintf("  - session_signature_length must be between %d and %d, got %d",
			MinSignatureLength, MaxSignatureLength, n))
	}

	for _, origin := range c.AllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			problems = append(problems, fmt.Sprintf("  - allowed_origins: %v", err))
		}
	}

	return problems
}

// Warnings returns non-fatal issues worth logging at startup
func (c *Config) Warnings() []string {
	var warnings []string

	switch {
	case c.WebhookSecret == "" || c.RepoDir == "":
		warnings = append(warnings, "webhook disabled: webhook_secret and repo_dir are both required")
	case security.IsWeakSecret(c.WebhookSecret):
		warnings = append(warnings, "webhook_secret looks weak; generate one with 'cdnbox secret'")
	}

	// Compared as-is against the submitted hash, so any string works; a
	// value that is not SHA-256 hex can never match the login page.
	if c.PasswordHash != "" {
		if err := security.ValidatePasswordHash(c.PasswordHash); err != nil {
			warnings = append(warnings, fmt.Sprintf("password_hash: %v; the bundled login page sends SHA-256 hex", err))
		}
	}

		if c.GitHubToken != "" && c.RepoDir == "" {
		warnings = append(warnings, "github_token is set but repo_dir is not; commit statuses will never be posted")
	}

	return warnings
}

// Err joins Validate problems into a single error, or returns nil
func (c *Config) Err() error {
	problems := c.Validate()
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GitTimeoutDuration returns the per-step git timeout
func (c *Config) GitTimeoutDuration() time.Duration {
	if c.GitTimeout <= 0 {
		return DefaultGitTimeout * time.Second
	}
	return time.Duration(c.GitTimeout) * time.Second
}

// WebhookEnabled reports whether the webhook endpoint can accept deliveries
func (c *Config) WebhookEnabled() bool {
	return c.WebhookSecret != "" && c.RepoDir != ""
}

func validateDir(field, dir string) []string {
	if !filepath.IsAbs(dir) {
		return []string{fmt.Sprintf("  - %s must be absolute, got '%s'", field, dir)}
	}
	if _, err := security.SanitizePath(dir); err != nil {
		return []string{fmt.Sprintf("  - %s: %v", field, err)}
	}
	if fileutil.DirExists(dir) {
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{fmt.Sprintf("  - %s does not exist: '%s'", field, dir)}
		}
		return []string{fmt.Sprintf("  - cannot stat %s '%s': %v", field, dir, err)}
	}
	if !info.IsDir() {
		return []string{fmt.Sprintf("  - %s is not a directory: '%s'", field, dir)}
	}
	return nil
}

func validateOrigin(origin string) error {
	if origin == "*" {
		return fmt.Errorf("wildcard origin cannot be combined with credentials")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("origin %q must be scheme://host", origin)
	}
	if u.Path != "" || u.RawQuery != "" {
		return fmt.Errorf("origin %q must not contain a path or trailing slash", origin)
	}
	return nil
}
