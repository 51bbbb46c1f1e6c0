// Package config provides configuration management for the quartet CLI.
// Values are resolved from built-in defaults, then an optional YAML config
// file, then QUARTET_-prefixed environment variables, highest last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Verbosity represents the console output verbosity level
type Verbosity string

const (
	// VerbosityNormal shows only essential output
	VerbosityNormal Verbosity = "normal"
	// VerbosityVerbose includes step descriptions and timing
	VerbosityVerbose Verbosity = "verbose"
	// VerbosityDebug provides full debug logging
	VerbosityDebug Verbosity = "debug"
)

const envPrefix = "QUARTET_"

// defaultsYAML seeds the koanf tree before file and environment overlays.
var defaultsYAML = []byte(`
verbosity: normal
log_format: console
openai:
  enabled: true
  model: gpt-4o-mini
  base_url: https://api.openai.com/v1
  api_key_env: OPENAI_API_KEY
  temperature: 0.2
  max_output_tokens: 1024
  timeout: 60s
sandbox:
  allow_package_installs: false
  allow_cli_tools: false
  command_timeout: 10m
`)

// OpenAIConfig holds model endpoint configuration
type OpenAIConfig struct {
	// Enabled controls whether live model calls are attempted at all
	Enabled bool `koanf:"enabled"`

	// Model is the chat model requested from the endpoint
	Model string `koanf:"model"`

	// BaseURL is the OpenAI-compatible endpoint base URL
	BaseURL string `koanf:"base_url"`

	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `koanf:"api_key_env"`

	// Temperature is the sampling temperature for model calls
	Temperature float64 `koanf:"temperature"`

	// MaxOutputTokens caps the length of a single model response
	MaxOutputTokens int `koanf:"max_output_tokens"`

	// Timeout bounds a single model call
	Timeout Duration `koanf:"timeout"`
}

// SandboxConfig holds command execution policy configuration
type SandboxConfig struct {
	// AllowPackageInstalls permits package manager install commands
	AllowPackageInstalls bool `koanf:"allow_package_installs"`

	// AllowCLITools permits scaffolding CLI tool invocations
	AllowCLITools bool `koanf:"allow_cli_tools"`

	// CommandTimeout bounds a single sandboxed command
	CommandTimeout Duration `koanf:"command_timeout"`
}

// Config holds all configuration for the quartet CLI
type Config struct {
	// StateDir is the root directory holding runs.db, snapshots,
	// restores, dist packages and command logs
	StateDir string `koanf:"state_dir"`

	// Verbosity controls console output level
	Verbosity Verbosity `koanf:"verbosity"`

	// LogFormat selects the logger encoder: console or json
	LogFormat string `koanf:"log_format"`

	// OpenAI holds model endpoint configuration
	OpenAI OpenAIConfig `koanf:"openai"`

	// Sandbox holds command execution policy configuration
	Sandbox SandboxConfig `koanf:"sandbox"`
}

// Load resolves configuration from defaults, an optional YAML file and
// the environment. An empty configPath falls back to
// ~/.config/quartet/config.yaml when that file exists.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "quartet", "config.yaml")
	}

	content, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case os.IsNotExist(err) && !explicit:
		// The default config file is optional.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envTransform maps QUARTET_SECTION_FIELD_NAME variables onto koanf keys.
// Only known section prefixes become nested keys, so top-level fields may
// themselves contain underscores (QUARTET_STATE_DIR -> state_dir,
// QUARTET_OPENAI_BASE_URL -> openai.base_url).
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 2 {
		switch parts[0] {
		case "openai", "sandbox":
			return parts[0] + "." + parts[1]
		}
	}
	return s
}

func (c *Config) applyDefaults() error {
	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.StateDir = filepath.Join(home, ".quartet")
	}
	return nil
}

// Validate checks configuration invariants after loading.
func (c *Config) Validate() error {
	switch c.Verbosity {
	case VerbosityNormal, VerbosityVerbose, VerbosityDebug:
	default:
		return fmt.Errorf("verbosity must be one of: normal, verbose, debug; got: %s", c.Verbosity)
	}

	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be console or json, got: %s", c.LogFormat)
	}

	if !filepath.IsAbs(c.StateDir) {
		return fmt.Errorf("state_dir must be an absolute path, got: %s", c.StateDir)
	}

	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("openai.temperature must be between 0 and 2, got: %g", c.OpenAI.Temperature)
	}
	if c.OpenAI.MaxOutputTokens <= 0 {
		return fmt.Errorf("openai.max_output_tokens must be positive, got: %d", c.OpenAI.MaxOutputTokens)
	}
	if c.OpenAI.Timeout.Duration() <= 0 {
		return fmt.Errorf("openai.timeout must be positive, got: %s", c.OpenAI.Timeout.Duration())
	}
	if c.Sandbox.CommandTimeout.Duration() <= 0 {
		return fmt.Errorf("sandbox.command_timeout must be positive, got: %s", c.Sandbox.CommandTimeout.Duration())
	}

	return nil
}

// IsVerbose returns true if verbosity is verbose or debug
func (c *Config) IsVerbose() bool {
	return c.Verbosity == VerbosityVerbose || c.Verbosity == VerbosityDebug
}

// IsDebug returns true if verbosity is debug
func (c *Config) IsDebug() bool {
	return c.Verbosity == VerbosityDebug
}

// APIKey resolves the model API key from the configured environment
// variable. Empty when unset.
func (c *OpenAIConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Paths locates the on-disk layout under the state directory
type Paths struct {
	// StateDir is the root state directory
	StateDir string

	// DatabasePath is the SQLite run store file
	DatabasePath string

	// SnapshotsDir holds pre-run workspace archives
	SnapshotsDir string

	// RestoresDir holds staged rollback copies
	RestoresDir string

	// DistDir holds packaged run archives
	DistDir string

	// LogsDir holds per-run command logs
	LogsDir string
}

// Paths derives the state layout from the configured state directory
func (c *Config) Paths() Paths {
	return Paths{
		StateDir:     c.StateDir,
		DatabasePath: filepath.Join(c.StateDir, "runs.db"),
		SnapshotsDir: filepath.Join(c.StateDir, "snapshots"),
		RestoresDir:  filepath.Join(c.StateDir, "restores"),
		DistDir:      filepath.Join(c.StateDir, "dist"),
		LogsDir:      filepath.Join(c.StateDir, "logs"),
	}
}

// RunLogsDir returns the command log directory for a single run
func (p Paths) RunLogsDir(runID string) string {
	return filepath.Join(p.LogsDir, runID)
}

// Ensure creates every state directory that does not exist yet
func (p Paths) Ensure() error {
	for _, dir := range []string{p.StateDir, p.SnapshotsDir, p.RestoresDir, p.DistDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}
