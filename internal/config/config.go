// Package config handles configuration loading and management for mosaic.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigName is the file searched for in the working directory and its parents.
const ProjectConfigName = ".mosaic.yaml"

// Worker kinds.
const (
	WorkerClaude  = "claude"
	WorkerCommand = "command"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for mosaic.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Output    OutputConfig    `mapstructure:"output"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// DispatchConfig controls how tiers are executed.
type DispatchConfig struct {
	// ConcurrencyLimit bounds the number of tasks running at once within a tier.
	ConcurrencyLimit int `mapstructure:"concurrency_limit"`
	// TaskTimeout bounds a single worker invocation.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// StrictDependencies groups by the dependency graph instead of priority.
	StrictDependencies bool `mapstructure:"strict_dependencies"`
	// ProvisionParallelism bounds concurrent workspace creation.
	ProvisionParallelism int `mapstructure:"provision_parallelism"`
	// FallbackDir is used by tasks whose workspace could not be provisioned.
	// Empty means the current directory.
	FallbackDir string `mapstructure:"fallback_dir"`
	// SerialFallback lets only one degraded task use the fallback directory at a time.
	SerialFallback bool `mapstructure:"serial_fallback"`
}

// WorkspaceConfig controls per-task isolation.
type WorkspaceConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseDir      string `mapstructure:"base_dir"`
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// WorkerConfig selects what performs a task.
type WorkerConfig struct {
	Kind          string `mapstructure:"kind"`
	Command       string `mapstructure:"command"`
	MaxIterations int    `mapstructure:"max_iterations"`
	AllowShell    bool   `mapstructure:"allow_shell"`
}

// AuditConfig controls the run history database.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	// Path overrides the project database location.
	Path string `mapstructure:"path"`
	// Retention removes runs older than this on startup. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

// OutputConfig holds report and display settings.
type OutputConfig struct {
	ReportPath  string        `mapstructure:"report_path"`
	TUI         bool          `mapstructure:"tui"`
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (MOSAIC_<SECTION>_<KEY>, ANTHROPIC_API_KEY)
// 2. Project config (.mosaic.yaml in current directory or parent)
// 3. User config (~/.config/mosaic/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return decode(v)
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Worker.Command = expandEnv(cfg.Worker.Command)
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MOSAIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "MOSAIC_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
}

// Validate checks values that would make a run misbehave.
func (c *Config) Validate() error {
	var problems []string
	if c.Dispatch.ConcurrencyLimit < 1 {
		problems = append(problems, fmt.Sprintf("dispatch.concurrency_limit must be at least 1, got %d", c.Dispatch.ConcurrencyLimit))
	}
	if c.Dispatch.TaskTimeout <= 0 {
		problems = append(problems, "dispatch.task_timeout must be positive")
	}
	if c.Dispatch.ProvisionParallelism < 1 {
		problems = append(problems, "dispatch.provision_parallelism must be at least 1")
	}
	switch c.Worker.Kind {
	case WorkerClaude:
	case WorkerCommand:
		if strings.TrimSpace(c.Worker.Command) == "" {
			problems = append(problems, "worker.command is required when worker.kind is command")
		}
	default:
		problems = append(problems, fmt.Sprintf("worker.kind must be %q or %q, got %q", WorkerClaude, WorkerCommand, c.Worker.Kind))
	}
	if c.Audit.Enabled && c.Audit.Driver != "sqlite" && c.Audit.Driver != "sqlite3" {
		problems = append(problems, fmt.Sprintf("audit.driver must be sqlite or sqlite3, got %q", c.Audit.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Save writes the configuration to the user config file.
// The API key is only written when it came from the file, never from the environment.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	if GetAPIKeySource(cfg) != KeySourceEnv {
		v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	}
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("dispatch.concurrency_limit", cfg.Dispatch.ConcurrencyLimit)
	v.Set("dispatch.task_timeout", cfg.Dispatch.TaskTimeout.String())
	v.Set("dispatch.strict_dependencies", cfg.Dispatch.StrictDependencies)
	v.Set("dispatch.provision_parallelism", cfg.Dispatch.ProvisionParallelism)
	v.Set("dispatch.fallback_dir", cfg.Dispatch.FallbackDir)
	v.Set("dispatch.serial_fallback", cfg.Dispatch.SerialFallback)
	v.Set("workspace.enabled", cfg.Workspace.Enabled)
	v.Set("workspace.base_dir", cfg.Workspace.BaseDir)
	v.Set("workspace.branch_prefix", cfg.Workspace.BranchPrefix)
	v.Set("worker.kind", cfg.Worker.Kind)
	v.Set("worker.command", cfg.Worker.Command)
	v.Set("worker.max_iterations", cfg.Worker.MaxIterations)
	v.Set("worker.allow_shell", cfg.Worker.AllowShell)
	v.Set("audit.enabled", cfg.Audit.Enabled)
	v.Set("audit.driver", cfg.Audit.Driver)
	v.Set("audit.path", cfg.Audit.Path)
	v.Set("audit.retention", cfg.Audit.Retention.String())
	v.Set("output.report_path", cfg.Output.ReportPath)
	v.Set("output.tui", cfg.Output.TUI)
	v.Set("output.refresh_rate", cfg.Output.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("dispatch.concurrency_limit", d.Dispatch.ConcurrencyLimit)
	v.SetDefault("dispatch.task_timeout", d.Dispatch.TaskTimeout.String())
	v.SetDefault("dispatch.strict_dependencies", false)
	v.SetDefault("dispatch.provision_parallelism", d.Dispatch.ProvisionParallelism)
	v.SetDefault("dispatch.fallback_dir", "")
	v.SetDefault("dispatch.serial_fallback", d.Dispatch.SerialFallback)

	v.SetDefault("workspace.enabled", d.Workspace.Enabled)
	v.SetDefault("workspace.base_dir", d.Workspace.BaseDir)
	v.SetDefault("workspace.branch_prefix", d.Workspace.BranchPrefix)

	v.SetDefault("worker.kind", d.Worker.Kind)
	v.SetDefault("worker.command", "")
	v.SetDefault("worker.max_iterations", d.Worker.MaxIterations)
	v.SetDefault("worker.allow_shell", d.Worker.AllowShell)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.driver", d.Audit.Driver)
	v.SetDefault("audit.path", "")
	v.SetDefault("audit.retention", "0s")

	v.SetDefault("output.report_path", "")
	v.SetDefault("output.tui", false)
	v.SetDefault("output.refresh_rate", d.Output.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for mosaic.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mosaic")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "mosaic")
	}
	return filepath.Join(home, ".config", "mosaic")
}

// findProjectConfig searches for .mosaic.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			MaxTokens: 8192,
		},
		Dispatch: DispatchConfig{
			ConcurrencyLimit:     3,
			TaskTimeout:          15 * time.Minute,
			ProvisionParallelism: 4,
			SerialFallback:       true,
		},
		Workspace: WorkspaceConfig{
			Enabled:      true,
			BaseDir:      filepath.Join(".mosaic", "worktrees"),
			BranchPrefix: "mosaic",
		},
		Worker: WorkerConfig{
			Kind:          WorkerClaude,
			MaxIterations: 40,
			AllowShell:    true,
		},
		Audit: AuditConfig{
			Enabled: true,
			Driver:  "sqlite",
		},
		Output: OutputConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
