package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/mosaic/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or change configuration",
	Long: `View or modify mosaic configuration.

Without arguments, displays the resolved configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config file.

User configuration is stored at ~/.config/mosaic/config.yaml.
Project-specific overrides can be placed in .mosaic.yaml, and any key can
be set from the environment as MOSAIC_<SECTION>_<KEY>.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			displayAllConfig(cmd, cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// configKeys lists every key in display order.
var configKeys = []string{
	"anthropic.api_key", "anthropic.model", "anthropic.max_tokens",
	"anthropic.use_bedrock", "anthropic.aws_region", "anthropic.aws_profile",
	"dispatch.concurrency_limit", "dispatch.task_timeout", "dispatch.strict_dependencies",
	"dispatch.provision_parallelism", "dispatch.fallback_dir", "dispatch.serial_fallback",
	"workspace.enabled", "workspace.base_dir", "workspace.branch_prefix",
	"worker.kind", "worker.command", "worker.max_iterations", "worker.allow_shell",
	"audit.enabled", "audit.driver", "audit.path", "audit.retention",
	"output.report_path", "output.tui", "output.refresh_rate",
}

func displayAllConfig(cmd *cobra.Command, c *config.Config) {
	out := cmd.OutOrStdout()
	for _, key := range configKeys {
		value, _ := getConfigValue(c, key)
		fmt.Fprintf(out, "%s: %s\n", key, value)
	}
	fmt.Fprintf(out, "\nAPI key source: %s\n", config.GetAPIKeySource(c))
	fmt.Fprintf(out, "User config: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(out, "Project config: %s\n", p)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(c *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		key, err := config.GetAPIKey(c)
		if err != nil || key == "" {
			return "(not set)", nil
		}
		return config.MaskAPIKey(key), nil
	case "anthropic.model":
		if c.Anthropic.Model == "" {
			return "(default)", nil
		}
		return c.Anthropic.Model, nil
	case "anthropic.max_tokens":
		return strconv.FormatInt(c.Anthropic.MaxTokens, 10), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(c.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return c.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return c.Anthropic.AWSProfile, nil
	case "dispatch.concurrency_limit":
		return strconv.Itoa(c.Dispatch.ConcurrencyLimit), nil
	case "dispatch.task_timeout":
		return c.Dispatch.TaskTimeout.String(), nil
	case "dispatch.strict_dependencies":
		return strconv.FormatBool(c.Dispatch.StrictDependencies), nil
	case "dispatch.provision_parallelism":
		return strconv.Itoa(c.Dispatch.ProvisionParallelism), nil
	case "dispatch.fallback_dir":
		return c.Dispatch.FallbackDir, nil
	case "dispatch.serial_fallback":
		return strconv.FormatBool(c.Dispatch.SerialFallback), nil
	case "workspace.enabled":
		return strconv.FormatBool(c.Workspace.Enabled), nil
	case "workspace.base_dir":
		return c.Workspace.BaseDir, nil
	case "workspace.branch_prefix":
		return c.Workspace.BranchPrefix, nil
	case "worker.kind":
		return c.Worker.Kind, nil
	case "worker.command":
		return c.Worker.Command, nil
	case "worker.max_iterations":
		return strconv.Itoa(c.Worker.MaxIterations), nil
	case "worker.allow_shell":
		return strconv.FormatBool(c.Worker.AllowShell), nil
	case "audit.enabled":
		return strconv.FormatBool(c.Audit.Enabled), nil
	case "audit.driver":
		return c.Audit.Driver, nil
	case "audit.path":
		return c.Audit.Path, nil
	case "audit.retention":
		return c.Audit.Retention.String(), nil
	case "output.report_path":
		return c.Output.ReportPath, nil
	case "output.tui":
		return strconv.FormatBool(c.Output.TUI), nil
	case "output.refresh_rate":
		return c.Output.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(c *config.Config, key, value string) error {
	var err error
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		c.Anthropic.APIKey = value
	case "anthropic.model":
		c.Anthropic.Model = value
	case "anthropic.max_tokens":
		c.Anthropic.MaxTokens, err = strconv.ParseInt(value, 10, 64)
	case "anthropic.use_bedrock":
		c.Anthropic.UseBedrock, err = strconv.ParseBool(value)
	case "anthropic.aws_region":
		c.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		c.Anthropic.AWSProfile = value
	case "dispatch.concurrency_limit":
		c.Dispatch.ConcurrencyLimit, err = strconv.Atoi(value)
	case "dispatch.task_timeout":
		c.Dispatch.TaskTimeout, err = time.ParseDuration(value)
	case "dispatch.strict_dependencies":
		c.Dispatch.StrictDependencies, err = strconv.ParseBool(value)
	case "dispatch.provision_parallelism":
		c.Dispatch.ProvisionParallelism, err = strconv.Atoi(value)
	case "dispatch.fallback_dir":
		c.Dispatch.FallbackDir = value
	case "dispatch.serial_fallback":
		c.Dispatch.SerialFallback, err = strconv.ParseBool(value)
	case "workspace.enabled":
		c.Workspace.Enabled, err = strconv.ParseBool(value)
	case "workspace.base_dir":
		c.Workspace.BaseDir = value
	case "workspace.branch_prefix":
		c.Workspace.BranchPrefix = value
	case "worker.kind":
		c.Worker.Kind = value
	case "worker.command":
		c.Worker.Command = value
	case "worker.max_iterations":
		c.Worker.MaxIterations, err = strconv.Atoi(value)
	case "worker.allow_shell":
		c.Worker.AllowShell, err = strconv.ParseBool(value)
	case "audit.enabled":
		c.Audit.Enabled, err = strconv.ParseBool(value)
	case "audit.driver":
		c.Audit.Driver = value
	case "audit.path":
		c.Audit.Path = value
	case "audit.retention":
		c.Audit.Retention, err = time.ParseDuration(value)
	case "output.report_path":
		c.Output.ReportPath = value
	case "output.tui":
		c.Output.TUI, err = strconv.ParseBool(value)
	case "output.refresh_rate":
		c.Output.RefreshRate, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}
