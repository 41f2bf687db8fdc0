// API key lookup, validation and masking.
package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// apiKeyEnv lists the variables checked for a key, in order.
var apiKeyEnv = []string{"MOSAIC_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "aws_bedrock"
	KeySourceNone    KeySource = "none"
)

// GetAPIKey returns the Anthropic API key.
// Environment variables win over the config file. Bedrock needs no key and
// returns an empty key with a nil error.
func GetAPIKey(cfg *Config) (string, error) {
	if key := envKey(); key != "" {
		return key, nil
	}
	if key := fileKey(cfg); key != "" {
		return key, nil
	}
	if cfg != nil && cfg.Anthropic.UseBedrock {
		return "", nil
	}
	return "", ErrNoAPIKey
}

// GetAPIKeySource returns where the API key was sourced from.
func GetAPIKeySource(cfg *Config) KeySource {
	switch {
	case envKey() != "":
		return KeySourceEnv
	case fileKey(cfg) != "":
		return KeySourceConfig
	case cfg != nil && cfg.Anthropic.UseBedrock:
		return KeySourceBedrock
	default:
		return KeySourceNone
	}
}

func envKey() string {
	for _, name := range apiKeyEnv {
		if key := os.Getenv(name); key != "" {
			return key
		}
	}
	return ""
}

// fileKey ignores unexpanded ${VAR} references.
func fileKey(cfg *Config) string {
	if cfg == nil || cfg.Anthropic.APIKey == "" {
		return ""
	}
	key := os.ExpandEnv(cfg.Anthropic.APIKey)
	if strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAPIKey checks the key's format. It does not contact Anthropic.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns the key with everything but the prefix and last four characters hidden.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
