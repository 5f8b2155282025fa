package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "AUTODEVOPS_"
)

// Load loads configuration from an optional YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. GOOGLE_API_KEY, PAT_COMMENT / GITHUB_PAT, PR_URL, GITHUB_WEBHOOK_SECRET
//  2. AUTODEVOPS_* environment variables (AUTODEVOPS_REASONING_MODEL -> reasoning.model)
//  3. YAML config file at configPath (skipped when configPath is empty)
//  4. Hardcoded defaults
//
// Variables from a .env file in the working directory are loaded first but
// never override variables already present in the process environment.
//
// # Security Considerations
//
// The config file may carry credentials, so it MUST have 0600 or 0400
// permissions and be smaller than 1MB.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// topLevelKeys are the Config fields that live outside any section.
var topLevelKeys = map[string]bool{"pr_url": true}

// envKey maps AUTODEVOPS_TOOLS_LINT_TIMEOUT to tools.lint_timeout, splitting on
// the first underscore, and AUTODEVOPS_PR_URL to the top-level pr_url.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if topLevelKeys[lower] {
		return lower
	}
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// applyLegacyEnv applies the variable names used by the CI workflow.
// PAT_COMMENT takes precedence over GITHUB_PAT.
func applyLegacyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Credentials.GoogleAPIKey = Secret(v)
	}
	if v := getenv("PAT_COMMENT"); v != "" {
		cfg.Credentials.GitHubToken = Secret(v)
	} else if v := getenv("GITHUB_PAT"); v != "" {
		cfg.Credentials.GitHubToken = Secret(v)
	}
	if v := getenv("PR_URL"); v != "" {
		cfg.PRURL = v
	}
	if v := getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = Secret(v)
	}
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidConfig, info.Name())
	}

	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("%w: insecure config file permissions %v (expected 0600 or 0400)", ErrInvalidConfig, perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrInvalidConfig, info.Size(), maxConfigFileSize)
	}

	return nil
}
