// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the operator's client configuration: where the
// management API lives and how to authenticate against it. The file is
// YAML, found via the --config flag, the ROOTSMITH_CONFIG environment
// variable, or the default path under the user's home directory.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default configuration file location.
const EnvConfigPath = "ROOTSMITH_CONFIG"

// Config is the operator's client configuration.
type Config struct {
	// ServerURL is the management API base URL.
	ServerURL string `yaml:"server_url"`

	// AccessToken authenticates management API requests. Optional for
	// deployments that front the API with ambient authentication.
	AccessToken string `yaml:"access_token"`
}

// DefaultPath returns the default configuration file location,
// ~/.config/rootsmith/config.yml, or an empty string when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rootsmith", "config.yml")
}

// ResolvePath picks the configuration file path: an explicit flag
// value wins, then the environment variable, then the default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if fromEnv := os.Getenv(EnvConfigPath); fromEnv != "" {
		return fromEnv
	}
	return DefaultPath()
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: no configuration path available")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for structural problems. All
// problems are reported at once.
func (c *Config) Validate() error {
	var problems []error

	if c.ServerURL == "" {
		problems = append(problems, errors.New("server_url is required"))
	} else {
		parsed, err := url.Parse(c.ServerURL)
		if err != nil {
			problems = append(problems, fmt.Errorf("server_url: %w", err))
		} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
			problems = append(problems, fmt.Errorf("server_url scheme %q is not http or https", parsed.Scheme))
		}
	}

	return errors.Join(problems...)
}

// Save writes the configuration to path, creating parent directories
// as needed. The file is operator-private since it may carry a token.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	encoded, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
