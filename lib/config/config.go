// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for forge commands.
//
// Configuration is loaded from a single YAML file specified by:
//   - FORGE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; environment variables never override
// loaded values. The only expansion performed is ${VAR} and
// ${VAR:-default} in path fields, for portability across machines.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for forge.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Build configures the image build pipeline.
	Build BuildConfig `yaml:"build"`

	// Fuzz configures the fuzz orchestrator.
	Fuzz FuzzConfig `yaml:"fuzz"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for forge data.
	Root string `yaml:"root"`

	// Cache is the content-addressed artifact store.
	Cache string `yaml:"cache"`

	// Scratch hosts per-assembly working directories. Must be on the
	// same filesystem as Images so publication stays a rename.
	Scratch string `yaml:"scratch"`

	// Images is where finished images publish.
	Images string `yaml:"images"`

	// RunLog is the append-only run record file. Empty disables
	// record emission.
	RunLog string `yaml:"run_log"`
}

// BuildConfig configures the image build pipeline.
type BuildConfig struct {
	// Parallelism bounds concurrent version builds. Default 2.
	Parallelism int `yaml:"parallelism"`

	// Compression is the artifact store compression algorithm:
	// "lz4" (default), "zstd", or "none".
	Compression string `yaml:"compression"`

	// DescriptorDir, when set, overrides the embedded version
	// descriptors with an on-disk directory of .jsonc files.
	DescriptorDir string `yaml:"descriptor_dir"`
}

// FuzzConfig configures the fuzz orchestrator.
type FuzzConfig struct {
	// Iterations is the randomized iteration count. Default 10.
	Iterations int `yaml:"iterations"`

	// NumOps is the operation count per session. Default 500.
	NumOps int `yaml:"num_ops"`

	// Concurrency is the session count per iteration in concurrent
	// mode. Default 4.
	Concurrency int `yaml:"concurrency"`

	// SessionTimeout bounds one concurrent session, as a Go duration
	// string. Default "30s".
	SessionTimeout string `yaml:"session_timeout"`
}

// SessionTimeoutDuration parses the configured session timeout.
func (c *FuzzConfig) SessionTimeoutDuration() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.SessionTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing fuzz.session_timeout: %w", err)
	}
	return timeout, nil
}

// Default returns the default configuration. It exists to give every
// field a sensible value under a partial config file, not as a
// substitute for one.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "forge")

	return &Config{
		Paths: PathsConfig{
			Root:    defaultRoot,
			Cache:   filepath.Join(defaultRoot, "cache"),
			Scratch: filepath.Join(defaultRoot, "scratch"),
			Images:  filepath.Join(defaultRoot, "images"),
			RunLog:  filepath.Join(defaultRoot, "runs.jsonl"),
		},
		Build: BuildConfig{
			Parallelism: 2,
			Compression: "lz4",
		},
		Fuzz: FuzzConfig{
			Iterations:     10,
			NumOps:         500,
			Concurrency:    4,
			SessionTimeout: "30s",
		},
	}
}

// Load loads configuration from the FORGE_CONFIG environment
// variable. There are no fallbacks: if FORGE_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("FORGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("FORGE_CONFIG environment variable not set; " +
			"set it to the path of your forge.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"FORGE_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["FORGE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Cache = expandVars(c.Paths.Cache, vars)
	c.Paths.Scratch = expandVars(c.Paths.Scratch, vars)
	c.Paths.Images = expandVars(c.Paths.Images, vars)
	c.Paths.RunLog = expandVars(c.Paths.RunLog, vars)
	c.Build.DescriptorDir = expandVars(c.Build.DescriptorDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Cache == "" {
		errs = append(errs, fmt.Errorf("paths.cache is required"))
	}
	if c.Paths.Scratch == "" {
		errs = append(errs, fmt.Errorf("paths.scratch is required"))
	}
	if c.Paths.Images == "" {
		errs = append(errs, fmt.Errorf("paths.images is required"))
	}

	if c.Build.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("build.parallelism must be at least 1"))
	}
	switch c.Build.Compression {
	case "lz4", "zstd", "none":
	default:
		errs = append(errs, fmt.Errorf("build.compression must be one of: lz4, zstd, none"))
	}

	if c.Fuzz.Iterations < 1 {
		errs = append(errs, fmt.Errorf("fuzz.iterations must be at least 1"))
	}
	if c.Fuzz.NumOps < 1 {
		errs = append(errs, fmt.Errorf("fuzz.num_ops must be at least 1"))
	}
	if c.Fuzz.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("fuzz.concurrency must be at least 1"))
	}
	if timeout, err := c.Fuzz.SessionTimeoutDuration(); err != nil {
		errs = append(errs, err)
	} else if timeout <= 0 {
		errs = append(errs, fmt.Errorf("fuzz.session_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Cache, c.Paths.Scratch, c.Paths.Images} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
