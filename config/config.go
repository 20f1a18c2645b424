// Package config provides layered repository configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds repository configuration. Values layer in order: built-in
// defaults, then .kod/config.yaml, then KOD_* environment variables.
type Config struct {
	// Author is the identity recorded on commits and branch moves.
	Author string `yaml:"author"`
	// DefaultBranch is the branch seeded at init and protected by default.
	DefaultBranch string `yaml:"default_branch"`
	// DataDir is the directory holding the core database, relative to the
	// repository root unless absolute.
	DataDir string `yaml:"data_dir"`
	// ProtectDefault marks the default branch protected at init.
	ProtectDefault bool `yaml:"protect_default"`
	// GCKeepDays retains unreachable objects newer than this many days.
	GCKeepDays int `yaml:"gc_keep_days"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Author:         "anonymous",
		DefaultBranch:  "main",
		DataDir:        ".kod",
		ProtectDefault: true,
		GCKeepDays:     14,
	}
}

// Load builds the configuration for a repository directory.
func Load(dir string) (*Config, error) {
	cfg := Defaults()

	path := filepath.Join(dir, ".kod", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Author = getEnv("KOD_AUTHOR", c.Author)
	c.DefaultBranch = getEnv("KOD_DEFAULT_BRANCH", c.DefaultBranch)
	c.DataDir = getEnv("KOD_DATA_DIR", c.DataDir)
	c.ProtectDefault = getEnvBool("KOD_PROTECT_DEFAULT", c.ProtectDefault)
	c.GCKeepDays = getEnvInt("KOD_GC_KEEP_DAYS", c.GCKeepDays)
}

// Save writes the configuration to .kod/config.yaml under dir.
func (c *Config) Save(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	kodDir := filepath.Join(dir, ".kod")
	if err := os.MkdirAll(kodDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", kodDir, err)
	}
	path := filepath.Join(kodDir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ResolveDataDir returns the absolute data directory for a repository root.
func (c *Config) ResolveDataDir(root string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
