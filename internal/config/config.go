// Package config loads and persists global graftfs settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"graftfs/internal/artifacts"
)

// getConfigDir returns the config directory path.
// Uses GRAFTFS_CONFIG_DIR env var if set, otherwise defaults to ~/.graftfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("GRAFTFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".graftfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// GlobalSettingsPath returns the global settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create default global settings file if not exists (using template)
	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}

	return nil
}

// GlobalSettings represents global graftfs settings
type GlobalSettings struct {
	LogLevel        string `yaml:"log_level"`         // Log level: trace, debug, info, warn, off (default: off)
	BusyTimeoutMS   int    `yaml:"busy_timeout_ms"`   // SQLite busy_timeout for volume files (ms), 0 = use default
	MaxOpenFiles    int    `yaml:"max_open_files"`    // Per-process descriptor table size (default: 1024)
	MaxMounts       int    `yaml:"max_mounts"`        // Namespace-wide mount cap (default: 256)
	MaxSymlinkDepth int    `yaml:"max_symlink_depth"` // Symlink expansions per resolution (default: 32)
	MaxNlink        int    `yaml:"max_nlink"`         // Hard link cap per inode (default: 65535)
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *GlobalSettings) ApplyDefaults() {
	if s.LogLevel == "" {
		s.LogLevel = "off"
	}
	if s.MaxOpenFiles <= 0 {
		s.MaxOpenFiles = 1024
	}
	if s.MaxMounts <= 0 {
		s.MaxMounts = 256
	}
	if s.MaxSymlinkDepth <= 0 {
		s.MaxSymlinkDepth = 32
	}
	if s.MaxNlink <= 0 {
		s.MaxNlink = 65535
	}
}

// applyEnvOverrides lets the environment win over the settings file, so
// one-off runs can change behavior without editing ~/.graftfs.
func (s *GlobalSettings) applyEnvOverrides() {
	if lvl := os.Getenv("GRAFTFS_LOG_LEVEL"); lvl != "" {
		s.LogLevel = lvl
	}
	if v := os.Getenv("GRAFTFS_BUSY_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			s.BusyTimeoutMS = ms
		}
	}
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	settings.ApplyDefaults()
	return settings
}

// LoadGlobalSettings loads the global settings from ~/.graftfs/settings.yaml.
// Always reads from file to get latest config. Falls back to embedded defaults if file doesn't exist.
func LoadGlobalSettings() (*GlobalSettings, error) {
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults from embedded artifact
			settings := loadDefaultGlobalSettings()
			settings.applyEnvOverrides()
			return &settings, nil
		}
		return nil, err
	}

	var settings GlobalSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	settings.ApplyDefaults()
	settings.applyEnvOverrides()

	return &settings, nil
}

// SaveGlobalSettings saves the global settings to ~/.graftfs/settings.yaml
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	// Add header comment (same as template header)
	header := []byte("# GraftFS settings\n# See: graftfs --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}
