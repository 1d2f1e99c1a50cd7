// Copyright 2025 GraftFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"graftfs/internal/config"
	"graftfs/internal/storage"
	"graftfs/internal/vfs"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	// Prod build: version with date
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

// globalSettings holds the settings loaded by PersistentPreRunE for the
// command that runs afterwards.
var globalSettings *config.GlobalSettings

var rootCmd = &cobra.Command{
	Use:   "graftfs",
	Short: "Virtual filesystem over pluggable inode-store backends",
	Long: `graftfs grafts in-memory and SQLite-backed filesystems into one
mount namespace and exposes it through a syscall-style interface.

The CLI works on volume files directly: create them, inspect them,
bulk-import host directories, and read them back through the VFS.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Initialize config directory
		if err := config.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		settings, err := config.LoadGlobalSettings()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		globalSettings = settings

		configureLogging(settings.LogLevel)
		if settings.BusyTimeoutMS > 0 {
			storage.SetConfigBusyTimeout(settings.BusyTimeoutMS)
		}

		return nil
	},
}

// configureLogging routes logrus to stderr at the configured level.
// "off" (and anything unrecognized) silences logging entirely.
func configureLogging(level string) {
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	default:
		logrus.SetOutput(io.Discard)
		return
	}
	logrus.SetOutput(os.Stderr)
}

// vfsLimits builds namespace limits from the loaded settings.
func vfsLimits() vfs.Limits {
	s := globalSettings
	if s == nil {
		return vfs.DefaultLimits()
	}
	return vfs.Limits{
		MaxOpenFiles:    s.MaxOpenFiles,
		MaxMounts:       s.MaxMounts,
		MaxSymlinkDepth: s.MaxSymlinkDepth,
		MaxNlink:        uint32(s.MaxNlink),
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("graftfs version {{.Version}}\n")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
