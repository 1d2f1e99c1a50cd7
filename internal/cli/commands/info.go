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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"graftfs/internal/storage"
)

var infoCmd = &cobra.Command{
	Use:   "info <volume>",
	Short: "Show identity and usage counters for a volume",
	Long: `Show information about a graftfs volume: its identity, schema
version, inode count, stored content size, and size on disk.

Examples:
  graftfs info project
  graftfs info ~/data/project.graftfs`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	volPath, err := resolveVolumePath(args[0], true)
	if err != nil {
		return err
	}

	vol, err := storage.Open(volPath)
	if err != nil {
		return err
	}
	defer vol.Close()

	ctx := context.Background()
	db := vol.BunDB()

	fmt.Printf("Volume: %s\n", volPath)

	if id, err := vol.VolumeID(); err == nil {
		fmt.Printf("Volume id: %s\n", id)
	}
	if created, err := db.GetSchemaInfo(ctx, "created_at"); err == nil {
		fmt.Printf("Created: %s\n", created)
	}
	if ver, err := db.GetSchemaInfo(ctx, "version"); err == nil {
		fmt.Printf("Schema version: %s\n", ver)
	}

	inodes, err := db.CountInodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to count inodes: %w", err)
	}
	fmt.Printf("Inodes: %d\n", inodes)

	contentBytes, err := db.TotalFileBytes(ctx)
	if err != nil {
		return fmt.Errorf("failed to sum file sizes: %w", err)
	}
	fmt.Printf("Content: %s\n", formatBytes(contentBytes))

	if fi, err := os.Stat(volPath); err == nil {
		fmt.Printf("Size on disk: %s\n", formatBytes(fi.Size()))
	}

	return nil
}
