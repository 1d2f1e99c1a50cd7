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

	"github.com/spf13/cobra"

	"graftfs/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init <volume>",
	Short: "Create an empty graftfs volume",
	Long: `Create a new graftfs volume file with an empty root directory.

The .graftfs extension is appended when missing. Each volume gets a
stable identity (UUID) that 'graftfs info' reports.

Examples:
  graftfs init project
  graftfs init ~/data/project.graftfs`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	volPath, err := resolveVolumePath(args[0], false)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	vol, err := storage.Create(volPath)
	if err != nil {
		return err
	}
	defer vol.Close()

	id, err := vol.VolumeID()
	if err != nil {
		return fmt.Errorf("failed to read volume id: %w", err)
	}

	fmt.Printf("Initialized empty graftfs volume in %s\n", volPath)
	fmt.Printf("  volume id: %s\n", id)
	return nil
}
