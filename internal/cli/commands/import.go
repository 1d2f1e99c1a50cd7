package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"graftfs/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import <source-dir> <volume>",
	Short: "Import a host directory tree into a volume",
	Long: `Import the contents of a host directory into a graftfs volume.

Files, directories, and symlinks are copied in batched transactions.
Names that already exist in the volume are left untouched and reported
as skipped, so importing over a populated volume is safe.

By default .gitignore files found in the source tree are honored and
hidden files are skipped.

Examples:
  # Import a project into a new volume
  graftfs import ./myproject project --create

  # Re-import, keeping gitignored files out but forcing one path in
  graftfs import ./myproject project --include dist/app.js

  # Take everything, dotfiles and gitignored files included
  graftfs import ./myproject project --include-hidden --no-gitignore`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var (
	importCreate        bool
	importNoGitignore   bool
	importIncludes      []string
	importExcludes      []string
	importBatchSize     int
	importAllowPartial  bool
	importIncludeHidden bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importCreate, "create", false, "Create the volume if it does not exist")
	importCmd.Flags().BoolVar(&importNoGitignore, "no-gitignore", false, "Do not honor .gitignore files in the source tree")
	importCmd.Flags().StringSliceVar(&importIncludes, "include", nil, "Paths to force-include even when gitignored (repeatable)")
	importCmd.Flags().StringSliceVar(&importExcludes, "exclude", nil, "Paths to exclude (repeatable, wins over --include)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "Files per transaction (default 100)")
	importCmd.Flags().BoolVar(&importAllowPartial, "allow-partial", false, "Continue when source files cannot be read (skips them)")
	importCmd.Flags().BoolVar(&importIncludeHidden, "include-hidden", false, "Include hidden files and directories")
}

func runImport(cmd *cobra.Command, args []string) error {
	absSource, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve source path: %w", err)
	}
	info, err := os.Stat(absSource)
	if err != nil {
		return fmt.Errorf("source not found: %s", absSource)
	}
	if !info.IsDir() {
		return fmt.Errorf("source is not a directory: %s", absSource)
	}

	volPath, err := resolveVolumePath(args[1], !importCreate)
	if err != nil {
		return err
	}

	var vol *storage.Volume
	if _, statErr := os.Stat(volPath); os.IsNotExist(statErr) && importCreate {
		fmt.Printf("Creating volume %s\n", volPath)
		vol, err = storage.Create(volPath)
	} else {
		vol, err = storage.Open(volPath)
	}
	if err != nil {
		return err
	}
	defer vol.Close()

	cfg := storage.DefaultBulkCopyConfig()
	cfg.AllowPartial = importAllowPartial
	cfg.SkipHidden = !importIncludeHidden
	if importBatchSize > 0 {
		cfg.BatchSize = importBatchSize
	}
	cfg.Filter = storage.BuildFileFilter(absSource, !importNoGitignore, importIncludes, importExcludes)

	copier := storage.NewBulkCopier(vol, cfg)
	result, err := copier.CopyFromDirectory(absSource)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d of %d files (%s) in %v\n",
		result.CopiedFiles, result.TotalFiles,
		formatBytes(result.CopiedBytes), result.Duration.Round(time.Millisecond))

	if len(result.SkippedFiles) > 0 {
		fmt.Printf("\nWarning: %d file(s) skipped:\n", len(result.SkippedFiles))
		for _, f := range result.SkippedFiles {
			fmt.Printf("  - %s\n", f)
		}
	}

	return nil
}
