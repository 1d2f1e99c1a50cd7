package commands

import (
	"fmt"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/spf13/cobra"

	"graftfs/internal/common"
	"graftfs/internal/vfs"
)

var lsCmd = &cobra.Command{
	Use:   "ls <volume> [path]",
	Short: "List a directory inside a volume",
	Long: `List a directory inside a graftfs volume, resolved through the
VFS itself: symlinks in the path are followed the way an open would
follow them.

Examples:
  graftfs ls project
  graftfs ls project /src
  graftfs ls ~/data/project.graftfs /docs`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	proc, cleanup, err := openVolumeView(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	// "docs", "/docs" and "docs/" all address the same directory.
	target := "/"
	if len(args) > 1 {
		target = common.AbsolutePath(args[1])
	}

	fs := vfs.NewBillyAdapter(proc)
	fi, err := fs.Lstat(target)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	if !fi.IsDir() {
		printEntry(fs, path.Dir(target), fi)
		return nil
	}

	infos, err := fs.ReadDir(target)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	for _, info := range infos {
		printEntry(fs, target, info)
	}
	return nil
}

// printEntry prints one listing line: type, size, name. Directories get
// a trailing slash, symlinks show their target.
func printEntry(fs billy.Filesystem, dir string, fi os.FileInfo) {
	name := fi.Name()
	suffix := ""
	switch {
	case fi.IsDir():
		suffix = "/"
	case fi.Mode()&os.ModeSymlink != 0:
		if target, err := fs.Readlink(path.Join(dir, name)); err == nil {
			suffix = " -> " + target
		}
	}
	fmt.Printf("%s %8d  %s%s\n", typeChar(fi), fi.Size(), name, suffix)
}

func typeChar(fi os.FileInfo) string {
	switch {
	case fi.IsDir():
		return "d"
	case fi.Mode()&os.ModeSymlink != 0:
		return "l"
	default:
		return "-"
	}
}
