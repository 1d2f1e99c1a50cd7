package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"graftfs/internal/common"
	"graftfs/internal/vfs"
)

var catCmd = &cobra.Command{
	Use:   "cat <volume> <path>...",
	Short: "Print file contents from a volume",
	Long: `Read one or more files out of a graftfs volume and write them to
standard output. Paths resolve inside the volume, symlinks included.

Examples:
  graftfs cat project /README.md
  graftfs cat project /src/main.go /src/util.go`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	proc, cleanup, err := openVolumeView(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	fs := vfs.NewBillyAdapter(proc)
	for _, p := range args[1:] {
		f, err := fs.Open(common.AbsolutePath(p))
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if _, err := io.Copy(os.Stdout, f); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", p, err)
		}
		f.Close()
	}
	return nil
}
