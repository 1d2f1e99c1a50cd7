package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"graftfs/internal/storage"
	"graftfs/internal/vfs"
)

// volumeExt is the canonical volume file extension.
const volumeExt = ".graftfs"

// resolveVolumePath normalizes a user-supplied volume path: absolute,
// with the .graftfs extension appended when missing.
func resolveVolumePath(path string, mustExist bool) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(absPath, volumeExt) {
		absPath += volumeExt
	}
	if mustExist {
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("volume not found: %s", absPath)
		}
	}
	return absPath, nil
}

// openVolumeView opens a volume and builds a view over it: a namespace
// rooted at the volume's backend with one process attached. The cleanup
// function tears the process down and closes the volume.
func openVolumeView(path string) (*vfs.Process, func(), error) {
	volPath, err := resolveVolumePath(path, true)
	if err != nil {
		return nil, nil, err
	}
	vol, err := storage.Open(volPath)
	if err != nil {
		return nil, nil, err
	}
	limits := vfsLimits()
	ns := vfs.New(storage.NewBackend(vol, limits.MaxNlink), limits)
	proc := ns.NewProcess()
	cleanup := func() {
		proc.CloseAll()
		if err := vol.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close volume: %v\n", err)
		}
	}
	return proc, cleanup, nil
}

// formatBytes formats bytes in human-readable form
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
