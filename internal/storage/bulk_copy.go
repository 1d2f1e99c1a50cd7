package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/uptrace/bun"

	"graftfs/internal/common"
)

// BulkCopyConfig configures the bulk import behavior
type BulkCopyConfig struct {
	// BatchSize is the number of files to batch per transaction (default: 100)
	BatchSize int
	// SkipHidden skips hidden files (starting with '.' or '._')
	SkipHidden bool
	// AllowPartial continues on read errors and collects skipped files
	AllowPartial bool
	// Filter is an optional file filter function. If provided, only files for
	// which Filter(relPath, isDir) returns true will be included.
	// If nil, all files (respecting SkipHidden) are included.
	Filter FileFilter
}

// DefaultBulkCopyConfig returns the default configuration
func DefaultBulkCopyConfig() BulkCopyConfig {
	return BulkCopyConfig{
		BatchSize:    100,
		SkipHidden:   true,
		AllowPartial: false,
	}
}

// BulkCopyResult contains the result of a bulk import operation
type BulkCopyResult struct {
	TotalFiles   int
	CopiedFiles  int
	TotalBytes   int64
	CopiedBytes  int64
	SkippedFiles []string
	Duration     time.Duration
}

// BulkCopier imports host directory trees into a Volume. Names that
// already exist in the volume are left untouched and reported as skipped,
// so re-importing over a populated volume never corrupts link counts.
type BulkCopier struct {
	vol      *Volume
	db       *BunDB
	config   BulkCopyConfig
	result   *BulkCopyResult
	dirCache map[string]int64
}

// FileItem represents a file to be copied
type FileItem struct {
	RelPath    string      // Path inside the volume, always starting with /
	SrcPath    string      // Absolute source path
	Info       os.FileInfo // File info
	Content    []byte      // File content (nil for directories/symlinks)
	LinkTarget string      // Symlink target (only for symlinks)
}

// NewBulkCopier creates a new BulkCopier with the given configuration
func NewBulkCopier(vol *Volume, config BulkCopyConfig) *BulkCopier {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &BulkCopier{
		vol:      vol,
		db:       vol.BunDB(),
		config:   config,
		result:   &BulkCopyResult{},
		dirCache: map[string]int64{"/": RootIno},
	}
}

// CopyFromDirectory copies all files from a source directory into the volume
func (bc *BulkCopier) CopyFromDirectory(sourcePath string) (*BulkCopyResult, error) {
	start := time.Now()

	resolvedSource, err := filepath.EvalSymlinks(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}

	if err := bc.optimizePragmas(); err != nil {
		return nil, fmt.Errorf("failed to optimize PRAGMAs: %w", err)
	}
	defer bc.restorePragmas()

	// Collect all files first (allows for better batching)
	var files []FileItem
	err = filepath.Walk(resolvedSource, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if bc.config.AllowPartial {
				bc.result.SkippedFiles = append(bc.result.SkippedFiles, path+": "+walkErr.Error())
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return walkErr
		}

		relPath, err := filepath.Rel(resolvedSource, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		if bc.config.SkipHidden {
			baseName := filepath.Base(path)
			if len(baseName) > 0 && baseName[0] == '.' {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if len(baseName) >= 2 && baseName[:2] == "._" {
				return nil
			}
		}

		if bc.config.Filter != nil {
			if !bc.config.Filter(relPath, info.IsDir()) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		item := FileItem{
			RelPath: "/" + filepath.ToSlash(relPath),
			SrcPath: path,
			Info:    info,
		}

		if info.Mode().IsRegular() {
			content, err := os.ReadFile(path)
			if err != nil {
				if bc.config.AllowPartial {
					bc.result.SkippedFiles = append(bc.result.SkippedFiles, path+": "+err.Error())
					return nil
				}
				return err
			}
			item.Content = content
			bc.result.TotalBytes += int64(len(content))
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				if bc.config.AllowPartial {
					bc.result.SkippedFiles = append(bc.result.SkippedFiles, path+": "+err.Error())
					return nil
				}
				return err
			}
			item.LinkTarget = target
		}

		files = append(files, item)
		bc.result.TotalFiles++
		return nil
	})

	if err != nil {
		return bc.result, err
	}

	if err := bc.copyFilesBatched(files); err != nil {
		return bc.result, err
	}

	bc.result.Duration = time.Since(start)
	return bc.result, nil
}

// optimizePragmas sets PRAGMA values optimized for bulk operations
func (bc *BulkCopier) optimizePragmas() error {
	ctx := context.Background()
	pragmas := []string{
		"PRAGMA cache_size = -65536", // 64MB cache
		"PRAGMA temp_store = MEMORY", // RAM for temp tables
	}
	for _, pragma := range pragmas {
		// Non-fatal: continue without this optimization
		if _, err := bc.db.ExecContext(ctx, pragma); err != nil {
			continue
		}
	}
	return nil
}

// restorePragmas restores the steady-state PRAGMA values after bulk operations
func (bc *BulkCopier) restorePragmas() {
	ctx := context.Background()
	bc.db.ExecContext(ctx, "PRAGMA cache_size = -8000")
	bc.db.ExecContext(ctx, "PRAGMA temp_store = DEFAULT")
}

// copyFilesBatched copies files in batches with transactions
func (bc *BulkCopier) copyFilesBatched(files []FileItem) error {
	for i := 0; i < len(files); i += bc.config.BatchSize {
		end := min(i+bc.config.BatchSize, len(files))
		batch := files[i:end]

		if err := bc.processBatch(batch); err != nil {
			return err
		}
	}
	return nil
}

// processBatch processes a batch of files in a single transaction
func (bc *BulkCopier) processBatch(batch []FileItem) error {
	ctx := context.Background()

	return bc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, item := range batch {
			copied, err := bc.processItem(ctx, tx, item)
			if err != nil {
				return err
			}
			if copied {
				bc.result.CopiedFiles++
				bc.result.CopiedBytes += int64(len(item.Content))
			}
		}
		return nil
	})
}

// processItem processes a single file/directory/symlink. Returns false
// when the item was skipped because its name is already taken.
func (bc *BulkCopier) processItem(ctx context.Context, tx bun.Tx, item FileItem) (bool, error) {
	if item.Info.IsDir() {
		// ensureDir handles both reuse and creation
		if _, err := bc.ensureDir(ctx, tx, item.RelPath); err != nil {
			return false, err
		}
		return true, nil
	}

	parentIno, err := bc.ensureDir(ctx, tx, filepath.Dir(item.RelPath))
	if err != nil {
		return false, err
	}

	name := filepath.Base(item.RelPath)
	if _, err := bc.db.GetDentryWith(tx, ctx, parentIno, name); err == nil {
		bc.result.SkippedFiles = append(bc.result.SkippedFiles, item.RelPath+": already exists")
		return false, nil
	} else if err != common.ErrNotFound {
		return false, err
	}

	if item.Info.Mode()&os.ModeSymlink != 0 {
		return true, bc.insertSymlink(ctx, tx, item, parentIno, name)
	}
	return true, bc.insertFile(ctx, tx, item, parentIno, name)
}

// ensureDir ensures a directory path exists inside the volume, creating
// missing intermediate directories.
func (bc *BulkCopier) ensureDir(ctx context.Context, tx bun.Tx, dirPath string) (int64, error) {
	if ino, ok := bc.dirCache[dirPath]; ok {
		return ino, nil
	}
	parentPath := filepath.Dir(dirPath)
	if parentPath == dirPath {
		return RootIno, nil
	}

	parentIno, err := bc.ensureDir(ctx, tx, parentPath)
	if err != nil {
		return 0, err
	}

	name := filepath.Base(dirPath)
	dentry, err := bc.db.GetDentryWith(tx, ctx, parentIno, name)
	if err == nil {
		inode, err := bc.db.GetInodeWith(tx, ctx, dentry.Ino)
		if err != nil {
			return 0, err
		}
		if inode.Type != TypeDir {
			return 0, fmt.Errorf("%s: %w", dirPath, common.ErrNotDir)
		}
		bc.dirCache[dirPath] = dentry.Ino
		return dentry.Ino, nil
	}
	if err != common.ErrNotFound {
		return 0, err
	}

	newIno, err := bc.db.CreateInodeWith(tx, ctx, TypeDir, 0, parentIno)
	if err != nil {
		return 0, err
	}
	if err := bc.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: parentIno, Name: name, Ino: newIno}); err != nil {
		return 0, err
	}
	bc.dirCache[dirPath] = newIno
	return newIno, nil
}

// insertSymlink stores one symlink item
func (bc *BulkCopier) insertSymlink(ctx context.Context, tx bun.Tx, item FileItem, parentIno int64, name string) error {
	newIno, err := bc.db.CreateInodeWith(tx, ctx, TypeSymlink, int64(len(item.LinkTarget)), 0)
	if err != nil {
		return err
	}
	if err := bc.db.InsertSymlinkWith(tx, ctx, newIno, item.LinkTarget); err != nil {
		return err
	}
	return bc.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: parentIno, Name: name, Ino: newIno})
}

// insertFile stores one regular file item with its content
func (bc *BulkCopier) insertFile(ctx context.Context, tx bun.Tx, item FileItem, parentIno int64, name string) error {
	newIno, err := bc.db.CreateInodeWith(tx, ctx, TypeFile, int64(len(item.Content)), 0)
	if err != nil {
		return err
	}
	if err := bc.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: parentIno, Name: name, Ino: newIno}); err != nil {
		return err
	}
	if len(item.Content) > 0 {
		return bc.writeContentChunked(ctx, tx, newIno, item.Content)
	}
	return nil
}

// writeContentChunked writes file content in full chunks. The inode is
// fresh, so no read-modify-write is needed.
func (bc *BulkCopier) writeContentChunked(ctx context.Context, tx bun.Tx, ino int64, data []byte) error {
	pos := 0
	chunkIdx := int64(0)
	for pos < len(data) {
		end := min(pos+ChunkSize, len(data))
		if err := bc.db.UpsertContentChunkWith(tx, ctx, ino, chunkIdx, data[pos:end]); err != nil {
			return err
		}
		pos = end
		chunkIdx++
	}
	return nil
}
