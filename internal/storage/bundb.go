package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"graftfs/internal/common"
)

// BunDB wraps a Bun database instance for type-safe queries.
// Methods come in pairs: a plain form running on the connection, and a
// With form taking a bun.IDB so the same query can run inside a
// transaction.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// --- Config Operations ---

// GetConfigValue retrieves a config value by key. Missing keys return "".
func (db *BunDB) GetConfigValue(ctx context.Context, key string) (string, error) {
	var config ConfigModel
	err := db.NewSelect().
		Model(&config).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return config.Value, nil
}

// SetConfigValue sets a config value (upserts).
func (db *BunDB) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := db.NewInsert().
		Model(&ConfigModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// GetSchemaInfo retrieves a schema_info value by key. Missing keys return "".
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// SetSchemaInfo sets a schema_info value (upserts).
func (db *BunDB) SetSchemaInfo(ctx context.Context, key, value string) error {
	_, err := db.NewInsert().
		Model(&SchemaInfoModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// --- Inode Operations ---

// GetInode retrieves an inode row, or common.ErrNotFound.
func (db *BunDB) GetInode(ctx context.Context, ino int64) (*InodeModel, error) {
	return db.getInodeWith(db.DB, ctx, ino)
}

// GetInodeWith is like GetInode but uses the provided bun.IDB (for transaction support).
func (db *BunDB) GetInodeWith(idb bun.IDB, ctx context.Context, ino int64) (*InodeModel, error) {
	return db.getInodeWith(idb, ctx, ino)
}

func (db *BunDB) getInodeWith(idb bun.IDB, ctx context.Context, ino int64) (*InodeModel, error) {
	var inode InodeModel
	err := idb.NewSelect().
		Model(&inode).
		Where("ino = ?", ino).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inode, nil
}

// CreateInodeWith inserts a new inode row and returns the allocated
// number. AUTOINCREMENT guarantees numbers are never reused.
func (db *BunDB) CreateInodeWith(idb bun.IDB, ctx context.Context, typ, size, parentIno int64) (int64, error) {
	model := &InodeModel{Type: typ, Nlink: 1, Size: size, ParentIno: parentIno}
	// RETURNING: libsql doesn't support LastInsertId
	_, err := idb.NewInsert().
		Model(model).
		Returning("ino").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return model.Ino, nil
}

// AddInodeNlinkWith adjusts an inode's link count by delta in one statement.
func (db *BunDB) AddInodeNlinkWith(idb bun.IDB, ctx context.Context, ino, delta int64) error {
	_, err := idb.NewUpdate().
		Model((*InodeModel)(nil)).
		Set("nlink = nlink + ?", delta).
		Where("ino = ?", ino).
		Exec(ctx)
	return err
}

// SetInodeSizeWith updates an inode's recorded size.
func (db *BunDB) SetInodeSizeWith(idb bun.IDB, ctx context.Context, ino, size int64) error {
	_, err := idb.NewUpdate().
		Model((*InodeModel)(nil)).
		Set("size = ?", size).
		Where("ino = ?", ino).
		Exec(ctx)
	return err
}

// SetInodeParentWith repoints a directory's parent after a rename.
func (db *BunDB) SetInodeParentWith(idb bun.IDB, ctx context.Context, ino, parentIno int64) error {
	_, err := idb.NewUpdate().
		Model((*InodeModel)(nil)).
		Set("parent_ino = ?", parentIno).
		Where("ino = ?", ino).
		Exec(ctx)
	return err
}

// DeleteInodeWith removes an inode row.
func (db *BunDB) DeleteInodeWith(idb bun.IDB, ctx context.Context, ino int64) error {
	_, err := idb.NewDelete().
		Model((*InodeModel)(nil)).
		Where("ino = ?", ino).
		Exec(ctx)
	return err
}

// CountInodes returns the number of live inodes in the volume.
func (db *BunDB) CountInodes(ctx context.Context) (int64, error) {
	count, err := db.NewSelect().Model((*InodeModel)(nil)).Count(ctx)
	return int64(count), err
}

// TotalFileBytes sums the recorded sizes of all regular files.
func (db *BunDB) TotalFileBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := db.NewRaw(`SELECT SUM(size) FROM inodes WHERE type = ?`, TypeFile).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	if total.Valid {
		return total.Int64, nil
	}
	return 0, nil
}

// --- Dentry Operations ---

// GetDentry retrieves a directory entry by name, or common.ErrNotFound.
func (db *BunDB) GetDentry(ctx context.Context, parentIno int64, name string) (*DentryModel, error) {
	return db.getDentryWith(db.DB, ctx, parentIno, name)
}

// GetDentryWith is like GetDentry but uses the provided bun.IDB (for transaction support).
func (db *BunDB) GetDentryWith(idb bun.IDB, ctx context.Context, parentIno int64, name string) (*DentryModel, error) {
	return db.getDentryWith(idb, ctx, parentIno, name)
}

func (db *BunDB) getDentryWith(idb bun.IDB, ctx context.Context, parentIno int64, name string) (*DentryModel, error) {
	var dentry DentryModel
	err := idb.NewSelect().
		Model(&dentry).
		Where("parent_ino = ?", parentIno).
		Where("name = ?", name).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dentry, nil
}

// InsertDentryWith adds a directory entry. The UNIQUE constraint on
// (parent_ino, name) surfaces duplicate names as an SQL error, so callers
// check for existence first to report common.ErrExists cleanly.
func (db *BunDB) InsertDentryWith(idb bun.IDB, ctx context.Context, dentry *DentryModel) error {
	_, err := idb.NewInsert().
		Model(dentry).
		Returning("id").
		Exec(ctx)
	return err
}

// DeleteDentryWith removes a directory entry by name.
func (db *BunDB) DeleteDentryWith(idb bun.IDB, ctx context.Context, parentIno int64, name string) error {
	_, err := idb.NewDelete().
		Model((*DentryModel)(nil)).
		Where("parent_ino = ?", parentIno).
		Where("name = ?", name).
		Exec(ctx)
	return err
}

// CountDentries returns the number of entries in a directory.
func (db *BunDB) CountDentries(ctx context.Context, parentIno int64) (int64, error) {
	return db.countDentriesWith(db.DB, ctx, parentIno)
}

// CountDentriesWith is like CountDentries but uses the provided bun.IDB.
func (db *BunDB) CountDentriesWith(idb bun.IDB, ctx context.Context, parentIno int64) (int64, error) {
	return db.countDentriesWith(idb, ctx, parentIno)
}

func (db *BunDB) countDentriesWith(idb bun.IDB, ctx context.Context, parentIno int64) (int64, error) {
	count, err := idb.NewSelect().
		Model((*DentryModel)(nil)).
		Where("parent_ino = ?", parentIno).
		Count(ctx)
	return int64(count), err
}

// DirEntryRow is one row of a directory listing with the entry's inode
// type joined in.
type DirEntryRow struct {
	ID   int64  `bun:"id"`
	Name string `bun:"name"`
	Ino  int64  `bun:"ino"`
	Type int64  `bun:"type"`
}

// ListDirEntries returns up to max entries of a directory whose ID is
// >= fromID, in ascending ID order. max <= 0 means no limit.
func (db *BunDB) ListDirEntries(ctx context.Context, parentIno, fromID int64, max int) ([]DirEntryRow, error) {
	if max <= 0 {
		max = -1 // SQLite: negative LIMIT disables the cap
	}
	var rows []DirEntryRow
	err := db.NewRaw(`
		SELECT d.id, d.name, d.ino, i.type
		FROM dentries d
		JOIN inodes i ON i.ino = d.ino
		WHERE d.parent_ino = ? AND d.id >= ?
		ORDER BY d.id ASC
		LIMIT ?`, parentIno, fromID, max).Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// --- Content Operations ---

// ReadContentChunks returns the stored chunks of a file in [startChunk,
// endChunk], ordered by index. Chunks missing from the range are simply
// absent from the result; those regions read as zeros.
func (db *BunDB) ReadContentChunks(ctx context.Context, ino int64, startChunk, endChunk int64) ([]ContentModel, error) {
	var chunks []ContentModel
	err := db.NewSelect().
		Model(&chunks).
		Where("ino = ?", ino).
		Where("chunk_idx >= ?", startChunk).
		Where("chunk_idx <= ?", endChunk).
		Order("chunk_idx ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetContentChunkWith returns one chunk's data, or nil if the chunk has
// never been written.
func (db *BunDB) GetContentChunkWith(idb bun.IDB, ctx context.Context, ino, chunkIdx int64) ([]byte, error) {
	var chunk ContentModel
	err := idb.NewSelect().
		Model(&chunk).
		Where("ino = ?", ino).
		Where("chunk_idx = ?", chunkIdx).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chunk.Data, nil
}

// UpsertContentChunkWith writes one chunk, replacing any previous data.
func (db *BunDB) UpsertContentChunkWith(idb bun.IDB, ctx context.Context, ino, chunkIdx int64, data []byte) error {
	_, err := idb.NewInsert().
		Model(&ContentModel{Ino: ino, ChunkIdx: chunkIdx, Data: data}).
		On("CONFLICT (ino, chunk_idx) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	return err
}

// DeleteContentFromWith drops all chunks at or beyond fromChunk. Used by
// truncate to discard shrunk-away content.
func (db *BunDB) DeleteContentFromWith(idb bun.IDB, ctx context.Context, ino, fromChunk int64) error {
	_, err := idb.NewDelete().
		Model((*ContentModel)(nil)).
		Where("ino = ?", ino).
		Where("chunk_idx >= ?", fromChunk).
		Exec(ctx)
	return err
}

// DeleteContentWith drops all of a file's chunks.
func (db *BunDB) DeleteContentWith(idb bun.IDB, ctx context.Context, ino int64) error {
	_, err := idb.NewDelete().
		Model((*ContentModel)(nil)).
		Where("ino = ?", ino).
		Exec(ctx)
	return err
}

// --- Symlink Operations ---

// GetSymlink returns a symlink's stored target, or common.ErrNotFound.
func (db *BunDB) GetSymlink(ctx context.Context, ino int64) (string, error) {
	return db.getSymlinkWith(db.DB, ctx, ino)
}

// GetSymlinkWith is like GetSymlink but uses the provided bun.IDB.
func (db *BunDB) GetSymlinkWith(idb bun.IDB, ctx context.Context, ino int64) (string, error) {
	return db.getSymlinkWith(idb, ctx, ino)
}

func (db *BunDB) getSymlinkWith(idb bun.IDB, ctx context.Context, ino int64) (string, error) {
	var link SymlinkModel
	err := idb.NewSelect().
		Model(&link).
		Where("ino = ?", ino).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return link.Target, nil
}

// InsertSymlinkWith stores a symlink's target.
func (db *BunDB) InsertSymlinkWith(idb bun.IDB, ctx context.Context, ino int64, target string) error {
	_, err := idb.NewInsert().
		Model(&SymlinkModel{Ino: ino, Target: target}).
		Exec(ctx)
	return err
}

// DeleteSymlinkWith removes a symlink's target row.
func (db *BunDB) DeleteSymlinkWith(idb bun.IDB, ctx context.Context, ino int64) error {
	_, err := idb.NewDelete().
		Model((*SymlinkModel)(nil)).
		Where("ino = ?", ino).
		Exec(ctx)
	return err
}
