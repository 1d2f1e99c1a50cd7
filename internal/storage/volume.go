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

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"

	"graftfs/internal/common"
)

// Volume is a SQLite-backed graftfs volume file. A volume is held open
// by exactly one process at a time; an flock sidecar file enforces that.
type Volume struct {
	path  string
	db    *sql.DB
	bunDB *BunDB
	lock  *flock.Flock
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout MUST be set first so subsequent PRAGMAs (especially
	// journal_mode=WAL which needs exclusive access) wait for locks
	// instead of failing immediately with "database is locked".
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", GetBusyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	// WAL mode: enables concurrent readers during writes, reduces lock contention.
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	// synchronous=NORMAL: safe against process crashes in WAL mode while
	// avoiding an fsync on every commit.
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Larger cache for better read performance (default is ~2MB, set to 8MB).
	if err := execPragma(db, "PRAGMA cache_size = -8000"); err != nil {
		return fmt.Errorf("failed to set cache_size: %w", err)
	}

	// Memory-map I/O for reads (256MB). Failure is non-fatal (may not be
	// supported on all platforms).
	_ = execPragma(db, "PRAGMA mmap_size = 268435456")

	return nil
}

// lockVolume takes the exclusive sidecar lock for a volume path. Returns
// common.ErrBusy (wrapped) when another process already holds the volume.
func lockVolume(path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire volume lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("volume %s is in use by another process: %w", path, common.ErrBusy)
	}
	return lock, nil
}

// Create creates a new volume file with an empty root directory.
func Create(path string) (*Volume, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s", path)
	}

	lock, err := lockVolume(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	// PRAGMAs must be explicit; libsql ignores the DSN parameters.
	if err := applyPragmas(db); err != nil {
		db.Close()
		lock.Unlock()
		os.Remove(path)
		return nil, err
	}

	// Create schema (execute statements individually for libsql compatibility)
	if err := execStatements(db, volumeSchema); err != nil {
		db.Close()
		lock.Unlock()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	// Schema metadata plus the root directory row
	if err := execStatements(db, initVolume, SchemaVersion); err != nil {
		db.Close()
		lock.Unlock()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize volume: %w", err)
	}

	vol := &Volume{
		path:  path,
		db:    db,
		bunDB: NewBunDB(db),
		lock:  lock,
	}

	// Stable identity for the volume, reported by the info command.
	if err := vol.bunDB.SetConfigValue(context.Background(), "volume_id", uuid.New().String()); err != nil {
		vol.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to set volume id: %w", err)
	}

	log.Debugf("[Volume] Created %s", path)
	return vol, nil
}

// Open opens an existing volume file.
func Open(path string) (*Volume, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	lock, err := lockVolume(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	bunDB := NewBunDB(db)

	// Verify it's a volume file
	fileType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if fileType != "volume" {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("not a graftfs volume (type=%s)", fileType)
	}

	log.Debugf("[Volume] Opened %s", path)
	return &Volume{
		path:  path,
		db:    db,
		bunDB: bunDB,
		lock:  lock,
	}, nil
}

// Close checkpoints the WAL into the main database file, closes the
// connection, removes the -wal and -shm sidecars, and releases the lock.
// The .lock file itself stays behind; removing it would race other openers.
func (v *Volume) Close() error {
	if v.db == nil {
		return nil
	}

	// PRAGMA wal_checkpoint returns rows, so Query() not Exec()
	rows, err := v.db.Query("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		log.Warnf("[Volume] WAL checkpoint failed: %v", err)
	} else {
		rows.Close()
	}

	if err := v.db.Close(); err != nil {
		return err
	}
	v.db = nil

	os.Remove(v.path + "-wal") // may not exist
	os.Remove(v.path + "-shm")

	if v.lock != nil {
		v.lock.Unlock()
		v.lock = nil
	}
	return nil
}

// Sync checkpoints the WAL without closing the volume.
func (v *Volume) Sync() error {
	return execPragma(v.db, "PRAGMA wal_checkpoint(TRUNCATE)")
}

// Path returns the volume file path.
func (v *Volume) Path() string {
	return v.path
}

// DB returns the underlying *sql.DB.
func (v *Volume) DB() *sql.DB {
	return v.db
}

// BunDB returns the Bun database wrapper.
func (v *Volume) BunDB() *BunDB {
	return v.bunDB
}

// VolumeID returns the volume's stable identity string.
func (v *Volume) VolumeID() (string, error) {
	return v.bunDB.GetConfigValue(context.Background(), "volume_id")
}
