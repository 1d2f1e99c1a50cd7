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
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const SchemaVersion = "1"

const ChunkSize = 16384 // 16KB chunks for file content

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// EnvBusyTimeout overrides the SQLite busy_timeout for every volume this
// process opens.
const EnvBusyTimeout = "GRAFTFS_BUSY_TIMEOUT"

// configBusyTimeout is the settings-file value, set via SetConfigBusyTimeout.
var configBusyTimeout int

// SetConfigBusyTimeout records the busy_timeout from the settings file.
// A value of 0 is ignored (env var or default applies).
func SetConfigBusyTimeout(timeout int) {
	configBusyTimeout = timeout
}

// GetBusyTimeout returns the busy_timeout to apply when opening a volume.
// Priority: env var > settings file > default.
func GetBusyTimeout() int {
	if val := os.Getenv(EnvBusyTimeout); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil && timeout > 0 {
			return timeout
		}
	}
	if configBusyTimeout > 0 {
		return configBusyTimeout
	}
	return DefaultBusyTimeout
}

// BuildDSN constructs the libsql DSN for a volume path. The DSN pragma
// parameters are advisory; applyPragmas sets them explicitly after open
// because libsql ignores DSN-based _pragma=value parameters.
func BuildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, GetBusyTimeout())
}

// Inode type values stored in the inodes.type column. They match the
// values the vfs layer reports in Stat and directory entries.
const (
	TypeFile    = 1
	TypeSymlink = 2
	TypeDir     = 3
)

// Root inode number. The root row is created with the schema.
const RootIno = 1

// Schema SQL for a graftfs volume. Inode numbers and directory entry IDs
// both come from AUTOINCREMENT rowids, so neither is ever reused; entry
// IDs double as the resumable directory-listing tokens handed to readers.
const volumeSchema = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Volume identity and tunables
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Inode metadata. parent_ino is meaningful for directories only and
-- resolves "..". size is maintained for files and symlinks; directory
-- sizes are derived from the entry count at stat time.
CREATE TABLE IF NOT EXISTS inodes (
    ino INTEGER PRIMARY KEY AUTOINCREMENT,
    type INTEGER NOT NULL,
    nlink INTEGER NOT NULL DEFAULT 1,
    size INTEGER NOT NULL DEFAULT 0,
    parent_ino INTEGER NOT NULL DEFAULT 0
);

-- Directory entries. The rowid is the enumeration token: ascending in
-- insertion order and never reused after deletion.
CREATE TABLE IF NOT EXISTS dentries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_ino INTEGER NOT NULL,
    name TEXT NOT NULL,
    ino INTEGER NOT NULL,
    UNIQUE (parent_ino, name)
);

CREATE INDEX IF NOT EXISTS idx_dentries_parent_id ON dentries(parent_ino, id);
CREATE INDEX IF NOT EXISTS idx_dentries_ino ON dentries(ino);

-- File content, chunked. Missing chunks inside the file size read back
-- as zeros, so sparse regions cost nothing.
CREATE TABLE IF NOT EXISTS content (
    ino INTEGER NOT NULL,
    chunk_idx INTEGER NOT NULL,
    data BLOB NOT NULL,
    PRIMARY KEY (ino, chunk_idx)
);

-- Symbolic link targets
CREATE TABLE IF NOT EXISTS symlinks (
    ino INTEGER NOT NULL PRIMARY KEY,
    target TEXT NOT NULL
);
`

// Initial rows: schema metadata plus the root directory (ino=1, its own
// parent). Directories carry nlink 1; 0 marks a removed directory.
const initVolume = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('type', 'volume');
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));

INSERT OR IGNORE INTO inodes (ino, type, nlink, size, parent_ino)
VALUES (1, 3, 1, 0, 1);
`

// execStatements executes multiple SQL statements separated by semicolons.
// libsql driver doesn't support multi-statement Exec, so we split and execute individually.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		// Count placeholders in this statement
		placeholders := strings.Count(stmt, "?")
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		// Skip comments and empty lines
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	// Handle any remaining content
	if current.Len() > 0 {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
