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

import "github.com/uptrace/bun"

// Bun ORM models for graftfs volume tables.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// ConfigModel represents the config table
type ConfigModel struct {
	bun.BaseModel `bun:"table:config"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// InodeModel represents the inodes table. ParentIno is only meaningful
// for directories (it resolves ".."); Size is maintained for files and
// symlinks.
type InodeModel struct {
	bun.BaseModel `bun:"table:inodes"`

	Ino       int64 `bun:"ino,pk,autoincrement"`
	Type      int64 `bun:"type,notnull"` // TypeFile, TypeSymlink, TypeDir
	Nlink     int64 `bun:"nlink,notnull"`
	Size      int64 `bun:"size,notnull"`
	ParentIno int64 `bun:"parent_ino,notnull"`
}

// DentryModel represents the dentries table. ID is the AUTOINCREMENT
// rowid and serves as the directory-listing resume token.
type DentryModel struct {
	bun.BaseModel `bun:"table:dentries"`

	ID        int64  `bun:"id,pk,autoincrement"`
	ParentIno int64  `bun:"parent_ino,notnull"`
	Name      string `bun:"name,notnull"`
	Ino       int64  `bun:"ino,notnull"`
}

// ContentModel represents the content table (file chunks)
type ContentModel struct {
	bun.BaseModel `bun:"table:content"`

	Ino      int64  `bun:"ino,pk"`
	ChunkIdx int64  `bun:"chunk_idx,pk"`
	Data     []byte `bun:"data,notnull"`
}

// SymlinkModel represents the symlinks table
type SymlinkModel struct {
	bun.BaseModel `bun:"table:symlinks"`

	Ino    int64  `bun:"ino,pk"`
	Target string `bun:"target,notnull"`
}
