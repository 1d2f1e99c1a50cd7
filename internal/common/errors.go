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

package common

import "errors"

// Sentinel errors spoken by backends and shared helpers. The vfs layer
// translates these into process-visible status codes in exactly one place;
// nothing below the dispatcher returns raw errno values.
var (
	ErrNotFound     = errors.New("not found")
	ErrExists       = errors.New("already exists")
	ErrNotDir       = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNotSymlink   = errors.New("not a symlink")
	ErrTooManyLinks = errors.New("too many links")
	ErrBadOffset    = errors.New("bad offset")
	ErrInvalidPath  = errors.New("invalid path")
	ErrInvalidArg   = errors.New("invalid argument")
	ErrBusy         = errors.New("resource busy")
	ErrReadOnly     = errors.New("read-only filesystem")
	ErrNoSpace      = errors.New("no space left")
	ErrIO           = errors.New("I/O error")
)
