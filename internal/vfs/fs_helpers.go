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

package vfs

import (
	"path"
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// =============================================================================
// Panic Recovery
// =============================================================================

// recoverVFSPanic recovers from panics inside a syscall wrapper and turns
// them into an EIO result, so a broken backend can never take the caller
// down with it.
func recoverVFSPanic(operation string, res *int64) {
	if r := recover(); r != nil {
		log.Errorf("[VFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if res != nil {
			*res = -int64(EIO)
		}
	}
}

// =============================================================================
// Path Helpers
// =============================================================================

// splitParent divides a path into the directory part to resolve and the
// final component to operate on. "/x" gives ("/", "x"); a bare name
// gives (".", name). Trailing slashes carry no meaning. The dir part is
// resolved first, so an unresolvable dir decides the error before the
// name is judged.
func splitParent(pathname string) (dir, name string) {
	trimmed := strings.TrimRight(pathname, "/")
	if trimmed == "" {
		if pathname == "" {
			return "", ""
		}
		return "/", "" // the path was all slashes
	}
	i := strings.LastIndexByte(trimmed, '/')
	switch {
	case i < 0:
		return ".", trimmed
	case i == 0:
		return "/", trimmed[1:]
	default:
		return trimmed[:i], trimmed[i+1:]
	}
}

// checkCreateName rejects final components that can never be newly
// created: the dot entries always exist, and an empty component means
// the path resolved to an existing directory, "/" included.
func checkCreateName(name string) error {
	switch name {
	case "", ".", "..":
		return EEXIST
	}
	return nil
}

// checkRemoveName rejects final components that unlink, rmdir and a
// rename source cannot operate on. The dot entries are structural; an
// empty component means the path had no final name to remove.
func checkRemoveName(name string) error {
	switch name {
	case ".", "..":
		return EINVAL
	case "":
		return ENOENT
	}
	return nil
}

// joinCwd maintains the textual working directory across a chdir. The
// path is tracked lexically, the way a shell tracks logical PWD: moving
// through a symlink keeps the name that was typed.
func joinCwd(cwd, target string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(target)
	}
	return path.Clean(cwd + "/" + target)
}
