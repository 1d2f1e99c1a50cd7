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

import (
	"path/filepath"
	"strings"
)

// NormalizePath cleans a path into its canonical relative form: separators
// collapsed, dot segments resolved, no leading or trailing slash. The empty
// string names the root.
func NormalizePath(path string) string {
	path = strings.TrimPrefix(filepath.Clean(path), "/")
	if path == "." {
		return ""
	}
	return path
}

// AbsolutePath normalizes path and anchors it at the root, so user input
// like "docs", "/docs" and "docs/" all come out as "/docs".
func AbsolutePath(path string) string {
	return "/" + NormalizePath(path)
}
