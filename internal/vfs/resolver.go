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
	"context"
	"strings"

	"graftfs/internal/common"
)

// ref names one filesystem object: an inode within a specific mount. It
// is the currency of resolution; everything above the backends works in
// refs, never in bare inode numbers.
type ref struct {
	mnt *mountPoint
	ino Ino
}

func (r ref) key() mountKey { return mountKey{r.mnt.id, r.ino} }

// isRoot reports whether r is the root directory of its own mount.
func (r ref) isRoot() bool { return r.ino == r.mnt.backend.Root() }

// splitPath breaks a path into components. Repeated and trailing slashes
// carry no meaning.
func splitPath(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// enterCovers descends through whatever is mounted on r. Resolution
// never yields a covered directory; the walk lands on the root of the
// covering mount instead.
func (v *VFS) enterCovers(r ref) ref {
	for {
		mp, ok := v.mounts.covering(r.mnt, r.ino)
		if !ok {
			return r
		}
		r = ref{mnt: mp, ino: mp.backend.Root()}
	}
}

// rootRef is the origin of absolute paths.
func (v *VFS) rootRef() ref {
	rm := v.mounts.root
	return v.enterCovers(ref{mnt: rm, ino: rm.backend.Root()})
}

// resolve walks path from start, honoring mounts and symlinks.
// followFinal selects whether a symlink in the last position is
// followed; callers that address the link itself pass false.
//
// The caller holds the namespace lock in either mode.
func (v *VFS) resolve(ctx context.Context, start ref, path string, followFinal bool) (ref, error) {
	budget := v.limits.MaxSymlinkDepth
	return v.resolvePath(ctx, start, path, followFinal, &budget)
}

// resolvePath is resolve with an explicit symlink budget, shared across
// nested target expansions so that chains and cycles hit the same cap.
func (v *VFS) resolvePath(ctx context.Context, start ref, path string, followFinal bool, budget *int) (ref, error) {
	if path == "" {
		return ref{}, common.ErrInvalidPath
	}
	cur := start
	if path[0] == '/' {
		cur = v.rootRef()
	}
	comps := splitPath(path)
	for i, name := range comps {
		next, err := v.step(ctx, cur, name)
		if err != nil {
			return ref{}, err
		}
		st, err := next.mnt.backend.Stat(ctx, next.ino)
		if err != nil {
			return ref{}, err
		}
		if st.Type == TypeSymlink && (i < len(comps)-1 || followFinal) {
			if *budget == 0 {
				return ref{}, ELOOP
			}
			*budget--
			target, err := next.mnt.backend.Readlink(ctx, next.ino)
			if err != nil {
				return ref{}, err
			}
			// A relative target resolves from the symlink's directory.
			next, err = v.resolvePath(ctx, cur, target, true, budget)
			if err != nil {
				return ref{}, err
			}
		}
		cur = next
	}
	return cur, nil
}

// step moves one component from cur. Dot stays put, dot-dot climbs, and
// a name is looked up in the backend; in every case the result has any
// covering mount applied.
func (v *VFS) step(ctx context.Context, cur ref, name string) (ref, error) {
	switch name {
	case ".":
		st, err := cur.mnt.backend.Stat(ctx, cur.ino)
		if err != nil {
			return ref{}, err
		}
		if st.Type != TypeDir {
			return ref{}, common.ErrNotDir
		}
		return cur, nil
	case "..":
		// Dot-dot at a mount root refers to the parent of the covered
		// directory in the outer filesystem, so climb out first.
		for cur.isRoot() && cur.mnt.parent != nil {
			cur = ref{mnt: cur.mnt.parent, ino: cur.mnt.dirIno}
		}
		if cur.isRoot() {
			// The global root is its own parent.
			return cur, nil
		}
		parent, err := cur.mnt.backend.ParentOf(ctx, cur.ino)
		if err != nil {
			return ref{}, err
		}
		return v.enterCovers(ref{mnt: cur.mnt, ino: parent}), nil
	default:
		ino, err := cur.mnt.backend.Lookup(ctx, cur.ino, name)
		if err != nil {
			return ref{}, err
		}
		return v.enterCovers(ref{mnt: cur.mnt, ino: ino}), nil
	}
}
