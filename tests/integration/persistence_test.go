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

package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"graftfs/internal/storage"
	"graftfs/internal/vfs"
)

// TestVolumePersistence closes and reopens SQLite-rooted namespaces,
// checking that everything written through the syscall surface comes
// back: content, hard-link identity, symlink targets, and the counters
// the volume file reports.
func TestVolumePersistence(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	t.Run("TreeSurvivesReopen", func(t *testing.T) {
		volPath := filepath.Join(t.TempDir(), "tree.graftfs")

		proc, closeNS := openVolumeNamespace(t, volPath)
		must(t, "mkdir /docs", proc.Mkdir("/docs"))
		must(t, "mkdir /docs/sub", proc.Mkdir("/docs/sub"))
		writeVFSFile(t, proc, "/docs/orig.txt", "original text")
		writeVFSFile(t, proc, "/docs/sub/deep.txt", "nested content")
		must(t, "link", proc.Link("/docs/orig.txt", "/docs/copy.txt"))
		must(t, "symlink", proc.Symlink("orig.txt", "/docs/latest"))
		must(t, "sync", proc.Sync())
		closeNS()

		proc2, _ := openVolumeNamespace(t, volPath)
		if got := readVFSFile(t, proc2, "/docs/orig.txt"); got != "original text" {
			t.Errorf("orig.txt after reopen: got %q", got)
		}
		if got := readVFSFile(t, proc2, "/docs/sub/deep.txt"); got != "nested content" {
			t.Errorf("deep.txt after reopen: got %q", got)
		}

		// Hard links still share one inode.
		stOrig := statVFS(t, proc2, "/docs/orig.txt")
		stCopy := statVFS(t, proc2, "/docs/copy.txt")
		if stOrig.Ino != stCopy.Ino {
			t.Errorf("hard link split after reopen: %d vs %d", stOrig.Ino, stCopy.Ino)
		}
		if stOrig.Nlink != 2 {
			t.Errorf("nlink after reopen: got %d, want 2", stOrig.Nlink)
		}

		// The symlink still points at its sibling and follows to it.
		buf := make([]byte, 64)
		n := proc2.Readlink("/docs/latest", buf)
		must(t, "readlink", n)
		if got := string(buf[:n]); got != "orig.txt" {
			t.Errorf("symlink target after reopen: got %q", got)
		}
		if got := readVFSFile(t, proc2, "/docs/latest"); got != "original text" {
			t.Errorf("content through symlink after reopen: got %q", got)
		}

		// The directory stream sees exactly the four entries.
		fd := mustOpen(t, proc2, "/docs", 0)
		defer proc2.Close(fd)
		names := direntNames(readAllDirents(t, proc2, fd, 4096))
		if len(names) != 4 {
			t.Errorf("/docs entries after reopen: %v", names)
		}

		t.Log("Tree reopen successful")
	})

	t.Run("IdentityStableAcrossReopen", func(t *testing.T) {
		volPath := filepath.Join(t.TempDir(), "ident.graftfs")

		vol, err := storage.Create(volPath)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		id1, err := vol.VolumeID()
		if err != nil {
			t.Fatalf("volume id: %v", err)
		}
		if err := vol.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		vol, err = storage.Open(volPath)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer vol.Close()

		id2, err := vol.VolumeID()
		if err != nil {
			t.Fatalf("volume id after reopen: %v", err)
		}
		if id1 != id2 {
			t.Errorf("volume id changed across reopen: %s vs %s", id1, id2)
		}

		ver, err := vol.BunDB().GetSchemaInfo(context.Background(), "version")
		if err != nil {
			t.Fatalf("schema version: %v", err)
		}
		if ver != storage.SchemaVersion {
			t.Errorf("schema version: got %s, want %s", ver, storage.SchemaVersion)
		}

		t.Log("Identity check successful")
	})

	t.Run("CountersTrackTheTree", func(t *testing.T) {
		volPath := filepath.Join(t.TempDir(), "counters.graftfs")
		ctx := context.Background()

		proc, closeNS := openVolumeNamespace(t, volPath)
		writeVFSFile(t, proc, "/a.txt", "hello world") // 11 bytes
		writeVFSFile(t, proc, "/b.txt", "padding")     // 7 bytes
		must(t, "mkdir", proc.Mkdir("/dir"))
		closeNS()

		vol, err := storage.Open(volPath)
		if err != nil {
			t.Fatalf("open for inspection: %v", err)
		}
		inodes, err := vol.BunDB().CountInodes(ctx)
		if err != nil {
			t.Fatalf("count inodes: %v", err)
		}
		if inodes != 4 { // root + two files + one directory
			t.Errorf("inode count: got %d, want 4", inodes)
		}
		total, err := vol.BunDB().TotalFileBytes(ctx)
		if err != nil {
			t.Fatalf("total bytes: %v", err)
		}
		if total != 18 {
			t.Errorf("stored bytes: got %d, want 18", total)
		}
		if err := vol.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		// Shrinking a file shrinks the stored byte count too.
		proc, closeNS = openVolumeNamespace(t, volPath)
		fd := mustOpen(t, proc, "/a.txt", 0)
		must(t, "ftruncate", proc.Ftruncate(fd, 3))
		must(t, "close", proc.Close(fd))
		closeNS()

		vol, err = storage.Open(volPath)
		if err != nil {
			t.Fatalf("reopen for inspection: %v", err)
		}
		defer vol.Close()
		total, err = vol.BunDB().TotalFileBytes(ctx)
		if err != nil {
			t.Fatalf("total bytes after truncate: %v", err)
		}
		if total != 10 {
			t.Errorf("stored bytes after truncate: got %d, want 10", total)
		}

		t.Log("Counter tracking successful")
	})

	t.Run("RewriteAcrossReopenCycles", func(t *testing.T) {
		volPath := filepath.Join(t.TempDir(), "cycles.graftfs")

		want := ""
		for cycle := 0; cycle < 3; cycle++ {
			proc, closeNS := openVolumeNamespace(t, volPath)
			if cycle > 0 {
				if got := readVFSFile(t, proc, "/journal.txt"); got != want {
					t.Fatalf("cycle %d content: got %q, want %q", cycle, got, want)
				}
			}
			want += fmt.Sprintf("cycle %d\n", cycle)
			writeVFSFile(t, proc, "/journal.txt", want)
			closeNS()
		}

		proc, _ := openVolumeNamespace(t, volPath)
		if got := readVFSFile(t, proc, "/journal.txt"); got != want {
			t.Errorf("final content: got %q, want %q", got, want)
		}

		t.Log("Reopen cycles successful")
	})

	t.Run("ConcurrentWritersOneVolume", func(t *testing.T) {
		volPath := filepath.Join(t.TempDir(), "workers.graftfs")
		proc, _ := openVolumeNamespace(t, volPath)

		numWorkers := 5
		done := make(chan error, numWorkers)

		for i := 0; i < numWorkers; i++ {
			workerID := i
			go func() {
				name := fmt.Sprintf("/worker_%d.txt", workerID)
				content := fmt.Sprintf("content from worker %d", workerID)
				fd := proc.Open(name, vfs.O_CREATE)
				if fd < 0 {
					done <- fmt.Errorf("open %s: %v", name, vfs.Errno(-fd))
					return
				}
				if res := proc.Write(int(fd), []byte(content)); res != int64(len(content)) {
					done <- fmt.Errorf("write %s: got %d", name, res)
					return
				}
				if res := proc.Close(int(fd)); res < 0 {
					done <- fmt.Errorf("close %s: %v", name, vfs.Errno(-res))
					return
				}
				done <- nil
			}()
		}

		for i := 0; i < numWorkers; i++ {
			if err := <-done; err != nil {
				t.Errorf("worker failed: %v", err)
			}
		}

		// Verify all files exist and have correct content using Eventually
		g := NewWithT(t)
		for i := 0; i < numWorkers; i++ {
			name := fmt.Sprintf("/worker_%d.txt", i)
			expected := fmt.Sprintf("content from worker %d", i)
			g.Eventually(func() string {
				return readVFSFile(t, proc, name)
			}).WithTimeout(1 * time.Second).WithPolling(50 * time.Millisecond).Should(Equal(expected))
		}

		t.Log("Concurrent writers successful")
	})
}
