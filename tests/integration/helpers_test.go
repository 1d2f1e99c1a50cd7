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

// Package integration exercises graftfs end to end, in two ways:
//
//   - In-process namespaces assembled from the real backends (memfs
//     roots, SQLite volumes, mounts of one inside the other), driven
//     through the syscall surface.
//   - The compiled CLI binary, driven the way a user would drive it.
//
// ## CLI Execution
//
// All CLI execution flows through RunCLIWithConfigDir() for test
// isolation:
//
//	env.RunCLI() → RunCLIWithConfigDir(env.ConfigDir, ...)
//
// IMPORTANT: Never use os.Setenv("GRAFTFS_CONFIG_DIR", ...) in tests.
// This causes race conditions in parallel tests; the variable travels
// on cmd.Env instead.
//
// ## Design Principles
//
//  1. Isolation: each test owns its config dir and volume files under
//     t.TempDir()
//  2. Determinism: anything asynchronous is polled, never slept for
//  3. Cleanup: t.Cleanup tears down descriptors first, volumes second
package integration

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"graftfs/internal/memfs"
	"graftfs/internal/storage"
	"graftfs/internal/vfs"
)

var (
	cliBinary   string
	projectRoot string
)

// TestMain builds the CLI binary once before running all tests.
func TestMain(m *testing.M) {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get working directory: %v\n", err)
		os.Exit(1)
	}

	// Navigate to project root (go up from tests/integration)
	projectRoot = filepath.Join(wd, "..", "..")
	cliBinary = filepath.Join(projectRoot, "bin", "graftfs")

	if err := os.MkdirAll(filepath.Join(projectRoot, "bin"), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bin directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Building graftfs binary...")
	cmd := exec.Command("go", "build", "-o", cliBinary, "./cmd/graftfs")
	cmd.Dir = projectRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// ---------------------------------------------------------------------------
// CLI execution
// ---------------------------------------------------------------------------

// CLIResult holds the result of a CLI command
type CLIResult struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
}

// Contains checks if output contains a substring
func (r CLIResult) Contains(s string) bool {
	return strings.Contains(r.Combined, s)
}

// CLITimeout is the maximum time a CLI command can run before being
// killed. Most commands complete in well under a second; bulk imports
// under parallel test load get headroom.
const CLITimeout = 15 * time.Second

// filterEnv returns os.Environ() with the named variables removed.
func filterEnv(names ...string) []string {
	env := make([]string, 0, len(os.Environ()))
	for _, e := range os.Environ() {
		keep := true
		for _, name := range names {
			if strings.HasPrefix(e, name+"=") {
				keep = false
				break
			}
		}
		if keep {
			env = append(env, e)
		}
	}
	return env
}

// RunCLIWithConfigDir executes the CLI with an isolated config dir via
// GRAFTFS_CONFIG_DIR on cmd.Env instead of the process-wide
// environment, enabling true isolation for parallel tests. The other
// GRAFTFS_* overrides are stripped so a developer's shell cannot bleed
// into output assertions.
func RunCLIWithConfigDir(configDir string, args ...string) CLIResult {
	ctx, cancel := context.WithTimeout(context.Background(), CLITimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cliBinary, args...)
	env := filterEnv("GRAFTFS_CONFIG_DIR", "GRAFTFS_LOG_LEVEL", "GRAFTFS_BUSY_TIMEOUT")
	if configDir != "" {
		env = append(env, "GRAFTFS_CONFIG_DIR="+configDir)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			exitCode = 124 // Standard timeout exit code
			stderr.WriteString(fmt.Sprintf("\n[CLI TIMEOUT] Command timed out after %v: %v\n", CLITimeout, args))
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return CLIResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: stdout.String() + stderr.String(),
		ExitCode: exitCode,
	}
}

// ---------------------------------------------------------------------------
// Test environments
// ---------------------------------------------------------------------------

// VolumeEnv is an isolated home for one test: its own config dir and a
// directory for volume files and import fixtures, all under t.TempDir().
type VolumeEnv struct {
	t         *testing.T
	Dir       string
	ConfigDir string
}

// NewVolumeEnv creates an isolated test environment.
func NewVolumeEnv(t *testing.T) *VolumeEnv {
	t.Helper()
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	return &VolumeEnv{t: t, Dir: dir, ConfigDir: configDir}
}

// RunCLI executes the graftfs CLI against this environment's config dir.
func (e *VolumeEnv) RunCLI(args ...string) CLIResult {
	return RunCLIWithConfigDir(e.ConfigDir, args...)
}

// VolumePath returns the path of a named volume file inside the
// environment, extension included.
func (e *VolumeEnv) VolumePath(name string) string {
	return filepath.Join(e.Dir, name+".graftfs")
}

// InitVolume creates a volume through the CLI and fails the test if the
// command does.
func (e *VolumeEnv) InitVolume(name string) string {
	e.t.Helper()
	volPath := e.VolumePath(name)
	result := e.RunCLI("init", volPath)
	if result.ExitCode != 0 {
		e.t.Fatalf("init %s failed: %s", volPath, result.Combined)
	}
	return volPath
}

// WriteSourceFile writes a file (parents included) under the
// environment's directory, for use as an import fixture.
func (e *VolumeEnv) WriteSourceFile(relPath, content string) {
	e.t.Helper()
	fullPath := filepath.Join(e.Dir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		e.t.Fatalf("Failed to create directory for %s: %v", relPath, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		e.t.Fatalf("Failed to write file %s: %v", relPath, err)
	}
}

// ---------------------------------------------------------------------------
// In-process namespaces
// ---------------------------------------------------------------------------

// newMemProcess builds a namespace over a fresh in-memory root and
// returns a process in it. Descriptors are torn down on test cleanup.
func newMemProcess(t *testing.T) *vfs.Process {
	t.Helper()
	ns := vfs.New(memfs.New(0), vfs.DefaultLimits())
	proc := ns.NewProcess()
	t.Cleanup(func() { proc.CloseAll() })
	return proc
}

// openVolumeNamespace opens (or creates) the volume at path and builds
// a namespace rooted in it. The root mount never detaches, so the
// returned close function owns the volume teardown: descriptors first,
// then the volume itself. Calling it twice is harmless, and it also
// runs on test cleanup.
func openVolumeNamespace(t *testing.T, path string) (*vfs.Process, func()) {
	t.Helper()
	var vol *storage.Volume
	var err error
	if _, serr := os.Stat(path); os.IsNotExist(serr) {
		vol, err = storage.Create(path)
	} else {
		vol, err = storage.Open(path)
	}
	if err != nil {
		t.Fatalf("open volume %s: %v", path, err)
	}
	ns := vfs.New(storage.NewBackend(vol, 0), vfs.DefaultLimits())
	proc := ns.NewProcess()
	closeFn := func() {
		proc.CloseAll()
		if err := vol.Close(); err != nil {
			t.Errorf("close volume %s: %v", path, err)
		}
	}
	t.Cleanup(closeFn)
	return proc, closeFn
}

// ---------------------------------------------------------------------------
// Syscall-surface helpers
// ---------------------------------------------------------------------------

// must fails the test when a syscall result is negative.
func must(t *testing.T, what string, res int64) {
	t.Helper()
	if res < 0 {
		t.Fatalf("%s: %v", what, vfs.Errno(-res))
	}
}

// wantErrno fails the test unless res encodes exactly the wanted errno.
func wantErrno(t *testing.T, what string, res int64, want vfs.Errno) {
	t.Helper()
	if res >= 0 {
		t.Fatalf("%s = %d, want -%v", what, res, want)
	}
	if got := vfs.Errno(-res); got != want {
		t.Fatalf("%s = -%v, want -%v", what, got, want)
	}
}

// mustOpen opens pathname and fails the test on a negative result.
func mustOpen(t *testing.T, proc *vfs.Process, pathname string, flags int) int {
	t.Helper()
	fd := proc.Open(pathname, flags)
	if fd < 0 {
		t.Fatalf("open %s: %v", pathname, vfs.Errno(-fd))
	}
	return int(fd)
}

// writeVFSFile replaces the content of pathname through the syscall
// surface, creating the file when missing.
func writeVFSFile(t *testing.T, proc *vfs.Process, pathname, content string) {
	t.Helper()
	fd := mustOpen(t, proc, pathname, vfs.O_CREATE)
	defer proc.Close(fd)
	must(t, "ftruncate "+pathname, proc.Ftruncate(fd, 0))
	if res := proc.Write(fd, []byte(content)); res != int64(len(content)) {
		t.Fatalf("write %s: got %d, want %d", pathname, res, len(content))
	}
}

// readVFSFile reads the whole file at pathname through the syscall
// surface, following symlinks the way open does.
func readVFSFile(t *testing.T, proc *vfs.Process, pathname string) string {
	t.Helper()
	fd := mustOpen(t, proc, pathname, 0)
	defer proc.Close(fd)
	st, res := proc.Fstat(fd)
	if res < 0 {
		t.Fatalf("fstat %s: %v", pathname, vfs.Errno(-res))
	}
	buf := make([]byte, st.Size)
	n := proc.Read(fd, buf)
	if n < 0 {
		t.Fatalf("read %s: %v", pathname, vfs.Errno(-n))
	}
	return string(buf[:n])
}

// statVFS stats pathname by opening it.
func statVFS(t *testing.T, proc *vfs.Process, pathname string) vfs.Stat {
	t.Helper()
	fd := mustOpen(t, proc, pathname, 0)
	defer proc.Close(fd)
	st, res := proc.Fstat(fd)
	if res < 0 {
		t.Fatalf("fstat %s: %v", pathname, vfs.Errno(-res))
	}
	return st
}

// ---------------------------------------------------------------------------
// Directory record decoding
// ---------------------------------------------------------------------------

// direntRecord is one decoded directory record.
type direntRecord struct {
	EntryID uint64
	Ino     uint32
	Type    uint8
	Name    string
}

// parseDirents decodes the packed records a getdents call produced.
// Layout per record: entry ID u64, ino u32, reclen u16, type u8, then
// the NUL-terminated name, padded to an 8-byte boundary.
func parseDirents(t *testing.T, buf []byte) []direntRecord {
	t.Helper()
	var out []direntRecord
	for off := 0; off < len(buf); {
		if len(buf)-off < 15 {
			t.Fatalf("truncated dirent record at offset %d", off)
		}
		reclen := int(binary.LittleEndian.Uint16(buf[off+12 : off+14]))
		if reclen <= 15 || off+reclen > len(buf) {
			t.Fatalf("bad dirent reclen %d at offset %d", reclen, off)
		}
		name := buf[off+15 : off+reclen]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		out = append(out, direntRecord{
			EntryID: binary.LittleEndian.Uint64(buf[off : off+8]),
			Ino:     binary.LittleEndian.Uint32(buf[off+8 : off+12]),
			Type:    buf[off+14],
			Name:    string(name),
		})
		off += reclen
	}
	return out
}

// readAllDirents drains a directory descriptor with the given buffer
// size, returning records in stream order.
func readAllDirents(t *testing.T, proc *vfs.Process, fd, bufSize int) []direntRecord {
	t.Helper()
	var out []direntRecord
	buf := make([]byte, bufSize)
	for {
		n := proc.Getdents(fd, buf)
		if n < 0 {
			t.Fatalf("getdents: %v", vfs.Errno(-n))
		}
		if n == 0 {
			return out
		}
		out = append(out, parseDirents(t, buf[:n])...)
	}
}

// direntNames projects the record names in stream order.
func direntNames(recs []direntRecord) []string {
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}
	return names
}
