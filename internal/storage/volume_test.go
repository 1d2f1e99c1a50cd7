package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graftfs/internal/common"
)

// testVolume creates a temporary volume for testing.
// Uses t.TempDir() which automatically cleans up after the test.
func testVolume(t *testing.T) (*Volume, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.graftfs")

	vol, err := Create(path)
	require.NoError(t, err, "failed to create volume")

	return vol, func() {
		vol.Close()
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	t.Run("creates new volume", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "new.graftfs")

		vol, err := Create(path)
		require.NoError(t, err)
		defer vol.Close()

		// Verify file exists
		_, err = os.Stat(path)
		assert.NoError(t, err, "volume file should exist")

		assert.Equal(t, path, vol.Path())

		// Verify root inode exists
		ctx := context.Background()
		root, err := vol.BunDB().GetInode(ctx, RootIno)
		require.NoError(t, err)
		assert.Equal(t, int64(TypeDir), root.Type, "root inode should be a directory")
		assert.Equal(t, int64(1), root.Nlink)
		assert.Equal(t, int64(RootIno), root.ParentIno, "root is its own parent")

		version, err := vol.BunDB().GetSchemaInfo(ctx, "version")
		require.NoError(t, err)
		assert.Equal(t, SchemaVersion, version)
	})

	t.Run("fails when file already exists", func(t *testing.T) {
		t.Parallel()
		vol, cleanup := testVolume(t)
		defer cleanup()

		_, err := Create(vol.Path())
		assert.Error(t, err, "Create() should fail when file exists")
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("reopens existing volume", func(t *testing.T) {
		t.Parallel()
		vol, cleanup := testVolume(t)
		path := vol.Path()
		vol.Close()
		defer cleanup()

		vol2, err := Open(path)
		require.NoError(t, err)
		defer vol2.Close()

		root, err := vol2.BunDB().GetInode(context.Background(), RootIno)
		require.NoError(t, err)
		assert.Equal(t, int64(TypeDir), root.Type, "root inode should be a directory")
	})

	t.Run("fails for nonexistent file", func(t *testing.T) {
		t.Parallel()
		_, err := Open("/nonexistent/path/file.graftfs")
		assert.Error(t, err)
	})

	t.Run("rejects a database that is not a volume", func(t *testing.T) {
		t.Parallel()
		vol, cleanup := testVolume(t)
		defer cleanup()
		path := vol.Path()

		require.NoError(t, vol.BunDB().SetSchemaInfo(context.Background(), "type", "journal"))
		require.NoError(t, vol.Close())

		_, err := Open(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a graftfs volume")
	})

	t.Run("fails while another handle holds the volume", func(t *testing.T) {
		t.Parallel()
		vol, cleanup := testVolume(t)
		defer cleanup()

		_, err := Open(vol.Path())
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrBusy)
	})
}

func TestVolumeID(t *testing.T) {
	t.Parallel()
	vol, cleanup := testVolume(t)
	defer cleanup()

	id, err := vol.VolumeID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "volume id should be a UUID")

	path := vol.Path()
	require.NoError(t, vol.Close())

	vol2, err := Open(path)
	require.NoError(t, err)
	defer vol2.Close()

	id2, err := vol2.VolumeID()
	require.NoError(t, err)
	assert.Equal(t, id, id2, "volume id survives reopen")
}

func TestClose(t *testing.T) {
	t.Parallel()

	t.Run("removes WAL sidecar files", func(t *testing.T) {
		t.Parallel()
		vol, cleanup := testVolume(t)
		defer cleanup()
		path := vol.Path()

		// A write forces WAL activity before the close.
		require.NoError(t, vol.BunDB().SetConfigValue(context.Background(), "probe", "1"))
		require.NoError(t, vol.Close())

		for _, sidecar := range []string{path + "-wal", path + "-shm"} {
			_, err := os.Stat(sidecar)
			assert.True(t, os.IsNotExist(err), "%s should be removed", sidecar)
		}
	})

	t.Run("releases the volume lock", func(t *testing.T) {
		t.Parallel()
		vol, cleanup := testVolume(t)
		defer cleanup()
		path := vol.Path()
		require.NoError(t, vol.Close())

		vol2, err := Open(path)
		require.NoError(t, err)
		assert.NoError(t, vol2.Close())
	})

	t.Run("is idempotent", func(t *testing.T) {
		t.Parallel()
		vol, _ := testVolume(t)
		require.NoError(t, vol.Close())
		assert.NoError(t, vol.Close())
	})
}
