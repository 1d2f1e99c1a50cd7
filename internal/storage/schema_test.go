package storage

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// No t.Parallel here: these tests drive the process-wide timeout knobs.
func TestGetBusyTimeout(t *testing.T) {
	t.Run("defaults when nothing is set", func(t *testing.T) {
		SetConfigBusyTimeout(0)
		t.Setenv(EnvBusyTimeout, "")
		assert.Equal(t, DefaultBusyTimeout, GetBusyTimeout())
	})

	t.Run("prefers the settings file over the default", func(t *testing.T) {
		SetConfigBusyTimeout(5000)
		defer SetConfigBusyTimeout(0)
		t.Setenv(EnvBusyTimeout, "")
		assert.Equal(t, 5000, GetBusyTimeout())
	})

	t.Run("environment overrides the settings file", func(t *testing.T) {
		SetConfigBusyTimeout(5000)
		defer SetConfigBusyTimeout(0)
		t.Setenv(EnvBusyTimeout, "1234")
		assert.Equal(t, 1234, GetBusyTimeout())
	})

	t.Run("ignores malformed environment values", func(t *testing.T) {
		SetConfigBusyTimeout(0)
		t.Setenv(EnvBusyTimeout, "soon")
		assert.Equal(t, DefaultBusyTimeout, GetBusyTimeout())
	})

	t.Run("ignores non-positive environment values", func(t *testing.T) {
		SetConfigBusyTimeout(0)
		t.Setenv(EnvBusyTimeout, "-1")
		assert.Equal(t, DefaultBusyTimeout, GetBusyTimeout())
	})
}

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN("/tmp/vol.graftfs")
	assert.True(t, strings.HasPrefix(dsn, "file:/tmp/vol.graftfs?"))
	assert.Contains(t, dsn, fmt.Sprintf("_busy_timeout=%d", GetBusyTimeout()))
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	script := `
-- leading comment
CREATE TABLE a (
    x INTEGER
);

INSERT INTO a VALUES (1);
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.Equal(t, "INSERT INTO a VALUES (1);", stmts[1])

	assert.Empty(t, splitStatements("-- only comments\n\n"))

	// A trailing statement without a semicolon is still returned.
	stmts = splitStatements("SELECT 1")
	require.Len(t, stmts, 1)
	assert.Equal(t, "SELECT 1", stmts[0])
}
