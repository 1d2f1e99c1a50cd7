package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDefinitions(t *testing.T) {
	t.Parallel()

	// Verify all errors are defined and unique
	errs := []error{
		ErrNotFound,
		ErrExists,
		ErrNotDir,
		ErrIsDir,
		ErrNotEmpty,
		ErrNotSymlink,
		ErrTooManyLinks,
		ErrBadOffset,
		ErrInvalidPath,
		ErrInvalidArg,
		ErrBusy,
		ErrReadOnly,
		ErrNoSpace,
		ErrIO,
	}

	t.Run("all errors are non-nil", func(t *testing.T) {
		t.Parallel()
		for i, err := range errs {
			require.NotNil(t, err, "error at index %d should not be nil", i)
		}
	})

	t.Run("all error messages are unique", func(t *testing.T) {
		t.Parallel()
		seen := make(map[string]bool)
		for _, err := range errs {
			msg := err.Error()
			assert.False(t, seen[msg], "duplicate error message: %s", msg)
			seen[msg] = true
		}
	})
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrExists", ErrExists, "already exists"},
		{"ErrNotDir", ErrNotDir, "not a directory"},
		{"ErrIsDir", ErrIsDir, "is a directory"},
		{"ErrNotEmpty", ErrNotEmpty, "directory not empty"},
		{"ErrNotSymlink", ErrNotSymlink, "not a symlink"},
		{"ErrTooManyLinks", ErrTooManyLinks, "too many links"},
		{"ErrBadOffset", ErrBadOffset, "bad offset"},
		{"ErrInvalidPath", ErrInvalidPath, "invalid path"},
		{"ErrInvalidArg", ErrInvalidArg, "invalid argument"},
		{"ErrBusy", ErrBusy, "resource busy"},
		{"ErrReadOnly", ErrReadOnly, "read-only filesystem"},
		{"ErrNoSpace", ErrNoSpace, "no space left"},
		{"ErrIO", ErrIO, "I/O error"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorIs(t *testing.T) {
	t.Parallel()

	t.Run("wrapped sentinel matches with errors.Is", func(t *testing.T) {
		t.Parallel()
		wrapped := fmt.Errorf("lookup %q: %w", "missing", ErrNotFound)
		assert.True(t, errors.Is(wrapped, ErrNotFound))
		assert.False(t, errors.Is(wrapped, ErrExists))
	})

	t.Run("string concatenation does not match", func(t *testing.T) {
		t.Parallel()
		fake := errors.New("wrapped: " + ErrNotFound.Error())
		assert.False(t, errors.Is(fake, ErrNotFound),
			"error built by string concatenation should not match with errors.Is")
	})
}
