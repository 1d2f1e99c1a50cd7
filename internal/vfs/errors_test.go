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
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graftfs/internal/common"
)

func TestErrnoValues(t *testing.T) {
	t.Parallel()

	// Codes are part of the caller-visible contract and must never drift.
	tests := []struct {
		name string
		code Errno
		want int32
	}{
		{"ENOENT", ENOENT, 2},
		{"EIO", EIO, 5},
		{"EBADF", EBADF, 9},
		{"EFAULT", EFAULT, 14},
		{"EBUSY", EBUSY, 16},
		{"EEXIST", EEXIST, 17},
		{"EXDEV", EXDEV, 18},
		{"ENODEV", ENODEV, 19},
		{"ENOTDIR", ENOTDIR, 20},
		{"EISDIR", EISDIR, 21},
		{"EINVAL", EINVAL, 22},
		{"EMFILE", EMFILE, 24},
		{"ENOSPC", ENOSPC, 28},
		{"ESPIPE", ESPIPE, 29},
		{"EROFS", EROFS, 30},
		{"EMLINK", EMLINK, 31},
		{"ERANGE", ERANGE, 34},
		{"ENOSYS", ENOSYS, 38},
		{"ENOTEMPTY", ENOTEMPTY, 39},
		{"ELOOP", ELOOP, 40},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, int32(tt.code), "%s must keep its wire value", tt.name)
			assert.Equal(t, tt.name, tt.code.Error(), "%s should render its own name", tt.name)
		})
	}
}

func TestErrnoUnknownValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "errno 99", Errno(99).Error())
}

func TestErrnoMatchesOSSentinels(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.Is(ENOENT, os.ErrNotExist))
	assert.True(t, errors.Is(EEXIST, os.ErrExist))
	assert.True(t, errors.Is(ENOTEMPTY, os.ErrExist))
	assert.True(t, errors.Is(EINVAL, os.ErrInvalid))

	assert.False(t, errors.Is(EIO, os.ErrNotExist))
	assert.False(t, errors.Is(ENOENT, os.ErrExist))

	wrapped := fmt.Errorf("open %q: %w", "gone", ENOENT)
	assert.True(t, errors.Is(wrapped, os.ErrNotExist))
}

func TestToErrnoSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Errno
	}{
		{common.ErrNotFound, ENOENT},
		{common.ErrExists, EEXIST},
		{common.ErrNotDir, ENOTDIR},
		{common.ErrIsDir, EISDIR},
		{common.ErrNotEmpty, ENOTEMPTY},
		{common.ErrNotSymlink, EINVAL},
		{common.ErrTooManyLinks, EMLINK},
		{common.ErrBadOffset, EINVAL},
		{common.ErrInvalidPath, ENOENT},
		{common.ErrInvalidArg, EINVAL},
		{common.ErrBusy, EBUSY},
		{common.ErrReadOnly, EROFS},
		{common.ErrNoSpace, ENOSPC},
		{common.ErrIO, EIO},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, toErrno(tt.err))
		})
	}
}

func TestToErrnoWrapped(t *testing.T) {
	t.Parallel()

	// Wrapped sentinels still translate.
	wrapped := fmt.Errorf("lookup %q: %w", "missing", common.ErrNotFound)
	assert.Equal(t, ENOENT, toErrno(wrapped))

	// An Errno anywhere in the chain wins over sentinel matching.
	direct := fmt.Errorf("seek on stream: %w", ESPIPE)
	assert.Equal(t, ESPIPE, toErrno(direct))
}

func TestToErrnoFallback(t *testing.T) {
	t.Parallel()

	require.Equal(t, Errno(0), toErrno(nil))
	assert.Equal(t, EIO, toErrno(errors.New("unclassified failure")))
}

func TestResultEncoding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(0), errnoResult(nil))
	assert.Equal(t, int64(-16), errnoResult(common.ErrBusy))

	assert.Equal(t, int64(42), valueResult(42, nil))
	assert.Equal(t, int64(-2), valueResult(0, common.ErrNotFound))
}
