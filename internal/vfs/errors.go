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

	log "github.com/sirupsen/logrus"

	"graftfs/internal/common"
)

// Errno is a numeric status code as seen by callers of the syscall surface.
// Values are fixed and do not depend on the host platform; they match the
// Linux numbering so that encoded results stay stable across builds.
type Errno int32

const (
	ENOENT    Errno = 2
	EIO       Errno = 5
	EBADF     Errno = 9
	EFAULT    Errno = 14
	EBUSY     Errno = 16
	EEXIST    Errno = 17
	EXDEV     Errno = 18
	ENODEV    Errno = 19
	ENOTDIR   Errno = 20
	EISDIR    Errno = 21
	EINVAL    Errno = 22
	EMFILE    Errno = 24
	ENOSPC    Errno = 28
	ESPIPE    Errno = 29
	EROFS     Errno = 30
	EMLINK    Errno = 31
	ERANGE    Errno = 34
	ENOSYS    Errno = 38
	ENOTEMPTY Errno = 39
	ELOOP     Errno = 40
)

var errnoNames = map[Errno]string{
	ENOENT:    "ENOENT",
	EIO:       "EIO",
	EBADF:     "EBADF",
	EFAULT:    "EFAULT",
	EBUSY:     "EBUSY",
	EEXIST:    "EEXIST",
	EXDEV:     "EXDEV",
	ENODEV:    "ENODEV",
	ENOTDIR:   "ENOTDIR",
	EISDIR:    "EISDIR",
	EINVAL:    "EINVAL",
	EMFILE:    "EMFILE",
	ENOSPC:    "ENOSPC",
	ESPIPE:    "ESPIPE",
	EROFS:     "EROFS",
	EMLINK:    "EMLINK",
	ERANGE:    "ERANGE",
	ENOSYS:    "ENOSYS",
	ENOTEMPTY: "ENOTEMPTY",
	ELOOP:     "ELOOP",
}

// Error makes Errno usable anywhere an error is expected, so internal
// layers can hand a specific code straight to the dispatcher.
func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", int32(e))
}

// Is lets errors.Is match an Errno against the portable os sentinels,
// mirroring what syscall.Errno does for the host errnos.
func (e Errno) Is(target error) bool {
	switch target {
	case os.ErrNotExist:
		return e == ENOENT
	case os.ErrExist:
		return e == EEXIST || e == ENOTEMPTY
	case os.ErrInvalid:
		return e == EINVAL
	}
	return false
}

// toErrno collapses an internal error into the single Errno reported to the
// caller. Backends speak common sentinels; vfs-internal code may return an
// Errno directly. Anything unrecognized is reported as EIO.
func toErrno(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, common.ErrNotFound):
		return ENOENT
	case errors.Is(err, common.ErrExists):
		return EEXIST
	case errors.Is(err, common.ErrNotDir):
		return ENOTDIR
	case errors.Is(err, common.ErrIsDir):
		return EISDIR
	case errors.Is(err, common.ErrNotEmpty):
		return ENOTEMPTY
	case errors.Is(err, common.ErrNotSymlink):
		return EINVAL
	case errors.Is(err, common.ErrTooManyLinks):
		return EMLINK
	case errors.Is(err, common.ErrBadOffset):
		return EINVAL
	case errors.Is(err, common.ErrInvalidPath):
		return ENOENT
	case errors.Is(err, common.ErrInvalidArg):
		return EINVAL
	case errors.Is(err, common.ErrBusy):
		return EBUSY
	case errors.Is(err, common.ErrReadOnly):
		return EROFS
	case errors.Is(err, common.ErrNoSpace):
		return ENOSPC
	case errors.Is(err, common.ErrIO):
		return EIO
	default:
		log.Errorf("[VFS] unmapped error treated as EIO: %v", err)
		return EIO
	}
}

// errnoResult encodes an (error) result as the int64 returned from the
// syscall surface: 0 on success, -errno on failure.
func errnoResult(err error) int64 {
	if err == nil {
		return 0
	}
	return -int64(toErrno(err))
}

// valueResult encodes a (value, error) result as the int64 returned from
// the syscall surface: the non-negative value on success, -errno on failure.
func valueResult(v int64, err error) int64 {
	if err != nil {
		return -int64(toErrno(err))
	}
	return v
}
