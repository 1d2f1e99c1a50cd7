// Package util provides shared utility functions for graftfs.
package util

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// VolumeRetryOptions returns retry options for SQLite volume transactions.
// Linear backoff (100ms, 200ms, 300ms) rides out transient lock errors from
// other connections working on the same volume file.
func VolumeRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsVolumeLocked),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic. Without explicit options only
// volume-lock errors are retried; anything else fails on the first attempt.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = VolumeRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// IsVolumeLocked reports whether err is one of SQLite's transient lock
// signals (SQLITE_BUSY or SQLITE_LOCKED, as surfaced by the driver).
func IsVolumeLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
