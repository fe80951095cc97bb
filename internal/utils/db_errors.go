package utils

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
)

// IsDBLockError reports whether err looks like a lock contention / deadlock /
// busy error. It is intended for retry/backoff decisions; false positives are
// acceptable (worst case: one extra retry).
func IsDBLockError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "lock timeout") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "could not obtain lock")
}

// IsConnectionError reports whether err looks like a dropped or unreachable
// database connection.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "invalid connection") ||
		strings.Contains(msg, "server closed the connection")
}

// IsTransientDBError reports whether err is likely transient
// (timeout/cancel/lock contention/connection drop). It is the default
// retryable-error predicate for the schedulers' retry executor.
func IsTransientDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return IsDBLockError(err) || IsConnectionError(err)
}
