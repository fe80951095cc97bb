// Package store provides a small key-value store used for scheduler
// run-status snapshots.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is a byte-oriented key-value store with optional TTLs.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Close() error
}
