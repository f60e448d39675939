// Package storage defines the key-value contract the oracle persists through.
// Backends live in the memory, postgres and redis subpackages.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: key not found")

	// ErrDuplicateKey is returned by Create when the key already exists.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// ScanFunc receives each matching entry. Returning an error stops the scan and
// is passed through to the caller.
type ScanFunc func(key string, value []byte) error

// KV is a key-addressed byte store. A single Put or Create is atomic: readers
// observe either the old or the new value, never a mix.
type KV interface {
	// Put writes value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Create writes value under key only if the key is absent. Returns ErrDuplicateKey otherwise.
	Create(ctx context.Context, key string, value []byte) error

	// Get returns the value under key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Scan calls fn for every key with the given prefix. Order is backend specific.
	Scan(ctx context.Context, prefix string, fn ScanFunc) error

	// Close releases backend resources.
	Close() error
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
