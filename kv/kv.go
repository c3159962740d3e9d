// Package kv provides a key-value store with hierarchical path-based keys.
// Keys are string slices (e.g., ["profile", "idle", "model"]) encoded with a
// ':' separator.
//
// The package includes a BadgerDB-backed implementation for production use
// and an in-memory implementation for testing.
package kv

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path represented as a slice of string segments.
//
// Segments must not contain the separator character.
type Key []string

// String returns the key as it is encoded in storage.
func (k Key) String() string {
	return strings.Join(k, string(Separator))
}

// Separator joins key segments in storage.
const Separator byte = ':'

func (k Key) encode() []byte {
	return []byte(k.String())
}

// Entry is a key-value pair used by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is the interface for a key-value store with path-based keys.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair. Overwrites any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// BatchGet reads several keys from one consistent snapshot. The result
	// has one slot per key; missing keys yield nil without an error.
	BatchGet(ctx context.Context, keys []Key) ([][]byte, error)

	// BatchSet atomically stores multiple key-value pairs.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete atomically removes multiple keys.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases any resources held by the store.
	Close() error
}
