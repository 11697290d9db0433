// Package cache provides a generic, thread-safe cache used to hold
// decoded schema state.
//
// streamkit's parser keeps one cache.Cache[protoreflect.MessageDescriptor],
// built with cache.NewSimple, mapping schema name to its parsed
// descriptor so repeated frames for the same subscription don't
// re-parse the schema on every message. A schema set is small and
// fixed for the life of a process, so there's no eviction policy to
// choose: entries live until the parser is closed.
//
// The cache is thread-safe with built-in statistics (always enabled
// for observability) and optional Prometheus metrics integration via
// functional options.
package cache

import (
	"github.com/c360/streamkit/errors"
)

// Cache represents a generic cache interface that all cache implementations must satisfy.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was created, false if updated.
	// Returns an error if the operation fails (e.g., invalid key).
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed and was deleted.
	// Returns an error if the operation fails.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	// Returns an error if the operation fails.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns a slice of all keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics if enabled, nil otherwise.
	Stats() *Statistics

	// Close shuts down the cache and releases any resources (e.g., background goroutines).
	Close() error
}

// EvictCallback is called when an entry is deleted from the cache.
// It receives the key and value of the deleted entry.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
// Returns a classified error if the key is invalid.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	// Additional validations can be added here as needed
	return nil
}
