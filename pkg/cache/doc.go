// Package cache provides a generic, thread-safe cache with built-in
// statistics tracking and optional Prometheus metrics integration.
//
// # Overview
//
// streamkit uses exactly one shape of cache: the parser keeps a
// cache.Cache[protoreflect.MessageDescriptor] mapping schema name to
// its parsed descriptor, so the same schema never has to be re-parsed
// across the life of a subscription. A schema registry is small,
// fixed once streamkit's schemas are loaded, and never needs
// eviction — so the package offers a single strategy, Simple, plus a
// NewNoop variant for disabling the cache in tests without branching
// call sites.
//
// # Quick Start
//
//	schemas, err := cache.NewSimple[protoreflect.MessageDescriptor]()
//	if err != nil {
//		log.Fatal(err)
//	}
//	schemas.Set("com.example.Quote", descriptor)
//	descriptor, ok := schemas.Get("com.example.Quote")
//
// With metrics and an eviction callback:
//
//	schemas, err := cache.NewSimple[protoreflect.MessageDescriptor](
//		cache.WithMetrics[protoreflect.MessageDescriptor](registry, "schema_cache"),
//		cache.WithEvictionCallback[protoreflect.MessageDescriptor](func(name string, _ protoreflect.MessageDescriptor) {
//			log.Printf("schema evicted: %s", name)
//		}),
//	)
//
// Disabling the cache in a test:
//
//	schemas := cache.NewNoop[protoreflect.MessageDescriptor]()
//
// # Observability Architecture
//
// The cache implements a dual-tracking pattern for comprehensive observability:
//
// Statistics (Always On):
//   - Tracks all operations using atomic counters
//   - Zero configuration required
//   - Available via cache.Stats()
//   - Provides computed metrics (hit ratio, requests/sec)
//   - No external dependencies
//
// Prometheus Metrics (Optional):
//   - Enabled via WithMetrics() option
//   - Exports to Prometheus for time-series monitoring
//   - Includes component labels for instance identification
//   - Standard metric types (Counter, Gauge)
//
// # Design Decision: Dual Tracking Pattern
//
// Both Statistics and Metrics track operations independently, which appears redundant
// but serves distinct operational purposes:
//
// Why Track Twice?
//
// 1. Independence: Statistics work without Prometheus dependency
//   - Always available for debugging, even in minimal deployments
//   - No external infrastructure required for basic observability
//   - Critical for tests and local development
//
// 2. Computed Metrics: Statistics provide derived values not available in raw Prometheus
//   - Hit ratio (hits / total requests)
//   - Requests per second with built-in timing
//   - Miss ratio (misses / total requests)
//
// 3. Different Use Cases:
//   - Statistics: Programmatic access, debugging, tests, runtime inspection
//   - Metrics: Time-series analysis, Grafana dashboards, alerting, production monitoring
//
// # Performance Impact
//
// Dual tracking overhead per operation:
//   - 1x atomic increment (Statistics)
//   - 1x atomic increment (Prometheus counter) if enabled
//   - 1x gauge set (Prometheus) if enabled
//
// # Functional Options Pattern
//
// The package uses functional options for clean, composable configuration:
//
//	cache, err := cache.NewSimple[V](
//		cache.WithMetrics[V](registry, "component"),
//		cache.WithEvictionCallback[V](callback),
//	)
//
// Available options:
//   - WithMetrics: Enable Prometheus metrics export
//   - WithEvictionCallback: Get notified when items are deleted
//
// # Thread Safety
//
// All cache operations are thread-safe for concurrent use:
//   - Multiple goroutines can read concurrently (RWMutex for reads)
//   - Writes are serialized with mutex protection
//   - Statistics use atomic operations (lock-free)
//   - Metrics use Prometheus atomic types
//   - Eviction callbacks are called outside locks to prevent deadlocks
//
// # Performance Characteristics
//
//   - Get: O(1) map lookup
//   - Set: O(1) map insert
//   - Delete: O(1) map delete
//   - Memory: O(n) where n is the number of registered schemas
//
// # Generic Type Support
//
// The cache is fully generic and works with any Go type; streamkit
// instantiates exactly one, cache.Cache[protoreflect.MessageDescriptor].
//
// Type constraints:
//   - Keys are always strings (schema names)
//   - Values can be any type V
//   - No serialization required - stores values directly in memory
//
// # Testing
//
// The package includes comprehensive tests with race detection:
//
//	go test -race ./pkg/cache
//
// Benchmarks are available to validate performance:
//
//	go test -bench=. ./pkg/cache
//
// Statistics make testing cache behavior easy:
//
//	cache, _ := cache.NewSimple[int]()
//	cache.Set("key", 42)
//	_, _ = cache.Get("key")
//	_, _ = cache.Get("missing")
//
//	assert.Equal(t, int64(1), cache.Stats().Hits())
//	assert.Equal(t, int64(1), cache.Stats().Misses())
//	assert.Equal(t, 0.5, cache.Stats().HitRatio())
//
// # Examples
//
// See cache_test.go for runnable examples.
package cache
