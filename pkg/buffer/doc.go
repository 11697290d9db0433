// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Overview
//
// The buffer package implements high-performance circular buffers for managing data flow
// between producers and consumers in concurrent systems. Buffers are generic, thread-safe,
// and provide comprehensive observability through always-on statistics and optional metrics.
//
// # Quick Start
//
// Basic buffer creation:
//
//	buf, err := buffer.NewCircularBuffer[int](1000)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Write data
//	err = buf.Write(42)
//
//	// Read data
//	value, ok := buf.Read()
//
// With overflow policy and metrics (Host's inbound frame queue uses the
// same capacity and policy, without metrics):
//
//	buf, err := buffer.NewCircularBuffer[frame](4096,
//		buffer.WithOverflowPolicy[frame](buffer.DropOldest),
//		buffer.WithMetrics[frame](registry, "inbound_frames"),
//	)
//
// # Overflow Policies
//
// The buffer supports three overflow behaviors when capacity is reached:
//
//   - DropOldest: Remove oldest item to make room (default — what
//     Host's inbound queue uses, so a burst of frames pushes out stale
//     backlog rather than stalling the websocket read loop)
//   - DropNewest: Reject new items when full
//   - Block: Write operations wait for available space
//
// Example with blocking policy:
//
//	buf, _ := buffer.NewCircularBuffer[*StreamingMessage](100,
//		buffer.WithOverflowPolicy[*StreamingMessage](buffer.Block),
//	)
//
//	// Write with timeout when using Block policy
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	err := buf.WriteWithContext(ctx, msg)
//
// # Observability Architecture
//
// The buffer package implements a dual-tracking pattern for comprehensive observability:
//
// Statistics (Always On):
//   - Tracks all operations using atomic counters
//   - Zero configuration required
//   - Available via buf.Stats()
//   - Provides computed metrics (throughput, drop rate, utilization)
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
//
// 2. Computed Metrics: Statistics provide derived values not available in raw Prometheus
//   - Throughput (ops/sec) with built-in timing
//   - Drop rate as percentage (drops / writes)
//   - Overflow rate as percentage (overflows / writes)
//   - Utilization relative to capacity
//
// 3. Different Use Cases:
//   - Statistics: Programmatic access, debugging, tests, local monitoring
//   - Metrics: Time-series analysis, dashboards, alerting, production monitoring
//
// 4. Performance Trade-off:
//   - Overhead: ~50-100ns per operation for dual tracking
//   - At 100k ops/sec: ~0.5-1% total overhead
//   - Cost is negligible compared to observability value
//
// # Performance Impact
//
// Dual tracking overhead per operation:
//   - 1x atomic increment (Statistics)
//   - 1x atomic increment (Prometheus counter) if enabled
//   - 1x gauge set (Prometheus) if enabled
//
// # Thread Safety
//
// All buffer operations are thread-safe for concurrent use:
//   - Multiple producers can write concurrently (Host's websocket read
//     loop is the only writer in practice, but the guarantee holds for
//     any number of producers)
//   - Multiple consumers can read concurrently
//   - Statistics use atomic operations (lock-free)
//   - Metrics use Prometheus atomic types
//   - Internal state protected by sync.RWMutex
//   - Block policy uses sync.Cond for waiting
//
// # API Design Patterns
//
// Functional Options:
//
// The package uses functional options for clean, composable configuration:
//
//	buf, _ := buffer.NewCircularBuffer[T](capacity,
//		buffer.WithOverflowPolicy[T](policy),
//		buffer.WithMetrics[T](registry, prefix),
//		buffer.WithDropCallback[T](callback),
//	)
//
// This pattern provides:
//   - Clear intent with named functions
//   - Easy composition of features
//   - Backward compatibility when adding options
//   - Type-safe configuration
//
// Generic Types:
//
// Buffers are fully generic and work with any Go type; streamkit
// instantiates exactly one, Host's `buffer.Buffer[frame]` holding raw
// inbound push envelopes ahead of per-subscription routing.
//
// # Performance Characteristics
//
// Operations:
//   - Write: O(1) constant time
//   - Read: O(1) constant time
//   - ReadBatch: O(n) where n is batch size
//   - Peek: O(1) constant time
//   - Size/IsFull/IsEmpty: O(1) constant time
//
// Memory:
//   - Pre-allocated circular array
//   - No dynamic allocations during operation
//   - Memory usage: capacity * sizeof(T)
//   - Statistics overhead: ~200 bytes
//   - Metrics overhead: ~1KB when enabled
//
// # Common Use Cases
//
// Inbound push-frame buffering (streamkit's Host):
//
//	inbound, err := buffer.NewCircularBuffer[frame](4096,
//		buffer.WithOverflowPolicy[frame](buffer.DropOldest),
//	)
//
// Rate-Limited Processing:
//
//	taskBuffer, err := buffer.NewCircularBuffer[*cleanupDelete](500,
//		buffer.WithOverflowPolicy[*cleanupDelete](buffer.DropNewest),
//		buffer.WithDropCallback[*cleanupDelete](func(t *cleanupDelete) {
//			log.Printf("dropped cleanup delete: %s", t.req.ReferenceID)
//		}),
//	)
//
// # Testing
//
// The package includes comprehensive tests with race detection:
//
//	go test -race ./pkg/buffer
//
// Benchmarks are available to validate performance:
//
//	go test -bench=. ./pkg/buffer
//
// # Examples
//
// See buffer_test.go and benchmark_test.go for runnable examples.
package buffer
