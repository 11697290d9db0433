package cache

import (
	"fmt"
	"math/rand"
	"testing"
)

// BenchmarkCacheGet benchmarks cache Get operations.
func BenchmarkCacheGet(b *testing.B) {
	cache, err := NewSimple[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	// Pre-populate cache
	for i := 0; i < 1000; i++ {
		_, _ = cache.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("key%d", rand.Intn(1000))
			cache.Get(key)
		}
	})
}

// BenchmarkCacheSet benchmarks cache Set operations.
func BenchmarkCacheSet(b *testing.B) {
	cache, err := NewSimple[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("key%d", i)
			value := fmt.Sprintf("value%d", i)
			_, _ = cache.Set(key, value)
			i++
		}
	})
}

// BenchmarkCacheMixed benchmarks mixed cache operations (Get/Set/Delete).
func BenchmarkCacheMixed(b *testing.B) {
	cache, err := NewSimple[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	// Pre-populate cache
	for i := 0; i < 500; i++ {
		_, _ = cache.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 500
		for pb.Next() {
			switch rand.Intn(5) {
			case 0, 1: // 40% reads
				key := fmt.Sprintf("key%d", rand.Intn(1000))
				cache.Get(key)
			case 2, 3: // 40% writes
				key := fmt.Sprintf("key%d", i)
				value := fmt.Sprintf("value%d", i)
				_, _ = cache.Set(key, value)
				i++
			case 4: // 20% deletes
				key := fmt.Sprintf("key%d", rand.Intn(1000))
				_, _ = cache.Delete(key)
			}
		}
	})
}

// BenchmarkMemoryUsage measures memory growth under repeated fill/clear cycles —
// the pattern the parser's schema cache would see if a process reloaded its
// schema set repeatedly.
func BenchmarkMemoryUsage(b *testing.B) {
	const numItems = 10000

	cache, err := NewSimple[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < numItems; j++ {
			key := fmt.Sprintf("key%d_%d", i, j)
			value := fmt.Sprintf("value%d_%d", i, j)
			_, _ = cache.Set(key, value)
		}
		_ = cache.Clear()
	}
}

// BenchmarkConcurrentAccess benchmarks concurrent access patterns.
func BenchmarkConcurrentAccess(b *testing.B) {
	cache, err := NewSimple[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	// Pre-populate
	for i := 0; i < 1000; i++ {
		_, _ = cache.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			go func() {
				cache.Get(fmt.Sprintf("key%d", rand.Intn(1000)))
			}()

			go func() {
				_, _ = cache.Set(fmt.Sprintf("key%d", rand.Intn(2000)), "new_value")
			}()

			// Occasionally check size (read operation)
			if rand.Intn(100) == 0 {
				cache.Size()
			}
		}
	})
}

// BenchmarkExample_ReadHeavy simulates a read-heavy workload (90% reads, 10% writes) —
// the shape of the parser's schema cache once the schema set has stabilized.
func BenchmarkExample_ReadHeavy(b *testing.B) {
	cache, err := NewSimple[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	// Pre-populate
	for i := 0; i < 1000; i++ {
		_, _ = cache.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if rand.Intn(10) == 0 { // 10% writes
				key := fmt.Sprintf("key%d", rand.Intn(2000))
				_, _ = cache.Set(key, "updated_value")
			} else { // 90% reads
				key := fmt.Sprintf("key%d", rand.Intn(1000))
				cache.Get(key)
			}
		}
	})
}

// BenchmarkExample_WriteHeavy simulates a write-heavy workload (70% writes, 30% reads) —
// the shape of the parser's schema cache while new schemas are still being registered.
func BenchmarkExample_WriteHeavy(b *testing.B) {
	cache, err := NewSimple[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer cache.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if rand.Intn(10) < 7 { // 70% writes
				key := fmt.Sprintf("key%d", i)
				_, _ = cache.Set(key, fmt.Sprintf("value%d", i))
				i++
			} else { // 30% reads
				key := fmt.Sprintf("key%d", rand.Intn(i+1))
				cache.Get(key)
			}
		}
	})
}
