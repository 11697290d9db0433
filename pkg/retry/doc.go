// Package retry provides simple exponential backoff retry logic for transient failures.
//
// # Overview
//
// This package offers a minimal retry mechanism with exponential backoff, designed to handle
// transient failures in network operations, resource initialization, and component startup.
// streamkit's HTTP transport is the one real caller: every SUBSCRIBE,
// MODIFY_PATCH, and DELETE round trip goes through retry.Do, and a
// request-build failure or an explicit subscribe rejection is wrapped
// in retry.NonRetryable so it fails on the first attempt instead of
// burning through backoff for an error retrying can't fix.
//
// # core Functions
//
//   - Do: Execute function with retry and exponential backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (what the transport uses)
//   - Quick(): 10 attempts, 50ms-1s delay (component startup)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// # Usage Examples
//
// What the transport actually does for a subscribe request:
//
//	retryErr := retry.Do(context.Background(), t.retryCfg, func() error {
//	    req, buildErr := http.NewRequest(...)
//	    if buildErr != nil {
//	        return retry.NonRetryable(buildErr)
//	    }
//	    resp, err := t.client.Do(req)
//	    if err != nil {
//	        return err // transient — eligible for retry
//	    }
//	    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
//	        failure = decodeErrorBody(resp)
//	        if resp.StatusCode >= 400 && resp.StatusCode < 500 {
//	            return retry.NonRetryable(fmt.Errorf("subscribe rejected: %s", failure.Message))
//	        }
//	        return fmt.Errorf("subscribe failed: %s", failure.Message) // 5xx — eligible for retry
//	    }
//	    return json.NewDecoder(resp.Body).Decode(&parsed)
//	})
//
// Custom configuration:
//
//	cfg := retry.Config{
//	    MaxAttempts:  5,
//	    InitialDelay: 200 * time.Millisecond,
//	    MaxDelay:     10 * time.Second,
//	    Multiplier:   2.0,
//	    AddJitter:    true,
//	}
//	err := retry.Do(ctx, cfg, operation)
//
// # Design Philosophy
//
// This package is intentionally minimal:
//
//   - No circuit breakers (use service mesh or separate package)
//   - No metrics collection (use instrumentation at call site)
//   - No complex error classification (caller decides what to retry)
//   - Just exponential backoff with jitter
//
// # Context Cancellation
//
// All retry operations respect context cancellation and will immediately stop retrying
// when the context is cancelled, either during operation execution or during backoff delay.
//
// # Thread Safety
//
// All functions are safe for concurrent use. The jitter mechanism uses a thread-safe
// random source to avoid contention.
package retry
