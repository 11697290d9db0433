// Package streamkit implements a client-side subscription lifecycle
// engine for OpenAPI-style streaming backends: establish a subscription
// with an HTTP POST, receive deltas over a multiplexed push connection,
// modify it in place, and tear it down with an HTTP DELETE.
//
// # Architecture
//
//	┌──────────────────────────────┐
//	│        StreamingHost          │  owns the transport, dials and
//	│  (dial, reconnect, dispatch)  │  reconnects the push connection,
//	└───────────────┬────────────────┘  routes frames by reference id
//	                │ routes frames to
//	┌───────────────▼────────────────┐
//	│         Subscription           │  per-stream state machine:
//	│   (state machine + queue)      │  subscribe/modify/unsubscribe,
//	└───────────────┬────────────────┘  snapshot/delta routing, resets
//	                │ issues HTTP via
//	┌───────────────▼────────────────┐
//	│           Transport            │  POST/DELETE/PATCH with retry
//	└─────────────────────────────────┘  and network-error classification
//
// Each Subscription owns an ActionQueue: a small coalescing FIFO that
// absorbs bursts of caller intent (subscribe/modify/unsubscribe calls
// arriving faster than the in-flight request can complete) and reduces
// them to the minimal equivalent sequence of HTTP calls.
//
// # Usage
//
//	// tr is any streamkit.Transport, e.g. one built by transport.New.
//	host, err := streamkit.NewHost(streamkit.Config{
//	    BaseURL: "https://streaming.example.com",
//	}, tr, parser.New(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := host.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	sub := host.NewSubscription("trade", "/prices/subscriptions", streamkit.SubscriptionArgs{
//	    Format:      "application/json",
//	    RefreshRate: 1000,
//	    Arguments:   map[string]any{"Uics": []int{21, 22}},
//	})
//	sub.OnUpdate = func(msg any, kind streamkit.UpdateKind) {
//	    fmt.Println(kind, msg)
//	}
//	sub.OnSubscribe()
//
// # Concurrency
//
// Subscription is single-threaded by design: every public method and
// every response/timer/streaming callback is assumed to run serially,
// one at a time, for a given subscription. There is no internal lock —
// ordering is enforced entirely by the state machine and the action
// queue, and StreamingHost serializes callbacks per subscription through
// an owned dispatch channel rather than a mutex. This keeps "at most one
// HTTP request per subscription is in flight" a property you can read
// off the code, not one you have to trust a lock to maintain.
//
// # Packages
//
//   - (root) streamkit: ActionQueue, Subscription state machine, Host, Config — the core
//   - transport: HTTP POST/DELETE/PATCH with retry and error classification
//   - parser: ParserFacade — JSON/protobuf format parsing with schema caching
//   - component: minimal lifecycle contract shared by host and transport
//   - errors: classified error wrapping (transient/invalid/fatal)
//   - health: aggregate health status reporting
//   - metric: Prometheus metrics for subscriptions, queues, and transport
//   - pkg/buffer, pkg/cache, pkg/retry, pkg/timestamp, pkg/worker: shared utilities
//   - cmd/streamkit-demo: CLI exercising a host against a mock transport
package streamkit
