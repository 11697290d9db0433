package streamkit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/c360/streamkit/component"
	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/health"
	"github.com/c360/streamkit/metric"
	"github.com/c360/streamkit/pkg/buffer"
	"github.com/c360/streamkit/pkg/timestamp"
	"github.com/c360/streamkit/pkg/worker"
	"github.com/gorilla/websocket"
)

// frame is one raw inbound push message, queued in the host's inbound
// buffer before being routed to its subscription.
type frame struct {
	referenceID string
	data        []byte
}

// Host owns the multiplexed push connection, the shared Transport and
// ParserFacade, and every Subscription it creates. It is the seam that
// serializes all callbacks for a given subscription onto one logical
// goroutine (see the package docs' concurrency section): every call
// into *Subscription happens either directly from a caller-invoked
// Host method, or via a single dispatch goroutine draining a work
// channel.
type Host struct {
	cfg       Config
	transport Transport
	parsers   ParserFacade

	subsMu sync.Mutex
	byRef  map[string]*Subscription
	all    []*Subscription

	dispatch chan func()

	connMu              sync.Mutex
	conn                *websocket.Conn
	reconnectAttempts   int
	connectionAvailable bool

	inbound buffer.Buffer[frame]

	cleanupPool *worker.Pool[cleanupDelete]

	lifecycleMu sync.Mutex
	state       component.State
	startTime   time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	shutdown    chan struct{}
	shutdownOnce sync.Once

	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Monitor
}

var _ component.LifecycleComponent = (*Host)(nil)

// NewHost builds a Host in the created state. transport and parsers
// are required; pass nil metrics to disable metrics recording.
func NewHost(cfg Config, transport Transport, parsers ParserFacade, metrics *metric.Metrics) (*Host, error) {
	if transport == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Host", "NewHost", "transport is required")
	}
	if parsers == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Host", "NewHost", "parsers is required")
	}

	capacity := cfg.InboundBufferCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	inbound, err := buffer.NewCircularBuffer[frame](capacity, buffer.WithOverflowPolicy[frame](buffer.DropOldest))
	if err != nil {
		return nil, errors.WrapFatal(err, "Host", "NewHost", "create inbound frame buffer")
	}

	return &Host{
		cfg:       cfg,
		transport: transport,
		parsers:   parsers,
		byRef:     make(map[string]*Subscription),
		dispatch:  make(chan func(), 1024),
		inbound:   inbound,
		logger:    slog.Default(),
		metrics:   metrics,
		health:    health.NewMonitor(),
		state:     component.StateCreated,
	}, nil
}

// Health reports the aggregated status of the push connection and
// every subscription reference registered with this host. It never
// blocks on the dispatch loop — unlike subscription operations, health
// is read directly off the monitor so it stays available even while
// the host is mid-reconnect.
func (h *Host) Health() health.Status {
	return h.health.AggregateHealth("host")
}

// run submits fn to the dispatch loop, serializing it against every
// other subscription callback this host drives. Safe to call from any
// goroutine, including the websocket read loop and transport callbacks.
func (h *Host) run(fn func()) {
	select {
	case h.dispatch <- fn:
	case <-h.shutdown:
	}
}

// NewSubscription creates a Subscription wired to this host's shared
// Transport/ParserFacade and registers it for frame routing and orphan
// sweeps.
func (h *Host) NewSubscription(servicePath, url string, args SubscriptionArgs) *Subscription {
	sub := NewSubscription(servicePath, url, args, h.transport, h.parsers, h.cleanupPool)
	sub.Runner = h.run
	sub.Logger = h.logger
	sub.Metrics = h.metrics
	// Every reference-id change reindexes immediately, whether Host
	// itself initiated it (Subscribe/Modify/Unsubscribe, which also
	// reindex explicitly below) or the subscription changed it on its
	// own — a reconnect draining a queued SUBSCRIBE, or a Reset fired
	// by the orphan sweep or a parse failure.
	sub.ReferenceIDChanged = func(_, _ string) { h.reindex(sub) }

	h.connMu.Lock()
	sub.ConnectionAvailable = h.connectionAvailable
	h.connMu.Unlock()

	h.subsMu.Lock()
	h.all = append(h.all, sub)
	h.subsMu.Unlock()
	return sub
}

func (h *Host) reindex(sub *Subscription) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for ref, s := range h.byRef {
		if s == sub && ref != sub.ReferenceID {
			delete(h.byRef, ref)
		}
	}
	if sub.ReferenceID != "" {
		h.byRef[sub.ReferenceID] = sub
	}
}

// Subscribe requests a (re)subscribe and keeps the reference-id index current.
func (h *Host) Subscribe(sub *Subscription) error {
	err := sub.OnSubscribe()
	h.reindex(sub)
	return err
}

// Modify replaces a subscription's arguments, patching or
// resubscribing per isPatch, and keeps the reference-id index current.
func (h *Host) Modify(sub *Subscription, newArgs map[string]any, isPatch bool, patchArgsDelta any) error {
	err := sub.OnModify(newArgs, isPatch, patchArgsDelta)
	h.reindex(sub)
	return err
}

// Unsubscribe tears a subscription down.
func (h *Host) Unsubscribe(sub *Subscription, force bool) {
	sub.OnUnsubscribe(force)
	h.reindex(sub)
}

// UnsubscribeByTag parks every subscription whose Args.Tag matches tag,
// issues an unsubscribe DELETE for each one that is ready for it,
// completes each as its own DELETE response arrives, and returns once
// every issued DELETE has been handled.
func (h *Host) UnsubscribeByTag(tag string) {
	h.subsMu.Lock()
	var matching []*Subscription
	for _, sub := range h.all {
		if sub.Args.Tag == tag {
			matching = append(matching, sub)
		}
	}
	h.subsMu.Unlock()

	if len(matching) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range matching {
		sub.OnUnsubscribeByTagPending()
		if !sub.IsReadyForUnsubscribeByTag() {
			continue // mid-transition; its own queue will settle it eventually
		}
		wg.Add(1)
		req := DeleteRequest{ServicePath: sub.ServicePath, URL: sub.URL, ContextID: sub.CurrentStreamingContextID, ReferenceID: sub.ReferenceID}
		s := sub
		h.transport.Delete(req, func(_ *ErrorResponse) {
			h.run(func() {
				s.OnUnsubscribeByTagComplete()
				h.reindex(s)
				wg.Done()
			})
		})
	}
	wg.Wait()
}

// onFrame routes one inbound frame to its subscription by reference
// id, recording an orphan if none is registered.
func (h *Host) onFrame(f frame) {
	h.subsMu.Lock()
	sub, ok := h.byRef[f.referenceID]
	h.subsMu.Unlock()

	if !ok {
		if h.metrics != nil {
			h.metrics.RecordOrphanedUpdate()
		}
		h.logger.Debug("frame for unknown reference id", "reference_id", f.referenceID)
		return
	}
	if !sub.OnStreamingData(StreamingMessage{ReferenceID: f.referenceID, Data: f.data}) {
		h.logger.Debug("frame for already-unsubscribed reference id", "reference_id", f.referenceID)
	}
}

func (h *Host) onHeartbeat() {
	h.subsMu.Lock()
	subs := append([]*Subscription(nil), h.all...)
	h.subsMu.Unlock()
	for _, sub := range subs {
		sub.OnHeartbeat()
	}
}

// Initialize implements component.LifecycleComponent.
func (h *Host) Initialize(_ context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	if h.state != component.StateCreated {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Host", "Initialize", "already initialized")
	}
	h.state = component.StateInitialized
	return nil
}

// Start implements component.LifecycleComponent: it launches the
// dispatch loop, the websocket connect/reconnect loop, the inbound
// frame drain loop, and the orphan sweep.
func (h *Host) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.state == component.StateRunning {
		return errors.WrapFatal(fmt.Errorf("host already started"), "Host", "Start", "check state")
	}
	h.state = component.StateStarting
	h.shutdown = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(4)
	go h.dispatchLoop(runCtx)
	go h.connectLoop(runCtx)
	go h.drainInboundLoop(runCtx)
	go h.orphanSweepLoop(runCtx)

	h.startTime = time.Now()
	h.state = component.StateRunning
	return nil
}

// Stop implements component.LifecycleComponent.
func (h *Host) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.state != component.StateRunning {
		return nil
	}
	h.state = component.StateStopping
	h.shutdownOnce.Do(func() { close(h.shutdown) })
	if h.cancel != nil {
		h.cancel()
	}

	h.connMu.Lock()
	if h.conn != nil {
		h.conn.Close()
	}
	h.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		h.state = component.StateFailed
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Host", "Stop", "wait for goroutines")
	}

	_ = h.inbound.Close()
	h.state = component.StateStopped
	return nil
}

// State implements component.LifecycleComponent.
func (h *Host) State() component.State {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	return h.state
}

func (h *Host) dispatchLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case fn := <-h.dispatch:
			fn()
		}
	}
}

func (h *Host) setConnectionAvailable(available bool) {
	h.connMu.Lock()
	h.connectionAvailable = available
	h.connMu.Unlock()
	if h.metrics != nil {
		h.metrics.RecordConnectionAvailable(available)
	}
	if available {
		h.health.UpdateHealthy("connection", "push connection established")
	} else {
		h.health.UpdateDegraded("connection", "push connection unavailable, reconnecting")
	}

	h.subsMu.Lock()
	subs := append([]*Subscription(nil), h.all...)
	h.subsMu.Unlock()

	for _, sub := range subs {
		s := sub
		h.run(func() {
			if available {
				s.OnConnectionAvailable()
			} else {
				s.OnConnectionUnavailable()
			}
		})
	}
}

// connectLoop dials the multiplexed connection and reconnects with
// exponential backoff on failure.
func (h *Host) connectLoop(ctx context.Context) {
	defer h.wg.Done()

	dialer := &websocket.Dialer{HandshakeTimeout: 45 * time.Second}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		default:
		}

		header := make(map[string][]string)
		if h.cfg.AuthToken != "" {
			header["Authorization"] = []string{"Bearer " + h.cfg.AuthToken}
		}

		conn, _, err := dialer.Dial(h.cfg.StreamURL, header)
		if err != nil {
			if h.metrics != nil {
				h.metrics.RecordError("host", "connect_error")
			}
			h.health.UpdateUnhealthy("connection", fmt.Sprintf("dial failed: %v", err))
			delay := h.calculateReconnectDelay()
			h.connMu.Lock()
			h.reconnectAttempts++
			h.connMu.Unlock()
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			case <-h.shutdown:
				return
			}
		}

		h.connMu.Lock()
		h.conn = conn
		h.reconnectAttempts = 0
		h.connMu.Unlock()

		if h.metrics != nil {
			h.metrics.RecordReconnect()
		}
		h.setConnectionAvailable(true)

		h.readLoop(conn)

		h.connMu.Lock()
		h.conn = nil
		h.connMu.Unlock()
		h.setConnectionAvailable(false)
	}
}

func (h *Host) calculateReconnectDelay() time.Duration {
	h.connMu.Lock()
	attempts := h.reconnectAttempts
	h.connMu.Unlock()

	minDelay := h.cfg.ReconnectMinDelay
	if minDelay <= 0 {
		minDelay = time.Second
	}
	maxDelay := h.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := minDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4)) // #nosec G404 -- reconnect jitter, not security sensitive
	return delay + jitter
}

// pushEnvelope is the wire shape of one multiplexed frame.
type pushEnvelope struct {
	ReferenceID string          `json:"ReferenceId"`
	Data        json.RawMessage `json:"Data"`
	Heartbeat   bool            `json:"Heartbeat,omitempty"`
}

func (h *Host) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if h.metrics != nil {
				h.metrics.RecordError("host", "read_error")
			}
			return
		}

		var env pushEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			if h.metrics != nil {
				h.metrics.RecordError("host", "parse_error")
			}
			continue
		}

		if env.Heartbeat {
			h.run(h.onHeartbeat)
			continue
		}

		if err := h.inbound.Write(frame{referenceID: env.ReferenceID, data: env.Data}); err != nil {
			if h.metrics != nil {
				h.metrics.RecordError("host", "buffer_write_error")
			}
		}
	}
}

func (h *Host) drainInboundLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case <-ticker.C:
			if f, ok := h.inbound.Read(); ok {
				frameCopy := f
				h.run(func() { h.onFrame(frameCopy) })
			}
		}
	}
}

func (h *Host) orphanSweepLoop(ctx context.Context) {
	defer h.wg.Done()
	interval := h.cfg.OrphanSweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case <-ticker.C:
			now := timestamp.Now()
			h.subsMu.Lock()
			subs := append([]*Subscription(nil), h.all...)
			h.subsMu.Unlock()
			// resetCount is only ever touched from within h.run closures,
			// so it is safe to share across them without a lock: they all
			// execute serially on the one dispatch-loop goroutine, in the
			// order submitted, and the report closure below is submitted
			// last.
			resetCount := 0
			for _, sub := range subs {
				s := sub
				h.run(func() {
					if s.TimeTillOrphaned(now) <= 0 {
						if h.metrics != nil {
							h.metrics.RecordInactivityReset()
						}
						resetCount++
						s.Reset()
					}
				})
			}
			h.run(func() {
				if resetCount > 0 {
					h.health.UpdateDegraded("subscriptions", fmt.Sprintf("%d subscription(s) reset for inactivity this sweep", resetCount))
				} else {
					h.health.UpdateHealthy("subscriptions", fmt.Sprintf("%d subscription(s) tracked", len(subs)))
				}
			})
		}
	}
}
