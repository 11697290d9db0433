// Command streamkit-demo exercises a Host end to end: "mock-server"
// stands up a minimal OpenAPI-style subscribe/unsubscribe/modify
// endpoint plus a multiplexed websocket push, and "run" drives a real
// Host against any such pair of URLs, printing updates as they arrive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	streamkit "github.com/c360/streamkit"
	"github.com/c360/streamkit/health"
	"github.com/c360/streamkit/metric"
	"github.com/c360/streamkit/parser"
	"github.com/c360/streamkit/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamkit-demo",
		Short: "streamkit demo CLI",
		Long:  "streamkit-demo drives a streaming Host against an OpenAPI-style subscribe endpoint and a multiplexed websocket push, or stands up a mock of both for local exercise.",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newMockServerCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Subscribe to a streaming service and print updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("base-url")
			streamURL, _ := cmd.Flags().GetString("stream-url")
			authToken, _ := cmd.Flags().GetString("auth-token")
			servicePath, _ := cmd.Flags().GetString("service-path")
			streamPath, _ := cmd.Flags().GetString("stream-path")
			tag, _ := cmd.Flags().GetString("tag")
			format, _ := cmd.Flags().GetString("format")
			refreshMs, _ := cmd.Flags().GetInt("refresh-ms")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			if baseURL == "" || streamURL == "" {
				return fmt.Errorf("--base-url and --stream-url are required")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)
			registry := metric.NewMetricsRegistry()

			cfg := streamkit.DefaultConfig()
			cfg.BaseURL = baseURL
			cfg.StreamURL = streamURL
			cfg.AuthToken = authToken

			if metricsAddr != "" {
				metricsSrv, err := startMetricsServer(metricsAddr, registry)
				if err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				defer func() { _ = metricsSrv.Stop() }()
			}

			tr := transport.New(transport.Config{
				BaseURL:   cfg.BaseURL,
				AuthToken: cfg.AuthToken,
				Timeout:   cfg.RequestTimeout,
			}, registry.CoreMetrics())

			host, err := streamkit.NewHost(cfg, tr, parser.New(), registry.CoreMetrics())
			if err != nil {
				return fmt.Errorf("build host: %w", err)
			}

			if err := host.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize host: %w", err)
			}
			if err := host.Start(ctx); err != nil {
				return fmt.Errorf("start host: %w", err)
			}

			sub := host.NewSubscription(servicePath, streamPath, streamkit.SubscriptionArgs{
				Format:      format,
				RefreshRate: refreshMs,
				Tag:         tag,
			})
			sub.OnUpdate = func(data any, kind streamkit.UpdateKind) {
				logger.Info("update", "kind", kind.String(), "data", data)
			}
			sub.OnError = func(errResp streamkit.ErrorResponse) {
				logger.Error("subscription error", "code", errResp.ErrorCode, "message", errResp.Message)
			}

			if err := host.Subscribe(sub); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}

			go logHealthPeriodically(ctx, logger, host)

			<-ctx.Done()
			logger.Info("shutting down")
			host.Unsubscribe(sub, true)
			return host.Stop(5 * time.Second)
		},
	}

	cmd.Flags().String("base-url", os.Getenv("STREAMKIT_DEMO_BASE_URL"), "HTTP origin for subscribe/modify/unsubscribe")
	cmd.Flags().String("stream-url", os.Getenv("STREAMKIT_DEMO_STREAM_URL"), "Websocket origin for the multiplexed push connection")
	cmd.Flags().String("auth-token", os.Getenv("STREAMKIT_DEMO_AUTH_TOKEN"), "Bearer token sent with every call")
	cmd.Flags().String("service-path", "/streaming/demo", "Subscribe service path")
	cmd.Flags().String("stream-path", "/subscriptions", "Subscribe URL beneath the service path")
	cmd.Flags().String("tag", "demo", "Subscription tag, for unsubscribe-by-tag")
	cmd.Flags().String("format", "application/json", "Requested stream format")
	cmd.Flags().Int("refresh-ms", 1000, "Requested refresh rate in milliseconds")
	cmd.Flags().String("metrics-addr", os.Getenv("STREAMKIT_DEMO_METRICS_ADDR"), "If set, serve Prometheus metrics here")
	return cmd
}

func startMetricsServer(addr string, registry *metric.MetricsRegistry) (*metric.Server, error) {
	port, err := strconv.Atoi(trimLeadingColon(addr))
	if err != nil {
		return nil, fmt.Errorf("parse metrics-addr %q: %w", addr, err)
	}
	srv := metric.NewServer(port, "/metrics", registry)
	go func() {
		_ = srv.Start()
	}()
	return srv, nil
}

// logHealthPeriodically surfaces the host's aggregated connection and
// subscription health on an interval, the way an operator dashboard
// would poll Host.Health in production.
func logHealthPeriodically(ctx context.Context, logger *slog.Logger, host *streamkit.Host) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var status health.Status = host.Health()
			logger.Info("health", "status", status.Status, "message", status.Message)
		}
	}
}

func trimLeadingColon(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return addr[1:]
	}
	return addr
}

// newMockServerCmd stands up a minimal subscribe/unsubscribe/modify
// HTTP endpoint and a websocket push endpoint so "run" has something
// to talk to without a real backend: one in-memory counter ticks a
// snapshot-then-delta sequence into every active reference id.
func newMockServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run an in-process mock of the subscribe endpoint and push connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			httpAddr, _ := cmd.Flags().GetString("http-addr")
			tickMs, _ := cmd.Flags().GetInt("tick-ms")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			m := newMockHub(logger, time.Duration(tickMs)*time.Millisecond)

			mux := http.NewServeMux()
			mux.HandleFunc("/ws", m.serveWebsocket)
			mux.HandleFunc("/", m.serveSubscribeAPI)

			srv := &http.Server{Addr: httpAddr, Handler: mux}
			go m.tickLoop(ctx)
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("mock server listening", "addr", httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("http-addr", ":8089", "Address to listen on for both HTTP and websocket")
	cmd.Flags().Int("tick-ms", 500, "How often to push a delta to each active reference id")
	return cmd
}

type mockHub struct {
	logger   *slog.Logger
	tick     time.Duration
	upgrader websocket.Upgrader

	connMu sync.RWMutex
	conns  map[*websocket.Conn]struct{}

	refMu sync.Mutex
	refs  map[string]int
}

func newMockHub(logger *slog.Logger, tick time.Duration) *mockHub {
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	return &mockHub{
		logger: logger,
		tick:   tick,
		conns:  make(map[*websocket.Conn]struct{}),
		refs:   make(map[string]int),
	}
}

func (m *mockHub) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	m.connMu.Lock()
	m.conns[conn] = struct{}{}
	m.connMu.Unlock()

	defer func() {
		m.connMu.Lock()
		delete(m.conns, conn)
		m.connMu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type mockPushEnvelope struct {
	ReferenceID string          `json:"ReferenceId"`
	Data        json.RawMessage `json:"Data"`
}

func (m *mockHub) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.broadcastTick()
		}
	}
}

func (m *mockHub) broadcastTick() {
	m.refMu.Lock()
	payloads := make(map[string]int, len(m.refs))
	for ref := range m.refs {
		m.refs[ref]++
		payloads[ref] = m.refs[ref]
	}
	m.refMu.Unlock()

	m.connMu.RLock()
	defer m.connMu.RUnlock()
	for ref, count := range payloads {
		data, _ := json.Marshal(map[string]any{"tick": count})
		env, _ := json.Marshal(mockPushEnvelope{ReferenceID: ref, Data: data})
		for conn := range m.conns {
			if err := conn.WriteMessage(websocket.TextMessage, env); err != nil {
				m.logger.Warn("push write failed", "error", err)
			}
		}
	}
}

// serveSubscribeAPI handles POST (subscribe), DELETE (unsubscribe) and
// PATCH (modify) on any path, keyed by the trailing reference id
// segment DELETE/PATCH requests carry.
func (m *mockHub) serveSubscribeAPI(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		m.handleSubscribe(w, r)
	case http.MethodDelete:
		m.handleUnsubscribe(w, r)
	case http.MethodPatch:
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (m *mockHub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReferenceID string `json:"ReferenceId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	ref := body.ReferenceID
	if ref == "" {
		http.Error(w, "missing ReferenceId", http.StatusBadRequest)
		return
	}

	m.refMu.Lock()
	m.refs[ref] = 0
	m.refMu.Unlock()

	resp := streamkit.SubscribeResponse{
		State:             "Active",
		Format:            "application/json",
		ContextID:         uuid.New().String(),
		InactivityTimeout: 60,
		RefreshRate:       1000,
		Snapshot:          map[string]any{"tick": 0},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	m.logger.Info("mock subscribe", "reference_id", ref)
}

// handleUnsubscribe drops the trailing path segment's reference id from
// the tick set; streamkit's transport puts it last in DELETE's path
// (servicePath/url/contextId/referenceId).
func (m *mockHub) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) > 0 {
		ref := segments[len(segments)-1]
		m.refMu.Lock()
		delete(m.refs, ref)
		m.refMu.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}
