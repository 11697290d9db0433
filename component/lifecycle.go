// Package component defines the minimal lifecycle and health-reporting
// contracts shared by the long-running pieces of a streaming client
// (the streaming host, its transport, its subscriptions).
package component

import (
	"context"
	"time"
)

// State represents the lifecycle state of a managed component.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateInitialized
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is implemented by anything with an explicit
// initialize/start/stop lifecycle; the streaming host satisfies it.
type LifecycleComponent interface {
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	State() State
}

// HealthStatus describes the current health of a component, consumed
// by health.FromComponentHealth to build an externally reportable
// health.Status.
type HealthStatus struct {
	Healthy    bool
	LastCheck  time.Time
	ErrorCount int
	LastError  string
	Uptime     time.Duration
}

// FlowMetrics describes the throughput a component is currently
// sustaining. No type in this module produces or reads one.
type FlowMetrics struct {
	MessagesPerSecond float64
	BytesPerSecond    float64
	ErrorRate         float64
	LastActivity      time.Time
}
