// Package registryloop drives the self-registration lifecycle for one
// service instance: register, heartbeat on a ticker, and deregister on
// shutdown.
package registryloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/backend"
)

// State is the registry loop's lifecycle state.
type State int

const (
	StateInitial State = iota
	StateRegistering
	StateHeartbeating
	StateDeregistering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRegistering:
		return "registering"
	case StateHeartbeating:
		return "heartbeating"
	case StateDeregistering:
		return "deregistering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Loop registers a single instance with a backend and keeps it alive with
// periodic heartbeats until Shutdown is called.
//
// Go has no destructors: unlike the original's best-effort Drop-time
// deregister, a Loop that is simply dropped without calling Shutdown leaves
// its registration in place until the backend's own TTL expires it. Callers
// MUST call Shutdown for a clean deregister.
type Loop struct {
	backend   backend.Backend
	instance  discovery.ServiceInstance
	interval  time.Duration
	logger    *slog.Logger
	telemetry discovery.Telemetry

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithTelemetry attaches a tracer/meter pair; every heartbeat then emits a
// "discovery.heartbeat" span plus a heartbeat-count metric. Omit this
// option to run uninstrumented.
func WithTelemetry(t discovery.Telemetry) Option {
	return func(l *Loop) { l.telemetry = t }
}

// New registers inst with b and starts the heartbeat ticker immediately
// (the first heartbeat fires before the first tick, not after it).
func New(ctx context.Context, b backend.Backend, inst discovery.ServiceInstance, heartbeatInterval time.Duration, logger *slog.Logger, opts ...Option) (*Loop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		backend:  b,
		instance: inst,
		interval: heartbeatInterval,
		logger:   logger,
		state:    StateInitial,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.setState(StateRegistering)
	if err := b.Register(ctx, inst); err != nil {
		l.setState(StateStopped)
		close(l.done)
		return nil, err
	}
	l.setState(StateHeartbeating)

	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.heartbeatLoop(loopCtx)

	return l, nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) heartbeatLoop(ctx context.Context) {
	defer close(l.done)

	if err := l.heartbeat(ctx); err != nil {
		l.logger.Warn("initial heartbeat failed", "instance_id", l.instance.InstanceID, "error", err)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.heartbeat(ctx); err != nil {
				l.logger.Warn("heartbeat failed", "instance_id", l.instance.InstanceID, "error", err)
			}
		}
	}
}

func (l *Loop) heartbeat(ctx context.Context) error {
	l.mu.Lock()
	inst := l.instance
	l.mu.Unlock()

	err := l.backend.Heartbeat(ctx, inst)
	l.telemetry.RecordHeartbeat(ctx, inst.InstanceID, err)
	return err
}

// Heartbeat triggers a heartbeat immediately, outside the ticker cadence.
func (l *Loop) Heartbeat(ctx context.Context) error {
	return l.heartbeat(ctx)
}

// UpdateInstance replaces the registered instance data (e.g. changed tags)
// and re-registers it immediately.
func (l *Loop) UpdateInstance(ctx context.Context, inst discovery.ServiceInstance) error {
	l.mu.Lock()
	l.instance = inst
	l.mu.Unlock()
	return l.backend.Register(ctx, inst)
}

// Shutdown stops the heartbeat ticker and deregisters the instance. It
// waits briefly for any in-flight heartbeat to settle before
// deregistering, and is idempotent.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateStopped || l.state == StateDeregistering {
		l.mu.Unlock()
		return nil
	}
	l.state = StateDeregistering
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	select {
	case <-l.done:
	case <-time.After(100 * time.Millisecond):
	}

	err := l.backend.Unregister(ctx, l.instance)
	l.setState(StateStopped)
	return err
}
