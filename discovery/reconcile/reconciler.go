// Package reconcile implements the discovery reconciler: a periodic
// discover-diff-dial loop that maintains a cache of live gRPC channels and
// publishes Insert/Remove change events as instances come and go.
//
// Reader and writer roles are split by method rather than by type: the
// reader methods (Instances, FilterByTags, Channel, ReadySnapshot) only look
// at the shared instance map and channel cache under a read lock, while
// refresh, insertInstance, removeInstance and Close are the only methods
// that mutate them. There is no separate updater value.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/backend"
)

// Reconciler discovers instances of one service type on a ticker, dials new
// ones, drops dialed channels for instances that disappeared, and emits a
// change event for every transition. Call Events() for the live stream and
// Instances()/Channel() to inspect current state.
type Reconciler struct {
	backend     backend.Backend
	serviceType string
	namespace   string
	cfg         discovery.DiscoveryConfig
	dialOpts    DialOptions
	logger      *slog.Logger
	telemetry   discovery.Telemetry

	mu        sync.RWMutex
	instances map[string]discovery.ServiceInstance
	channels  map[string]*grpc.ClientConn

	events chan discovery.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Reconciler at construction time.
type Option func(*Reconciler)

// WithDialOptions overrides the default insecure, 10s-timeout dial options.
func WithDialOptions(opts DialOptions) Option {
	return func(r *Reconciler) { r.dialOpts = opts }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithTelemetry attaches a tracer/meter pair; every refresh pass then emits
// a "discovery.refresh" span plus refresh-count/duration/ready-instance
// metrics. Omit this option to run uninstrumented.
func WithTelemetry(t discovery.Telemetry) Option {
	return func(r *Reconciler) { r.telemetry = t }
}

// New builds and starts a Reconciler: it performs one immediate discover
// pass before returning, then continues refreshing on cfg.RefreshInterval.
func New(ctx context.Context, b backend.Backend, cfg discovery.DiscoveryConfig, opts ...Option) (*Reconciler, error) {
	cfg.ApplyDefaults()

	ctx, cancel := context.WithCancel(ctx)
	r := &Reconciler{
		backend:     b,
		serviceType: cfg.ServiceType,
		namespace:   cfg.Namespace,
		cfg:         cfg,
		logger:      slog.Default(),
		instances:   make(map[string]discovery.ServiceInstance),
		channels:    make(map[string]*grpc.ClientConn),
		events:      make(chan discovery.Event, 16),
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.refresh(ctx)

	r.wg.Add(1)
	go r.refreshLoop(ctx)

	return r, nil
}

func (r *Reconciler) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh performs one discover-diff-dial pass. Errors from the backend are
// logged and skipped — the reconciler keeps serving its last-known-good
// state rather than tearing anything down on a transient discover failure.
func (r *Reconciler) refresh(ctx context.Context) {
	ctx, finish := r.telemetry.RecordRefresh(ctx, r.serviceType)

	found, err := r.backend.Discover(ctx, r.serviceType, r.namespace)
	if err != nil {
		r.logger.Warn("discover failed", "service_type", r.serviceType, "error", err)
		finish(0, 0, len(r.Instances()), err)
		return
	}

	filtered := make([]discovery.ServiceInstance, 0, len(found))
	for _, inst := range found {
		ok, err := discovery.MatchAllTagFilters(r.cfg.TagFilters, inst.Tags)
		if err != nil {
			r.logger.Warn("tag filter evaluation failed", "error", err)
			continue
		}
		if ok {
			filtered = append(filtered, inst)
		}
	}

	newMap := make(map[string]discovery.ServiceInstance, len(filtered))
	for _, inst := range filtered {
		newMap[inst.InstanceID] = inst
	}

	r.mu.Lock()
	var toInsert []discovery.ServiceInstance
	var toRemove []string

	for id, inst := range newMap {
		old, existed := r.instances[id]
		if !existed {
			toInsert = append(toInsert, inst)
			continue
		}
		if !old.Equal(inst) {
			toRemove = append(toRemove, id)
			toInsert = append(toInsert, inst)
		}
	}
	for id := range r.instances {
		if _, ok := newMap[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	r.mu.Unlock()

	for _, id := range toRemove {
		r.removeInstance(ctx, id)
	}
	inserted := 0
	for _, inst := range toInsert {
		r.insertInstance(ctx, inst)
		if _, ok := r.Channel(inst.InstanceID); ok {
			inserted++
		}
	}

	finish(inserted, len(toRemove), len(newMap), nil)
}

func (r *Reconciler) insertInstance(ctx context.Context, inst discovery.ServiceInstance) {
	conn, err := dialInstance(ctx, inst, r.dialOpts)
	if err != nil {
		r.logger.Warn("dial failed, skipping instance", "instance_id", inst.InstanceID, "error", err)
		return
	}

	r.mu.Lock()
	r.instances[inst.InstanceID] = inst
	r.channels[inst.InstanceID] = conn
	r.mu.Unlock()

	r.publish(ctx, discovery.Event{Kind: discovery.EventInsert, InstanceID: inst.InstanceID, Instance: inst})
}

func (r *Reconciler) removeInstance(ctx context.Context, id string) {
	r.mu.Lock()
	conn, ok := r.channels[id]
	delete(r.channels, id)
	delete(r.instances, id)
	r.mu.Unlock()

	if ok && conn != nil {
		_ = conn.Close()
	}
	r.publish(ctx, discovery.Event{Kind: discovery.EventRemove, InstanceID: id})
}

// publish delivers ev on the bounded event channel. State and the channel
// cache are already updated by the time publish is called, so a full
// channel only delays delivery — it never causes an event to be dropped.
// The only way out without sending is the reconciler itself shutting down.
func (r *Reconciler) publish(ctx context.Context, ev discovery.Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
		r.logger.Warn("reconciler shutting down, dropping undelivered event", "kind", ev.Kind.String())
	}
}

// Events returns the change-event stream.
func (r *Reconciler) Events() <-chan discovery.Event {
	return r.events
}

// Instances returns a snapshot of the currently known instances.
func (r *Reconciler) Instances() []discovery.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]discovery.ServiceInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// FilterByTags returns the subset of known instances matching every filter.
func (r *Reconciler) FilterByTags(filters []discovery.TagFilter) ([]discovery.ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]discovery.ServiceInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		ok, err := discovery.MatchAllTagFilters(filters, inst.Tags)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Channel returns the cached connection for instanceID, if any.
func (r *Reconciler) Channel(instanceID string) (*grpc.ClientConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.channels[instanceID]
	return conn, ok
}

// ReadySnapshot returns the instance ids currently holding a live channel,
// the input the load-balanced client samples from.
func (r *Reconciler) ReadySnapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}

// Close stops the refresh loop and closes every cached channel.
func (r *Reconciler) Close() error {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.channels {
		_ = conn.Close()
	}
	r.channels = make(map[string]*grpc.ClientConn)
	close(r.events)
	return nil
}
