// Package backend defines the discovery backend contract and provides the
// agent-HTTP, DNS, and mesh implementations. The lease-KV backend lives in
// the sibling registry package, since it is substantial enough to warrant
// its own package the way the teacher's etcd client did.
package backend

import (
	"context"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/discoveryerr"
)

// Backend is the contract every discovery mechanism implements: discover the
// current instances of a service, register/unregister a self-instance, keep
// that registration alive, and watch for changes.
type Backend interface {
	// Discover returns the current set of instances for serviceType in
	// namespace. An empty namespace means "use the backend's own default
	// scan behavior", which is backend-specific and documented on each
	// implementation.
	Discover(ctx context.Context, serviceType, namespace string) ([]discovery.ServiceInstance, error)

	// Register publishes inst to the backend. Calling Register again with
	// the same InstanceID updates the existing entry rather than creating a
	// duplicate.
	Register(ctx context.Context, inst discovery.ServiceInstance) error

	// Unregister removes inst from the backend. It is a no-op, not an
	// error, if inst was never registered.
	Unregister(ctx context.Context, inst discovery.ServiceInstance) error

	// Heartbeat refreshes an existing registration's liveness signal
	// (lease renewal, TTL check ping, …). The default behavior, when a
	// backend has nothing smarter to do, is to call Register again.
	Heartbeat(ctx context.Context, inst discovery.ServiceInstance) error

	// Watch streams individual ServiceInstance values as they are
	// discovered or change. The returned channel is closed when ctx is
	// canceled. An implementation may return a channel that never
	// receives a value (the mesh backend does).
	Watch(ctx context.Context, serviceType, namespace string) (<-chan discovery.ServiceInstance, error)

	// Close releases any resources held by the backend (connections,
	// background goroutines). After Close, other methods may return
	// errors.
	Close() error
}

// DefaultHeartbeat implements the "heartbeat just re-registers" behavior
// for backends with nothing smarter to do. None of the backends in this
// package call it: agent-HTTP pings its TTL check, DNS rejects heartbeats,
// and mesh treats them as no-ops.
func DefaultHeartbeat(ctx context.Context, b Backend, inst discovery.ServiceInstance) error {
	return b.Register(ctx, inst)
}

// ErrUnsupported builds the standard BackendUnsupported error returned by
// the read-only DNS backend for register, unregister and heartbeat.
func ErrUnsupported(op, backendName string) error {
	return discoveryerr.New(op, discoveryerr.KindBackendUnsupported,
		backendName+" backend does not support "+op).WithBackend(backendName)
}
