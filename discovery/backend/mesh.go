package backend

import (
	"context"
	"fmt"

	"github.com/flare152/svcdiscovery/discovery"
)

// MeshBackend models a service-mesh (xDS) deployment where the sidecar owns
// real discovery, registration and watch. Discover returns a static address
// list from configuration (useful for bootstrapping or tests); Register,
// Unregister, and Heartbeat are no-ops since the sidecar handles those out
// of band; Watch returns a channel that never receives anything, since a
// real deployment would subscribe to xDS updates through the sidecar's own
// control connection rather than through this backend.
type MeshBackend struct {
	namespace string
	addresses []string
}

func NewMeshBackend(cfg *discovery.DiscoveryConfig) (*MeshBackend, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}
	b := &MeshBackend{namespace: namespace}
	if cfg.BackendConfig != nil {
		if raw, ok := cfg.BackendConfig["addresses"].([]string); ok {
			b.addresses = raw
		} else if rawAny, ok := cfg.BackendConfig["addresses"].([]any); ok {
			for _, v := range rawAny {
				if s, ok := v.(string); ok {
					b.addresses = append(b.addresses, s)
				}
			}
		}
	}
	return b, nil
}

func (b *MeshBackend) Discover(ctx context.Context, serviceType, namespace string) ([]discovery.ServiceInstance, error) {
	ns := b.namespace
	if namespace != "" {
		ns = namespace
	}
	instances := make([]discovery.ServiceInstance, 0, len(b.addresses))
	for idx, addr := range b.addresses {
		inst := discovery.NewServiceInstance(serviceType, fmt.Sprintf("%s-%d", serviceType, idx), addr)
		inst.Namespace = ns
		instances = append(instances, inst)
	}
	return instances, nil
}

func (b *MeshBackend) Register(ctx context.Context, inst discovery.ServiceInstance) error {
	return nil
}

func (b *MeshBackend) Unregister(ctx context.Context, inst discovery.ServiceInstance) error {
	return nil
}

func (b *MeshBackend) Heartbeat(ctx context.Context, inst discovery.ServiceInstance) error {
	return nil
}

func (b *MeshBackend) Watch(ctx context.Context, serviceType, namespace string) (<-chan discovery.ServiceInstance, error) {
	ch := make(chan discovery.ServiceInstance)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *MeshBackend) Close() error { return nil }
