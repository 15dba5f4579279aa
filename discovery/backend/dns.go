package backend

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/flare152/svcdiscovery/discovery"
)

// DNSBackend is a read-only backend that resolves instances either via
// SRV records (when a domain is configured) or from a static address list
// in BackendConfig["addresses"]. It never supports Register/Unregister.
type DNSBackend struct {
	namespace string
	domain    string
	addresses []string
}

// NewDNSBackend builds a DNSBackend from a DiscoveryConfig. BackendConfig
// may carry "domain" (string) for real SRV lookups or "addresses"
// ([]string of host:port) for the static fallback used when no domain is
// configured, matching the original's simplified behavior.
func NewDNSBackend(cfg *discovery.DiscoveryConfig) (*DNSBackend, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}
	b := &DNSBackend{namespace: namespace}
	if cfg.BackendConfig != nil {
		if d, ok := cfg.BackendConfig["domain"].(string); ok {
			b.domain = d
		}
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

func (b *DNSBackend) resolveSRV(ctx context.Context, serviceType string) ([]string, error) {
	if b.domain == "" {
		return b.addresses, nil
	}
	srvName := fmt.Sprintf("_%s._tcp.%s.%s", serviceType, b.namespace, b.domain)
	_, srvs, err := net.DefaultResolver.LookupSRV(ctx, "", "", srvName)
	if err != nil {
		// SRV lookup failures fall back to the static list rather than
		// failing discovery outright.
		return b.addresses, nil
	}
	addrs := make([]string, 0, len(srvs))
	for _, s := range srvs {
		addrs = append(addrs, fmt.Sprintf("%s:%d", trimTrailingDot(s.Target), s.Port))
	}
	return addrs, nil
}

func (b *DNSBackend) Discover(ctx context.Context, serviceType, namespace string) ([]discovery.ServiceInstance, error) {
	addrs, err := b.resolveSRV(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	ns := b.namespace
	if namespace != "" {
		ns = namespace
	}
	instances := make([]discovery.ServiceInstance, 0, len(addrs))
	for idx, addr := range addrs {
		inst := discovery.NewServiceInstance(serviceType, fmt.Sprintf("%s-%d", serviceType, idx), addr)
		inst.Namespace = ns
		instances = append(instances, inst)
	}
	return instances, nil
}

func (b *DNSBackend) Register(ctx context.Context, inst discovery.ServiceInstance) error {
	return ErrUnsupported("register", "dns")
}

func (b *DNSBackend) Unregister(ctx context.Context, inst discovery.ServiceInstance) error {
	return ErrUnsupported("unregister", "dns")
}

func (b *DNSBackend) Heartbeat(ctx context.Context, inst discovery.ServiceInstance) error {
	return ErrUnsupported("heartbeat", "dns")
}

// Watch polls Discover every 30 seconds and forwards each resulting
// instance individually, since DNS has no native push mechanism.
func (b *DNSBackend) Watch(ctx context.Context, serviceType, namespace string) (<-chan discovery.ServiceInstance, error) {
	ch := make(chan discovery.ServiceInstance, 100)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				instances, err := b.Discover(ctx, serviceType, namespace)
				if err != nil {
					continue
				}
				for _, inst := range instances {
					select {
					case ch <- inst:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

func (b *DNSBackend) Close() error { return nil }

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
