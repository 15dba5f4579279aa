// Package factory wires a discovery backend, reconciler, and registry loop
// together using env-tunable, documented defaults.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/backend"
	"github.com/flare152/svcdiscovery/discovery/discoveryerr"
	"github.com/flare152/svcdiscovery/discovery/reconcile"
	"github.com/flare152/svcdiscovery/discovery/registryloop"
	"github.com/flare152/svcdiscovery/registry"
)

// CreateBackend builds the backend named by cfg.Backend.
func CreateBackend(cfg *discovery.DiscoveryConfig, regCfg registry.Config) (backend.Backend, error) {
	switch cfg.Backend {
	case discovery.BackendLeaseKV:
		return registry.NewClient(regCfg)
	case discovery.BackendAgentHTTP:
		return backend.NewAgentHTTPBackend(cfg)
	case discovery.BackendDNS:
		return backend.NewDNSBackend(cfg)
	case discovery.BackendMesh:
		return backend.NewMeshBackend(cfg)
	default:
		return nil, discoveryerr.New("create_backend", discoveryerr.KindConfiguration,
			fmt.Sprintf("unknown backend kind %q", cfg.Backend))
	}
}

// CreateDiscover builds a backend and a running Reconciler over it. telemetry
// may be the zero value to run uninstrumented.
func CreateDiscover(ctx context.Context, cfg *discovery.DiscoveryConfig, regCfg registry.Config, telemetry discovery.Telemetry) (backend.Backend, *reconcile.Reconciler, error) {
	cfg.ApplyDefaults()
	b, err := CreateBackend(cfg, regCfg)
	if err != nil {
		return nil, nil, err
	}
	r, err := reconcile.New(ctx, b, *cfg, reconcile.WithTelemetry(telemetry))
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return b, r, nil
}

// RegisterAndDiscover registers inst, then builds a reconciler and a
// registry loop over the same backend. DNS and mesh backends reject this
// the same way the original does — they are read-only. telemetry may be
// the zero value to run uninstrumented.
func RegisterAndDiscover(ctx context.Context, cfg *discovery.DiscoveryConfig, regCfg registry.Config, inst discovery.ServiceInstance, telemetry discovery.Telemetry) (*registryloop.Loop, *reconcile.Reconciler, error) {
	if cfg.Backend == discovery.BackendDNS || cfg.Backend == discovery.BackendMesh {
		return nil, nil, discoveryerr.New("register_and_discover", discoveryerr.KindBackendUnsupported,
			string(cfg.Backend)+" backend does not support service registration")
	}

	cfg.ApplyDefaults()

	if inst.InstanceID == "" {
		inst.InstanceID = uuid.NewString()
	}

	b, err := CreateBackend(cfg, regCfg)
	if err != nil {
		return nil, nil, err
	}

	loop, err := registryloop.New(ctx, b, inst, cfg.HeartbeatInterval, slog.Default(), registryloop.WithTelemetry(telemetry))
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}

	r, err := reconcile.New(ctx, b, *cfg, reconcile.WithTelemetry(telemetry))
	if err != nil {
		_ = loop.Shutdown(ctx)
		_ = b.Close()
		return nil, nil, err
	}

	return loop, r, nil
}

// RecommendedTTL returns a TTL that satisfies the invariant
// heartbeatInterval*2 <= TTL, calibrated to the documented default pairing
// of a 20s heartbeat interval with a 60s lease TTL (3x).
func RecommendedTTL(heartbeatInterval time.Duration) time.Duration {
	return heartbeatInterval * 3
}
