package backend

import (
	"context"
	"testing"
	"time"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/discoveryerr"
)

func TestNewDNSBackendStaticAddresses(t *testing.T) {
	cfg := &discovery.DiscoveryConfig{
		Namespace: "prod",
		BackendConfig: map[string]any{
			"addresses": []string{"10.0.0.1:9000", "10.0.0.2:9000"},
		},
	}
	b, err := NewDNSBackend(cfg)
	if err != nil {
		t.Fatalf("NewDNSBackend: %v", err)
	}

	instances, err := b.Discover(context.Background(), "payments", "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}
	if instances[0].ServiceType != "payments" || instances[0].Namespace != "prod" {
		t.Errorf("unexpected instance %+v", instances[0])
	}
}

func TestNewDNSBackendAddressesAsAnySlice(t *testing.T) {
	cfg := &discovery.DiscoveryConfig{
		BackendConfig: map[string]any{
			"addresses": []any{"10.0.0.1:9000", "10.0.0.2:9000"},
		},
	}
	b, err := NewDNSBackend(cfg)
	if err != nil {
		t.Fatalf("NewDNSBackend: %v", err)
	}
	instances, err := b.Discover(context.Background(), "payments", "")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("expected 2 instances from []any addresses, got %d", len(instances))
	}
}

func TestDNSBackendNamespaceOverride(t *testing.T) {
	cfg := &discovery.DiscoveryConfig{
		Namespace:     "default",
		BackendConfig: map[string]any{"addresses": []string{"10.0.0.1:9000"}},
	}
	b, _ := NewDNSBackend(cfg)

	instances, err := b.Discover(context.Background(), "payments", "staging")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if instances[0].Namespace != "staging" {
		t.Errorf("expected query namespace to override default, got %q", instances[0].Namespace)
	}
}

func TestDNSBackendReadOnlyOperations(t *testing.T) {
	b, _ := NewDNSBackend(&discovery.DiscoveryConfig{})
	inst := discovery.NewServiceInstance("payments", "i1", "10.0.0.1:9000")

	for name, err := range map[string]error{
		"register":   b.Register(context.Background(), inst),
		"unregister": b.Unregister(context.Background(), inst),
		"heartbeat":  b.Heartbeat(context.Background(), inst),
	} {
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if !discoveryerr.IsKind(err, discoveryerr.KindBackendUnsupported) {
			t.Errorf("%s: expected KindBackendUnsupported, got %v", name, err)
		}
	}
}

func TestDNSBackendWatchRespectsCancellation(t *testing.T) {
	b, _ := NewDNSBackend(&discovery.DiscoveryConfig{
		BackendConfig: map[string]any{"addresses": []string{"10.0.0.1:9000"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Watch(ctx, "payments", "")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// a send may have raced the first tick in theory, but the
			// ticker is 30s so in practice the channel should just close.
			t.Log("received a value before cancellation closed the channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected watch channel to close promptly after cancellation")
	}
}

func TestTrimTrailingDot(t *testing.T) {
	if got := trimTrailingDot("svc.internal."); got != "svc.internal" {
		t.Errorf("trimTrailingDot() = %q", got)
	}
	if got := trimTrailingDot("svc.internal"); got != "svc.internal" {
		t.Errorf("trimTrailingDot() = %q", got)
	}
}
