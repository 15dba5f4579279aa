package registryloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flare152/svcdiscovery/discovery"
)

type fakeBackend struct {
	mu           sync.Mutex
	registered   []discovery.ServiceInstance
	heartbeats   int
	unregistered []discovery.ServiceInstance
	registerErr  error
	heartbeatErr error
}

func (f *fakeBackend) Discover(ctx context.Context, serviceType, namespace string) ([]discovery.ServiceInstance, error) {
	return nil, nil
}

func (f *fakeBackend) Register(ctx context.Context, inst discovery.ServiceInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, inst)
	return nil
}

func (f *fakeBackend) Unregister(ctx context.Context, inst discovery.ServiceInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, inst)
	return nil
}

func (f *fakeBackend) Heartbeat(ctx context.Context, inst discovery.ServiceInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return f.heartbeatErr
}

func (f *fakeBackend) Watch(ctx context.Context, serviceType, namespace string) (<-chan discovery.ServiceInstance, error) {
	ch := make(chan discovery.ServiceInstance)
	close(ch)
	return ch, nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

func TestNewRegistersAndHeartbeatsImmediately(t *testing.T) {
	b := &fakeBackend{}
	inst := discovery.NewServiceInstance("payments", "i1", "10.0.0.1:9000")

	l, err := New(context.Background(), b, inst, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Shutdown(context.Background())

	if len(b.registered) != 1 {
		t.Fatalf("expected Register to be called once, got %d", len(b.registered))
	}

	deadline := time.After(time.Second)
	for b.heartbeatCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("expected an immediate heartbeat before the first tick")
		case <-time.After(time.Millisecond):
		}
	}

	if l.State() != StateHeartbeating {
		t.Errorf("expected state heartbeating, got %s", l.State())
	}
}

func TestNewReturnsErrorOnRegisterFailure(t *testing.T) {
	b := &fakeBackend{registerErr: errors.New("boom")}
	inst := discovery.NewServiceInstance("payments", "i1", "10.0.0.1:9000")

	l, err := New(context.Background(), b, inst, time.Hour, nil)
	if err == nil {
		t.Fatal("expected error from New")
	}
	if l != nil {
		t.Error("expected nil loop on error")
	}
}

func TestHeartbeatTriggersImmediately(t *testing.T) {
	b := &fakeBackend{}
	inst := discovery.NewServiceInstance("payments", "i1", "10.0.0.1:9000")

	l, err := New(context.Background(), b, inst, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Shutdown(context.Background())

	time.Sleep(10 * time.Millisecond)
	before := b.heartbeatCount()

	if err := l.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if b.heartbeatCount() != before+1 {
		t.Errorf("expected heartbeat count to increase by 1, got %d -> %d", before, b.heartbeatCount())
	}
}

func TestUpdateInstanceReRegisters(t *testing.T) {
	b := &fakeBackend{}
	inst := discovery.NewServiceInstance("payments", "i1", "10.0.0.1:9000")

	l, err := New(context.Background(), b, inst, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Shutdown(context.Background())

	updated := inst
	updated.Tags = map[string]string{"tier": "gold"}
	if err := l.UpdateInstance(context.Background(), updated); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.registered) != 2 {
		t.Fatalf("expected Register to be called twice, got %d", len(b.registered))
	}
	if b.registered[1].Tags["tier"] != "gold" {
		t.Errorf("expected updated tags to be registered, got %+v", b.registered[1])
	}
}

func TestShutdownDeregistersAndIsIdempotent(t *testing.T) {
	b := &fakeBackend{}
	inst := discovery.NewServiceInstance("payments", "i1", "10.0.0.1:9000")

	l, err := New(context.Background(), b, inst, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(b.unregistered) != 1 {
		t.Fatalf("expected Unregister to be called once, got %d", len(b.unregistered))
	}
	if l.State() != StateStopped {
		t.Errorf("expected state stopped, got %s", l.State())
	}

	if err := l.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if len(b.unregistered) != 1 {
		t.Errorf("expected Shutdown to be idempotent, got %d unregisters", len(b.unregistered))
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateInitial:       "initial",
		StateRegistering:   "registering",
		StateHeartbeating:  "heartbeating",
		StateDeregistering: "deregistering",
		StateStopped:       "stopped",
		State(99):          "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
