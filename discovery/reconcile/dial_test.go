package reconcile

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/flare152/svcdiscovery/discovery"
)

func TestDialOptionsDialTimeout(t *testing.T) {
	var o DialOptions
	if got := o.dialTimeout(); got != 10*time.Second {
		t.Errorf("expected default 10s, got %v", got)
	}

	o.DialTimeout = 2 * time.Second
	if got := o.dialTimeout(); got != 2*time.Second {
		t.Errorf("expected 2s, got %v", got)
	}
}

func newLoopbackGRPCServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestDialInstanceSuccess(t *testing.T) {
	addr := newLoopbackGRPCServer(t)
	inst := discovery.NewServiceInstance("payments", "i1", addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialInstance(ctx, inst, DialOptions{})
	if err != nil {
		t.Fatalf("dialInstance: %v", err)
	}
	defer conn.Close()
}

func TestDialInstanceUnreachable(t *testing.T) {
	inst := discovery.NewServiceInstance("payments", "i1", "127.0.0.1:1")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := dialInstance(ctx, inst, DialOptions{DialTimeout: 200 * time.Millisecond})
	if err == nil {
		t.Fatal("expected error dialing an unreachable address")
	}
}
