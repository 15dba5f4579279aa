package reconcile

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/flare152/svcdiscovery/discovery"
)

// DialOptions configures how the reconciler dials discovered instances.
type DialOptions struct {
	TLS         credentials.TransportCredentials // nil means insecure
	DialTimeout time.Duration
}

func (o DialOptions) dialTimeout() time.Duration {
	if o.DialTimeout > 0 {
		return o.DialTimeout
	}
	return 10 * time.Second
}

// dialInstance opens a channel to inst, waiting briefly for it to leave the
// Idle/Connecting state, grounded on the teacher's callback-client Connect
// method: short keepalive, bounded dial timeout, fail fast on
// TransientFailure/Shutdown rather than blocking forever.
func dialInstance(ctx context.Context, inst discovery.ServiceInstance, opts DialOptions) (*grpc.ClientConn, error) {
	creds := opts.TLS
	if creds == nil {
		creds = insecure.NewCredentials()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(inst.ToGRPCTarget(), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("reconcile: dialing %s: %w", inst.InstanceID, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, opts.dialTimeout())
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if state == connectivity.TransientFailure || state == connectivity.Shutdown {
			conn.Close()
			return nil, fmt.Errorf("reconcile: dialing %s: connection entered %s", inst.InstanceID, state)
		}
		if !conn.WaitForStateChange(readyCtx, state) {
			break
		}
	}

	return conn, nil
}
