// Package lbclient provides a power-of-two-choices load-balanced client
// over a reconciler's ready set of dialed channels.
package lbclient

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc"

	"github.com/flare152/svcdiscovery/discovery/reconcile"
)

// LoadMetric returns a comparative load value for an instance; lower is
// preferred. The default metric is constant, matching the core's documented
// default ("P2C with a constant load metric"), which reduces selection to
// an unweighted random pick between two candidates.
type LoadMetric func(instanceID string) uint32

// ConstantLoad is the default LoadMetric: every instance reports equal load.
func ConstantLoad(string) uint32 { return 0 }

// Client samples two distinct ready instances and picks the lower-load one,
// polling the reconciler until at least one instance is ready.
type Client struct {
	reconciler *reconcile.Reconciler
	metric     LoadMetric
}

// New builds a Client over r using the given load metric. A nil metric
// defaults to ConstantLoad.
func New(r *reconcile.Reconciler, metric LoadMetric) *Client {
	if metric == nil {
		metric = ConstantLoad
	}
	return &Client{reconciler: r, metric: metric}
}

// GetChannel blocks until the reconciler has at least one ready instance (or
// ctx is done), then returns a channel chosen by power-of-two-choices.
func (c *Client) GetChannel(ctx context.Context) (*grpc.ClientConn, error) {
	for {
		ids := c.reconciler.ReadySnapshot()
		if len(ids) > 0 {
			id := c.pick(ids)
			if conn, ok := c.reconciler.Channel(id); ok {
				return conn, nil
			}
			// Raced with a removal between snapshot and lookup; retry.
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lbclient: no ready instances: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// CallService is a convenience wrapper around GetChannel. request is a
// placeholder kept for a future per-call hashing extension; it plays no
// part in channel selection today.
func (c *Client) CallService(ctx context.Context, request any) (*grpc.ClientConn, error) {
	return c.GetChannel(ctx)
}

func (c *Client) pick(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}

	i := rand.IntN(len(ids))
	j := rand.IntN(len(ids) - 1)
	if j >= i {
		j++
	}

	a, b := ids[i], ids[j]
	if c.metric(a) <= c.metric(b) {
		return a
	}
	return b
}
