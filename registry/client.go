package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/discoveryerr"
)

// envTTLSeconds, when non-empty, overrides Config.TTL — the external
// interface names ETCD_TTL_SECONDS as the backend-specific TTL override.
const envTTLSeconds = "ETCD_TTL_SECONDS"

// Client implements backend.Backend against an etcd cluster.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int

	mu     sync.RWMutex
	leases map[string]clientv3.LeaseID // key: instance ID
	closed bool
}

// NewClient creates a lease-KV backend client from the provided
// configuration. It establishes a connection to the etcd cluster and
// verifies connectivity with a bounded health check.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, discoveryerr.New("new_client", discoveryerr.KindConfiguration,
			"registry endpoints cannot be empty").WithBackend("lease-kv")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = ttlFromEnv(60)
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: defaultDialTimeout,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsInfo, err := newTLSInfo(cfg.TLS)
		if err != nil {
			return nil, discoveryerr.New("new_client", discoveryerr.KindConfiguration, err.Error()).WithBackend("lease-kv")
		}
		tlsConfig, err := tlsInfo.ClientConfig()
		if err != nil {
			return nil, discoveryerr.New("new_client", discoveryerr.KindConfiguration, err.Error()).WithBackend("lease-kv")
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, discoveryerr.New("new_client", discoveryerr.KindConnection, err.Error()).WithBackend("lease-kv")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, "health-check"); err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, discoveryerr.New("new_client", discoveryerr.KindConnection, err.Error()).WithBackend("lease-kv")
	}

	return &Client{
		client:    cli,
		namespace: namespace,
		ttl:       ttl,
		leases:    make(map[string]clientv3.LeaseID),
	}, nil
}

func ttlFromEnv(def int) int {
	return envIntOr(envTTLSeconds, def)
}

// Register grants a fresh lease, writes the instance JSON under that lease,
// and remembers the lease id for later heartbeats/unregister. Calling
// Register again with the same InstanceID replaces the previous lease.
func (c *Client) Register(ctx context.Context, inst discovery.ServiceInstance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return discoveryerr.New("register", discoveryerr.KindConnection, "client is closed").WithBackend("lease-kv")
	}

	leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return discoveryerr.New("register", discoveryerr.KindTransientBackend, err.Error()).WithBackend("lease-kv")
	}

	data, err := json.Marshal(inst)
	if err != nil {
		return discoveryerr.New("register", discoveryerr.KindConfiguration, err.Error()).WithBackend("lease-kv")
	}

	ns := inst.Namespace
	if ns == "" {
		ns = c.namespace
	}
	key := c.buildKey(ns, inst.ServiceType, inst.InstanceID)

	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return discoveryerr.New("register", discoveryerr.KindTransientBackend, err.Error()).WithBackend("lease-kv")
	}

	c.leases[inst.InstanceID] = leaseResp.ID
	return nil
}

// Heartbeat renews the lease once. Scheduling repeated calls is the
// registry loop's job, not the backend's.
func (c *Client) Heartbeat(ctx context.Context, inst discovery.ServiceInstance) error {
	c.mu.RLock()
	leaseID, ok := c.leases[inst.InstanceID]
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return discoveryerr.New("heartbeat", discoveryerr.KindConnection, "client is closed").WithBackend("lease-kv")
	}
	if !ok {
		// No known lease: fall back to a fresh registration, matching the
		// documented default "heartbeat re-registers" behavior.
		return c.Register(ctx, inst)
	}

	if _, err := c.client.KeepAliveOnce(ctx, leaseID); err != nil {
		return discoveryerr.New("heartbeat", discoveryerr.KindTransientBackend, err.Error()).WithBackend("lease-kv")
	}
	return nil
}

// Unregister revokes the instance's lease when this client granted it.
// Otherwise it deletes the instance's key in the instance's own namespace
// (or the backend's configured default when the instance carries none)
// rather than scanning a hard-coded list of fallback namespaces: a single,
// explicit location is looked up, not guessed at across several candidates.
func (c *Client) Unregister(ctx context.Context, inst discovery.ServiceInstance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return discoveryerr.New("unregister", discoveryerr.KindConnection, "client is closed").WithBackend("lease-kv")
	}

	leaseID, exists := c.leases[inst.InstanceID]
	if !exists {
		ns := inst.Namespace
		if ns == "" {
			ns = c.namespace
		}
		if _, err := c.client.Delete(ctx, c.buildKey(ns, inst.ServiceType, inst.InstanceID)); err != nil {
			return discoveryerr.New("unregister", discoveryerr.KindTransientBackend, err.Error()).WithBackend("lease-kv")
		}
		return nil
	}

	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return discoveryerr.New("unregister", discoveryerr.KindTransientBackend, err.Error()).WithBackend("lease-kv")
	}
	delete(c.leases, inst.InstanceID)
	return nil
}

// Discover lists instances under /namespace/services/serviceType/. When namespace is
// empty, the backend's own configured default namespace is scanned; it does
// not fan out across multiple namespaces, so callers that need a
// multi-namespace view must call Discover once per namespace explicitly.
func (c *Client) Discover(ctx context.Context, serviceType, namespace string) ([]discovery.ServiceInstance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, discoveryerr.New("discover", discoveryerr.KindConnection, "client is closed").WithBackend("lease-kv")
	}

	ns := namespace
	if ns == "" {
		ns = c.namespace
	}
	prefix := fmt.Sprintf("/%s/services/%s/", ns, serviceType)

	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, discoveryerr.New("discover", discoveryerr.KindTransientBackend, err.Error()).WithBackend("lease-kv")
	}

	instances := make([]discovery.ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst discovery.ServiceInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch streams individually decoded instances, fully wiring what a
// half-wired watch would only start a goroutine for: it first sends every
// instance from one initial Discover, then decodes the value of each watch
// event and sends that instance on the channel (not just a notification
// that something changed). Values that do not decode, such as those of
// delete events, are skipped without logging.
func (c *Client) Watch(ctx context.Context, serviceType, namespace string) (<-chan discovery.ServiceInstance, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, discoveryerr.New("watch", discoveryerr.KindConnection, "client is closed").WithBackend("lease-kv")
	}
	c.mu.RUnlock()

	ns := namespace
	if ns == "" {
		ns = c.namespace
	}
	prefix := fmt.Sprintf("/%s/services/%s/", ns, serviceType)

	ch := make(chan discovery.ServiceInstance, 16)

	initial, err := c.Discover(ctx, serviceType, namespace)
	if err != nil {
		close(ch)
		return nil, err
	}

	watchChan := c.client.Watch(ctx, prefix, clientv3.WithPrefix())

	go func() {
		defer close(ch)

		for _, inst := range initial {
			select {
			case ch <- inst:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok || watchResp.Err() != nil {
					return
				}
				for _, ev := range watchResp.Events {
					if ev.Kv == nil {
						continue
					}
					var inst discovery.ServiceInstance
					if err := json.Unmarshal(ev.Kv.Value, &inst); err != nil {
						continue
					}
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

// Close releases the underlying etcd client. It does not attempt to revoke
// outstanding leases; callers that need graceful deregistration must call
// Unregister explicitly before Close, per the registry loop's own shutdown
// sequencing.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.client.Close()
}

func (c *Client) buildKey(namespace, serviceType, instanceID string) string {
	return fmt.Sprintf("/%s/services/%s/%s", namespace, serviceType, instanceID)
}

func envIntOr(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
