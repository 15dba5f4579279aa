// Package pullcache implements the supplementary "service manager" path: a
// pull-based, TTL-invalidated cache in front of a Backend, for callers that
// want occasional lookups without running a live reconciler. It is backed
// by Redis so the cache can be shared across replicas of the same caller
// process group, rather than kept in-process only.
package pullcache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/backend"
	"github.com/flare152/svcdiscovery/discovery/discoveryerr"
)

// Options configures the Redis connection backing the cache.
type Options struct {
	URL            string
	TLS            *tls.Config
	ConnectTimeout time.Duration
	CacheTTL       time.Duration
}

// Cache answers "what instances of this service type exist right now"
// against a Redis cache whose entries expire after the configured TTL,
// falling through to the backend on miss or expiry.
type Cache struct {
	backend backend.Backend
	redis   *redis.Client
	ttl     time.Duration
}

// New connects to Redis and wraps b with a pull-based cache.
func New(b backend.Backend, opts Options) (*Cache, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 30 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, discoveryerr.New("new_cache", discoveryerr.KindConfiguration, err.Error())
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, discoveryerr.New("new_cache", discoveryerr.KindConnection, err.Error())
	}

	return &Cache{backend: b, redis: client, ttl: opts.CacheTTL}, nil
}

func cacheKey(serviceType string) string {
	return "pullcache:instances:" + serviceType
}

// GetServices returns the known instances of serviceType, consulting the
// Redis cache first and falling through to Discover on a miss. The cached
// entry's own Redis expiry enforces the TTL, so no separate last-update
// bookkeeping is needed.
func (c *Cache) GetServices(ctx context.Context, serviceType string) ([]discovery.ServiceInstance, error) {
	key := cacheKey(serviceType)

	if raw, err := c.redis.Get(ctx, key).Result(); err == nil {
		var instances []discovery.ServiceInstance
		if err := json.Unmarshal([]byte(raw), &instances); err == nil {
			return instances, nil
		}
	}

	instances, err := c.backend.Discover(ctx, serviceType, "")
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(instances); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}

	return instances, nil
}

// RefreshCache forces a Discover and overwrites the cached entry for
// serviceType regardless of its current expiry.
func (c *Cache) RefreshCache(ctx context.Context, serviceType string) error {
	instances, err := c.backend.Discover(ctx, serviceType, "")
	if err != nil {
		return err
	}
	data, err := json.Marshal(instances)
	if err != nil {
		return discoveryerr.New("refresh_cache", discoveryerr.KindConfiguration, err.Error())
	}
	return c.redis.Set(ctx, cacheKey(serviceType), data, c.ttl).Err()
}

// SelectInstance picks one healthy instance of serviceType using a stable
// hash of key, so the same key (e.g. a user id) always routes to the same
// instance as long as the instance set is unchanged — the consistent-hash
// "always route this user to the same gateway" behavior of the original
// service manager, generalized away from any one service name.
func (c *Cache) SelectInstance(ctx context.Context, serviceType, key string) (*discovery.ServiceInstance, error) {
	instances, err := c.GetServices(ctx, serviceType)
	if err != nil {
		return nil, err
	}

	healthy := make([]discovery.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Healthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return nil, nil
	}
	if key == "" {
		return &healthy[0], nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(healthy)
	if idx < 0 {
		idx += len(healthy)
	}
	return &healthy[idx], nil
}

// Addresses returns the dialable http:// URL of every instance of
// serviceType.
func (c *Cache) Addresses(ctx context.Context, serviceType string) ([]string, error) {
	instances, err := c.GetServices(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(instances))
	for _, inst := range instances {
		urls = append(urls, inst.ToHTTPURL())
	}
	return urls, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.redis.Close()
}
