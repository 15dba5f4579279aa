package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flare152/svcdiscovery/discovery"
	"github.com/flare152/svcdiscovery/discovery/discoveryerr"
)

// AgentHTTPBackend talks to an agent-based HTTP health-check registry (the
// Consul agent API shape): services register via PUT to
// /v1/agent/service/register, heartbeat via a TTL check pass endpoint, and
// are discovered via /v1/health/service/{name}.
type AgentHTTPBackend struct {
	client           *http.Client
	baseURL          string
	defaultNamespace string
}

// NewAgentHTTPBackend builds an AgentHTTPBackend. BackendConfig["url"]
// overrides the default agent address of http://localhost:8500.
func NewAgentHTTPBackend(cfg *discovery.DiscoveryConfig) (*AgentHTTPBackend, error) {
	baseURL := "http://localhost:8500"
	if cfg.BackendConfig != nil {
		if u, ok := cfg.BackendConfig["url"].(string); ok && u != "" {
			baseURL = u
		}
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}
	return &AgentHTTPBackend{
		client:           &http.Client{Timeout: 10 * time.Second},
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		defaultNamespace: namespace,
	}, nil
}

type agentHealthService struct {
	ID      string            `json:"ID"`
	Service string            `json:"Service"`
	Address string            `json:"Address"`
	Port    int               `json:"Port"`
	Tags    []string          `json:"Tags"`
	Meta    map[string]string `json:"Meta"`
}

type agentHealthEntry struct {
	Service agentHealthService `json:"Service"`
}

func parseTags(raw []string) map[string]string {
	tags := make(map[string]string, len(raw))
	for _, t := range raw {
		if key, value, ok := strings.Cut(t, "="); ok {
			tags[key] = value
		} else {
			tags[t] = "true"
		}
	}
	return tags
}

func (b *AgentHTTPBackend) Discover(ctx context.Context, serviceType, namespace string) ([]discovery.ServiceInstance, error) {
	passingOnly := envBool("CONSUL_PASSING_ONLY")
	url := fmt.Sprintf("%s/v1/health/service/%s", b.baseURL, serviceType)
	if passingOnly {
		url += "?passing=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, discoveryerr.New("discover", discoveryerr.KindConnection, err.Error()).WithBackend("agent-http")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, discoveryerr.New("discover", discoveryerr.KindConnection, err.Error()).WithBackend("agent-http")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, discoveryerr.New("discover", discoveryerr.KindTransientBackend,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).WithBackend("agent-http")
	}

	var entries []agentHealthEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, discoveryerr.New("discover", discoveryerr.KindTransientBackend, err.Error()).WithBackend("agent-http")
	}

	instances := make([]discovery.ServiceInstance, 0, len(entries))
	for _, e := range entries {
		svc := e.Service
		instanceID := svc.ID
		if instanceID == "" {
			instanceID = fmt.Sprintf("%s-%s", serviceType, svc.Address)
		}
		inst := discovery.NewServiceInstance(serviceType, instanceID, fmt.Sprintf("%s:%d", svc.Address, svc.Port))
		inst.Tags = parseTags(svc.Tags)
		if v, ok := inst.Tags["version"]; ok {
			inst.Version = v
		}
		if ns, ok := inst.Tags["namespace"]; ok {
			inst.Namespace = ns
		}

		if namespace != "" && !inst.MatchesNamespace(namespace) {
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func (b *AgentHTTPBackend) Register(ctx context.Context, inst discovery.ServiceInstance) error {
	host, portStr, err := splitAddr(inst.DialableAddress())
	if err != nil {
		return discoveryerr.New("register", discoveryerr.KindConfiguration, err.Error()).WithBackend("agent-http")
	}
	port, _ := strconv.Atoi(portStr)

	tags := make([]string, 0, len(inst.Tags)+2)
	for k, v := range inst.Tags {
		tags = append(tags, fmt.Sprintf("%s=%s", k, v))
	}
	if inst.Version != "" {
		tags = append(tags, fmt.Sprintf("version=%s", inst.Version))
	}
	ns := inst.Namespace
	if ns == "" {
		ns = b.defaultNamespace
	}
	tags = append(tags, fmt.Sprintf("namespace=%s", ns))

	checkID := fmt.Sprintf("service:%s", inst.InstanceID)
	var check map[string]any
	if envBool("CONSUL_USE_HTTP_CHECK") {
		check = map[string]any{
			"HTTP":                           fmt.Sprintf("http://%s:%d/health", host, port),
			"Interval":                       "10s",
			"Timeout":                        "5s",
			"DeregisterCriticalServiceAfter": "90s",
		}
	} else {
		ttlSeconds := envInt("CONSUL_TTL_SECONDS", 45)
		check = map[string]any{
			"CheckID":                        checkID,
			"TTL":                            fmt.Sprintf("%ds", ttlSeconds),
			"DeregisterCriticalServiceAfter": fmt.Sprintf("%ds", ttlSeconds*2),
		}
	}

	payload := map[string]any{
		"ID":      inst.InstanceID,
		"Name":    inst.ServiceType,
		"Tags":    tags,
		"Address": host,
		"Port":    port,
		"Check":   check,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return discoveryerr.New("register", discoveryerr.KindConfiguration, err.Error()).WithBackend("agent-http")
	}

	return b.put(ctx, "/v1/agent/service/register", body, "register")
}

func (b *AgentHTTPBackend) Heartbeat(ctx context.Context, inst discovery.ServiceInstance) error {
	checkID := fmt.Sprintf("service:%s", inst.InstanceID)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.put(ctx, fmt.Sprintf("/v1/agent/check/pass/%s", checkID), nil, "heartbeat")
}

func (b *AgentHTTPBackend) Unregister(ctx context.Context, inst discovery.ServiceInstance) error {
	return b.put(ctx, fmt.Sprintf("/v1/agent/service/deregister/%s", inst.InstanceID), nil, "unregister")
}

func (b *AgentHTTPBackend) put(ctx context.Context, path string, body []byte, op string) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+path, reader)
	if err != nil {
		return discoveryerr.New(op, discoveryerr.KindConnection, err.Error()).WithBackend("agent-http")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return discoveryerr.New(op, discoveryerr.KindTransientBackend, "request timed out").WithBackend("agent-http")
		}
		return discoveryerr.New(op, discoveryerr.KindConnection, err.Error()).WithBackend("agent-http")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return discoveryerr.New(op, discoveryerr.KindTransientBackend,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).WithBackend("agent-http")
	}
	return nil
}

// Watch long-polls the health endpoint using Consul's blocking-query index
// convention and forwards every discovered instance each time a poll
// returns, whether the index changed or the wait expired.
// Unlike a half-wired watch that parses a response and discards it, every
// successfully decoded instance is sent on ch.
func (b *AgentHTTPBackend) Watch(ctx context.Context, serviceType, namespace string) (<-chan discovery.ServiceInstance, error) {
	ch := make(chan discovery.ServiceInstance, 100)
	go func() {
		defer close(ch)
		index := uint64(0)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			url := fmt.Sprintf("%s/v1/health/service/%s?passing=true&index=%d&wait=10s", b.baseURL, serviceType, index)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return
			}
			resp, err := b.client.Do(req)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
					continue
				}
			}

			if newIndex, err := strconv.ParseUint(resp.Header.Get("X-Consul-Index"), 10, 64); err == nil {
				index = newIndex
			}

			var entries []agentHealthEntry
			decodeErr := json.NewDecoder(resp.Body).Decode(&entries)
			resp.Body.Close()
			if decodeErr != nil {
				continue
			}

			for _, e := range entries {
				svc := e.Service
				instanceID := svc.ID
				if instanceID == "" {
					instanceID = fmt.Sprintf("%s-%s", serviceType, svc.Address)
				}
				inst := discovery.NewServiceInstance(serviceType, instanceID, fmt.Sprintf("%s:%d", svc.Address, svc.Port))
				inst.Tags = parseTags(svc.Tags)
				if v, ok := inst.Tags["version"]; ok {
					inst.Version = v
				}
				if ns, ok := inst.Tags["namespace"]; ok {
					inst.Namespace = ns
				}
				if namespace != "" && !inst.MatchesNamespace(namespace) {
					continue
				}
				select {
				case ch <- inst:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (b *AgentHTTPBackend) Close() error { return nil }

func splitAddr(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid address %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}
