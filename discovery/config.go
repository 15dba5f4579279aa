package discovery

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// BackendKind enumerates the four supported discovery backends.
type BackendKind string

const (
	BackendLeaseKV    BackendKind = "lease-kv"
	BackendAgentHTTP  BackendKind = "agent-http"
	BackendDNS        BackendKind = "dns"
	BackendMesh       BackendKind = "mesh"
)

// TagFilter is either a plain key/value equality filter or a CEL predicate
// evaluated against an instance's tag map. Exactly one of Key or Expr should
// be set; Expr takes precedence when both are present.
type TagFilter struct {
	Key   string `yaml:"key,omitempty" json:"key,omitempty"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
	Expr  string `yaml:"expr,omitempty" json:"expr,omitempty"`

	program cel.Program
}

// compile lazily builds the CEL program for an Expr-based filter. It is
// idempotent and safe to call repeatedly; a plain key/value filter never
// compiles anything.
func (f *TagFilter) compile() error {
	if f.Expr == "" || f.program != nil {
		return nil
	}
	env, err := cel.NewEnv(cel.Variable("tags", cel.MapType(cel.StringType, cel.StringType)))
	if err != nil {
		return fmt.Errorf("discovery: building cel env: %w", err)
	}
	ast, iss := env.Compile(f.Expr)
	if iss != nil && iss.Err() != nil {
		return fmt.Errorf("discovery: compiling tag filter %q: %w", f.Expr, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("discovery: building cel program for %q: %w", f.Expr, err)
	}
	f.program = prg
	return nil
}

// Matches evaluates the filter against an instance's tags.
func (f *TagFilter) Matches(tags map[string]string) (bool, error) {
	if f.Expr != "" {
		if err := f.compile(); err != nil {
			return false, err
		}
		out, _, err := f.program.Eval(map[string]any{"tags": tags})
		if err != nil {
			return false, fmt.Errorf("discovery: evaluating tag filter %q: %w", f.Expr, err)
		}
		b, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("discovery: tag filter %q did not evaluate to bool", f.Expr)
		}
		return b, nil
	}
	return tags[f.Key] == f.Value, nil
}

// MatchAllTagFilters reports whether tags satisfies every filter.
func MatchAllTagFilters(filters []TagFilter, tags map[string]string) (bool, error) {
	for i := range filters {
		ok, err := filters[i].Matches(tags)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// DiscoveryConfig configures a backend, the reconciler's refresh cadence, and
// optional tag-based filtering of discovered instances.
type DiscoveryConfig struct {
	Backend          BackendKind       `yaml:"backend" json:"backend"`
	ServiceType      string            `yaml:"service_type" json:"service_type"`
	Namespace        string            `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Version          string            `yaml:"version,omitempty" json:"version,omitempty"`
	TagFilters       []TagFilter       `yaml:"tag_filters,omitempty" json:"tag_filters,omitempty"`
	RefreshInterval  time.Duration     `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`
	HeartbeatInterval time.Duration    `yaml:"heartbeat_interval,omitempty" json:"heartbeat_interval,omitempty"`
	BackendConfig    map[string]any    `yaml:"backend_config,omitempty" json:"backend_config,omitempty"`
}

const (
	defaultRefreshInterval   = 30 * time.Second
	defaultHeartbeatInterval = 20 * time.Second
)

// ApplyDefaults fills in zero-valued fields with the documented defaults,
// reading the environment overrides named by the external-interface contract.
func (c *DiscoveryConfig) ApplyDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = envDuration("SERVICE_HEARTBEAT_INTERVAL", defaultHeartbeatInterval)
	}
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func envInt(name string, def int) int {
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

func envBool(name string) bool {
	v := os.Getenv(name)
	return v != "" && v != "0" && v != "false"
}

// LoadConfig reads a DiscoveryConfig from a YAML file.
func LoadConfig(path string) (*DiscoveryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("discovery: reading config %s: %w", path, err)
	}
	var cfg DiscoveryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("discovery: parsing config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadConfigFromEnv loads the config path named by DISCOVERY_CONFIG_PATH, if
// set. It returns (nil, nil) when the variable is unset so callers can fall
// back to programmatic construction.
func LoadConfigFromEnv() (*DiscoveryConfig, error) {
	path := os.Getenv("DISCOVERY_CONFIG_PATH")
	if path == "" {
		return nil, nil
	}
	return LoadConfig(path)
}
