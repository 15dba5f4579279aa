// Package discovery defines the shared data model for service registration,
// discovery, and client-side load balancing: service instances, discovery
// configuration, and the change-event stream emitted by a reconciler.
package discovery

import (
	"fmt"
	"net"
)

// InstanceMetadata carries deployment-topology hints plus an open-ended
// custom bag, mirroring the original registry's per-instance metadata.
type InstanceMetadata struct {
	Region      string            `json:"region,omitempty"`
	Zone        string            `json:"zone,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// ServiceInstance describes one live instance of a service, as reported by
// a backend. It is the unit the reconciler diffs and the client dials.
type ServiceInstance struct {
	ServiceType string            `json:"service_type"`
	InstanceID  string            `json:"instance_id"`
	Address     string            `json:"address"`
	Namespace   string            `json:"namespace,omitempty"`
	Version     string            `json:"version,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Metadata    InstanceMetadata  `json:"metadata,omitempty"`
	Healthy     bool              `json:"healthy"`
	Weight      uint32            `json:"weight"`
}

// NewServiceInstance builds an instance with the default weight (100) and
// healthy=true, matching the original registry's constructor defaults.
func NewServiceInstance(serviceType, instanceID, address string) ServiceInstance {
	return ServiceInstance{
		ServiceType: serviceType,
		InstanceID:  instanceID,
		Address:     address,
		Healthy:     true,
		Weight:      100,
	}
}

// DialableAddress rewrites an unspecified bind address (0.0.0.0, ::, or no
// host at all) to a loopback address, for backends whose register call is
// given a listen address rather than a dial address (agent-HTTP in
// particular). Backends that already receive a routable address, such as
// lease-KV and DNS, leave Address untouched and this is a no-op.
func (s ServiceInstance) DialableAddress() string {
	host, port, err := net.SplitHostPort(s.Address)
	if err != nil {
		return s.Address
	}
	switch host {
	case "0.0.0.0", "":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}

// ToGRPCTarget returns the address in the form expected by grpc.NewClient's
// target argument (host:port, no scheme).
func (s ServiceInstance) ToGRPCTarget() string {
	return s.DialableAddress()
}

// ToHTTPURL returns an http:// URL pointing at the instance.
func (s ServiceInstance) ToHTTPURL() string {
	return fmt.Sprintf("http://%s", s.DialableAddress())
}

// MatchesNamespace implements the query-side-None-always-matches semantics:
// an empty query namespace matches any instance; a non-empty query namespace
// only matches an instance carrying the identical namespace.
func (s ServiceInstance) MatchesNamespace(query string) bool {
	if query == "" {
		return true
	}
	return s.Namespace == query
}

// MatchesVersion mirrors MatchesNamespace for the version field.
func (s ServiceInstance) MatchesVersion(query string) bool {
	if query == "" {
		return true
	}
	return s.Version == query
}

// MatchesTags reports whether every key/value pair in want is present and
// equal in the instance's tag map. An empty want always matches.
func (s ServiceInstance) MatchesTags(want map[string]string) bool {
	for k, v := range want {
		if s.Tags[k] != v {
			return false
		}
	}
	return true
}

// Equal reports structural equality, used by the reconciler's diff to decide
// whether a changed record should be treated as Remove+Insert.
func (s ServiceInstance) Equal(other ServiceInstance) bool {
	if s.ServiceType != other.ServiceType ||
		s.InstanceID != other.InstanceID ||
		s.Address != other.Address ||
		s.Namespace != other.Namespace ||
		s.Version != other.Version ||
		s.Healthy != other.Healthy ||
		s.Weight != other.Weight {
		return false
	}
	if len(s.Tags) != len(other.Tags) {
		return false
	}
	for k, v := range s.Tags {
		if other.Tags[k] != v {
			return false
		}
	}
	return s.Metadata.Region == other.Metadata.Region &&
		s.Metadata.Zone == other.Metadata.Zone &&
		s.Metadata.Environment == other.Metadata.Environment &&
		mapsEqual(s.Metadata.Custom, other.Metadata.Custom)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
