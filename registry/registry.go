// Package registry implements the lease-KV discovery backend on top of an
// etcd cluster.
//
// A service instance registers under an etcd lease with a configurable TTL.
// Discovery lists keys under a namespace/service-type prefix; watch streams
// individual decoded instances as they come and go. Unlike a store that
// needs its own coordination protocol implemented, this package only ever
// talks to an already-running etcd cluster — standing up that cluster is
// out of scope here.
package registry

import "time"

// Config holds the lease-KV backend's connection configuration.
type Config struct {
	// Endpoints is the list of etcd endpoints.
	// Format: ["host1:2379", "host2:2379", "host3:2379"]
	Endpoints []string `json:"endpoints"`

	// Namespace is the etcd key prefix for all service entries.
	// All services are stored under /{namespace}/services/{service_type}/{instance_id}
	// Default: "default"
	Namespace string `json:"namespace"`

	// TTL is the lease time-to-live in seconds.
	// Default: 60 seconds. Read from ETCD_TTL_SECONDS when zero and the
	// environment variable is set, per the external-interface contract.
	TTL int `json:"ttl"`

	// TLS holds TLS configuration for secure etcd communication.
	TLS *TLSConfig `json:"tls"`
}

// TLSConfig holds TLS certificate configuration for secure registry
// communication.
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`
}

const defaultDialTimeout = 5 * time.Second
