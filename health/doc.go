// Package health provides reusable health check functions for the
// discovery runtime.
//
// This package offers standardized ways to verify connectivity and backend
// liveness. It is designed to help discovery clients implement consistent
// health checking patterns.
//
// # Health Check Functions
//
//   - NetworkCheck: Verify TCP connectivity to a host:port
//   - BackendCheck: Verify a discovery backend can still serve Discover
//   - FileCheck: Verify a file or directory exists
//   - Combine: Aggregate multiple health checks into a single status
//
// # Usage Example
//
//	import (
//	    "context"
//	    "time"
//	    "github.com/flare152/svcdiscovery/health"
//	)
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//
//	overall := health.Combine(
//	    health.NetworkCheck(ctx, "etcd.internal", 2379),
//	    health.BackendCheck(ctx, b, "payments", "prod"),
//	)
//
//	if overall.IsUnhealthy() {
//	    log.Printf("health check failed: %s", overall.Message)
//	}
//
// # Health Status Priority
//
// When combining health checks with Combine(), the result follows this
// priority:
//
//   - Unhealthy: If any check is unhealthy, the combined result is unhealthy
//   - Degraded: If any check is degraded (and none unhealthy), the result is degraded
//   - Healthy: If all checks are healthy, the result is healthy
//
// # Context and Timeouts
//
// NetworkCheck and BackendCheck both accept a context for timeout and
// cancellation control. If nil is passed to NetworkCheck, a default
// 5-second timeout is used.
package health
