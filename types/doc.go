// Package types provides shared status types used across the discovery
// runtime, independent of any one backend or transport.
//
// # Health Types
//
// Health types represent the operational status of a component:
//
//	status := types.NewHealthyStatus("all systems operational")
//	if status.IsHealthy() {
//	    // Component is fully operational
//	}
//
//	degraded := types.NewDegradedStatus("etcd watch lagging", map[string]any{
//	    "lag_events": 12,
//	})
package types
