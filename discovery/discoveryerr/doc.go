// Package discoveryerr provides the structured error type used across the
// discovery, registry, and load-balancing packages.
//
// Errors carry an operation name, a semantic Kind, the backend that produced
// them (when applicable), and an optional cause chain compatible with
// errors.Is and errors.As. Retryable is advisory: callers may use it to
// decide whether to retry, but nothing in this module retries automatically
// on its behalf.
package discoveryerr
