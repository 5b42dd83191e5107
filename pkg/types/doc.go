// Package types defines the shared value types and component interfaces
// used across the robocache sidecar: the backend object-store contract,
// the cache store contract, access-pattern tracking, and metrics.
package types
