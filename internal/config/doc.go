// Package config holds the sidecar configuration: YAML file loading,
// environment overrides, human-readable size strings, and validation.
// Configuration is supplied at startup and immutable for the process
// lifetime.
package config
