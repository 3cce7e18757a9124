// Package config loads the process configuration once at startup from an
// optional YAML file and BACKBONE_ prefixed environment variables. It
// defines the server, logging, registry, health check, webhook, circuit
// breaker, rate limit and metrics sections and validates every value
// before any component is built.
package config
