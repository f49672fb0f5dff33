// Package observability provides structured logging, Prometheus metrics,
// optional OpenTelemetry export, health probes, and graceful shutdown
// coordination for the Doorstep service.
package observability
