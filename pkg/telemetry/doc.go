// Package telemetry provides the observability surface for Provisio:
// structured logging via zerolog, Prometheus metrics for the resilience
// engine (retry attempts, breaker transitions, secret cache traffic,
// deployment outcomes), OpenTelemetry tracing of deployment runs, and an
// in-process event stream consumed by status and audit subscribers.
package telemetry
