package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for the engine.
type Config struct {
	// ServiceName identifies this service in traces and metrics.
	ServiceName string

	// ServiceVersion is the running version.
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod).
	Environment string

	// Logging configures structured logging.
	Logging LoggingConfig

	// Tracing configures distributed tracing.
	Tracing TracingConfig

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig

	// Events configures the in-process event stream.
	Events EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is the log format (console, json).
	Format string

	// Output is where logs are written (stdout, stderr, or a file path).
	Output string

	// EnableCaller adds file:line caller information.
	EnableCaller bool
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// Exporter is the trace exporter (otlp, stdout, none).
	Exporter string

	// Endpoint is the OTLP collector endpoint.
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout bounds each batch export.
	ExportTimeout time.Duration
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool

	// Namespace is the metric name prefix.
	Namespace string

	// ListenAddr is where the /metrics endpoint is served; empty disables
	// the HTTP listener (metrics stay scrapeable via Handler).
	ListenAddr string
}

// EventsConfig configures the in-process event stream.
type EventsConfig struct {
	// Enabled controls whether events are published.
	Enabled bool

	// BufferSize is the event channel capacity; publishing never blocks,
	// events beyond a full buffer are dropped.
	BufferSize int
}

// DefaultConfig returns a development-friendly telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "provisio",
		ServiceVersion: "dev",
		Environment:    "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "provisio",
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("telemetry: service name is required")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("telemetry: unsupported log format %q", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("telemetry: unsupported trace exporter %q", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("telemetry: sampling rate must be in [0, 1]")
		}
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("telemetry: event buffer size must be positive")
	}

	return nil
}
