package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/provisio/provisio/pkg/breaker"
	"github.com/provisio/provisio/pkg/retry"
	"github.com/provisio/provisio/pkg/telemetry"
)

// Settings is the full engine configuration as read from the settings file.
type Settings struct {
	// Provider configures the provisioning API connection.
	Provider ProviderSettings `yaml:"provider" validate:"required"`

	// Retry configures the retry policy applied to provisioning calls.
	Retry RetrySettings `yaml:"retry"`

	// Breaker configures the circuit breakers guarding remote dependencies.
	Breaker BreakerSettings `yaml:"breaker"`

	// Secrets configures the credential cache.
	Secrets SecretSettings `yaml:"secrets"`

	// Toggles enables or disables resilience features at runtime. Keys are
	// toggle names, missing keys keep their defaults.
	Toggles map[string]bool `yaml:"toggles"`

	// TogglesFile points at an optional YAML file watched for toggle
	// changes at runtime; empty disables hot reload.
	TogglesFile string `yaml:"toggles_file"`

	// Store configures the run-history database.
	Store StoreSettings `yaml:"store"`

	// Telemetry configures logging, tracing, metrics, and events.
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// ProviderSettings configures the provisioning API client.
type ProviderSettings struct {
	// BaseURL is the provisioning API root.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Token authenticates against the API. Optional; usually injected via
	// PROVISIO_API_TOKEN rather than written into the file.
	Token string `yaml:"token"`

	// Timeout bounds each individual API call.
	Timeout Duration `yaml:"timeout" validate:"min=0"`
}

// RetrySettings mirrors retry.Config in file form.
type RetrySettings struct {
	MaxAttempts    int      `yaml:"max_attempts" validate:"min=1"`
	InitialDelay   Duration `yaml:"initial_delay" validate:"min=0"`
	MaxDelay       Duration `yaml:"max_delay" validate:"min=0"`
	BackoffFactor  float64  `yaml:"backoff_factor" validate:"min=1"`
	JitterFraction float64  `yaml:"jitter_fraction" validate:"min=0,max=1"`
}

// BreakerSettings mirrors breaker.Config in file form.
type BreakerSettings struct {
	FailureThreshold      int      `yaml:"failure_threshold" validate:"min=1"`
	Cooldown              Duration `yaml:"cooldown" validate:"min=0"`
	SuccessThreshold      int      `yaml:"success_threshold" validate:"min=1"`
	HalfOpenMaxConcurrent int      `yaml:"half_open_max_concurrent" validate:"min=1"`
}

// SecretSettings configures the credential cache.
type SecretSettings struct {
	// TTL is how long a fetched secret stays fresh.
	TTL Duration `yaml:"ttl" validate:"min=0"`

	// FallbackFile is an optional local secrets file used when the remote
	// store is unreachable; empty disables fallback.
	FallbackFile string `yaml:"fallback_file"`
}

// StoreSettings configures run-history persistence.
type StoreSettings struct {
	// Path is the SQLite database file; empty disables persistence.
	Path string `yaml:"path"`
}

// TelemetrySettings is the file form of the telemetry configuration.
type TelemetrySettings struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`

	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	SamplingRate    float64 `yaml:"sampling_rate" validate:"min=0,max=1"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// Default returns settings that work out of the box against a local API.
func Default() *Settings {
	return &Settings{
		Provider: ProviderSettings{
			BaseURL: "http://localhost:8420",
			Timeout: Duration(15 * time.Second),
		},
		Retry: RetrySettings{
			MaxAttempts:    5,
			InitialDelay:   Duration(500 * time.Millisecond),
			MaxDelay:       Duration(30 * time.Second),
			BackoffFactor:  2.0,
			JitterFraction: 0.2,
		},
		Breaker: BreakerSettings{
			FailureThreshold:      5,
			Cooldown:              Duration(30 * time.Second),
			SuccessThreshold:      2,
			HalfOpenMaxConcurrent: 1,
		},
		Secrets: SecretSettings{
			TTL: Duration(5 * time.Minute),
		},
		Store: StoreSettings{
			Path: "provisio.db",
		},
		Telemetry: TelemetrySettings{
			ServiceName:     "provisio",
			Environment:     "dev",
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
			SamplingRate:    1.0,
			MetricsEnabled:  true,
		},
	}
}

// Load reads the settings file at path, layered over Default. A missing
// file is not an error: defaults are returned as-is so the CLI works
// without any configuration.
func Load(path string) (*Settings, error) {
	settings := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return settings, settings.Validate()
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, settings); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if token := os.Getenv("PROVISIO_API_TOKEN"); token != "" {
		settings.Provider.Token = token
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the settings against their struct tags.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}

// RetryConfig converts the file settings into a retry policy config.
func (s *Settings) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    s.Retry.MaxAttempts,
		InitialDelay:   s.Retry.InitialDelay.Std(),
		MaxDelay:       s.Retry.MaxDelay.Std(),
		BackoffFactor:  s.Retry.BackoffFactor,
		JitterFraction: s.Retry.JitterFraction,
	}
}

// BreakerConfig converts the file settings into a breaker config.
func (s *Settings) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold:      s.Breaker.FailureThreshold,
		Cooldown:              s.Breaker.Cooldown.Std(),
		SuccessThreshold:      s.Breaker.SuccessThreshold,
		HalfOpenMaxConcurrent: s.Breaker.HalfOpenMaxConcurrent,
	}
}

// TelemetryConfig converts the file settings into the telemetry config.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if s.Telemetry.ServiceName != "" {
		cfg.ServiceName = s.Telemetry.ServiceName
	}
	if s.Telemetry.Environment != "" {
		cfg.Environment = s.Telemetry.Environment
	}
	if s.Telemetry.LogLevel != "" {
		cfg.Logging.Level = s.Telemetry.LogLevel
	}
	if s.Telemetry.LogFormat != "" {
		cfg.Logging.Format = s.Telemetry.LogFormat
	}
	cfg.Tracing.Enabled = s.Telemetry.TracingEnabled
	if s.Telemetry.TracingExporter != "" {
		cfg.Tracing.Exporter = s.Telemetry.TracingExporter
	}
	cfg.Tracing.Endpoint = s.Telemetry.TracingEndpoint
	if s.Telemetry.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = s.Telemetry.SamplingRate
	}
	cfg.Metrics.Enabled = s.Telemetry.MetricsEnabled
	cfg.Metrics.ListenAddr = s.Telemetry.MetricsAddr
	return cfg
}
