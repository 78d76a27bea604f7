package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/breaker"
	"github.com/provisio/provisio/pkg/config"
	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/provider"
	"github.com/provisio/provisio/pkg/retry"
	"github.com/provisio/provisio/pkg/secrets"
	"github.com/provisio/provisio/pkg/stores"
	"github.com/provisio/provisio/pkg/telemetry"
	"github.com/provisio/provisio/pkg/toggles"
)

// runtime holds everything a command needs after setup.
type runtime struct {
	settings *config.Settings
	logger   zerolog.Logger

	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
	toggles *toggles.Toggles
	store   *stores.SQLiteStore
}

// loadSettings reads the settings file named by --config, applying the
// --verbose override.
func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Telemetry.LogLevel = "debug"
	}
	return settings, nil
}

// newRuntime builds the shared collaborators: logger, telemetry, toggles,
// and optionally the run-history store.
func newRuntime(ctx context.Context, version string, withStore bool) (*runtime, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	telemetryCfg := settings.TelemetryConfig(version)
	if err := telemetryCfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(telemetryCfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(telemetryCfg.Tracing, telemetryCfg.ServiceName, version, telemetryCfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	rt := &runtime{
		settings: settings,
		logger:   logger,
		metrics:  telemetry.NewMetrics(telemetryCfg.Metrics),
		tracer:   tracer,
		events:   telemetry.NewEventPublisher(telemetryCfg.Events),
		toggles:  toggles.New(settings.Toggles, logger),
	}

	if settings.TogglesFile != "" {
		if err := rt.toggles.LoadFile(settings.TogglesFile); err != nil {
			logger.Warn().Err(err).Str("path", settings.TogglesFile).
				Msg("Toggle file unreadable, keeping configured values")
		}
		if err := rt.toggles.Watch(ctx, settings.TogglesFile); err != nil {
			logger.Warn().Err(err).Msg("Toggle hot reload unavailable")
		}
	}

	if withStore && settings.Store.Path != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Store.Path})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		rt.store = store
	}

	return rt, nil
}

// close flushes telemetry and closes the store.
func (rt *runtime) close(ctx context.Context) {
	if rt.events != nil {
		rt.events.Close()
	}
	if rt.tracer != nil {
		if err := rt.tracer.Shutdown(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Store close failed")
		}
	}
}

// resolveToken returns the provisioning API credential. A token in the
// settings (or PROVISIO_API_TOKEN) wins; otherwise the secret cache asks the
// API's secret store, degrading to the fallback file when the store is off
// or unreachable.
func (rt *runtime) resolveToken(ctx context.Context) string {
	if rt.settings.Provider.Token != "" {
		return rt.settings.Provider.Token
	}

	bootstrap, err := provider.NewClient(provider.Config{
		BaseURL: rt.settings.Provider.BaseURL,
		Timeout: rt.settings.Provider.Timeout.Std(),
	}, rt.logger)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("Secret store unavailable, proceeding without token")
		return ""
	}

	var fallback secrets.FallbackSource
	if rt.settings.Secrets.FallbackFile != "" {
		fallback = secrets.NewFileSource(rt.settings.Secrets.FallbackFile)
	}

	cache := secrets.New(secrets.Config{
		Client:    bootstrap.Secrets(),
		Fallback:  fallback,
		TTL:       rt.settings.Secrets.TTL.Std(),
		Toggles:   rt.toggles,
		Retry:     retry.New(rt.settings.RetryConfig()),
		Retryable: provider.Retryable,
		Logger:    rt.logger,
		Metrics:   rt.metrics,
	})

	token, err := cache.Get(ctx, "api-token")
	if err != nil {
		rt.logger.Warn().Err(err).Msg("No API token available, proceeding unauthenticated")
		return ""
	}
	return token
}

// newDeployer wires the engine from the runtime's settings.
func (rt *runtime) newDeployer(ctx context.Context) (*engine.Deployer, error) {
	client, err := provider.NewClient(provider.Config{
		BaseURL: rt.settings.Provider.BaseURL,
		Token:   rt.resolveToken(ctx),
		Timeout: rt.settings.Provider.Timeout.Std(),
	}, rt.logger)
	if err != nil {
		return nil, err
	}

	registry := breaker.NewRegistry()
	breakerCfg := rt.settings.BreakerConfig()
	breakerCfg.OnStateChange = func(name string, from, to breaker.State) {
		rt.logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
		rt.metrics.BreakerTransition(name, from.String(), to.String(), int(to))
		rt.events.Publish(telemetry.Event{
			Type:    telemetry.EventTypeBreakerChanged,
			Message: fmt.Sprintf("breaker %s: %s -> %s", name, from, to),
			Level:   telemetry.EventLevelWarning,
		})
	}

	var recorder engine.RunRecorder
	if rt.store != nil {
		recorder = rt.store
	}

	return engine.NewDeployer(engine.DeployerConfig{
		Provisioner:   client,
		Retry:         retry.New(rt.settings.RetryConfig()),
		Classifier:    provider.Retryable,
		Breakers:      registry,
		BreakerConfig: breakerCfg,
		Toggles:       rt.toggles,
		Recorder:      recorder,
		Logger:        rt.logger,
		Metrics:       rt.metrics,
		Tracer:        rt.tracer,
		Events:        rt.events,
	})
}
