// Package config loads and validates the engine's settings file.
//
// Settings are plain YAML covering the engine tunables: retry policy,
// circuit breaker thresholds, secret cache TTL, feature toggles, telemetry,
// the run-history store, and the provisioning API endpoint. Every field has
// a working default so a missing file or a sparse one still yields a usable
// configuration. Validation runs through go-playground/validator using the
// struct tags on the settings types.
package config
