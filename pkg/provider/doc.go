// Package provider implements the engine.Provisioner boundary over the
// remote provisioning API's HTTP surface. It owns the error taxonomy mapping
// for that API: rate-limit responses become throttled errors carrying the
// Retry-After hint, server errors and transport failures become transient,
// and client errors become permanent, so the retry policy's classifier can
// be a plain engine.IsRetryable.
package provider
