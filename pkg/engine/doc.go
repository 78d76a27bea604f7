// Package engine contains the shared types and the deployer for Provisio's
// resilience engine. The deployer executes a multi-step deployment against
// the remote provisioning API, wrapping each step in the retry policy and
// circuit breaker and tracking every confirmed resource in a deployment
// transaction so a failed deployment is cleanly unwound in reverse order.
//
// The error taxonomy defined here (transient, throttled, conflict,
// permanent) is what per-call-site classifiers are built from: transient,
// throttled, and conflict failures are worth retrying, permanent ones are
// not, and throttled errors may carry an explicit retry-after hint from a
// rate-limit response.
package engine
