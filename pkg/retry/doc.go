// Package retry provides bounded retry execution with exponential backoff
// and jitter for operations against unreliable remote dependencies.
// The policy is pure with respect to I/O: it sleeps between attempts but
// performs no logging and wraps no errors, so callers can always inspect
// the root cause of a failed operation.
package retry
