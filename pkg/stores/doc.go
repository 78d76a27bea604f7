// Package stores persists deployment run history in SQLite.
//
// The store is the audit trail behind `provisio runs`: every run, its step
// outcomes, and any rollback actions are recorded. Recording is best-effort
// from the engine's point of view; a failed write never fails a deployment.
package stores
