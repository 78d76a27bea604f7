// Package txn provides the deployment transaction: an ordered record of
// provisioned resources with an all-or-nothing cleanup guarantee. Resources
// are tracked as each provisioning step succeeds; if the deployment fails,
// Rollback destroys them in strict reverse order of tracking, so resources
// are removed before anything they depend on.
//
// This is not a database transaction. Nothing is persisted and nothing
// survives a process restart; a transaction is owned by exactly one
// deployment and is not safe for concurrent use.
package txn
