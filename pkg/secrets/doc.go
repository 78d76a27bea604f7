// Package secrets provides a TTL-bounded in-memory cache in front of a
// remote secret store, with a local fallback source. Remote fetches go
// through the shared retry policy; when the store stays unreachable the
// cache degrades to the fallback source rather than blocking a deployment
// on credentials. Eviction is lazy: expiry is checked on read, never by a
// background sweep.
package secrets
