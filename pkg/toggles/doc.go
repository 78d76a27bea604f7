// Package toggles provides process-wide boolean feature switches with static
// defaults, an optional YAML override file, and hot reload of that file.
// Lookups are pure reads; the switches carry no other state.
package toggles
