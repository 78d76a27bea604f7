// Package manifest loads deployment descriptors written in CUE.
//
// A descriptor declares a deployment: its name, target environment, labels,
// and the ordered provisioning steps. CUE gives the descriptor strong typing
// before it ever reaches the engine: the loader unifies every file with a
// built-in schema, so malformed descriptors fail with CUE's own positioned
// errors instead of surfacing halfway through a run.
package manifest
