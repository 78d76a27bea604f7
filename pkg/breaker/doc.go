// Package breaker implements a named circuit breaker guarding calls to a
// failing remote dependency. A breaker moves between Closed, Open, and
// HalfOpen states: consecutive failures trip it open, calls fail fast while
// it is open, and a limited number of probe calls after the cooldown decide
// whether traffic is readmitted.
//
// Breakers are shared by dependency name through a Registry so that failures
// observed by one caller protect every caller of that dependency. The
// registry is plain constructor-injected state, not a process-wide global,
// so tests can build isolated registries.
package breaker
