// Package policy gates deployments with Rego rules evaluated through OPA.
//
// A deployment is checked before any resource is provisioned. Built-in
// policies cover the common guardrails: required ownership labels, resource
// naming conventions, step-count ceilings, and production-environment
// restrictions. Additional .rego files can be loaded next to the built-ins;
// any policy emitting an error-severity violation blocks the run.
//
// Policies receive the deployment as input and report violations through a
// deny set:
//
//	package provisio.policies.example
//
//	import rego.v1
//
//	deny contains violation if {
//		count(input.deployment.steps) > 20
//		violation := {
//			"message":  "too many steps",
//			"severity": "error",
//		}
//	}
package policy
