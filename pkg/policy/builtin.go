package policy

// Builtins returns the built-in deployment policies.
func Builtins() []Policy {
	return []Policy{
		requiredLabelsPolicy(),
		stepNamingPolicy(),
		stepCountPolicy(),
		productionGuardPolicy(),
	}
}

func requiredLabelsPolicy() Policy {
	return Policy{
		Name:        "required-labels",
		Description: "Every deployment must carry an owner and a team label",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package provisio.policies.labels

import rego.v1

required_labels := ["owner", "team"]

deny contains violation if {
	some label in required_labels
	not input.deployment.labels[label]
	violation := {
		"message":  sprintf("deployment %s is missing required label %q", [input.deployment.name, label]),
		"severity": "error",
	}
}
`,
	}
}

func stepNamingPolicy() Policy {
	return Policy{
		Name:        "step-naming",
		Description: "Resource names must be lowercase alphanumeric with hyphens",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package provisio.policies.naming

import rego.v1

deny contains violation if {
	some step in input.deployment.steps
	not regex.match("^[a-z0-9][a-z0-9-]*$", step.name)
	violation := {
		"message":  sprintf("step %s: resource name %q must be lowercase alphanumeric with hyphens", [step.id, step.name]),
		"severity": "error",
		"step":     step.id,
	}
}
`,
	}
}

func stepCountPolicy() Policy {
	return Policy{
		Name:        "step-count",
		Description: "Deployments above 20 steps are too coarse to roll back safely",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package provisio.policies.size

import rego.v1

max_steps := 20

deny contains violation if {
	count(input.deployment.steps) > max_steps
	violation := {
		"message":  sprintf("deployment %s has %d steps, limit is %d", [input.deployment.name, count(input.deployment.steps), max_steps]),
		"severity": "error",
	}
}
`,
	}
}

func productionGuardPolicy() Policy {
	return Policy{
		Name:        "production-guard",
		Description: "Production deployments must be explicitly approved via label",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package provisio.policies.production

import rego.v1

deny contains violation if {
	input.deployment.environment == "prod"
	input.deployment.labels["approved"] != "true"
	violation := {
		"message":  sprintf("deployment %s targets prod without approved=true label", [input.deployment.name]),
		"severity": "error",
	}
}

deny contains violation if {
	input.deployment.environment == "prod"
	some step in input.deployment.steps
	step.kind == "role-binding"
	not input.deployment.labels["grants-reviewed"]
	violation := {
		"message":  sprintf("step %s creates a role binding in prod without grants-reviewed label", [step.id]),
		"severity": "warning",
		"step":     step.id,
	}
}
`,
	}
}
