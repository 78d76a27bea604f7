package policy

import "time"

// Severity grades a policy violation.
type Severity string

const (
	// SeverityWarning is surfaced but does not block the run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"
)

// Policy is one named Rego rule set.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description says what the policy enforces.
	Description string `json:"description"`

	// Rego is the policy source. Its deny set yields the violations.
	Rego string `json:"rego"`

	// Severity is the default severity when a violation does not set one.
	Severity Severity `json:"severity"`

	// Enabled controls whether the policy is evaluated.
	Enabled bool `json:"enabled"`
}

// Violation is one policy finding against a deployment.
type Violation struct {
	// Policy names the policy that produced the finding.
	Policy string `json:"policy"`

	// Severity is warning or error.
	Severity Severity `json:"severity"`

	// Message describes the finding.
	Message string `json:"message"`

	// StepID is set when the finding concerns one step.
	StepID string `json:"step_id,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against a
// deployment.
type Result struct {
	// Allowed is false when any error-severity violation exists.
	Allowed bool `json:"allowed"`

	// Violations lists every finding, warnings included.
	Violations []Violation `json:"violations,omitempty"`

	// Evaluated names the policies that ran.
	Evaluated []string `json:"evaluated"`

	// EvaluatedAt is when the check ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Blocking returns only the error-severity violations.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}
