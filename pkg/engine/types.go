package engine

import (
	"time"

	"github.com/provisio/provisio/pkg/txn"
)

// ResourceKind identifies the type of a provisioned cloud resource.
type ResourceKind string

const (
	KindWorkspace   ResourceKind = "workspace"
	KindContainer   ResourceKind = "container"
	KindRoleBinding ResourceKind = "role-binding"
)

// Resource is one remotely provisioned resource, as confirmed by the API.
type Resource struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
	Name string       `json:"name"`
}

// Label returns a human-readable description used in transaction tracking
// and rollback reports.
func (r Resource) Label() string {
	return string(r.Kind) + " " + r.Name
}

// Step is one provisioning step in a deployment.
type Step struct {
	// ID uniquely identifies the step within its deployment.
	ID string `json:"id" validate:"required"`

	// Kind is the resource type this step creates.
	Kind ResourceKind `json:"kind" validate:"required,oneof=workspace container role-binding"`

	// Name is the name of the resource to create.
	Name string `json:"name" validate:"required"`

	// Params are kind-specific creation parameters passed through to the
	// provisioning API.
	Params map[string]any `json:"params,omitempty"`
}

// Deployment is an ordered list of provisioning steps executed as one
// transactional unit: either every step succeeds, or everything created is
// rolled back in reverse order.
type Deployment struct {
	// Name identifies the deployment.
	Name string `json:"name" validate:"required"`

	// Environment is the target environment, e.g. "dev" or "prod".
	Environment string `json:"environment" validate:"required"`

	// Labels are free-form metadata evaluated by deployment policies.
	Labels map[string]string `json:"labels,omitempty"`

	// Steps run strictly in order; later steps may depend on resources
	// created by earlier ones.
	Steps []Step `json:"steps" validate:"required,min=1,dive"`
}

// StepStatus is the terminal status of one executed step.
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of one step execution.
type StepResult struct {
	StepID     string        `json:"step_id"`
	Status     StepStatus    `json:"status"`
	ResourceID string        `json:"resource_id,omitempty"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// RunStatus is the overall status of a deployment run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusSucceeded  RunStatus = "succeeded"
	RunStatusRolledBack RunStatus = "rolled_back"

	// RunStatusRollbackFailed means provisioning failed and one or more
	// cleanup actions also failed; resources may be left behind.
	RunStatusRollbackFailed RunStatus = "rollback_failed"
)

// Run is the record of one deployment execution.
type Run struct {
	ID          string     `json:"id"`
	Deployment  string     `json:"deployment"`
	Environment string     `json:"environment"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	// Results holds one entry per executed step, in execution order.
	Results []StepResult `json:"results"`

	// Rollback is non-nil when the run was rolled back.
	Rollback *txn.RollbackReport `json:"rollback,omitempty"`
}
