package engine

import "context"

// Provisioner is the boundary to the remote provisioning API. The engine is
// agnostic to the transport behind it; pkg/provider implements it over HTTP.
type Provisioner interface {
	// Provision creates the resource described by the step and returns it
	// once the API has confirmed creation.
	Provision(ctx context.Context, step Step) (Resource, error)

	// Destroy deletes a previously provisioned resource. It must be safe
	// to call for a resource that is already gone.
	Destroy(ctx context.Context, res Resource) error
}

// RunRecorder persists deployment run history for audit and status surfaces.
// Recording is best-effort: the deployer logs recorder failures but never
// fails a deployment over them.
type RunRecorder interface {
	// RecordRunStart persists a newly started run.
	RecordRunStart(ctx context.Context, run *Run) error

	// RecordStepResult appends one step outcome to a run.
	RecordStepResult(ctx context.Context, runID string, result StepResult) error

	// RecordRunEnd persists the run's terminal state, including the
	// rollback report when one exists.
	RecordRunEnd(ctx context.Context, run *Run) error
}
