package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/provisio/provisio/pkg/breaker"
	"github.com/provisio/provisio/pkg/retry"
	"github.com/provisio/provisio/pkg/telemetry"
	"github.com/provisio/provisio/pkg/toggles"
	"github.com/provisio/provisio/pkg/txn"
)

// breakerName is the shared breaker guarding the provisioning API. All steps
// go through the same remote dependency, so they share one failure budget.
const breakerName = "provisioning-api"

// DeployerConfig wires the deployer's collaborators. Provisioner is the only
// required field; everything else degrades to a sensible default or a no-op.
type DeployerConfig struct {
	// Provisioner executes the actual resource creation and deletion.
	Provisioner Provisioner

	// Retry is the policy applied around each step. Nil means defaults.
	Retry *retry.Policy

	// Classifier decides which step errors are retried. Nil means
	// IsRetryable.
	Classifier retry.Classifier

	// Breakers supplies the circuit breaker guarding the API. Nil disables
	// breaker protection entirely.
	Breakers *breaker.Registry

	// BreakerConfig configures the API breaker on first use.
	BreakerConfig breaker.Config

	// Toggles gates the resilience layers at runtime. Nil means all
	// defaults (everything on).
	Toggles *toggles.Toggles

	// Recorder persists run history. Nil disables persistence.
	Recorder RunRecorder

	// Logger is the base logger.
	Logger zerolog.Logger

	// Metrics receives counters and histograms. Nil disables metrics.
	Metrics *telemetry.Metrics

	// Tracer creates run and step spans. Nil disables tracing.
	Tracer *telemetry.Tracer

	// Events receives lifecycle events. Nil disables events.
	Events *telemetry.EventPublisher
}

// Deployer executes deployments transactionally: every step runs through
// the retry policy and circuit breaker, every confirmed resource is tracked,
// and the first unrecoverable failure rolls back everything created so far
// in reverse order.
type Deployer struct {
	provisioner Provisioner
	retry       *retry.Policy
	classifier  retry.Classifier
	breakers    *breaker.Registry
	breakerCfg  breaker.Config
	toggles     *toggles.Toggles
	recorder    RunRecorder
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	events      *telemetry.EventPublisher
}

// NewDeployer validates the config and returns a ready deployer.
func NewDeployer(cfg DeployerConfig) (*Deployer, error) {
	if cfg.Provisioner == nil {
		return nil, fmt.Errorf("engine: provisioner is required")
	}

	policy := cfg.Retry
	if policy == nil {
		policy = retry.New(retry.DefaultConfig())
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = IsRetryable
	}
	tgl := cfg.Toggles
	if tgl == nil {
		tgl = toggles.New(nil, cfg.Logger)
	}

	return &Deployer{
		provisioner: cfg.Provisioner,
		retry:       policy,
		classifier:  classifier,
		breakers:    cfg.Breakers,
		breakerCfg:  cfg.BreakerConfig,
		toggles:     tgl,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger.With().Str("component", "deployer").Logger(),
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		events:      cfg.Events,
	}, nil
}

// Deploy executes the deployment and returns its run record. The record is
// returned for failed runs too; the error then describes why the run did
// not succeed, including any incomplete rollback.
func (d *Deployer) Deploy(ctx context.Context, dep *Deployment) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		Deployment:  dep.Name,
		Environment: dep.Environment,
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	logger := d.logger.With().
		Str("run_id", run.ID).
		Str("deployment", dep.Name).
		Str("environment", dep.Environment).
		Logger()

	ctx, runSpan := d.startRunSpan(ctx, run.ID, dep.Name)

	logger.Info().Int("steps", len(dep.Steps)).Msg("Deployment started")
	d.publish(telemetry.Event{
		Type:    telemetry.EventTypeRunStarted,
		RunID:   run.ID,
		Message: fmt.Sprintf("deployment %s started with %d steps", dep.Name, len(dep.Steps)),
		Level:   telemetry.EventLevelInfo,
	})
	if d.metrics != nil {
		d.metrics.DeploymentStarted()
	}
	d.record(ctx, logger, func(rctx context.Context) error {
		return d.recorder.RecordRunStart(rctx, run)
	})

	tx := txn.New(logger)
	runErr := d.executeSteps(ctx, logger, dep, run, tx)

	completed := time.Now().UTC()
	run.CompletedAt = &completed

	if runErr == nil {
		tx.Commit()
		run.Status = RunStatusSucceeded
		logger.Info().
			Int("resources", tx.Tracked()).
			Dur("elapsed", completed.Sub(run.StartedAt)).
			Msg("Deployment succeeded")
		d.publish(telemetry.Event{
			Type:    telemetry.EventTypeRunSucceeded,
			RunID:   run.ID,
			Message: fmt.Sprintf("deployment %s succeeded", dep.Name),
			Level:   telemetry.EventLevelInfo,
		})
		d.finishRun(ctx, logger, run, runSpan, nil)
		return run, nil
	}

	run.Error = runErr.Error()

	// Rollback proceeds even when the run failed through cancellation;
	// created resources must still be destroyed.
	report := d.rollback(context.WithoutCancel(ctx), run, tx)
	run.Rollback = &report

	if report.Complete() {
		run.Status = RunStatusRolledBack
		d.finishRun(ctx, logger, run, runSpan, runErr)
		return run, fmt.Errorf("deployment %s rolled back: %w", dep.Name, runErr)
	}

	run.Status = RunStatusRollbackFailed
	d.finishRun(ctx, logger, run, runSpan, runErr)
	return run, fmt.Errorf("deployment %s failed and rollback was incomplete: %w (rollback: %v)",
		dep.Name, runErr, report.Err())
}

// executeSteps runs every step in order, tracking each confirmed resource.
// It returns the first unrecoverable step error.
func (d *Deployer) executeSteps(ctx context.Context, logger zerolog.Logger, dep *Deployment, run *Run, tx *txn.Transaction) error {
	for i := range dep.Steps {
		step := dep.Steps[i]
		result, res, err := d.executeStep(ctx, logger, run.ID, step)
		run.Results = append(run.Results, result)

		d.record(ctx, logger, func(rctx context.Context) error {
			return d.recorder.RecordStepResult(rctx, run.ID, result)
		})

		if err != nil {
			return fmt.Errorf("step %s (%s %s): %w", step.ID, step.Kind, step.Name, err)
		}

		// Track only after the API confirmed creation.
		tx.Track(res.Label(), res.ID, d.cleanupFunc(res))
	}
	return nil
}

// executeStep provisions one resource through the resilience stack:
// retry(breaker(provision)) with both layers subject to their toggles.
func (d *Deployer) executeStep(ctx context.Context, logger zerolog.Logger, runID string, step Step) (StepResult, Resource, error) {
	result := StepResult{
		StepID:    step.ID,
		StartedAt: time.Now().UTC(),
	}

	stepLogger := logger.With().
		Str("step_id", step.ID).
		Str("kind", string(step.Kind)).
		Str("name", step.Name).
		Logger()
	stepLogger.Info().Msg("Step started")
	d.publish(telemetry.Event{
		Type:    telemetry.EventTypeStepStarted,
		RunID:   runID,
		StepID:  step.ID,
		Message: fmt.Sprintf("provisioning %s %s", step.Kind, step.Name),
		Level:   telemetry.EventLevelInfo,
	})

	stepCtx, span := d.startStepSpan(ctx, step.ID, string(step.Kind))

	op := d.provisionOp(step)

	var res Resource
	var attempts int
	var err error
	if d.toggles.Enabled(toggles.Retry) {
		attempts, err = d.retry.Do(stepCtx, d.classifier, func(opCtx context.Context) error {
			r, opErr := op(opCtx)
			if opErr == nil {
				res = r
				return nil
			}
			stepLogger.Warn().Err(opErr).Msg("Provisioning attempt failed")
			d.publish(telemetry.Event{
				Type:    telemetry.EventTypeStepRetrying,
				RunID:   runID,
				StepID:  step.ID,
				Message: opErr.Error(),
				Level:   telemetry.EventLevelWarning,
			})
			return opErr
		})
	} else {
		attempts = 1
		res, err = op(stepCtx)
	}

	result.Attempts = attempts
	result.Duration = time.Since(result.StartedAt)
	if d.metrics != nil {
		d.metrics.RetryAttempts("provision."+string(step.Kind), attempts)
	}

	telemetry.EndSpan(span, err)

	if err != nil {
		result.Status = StepStatusFailed
		result.Error = err.Error()
		stepLogger.Error().Err(err).Int("attempts", attempts).Msg("Step failed")
		d.publish(telemetry.Event{
			Type:    telemetry.EventTypeStepFailed,
			RunID:   runID,
			StepID:  step.ID,
			Message: err.Error(),
			Level:   telemetry.EventLevelError,
		})
		d.stepMetric(step, result)
		return result, Resource{}, err
	}

	result.Status = StepStatusSucceeded
	result.ResourceID = res.ID
	stepLogger.Info().
		Str("resource_id", res.ID).
		Int("attempts", attempts).
		Dur("elapsed", result.Duration).
		Msg("Step succeeded")
	d.publish(telemetry.Event{
		Type:       telemetry.EventTypeStepSucceeded,
		RunID:      runID,
		StepID:     step.ID,
		ResourceID: res.ID,
		Message:    fmt.Sprintf("%s %s provisioned", step.Kind, step.Name),
		Level:      telemetry.EventLevelInfo,
	})
	d.stepMetric(step, result)
	return result, res, nil
}

// provisionOp wraps the provisioner call with the circuit breaker when one
// is configured and the toggle allows it.
func (d *Deployer) provisionOp(step Step) func(ctx context.Context) (Resource, error) {
	direct := func(ctx context.Context) (Resource, error) {
		return d.provisioner.Provision(ctx, step)
	}

	if d.breakers == nil || !d.toggles.Enabled(toggles.CircuitBreaker) {
		return direct
	}

	br := d.breakers.Get(breakerName, d.breakerCfg)
	return func(ctx context.Context) (Resource, error) {
		var res Resource
		err := br.Do(ctx, func(bctx context.Context) error {
			r, err := direct(bctx)
			if err == nil {
				res = r
			}
			return err
		})
		return res, err
	}
}

// cleanupFunc builds the rollback action for one confirmed resource.
// Destroy goes through the same breaker-free path on purpose: rollback is
// the last line of defense and should not be refused by an open circuit.
func (d *Deployer) cleanupFunc(res Resource) txn.CleanupFunc {
	return func(ctx context.Context) error {
		return d.provisioner.Destroy(ctx, res)
	}
}

// rollback destroys everything the run created, in reverse order.
func (d *Deployer) rollback(ctx context.Context, run *Run, tx *txn.Transaction) txn.RollbackReport {
	d.publish(telemetry.Event{
		Type:    telemetry.EventTypeRollbackStarted,
		RunID:   run.ID,
		Message: fmt.Sprintf("rolling back %d resources", tx.Tracked()),
		Level:   telemetry.EventLevelWarning,
	})

	report := tx.Rollback(ctx)

	if d.metrics != nil {
		for range report.Cleaned {
			d.metrics.RollbackCleanup("cleaned")
		}
		for range report.Failed {
			d.metrics.RollbackCleanup("failed")
		}
	}
	if !report.Complete() {
		d.publish(telemetry.Event{
			Type:    telemetry.EventTypeRollbackPartial,
			RunID:   run.ID,
			Message: report.Err().Error(),
			Level:   telemetry.EventLevelError,
		})
	} else {
		d.publish(telemetry.Event{
			Type:    telemetry.EventTypeRunRolledBack,
			RunID:   run.ID,
			Message: fmt.Sprintf("deployment %s rolled back cleanly", run.Deployment),
			Level:   telemetry.EventLevelWarning,
		})
	}
	return report
}

// finishRun persists the terminal state and closes the run span.
func (d *Deployer) finishRun(ctx context.Context, logger zerolog.Logger, run *Run, span trace.Span, runErr error) {
	if d.metrics != nil {
		d.metrics.DeploymentCompleted(string(run.Status))
	}
	d.record(ctx, logger, func(rctx context.Context) error {
		return d.recorder.RecordRunEnd(rctx, run)
	})
	telemetry.EndSpan(span, runErr)
}

func (d *Deployer) startRunSpan(ctx context.Context, runID, deployment string) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, nil
	}
	return d.tracer.StartRun(ctx, runID, deployment)
}

func (d *Deployer) startStepSpan(ctx context.Context, stepID, kind string) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, nil
	}
	return d.tracer.StartStep(ctx, stepID, kind)
}

func (d *Deployer) stepMetric(step Step, result StepResult) {
	if d.metrics != nil {
		d.metrics.StepExecuted(string(step.Kind), string(result.Status), result.Duration.Seconds())
	}
}

// record runs one recorder call, tolerating both a nil recorder and a
// failing one. History is an audit surface, not a dependency.
func (d *Deployer) record(ctx context.Context, logger zerolog.Logger, fn func(ctx context.Context) error) {
	if d.recorder == nil {
		return
	}
	if err := fn(ctx); err != nil {
		logger.Warn().Err(err).Msg("Run history write failed; continuing")
	}
}

func (d *Deployer) publish(event telemetry.Event) {
	if d.events != nil {
		d.events.Publish(event)
	}
}
