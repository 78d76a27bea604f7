package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CleanupFunc destroys one provisioned resource. It should be safe to call
// even if the resource is already gone; idempotent deletion keeps a partial
// rollback from failing on work another path already did.
type CleanupFunc func(ctx context.Context) error

// TrackedResource is one confirmed-created resource inside a transaction.
// It is immutable after tracking and consumed only during rollback.
type TrackedResource struct {
	// Label is a human-readable description, e.g. "workspace analytics-dev".
	Label string

	// ResourceID is the remote identifier of the created resource.
	ResourceID string

	// TrackedAt is when the resource was registered.
	TrackedAt time.Time

	cleanup CleanupFunc
}

// CleanupResult records the outcome of one cleanup action during rollback.
type CleanupResult struct {
	Label      string `json:"label"`
	ResourceID string `json:"resource_id"`
	Err        error  `json:"-"`
}

// RollbackReport summarizes a rollback: which resources were destroyed and
// which cleanups failed, in execution (reverse-tracking) order. Failures are
// never swallowed; a non-empty Failed slice means manual intervention may be
// needed for those resources.
type RollbackReport struct {
	TransactionID string          `json:"transaction_id"`
	Cleaned       []CleanupResult `json:"cleaned"`
	Failed        []CleanupResult `json:"failed"`
}

// Complete reports whether every cleanup action succeeded.
func (r RollbackReport) Complete() bool {
	return len(r.Failed) == 0
}

// Err returns nil when the rollback was complete, otherwise a single error
// naming every resource whose cleanup failed.
func (r RollbackReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}

	msg := fmt.Sprintf("rollback left %d of %d resources behind:",
		len(r.Failed), len(r.Failed)+len(r.Cleaned))
	for _, f := range r.Failed {
		msg += fmt.Sprintf(" [%s %s: %v]", f.Label, f.ResourceID, f.Err)
	}
	return fmt.Errorf("%s", msg)
}

// Transaction tracks resources created during one multi-step deployment.
// It reaches a terminal state through exactly one of Commit or Rollback.
// A Transaction is owned by a single deployment and is not safe for
// concurrent use.
type Transaction struct {
	id        string
	logger    zerolog.Logger
	resources []TrackedResource
	committed bool
	rolled    bool
}

// New creates an empty transaction. The logger is used only for misuse
// warnings and rollback progress; tracking and commit are silent.
func New(logger zerolog.Logger) *Transaction {
	id := uuid.New().String()
	return &Transaction{
		id:     id,
		logger: logger.With().Str("transaction_id", id).Logger(),
	}
}

// ID returns the transaction's unique identifier.
func (t *Transaction) ID() string {
	return t.id
}

// Track registers a resource that has been confirmed created, together with
// the action that destroys it. Call it only after creation is confirmed;
// tracking speculatively risks rolling back something that does not exist.
//
// A nil cleanup is a caller error: it is logged loudly and the resource is
// not tracked, since an untracked resource is better than a rollback that
// panics at cleanup time.
func (t *Transaction) Track(label, resourceID string, cleanup CleanupFunc) {
	if cleanup == nil {
		t.logger.Error().
			Str("label", label).
			Str("resource_id", resourceID).
			Msg("Track called with nil cleanup; resource will not be rolled back")
		return
	}
	if t.committed || t.rolled {
		t.logger.Error().
			Str("label", label).
			Str("resource_id", resourceID).
			Msg("Track called on a finished transaction; resource will not be rolled back")
		return
	}

	t.resources = append(t.resources, TrackedResource{
		Label:      label,
		ResourceID: resourceID,
		TrackedAt:  time.Now(),
		cleanup:    cleanup,
	})
}

// Tracked returns how many resources the transaction currently holds.
func (t *Transaction) Tracked() int {
	return len(t.resources)
}

// Commit marks the deployment successful and disables rollback. Calling it
// more than once is a no-op.
func (t *Transaction) Commit() {
	if t.rolled {
		t.logger.Warn().Msg("Commit called after rollback; ignoring")
		return
	}
	t.committed = true
}

// Committed reports whether the transaction has been committed.
func (t *Transaction) Committed() bool {
	return t.committed
}

// Rollback destroys every tracked resource in strict reverse order of
// tracking: last created, first destroyed, mirroring resource dependency
// direction. A failing cleanup is recorded and does not stop the remaining
// cleanups; the report lists both outcomes so the caller can escalate
// anything left behind.
//
// Rollback after Commit is a caller error: it is logged loudly and returns
// an empty report without touching any resource. A second Rollback is
// likewise a warned no-op.
func (t *Transaction) Rollback(ctx context.Context) RollbackReport {
	report := RollbackReport{TransactionID: t.id}

	if t.committed {
		t.logger.Warn().Msg("Rollback called on a committed transaction; nothing will be destroyed")
		return report
	}
	if t.rolled {
		t.logger.Warn().Msg("Rollback called twice; nothing left to destroy")
		return report
	}
	t.rolled = true

	t.logger.Info().
		Int("resources", len(t.resources)).
		Msg("Rolling back deployment")

	for i := len(t.resources) - 1; i >= 0; i-- {
		res := t.resources[i]
		result := CleanupResult{Label: res.Label, ResourceID: res.ResourceID}

		if err := t.invokeCleanup(ctx, res); err != nil {
			result.Err = err
			report.Failed = append(report.Failed, result)
			t.logger.Error().Err(err).
				Str("label", res.Label).
				Str("resource_id", res.ResourceID).
				Msg("Cleanup failed; continuing with remaining resources")
			continue
		}

		report.Cleaned = append(report.Cleaned, result)
		t.logger.Info().
			Str("label", res.Label).
			Str("resource_id", res.ResourceID).
			Msg("Cleaned up resource")
	}

	if !report.Complete() {
		t.logger.Error().
			Int("failed", len(report.Failed)).
			Msg("Rollback incomplete; manual intervention may be required")
	}

	return report
}

// invokeCleanup runs one cleanup action, converting a panic into an error so
// a misbehaving cleanup cannot abort the rest of the rollback.
func (t *Transaction) invokeCleanup(ctx context.Context, res TrackedResource) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return res.cleanup(ctx)
}

// Run executes fn inside a new transaction and guarantees rollback-or-commit
// on every exit path. When fn returns nil the transaction is committed; when
// it returns an error, or panics, every tracked resource is rolled back
// exactly once before Run returns (a panic is re-raised after rollback).
//
// The returned report is zero-valued on the success path.
func Run(ctx context.Context, logger zerolog.Logger, fn func(tx *Transaction) error) (report RollbackReport, err error) {
	tx := New(logger)

	defer func() {
		if r := recover(); r != nil {
			report = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		report = tx.Rollback(ctx)
		return report, err
	}

	tx.Commit()
	return RollbackReport{TransactionID: tx.ID()}, nil
}
