package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass classifies a provisioning failure for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient is a temporary failure that may succeed on
	// retry: network timeout, connection refused, 5xx-equivalent.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled is an explicit rate-limit response. Retryable,
	// and often carries a retry-after hint from the API.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict is a resource state conflict, e.g. a concurrent
	// modification. Retryable after backoff.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent is a non-recoverable failure: validation error,
	// not found, unauthorized. Never retried.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ProvisionError is a classified failure from the provisioning API or one of
// the engine's collaborators. It preserves the underlying error so callers
// can inspect the root cause through any retry or breaker wrapping.
type ProvisionError struct {
	// Class drives retry classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Code is an optional machine-readable code, e.g. an HTTP status.
	Code string `json:"code,omitempty"`

	// Resource is the resource identifier involved, if any.
	Resource string `json:"resource,omitempty"`

	// Op is the operation that failed, e.g. "workspace.create".
	Op string `json:"op,omitempty"`

	// RetryAfter is the API's explicit backoff hint for throttled
	// responses; zero when absent.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Op != "" {
		msg += fmt.Sprintf(" (op=%s", e.Op)
		if e.Resource != "" {
			msg += fmt.Sprintf(", resource=%s", e.Resource)
		}
		msg += ")"
	} else if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Is matches ProvisionErrors by class and code.
func (e *ProvisionError) Is(target error) bool {
	t, ok := target.(*ProvisionError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// RetryAfterHint exposes the rate-limit hint to the retry policy, which
// looks it up through errors.As without importing this package.
func (e *ProvisionError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// NewTransient creates a transient (retryable) error.
func NewTransient(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottled creates a rate-limit error carrying the API's retry-after
// hint; pass zero when the response had none.
func NewThrottled(message string, retryAfter time.Duration, err error) *ProvisionError {
	return &ProvisionError{
		Class:      ErrorClassThrottled,
		Message:    message,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// NewConflict creates a resource-conflict error.
func NewConflict(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanent creates a non-retryable error.
func NewPermanent(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithOp adds operation context.
func (e *ProvisionError) WithOp(op string) *ProvisionError {
	e.Op = op
	return e
}

// WithResource adds resource context.
func (e *ProvisionError) WithResource(id string) *ProvisionError {
	e.Resource = id
	return e
}

// WithCode adds a machine-readable code.
func (e *ProvisionError) WithCode(code string) *ProvisionError {
	e.Code = code
	return e
}

// classOf extracts the class from an error chain; permanent when unclassified.
func classOf(err error) ErrorClass {
	var e *ProvisionError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool { return classOf(err) == ErrorClassTransient }

// IsThrottled reports whether err is classified throttled.
func IsThrottled(err error) bool { return classOf(err) == ErrorClassThrottled }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return classOf(err) == ErrorClassConflict }

// IsPermanent reports whether err is classified permanent. Unclassified
// errors count as permanent: an unknown failure is not worth hammering the
// dependency over.
func IsPermanent(err error) bool { return classOf(err) == ErrorClassPermanent }

// IsRetryable reports whether err is worth retrying: transient, throttled,
// and conflict failures are, everything else is not.
func IsRetryable(err error) bool {
	switch classOf(err) {
	case ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict:
		return true
	default:
		return false
	}
}
