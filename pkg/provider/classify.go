package provider

import (
	"net/http"
	"strconv"
	"time"

	"github.com/provisio/provisio/pkg/engine"
)

// Retryable is the retry classifier for provisioning API calls: transient,
// throttled, and conflict failures are retried, everything else propagates
// immediately.
var Retryable = engine.IsRetryable

// classifyStatus maps a non-2xx API response onto the engine's error
// taxonomy. The response body is consumed for its error message.
func classifyStatus(resp *http.Response, op string) *engine.ProvisionError {
	msg := apiMessage(resp)
	code := strconv.Itoa(resp.StatusCode)

	var perr *engine.ProvisionError
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		perr = engine.NewThrottled(msg, parseRetryAfter(resp.Header.Get("Retry-After")), nil)
	case resp.StatusCode == http.StatusConflict:
		perr = engine.NewConflict(msg, nil)
	case resp.StatusCode >= 500:
		perr = engine.NewTransient(msg, nil)
	default:
		perr = engine.NewPermanent(msg, nil)
	}
	return perr.WithOp(op).WithCode(code)
}

// parseRetryAfter reads a Retry-After header in delta-seconds or HTTP-date
// form, returning zero when the header is absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
