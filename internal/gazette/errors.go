package gazette

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the stitcher, delivery worker, and orchestrator.
var (
	// ErrValidation marks a malformed record; never retried.
	ErrValidation = errors.New("record validation failed")
	// ErrTransientDelivery covers timeouts, connection failures and 5xx.
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrRateLimited is returned when the endpoint answers 429.
	ErrRateLimited = errors.New("delivery rate limited")
	// ErrPermanentDelivery covers 4xx responses other than 400/409/429.
	ErrPermanentDelivery = errors.New("permanent delivery failure")
	// ErrDuplicateRecord is returned on 409 and treated as success.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrStitchingFailure aborts a single stitching attempt.
	ErrStitchingFailure = errors.New("stitching failed")
	// ErrDateTimeout marks a scraping session that exceeded its budget.
	ErrDateTimeout = errors.New("date processing timed out")
	// ErrDateProcessing marks any other scraping failure; never retried.
	ErrDateProcessing = errors.New("date processing failed")
	// ErrSessionFatal means the worker's session can no longer be used.
	ErrSessionFatal = errors.New("scraping session is no longer usable")
)

// DeliveryError carries the classification and response code of a failed
// delivery attempt.
type DeliveryError struct {
	Kind       error
	StatusCode int
	Msg        string
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
}

// Unwrap exposes the taxonomy sentinel to errors.Is.
func (e *DeliveryError) Unwrap() error {
	return e.Kind
}

// IsRetryable reports whether err should put an item back on the queue.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientDelivery) || errors.Is(err, ErrRateLimited)
}
