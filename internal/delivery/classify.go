package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// Error classes used for backoff caps, metrics and failure records.
const (
	ClassNone        = ""
	ClassValidation  = "validation"
	ClassRateLimited = "rate_limited"
	ClassConnection  = "connection"
	ClassServer      = "server"
	ClassPermanent   = "permanent"
)

// ClassifyStatus maps an HTTP status to nil (delivered) or a DeliveryError.
func ClassifyStatus(code int, msg string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusConflict:
		return &gazette.DeliveryError{Kind: gazette.ErrDuplicateRecord, StatusCode: code, Msg: msg}
	case code == http.StatusBadRequest:
		return &gazette.DeliveryError{Kind: gazette.ErrValidation, StatusCode: code, Msg: msg}
	case code == http.StatusTooManyRequests:
		return &gazette.DeliveryError{Kind: gazette.ErrRateLimited, StatusCode: code, Msg: msg}
	case code >= 500:
		return &gazette.DeliveryError{Kind: gazette.ErrTransientDelivery, StatusCode: code, Msg: msg}
	case code >= 400:
		return &gazette.DeliveryError{Kind: gazette.ErrPermanentDelivery, StatusCode: code, Msg: msg}
	default:
		return &gazette.DeliveryError{
			Kind:       gazette.ErrPermanentDelivery,
			StatusCode: code,
			Msg:        fmt.Sprintf("unexpected status: %s", msg),
		}
	}
}

// ClassifyTransport wraps a failure to obtain any response at all.
func ClassifyTransport(err error) error {
	msg := err.Error()
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		msg = "timeout: " + msg
	}
	return &gazette.DeliveryError{Kind: gazette.ErrTransientDelivery, Msg: msg}
}

// IsDelivered reports whether err is a terminal success.
func IsDelivered(err error) bool {
	return err == nil || errors.Is(err, gazette.ErrDuplicateRecord)
}

// ClassOf names the error class of err.
func ClassOf(err error) string {
	if err == nil {
		return ClassNone
	}
	var de *gazette.DeliveryError
	switch {
	case errors.Is(err, gazette.ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, gazette.ErrTransientDelivery):
		if errors.As(err, &de) && de.StatusCode > 0 {
			return ClassServer
		}
		return ClassConnection
	case errors.Is(err, gazette.ErrValidation):
		return ClassValidation
	case errors.Is(err, gazette.ErrDuplicateRecord):
		return ClassNone
	default:
		return ClassPermanent
	}
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var de *gazette.DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode
	}
	return 0
}
