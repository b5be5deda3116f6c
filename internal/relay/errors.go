package relay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sahyogai/sahyog-gateway/internal/upstream"
)

// Machine-readable error codes surfaced in OpenAI-style error bodies.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeModelUnavailable = "model_unavailable"
	CodeUpstreamFailure  = "upstream_failure"
	CodeQuotaExhausted   = "quota_exhausted"
)

// StatusError carries the HTTP status and error code for the caller-facing
// error envelope.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

func invalidRequest(format string, args ...any) *StatusError {
	return &StatusError{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

func modelUnavailable(model string) *StatusError {
	return &StatusError{
		Status:  http.StatusBadRequest,
		Code:    CodeModelUnavailable,
		Message: fmt.Sprintf("model %q is not available", model),
	}
}

func upstreamFailure(err error) *StatusError {
	msg := "upstream request failed"
	var ue *upstream.Error
	if errors.As(err, &ue) {
		msg = fmt.Sprintf("upstream request failed: http %d: %s", ue.Status, ue.Body)
	} else if err != nil {
		msg = fmt.Sprintf("upstream request failed: %v", err)
	}
	return &StatusError{
		Status:  http.StatusBadGateway,
		Code:    CodeUpstreamFailure,
		Message: msg,
	}
}

func quotaExhaustedError() *StatusError {
	return &StatusError{
		Status:  http.StatusTooManyRequests,
		Code:    CodeQuotaExhausted,
		Message: "upstream quota exhausted, please retry",
	}
}
