// internal/common/errors/handler.go
package errors

import (
	"context"
	"fmt"
	"time"
)

// BoundaryHandler absorbs errors at the pipeline and job boundaries: it logs
// them with full context and reports them, but never propagates them.
type BoundaryHandler struct {
	logger    Logger
	onFailure func(step string, code ErrorCode)
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

// NewBoundaryHandler creates a handler. onFailure may be nil.
func NewBoundaryHandler(logger Logger, onFailure func(step string, code ErrorCode)) *BoundaryHandler {
	return &BoundaryHandler{logger: logger, onFailure: onFailure}
}

// Handle logs err for the given submission and step and returns its
// normalized form so callers can persist it.
func (h *BoundaryHandler) Handle(ctx context.Context, submissionID, step string, err error) *StandardError {
	if err == nil {
		return nil
	}
	stdErr := h.normalizeError(err)

	fields := map[string]interface{}{
		"submissionId":  submissionID,
		"step":          step,
		"errorCode":     string(stdErr.Code),
		"errorCategory": GetErrorCategory(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
	}
	if ctx != nil && ctx.Err() != nil {
		fields["contextError"] = ctx.Err().Error()
	}
	h.logger.Error("Step failed", fields)

	if h.onFailure != nil {
		h.onFailure(step, stdErr.Code)
	}
	return stdErr
}

// Recover turns a panic into a handled error. Use as
// defer h.Recover(ctx, id, step).
func (h *BoundaryHandler) Recover(ctx context.Context, submissionID, step string) {
	if r := recover(); r != nil {
		h.Handle(ctx, submissionID, step, &StandardError{
			Code:      ErrCodeInternal,
			Message:   "Recovered from panic",
			Details:   fmt.Sprintf("%v", r),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		})
	}
}

// normalizeError ensures we always have a StandardError
func (h *BoundaryHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	code := Classify(err)
	return &StandardError{
		Code:      code,
		Message:   "Step error",
		Details:   err.Error(),
		Retryable: IsRetryableErrorCode(code),
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}
