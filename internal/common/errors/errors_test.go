package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"wrapped locked sentinel", fmt.Errorf("%w: sheet busy", ErrLocked), ErrCodeRemoteLocked},
		{"wrapped unauthorized", fmt.Errorf("append: %w", ErrUnauthorized), ErrCodeRemoteUnauthorized},
		{"not found", ErrNotFound, ErrCodeRemoteNotFound},
		{"schema mismatch", ErrSchemaMismatch, ErrCodeRemoteSchemaMismatch},
		{"storage", ErrStorage, ErrCodeStorageError},
		{"token", ErrTokenUnavailable, ErrCodeTokenUnavailable},
		{"423 status text", stderrors.New("status 423 returned"), ErrCodeRemoteLocked},
		{"resource locked text", stderrors.New("ResourceLocked: workbook"), ErrCodeRemoteLocked},
		{"file in use text", stderrors.New("the file is being used by another process"), ErrCodeRemoteLocked},
		{"anything else", stderrors.New("connection reset by peer"), ErrCodeRemoteTransient},
		{"standard error code wins", NewValidationError("bad", nil), ErrCodeValidationFailed},
		{"remote error keeps class", NewRemoteError("append row", fmt.Errorf("%w: x", ErrLocked)), ErrCodeRemoteLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsLocked(t *testing.T) {
	assert.True(t, IsLocked(fmt.Errorf("%w", ErrLocked)))
	assert.True(t, IsLocked(stderrors.New("Cannot access the file")))
	assert.False(t, IsLocked(stderrors.New("timeout")))
	assert.False(t, IsLocked(nil))
}

func TestRetryability(t *testing.T) {
	assert.True(t, IsRetryable(ErrLocked))
	assert.True(t, IsRetryable(stderrors.New("timeout")))
	assert.False(t, IsRetryable(ErrUnauthorized))
	assert.False(t, IsRetryable(NewValidationError("x", nil)))

	remote := NewRemoteError("append row", ErrNotFound)
	assert.False(t, remote.Retryable)
	assert.ErrorIs(t, remote, ErrNotFound)
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "validation", GetErrorCategory(ErrCodeValidationFailed))
	assert.Equal(t, "locked", GetErrorCategory(ErrCodeRemoteLocked))
	assert.Equal(t, "transient", GetErrorCategory(ErrCodeTokenUnavailable))
	assert.Equal(t, "storage", GetErrorCategory(ErrCodeJournalNotFound))
	assert.Equal(t, "permanent", GetErrorCategory(ErrCodeRemoteUnauthorized))
}

func TestMessage(t *testing.T) {
	assert.Empty(t, Message(nil))
	assert.Equal(t, "plain", Message(stderrors.New("plain")))
	assert.Equal(t, "REMOTE_LOCKED: remote resource locked",
		Message(NewRemoteError("append row", ErrLocked)))

	wrapped := fmt.Errorf("outer: %w", &StandardError{Code: ErrCodeInternal, Message: "boom"})
	assert.Equal(t, "INTERNAL_ERROR: boom", Message(wrapped))
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("2 problems", []string{"email: required", "carrierCountry: required"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []string{"email: required", "carrierCountry: required"}, err.Metadata["problems"])
	assert.False(t, err.Retryable)
}

type recordingLogger struct {
	msgs   []string
	fields []map[string]interface{}
}

func (l *recordingLogger) Error(msg string, fields map[string]interface{}) {
	l.msgs = append(l.msgs, msg)
	l.fields = append(l.fields, fields)
}

func TestBoundaryHandler_Handle(t *testing.T) {
	log := &recordingLogger{}
	var reported []string
	h := NewBoundaryHandler(log, func(step string, code ErrorCode) {
		reported = append(reported, step+":"+string(code))
	})

	assert.Nil(t, h.Handle(context.Background(), "REQ-1", "write-row", nil))
	assert.Empty(t, log.msgs)

	stdErr := h.Handle(context.Background(), "REQ-1", "write-row", fmt.Errorf("%w: open in excel", ErrLocked))
	require.NotNil(t, stdErr)
	assert.Equal(t, ErrCodeRemoteLocked, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.ErrorIs(t, stdErr, ErrLocked)

	require.Len(t, log.fields, 1)
	assert.Equal(t, "REQ-1", log.fields[0]["submissionId"])
	assert.Equal(t, "locked", log.fields[0]["errorCategory"])
	assert.Equal(t, []string{"write-row:REMOTE_LOCKED"}, reported)
}

func TestBoundaryHandler_KeepsStandardError(t *testing.T) {
	h := NewBoundaryHandler(&recordingLogger{}, nil)
	in := NewStorageError("append", stderrors.New("disk full"))
	assert.Same(t, in, h.Handle(context.Background(), "REQ-2", "journal", in))
}

func TestBoundaryHandler_RecordsContextError(t *testing.T) {
	log := &recordingLogger{}
	h := NewBoundaryHandler(log, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.Handle(ctx, "REQ-3", "upload", stderrors.New("aborted"))
	require.Len(t, log.fields, 1)
	assert.Equal(t, context.Canceled.Error(), log.fields[0]["contextError"])
}

func TestBoundaryHandler_Recover(t *testing.T) {
	log := &recordingLogger{}
	var codes []ErrorCode
	h := NewBoundaryHandler(log, func(_ string, code ErrorCode) { codes = append(codes, code) })

	func() {
		defer h.Recover(context.Background(), "REQ-4", "process-submission")
		panic("nil map write")
	}()

	require.Len(t, log.fields, 1)
	assert.Equal(t, "nil map write", log.fields[0]["details"])
	assert.Equal(t, []ErrorCode{ErrCodeInternal}, codes)
}
