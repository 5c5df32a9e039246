package processsubmission

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/metrics"
	"submission-sync/internal/common/observability"
	"submission-sync/internal/journal"
	"submission-sync/internal/models"
	"submission-sync/internal/remote"
	sendconfirmation "submission-sync/internal/workers/submission/send-confirmation"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const TaskType = "process-submission"

// Journal is the part of the journal store the pipeline patches.
type Journal interface {
	Get(ctx context.Context, id string) (models.JournalEntry, error)
	PatchByID(ctx context.Context, id string, mut journal.Mutator) error
}

type Uploader interface {
	UploadAll(ctx context.Context, submissionID string, items []models.Attachment) []models.UploadOutcome
}

type Confirmer interface {
	Execute(ctx context.Context, input *sendconfirmation.Input) (*sendconfirmation.Output, error)
}

type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, obs observability.SubmissionObservation)
}

type Dependencies struct {
	Journal   Journal
	Table     remote.Table
	Uploader  Uploader
	Confirmer Confirmer
	Recorder  SubmissionRecorder
	Tracer    trace.Tracer
	Logger    logger.Logger
}

type Handler struct {
	config    *Config
	journal   Journal
	table     remote.Table
	uploader  Uploader
	confirmer Confirmer
	recorder  SubmissionRecorder
	tracer    trace.Tracer
	boundary  *errors.BoundaryHandler
	logger    logger.Logger
}

func NewHandler(config *Config, deps Dependencies) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(TaskType)
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:    config,
		journal:   deps.Journal,
		table:     deps.Table,
		uploader:  deps.Uploader,
		confirmer: deps.Confirmer,
		recorder:  deps.Recorder,
		tracer:    tracer,
		boundary: errors.NewBoundaryHandler(log, func(step string, code errors.ErrorCode) {
			metrics.PipelineStepFailures.WithLabelValues(step, string(code)).Inc()
		}),
		logger: log,
	}
}

// Execute drives one journaled submission to a terminal state. Step failures
// are logged and persisted on the entry; only a malformed input is returned
// as an error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.Entry.ID == "" {
		return nil, fmt.Errorf("journal entry is required")
	}

	id := input.Entry.ID
	start := time.Now()
	out := &Output{
		SubmissionID:     id,
		State:            StateJournalWritten,
		AttachmentStatus: input.Entry.AttachmentStatus,
	}

	metrics.PipelinesActive.Inc()
	defer metrics.PipelinesActive.Dec()
	defer h.boundary.Recover(ctx, id, TaskType)

	ctx, span := h.tracer.Start(ctx, TaskType, trace.WithAttributes(
		attribute.String("submission.id", id),
		attribute.Int("submission.attachments", len(input.Attachments)),
	))
	defer span.End()

	// Step 2: remote row. A failure is left for reconciliation.
	h.transition(out, StateRemotePending)
	if err := h.runStep(ctx, id, StepWriteRow, func(ctx context.Context) error {
		return h.writeRow(ctx, input.Entry.SubmissionRecord)
	}); err != nil {
		out.FailedSteps = append(out.FailedSteps, StepWriteRow)
		h.recordRemoteError(ctx, id, err)
	} else {
		out.RemoteWritten = true
	}

	// Step 3: attachments.
	var outcomes []models.UploadOutcome
	if len(input.Attachments) > 0 {
		if err := h.runStep(ctx, id, StepUploadAttachments, func(ctx context.Context) error {
			outcomes = h.uploader.UploadAll(ctx, id, input.Attachments)
			return nil
		}); err != nil {
			out.FailedSteps = append(out.FailedSteps, StepUploadAttachments)
			outcomes = failAll(input.Attachments, err)
		}
		out.AttachmentStatus, out.AttachmentError = models.AggregateOutcomes(outcomes)
		out.Succeeded = models.Succeeded(outcomes)
	}
	h.transition(out, StateAttachmentsDone)

	// Step 4: final status on the journal entry and the remote row.
	if len(input.Attachments) > 0 {
		if err := h.runStep(ctx, id, StepUpdateStatus, func(ctx context.Context) error {
			return h.updateStatus(ctx, id, out)
		}); err != nil {
			out.FailedSteps = append(out.FailedSteps, StepUpdateStatus)
		}
	}

	// Step 5: best-effort confirmation.
	if h.confirmer != nil {
		if err := h.runStep(ctx, id, StepNotify, func(ctx context.Context) error {
			rec := h.latest(ctx, input.Entry.SubmissionRecord, out)
			res, err := h.confirmer.Execute(ctx, &sendconfirmation.Input{Record: rec, Succeeded: out.Succeeded})
			if err != nil {
				return err
			}
			out.NotificationSent = res.Sent
			return nil
		}); err != nil {
			out.FailedSteps = append(out.FailedSteps, StepNotify)
		}
	}

	h.transition(out, StateFinalized)
	out.Duration = time.Since(start)
	h.finish(ctx, span, input, out)
	return out, nil
}

// runStep runs fn inside a child span. Errors and panics are absorbed by the
// boundary handler and returned in normalized form.
func (h *Handler) runStep(ctx context.Context, id, step string, fn func(ctx context.Context) error) (err error) {
	ctx, span := h.tracer.Start(ctx, step, trace.WithAttributes(attribute.String("submission.id", id)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = &errors.StandardError{
				Code:      errors.ErrCodeInternal,
				Message:   "Recovered from panic",
				Details:   fmt.Sprintf("%s: %v", step, r),
				Timestamp: time.Now().UTC(),
			}
		}
		if err != nil {
			stdErr := h.boundary.Handle(ctx, id, step, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(stdErr.Code))
			err = stdErr
		}
	}()
	return fn(ctx)
}

func (h *Handler) writeRow(ctx context.Context, rec models.SubmissionRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	defer cancel()

	if err := h.table.AppendRow(callCtx, h.config.Table, remote.RowFromRecord(rec)); err != nil {
		return errors.NewRemoteError("append row", err)
	}
	if err := h.journal.PatchByID(ctx, rec.ID, func(r *models.SubmissionRecord) {
		r.RemoteSynced = true
		r.RemoteError = ""
	}); err != nil {
		// The row exists remotely; reconciliation will find it.
		h.logger.Warn("row written but sync flag not saved", map[string]interface{}{
			"submissionId": rec.ID,
			"step":         StepWriteRow,
			"error":        err.Error(),
		})
	}
	return nil
}

func (h *Handler) recordRemoteError(ctx context.Context, id string, err error) {
	msg := errors.Message(err)
	if perr := h.journal.PatchByID(ctx, id, func(r *models.SubmissionRecord) {
		r.RemoteError = msg
	}); perr != nil {
		h.logger.Warn("could not record remote error", map[string]interface{}{
			"submissionId": id,
			"step":         StepWriteRow,
			"error":        perr.Error(),
		})
	}
}

func (h *Handler) updateStatus(ctx context.Context, id string, out *Output) error {
	status, errText := out.AttachmentStatus, out.AttachmentError
	written := out.RemoteWritten
	if err := h.journal.PatchByID(ctx, id, func(r *models.SubmissionRecord) {
		r.AttachmentStatus = status
		r.AttachmentError = errText
		// Cleared once the remote cells hold the same status.
		if written {
			r.RemoteCellsStale = true
		}
	}); err != nil {
		return err
	}

	// Without a remote row the next reconciliation writes one from the
	// journal, which already carries the final status.
	if !written {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	defer cancel()
	if err := h.table.UpdateCells(callCtx, h.config.Table, h.config.IDColumn, id, remote.AttachmentCells(status, errText)); err != nil {
		remoteErr := errors.NewRemoteError("update cells", err)
		if perr := h.journal.PatchByID(ctx, id, func(r *models.SubmissionRecord) {
			r.RemoteError = errors.Message(remoteErr)
		}); perr != nil {
			h.logger.Warn("failed to record stale remote cells", map[string]interface{}{
				"submissionId": id,
				"error":        perr.Error(),
			})
		}
		return remoteErr
	}
	return h.journal.PatchByID(ctx, id, func(r *models.SubmissionRecord) {
		r.RemoteCellsStale = false
		r.RemoteError = ""
	})
}

// latest returns the journal's view of the record, falling back to what
// the pipeline knows when the journal cannot be read.
func (h *Handler) latest(ctx context.Context, rec models.SubmissionRecord, out *Output) models.SubmissionRecord {
	entry, err := h.journal.Get(ctx, rec.ID)
	if err == nil {
		return entry.SubmissionRecord
	}
	rec = rec.Clone()
	rec.AttachmentStatus = out.AttachmentStatus
	rec.AttachmentError = out.AttachmentError
	return rec
}

func (h *Handler) transition(out *Output, next State) {
	h.logger.Debug("pipeline state", map[string]interface{}{
		"submissionId": out.SubmissionID,
		"from":         string(out.State),
		"to":           string(next),
	})
	out.State = next
}

func (h *Handler) finish(ctx context.Context, span trace.Span, input *Input, out *Output) {
	span.SetAttributes(
		attribute.String("submission.attachment_status", string(out.AttachmentStatus)),
		attribute.Bool("submission.remote_written", out.RemoteWritten),
	)
	if len(out.FailedSteps) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d step(s) failed", len(out.FailedSteps)))
	}

	metrics.PipelineDuration.WithLabelValues(string(out.AttachmentStatus)).Observe(out.Duration.Seconds())
	if h.recorder != nil {
		obs := observability.SubmissionObservation{
			SubmissionID: out.SubmissionID,
			FieldCount:   len(input.Entry.Fields),
			Attachments:  len(input.Attachments),
			Duration:     out.Duration,
			Success:      len(out.FailedSteps) == 0,
		}
		if !obs.Success {
			obs.Error = fmt.Sprintf("failed steps: %v", out.FailedSteps)
		}
		h.recorder.RecordSubmission(ctx, obs)
	}

	h.logger.Info("submission processed", map[string]interface{}{
		"submissionId":     out.SubmissionID,
		"step":             TaskType,
		"remoteWritten":    out.RemoteWritten,
		"attachmentStatus": string(out.AttachmentStatus),
		"failedSteps":      out.FailedSteps,
		"durationMs":       out.Duration.Milliseconds(),
	})
}

func failAll(items []models.Attachment, err error) []models.UploadOutcome {
	cause := stderrors.New(errors.Message(err))
	outcomes := make([]models.UploadOutcome, len(items))
	for i, item := range items {
		outcomes[i] = models.UploadOutcome{Filename: item.Filename, Err: cause}
	}
	return outcomes
}
