package uploadattachments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/metrics"
	"submission-sync/internal/common/observability"
	"submission-sync/internal/models"
	"submission-sync/internal/remote"
)

const TaskType = "upload-attachments"

// Recorder receives one observation per attempted upload.
type Recorder interface {
	RecordUpload(ctx context.Context, obs observability.UploadObservation)
}

type Handler struct {
	config   *Config
	store    remote.FileStore
	recorder Recorder
	logger   logger.Logger
}

// NewHandler creates an uploader. recorder may be nil.
func NewHandler(config *Config, store remote.FileStore, recorder Recorder, log logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{
		config:   config,
		store:    store,
		recorder: recorder,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.SubmissionID == "" {
		return nil, fmt.Errorf("submission id is required")
	}
	outcomes := h.UploadAll(ctx, input.SubmissionID, input.Attachments)
	status, errText := models.AggregateOutcomes(outcomes)
	return &Output{
		Outcomes:  outcomes,
		Status:    status,
		Error:     errText,
		Succeeded: models.Succeeded(outcomes),
	}, nil
}

// UploadAll uploads every item with at most config.Workers in flight. The
// result has one outcome per item, in input order. A failed item never
// stops its siblings.
func (h *Handler) UploadAll(ctx context.Context, submissionID string, items []models.Attachment) []models.UploadOutcome {
	outcomes := make([]models.UploadOutcome, len(items))
	if len(items) == 0 {
		return outcomes
	}

	workers := h.config.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = h.uploadOne(ctx, submissionID, i+1, items[i])
		}(i)
	}
	wg.Wait()

	h.logger.Info("attachments processed", map[string]interface{}{
		"submissionId": submissionID,
		"total":        len(items),
		"succeeded":    models.Succeeded(outcomes),
	})
	return outcomes
}

func (h *Handler) uploadOne(ctx context.Context, submissionID string, ordinal int, item models.Attachment) (outcome models.UploadOutcome) {
	remoteName := remote.AttachmentName(submissionID, ordinal, filepath.Ext(item.Filename))
	outcome = models.UploadOutcome{Filename: item.Filename, RemoteName: remoteName}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Err = fmt.Errorf("upload panicked: %v", r)
		}
		h.observe(ctx, submissionID, remoteName, item, time.Since(start), outcome)
	}()

	staged, cleanup, err := h.stage(item.Content)
	if err != nil {
		outcome.Err = fmt.Errorf("stage attachment: %w", err)
		return outcome
	}
	defer cleanup()

	callCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	defer cancel()

	if _, err := h.store.Upload(callCtx, h.config.Folder, remoteName, staged, int64(len(item.Content))); err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Success = true
	return outcome
}

// stage copies content to a scratch file and returns it opened for reading.
// cleanup closes and removes the file.
func (h *Handler) stage(content []byte) (*os.File, func(), error) {
	f, err := os.CreateTemp(h.config.ScratchDir, "upload-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}
	if _, err := f.Write(content); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		cleanup()
		return nil, nil, err
	}
	return f, cleanup, nil
}

func (h *Handler) observe(ctx context.Context, submissionID, remoteName string, item models.Attachment, elapsed time.Duration, outcome models.UploadOutcome) {
	obs := observability.UploadObservation{
		SubmissionID: submissionID,
		ItemID:       remoteName,
		Filename:     item.Filename,
		Size:         int64(len(item.Content)),
		Duration:     elapsed,
		Success:      outcome.Success,
	}
	label := "success"
	if !outcome.Success {
		label = "failure"
		if outcome.Err != nil {
			obs.Error = outcome.Err.Error()
		}
		h.logger.Warn("attachment upload failed", map[string]interface{}{
			"submissionId": submissionID,
			"step":         TaskType,
			"filename":     item.Filename,
			"remoteName":   remoteName,
			"error":        obs.Error,
		})
	}
	metrics.AttachmentUploads.WithLabelValues(label).Inc()
	if h.recorder != nil {
		h.recorder.RecordUpload(ctx, obs)
	}
}
