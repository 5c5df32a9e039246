// Package intake accepts submissions at the process boundary: it validates
// them, journals them synchronously and hands each one to the submission
// pipeline on its own goroutine.
package intake

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/metrics"
	"submission-sync/internal/common/validation"
	"submission-sync/internal/models"
	processsubmission "submission-sync/internal/workers/submission/process-submission"
)

var ErrShuttingDown = stderrors.New("intake is shutting down")

type Journal interface {
	Append(ctx context.Context, fields models.Fields, status models.AttachmentStatus) (models.JournalEntry, error)
	All(ctx context.Context) ([]models.JournalEntry, error)
}

type Pipeline interface {
	Execute(ctx context.Context, input *processsubmission.Input) (*processsubmission.Output, error)
}

type Validator interface {
	Validate(doc map[string]interface{}) (*validation.ValidationResult, error)
}

type Config struct {
	MaxAttachments     int
	MaxAttachmentBytes int64
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttachments:     10,
		MaxAttachmentBytes: 20 << 20,
	}
}

// Receipt is returned to the caller as soon as the submission is journaled.
type Receipt struct {
	ID                  string `json:"id"`
	Index               int    `json:"index"`
	AttachmentsAccepted int    `json:"attachmentsAccepted"`
}

type Service struct {
	config    *Config
	journal   Journal
	pipeline  Pipeline
	validator Validator
	logger    logger.Logger

	// Pipelines run on baseCtx so they outlive the request that started them.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	// appending counts journal appends whose id is not known yet.
	appending int
	inFlight  map[string]struct{}
	wg        sync.WaitGroup
}

// NewService builds the intake service. validator may be nil, in which case
// field values are accepted as given.
func NewService(config *Config, j Journal, pipeline Pipeline, validator Validator, log logger.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:    config,
		journal:   j,
		pipeline:  pipeline,
		validator: validator,
		logger:    log.WithFields(map[string]interface{}{"component": "intake"}),
		baseCtx:   ctx,
		cancel:    cancel,
		inFlight:  map[string]struct{}{},
	}
}

// Submit journals one submission and starts its pipeline. It never waits on
// a remote call.
func (s *Service) Submit(ctx context.Context, fields models.Fields, attachments []models.Attachment) (*Receipt, error) {
	fields = fields.TrimSpace()
	attachments = nonEmpty(attachments)

	if err := s.validate(fields, attachments); err != nil {
		metrics.SubmissionsRejected.Inc()
		return nil, err
	}

	status := models.AttachmentNone
	if len(attachments) > 0 {
		status = models.AttachmentProcessing
	}

	// Registering with wg before the append keeps Drain from returning
	// between the journal write and the pipeline dispatch.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.appending++
	s.mu.Unlock()

	entry, err := s.journal.Append(ctx, fields, status)

	s.mu.Lock()
	s.appending--
	if err == nil {
		s.inFlight[entry.ID] = struct{}{}
	}
	s.mu.Unlock()
	if err != nil {
		s.wg.Done()
		s.logger.Error("failed to journal submission", map[string]interface{}{
			"errorCode": string(errors.Classify(err)),
			"error":     err.Error(),
		})
		return nil, err
	}

	metrics.SubmissionsAccepted.WithLabelValues(strconv.FormatBool(len(attachments) > 0)).Inc()
	s.logger.Info("submission accepted", map[string]interface{}{
		"submissionId": entry.ID,
		"index":        entry.Index,
		"attachments":  len(attachments),
	})

	go s.run(entry, attachments)

	return &Receipt{ID: entry.ID, Index: entry.Index, AttachmentsAccepted: len(attachments)}, nil
}

func (s *Service) run(entry models.JournalEntry, attachments []models.Attachment) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, entry.ID)
		s.mu.Unlock()
		s.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("submission pipeline panicked", map[string]interface{}{
				"submissionId": entry.ID,
				"panic":        fmt.Sprint(r),
			})
		}
	}()

	if _, err := s.pipeline.Execute(s.baseCtx, &processsubmission.Input{Entry: entry, Attachments: attachments}); err != nil {
		s.logger.Error("submission pipeline failed", map[string]interface{}{
			"submissionId": entry.ID,
			"error":        err.Error(),
		})
	}
}

func (s *Service) validate(fields models.Fields, attachments []models.Attachment) error {
	var problems []string
	if s.validator != nil {
		result, err := s.validator.Validate(fields.Map())
		if err != nil {
			return errors.NewValidationError(err.Error(), nil)
		}
		if !result.Valid {
			problems = append(problems, result.GetErrorMessages()...)
		}
	}
	if s.config.MaxAttachments > 0 && len(attachments) > s.config.MaxAttachments {
		problems = append(problems, fmt.Sprintf("attachments: at most %d files are accepted", s.config.MaxAttachments))
	}
	for _, a := range attachments {
		if s.config.MaxAttachmentBytes > 0 && int64(len(a.Content)) > s.config.MaxAttachmentBytes {
			problems = append(problems, fmt.Sprintf("%s: file exceeds %d bytes", a.Filename, s.config.MaxAttachmentBytes))
		}
	}
	if len(problems) > 0 {
		return errors.NewValidationError(fmt.Sprintf("%d problem(s) found", len(problems)), problems)
	}
	return nil
}

// GetJournalSnapshot returns a copy of every journaled record, oldest first.
func (s *Service) GetJournalSnapshot(ctx context.Context) ([]models.SubmissionRecord, error) {
	entries, err := s.journal.All(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]models.SubmissionRecord, len(entries))
	for i, e := range entries {
		records[i] = e.SubmissionRecord
	}
	return records, nil
}

// InFlight reports whether the pipeline for id is still running. While any
// append is pending every id counts as in flight, since the new entry may
// already be visible in the journal before its pipeline is registered.
func (s *Service) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appending > 0 {
		return true
	}
	_, ok := s.inFlight[id]
	return ok
}

// Active returns the number of running pipelines, counting pending appends.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight) + s.appending
}

// Drain stops accepting submissions and waits for running pipelines. When
// ctx expires first the pipelines' context is cancelled and ctx's error is
// returned.
func (s *Service) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := len(s.inFlight) + s.appending
	s.mu.Unlock()

	s.logger.Info("draining submission pipelines", map[string]interface{}{"pending": pending})
	start := time.Now()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("submission pipelines drained", map[string]interface{}{
			"durationMs": time.Since(start).Milliseconds(),
		})
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("drain grace period expired, cancelling pipelines", map[string]interface{}{
			"remaining": s.Active(),
		})
		return ctx.Err()
	}
}

func nonEmpty(items []models.Attachment) []models.Attachment {
	out := items[:0:0]
	for _, a := range items {
		if a.Filename == "" || len(a.Content) == 0 {
			continue
		}
		out = append(out, a)
	}
	return out
}
