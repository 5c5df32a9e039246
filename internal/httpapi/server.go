// Package httpapi is the HTTP boundary of the intake server.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"submission-sync/internal/common/auth"
	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/observability"
	"submission-sync/internal/intake"
	"submission-sync/internal/models"
	"submission-sync/internal/scheduler"
)

type Intake interface {
	Submit(ctx context.Context, fields models.Fields, attachments []models.Attachment) (*intake.Receipt, error)
	GetJournalSnapshot(ctx context.Context) ([]models.SubmissionRecord, error)
}

type Jobs interface {
	Trigger(ctx context.Context, name string) error
	Status() []scheduler.JobStatus
}

type Performance interface {
	Stats() observability.Stats
	Reset()
}

type TokenInspector interface {
	Info() auth.TokenInfo
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// Journal is the maintenance surface of the journal store.
type Journal interface {
	Purge(ctx context.Context, ids []string) (int, error)
}

type Config struct {
	MaxRequestBytes int64
	// DebugToken must be sent as X-Debug-Token on inspection, maintenance
	// and trigger endpoints. Those endpoints are closed while it is empty.
	DebugToken string
	SyncJob    string
	CleanupJob string
}

type Dependencies struct {
	Intake      Intake
	Jobs        Jobs
	Performance Performance
	Tokens      TokenInspector
	Journal     Journal
	Logger      logger.Logger
}

type Server struct {
	config Config
	deps   Dependencies
	logger logger.Logger
	mux    *http.ServeMux
}

func NewServer(config Config, deps Dependencies) *Server {
	if config.MaxRequestBytes <= 0 {
		config.MaxRequestBytes = 210 << 20
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: log.WithFields(map[string]interface{}{"component": "http"}),
		mux:    http.NewServeMux(),
	}
	if config.DebugToken == "" {
		s.logger.Warn("debug token not set, debug endpoints disabled", nil)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /submit", s.handleSubmit)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /journal", s.debugOnly(s.handleJournal))
	s.mux.HandleFunc("POST /journal/delete", s.debugOnly(s.handleJournalDelete))
	s.mux.HandleFunc("POST /sync/trigger", s.debugOnly(s.handleTrigger(func() string { return s.config.SyncJob })))
	s.mux.HandleFunc("POST /cleanup/trigger", s.debugOnly(s.handleTrigger(func() string { return s.config.CleanupJob })))
	s.mux.HandleFunc("GET /jobs", s.debugOnly(s.handleJobs))
	s.mux.HandleFunc("GET /performance/stats", s.debugOnly(s.handlePerformanceStats))
	s.mux.HandleFunc("POST /performance/reset", s.debugOnly(s.handlePerformanceReset))
	s.mux.HandleFunc("GET /token/info", s.debugOnly(s.handleTokenInfo))
	s.mux.HandleFunc("POST /token/refresh", s.debugOnly(s.handleTokenRefresh))
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Handle mounts an extra handler, e.g. /metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) debugOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.DebugToken == "" {
			writeError(w, http.StatusForbidden, "DEBUG_DISABLED", "debug endpoints are disabled", nil)
			return
		}
		got := r.Header.Get("X-Debug-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.DebugToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid debug token", nil)
			return
		}
		next(w, r)
	}
}

// ==========================
// Submission
// ==========================

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.config.MaxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE",
			fmt.Sprintf("request body exceeds %d bytes", s.config.MaxRequestBytes), nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes)

	fields, attachments, err := decodeSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", err.Error(), nil)
			return
		}
		writeError(w, http.StatusBadRequest, string(errors.ErrCodeValidationFailed), err.Error(), nil)
		return
	}

	receipt, err := s.deps.Intake.Submit(r.Context(), fields, attachments)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":              true,
		"request_id":           receipt.ID,
		"attachments_accepted": receipt.AttachmentsAccepted,
		"message":              "Submission received and queued for processing",
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	if stderrors.Is(err, intake.ErrShuttingDown) {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error(), nil)
		return
	}
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) && stdErr.Code == errors.ErrCodeValidationFailed {
		problems, _ := stdErr.Metadata["problems"].([]string)
		writeError(w, http.StatusBadRequest, string(stdErr.Code), stdErr.Details, problems)
		return
	}
	s.logger.Error("submission failed", map[string]interface{}{
		"errorCode": string(errors.Classify(err)),
		"error":     err.Error(),
	})
	writeError(w, http.StatusInternalServerError, string(errors.Classify(err)), "submission could not be stored", nil)
}

// decodeSubmission reads either a multipart form, whose non-file parts are
// fields in the order sent, or a JSON object of fields.
func decodeSubmission(r *http.Request) (models.Fields, []models.Attachment, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid content type: %w", err)
	}

	switch {
	case mediaType == "application/json":
		var fields models.Fields
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return fields, nil, nil
	case strings.HasPrefix(mediaType, "multipart/"):
		return decodeMultipart(r)
	default:
		return nil, nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func decodeMultipart(r *http.Request) (models.Fields, []models.Attachment, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, nil, err
	}

	var fields models.Fields
	var attachments []models.Attachment
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, nil, err
		}
		if part.FileName() != "" {
			attachments = append(attachments, models.Attachment{Filename: part.FileName(), Content: data})
			continue
		}
		if part.FormName() == "" {
			continue
		}
		fields = append(fields, models.Field{Name: part.FormName(), Value: string(data)})
	}
	return fields, attachments, nil
}

// ==========================
// Inspection and triggers
// ==========================

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Intake.GetJournalSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(errors.Classify(err)), err.Error(), nil)
		return
	}
	unsynced := 0
	for _, rec := range records {
		if !rec.RemoteSynced {
			unsynced++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(records),
		"unsynced": unsynced,
		"records":  records,
	})
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// handleJournalDelete drops the named entries. Unknown ids are ignored.
func (s *Server) handleJournalDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "journal maintenance not configured", nil)
		return
	}
	var req deleteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(errors.ErrCodeValidationFailed), "invalid JSON body: "+err.Error(), nil)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, string(errors.ErrCodeValidationFailed), "ids is required", nil)
		return
	}

	removed, err := s.deps.Journal.Purge(r.Context(), req.IDs)
	if err != nil {
		s.logger.Error("journal delete failed", map[string]interface{}{
			"errorCode": string(errors.Classify(err)),
			"error":     err.Error(),
		})
		writeError(w, http.StatusInternalServerError, string(errors.Classify(err)), err.Error(), nil)
		return
	}
	s.logger.Info("journal entries deleted", map[string]interface{}{
		"requested": len(req.IDs),
		"removed":   removed,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

func (s *Server) handleTrigger(job func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Jobs == nil {
			writeError(w, http.StatusServiceUnavailable, "JOBS_DISABLED", "no scheduler configured", nil)
			return
		}
		name := job()
		start := time.Now()
		err := s.deps.Jobs.Trigger(r.Context(), name)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success":     true,
				"job":         name,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		case stderrors.Is(err, scheduler.ErrJobRunning):
			writeError(w, http.StatusConflict, "JOB_RUNNING", err.Error(), nil)
		case stderrors.Is(err, scheduler.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", err.Error(), nil)
		default:
			writeError(w, http.StatusBadGateway, string(errors.Classify(err)), err.Error(), nil)
		}
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Jobs.Status())
}

func (s *Server) handlePerformanceStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Performance == nil {
		writeError(w, http.StatusServiceUnavailable, "PERFORMANCE_DISABLED", "performance recorder not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Performance.Stats())
}

func (s *Server) handlePerformanceReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Performance == nil {
		writeError(w, http.StatusServiceUnavailable, "PERFORMANCE_DISABLED", "performance recorder not configured", nil)
		return
	}
	s.deps.Performance.Reset()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Tokens == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tokens.Info())
}

// handleTokenRefresh forces a fresh token. The token itself is never
// returned.
func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "TOKEN_DISABLED", "token manager not configured", nil)
		return
	}
	if _, err := s.deps.Tokens.Token(r.Context(), true); err != nil {
		s.logger.Warn("token refresh failed", map[string]interface{}{
			"errorCode": string(errors.Classify(err)),
			"error":     err.Error(),
		})
		writeError(w, http.StatusBadGateway, string(errors.Classify(err)), err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   s.deps.Tokens.Info(),
	})
}

// ==========================
// Responses
// ==========================

type errorBody struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Problems []string `json:"problems,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, problems []string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   errorBody{Code: code, Message: message, Problems: problems},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
