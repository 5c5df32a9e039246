package reconcilejournal

import (
	"context"
	"fmt"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/metrics"
	"submission-sync/internal/journal"
	"submission-sync/internal/models"
	"submission-sync/internal/remote"
)

const TaskType = "reconcile-journal"

type Journal interface {
	ListUnsynced(ctx context.Context) ([]models.JournalEntry, error)
	ListStale(ctx context.Context) ([]models.JournalEntry, error)
	PatchByID(ctx context.Context, id string, mut journal.Mutator) error
}

// InFlight reports submissions whose pipeline is still running. Those are
// left alone so the pipeline and the engine never write the same row at
// once.
type InFlight interface {
	InFlight(id string) bool
}

type Handler struct {
	config   *Config
	journal  Journal
	table    remote.Table
	inFlight InFlight
	boundary *errors.BoundaryHandler
	logger   logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewHandler creates the engine. inFlight may be nil.
func NewHandler(config *Config, j Journal, table remote.Table, inFlight InFlight, log logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		journal:  j,
		table:    table,
		inFlight: inFlight,
		boundary: errors.NewBoundaryHandler(log, func(step string, code errors.ErrorCode) {
			metrics.PipelineStepFailures.WithLabelValues(step, string(code)).Inc()
		}),
		logger: log,
		sleep:  sleepContext,
	}
}

// Execute runs one reconciliation pass. Per-row failures are persisted on
// the entry and counted; only failures that prevent the pass as a whole
// (journal unreadable, remote id scan failed) are returned.
func (h *Handler) Execute(ctx context.Context) (*Output, error) {
	start := time.Now()
	out := &Output{}
	defer func() { out.Duration = time.Since(start) }()

	unsynced, err := h.journal.ListUnsynced(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return out, fmt.Errorf("list unsynced: %w", err)
	}
	stale, err := h.journal.ListStale(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return out, fmt.Errorf("list stale: %w", err)
	}
	out.Unsynced = len(unsynced)
	out.Stale = len(stale)
	if len(unsynced) == 0 && len(stale) == 0 {
		metrics.SyncRuns.WithLabelValues("noop").Inc()
		h.logger.Debug("nothing to reconcile", nil)
		return out, nil
	}

	// The scan is the only guard against writing a row twice, so it runs
	// on every pass regardless of the local flags.
	existing, err := h.existingIDs(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return out, fmt.Errorf("scan remote ids: %w", err)
	}

	var missing []models.JournalEntry
	for _, entry := range unsynced {
		if _, ok := existing[entry.ID]; ok {
			h.markSynced(ctx, entry.ID, out)
			continue
		}
		missing = append(missing, entry)
	}

	for _, entry := range missing {
		if ctx.Err() != nil {
			break
		}
		if h.inFlight != nil && h.inFlight.InFlight(entry.ID) {
			out.Skipped++
			metrics.SyncRows.WithLabelValues("skipped").Inc()
			continue
		}
		retries, err := h.push(ctx, entry)
		out.Retries += retries
		if err != nil {
			out.Failed++
			metrics.SyncRows.WithLabelValues("failed").Inc()
			stdErr := h.boundary.Handle(ctx, entry.ID, TaskType, err)
			h.recordError(ctx, entry.ID, stdErr)
			continue
		}
		out.Pushed++
		metrics.SyncRows.WithLabelValues("pushed").Inc()
		if err := h.journal.PatchByID(ctx, entry.ID, func(r *models.SubmissionRecord) {
			r.RemoteSynced = true
			r.RemoteError = ""
		}); err != nil {
			// Next pass sees the row in the scan and heals the flag.
			h.boundary.Handle(ctx, entry.ID, TaskType, err)
		}
	}

	for _, entry := range stale {
		if ctx.Err() != nil {
			break
		}
		if h.inFlight != nil && h.inFlight.InFlight(entry.ID) {
			out.Skipped++
			metrics.SyncRows.WithLabelValues("skipped").Inc()
			continue
		}
		h.repairCells(ctx, entry, existing, out)
	}

	outcome := "success"
	if out.Failed > 0 {
		outcome = "partial"
	}
	metrics.SyncRuns.WithLabelValues(outcome).Inc()

	h.logger.Info("reconciliation finished", map[string]interface{}{
		"unsynced":      out.Unsynced,
		"stale":         out.Stale,
		"alreadyRemote": out.AlreadyRemote,
		"pushed":        out.Pushed,
		"failed":        out.Failed,
		"skipped":       out.Skipped,
		"retries":       out.Retries,
		"cellsRepaired": out.CellsRepaired,
	})
	return out, nil
}

// repairCells brings the attachment cells of a synced row up to the
// journal's status. A row that vanished from the table is written again
// from the journal, which already carries the final status.
func (h *Handler) repairCells(ctx context.Context, entry models.JournalEntry, existing map[string]struct{}, out *Output) {
	var err error
	if _, ok := existing[entry.ID]; ok {
		callCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
		cells := remote.AttachmentCells(entry.AttachmentStatus, entry.AttachmentError)
		if uerr := h.table.UpdateCells(callCtx, h.config.Table, h.config.IDColumn, entry.ID, cells); uerr != nil {
			err = errors.NewRemoteError("update cells", uerr)
		}
		cancel()
	} else {
		var retries int
		retries, err = h.push(ctx, entry)
		out.Retries += retries
	}
	if err != nil {
		out.Failed++
		metrics.SyncRows.WithLabelValues("failed").Inc()
		stdErr := h.boundary.Handle(ctx, entry.ID, TaskType, err)
		h.recordError(ctx, entry.ID, stdErr)
		return
	}

	status := entry.AttachmentStatus
	if perr := h.journal.PatchByID(ctx, entry.ID, func(r *models.SubmissionRecord) {
		// A newer status landed meanwhile; leave the flag for the next pass.
		if r.AttachmentStatus != status {
			return
		}
		r.RemoteCellsStale = false
		r.RemoteError = ""
	}); perr != nil {
		h.boundary.Handle(ctx, entry.ID, TaskType, perr)
		return
	}
	out.CellsRepaired++
	metrics.SyncRows.WithLabelValues("cells_repaired").Inc()
	h.logger.Info("remote attachment cells repaired", map[string]interface{}{
		"submissionId":     entry.ID,
		"step":             TaskType,
		"attachmentStatus": string(status),
	})
}

func (h *Handler) existingIDs(ctx context.Context) (map[string]struct{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	defer cancel()
	ids, err := h.table.ExistingIDs(callCtx, h.config.Table, h.config.IDColumn)
	if err != nil {
		return nil, errors.NewRemoteError("scan ids", err)
	}
	return ids, nil
}

func (h *Handler) markSynced(ctx context.Context, id string, out *Output) {
	err := h.journal.PatchByID(ctx, id, func(r *models.SubmissionRecord) {
		r.RemoteSynced = true
		r.RemoteError = ""
	})
	if err != nil {
		h.boundary.Handle(ctx, id, TaskType, err)
		return
	}
	out.AlreadyRemote++
	metrics.SyncRows.WithLabelValues("already_remote").Inc()
	h.logger.Info("row already remote, marked synced", map[string]interface{}{
		"submissionId": id,
		"step":         TaskType,
	})
}

// push writes the entry's row. Locked errors are retried up to MaxRetries
// times, waiting k * BackoffUnit before retry k; any other error ends the
// attempt for this pass.
func (h *Handler) push(ctx context.Context, entry models.JournalEntry) (int, error) {
	row := remote.RowFromRecord(entry.SubmissionRecord)
	for attempt := 0; ; attempt++ {
		err := h.appendRow(ctx, row)
		if err == nil {
			return attempt, nil
		}
		if !errors.IsLocked(err) || attempt >= h.config.MaxRetries {
			return attempt, err
		}

		wait := time.Duration(attempt+1) * h.config.BackoffUnit
		h.logger.Warn("remote table locked, retrying", map[string]interface{}{
			"submissionId": entry.ID,
			"step":         TaskType,
			"attempt":      attempt + 1,
			"maxRetries":   h.config.MaxRetries,
			"waitMs":       wait.Milliseconds(),
		})
		if serr := h.sleep(ctx, wait); serr != nil {
			return attempt, err
		}
	}
}

func (h *Handler) appendRow(ctx context.Context, row remote.Row) error {
	callCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	defer cancel()
	if err := h.table.AppendRow(callCtx, h.config.Table, row); err != nil {
		return errors.NewRemoteError("append row", err)
	}
	return nil
}

func (h *Handler) recordError(ctx context.Context, id string, err error) {
	msg := errors.Message(err)
	if perr := h.journal.PatchByID(ctx, id, func(r *models.SubmissionRecord) {
		r.RemoteError = msg
	}); perr != nil {
		h.logger.Warn("could not record sync error", map[string]interface{}{
			"submissionId": id,
			"step":         TaskType,
			"error":        perr.Error(),
		})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
