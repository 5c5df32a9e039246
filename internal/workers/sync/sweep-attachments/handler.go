package sweepattachments

import (
	"context"
	"fmt"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/metrics"
	"submission-sync/internal/remote"
)

const TaskType = "sweep-attachments"

type Output struct {
	Expired  int           `json:"expired"`
	Deleted  int           `json:"deleted"`
	Missing  int           `json:"missing"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Handler deletes remote attachments past the retention window. It only
// looks at the file store's own timestamps and never touches the journal.
type Handler struct {
	config *Config
	store  remote.FileStore
	logger logger.Logger
}

func NewHandler(config *Config, store remote.FileStore, log logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{
		config: config,
		store:  store,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Execute(ctx context.Context) (*Output, error) {
	start := time.Now()
	out := &Output{}

	listCtx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	files, err := h.store.ListOlderThan(listCtx, h.config.Folder, h.config.Retention())
	cancel()
	if err != nil {
		return out, fmt.Errorf("list %s: %w", h.config.Folder, err)
	}
	out.Expired = len(files)

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		deleted, err := h.delete(ctx, file)
		switch {
		case err != nil:
			out.Failed++
			metrics.SweepFiles.WithLabelValues("failed").Inc()
			h.logger.Warn("attachment delete failed", map[string]interface{}{
				"file":      file.Name,
				"createdAt": file.CreatedAt,
				"errorCode": string(errors.Classify(err)),
				"error":     err.Error(),
			})
		case deleted:
			out.Deleted++
			metrics.SweepFiles.WithLabelValues("deleted").Inc()
		default:
			out.Missing++
			metrics.SweepFiles.WithLabelValues("missing").Inc()
		}
	}

	out.Duration = time.Since(start)
	h.logger.Info("retention sweep finished", map[string]interface{}{
		"folder":        h.config.Folder,
		"retentionDays": h.config.RetentionDays,
		"expired":       out.Expired,
		"deleted":       out.Deleted,
		"failed":        out.Failed,
	})
	return out, nil
}

func (h *Handler) delete(ctx context.Context, file remote.FileHandle) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.CallTimeout)
	defer cancel()
	return h.store.Delete(ctx, file)
}
