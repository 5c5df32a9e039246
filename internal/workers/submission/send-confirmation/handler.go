package sendconfirmation

import (
	"context"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/remote"
)

const TaskType = "send-confirmation"

type Handler struct {
	config   *Config
	notifier remote.Notifier
	logger   logger.Logger
}

// NewHandler creates the confirmation step. A nil notifier disables it.
func NewHandler(config *Config, notifier remote.Notifier, log logger.Logger) *Handler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Handler{
		config:   config,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Execute renders and sends the confirmation for one finished submission.
// A missing recipient or disabled notifier is a skip, not an error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	rec := input.Record
	if h.notifier == nil {
		return &Output{SkipReason: "notifications disabled"}, nil
	}
	recipient := rec.Fields.Value(h.config.RecipientField)
	if len(ParseRecipients(recipient)) == 0 {
		h.logger.Warn("recipient not found", map[string]interface{}{
			"submissionId": rec.ID,
			"field":        h.config.RecipientField,
		})
		return &Output{SkipReason: "no recipient"}, nil
	}

	subject, body := Compose(h.config.SubjectTemplate, rec, input.Succeeded)

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	if err := h.notifier.Send(ctx, recipient, subject, body); err != nil {
		return nil, errors.NewNotificationSendFailedError("confirmation", err)
	}

	h.logger.Info("confirmation sent", map[string]interface{}{
		"submissionId": rec.ID,
		"recipient":    recipient,
	})
	return &Output{Sent: true, Recipient: recipient, Subject: subject}, nil
}
