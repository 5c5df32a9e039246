package uploadattachments

import "submission-sync/internal/models"

type Input struct {
	SubmissionID string
	Attachments  []models.Attachment
}

type Output struct {
	Outcomes  []models.UploadOutcome  `json:"outcomes"`
	Status    models.AttachmentStatus `json:"status"`
	Error     string                  `json:"error,omitempty"`
	Succeeded int                     `json:"succeeded"`
}
