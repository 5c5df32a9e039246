package processsubmission

import (
	"time"

	"submission-sync/internal/models"
)

// State is the position of one submission in the pipeline.
type State string

const (
	StateReceived        State = "Received"
	StateJournalWritten  State = "JournalWritten"
	StateRemotePending   State = "RemotePending"
	StateAttachmentsDone State = "AttachmentsDone"
	StateFinalized       State = "Finalized"
)

// Step names, as they appear in logs, spans and failure metrics.
const (
	StepWriteRow          = "write-remote-row"
	StepUploadAttachments = "upload-attachments"
	StepUpdateStatus      = "update-status"
	StepNotify            = "send-confirmation"
)

type Input struct {
	Entry       models.JournalEntry
	Attachments []models.Attachment
}

type Output struct {
	SubmissionID     string                  `json:"submissionId"`
	State            State                   `json:"state"`
	RemoteWritten    bool                    `json:"remoteWritten"`
	AttachmentStatus models.AttachmentStatus `json:"attachmentStatus"`
	AttachmentError  string                  `json:"attachmentError,omitempty"`
	Succeeded        int                     `json:"succeeded"`
	NotificationSent bool                    `json:"notificationSent"`
	FailedSteps      []string                `json:"failedSteps,omitempty"`
	Duration         time.Duration           `json:"duration"`
}
