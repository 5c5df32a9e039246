package sendconfirmation

import "submission-sync/internal/models"

type Input struct {
	Record    models.SubmissionRecord
	Succeeded int
}

type Output struct {
	Sent       bool   `json:"sent"`
	Recipient  string `json:"recipient,omitempty"`
	Subject    string `json:"subject,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
}
