package sendconfirmation

import (
	"fmt"
	"strings"

	"submission-sync/internal/models"
)

// Compose renders the confirmation subject and plain-text body for rec.
// succeeded is the number of attachments that reached the file store.
func Compose(subjectTemplate string, rec models.SubmissionRecord, succeeded int) (string, string) {
	if subjectTemplate == "" {
		subjectTemplate = DefaultSubjectTemplate
	}
	subject := renderTemplate(subjectTemplate, map[string]string{
		"request_id": rec.ID,
		"timestamp":  rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	})

	var b strings.Builder
	b.WriteString("Your submission has been received.\n\n")
	fmt.Fprintf(&b, "Request ID: %s\n", rec.ID)
	fmt.Fprintf(&b, "Submitted at: %s UTC\n\n", rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	for _, f := range rec.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	fmt.Fprintf(&b, "\nAttachments: %s\n", AttachmentLine(rec.AttachmentStatus, rec.AttachmentError, succeeded))
	return subject, b.String()
}

// AttachmentLine describes the attachment outcome in one line.
func AttachmentLine(status models.AttachmentStatus, errText string, succeeded int) string {
	switch status {
	case models.AttachmentSaved:
		line := fmt.Sprintf("Successfully saved (%d file(s))", succeeded)
		if errText != "" {
			line += "; some files failed: " + errText
		}
		return line
	case models.AttachmentFailed:
		if errText == "" {
			errText = "unknown error"
		}
		return "Upload failed: " + errText
	case models.AttachmentProcessing:
		return "Processing"
	default:
		return "No attachments"
	}
}

// ParseRecipients splits an address list separated by ';' or ','.
func ParseRecipients(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func renderTemplate(tmpl string, data map[string]string) string {
	result := tmpl
	for key, value := range data {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
		result = strings.ReplaceAll(result, "{"+key+"}", value)
	}
	return result
}
