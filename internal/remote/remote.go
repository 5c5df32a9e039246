// Package remote defines the capabilities of the authoritative remote store
// and the adapters that implement them.
package remote

import (
	"context"
	"io"
	"strconv"
	"time"

	"submission-sync/internal/models"
)

// Column names of the remote submissions table.
const (
	ColumnRequestID        = "Request_ID"
	ColumnTimestamp        = "Timestamp"
	ColumnHasAttachment    = "Has_Attachment"
	ColumnAttachmentStatus = "Attachment_Status"
	ColumnAttachmentError  = "Attachment_Error"
)

// Table is a row-oriented remote table addressed by named columns.
type Table interface {
	AppendRow(ctx context.Context, table string, row Row) error
	ExistingIDs(ctx context.Context, table, idColumn string) (map[string]struct{}, error)
	UpdateCells(ctx context.Context, table, idColumn, id string, cells map[string]string) error
}

// FileHandle identifies one stored remote file.
type FileHandle struct {
	Folder    string    `json:"folder"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileStore is the remote attachment area.
type FileStore interface {
	Upload(ctx context.Context, folder, name string, content io.Reader, size int64) (FileHandle, error)
	ListOlderThan(ctx context.Context, folder string, age time.Duration) ([]FileHandle, error)
	Delete(ctx context.Context, file FileHandle) (bool, error)
}

// TokenProvider hands out credentials for remote calls.
type TokenProvider interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// Notifier delivers a best-effort message.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Row is an ordered list of named cells.
type Row struct {
	Columns []string
	Values  []string
}

// Get returns the value of column.
func (r Row) Get(column string) (string, bool) {
	for i, c := range r.Columns {
		if c == column && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return "", false
}

// Map returns the row as column -> value.
func (r Row) Map() map[string]string {
	out := make(map[string]string, len(r.Columns))
	for i, c := range r.Columns {
		if i < len(r.Values) {
			out[c] = r.Values[i]
		}
	}
	return out
}

// RowFromRecord lays out a record as
// Request_ID, Timestamp, <fields...>, Has_Attachment, Attachment_Status, Attachment_Error.
func RowFromRecord(rec models.SubmissionRecord) Row {
	row := Row{
		Columns: []string{ColumnRequestID, ColumnTimestamp},
		Values:  []string{rec.ID, rec.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	for _, f := range rec.Fields {
		row.Columns = append(row.Columns, f.Name)
		row.Values = append(row.Values, f.Value)
	}
	hasAttachment := "No"
	if rec.AttachmentStatus != models.AttachmentNone && rec.AttachmentStatus != "" {
		hasAttachment = "Yes"
	}
	row.Columns = append(row.Columns, ColumnHasAttachment, ColumnAttachmentStatus, ColumnAttachmentError)
	row.Values = append(row.Values, hasAttachment, string(rec.AttachmentStatus), rec.AttachmentError)
	return row
}

// AttachmentCells is the named-cell update applied once uploads finish.
func AttachmentCells(status models.AttachmentStatus, errText string) map[string]string {
	return map[string]string{
		ColumnAttachmentStatus: string(status),
		ColumnAttachmentError:  errText,
	}
}

// AttachmentName is the deterministic remote name of the n-th (1-based)
// attachment of a submission.
func AttachmentName(submissionID string, n int, ext string) string {
	return "attachment_" + submissionID + "_" + strconv.Itoa(n) + ext
}
