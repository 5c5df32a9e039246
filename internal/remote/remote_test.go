package remote

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowFromRecord_NamedColumns(t *testing.T) {
	rec := models.SubmissionRecord{
		ID: "REQ-20260101-101500-abcdef01",
		Fields: models.Fields{
			{Name: "deliveryNoteNumber", Value: "DN-1"},
			{Name: "email", Value: "a@b.co"},
		},
		AttachmentStatus: models.AttachmentProcessing,
		CreatedAt:        time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC),
	}

	row := RowFromRecord(rec)

	assert.Equal(t, []string{
		ColumnRequestID, ColumnTimestamp, "deliveryNoteNumber", "email",
		ColumnHasAttachment, ColumnAttachmentStatus, ColumnAttachmentError,
	}, row.Columns)
	assert.Equal(t, []string{
		rec.ID, "2026-01-01 10:15:00", "DN-1", "a@b.co", "Yes", "Processing", "",
	}, row.Values)

	rec.AttachmentStatus = models.AttachmentNone
	v, ok := RowFromRecord(rec).Get(ColumnHasAttachment)
	require.True(t, ok)
	assert.Equal(t, "No", v)
}

func TestAttachmentName(t *testing.T) {
	assert.Equal(t, "attachment_REQ-1_2.pdf", AttachmentName("REQ-1", 2, ".pdf"))
	assert.Equal(t, "attachment_REQ-1_10", AttachmentName("REQ-1", 10, ""))
}

func TestMemoryTable_AppendUpdateAndFailures(t *testing.T) {
	table := NewMemoryTable()
	ctx := context.Background()
	row := Row{Columns: []string{ColumnRequestID, ColumnAttachmentStatus, ColumnAttachmentError}, Values: []string{"REQ-1", "Processing", ""}}

	table.FailAppends(errors.ErrLocked, nil)
	err := table.AppendRow(ctx, "t", row)
	assert.True(t, errors.IsLocked(err))
	require.NoError(t, table.AppendRow(ctx, "t", row))
	assert.Equal(t, 2, table.AppendCalls())

	ids, err := table.ExistingIDs(ctx, "t", ColumnRequestID)
	require.NoError(t, err)
	assert.Contains(t, ids, "REQ-1")

	require.NoError(t, table.UpdateCells(ctx, "t", ColumnRequestID, "REQ-1", AttachmentCells(models.AttachmentSaved, "")))
	v, _ := table.Rows("t")[0].Get(ColumnAttachmentStatus)
	assert.Equal(t, "Saved", v)

	err = table.UpdateCells(ctx, "t", ColumnRequestID, "REQ-2", AttachmentCells(models.AttachmentSaved, ""))
	assert.True(t, stderrors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 1, table.CountID("t", ColumnRequestID, "REQ-1"))
}

func TestMemoryFileStore_ListOlderThan(t *testing.T) {
	store := NewMemoryFileStore()
	now := time.Now()
	store.Put(FileHandle{Folder: "attachments", Name: "old", CreatedAt: now.AddDate(0, 0, -91)}, []byte("x"))
	store.Put(FileHandle{Folder: "attachments", Name: "new", CreatedAt: now.AddDate(0, 0, -1)}, []byte("y"))
	_, err := store.Upload(context.Background(), "attachments", "fresh", bytes.NewReader([]byte("z")), 1)
	require.NoError(t, err)

	files, err := store.ListOlderThan(context.Background(), "attachments", 90*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "old", files[0].Name)
	assert.Equal(t, []string{"fresh", "new", "old"}, store.Names("attachments"))
}
