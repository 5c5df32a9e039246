package processsubmission

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"submission-sync/internal/common/errors"
	"submission-sync/internal/common/logger"
	"submission-sync/internal/common/observability"
	"submission-sync/internal/journal"
	"submission-sync/internal/models"
	"submission-sync/internal/remote"
	sendconfirmation "submission-sync/internal/workers/submission/send-confirmation"
	uploadattachments "submission-sync/internal/workers/submission/upload-attachments"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ==========================
// Test Helper Functions
// ==========================

type sentMessage struct {
	recipient, subject, body string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, recipient, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{recipient, subject, body})
	return nil
}

type panickingUploader struct{}

func (panickingUploader) UploadAll(context.Context, string, []models.Attachment) []models.UploadOutcome {
	panic("scratch volume vanished")
}

type fixture struct {
	store    *journal.Store
	table    *remote.MemoryTable
	files    *remote.MemoryFileStore
	notifier *fakeNotifier
	spans    *tracetest.SpanRecorder
	obs      *observability.Observability
	handler  *Handler
}

func newFixture(t *testing.T, uploader Uploader) *fixture {
	t.Helper()
	store, err := journal.Open(context.Background(), journal.NewMemoryBackend(), logger.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:    store,
		table:    remote.NewMemoryTable(),
		files:    remote.NewMemoryFileStore(),
		notifier: &fakeNotifier{},
		spans:    tracetest.NewSpanRecorder(),
	}
	f.obs = observability.New("test", prometheus.NewRegistry())
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))

	if uploader == nil {
		uploadCfg := uploadattachments.DefaultConfig()
		uploadCfg.ScratchDir = t.TempDir()
		uploader = uploadattachments.NewHandler(uploadCfg, f.files, f.obs, logger.NewNoOpLogger())
	}

	f.handler = NewHandler(DefaultConfig(), Dependencies{
		Journal:   store,
		Table:     f.table,
		Uploader:  uploader,
		Confirmer: sendconfirmation.NewHandler(sendconfirmation.DefaultConfig(), f.notifier, logger.NewNoOpLogger()),
		Recorder:  f.obs,
		Tracer:    tp.Tracer("test"),
		Logger:    logger.NewTestLogger(t),
	})
	return f
}

func (f *fixture) intake(t *testing.T, attachments []models.Attachment) *Input {
	t.Helper()
	status := models.AttachmentNone
	if len(attachments) > 0 {
		status = models.AttachmentProcessing
	}
	entry, err := f.store.Append(context.Background(), models.Fields{
		{Name: "deliveryNoteNumber", Value: "DN-7"},
		{Name: "email", Value: "driver@example.com"},
	}, status)
	require.NoError(t, err)
	return &Input{Entry: entry, Attachments: attachments}
}

func (f *fixture) spanNames() []string {
	var names []string
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func (f *fixture) span(name string) sdktrace.ReadOnlySpan {
	for _, s := range f.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func threeAttachments() []models.Attachment {
	return []models.Attachment{
		{Filename: "note.pdf", Content: []byte("1")},
		{Filename: "plate.jpg", Content: []byte("22")},
		{Filename: "cmr.png", Content: []byte("333")},
	}
}

// ==========================
// Pipeline Tests
// ==========================

func TestHandler_PartialAttachmentFailure(t *testing.T) {
	f := newFixture(t, nil)
	input := f.intake(t, threeAttachments())
	id := input.Entry.ID
	f.files.FailUpload(remote.AttachmentName(id, 2, ".jpg"), stderrors.New("quota exceeded"))

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, out.State)
	assert.True(t, out.RemoteWritten)
	assert.Equal(t, models.AttachmentSaved, out.AttachmentStatus)
	assert.Equal(t, 2, out.Succeeded)
	assert.Empty(t, out.FailedSteps)
	assert.True(t, out.NotificationSent)

	entry, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AttachmentSaved, entry.AttachmentStatus)
	assert.Contains(t, entry.AttachmentError, "plate.jpg")
	assert.NotContains(t, entry.AttachmentError, "note.pdf")
	assert.NotContains(t, entry.AttachmentError, "cmr.png")
	assert.True(t, entry.RemoteSynced)

	assert.Equal(t, []string{
		remote.AttachmentName(id, 1, ".pdf"),
		remote.AttachmentName(id, 3, ".png"),
	}, f.files.Names("attachments"))

	rows := f.table.Rows("submissions")
	require.Len(t, rows, 1)
	status, _ := rows[0].Get(remote.ColumnAttachmentStatus)
	assert.Equal(t, "Saved", status)
	errText, _ := rows[0].Get(remote.ColumnAttachmentError)
	assert.Contains(t, errText, "plate.jpg")

	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].body, "Successfully saved (2 file(s))")

	assert.ElementsMatch(t, []string{TaskType, StepWriteRow, StepUploadAttachments, StepUpdateStatus, StepNotify}, f.spanNames())

	stats := f.obs.Performance().Stats()
	assert.Equal(t, 3, stats.Uploads.Total)
	assert.Equal(t, 1, stats.Uploads.Failed)
	assert.Equal(t, 1, stats.Submissions.Successful)
}

func TestHandler_RemoteRowFailureDoesNotBlockAttachments(t *testing.T) {
	f := newFixture(t, nil)
	f.table.FailAppends(stderrors.New("The file is locked for editing by another user"))
	input := f.intake(t, threeAttachments()[:1])

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.False(t, out.RemoteWritten)
	assert.Equal(t, []string{StepWriteRow}, out.FailedSteps)
	assert.Equal(t, models.AttachmentSaved, out.AttachmentStatus)
	assert.Equal(t, 0, f.table.UpdateCalls())

	entry, err := f.store.Get(context.Background(), input.Entry.ID)
	require.NoError(t, err)
	assert.False(t, entry.RemoteSynced)
	assert.Contains(t, entry.RemoteError, string(errors.ErrCodeRemoteLocked))
	assert.Equal(t, models.AttachmentSaved, entry.AttachmentStatus)

	span := f.span(StepWriteRow)
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, string(errors.ErrCodeRemoteLocked), span.Status().Description)
}

func TestHandler_CellUpdateFailureMarksEntryStale(t *testing.T) {
	f := newFixture(t, nil)
	f.table.FailUpdates(stderrors.New("status 503 service unavailable"))
	input := f.intake(t, threeAttachments())

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, out.RemoteWritten)
	assert.Contains(t, out.FailedSteps, StepUpdateStatus)

	entry, err := f.store.Get(context.Background(), input.Entry.ID)
	require.NoError(t, err)
	assert.True(t, entry.RemoteSynced)
	assert.True(t, entry.RemoteCellsStale)
	assert.Equal(t, models.AttachmentSaved, entry.AttachmentStatus)
	assert.Contains(t, entry.RemoteError, string(errors.ErrCodeRemoteTransient))

	stale, err := f.store.ListStale(context.Background())
	require.NoError(t, err)
	require.Len(t, stale, 1)

	rows := f.table.Rows("submissions")
	require.Len(t, rows, 1)
	status, _ := rows[0].Get(remote.ColumnAttachmentStatus)
	assert.Equal(t, "Processing", status)
}

func TestHandler_CellUpdateSuccessClearsStaleFlag(t *testing.T) {
	f := newFixture(t, nil)
	input := f.intake(t, threeAttachments())

	_, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	entry, err := f.store.Get(context.Background(), input.Entry.ID)
	require.NoError(t, err)
	assert.False(t, entry.RemoteCellsStale)
	assert.Empty(t, entry.RemoteError)
}

func TestHandler_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.err = stderrors.New("smtp relay down")
	input := f.intake(t, nil)

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, out.State)
	assert.Equal(t, []string{StepNotify}, out.FailedSteps)
	assert.True(t, out.RemoteWritten)
	assert.False(t, out.NotificationSent)
}

func TestHandler_NoAttachmentsSkipsUploadSteps(t *testing.T) {
	f := newFixture(t, nil)
	input := f.intake(t, nil)

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, models.AttachmentNone, out.AttachmentStatus)
	assert.NotContains(t, f.spanNames(), StepUploadAttachments)
	assert.NotContains(t, f.spanNames(), StepUpdateStatus)
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].body, "No attachments")
}

func TestHandler_PanicInStepIsContained(t *testing.T) {
	f := newFixture(t, panickingUploader{})
	input := f.intake(t, threeAttachments())

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Contains(t, out.FailedSteps, StepUploadAttachments)
	assert.Equal(t, models.AttachmentFailed, out.AttachmentStatus)
	assert.Equal(t, StateFinalized, out.State)

	entry, err := f.store.Get(context.Background(), input.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttachmentFailed, entry.AttachmentStatus)
	assert.Contains(t, entry.AttachmentError, "scratch volume vanished")
}

func TestHandler_RejectsEmptyInput(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.handler.Execute(context.Background(), &Input{})
	assert.Error(t, err)
}

func TestHandler_RemoteCallTimeoutIsFailure(t *testing.T) {
	f := newFixture(t, nil)
	cfg := DefaultConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	f.handler.config = cfg
	f.handler.table = slowTable{MemoryTable: f.table}
	input := f.intake(t, nil)

	out, err := f.handler.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, out.RemoteWritten)
	assert.Contains(t, out.FailedSteps, StepWriteRow)
}

type slowTable struct {
	*remote.MemoryTable
}

func (s slowTable) AppendRow(ctx context.Context, table string, row remote.Row) error {
	<-ctx.Done()
	return ctx.Err()
}
