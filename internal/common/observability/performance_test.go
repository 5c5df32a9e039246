package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformance_Stats(t *testing.T) {
	p := NewPerformance(10)
	p.AddUpload(UploadObservation{SubmissionID: "REQ-1", Filename: "a.pdf", Size: 100, Duration: 10 * time.Millisecond, Success: true})
	p.AddUpload(UploadObservation{SubmissionID: "REQ-1", Filename: "b.pdf", Size: 300, Duration: 30 * time.Millisecond, Error: "quota"})
	p.AddSubmission(SubmissionObservation{SubmissionID: "REQ-1", Attachments: 2, Duration: 50 * time.Millisecond, Success: true})

	stats := p.Stats()

	assert.Equal(t, 2, stats.Uploads.Total)
	assert.Equal(t, 1, stats.Uploads.Successful)
	assert.Equal(t, 1, stats.Uploads.Failed)
	assert.InDelta(t, 50.0, stats.Uploads.SuccessRate, 0.001)
	assert.InDelta(t, 20.0, stats.Uploads.AvgDurationMs, 0.001)
	assert.InDelta(t, 10.0, stats.Uploads.MinDurationMs, 0.001)
	assert.InDelta(t, 30.0, stats.Uploads.MaxDurationMs, 0.001)
	assert.InDelta(t, 200.0, stats.Uploads.AvgSizeBytes, 0.001)
	assert.Equal(t, int64(400), stats.Uploads.TotalSizeBytes)

	assert.Equal(t, 1, stats.Submissions.Total)
	assert.InDelta(t, 100.0, stats.Submissions.SuccessRate, 0.001)
	require.Len(t, stats.RecentUploads, 2)
	assert.Equal(t, "quota", stats.RecentUploads[1].Error)
}

func TestPerformance_BoundedHistory(t *testing.T) {
	p := NewPerformance(30)
	for i := 0; i < 45; i++ {
		p.AddSubmission(SubmissionObservation{SubmissionID: fmt.Sprintf("REQ-%d", i), Success: true})
	}

	stats := p.Stats()
	assert.Equal(t, 30, stats.Submissions.Total)
	require.Len(t, stats.RecentSubmissions, 20)
	assert.Equal(t, "REQ-25", stats.RecentSubmissions[0].SubmissionID)
	assert.Equal(t, "REQ-44", stats.RecentSubmissions[19].SubmissionID)
}

func TestPerformance_ResetAndEmpty(t *testing.T) {
	p := NewPerformance(0)
	p.AddUpload(UploadObservation{Success: true})
	p.Reset()

	stats := p.Stats()
	assert.Zero(t, stats.Uploads.Total)
	assert.Zero(t, stats.Uploads.SuccessRate)
	assert.NotNil(t, stats.RecentUploads)
	assert.NotNil(t, stats.RecentSubmissions)
}

func TestObservability_RecordFeedsPerformance(t *testing.T) {
	obs := New("test", prometheus.NewRegistry())
	defer obs.Shutdown()

	obs.RecordUpload(context.Background(), UploadObservation{SubmissionID: "REQ-1", Size: 5, Success: true})
	obs.RecordSubmission(context.Background(), SubmissionObservation{SubmissionID: "REQ-1", Success: false, Error: "failed steps"})

	stats := obs.Performance().Stats()
	assert.Equal(t, 1, stats.Uploads.Total)
	assert.Equal(t, 1, stats.Submissions.Failed)
	assert.NotNil(t, obs.Tracer())
}
