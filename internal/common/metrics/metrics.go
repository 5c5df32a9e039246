// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_accepted_total",
			Help: "Total number of submissions accepted at intake",
		},
		[]string{"has_attachments"},
	)

	SubmissionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "submissions_rejected_total",
			Help: "Total number of submissions rejected by validation",
		},
	)

	PipelineStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_step_failures_total",
			Help: "Total number of failed pipeline or job steps",
		},
		[]string{"step", "error_code"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_duration_seconds",
			Help: "Duration of a submission pipeline run in seconds",
		},
		[]string{"attachment_status"},
	)

	PipelinesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipelines_active",
			Help: "Number of submission pipelines currently running",
		},
	)

	AttachmentUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachment_uploads_total",
			Help: "Total number of attachment uploads by outcome",
		},
		[]string{"outcome"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)

	SyncRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rows_total",
			Help: "Rows handled by reconciliation, by resolution",
		},
		[]string{"resolution"},
	)

	SweepFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_sweep_files_total",
			Help: "Remote files handled by the retention sweep",
		},
		[]string{"outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "job_duration_seconds",
			Help: "Duration of periodic job runs in seconds",
		},
		[]string{"job"},
	)

	JournalEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "journal_entries",
			Help: "Number of journal entries by sync state",
		},
		[]string{"synced"},
	)
)
