package observability

import (
	"sync"
	"time"
)

const (
	DefaultHistory = 100
	recentWindow   = 20
)

// Performance keeps a bounded history of recent submissions and uploads.
type Performance struct {
	mu          sync.Mutex
	capacity    int
	submissions []SubmissionObservation
	uploads     []UploadObservation
}

func NewPerformance(capacity int) *Performance {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Performance{capacity: capacity}
}

// Summary aggregates one kind of observation.
type Summary struct {
	Total          int     `json:"total"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	MinDurationMs  float64 `json:"min_duration_ms"`
	MaxDurationMs  float64 `json:"max_duration_ms"`
	AvgSizeBytes   float64 `json:"avg_size_bytes,omitempty"`
	TotalSizeBytes int64   `json:"total_size_bytes,omitempty"`
}

type RecentSubmission struct {
	SubmissionID string  `json:"submission_id"`
	Attachments  int     `json:"attachments"`
	DurationMs   float64 `json:"duration_ms"`
	Success      bool    `json:"success"`
	Error        string  `json:"error,omitempty"`
}

type RecentUpload struct {
	SubmissionID string  `json:"submission_id"`
	Filename     string  `json:"filename"`
	SizeBytes    int64   `json:"size_bytes"`
	DurationMs   float64 `json:"duration_ms"`
	Success      bool    `json:"success"`
	Error        string  `json:"error,omitempty"`
}

type Stats struct {
	Submissions       Summary            `json:"submissions"`
	Uploads           Summary            `json:"uploads"`
	RecentSubmissions []RecentSubmission `json:"recent_submissions"`
	RecentUploads     []RecentUpload     `json:"recent_uploads"`
}

func (p *Performance) AddSubmission(obs SubmissionObservation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submissions = append(p.submissions, obs)
	if len(p.submissions) > p.capacity {
		p.submissions = p.submissions[len(p.submissions)-p.capacity:]
	}
}

func (p *Performance) AddUpload(obs UploadObservation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, obs)
	if len(p.uploads) > p.capacity {
		p.uploads = p.uploads[len(p.uploads)-p.capacity:]
	}
}

func (p *Performance) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		RecentSubmissions: []RecentSubmission{},
		RecentUploads:     []RecentUpload{},
	}

	durations := make([]time.Duration, 0, len(p.submissions))
	for _, s := range p.submissions {
		durations = append(durations, s.Duration)
		if s.Success {
			stats.Submissions.Successful++
		}
	}
	stats.Submissions.Total = len(p.submissions)
	stats.Submissions.Failed = stats.Submissions.Total - stats.Submissions.Successful
	fillDurations(&stats.Submissions, durations)

	durations = durations[:0]
	for _, u := range p.uploads {
		durations = append(durations, u.Duration)
		stats.Uploads.TotalSizeBytes += u.Size
		if u.Success {
			stats.Uploads.Successful++
		}
	}
	stats.Uploads.Total = len(p.uploads)
	stats.Uploads.Failed = stats.Uploads.Total - stats.Uploads.Successful
	fillDurations(&stats.Uploads, durations)
	if stats.Uploads.Total > 0 {
		stats.Uploads.AvgSizeBytes = float64(stats.Uploads.TotalSizeBytes) / float64(stats.Uploads.Total)
	}

	for _, s := range tail(p.submissions, recentWindow) {
		stats.RecentSubmissions = append(stats.RecentSubmissions, RecentSubmission{
			SubmissionID: s.SubmissionID,
			Attachments:  s.Attachments,
			DurationMs:   ms(s.Duration),
			Success:      s.Success,
			Error:        s.Error,
		})
	}
	for _, u := range tail(p.uploads, recentWindow) {
		stats.RecentUploads = append(stats.RecentUploads, RecentUpload{
			SubmissionID: u.SubmissionID,
			Filename:     u.Filename,
			SizeBytes:    u.Size,
			DurationMs:   ms(u.Duration),
			Success:      u.Success,
			Error:        u.Error,
		})
	}
	return stats
}

// Reset drops every recorded observation.
func (p *Performance) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submissions = nil
	p.uploads = nil
}

func fillDurations(s *Summary, durations []time.Duration) {
	if len(durations) == 0 {
		return
	}
	var total time.Duration
	lo, hi := durations[0], durations[0]
	for _, d := range durations {
		total += d
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	s.AvgDurationMs = ms(total) / float64(len(durations))
	s.MinDurationMs = ms(lo)
	s.MaxDurationMs = ms(hi)
	s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
}

func tail[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
