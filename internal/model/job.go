package model

// JobStatus is the lifecycle state of a download job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobLogEntry is one line of a job's append-only event log.
type JobLogEntry struct {
	TS  string `json:"ts"`
	Msg string `json:"msg"`
}

// DownloadJob tracks one historical download over [StartTime, EndTime).
type DownloadJob struct {
	ID                int64         `json:"id"`
	Symbol            string        `json:"symbol"`
	Interval          Interval      `json:"interval"`
	StartTime         int64         `json:"start_time"`
	EndTime           int64         `json:"end_time"`
	Status            JobStatus     `json:"status"`
	ProgressPct       float64       `json:"progress_pct"`
	CandlesDownloaded int64         `json:"candles_downloaded"`
	CandlesExpected   int64         `json:"candles_expected"`
	GapsFound         int64         `json:"gaps_found"`
	CreatedAt         string        `json:"created_at"`
	UpdatedAt         string        `json:"updated_at"`
	Log               []JobLogEntry `json:"log"`
}
