package domain

import "time"

// MaxBatchSize is the upper bound on check requests accepted in one batch.
const MaxBatchSize = 100

// JobStatus represents the processing state of a batch job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BatchJob tracks a group of checks submitted together.
type BatchJob struct {
	TaskID           string        `json:"task_id"`
	Status           JobStatus     `json:"status"`
	TotalNumbers     int           `json:"total_numbers"`
	ProcessedNumbers int           `json:"processed_numbers"`
	SuccessfulChecks int           `json:"successful_checks"`
	FailedChecks     int           `json:"failed_checks"`
	CreatedAt        time.Time     `json:"created_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	Results          []CheckResult `json:"results,omitempty"`
}

// BatchSummary counts completed check results by overall status.
type BatchSummary struct {
	Total     int            `json:"total"`
	ByStatus  map[Status]int `json:"by_status"`
	BlockRate float64        `json:"block_rate"`
}

// Summarize aggregates results by overall status.
func Summarize(results []CheckResult) BatchSummary {
	summary := BatchSummary{
		Total:    len(results),
		ByStatus: make(map[Status]int),
	}
	for _, r := range results {
		summary.ByStatus[r.OverallStatus]++
	}
	if summary.Total > 0 {
		summary.BlockRate = float64(summary.ByStatus[StatusBlocked]) / float64(summary.Total)
	}
	return summary
}
