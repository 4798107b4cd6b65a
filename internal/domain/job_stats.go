package domain

import "time"

// JobStats aggregates execution statistics of a job across all of its runs.
type JobStats struct {
	JobID           string      `json:"jobId"`
	Runs            int64       `json:"runs"`
	LastBatchID     string      `json:"lastBatchId,omitempty"`
	LastStatus      BatchStatus `json:"lastStatus,omitempty"`
	LastStartedAt   *time.Time  `json:"lastStartedAt,omitempty"`
	LastCompletedAt *time.Time  `json:"lastCompletedAt,omitempty"`
	ExpectedItems   int64       `json:"expectedItems"`
	Processed       int64       `json:"processed"`
	Succeeded       int64       `json:"succeeded"`
	Failed          int64       `json:"failed"`
}
