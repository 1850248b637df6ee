package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle status of one file in a batch run.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// error -> processing is only taken by an explicit retry.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusError},
	JobStatusError:      {JobStatusProcessing},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Source is an opaque handle to the file behind a job.
type Source interface {
	Name() string
	MimeType() string
	// Load returns the bytes sent to the inference provider.
	Load() ([]byte, error)
}

// Job is the unit of work for one submitted file.
type Job struct {
	Index  int
	Source Source
}

// ResultRecord is the persisted outcome of one job. It is created pending at
// batch start and mutated in place as the job progresses.
type ResultRecord struct {
	Filename     string     `json:"filename"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Keywords     []string   `json:"keywords"`
	Status       JobStatus  `json:"status"`
	ErrorMessage string     `json:"error,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// NewPendingRecord returns the initial record for a file.
func NewPendingRecord(filename string) ResultRecord {
	return ResultRecord{
		Filename: filename,
		Keywords: []string{},
		Status:   JobStatusPending,
	}
}

// Transition moves the record to a new status, rejecting invalid moves.
func (r *ResultRecord) Transition(to JobStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("invalid job status transition: %s -> %s (file=%s)", r.Status, to, r.Filename)
	}
	r.Status = to
	return nil
}

// Clone returns a deep copy.
func (r ResultRecord) Clone() ResultRecord {
	out := r
	out.Keywords = append([]string(nil), r.Keywords...)
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		out.ProcessedAt = &t
	}
	return out
}

// CompletedOnly filters records down to completed ones, preserving order.
func CompletedOnly(records []ResultRecord) []ResultRecord {
	out := make([]ResultRecord, 0, len(records))
	for _, r := range records {
		if r.Status == JobStatusCompleted {
			out = append(out, r)
		}
	}
	return out
}
