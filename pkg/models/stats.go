package models

import "time"

// Stats is the aggregate view of a batch run. It is always recomputed from the
// record statuses and never updated independently.
type Stats struct {
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Pending   int        `json:"pending"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ComputeStats derives counters from records. Processing records count as pending.
func ComputeStats(records []ResultRecord) Stats {
	s := Stats{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case JobStatusCompleted:
			s.Completed++
		case JobStatusError:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// Progress returns the percentage of finished files, rounded down.
func (s Stats) Progress() int {
	if s.Total == 0 {
		return 0
	}
	return (s.Completed + s.Failed) * 100 / s.Total
}
