package queue

import "fmt"

// CleanupMessage asks a consumer to run one cleanup job.
type CleanupMessage struct {
	JobID      string `json:"job_id"`
	EnqueuedAt int64  `json:"enqueued_at"` // unix seconds
}

// Validate rejects messages a consumer cannot act on.
func (m CleanupMessage) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if m.EnqueuedAt < 0 {
		return fmt.Errorf("enqueued_at must be >= 0")
	}
	return nil
}
