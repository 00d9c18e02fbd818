package history

import "time"

// Statuses recorded for a deployment attempt.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry is one deployment attempt against one host.
type Entry struct {
	ID        int64
	Host      string
	Release   string
	Status    string
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}
