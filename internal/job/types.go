package job

import "time"

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether a job in this status will never run again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusExpired
}

// IsActive reports whether a job in this status still owns a worker slot.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusRunning
}

type Mode string

const (
	ModeSingle Mode = "single"
	ModeMerge  Mode = "merge"
)

// FailureKind classifies why a job ended in StatusError.
type FailureKind string

const (
	FailureExtraction FailureKind = "extraction_failure"
	FailureDownload   FailureKind = "download_failure"
	FailureMerge      FailureKind = "merge_failure"
	FailureTimeout    FailureKind = "timeout"
	FailureCanceled   FailureKind = "canceled"
	FailureInternal   FailureKind = "internal"
)

// Retryable reports whether resubmitting the same request may succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureDownload, FailureTimeout, FailureCanceled:
		return true
	default:
		return false
	}
}

type Job struct {
	ID               string      `json:"id"`
	Status           Status      `json:"status"`
	Progress         int         `json:"progress"`
	StatusText       string      `json:"status_text"`
	Mode             Mode        `json:"mode"`
	URL              string      `json:"url"`
	RequestedFormats []string    `json:"requested_formats"`
	Title            string      `json:"title,omitempty"`
	OutputPath       string      `json:"-"`
	OutputName       string      `json:"output_name,omitempty"`
	ErrorKind        FailureKind `json:"error_kind,omitempty"`
	ErrorDetail      string      `json:"error_detail,omitempty"`
	Delivered        bool        `json:"delivered"`
	CreatedAt        time.Time   `json:"created_at"`
	StartedAt        time.Time   `json:"started_at,omitzero"`
	CompletedAt      time.Time   `json:"completed_at,omitzero"`
	ExpiredAt        time.Time   `json:"expired_at,omitzero"`
}

// SetProgress raises progress to p, clamped to [0,100]. Lower values are ignored
// so that progress never moves backwards within a run.
func (j *Job) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// LastActivity is the most recent lifecycle timestamp, used for staleness.
func (j Job) LastActivity() time.Time {
	last := j.CreatedAt
	for _, ts := range []time.Time{j.StartedAt, j.CompletedAt, j.ExpiredAt} {
		if ts.After(last) {
			last = ts
		}
	}
	return last
}

func (j Job) clone() Job {
	c := j
	if j.RequestedFormats != nil {
		c.RequestedFormats = append([]string(nil), j.RequestedFormats...)
	}
	return c
}

var transitions = map[Status][]Status{
	StatusQueued:    {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusError},
	StatusCompleted: {StatusExpired},
	StatusError:     {StatusExpired},
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
