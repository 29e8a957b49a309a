package prediction

import (
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// ParseStatus maps a provider status string onto the job state machine.
// "canceled" is folded into failed.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "starting":
		return StatusStarting, true
	case "processing":
		return StatusProcessing, true
	case "succeeded":
		return StatusSucceeded, true
	case "failed", "canceled", "cancelled":
		return StatusFailed, true
	default:
		return "", false
	}
}

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusStarting:
		return 1
	case StatusProcessing:
		return 2
	case StatusSucceeded, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Job is one submitted prediction. Only the client mutates it, and only forward.
type Job struct {
	ID       string          `json:"id"`
	Status   Status          `json:"status"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Attempts int             `json:"attempts"`
}

// advance applies a status report and reports whether it was accepted.
// Reports that would move the job backward, or out of a terminal state, are dropped.
func (j *Job) advance(next Status) bool {
	if j.Status.Terminal() {
		return false
	}
	if next.rank() < j.Status.rank() {
		return false
	}
	j.Status = next
	return true
}

// HasOutput reports whether the job carries a non-null output payload.
func (j Job) HasOutput() bool {
	trimmed := strings.TrimSpace(string(j.Output))
	return trimmed != "" && trimmed != "null"
}

type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultPollOptions() PollOptions {
	return PollOptions{Interval: time.Second, MaxAttempts: 30}
}

func (o PollOptions) withDefaults() PollOptions {
	def := DefaultPollOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	return o
}

// Budget is the wall-clock bound of one AwaitTerminal call.
func (o PollOptions) Budget() time.Duration {
	o = o.withDefaults()
	return o.Interval * time.Duration(o.MaxAttempts)
}
