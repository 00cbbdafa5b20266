package deploy

import (
	"time"
)

// Status is the deployment state. Transitions are monotonic: once a
// terminal state is reached there is no way back to pending or
// in_progress.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// validTransitions encodes the state machine:
// pending -> in_progress | failed
// in_progress -> completed | failed
// completed -> rolled_back (post-deploy monitoring trigger)
// failed -> rolled_back (a prior commit existed and was reverted)
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRolledBack},
	StatusFailed:     {StatusRolledBack},
}

// Type classifies what initiated the deployment.
type Type string

const (
	TypeAIFix     Type = "ai_fix"
	TypeManualFix Type = "manual_fix"
	TypeRollback  Type = "rollback"
)

// Strategy is the rollout mechanism. Canary and blue-green are executed
// as a direct release preceded by a log marker; this simplification is
// deliberate and documented, not a functional difference.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyCanary    Strategy = "canary"
	StrategyBlueGreen Strategy = "blue_green"
)

// Record tracks one deployment through its lifetime. It is owned
// exclusively by the Engine until it reaches a terminal state, then
// handed to the caller as an immutable result.
type Record struct {
	ID                 string            `json:"id"`
	Type               Type              `json:"type"`
	Strategy           Strategy          `json:"strategy"`
	Status             Status            `json:"status"`
	InitiatedBy        string            `json:"initiated_by"`
	Description        string            `json:"description"`
	FilesChanged       []string          `json:"files_changed,omitempty"`
	TestResults        *ValidationReport `json:"test_results,omitempty"`
	StartTime          time.Time         `json:"start_time"`
	EndTime            *time.Time        `json:"end_time,omitempty"`
	CommitHash         string            `json:"commit_hash,omitempty"`
	RollbackCommitHash string            `json:"rollback_commit_hash,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// transition moves the record to the next state if the state machine
// allows it. It reports whether the transition happened.
func (r *Record) transition(to Status) bool {
	for _, allowed := range validTransitions[r.Status] {
		if allowed == to {
			r.Status = to
			return true
		}
	}
	return false
}

func (r *Record) terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

func (r *Record) setMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

func (r *Record) finish(now time.Time) {
	t := now
	r.EndTime = &t
}

// clone returns a deep copy. The engine keeps the live record and hands
// copies across its boundary so callers never observe in-flight
// mutation from the post-deploy watch.
func (r *Record) clone() *Record {
	out := *r
	if r.EndTime != nil {
		t := *r.EndTime
		out.EndTime = &t
	}
	if r.FilesChanged != nil {
		out.FilesChanged = append([]string(nil), r.FilesChanged...)
	}
	if r.TestResults != nil {
		tr := *r.TestResults
		tr.Results = append([]CommandResult(nil), r.TestResults.Results...)
		tr.Failed = append([]string(nil), r.TestResults.Failed...)
		out.TestResults = &tr
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
