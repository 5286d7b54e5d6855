// task/task.go
package task

import "B2P/models"

// Stage values recorded while a submission moves through the pipeline.
const (
	StageAccepted   = "accepted"
	StageProcessing = "processing"
	StageGenerating = "generating"
	StagePublishing = "publishing"
	StageNotifying  = "notifying"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

// Job is what the dispatcher hands to the worker.
type Job struct {
	ID         string            `json:"id"`
	Submission models.Submission `json:"submission"`
	AcceptedAt int64             `json:"accepted_at"`
}

// Status is the latest known state of a task, keyed by task name.
type Status struct {
	SubmissionID string `json:"submission_id"`
	Task         string `json:"task"`
	Round        int    `json:"round"`
	Stage        string `json:"stage"`
	RepoURL      string `json:"repo_url,omitempty"`
	PagesURL     string `json:"pages_url,omitempty"`
	CommitSHA    string `json:"commit_sha,omitempty"`
	Notified     bool   `json:"notified"`
	Error        string `json:"error,omitempty"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Terminal reports whether no further stage follows.
func (s Status) Terminal() bool {
	return s.Stage == StageCompleted || s.Stage == StageFailed
}
