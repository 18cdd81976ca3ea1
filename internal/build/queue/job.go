package queue

import (
	"time"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/request"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Result is the outcome delivered for one request.
type Result struct {
	Status         Status        `json:"status"`
	AppID          string        `json:"app_id"`
	ArtifactPath   string        `json:"artifact_path,omitempty"`
	ArtifactDigest string        `json:"artifact_digest,omitempty"`
	Stage          errors.Stage  `json:"stage,omitempty"`
	Message        string        `json:"message,omitempty"`
	Repaired       bool          `json:"repaired,omitempty"`
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// Succeeded reports whether the build produced an artifact.
func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }

// Failure converts an error into a failed result. The stage comes from the
// classified error, falling back to stage.
func Failure(appID string, err error, stage errors.Stage) Result {
	return Result{
		Status:  StatusFailed,
		AppID:   appID,
		Stage:   errors.GetStage(err, stage),
		Message: errors.MessageOf(err),
		Err:     err,
	}
}

// Progress is a live update for a running job.
type Progress struct {
	Percent int    `json:"progress"`
	Message string `json:"message"`
	Status  Status `json:"status"`
}

// Job is one accepted request and its eventual result.
type Job struct {
	ID          string
	Request     *request.BuildRequest
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Progress    Progress
	Result      *Result

	done chan struct{}
}

// Snapshot is a point-in-time copy of a job for callers.
type Snapshot struct {
	ID          string     `json:"id"`
	AppID       string     `json:"app_id"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Progress    Progress   `json:"progress"`
	Result      *Result    `json:"result,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:          j.ID,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Progress:    j.Progress,
	}
	if j.Request != nil {
		s.AppID = j.Request.AppID
	}
	if j.Result != nil {
		r := *j.Result
		s.Result = &r
	}
	return s
}
