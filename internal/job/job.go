// Package job provides the Job aggregate tracking one asynchronous media
// pipeline run, its state machine, the repositories that persist it and the
// Service that drives the compositing, perturbation and frame-removal
// pipelines.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/productshot-api/internal/job/id"
)

// Kind identifies the pipeline a job runs.
type Kind string

const (
	// KindComposite composites products onto backgrounds into a ZIP archive.
	KindComposite Kind = "composite"
	// KindPerturb produces perturbed copies of an image into a ZIP archive.
	KindPerturb Kind = "perturbation"
	// KindFrameRemoval drops two random frames from a video.
	KindFrameRemoval Kind = "frame_removal"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindComposite || k == KindPerturb || k == KindFrameRemoval
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job has been accepted but not started.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the pipeline is executing.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the artifact is ready.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the pipeline aborted.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was deleted before it finished.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Summary holds the pipeline-specific outcome of a job. Only the fields
// relevant to the job's Kind are set.
type Summary struct {
	// Composite and perturbation jobs.
	Total     int           `json:"total,omitempty"`
	Succeeded int           `json:"succeeded,omitempty"`
	Failed    []FailedInput `json:"failed,omitempty"`
	Entries   []string      `json:"entries,omitempty"`

	// Frame-removal jobs.
	FramesRemoved []int   `json:"frames_removed,omitempty"`
	FramesWritten int     `json:"frames_written,omitempty"`
	TotalFrames   int     `json:"total_frames,omitempty"`
	FPS           float64 `json:"fps,omitempty"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
	HasAudio      bool    `json:"has_audio,omitempty"`
	Remediation   string  `json:"remediation,omitempty"`
}

// FailedInput names a batch item that could not be processed.
type FailedInput struct {
	Background string `json:"background,omitempty"`
	Product    string `json:"product,omitempty"`
	Error      string `json:"error"`
}

func (s *Summary) clone() *Summary {
	if s == nil {
		return nil
	}
	c := *s
	c.Failed = slices.Clone(s.Failed)
	c.Entries = slices.Clone(s.Entries)
	c.FramesRemoved = slices.Clone(s.FramesRemoved)
	return &c
}

// Job represents one pipeline run. Exported fields are serialized by the
// Redis repository, so they carry JSON tags.
type Job struct {
	mu sync.RWMutex

	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
	// Warnings collects degraded steps that did not fail the job.
	Warnings []string `json:"warnings,omitempty"`
	// OutputPath is the local artifact path.
	OutputPath string `json:"output_path,omitempty"`
	// ContentType and DownloadName describe the artifact for downloads.
	ContentType  string `json:"content_type,omitempty"`
	DownloadName string `json:"download_name,omitempty"`
	// PushToRemote requests an upload of the artifact after completion.
	PushToRemote bool `json:"push_to_remote"`
	// URL is the remote artifact URL when the upload succeeded.
	URL     string   `json:"url,omitempty"`
	Summary *Summary `json:"summary,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// New creates a new Job of the given kind with a generated ID and initial
// IN_QUEUE status.
func New(kind Kind) *Job {
	return NewWithID(id.Generate(string(kind)), kind)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string, kind Kind) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted:
		j.Progress = 100
		j.CompletedAt = j.UpdatedAt
	case StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED with an error message. The message
// is only recorded if the transition is allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage, clamped to 0-100.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = max(0, min(100, progress))
	j.UpdatedAt = time.Now()
}

// AddWarning records a degraded step.
func (j *Job) AddWarning(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Warnings = append(j.Warnings, msg)
	j.UpdatedAt = time.Now()
}

// SetOutput records the local artifact.
func (j *Job) SetOutput(path, contentType, downloadName string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.ContentType = contentType
	j.DownloadName = downloadName
	j.UpdatedAt = time.Now()
}

// SetURL records the remote artifact URL.
func (j *Job) SetURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.URL = url
	j.UpdatedAt = time.Now()
}

// SetSummary records the pipeline outcome.
func (j *Job) SetSummary(s *Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Summary = s.clone()
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the artifact path and URL.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = ""
	j.URL = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:           j.ID,
		Kind:         j.Kind,
		Status:       j.Status,
		Progress:     j.Progress,
		Error:        j.Error,
		Warnings:     slices.Clone(j.Warnings),
		OutputPath:   j.OutputPath,
		ContentType:  j.ContentType,
		DownloadName: j.DownloadName,
		PushToRemote: j.PushToRemote,
		URL:          j.URL,
		Summary:      j.Summary.clone(),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}
