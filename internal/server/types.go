// Package server provides the HTTP API of the productshot service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CompositeForm holds the scalar fields of a POST /composites multipart form.
// File parts are counted into Backgrounds and Products for validation.
type CompositeForm struct {
	Backgrounds    int    `validate:"min=1"`
	Products       int    `validate:"min=1"`
	ProductMaxEdge int    `validate:"min=500,max=900"`
	OutputSize     int    `validate:"min=400,max=2000"`
	Format         string `validate:"oneof=jpeg jpg png"`
	MaskEnabled    bool
	MaskColor      string `validate:"hexcolor,len=7"`
	MaskOpacity    int    `validate:"min=0,max=100"`
	Logo           string `validate:"oneof=black white none"`
	Placement      string `validate:"oneof=top_left top_center top_right middle_left center middle_right bottom_left bottom_center bottom_right"`
	PushToS3       bool
}

// PerturbForm holds the scalar fields of a POST /perturbations multipart form.
type PerturbForm struct {
	Copies   int `validate:"min=1,max=50"`
	Pixels   int `validate:"min=1,max=10000"`
	PushToS3 bool
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Kind is the pipeline the job runs.
	Kind string `json:"kind"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	// Error contains any error message if the job failed.
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	// DownloadURL is the local download route once the job completed.
	DownloadURL string `json:"download_url,omitempty"`
	// URL is the remote artifact URL if push_to_s3 was requested and succeeded.
	URL     string       `json:"url,omitempty"`
	Summary *SummaryJSON `json:"summary,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SummaryJSON is the pipeline outcome of a job.
type SummaryJSON struct {
	Total         int              `json:"total,omitempty"`
	Succeeded     int              `json:"succeeded,omitempty"`
	Failed        []FailedItemJSON `json:"failed,omitempty"`
	Entries       []string         `json:"entries,omitempty"`
	FramesRemoved []int            `json:"frames_removed,omitempty"`
	FramesWritten int              `json:"frames_written,omitempty"`
	TotalFrames   int              `json:"total_frames,omitempty"`
	FPS           float64          `json:"fps,omitempty"`
	Width         int              `json:"width,omitempty"`
	Height        int              `json:"height,omitempty"`
	HasAudio      bool             `json:"has_audio,omitempty"`
	Remediation   string           `json:"remediation,omitempty"`
}

// FailedItemJSON names a batch input that could not be processed.
type FailedItemJSON struct {
	Background string `json:"background,omitempty"`
	Product    string `json:"product,omitempty"`
	Error      string `json:"error"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
