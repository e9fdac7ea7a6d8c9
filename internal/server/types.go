// Package server provides the HTTP surface of the orchestrator: project
// creation and status for clients, and the sweep trigger for the external
// scheduler. DTOs are kept separate from domain types.
package server

import "encoding/json"

// CreateProjectRequest is the HTTP request body for creating a project.
// The creative payload and segment plan come from an upstream planning step.
type CreateProjectRequest struct {
	// UserID identifies the paying user.
	UserID string `json:"userId"`
	// Plan selects the billing path: premium pays up front, basic is free.
	Plan string `json:"plan"`
	// Model optionally overrides the default video model.
	Model string `json:"model"`
	// AspectRatio is the target output ratio.
	AspectRatio string `json:"aspectRatio"`
	// DurationSeconds is the requested total video length.
	DurationSeconds int `json:"durationSeconds"`
	// PhotoOnly requests a cover image and no video.
	PhotoOnly bool `json:"photoOnly"`
	// CustomScript means the dialogue is used verbatim and the supplied image
	// anchors the video directly.
	CustomScript bool `json:"customScript"`
	// SourceImageURL is the product photo anchoring generation.
	SourceImageURL string `json:"sourceImageUrl"`
	// ReferenceImageURLs are optional brand/style reference images.
	ReferenceImageURLs []string `json:"referenceImageUrls"`
	// VideoPrompts is the opaque creative payload (scene, dialogue, camera
	// directives, language, cover prompt).
	VideoPrompts json.RawMessage `json:"videoPrompts"`
	// SegmentPlan is the optional per-segment creative plan.
	SegmentPlan json.RawMessage `json:"segmentPlan"`
}

// CreateProjectResponse is the HTTP response after creating a project.
type CreateProjectResponse struct {
	// ID is the unique identifier for the created project.
	ID string `json:"id"`
	// Status is the initial project status.
	Status string `json:"status"`
	// CurrentStep is the first generation step the project will run.
	CurrentStep string `json:"currentStep"`
	// Segmented reports whether the request fans out into segments.
	Segmented bool `json:"segmented"`
	// SegmentCount is the number of planned segments, zero when not segmented.
	SegmentCount int `json:"segmentCount,omitempty"`
	// CreditsCharged is the up-front credit reservation, zero for basic.
	CreditsCharged int `json:"creditsCharged,omitempty"`
}

// ProjectResponse is the HTTP response for project status polling.
type ProjectResponse struct {
	ID string `json:"id"`
	// Status is processing, completed, or failed.
	Status string `json:"status"`
	// CurrentStep is the persisted generation step.
	CurrentStep string `json:"currentStep"`
	// Progress is the advisory completion percentage (0-100).
	Progress  int  `json:"progress"`
	Segmented bool `json:"segmented"`
	// CoverImageURL is set once the cover keyframe is ready.
	CoverImageURL string `json:"coverImageUrl,omitempty"`
	// VideoURL is the final video: merged for segmented projects, the single
	// clip otherwise, preferring the archived copy when one exists.
	VideoURL string `json:"videoUrl,omitempty"`
	// SegmentStatus is the denormalized per-segment overview.
	SegmentStatus json.RawMessage `json:"segmentStatus,omitempty"`
	// Error is the human-readable failure reason for failed projects.
	Error string `json:"error,omitempty"`
}

// SweepResponse is the HTTP response of the reconciliation trigger.
type SweepResponse struct {
	Success      bool `json:"success"`
	Processed    int  `json:"processed"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
	TotalRecords int  `json:"totalRecords"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Details carries underlying error text for infrastructure failures.
	Details string `json:"details,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
