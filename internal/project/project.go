// Package project provides the persisted Project and Segment aggregates for
// ad-generation requests, together with the store contract the workflow and
// monitor layers rely on. Every column named here is part of the durable
// contract; the reconciler dispatches on these fields across restarts.
package project

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is the coarse lifecycle state of a project.
type Status string

const (
	// StatusProcessing indicates the project is in flight.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the project finished with a final asset.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the project terminally failed. Failed projects
	// are never selected for processing again.
	StatusFailed Status = "failed"
)

// Step is the fine-grained workflow step persisted in current_step. It drives
// the reconciler's "what to do next" dispatch.
type Step string

// Single-stage workflow steps.
const (
	// StepGeneratingCover generates the cover/keyframe image.
	StepGeneratingCover Step = "generating_cover"
	// StepGeneratingVideo generates the final (or only) video clip.
	StepGeneratingVideo Step = "generating_video"
)

// Segmented workflow steps.
const (
	// StepGeneratingSegmentFrames generates keyframes for every segment.
	StepGeneratingSegmentFrames Step = "generating_segment_frames"
	// StepGeneratingSegmentVideos generates one clip per segment.
	StepGeneratingSegmentVideos Step = "generating_segment_videos"
	// StepMergingSegments merges the per-segment clips into the final video.
	StepMergingSegments Step = "merging_segments"
)

// Terminal steps.
const (
	// StepCompleted mirrors StatusCompleted at step granularity.
	StepCompleted Step = "completed"
	// StepFailed mirrors StatusFailed at step granularity.
	StepFailed Step = "failed"
)

// Plan identifies the billing tier of a project.
type Plan string

const (
	// PlanBasic defers payment to a later download action.
	PlanBasic Plan = "basic"
	// PlanPremium reserves credits before the first provider submission.
	PlanPremium Plan = "premium"
)

// MaxStageRetries is the number of automatic resubmissions allowed for
// provider-retryable failures on a single stage before the project fails.
const MaxStageRetries = 3

// Project is one end-to-end ad-generation request and its persisted progress.
type Project struct {
	ID     string `gorm:"primaryKey;size:36"`
	UserID string `gorm:"size:36;index"`

	Status      Status `gorm:"size:16;index"`
	CurrentStep Step   `gorm:"size:32;column:current_step"`

	// ProgressPercentage is advisory UI progress, 0-100, monotone in normal
	// operation.
	ProgressPercentage int

	IsSegmented  bool
	SegmentCount int

	PhotoOnly    bool
	CustomScript bool

	Plan            Plan   `gorm:"size:16"`
	Model           string `gorm:"size:64"`
	AspectRatio     string `gorm:"size:16"`
	DurationSeconds int

	// CreditsCharged is the amount reserved at creation for premium
	// projects. Zeroed once refunded so a refund can never be replayed.
	CreditsCharged int

	// SourceImageURL is the originally supplied product photo.
	SourceImageURL string `gorm:"size:1024"`
	// ReferenceImageURLs are optional character/competitor references.
	ReferenceImageURLs datatypes.JSON

	// Task handles, present only while the corresponding stage is outstanding.
	CoverTaskID string `gorm:"size:128;column:cover_task_id"`
	VideoTaskID string `gorm:"size:128;column:video_task_id"`
	MergeTaskID string `gorm:"size:128;column:fal_merge_task_id"`

	// Result URLs, present once the corresponding provider task succeeds.
	CoverImageURL  string `gorm:"size:1024;column:cover_image_url"`
	VideoURL       string `gorm:"size:1024;column:video_url"`
	MergedVideoURL string `gorm:"size:1024;column:merged_video_url"`

	// ArchivedVideoURL is the durable copy of the final video, set when the
	// completed asset was archived to object storage.
	ArchivedVideoURL string `gorm:"size:1024"`

	// RetryCount counts automatic restarts for provider-retryable failures on
	// the current stage. Network-level failures never increment it.
	RetryCount int

	ErrorMessage string `gorm:"size:2048"`

	// LastProcessedAt is the time of the most recent successful state
	// transition; the reconciler uses it for timeout detection and ordering.
	LastProcessedAt *time.Time `gorm:"index"`

	// VideoPrompts is the creative payload produced upstream (scene,
	// dialogue, camera directives, language tag).
	VideoPrompts datatypes.JSON
	// SegmentPlan is the multi-segment creative plan, when present.
	SegmentPlan datatypes.JSON

	// SegmentStatus is a denormalized summary of the segment rows, kept in
	// sync for cheap UI polling.
	SegmentStatus datatypes.JSON

	// Version supports optimistic concurrency on saves.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the table name for Project.
func (Project) TableName() string { return "projects" }

// NewProject creates a project in processing state with a fresh id. Callers
// configure the mode flags and then set CurrentStep from InitialStep.
func NewProject(userID string) *Project {
	return &Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      StatusProcessing,
		CurrentStep: StepGeneratingCover,
		Plan:        PlanBasic,
	}
}

// InitialStep returns the first applicable step for the project's mode:
// segmented projects start at the frame fan-out, custom-script projects skip
// cover generation and reuse the supplied image as the video anchor.
func (p *Project) InitialStep() Step {
	switch {
	case p.IsSegmented:
		return StepGeneratingSegmentFrames
	case p.CustomScript:
		return StepGeneratingVideo
	default:
		return StepGeneratingCover
	}
}

// IsTerminal returns true if the project can never be mutated again.
func (p *Project) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// MarkFailed moves the project to its absorbing failed state.
func (p *Project) MarkFailed(message string) {
	p.Status = StatusFailed
	p.CurrentStep = StepFailed
	p.ErrorMessage = message
}

// MarkCompleted moves the project to its terminal completed state.
func (p *Project) MarkCompleted() {
	p.Status = StatusCompleted
	p.CurrentStep = StepCompleted
	p.ProgressPercentage = 100
}

// SetProgress raises the advisory progress percentage. Progress never moves
// backwards even when stages report out of order.
func (p *Project) SetProgress(pct int) {
	if pct > 100 {
		pct = 100
	}
	if pct > p.ProgressPercentage {
		p.ProgressPercentage = pct
	}
}

// Touch records a successful processing pass.
func (p *Project) Touch(now time.Time) {
	t := now
	p.LastProcessedAt = &t
}

// LastTouched returns the reference time for timeout checks: the most recent
// processing timestamp when present, otherwise creation time.
func (p *Project) LastTouched() time.Time {
	if p.LastProcessedAt != nil {
		return *p.LastProcessedAt
	}
	return p.CreatedAt
}

// VideoPromptPayload is the decoded creative payload for video submission.
type VideoPromptPayload struct {
	Scene            string `json:"scene"`
	Dialogue         string `json:"dialogue"`
	CameraDirectives string `json:"cameraDirectives"`
	Language         string `json:"language"`
	CoverPrompt      string `json:"coverPrompt"`
}

// DecodeVideoPrompts parses the stored creative payload. An empty column
// decodes to the zero payload without error.
func (p *Project) DecodeVideoPrompts() (VideoPromptPayload, error) {
	var payload VideoPromptPayload
	if len(p.VideoPrompts) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(p.VideoPrompts, &payload); err != nil {
		return payload, fmt.Errorf("project: decode video prompts: %w", err)
	}
	return payload, nil
}

// SegmentPlanEntry is one segment's share of the multi-segment creative plan.
type SegmentPlanEntry struct {
	Prompt           string `json:"prompt"`
	FirstFramePrompt string `json:"firstFramePrompt"`
}

// DecodeSegmentPlan parses the stored segment plan. An empty column decodes
// to an empty plan without error.
func (p *Project) DecodeSegmentPlan() ([]SegmentPlanEntry, error) {
	if len(p.SegmentPlan) == 0 {
		return nil, nil
	}
	var plan struct {
		Segments []SegmentPlanEntry `json:"segments"`
	}
	if err := json.Unmarshal(p.SegmentPlan, &plan); err != nil {
		return nil, fmt.Errorf("project: decode segment plan: %w", err)
	}
	return plan.Segments, nil
}

// FinalVideoURL returns the canonical final asset URL: the merged video for
// segmented projects, otherwise the single clip.
func (p *Project) FinalVideoURL() string {
	if p.MergedVideoURL != "" {
		return p.MergedVideoURL
	}
	return p.VideoURL
}
