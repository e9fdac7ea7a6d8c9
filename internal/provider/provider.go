// Package provider defines the normalized contract for external generation
// providers. Image/keyframe and video generation go through the KIE API, clip
// merging goes through fal; both are exposed to the workflow layer behind the
// single Gateway interface so orchestration code never sees provider-specific
// response shapes.
package provider

import (
	"context"
	"errors"
)

// ErrTransport marks an error as a network-level failure: the request never
// produced a usable provider answer (DNS, reset, timeout, retry budget
// exhausted). Callers must treat the underlying task as still unresolved and
// must not count the failure against a generation retry budget.
var ErrTransport = errors.New("provider: transport failure")

// IsTransport reports whether err is a network-level failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// TaskKind identifies which provider pipeline a task id belongs to.
type TaskKind string

// Supported task kinds.
const (
	TaskImage TaskKind = "image" // keyframe / cover image generation
	TaskVideo TaskKind = "video" // single clip generation
	TaskMerge TaskKind = "merge" // multi-clip merge
)

// Status is the normalized state of an outstanding generation task.
type Status string

const (
	// StatusGenerating indicates the provider is still working.
	StatusGenerating Status = "GENERATING"
	// StatusSuccess indicates the task finished and a result URL is available.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed indicates the provider rejected or aborted the task.
	StatusFailed Status = "FAILED"
)

// StatusResult is the normalized answer of a status poll.
type StatusResult struct {
	// Status is the normalized task state.
	Status Status
	// ResultURL is the first result URL, set only when Status is SUCCESS.
	ResultURL string
	// ErrorMessage carries the provider failure reason when Status is FAILED.
	ErrorMessage string
	// Retryable is true when the provider classified the failure as
	// transient (server-error class), meaning a resubmission may succeed.
	Retryable bool
}

// ImageRequest describes a keyframe or cover image generation task.
type ImageRequest struct {
	// Prompt is the creative prompt for the image.
	Prompt string
	// ImageURLs are reference images (product photo, character refs). May be
	// empty for a text-only generation.
	ImageURLs []string
	// Model is the provider model identifier.
	Model string
	// AspectRatio is the target aspect ratio, e.g. "9:16".
	AspectRatio string
}

// VideoRequest describes a clip generation task.
type VideoRequest struct {
	// Prompt is the creative prompt (scene, dialogue, camera directives).
	Prompt string
	// Model is the provider model identifier.
	Model string
	// AspectRatio is the target aspect ratio.
	AspectRatio string
	// ImageURLs are the visual anchors. One URL for image-to-video, two
	// (first and closing frame) for frame-interpolated segment clips.
	ImageURLs []string
	// EnableAudio requests speech/sound generation.
	EnableAudio bool
	// GenerateVoiceover requests an AI voiceover track.
	GenerateVoiceover bool
	// IncludeDialogue marks the prompt as containing verbatim dialogue.
	IncludeDialogue bool
}

// MergeRequest describes a clip merge task. ClipURLs must already be in final
// playback order.
type MergeRequest struct {
	ClipURLs    []string
	AspectRatio string
}

// Gateway is the interface the workflow and monitor layers depend on.
// Implementations translate provider-specific wire formats into the
// normalized shapes above.
type Gateway interface {
	// SubmitImage starts a keyframe/cover generation task and returns its id.
	SubmitImage(ctx context.Context, req ImageRequest) (taskID string, err error)

	// SubmitVideo starts a clip generation task and returns its id.
	SubmitVideo(ctx context.Context, req VideoRequest) (taskID string, err error)

	// SubmitMerge starts a merge task over already-generated clips.
	SubmitMerge(ctx context.Context, req MergeRequest) (taskID string, err error)

	// CheckTask polls an outstanding task of the given kind.
	CheckTask(ctx context.Context, taskID string, kind TaskKind) (StatusResult, error)
}
