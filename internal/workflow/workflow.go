// Package workflow drives a project through its generation steps: the
// single-stage cover-then-video pipeline and the segmented fan-out/fan-in
// pipeline (per-segment keyframes, per-segment clips, final merge). The
// monitor calls into this package once per sweep per project; every handler
// polls at most one outstanding task per stage, advances persisted state on
// success, and applies the retry policy on provider failure.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/provider"
)

// Static errors for workflow preconditions. These are raised synchronously
// during stage setup and terminally fail the project.
var (
	// ErrMissingPrompts is returned when a stage needs the creative payload
	// and the project does not carry one.
	ErrMissingPrompts = errors.New("workflow: video prompts are required")
	// ErrMissingSourceImage is returned when a stage needs the product photo
	// and the project does not carry one.
	ErrMissingSourceImage = errors.New("workflow: source image is required")
	// ErrNotSegmented is returned when the segmented handler receives a
	// non-segmented project.
	ErrNotSegmented = errors.New("workflow: project is not segmented")
)

// Config carries the workflow tunables.
type Config struct {
	// ImageModel is the provider model used for keyframe generation.
	ImageModel string
	// VideoModel is the default video model when the project names none.
	VideoModel string
	// SegmentSeconds is the fixed clip length of the video provider. A
	// request longer than one clip becomes a segmented project.
	SegmentSeconds int
	// MergeTimeout fails a merge that shows no progress for this long.
	MergeTimeout time.Duration
	// MaxRetries is the per-stage budget for provider-retryable failures.
	MaxRetries int
	// PremiumCreditCost is the up-front credit price of a premium generation.
	PremiumCreditCost int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ImageModel:        "google/nano-banana-edit",
		VideoModel:        "veo3_fast",
		SegmentSeconds:    8,
		MergeTimeout:      15 * time.Minute,
		MaxRetries:        project.MaxStageRetries,
		PremiumCreditCost: 50,
	}
}

// videoModel resolves the model for a project's video tasks.
func (c Config) videoModel(p *project.Project) string {
	if p.Model != "" {
		return p.Model
	}
	return c.VideoModel
}

// retryOutcome describes how a provider-reported failure was absorbed.
type retryOutcome int

const (
	// retryResubmit means the stage should submit a fresh task.
	retryResubmit retryOutcome = iota
	// retryExhausted means the failure is terminal for the stage.
	retryExhausted
)

// classifyFailure applies the stage retry policy to a provider failure.
// Retryable failures consume one unit of the budget; non-retryable failures
// and exhausted budgets are terminal.
func classifyFailure(result provider.StatusResult, retryCount, maxRetries int) retryOutcome {
	if result.Retryable && retryCount < maxRetries {
		return retryResubmit
	}
	return retryExhausted
}

// failureMessage renders a user-facing failure reason from a provider result.
func failureMessage(stage string, result provider.StatusResult) string {
	if result.ErrorMessage == "" {
		return fmt.Sprintf("%s generation failed", stage)
	}
	return fmt.Sprintf("%s generation failed: %s", stage, result.ErrorMessage)
}
