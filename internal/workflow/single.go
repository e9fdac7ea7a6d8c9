package workflow

import (
	"context"
	"log/slog"

	"github.com/adforge/adforge-api/internal/credit"
	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/provider"
)

// Single drives non-segmented projects through cover generation, video
// generation, and completion. Each Advance call performs at most one provider
// interaction per stage: submit when no task is outstanding, otherwise poll.
type Single struct {
	gateway provider.Gateway
	ledger  credit.Ledger
	cfg     Config
	logger  *slog.Logger
}

// NewSingle creates the single-stage workflow handler.
func NewSingle(gateway provider.Gateway, ledger credit.Ledger, cfg Config, logger *slog.Logger) *Single {
	if logger == nil {
		logger = slog.Default()
	}
	return &Single{
		gateway: gateway,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger,
	}
}

// Advance moves the project at most one transition forward based on its
// current step. It mutates p in place and reports whether anything changed;
// the caller persists. A returned error means the project state could not be
// determined (transport failure) and must be left untouched.
func (w *Single) Advance(ctx context.Context, p *project.Project) (bool, error) {
	switch p.CurrentStep {
	case project.StepGeneratingCover:
		return w.advanceCover(ctx, p)
	case project.StepGeneratingVideo:
		return w.advanceVideo(ctx, p)
	default:
		return false, nil
	}
}

// advanceCover submits or polls the cover/keyframe task.
func (w *Single) advanceCover(ctx context.Context, p *project.Project) (bool, error) {
	if p.CoverTaskID == "" {
		return w.submitCover(ctx, p)
	}

	result, err := w.gateway.CheckTask(ctx, p.CoverTaskID, provider.TaskImage)
	if err != nil {
		return false, err
	}

	switch result.Status {
	case provider.StatusSuccess:
		p.CoverImageURL = result.ResultURL
		p.CoverTaskID = ""
		p.RetryCount = 0
		if p.PhotoOnly {
			p.MarkCompleted()
			w.logger.Info("photo-only project completed",
				slog.String("project_id", p.ID),
			)
			return true, nil
		}
		p.CurrentStep = project.StepGeneratingVideo
		p.SetProgress(progressCoverReady)
		return true, nil

	case provider.StatusFailed:
		return w.handleStageFailure(ctx, p, "cover", result, w.submitCover)

	default:
		return false, nil
	}
}

// submitCover starts a cover generation task from the source image and the
// creative cover prompt.
func (w *Single) submitCover(ctx context.Context, p *project.Project) (bool, error) {
	if p.SourceImageURL == "" {
		return w.failPrecondition(ctx, p, ErrMissingSourceImage.Error()), nil
	}

	prompts, err := p.DecodeVideoPrompts()
	if err != nil || (prompts.CoverPrompt == "" && prompts.Scene == "") {
		return w.failPrecondition(ctx, p, ErrMissingPrompts.Error()), nil
	}

	coverPrompt := prompts.CoverPrompt
	if coverPrompt == "" {
		coverPrompt = prompts.Scene
	}

	imageURLs := append([]string{p.SourceImageURL}, referenceURLs(p)...)

	taskID, err := w.gateway.SubmitImage(ctx, provider.ImageRequest{
		Prompt:      coverPrompt,
		ImageURLs:   imageURLs,
		Model:       w.cfg.ImageModel,
		AspectRatio: p.AspectRatio,
	})
	if err != nil {
		if provider.IsTransport(err) {
			return false, err
		}
		p.MarkFailed("cover submission rejected: " + err.Error())
		return true, nil
	}

	p.CoverTaskID = taskID
	p.SetProgress(progressCoverSubmitted)
	w.logger.Info("cover task submitted",
		slog.String("project_id", p.ID),
		slog.String("task_id", taskID),
	)
	return true, nil
}

// advanceVideo submits or polls the video task.
func (w *Single) advanceVideo(ctx context.Context, p *project.Project) (bool, error) {
	if p.VideoTaskID == "" {
		return w.submitVideo(ctx, p)
	}

	result, err := w.gateway.CheckTask(ctx, p.VideoTaskID, provider.TaskVideo)
	if err != nil {
		return false, err
	}

	switch result.Status {
	case provider.StatusSuccess:
		p.VideoURL = result.ResultURL
		p.VideoTaskID = ""
		p.MarkCompleted()
		w.logger.Info("project completed",
			slog.String("project_id", p.ID),
			slog.String("video_url", result.ResultURL),
		)
		return true, nil

	case provider.StatusFailed:
		return w.handleStageFailure(ctx, p, "video", result, w.submitVideo)

	default:
		return false, nil
	}
}

// submitVideo starts a video generation task anchored on the cover image, or
// on the original photo for custom-script projects.
func (w *Single) submitVideo(ctx context.Context, p *project.Project) (bool, error) {
	anchor := p.CoverImageURL
	if p.CustomScript {
		anchor = p.SourceImageURL
	}
	if anchor == "" {
		return w.failPrecondition(ctx, p, ErrMissingSourceImage.Error()), nil
	}

	prompts, err := p.DecodeVideoPrompts()
	if err != nil {
		return w.failPrecondition(ctx, p, ErrMissingPrompts.Error()), nil
	}

	var prompt string
	if p.CustomScript {
		// User-supplied dialogue is used verbatim.
		prompt = prompts.Dialogue
	} else {
		prompt = composeVideoPrompt(prompts)
	}
	if prompt == "" {
		return w.failPrecondition(ctx, p, ErrMissingPrompts.Error()), nil
	}

	taskID, err := w.gateway.SubmitVideo(ctx, provider.VideoRequest{
		Prompt:            prompt,
		Model:             w.cfg.videoModel(p),
		AspectRatio:       p.AspectRatio,
		ImageURLs:         []string{anchor},
		EnableAudio:       true,
		GenerateVoiceover: !p.CustomScript,
		IncludeDialogue:   p.CustomScript || prompts.Dialogue != "",
	})
	if err != nil {
		if provider.IsTransport(err) {
			return false, err
		}
		p.MarkFailed("video submission rejected: " + err.Error())
		return true, nil
	}

	p.VideoTaskID = taskID
	p.SetProgress(progressVideoSubmitted)
	w.logger.Info("video task submitted",
		slog.String("project_id", p.ID),
		slog.String("task_id", taskID),
		slog.Int("retry_count", p.RetryCount),
	)
	return true, nil
}

// handleStageFailure applies the retry policy to a provider-reported failure
// on the current stage. A retryable failure within budget resubmits through
// resubmit (issuing a fresh task id) and is reported as informational; any
// other failure is terminal.
func (w *Single) handleStageFailure(
	ctx context.Context,
	p *project.Project,
	stage string,
	result provider.StatusResult,
	resubmit func(context.Context, *project.Project) (bool, error),
) (bool, error) {
	if classifyFailure(result, p.RetryCount, w.cfg.MaxRetries) == retryResubmit {
		p.RetryCount++
		if stage == "cover" {
			p.CoverTaskID = ""
		} else {
			p.VideoTaskID = ""
		}
		w.logger.Warn("retryable provider failure, resubmitting",
			slog.String("project_id", p.ID),
			slog.String("stage", stage),
			slog.Int("retry_count", p.RetryCount),
			slog.String("provider_error", result.ErrorMessage),
		)
		if _, err := resubmit(ctx, p); err != nil {
			// Submission could not be confirmed; the retry increment still
			// stands and the next sweep resubmits.
			return true, nil
		}
		return true, nil
	}

	p.MarkFailed(failureMessage(stage, result))
	w.logger.Warn("project failed",
		slog.String("project_id", p.ID),
		slog.String("stage", stage),
		slog.String("error", p.ErrorMessage),
	)
	return true, nil
}

// Abandon terminally fails the project with the given reason, refunding
// reserved credits when no provider work was ever durably submitted. The
// reconciler uses it for submission timeouts and staleness.
func (w *Single) Abandon(ctx context.Context, p *project.Project, reason string) {
	w.refundIfUnstarted(ctx, p)
	p.MarkFailed(reason)
}

// failPrecondition terminally fails the project for a setup violation and,
// when credits were reserved but no provider work was ever submitted, issues
// the compensating refund.
func (w *Single) failPrecondition(ctx context.Context, p *project.Project, message string) bool {
	w.refundIfUnstarted(ctx, p)
	p.MarkFailed(message)
	return true
}

// refundIfUnstarted refunds reserved credits when the project never reached a
// durable provider submission. The charge is zeroed in the same persisted
// update so the refund cannot be replayed.
func (w *Single) refundIfUnstarted(ctx context.Context, p *project.Project) {
	if p.CreditsCharged == 0 || p.Plan != project.PlanPremium {
		return
	}
	if p.CoverTaskID != "" || p.VideoTaskID != "" || p.CoverImageURL != "" || p.VideoURL != "" {
		return
	}
	// A segmented project records a segment summary as soon as its fan-out
	// starts; any summary means provider work may have been submitted.
	if p.IsSegmented && len(p.SegmentStatus) > 0 {
		return
	}

	err := w.ledger.Deduct(ctx, p.UserID, -p.CreditsCharged, "refund: generation failed before submission", p.ID)
	if err != nil {
		w.logger.Error("refund failed",
			slog.String("project_id", p.ID),
			slog.String("user_id", p.UserID),
			slog.Int("amount", p.CreditsCharged),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("credits refunded",
		slog.String("project_id", p.ID),
		slog.Int("amount", p.CreditsCharged),
	)
	p.CreditsCharged = 0
}

// referenceURLs decodes the optional reference image list.
func referenceURLs(p *project.Project) []string {
	urls, err := decodeStringList(p.ReferenceImageURLs)
	if err != nil {
		return nil
	}
	return urls
}
