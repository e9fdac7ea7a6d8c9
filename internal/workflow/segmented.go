package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/provider"
)

// Segmented drives projects whose requested duration exceeds a single clip:
// it fans out one keyframe task per segment, stitches visual continuity by
// copying each segment's first frame into the previous segment's closing
// frame, fans out one video task per segment once both anchors exist, and
// finally merges every clip in index order.
type Segmented struct {
	store   project.Store
	gateway provider.Gateway
	cfg     Config
	logger  *slog.Logger
}

// NewSegmented creates the segmented workflow handler.
func NewSegmented(store project.Store, gateway provider.Gateway, cfg Config, logger *slog.Logger) *Segmented {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmented{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
	}
}

// SegmentCount returns the number of fixed-length segments needed for a
// requested duration.
func SegmentCount(durationSeconds, segmentSeconds int) int {
	if segmentSeconds <= 0 || durationSeconds <= 0 {
		return 1
	}
	n := (durationSeconds + segmentSeconds - 1) / segmentSeconds
	if n < 1 {
		n = 1
	}
	return n
}

// Advance moves the segmented project forward based on its aggregate step.
// Segment rows are persisted as they change; project mutations are reported
// through the changed flag and persisted by the caller. A returned error
// means provider state could not be determined and the project row must be
// left untouched.
func (w *Segmented) Advance(ctx context.Context, p *project.Project) (bool, error) {
	if !p.IsSegmented {
		return false, ErrNotSegmented
	}

	switch p.CurrentStep {
	case project.StepGeneratingSegmentFrames:
		return w.advanceFrames(ctx, p)
	case project.StepGeneratingSegmentVideos:
		return w.advanceVideos(ctx, p)
	case project.StepMergingSegments:
		return w.advanceMerge(ctx, p)
	default:
		return false, nil
	}
}

// advanceFrames runs the keyframe fan-out: initializes segment rows on first
// contact, submits missing first-frame tasks (which doubles as the stuck
// recovery rule), polls outstanding ones, and backfills continuity frames.
func (w *Segmented) advanceFrames(ctx context.Context, p *project.Project) (bool, error) {
	segments, err := w.store.ListSegments(ctx, p.ID)
	if err != nil {
		return false, err
	}

	changed := false
	if len(segments) == 0 {
		segments, err = w.initSegments(ctx, p)
		if err != nil {
			return false, err
		}
		changed = true
	}

	for _, seg := range segments {
		segChanged, err := w.advanceSegmentFrames(ctx, p, seg, segments)
		if err != nil {
			return changed, err
		}
		changed = changed || segChanged
		if p.Status == project.StatusFailed {
			break
		}
	}

	if p.Status != project.StatusFailed && allFramesReady(segments) {
		p.CurrentStep = project.StepGeneratingSegmentVideos
		changed = true
	}

	if err := w.refreshAggregates(p, segments); err != nil {
		return changed, err
	}
	return changed, nil
}

// advanceSegmentFrames advances one segment's keyframe pipeline.
func (w *Segmented) advanceSegmentFrames(ctx context.Context, p *project.Project, seg *project.Segment, all []*project.Segment) (bool, error) {
	switch seg.Status {
	case project.SegmentPendingFirstFrame:
		// Covers both the initial submission and recovery of segments left
		// behind by a crash between row creation and task submission.
		if seg.FirstFrameTaskID == "" {
			if err := w.submitFirstFrame(ctx, p, seg); err != nil {
				return false, err
			}
			return true, nil
		}
		seg.Status = project.SegmentGeneratingFirstFrame
		if err := w.store.SaveSegment(ctx, seg); err != nil {
			return false, err
		}
		return true, nil

	case project.SegmentGeneratingFirstFrame:
		return w.pollSegmentFrames(ctx, p, seg, all)

	default:
		return false, nil
	}
}

// pollSegmentFrames polls the outstanding first-frame task and, for the last
// segment, its dedicated closing-frame task. A closing-frame task submitted
// during this pass is not polled until the next sweep.
func (w *Segmented) pollSegmentFrames(ctx context.Context, p *project.Project, seg *project.Segment, all []*project.Segment) (bool, error) {
	changed := false
	closingSubmitted := false

	if seg.FirstFrameTaskID != "" {
		result, err := w.gateway.CheckTask(ctx, seg.FirstFrameTaskID, provider.TaskImage)
		if err != nil {
			return changed, err
		}

		switch result.Status {
		case provider.StatusSuccess:
			seg.FirstFrameURL = result.ResultURL
			seg.FirstFrameTaskID = ""
			changed = true
			if err := w.backfillClosingFrame(ctx, seg, all); err != nil {
				return changed, err
			}
			if seg.IsLast(len(all)) {
				// The last segment has no successor to borrow from; it gets
				// its own closing-frame task.
				if seg.ClosingFrameURL == "" && seg.ClosingFrameTaskID == "" {
					if err := w.submitClosingFrame(ctx, p, seg); err != nil {
						return changed, err
					}
					closingSubmitted = seg.ClosingFrameTaskID != ""
				}
			} else {
				seg.Status = project.SegmentFirstFrameReady
			}
			if err := w.store.SaveSegment(ctx, seg); err != nil {
				return changed, err
			}

		case provider.StatusFailed:
			return w.handleSegmentFailure(ctx, p, seg, "keyframe", result, func() error {
				seg.FirstFrameTaskID = ""
				return w.submitFirstFrame(ctx, p, seg)
			})

		default:
			// Still generating.
		}
	}

	if seg.ClosingFrameTaskID != "" && !closingSubmitted {
		result, err := w.gateway.CheckTask(ctx, seg.ClosingFrameTaskID, provider.TaskImage)
		if err != nil {
			return changed, err
		}

		switch result.Status {
		case provider.StatusSuccess:
			seg.ClosingFrameURL = result.ResultURL
			seg.ClosingFrameTaskID = ""
			if seg.FirstFrameURL != "" {
				seg.Status = project.SegmentFirstFrameReady
			}
			if err := w.store.SaveSegment(ctx, seg); err != nil {
				return true, err
			}
			changed = true

		case provider.StatusFailed:
			return w.handleSegmentFailure(ctx, p, seg, "closing keyframe", result, func() error {
				seg.ClosingFrameTaskID = ""
				return w.submitClosingFrame(ctx, p, seg)
			})

		default:
		}
	}

	return changed, nil
}

// backfillClosingFrame copies a freshly ready first frame into the previous
// segment's closing frame, the continuity rule that makes adjacent clips
// share a boundary image.
func (w *Segmented) backfillClosingFrame(ctx context.Context, seg *project.Segment, all []*project.Segment) error {
	if seg.SegmentIndex == 0 {
		return nil
	}
	for _, prev := range all {
		if prev.SegmentIndex != seg.SegmentIndex-1 {
			continue
		}
		if prev.ClosingFrameURL != "" {
			return nil
		}
		prev.ClosingFrameURL = seg.FirstFrameURL
		if err := w.store.SaveSegment(ctx, prev); err != nil {
			return err
		}
		w.logger.Info("closing frame backfilled",
			slog.String("project_id", seg.ProjectID),
			slog.Int("segment_index", prev.SegmentIndex),
		)
		return nil
	}
	return nil
}

// advanceVideos runs the clip fan-out and, once every clip exists, the merge
// fan-in.
func (w *Segmented) advanceVideos(ctx context.Context, p *project.Project) (bool, error) {
	segments, err := w.store.ListSegments(ctx, p.ID)
	if err != nil {
		return false, err
	}

	changed := false
	for _, seg := range segments {
		segChanged, err := w.advanceSegmentVideo(ctx, p, seg)
		if err != nil {
			return changed, err
		}
		changed = changed || segChanged
		if p.Status == project.StatusFailed {
			break
		}
	}

	if err := w.refreshAggregates(p, segments); err != nil {
		return changed, err
	}

	// Merge gating: every segment must have its clip before one merge task
	// is submitted.
	if p.Status != project.StatusFailed && p.MergeTaskID == "" && allVideosReady(segments) {
		clips := make([]string, len(segments))
		for i, seg := range segments {
			clips[i] = seg.VideoURL
		}
		taskID, err := w.gateway.SubmitMerge(ctx, provider.MergeRequest{
			ClipURLs:    clips,
			AspectRatio: p.AspectRatio,
		})
		if err != nil {
			if provider.IsTransport(err) {
				return changed, err
			}
			p.MarkFailed("merge submission rejected: " + err.Error())
			return true, nil
		}
		p.MergeTaskID = taskID
		p.CurrentStep = project.StepMergingSegments
		p.SetProgress(progressMerging)
		w.logger.Info("merge task submitted",
			slog.String("project_id", p.ID),
			slog.String("task_id", taskID),
			slog.Int("clips", len(clips)),
		)
		changed = true
	}

	return changed, nil
}

// advanceSegmentVideo advances one segment's clip pipeline.
func (w *Segmented) advanceSegmentVideo(ctx context.Context, p *project.Project, seg *project.Segment) (bool, error) {
	switch seg.Status {
	case project.SegmentFirstFrameReady:
		if !seg.FramesReady() {
			// Waiting for the continuity backfill from the next segment.
			return false, nil
		}
		if seg.VideoTaskID == "" {
			if err := w.submitSegmentVideo(ctx, p, seg); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil

	case project.SegmentGeneratingVideo:
		result, err := w.gateway.CheckTask(ctx, seg.VideoTaskID, provider.TaskVideo)
		if err != nil {
			return false, err
		}

		switch result.Status {
		case provider.StatusSuccess:
			seg.VideoURL = result.ResultURL
			seg.VideoTaskID = ""
			seg.Status = project.SegmentVideoReady
			if err := w.store.SaveSegment(ctx, seg); err != nil {
				return false, err
			}
			w.logger.Info("segment clip ready",
				slog.String("project_id", p.ID),
				slog.Int("segment_index", seg.SegmentIndex),
			)
			return true, nil

		case provider.StatusFailed:
			return w.handleSegmentFailure(ctx, p, seg, "segment video", result, func() error {
				seg.VideoTaskID = ""
				seg.Status = project.SegmentFirstFrameReady
				return w.submitSegmentVideo(ctx, p, seg)
			})

		default:
			return false, nil
		}

	default:
		return false, nil
	}
}

// advanceMerge polls the outstanding merge task.
func (w *Segmented) advanceMerge(ctx context.Context, p *project.Project) (bool, error) {
	if p.MergeTaskID == "" {
		// Merge was never durably submitted; step back so the video handler
		// re-runs its gating check next sweep.
		p.CurrentStep = project.StepGeneratingSegmentVideos
		return true, nil
	}

	result, err := w.gateway.CheckTask(ctx, p.MergeTaskID, provider.TaskMerge)
	if err != nil {
		return false, err
	}

	switch result.Status {
	case provider.StatusSuccess:
		p.MergedVideoURL = result.ResultURL
		p.VideoURL = result.ResultURL
		p.MergeTaskID = ""
		p.MarkCompleted()
		w.logger.Info("segmented project completed",
			slog.String("project_id", p.ID),
			slog.String("video_url", result.ResultURL),
		)
		return true, nil

	case provider.StatusFailed:
		p.MarkFailed(failureMessage("merge", result))
		return true, nil

	default:
		if w.mergeTimedOut(p) {
			p.MarkFailed(fmt.Sprintf("merge made no progress for %s; please resubmit", w.cfg.MergeTimeout))
			return true, nil
		}
		return false, nil
	}
}

// mergeTimedOut reports whether the merge has shown no progress for longer
// than the configured window.
func (w *Segmented) mergeTimedOut(p *project.Project) bool {
	since := p.CreatedAt
	if p.LastProcessedAt != nil {
		since = *p.LastProcessedAt
	}
	return time.Since(since) > w.cfg.MergeTimeout
}

// initSegments plans the fan-out and creates all segment rows atomically.
func (w *Segmented) initSegments(ctx context.Context, p *project.Project) ([]*project.Segment, error) {
	count := p.SegmentCount
	if count < 1 {
		count = SegmentCount(p.DurationSeconds, w.cfg.SegmentSeconds)
		p.SegmentCount = count
	}

	prompts, err := segmentPrompts(p, count)
	if err != nil {
		return nil, err
	}

	segments := make([]*project.Segment, count)
	for i := 0; i < count; i++ {
		segments[i] = project.NewSegment(p.ID, i, prompts[i])
	}

	if err := w.store.CreateSegments(ctx, segments); err != nil {
		return nil, err
	}

	w.logger.Info("segments initialized",
		slog.String("project_id", p.ID),
		slog.Int("count", count),
	)
	return segments, nil
}

// submitFirstFrame submits a segment's first-frame keyframe task. When no
// reference images are available the request degrades to a text-only
// generation rather than blocking the segment forever.
func (w *Segmented) submitFirstFrame(ctx context.Context, p *project.Project, seg *project.Segment) error {
	var imageURLs []string
	if p.SourceImageURL != "" {
		imageURLs = append(imageURLs, p.SourceImageURL)
	}
	imageURLs = append(imageURLs, referenceURLs(p)...)

	taskID, err := w.gateway.SubmitImage(ctx, provider.ImageRequest{
		Prompt:      firstFramePrompt(p, seg.SegmentIndex, seg.Prompt),
		ImageURLs:   imageURLs,
		Model:       w.cfg.ImageModel,
		AspectRatio: p.AspectRatio,
	})
	if err != nil {
		if provider.IsTransport(err) {
			return err
		}
		seg.Status = project.SegmentFailed
		seg.ErrorMessage = "keyframe submission rejected: " + err.Error()
		if saveErr := w.store.SaveSegment(ctx, seg); saveErr != nil {
			return saveErr
		}
		p.MarkFailed(seg.ErrorMessage)
		return nil
	}

	seg.FirstFrameTaskID = taskID
	seg.Status = project.SegmentGeneratingFirstFrame
	if err := w.store.SaveSegment(ctx, seg); err != nil {
		return err
	}

	w.logger.Info("segment keyframe submitted",
		slog.String("project_id", p.ID),
		slog.Int("segment_index", seg.SegmentIndex),
		slog.String("task_id", taskID),
	)
	return nil
}

// submitClosingFrame submits the last segment's dedicated closing-frame task,
// anchored on its own first frame so the final beat stays visually coherent.
func (w *Segmented) submitClosingFrame(ctx context.Context, p *project.Project, seg *project.Segment) error {
	var imageURLs []string
	if seg.FirstFrameURL != "" {
		imageURLs = append(imageURLs, seg.FirstFrameURL)
	} else if p.SourceImageURL != "" {
		imageURLs = append(imageURLs, p.SourceImageURL)
	}

	taskID, err := w.gateway.SubmitImage(ctx, provider.ImageRequest{
		Prompt:      "Final frame of the scene: " + seg.Prompt,
		ImageURLs:   imageURLs,
		Model:       w.cfg.ImageModel,
		AspectRatio: p.AspectRatio,
	})
	if err != nil {
		if provider.IsTransport(err) {
			return err
		}
		seg.Status = project.SegmentFailed
		seg.ErrorMessage = "closing keyframe submission rejected: " + err.Error()
		if saveErr := w.store.SaveSegment(ctx, seg); saveErr != nil {
			return saveErr
		}
		p.MarkFailed(seg.ErrorMessage)
		return nil
	}

	seg.ClosingFrameTaskID = taskID
	return nil
}

// submitSegmentVideo submits a segment's clip task with the first and closing
// frames as the start/end anchors, so the provider interpolates motion
// between them.
func (w *Segmented) submitSegmentVideo(ctx context.Context, p *project.Project, seg *project.Segment) error {
	taskID, err := w.gateway.SubmitVideo(ctx, provider.VideoRequest{
		Prompt:      seg.Prompt,
		Model:       w.cfg.videoModel(p),
		AspectRatio: p.AspectRatio,
		ImageURLs:   []string{seg.FirstFrameURL, seg.ClosingFrameURL},
		EnableAudio: true,
	})
	if err != nil {
		if provider.IsTransport(err) {
			return err
		}
		seg.Status = project.SegmentFailed
		seg.ErrorMessage = "clip submission rejected: " + err.Error()
		if saveErr := w.store.SaveSegment(ctx, seg); saveErr != nil {
			return saveErr
		}
		p.MarkFailed(seg.ErrorMessage)
		return nil
	}

	seg.VideoTaskID = taskID
	seg.Status = project.SegmentGeneratingVideo
	if err := w.store.SaveSegment(ctx, seg); err != nil {
		return err
	}

	w.logger.Info("segment clip submitted",
		slog.String("project_id", p.ID),
		slog.Int("segment_index", seg.SegmentIndex),
		slog.String("task_id", taskID),
		slog.Int("retry_count", seg.RetryCount),
	)
	return nil
}

// handleSegmentFailure applies the per-segment retry policy. Exhausting the
// budget fails the whole project: the merge needs every segment, so a dead
// segment is not independently recoverable.
func (w *Segmented) handleSegmentFailure(
	ctx context.Context,
	p *project.Project,
	seg *project.Segment,
	stage string,
	result provider.StatusResult,
	resubmit func() error,
) (bool, error) {
	if classifyFailure(result, seg.RetryCount, w.cfg.MaxRetries) == retryResubmit {
		seg.RetryCount++
		w.logger.Warn("retryable segment failure, resubmitting",
			slog.String("project_id", p.ID),
			slog.Int("segment_index", seg.SegmentIndex),
			slog.String("stage", stage),
			slog.Int("retry_count", seg.RetryCount),
			slog.String("provider_error", result.ErrorMessage),
		)
		if err := resubmit(); err != nil {
			if provider.IsTransport(err) {
				// Persist the retry increment; the next sweep resubmits.
				if saveErr := w.store.SaveSegment(ctx, seg); saveErr != nil {
					return true, saveErr
				}
				return true, nil
			}
			return true, err
		}
		return true, nil
	}

	seg.Status = project.SegmentFailed
	seg.ErrorMessage = failureMessage(stage, result)
	if err := w.store.SaveSegment(ctx, seg); err != nil {
		return true, err
	}
	p.MarkFailed(fmt.Sprintf("segment %d: %s", seg.SegmentIndex, seg.ErrorMessage))
	w.logger.Warn("segment exhausted retries, project failed",
		slog.String("project_id", p.ID),
		slog.Int("segment_index", seg.SegmentIndex),
		slog.String("error", seg.ErrorMessage),
	)
	return true, nil
}

// refreshAggregates recomputes the denormalized segment summary and the
// advisory progress bands from current segment state.
func (w *Segmented) refreshAggregates(p *project.Project, segments []*project.Segment) error {
	if err := p.ApplySegmentSummary(segments); err != nil {
		return err
	}

	summary := project.Summarize(segments)
	switch p.CurrentStep {
	case project.StepGeneratingSegmentFrames:
		p.SetProgress(interpolate(progressFramesFloor, progressFramesCeil, summary.FramesReady, summary.Total))
	case project.StepGeneratingSegmentVideos:
		p.SetProgress(interpolate(progressVideosFloor, progressVideosCeil, summary.VideosReady, summary.Total))
	}
	return nil
}

// allFramesReady reports whether every segment has both anchors persisted.
func allFramesReady(segments []*project.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if !seg.FramesReady() {
			return false
		}
	}
	return true
}

// allVideosReady reports whether every segment has its clip persisted.
func allVideosReady(segments []*project.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if seg.VideoURL == "" {
			return false
		}
	}
	return true
}
