// Package monitor implements the sweep-based reconciler. Each sweep loads a
// capped batch of in-flight projects and advances every one as far as a
// single pass of its workflow allows. All durable writes funnel through the
// project store; the sweep itself holds no state, so overlapping or repeated
// sweeps are safe.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/provider"
	"github.com/adforge/adforge-api/internal/workflow"
)

// Archiver copies a completed project's final video to durable storage and
// returns the archived URL.
type Archiver interface {
	ArchiveFinalVideo(ctx context.Context, p *project.Project) (string, error)
}

// Config carries the reconciler tunables.
type Config struct {
	// CandidateLimit caps how many projects one sweep handles.
	CandidateLimit int
	// CandidateDelay spaces provider calls between candidates.
	CandidateDelay time.Duration
	// StuckGrace fails a project sitting in a submitting step with no task id
	// and no progress for this long.
	StuckGrace time.Duration
	// StaleAfter fails any project with no progress at all for this long.
	StaleAfter time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CandidateLimit: 20,
		CandidateDelay: 250 * time.Millisecond,
		StuckGrace:     5 * time.Minute,
		StaleAfter:     40 * time.Minute,
	}
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	// Processed is the number of candidates whose state changed this sweep.
	Processed int `json:"processed"`
	// Completed counts projects that reached completed this sweep.
	Completed int `json:"completed"`
	// Failed counts projects that reached failed this sweep.
	Failed int `json:"failed"`
	// TotalRecords is the number of candidates examined.
	TotalRecords int `json:"totalRecords"`
}

// Monitor reconciles in-flight projects against provider task state.
type Monitor struct {
	store     project.Store
	single    *workflow.Single
	segmented *workflow.Segmented
	archiver  Archiver
	cfg       Config
	logger    *slog.Logger
}

// New creates a Monitor. archiver may be nil, in which case completed
// projects keep their provider-hosted URL.
func New(store project.Store, single *workflow.Single, segmented *workflow.Segmented, archiver Archiver, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:     store,
		single:    single,
		segmented: segmented,
		archiver:  archiver,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunSweep loads the candidate batch and advances each project once.
// Candidates are processed sequentially, oldest first, with a short delay in
// between so a full batch does not burst the provider API. An error from one
// candidate never aborts the sweep.
func (m *Monitor) RunSweep(ctx context.Context) (SweepResult, error) {
	candidates, err := m.store.ListCandidates(ctx, m.cfg.CandidateLimit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("monitor: list candidates: %w", err)
	}

	result := SweepResult{TotalRecords: len(candidates)}
	m.logger.Info("sweep started", slog.Int("candidates", len(candidates)))

	for i, p := range candidates {
		if i > 0 && m.cfg.CandidateDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(m.cfg.CandidateDelay):
			}
		}

		changed := m.processCandidate(ctx, p)
		if !changed {
			continue
		}
		result.Processed++
		switch p.Status {
		case project.StatusCompleted:
			result.Completed++
		case project.StatusFailed:
			result.Failed++
		}
	}

	m.logger.Info("sweep finished",
		slog.Int("processed", result.Processed),
		slog.Int("completed", result.Completed),
		slog.Int("failed", result.Failed),
		slog.Int("total_records", result.TotalRecords),
	)
	return result, nil
}

// processCandidate advances one project and persists the outcome. It reports
// whether the project row changed. A panic in a workflow handler is contained
// here so the rest of the batch still runs.
func (m *Monitor) processCandidate(ctx context.Context, p *project.Project) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while processing project",
				slog.String("project_id", p.ID),
				slog.Any("panic", r),
			)
			changed = false
		}
	}()

	changed = m.failTimedOut(ctx, p)

	if !changed {
		var err error
		if p.IsSegmented {
			changed, err = m.segmented.Advance(ctx, p)
		} else {
			changed, err = m.single.Advance(ctx, p)
		}

		if err != nil {
			if isNetworkError(err) {
				// Provider state is unknown; leave workflow state alone and only
				// refresh the processing timestamp so ordering stays fair.
				m.logger.Warn("network error, will retry next sweep",
					slog.String("project_id", p.ID),
					slog.String("step", string(p.CurrentStep)),
					slog.String("error", err.Error()),
				)
				if touchErr := m.store.TouchProject(ctx, p.ID); touchErr != nil {
					m.logger.Error("touch failed",
						slog.String("project_id", p.ID),
						slog.String("error", touchErr.Error()),
					)
				}
				return false
			}

			m.logger.Error("processing failed",
				slog.String("project_id", p.ID),
				slog.String("step", string(p.CurrentStep)),
				slog.String("error", err.Error()),
			)
			p.MarkFailed("processing error: " + err.Error())
			changed = true
		}
	}

	if !changed {
		return false
	}

	if p.Status == project.StatusCompleted {
		m.archive(ctx, p)
	}

	p.Touch(time.Now().UTC())
	if saveErr := m.store.SaveProject(ctx, p); saveErr != nil {
		if errors.Is(saveErr, project.ErrStaleProject) {
			m.logger.Warn("lost update race, skipping",
				slog.String("project_id", p.ID),
			)
			return false
		}
		m.logger.Error("save failed",
			slog.String("project_id", p.ID),
			slog.String("error", saveErr.Error()),
		)
		return false
	}
	return true
}

// failTimedOut applies the two time-based failure rules before any provider
// call: the submission grace for projects stuck without a task id, and the
// overall staleness ceiling. Both fail the project locally; the caller
// persists the failed state like any other advancement.
func (m *Monitor) failTimedOut(ctx context.Context, p *project.Project) bool {
	idle := time.Since(p.LastTouched())
	step := string(p.CurrentStep)

	if m.stuckSubmitting(p) && idle > m.cfg.StuckGrace {
		m.single.Abandon(ctx, p, fmt.Sprintf(
			"task submission timed out: no task created within %s", m.cfg.StuckGrace))
		m.logger.Warn("stuck submission, project failed",
			slog.String("project_id", p.ID),
			slog.String("step", step),
			slog.Duration("idle", idle),
		)
		return true
	}

	if idle > m.cfg.StaleAfter {
		m.single.Abandon(ctx, p, fmt.Sprintf(
			"generation made no progress for %s and was abandoned", m.cfg.StaleAfter))
		m.logger.Warn("stale project failed",
			slog.String("project_id", p.ID),
			slog.String("step", step),
			slog.Duration("idle", idle),
		)
		return true
	}

	return false
}

// stuckSubmitting reports whether the project claims an outstanding
// submission that never produced a task id. Segmented projects are excluded:
// their frame fan-out recovers pending segments by resubmitting instead.
func (m *Monitor) stuckSubmitting(p *project.Project) bool {
	if p.IsSegmented {
		return false
	}
	switch p.CurrentStep {
	case project.StepGeneratingCover:
		return p.CoverTaskID == ""
	case project.StepGeneratingVideo:
		return p.VideoTaskID == ""
	default:
		return false
	}
}

// archive copies the final video into durable storage. Failure is logged and
// tolerated: the provider URL stays canonical until a later sweep of the
// archival backlog, and completion is never blocked on storage.
func (m *Monitor) archive(ctx context.Context, p *project.Project) {
	if m.archiver == nil || p.FinalVideoURL() == "" {
		return
	}

	url, err := m.archiver.ArchiveFinalVideo(ctx, p)
	if err != nil {
		m.logger.Error("final video archival failed",
			slog.String("project_id", p.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	p.ArchivedVideoURL = url
	m.logger.Info("final video archived",
		slog.String("project_id", p.ID),
		slog.String("archived_url", url),
	)
}

// networkErrorMarkers are transport-level failure signatures that must not
// count against a project's retry budget.
var networkErrorMarkers = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"econnreset",
	"etimedout",
	"context deadline exceeded",
	"no such host",
}

// isNetworkError classifies an Advance error as transport-level. It prefers
// the typed sentinel and falls back to message matching for errors that
// crossed a boundary without wrapping.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if provider.IsTransport(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
