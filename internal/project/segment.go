package project

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SegmentStatusValue is the two-stage pipeline state of a single segment.
type SegmentStatusValue string

const (
	// SegmentPendingFirstFrame means no keyframe task has been submitted yet.
	SegmentPendingFirstFrame SegmentStatusValue = "pending_first_frame"
	// SegmentGeneratingFirstFrame means the keyframe task is outstanding.
	SegmentGeneratingFirstFrame SegmentStatusValue = "generating_first_frame"
	// SegmentFirstFrameReady means the keyframe(s) are persisted.
	SegmentFirstFrameReady SegmentStatusValue = "first_frame_ready"
	// SegmentGeneratingVideo means the clip task is outstanding.
	SegmentGeneratingVideo SegmentStatusValue = "generating_video"
	// SegmentVideoReady means the clip URL is persisted.
	SegmentVideoReady SegmentStatusValue = "video_ready"
	// SegmentFailed is the absorbing failure state. One failed segment fails
	// the whole project once its retry budget is exhausted.
	SegmentFailed SegmentStatusValue = "failed"
)

// Segment is one fixed-duration sub-clip of a segmented project, generated
// independently and merged at the end. Segments are created in bulk when the
// segment plan becomes available and are never deleted.
type Segment struct {
	ID        string `gorm:"primaryKey;size:36"`
	ProjectID string `gorm:"size:36;index:idx_segments_project_index,unique,priority:1"`
	// SegmentIndex is the 0-based position, unique per project, and the
	// merge order of the final video.
	SegmentIndex int `gorm:"index:idx_segments_project_index,unique,priority:2"`

	Status SegmentStatusValue `gorm:"size:32"`

	// Prompt is this segment's share of the creative plan.
	Prompt string `gorm:"size:4096"`

	FirstFrameTaskID string `gorm:"size:128;column:first_frame_task_id"`
	FirstFrameURL    string `gorm:"size:1024;column:first_frame_url"`

	// Closing frame: only the last segment gets a dedicated task; earlier
	// segments borrow the next segment's first frame for continuity.
	ClosingFrameTaskID string `gorm:"size:128;column:closing_frame_task_id"`
	ClosingFrameURL    string `gorm:"size:1024;column:closing_frame_url"`

	VideoTaskID string `gorm:"size:128;column:video_task_id"`
	VideoURL    string `gorm:"size:1024;column:video_url"`

	RetryCount   int
	ErrorMessage string `gorm:"size:2048"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName sets the table name for Segment.
func (Segment) TableName() string { return "segments" }

// NewSegment creates a segment row in its initial pending state.
func NewSegment(projectID string, index int, prompt string) *Segment {
	return &Segment{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		SegmentIndex: index,
		Status:       SegmentPendingFirstFrame,
		Prompt:       prompt,
	}
}

// IsLast reports whether this is the final segment of a project with total
// segments.
func (s *Segment) IsLast(total int) bool {
	return s.SegmentIndex == total-1
}

// FramesReady reports whether all keyframes needed to submit this segment's
// video task are persisted. Every segment needs its first frame; the closing
// frame is additionally required, arriving either from a dedicated task (last
// segment) or backfilled from the next segment's first frame.
func (s *Segment) FramesReady() bool {
	return s.FirstFrameURL != "" && s.ClosingFrameURL != ""
}

// SegmentSummaryEntry is one segment's slice of the denormalized summary.
type SegmentSummaryEntry struct {
	Index         int                `json:"index"`
	Status        SegmentStatusValue `json:"status"`
	FirstFrameURL string             `json:"firstFrameUrl,omitempty"`
	VideoURL      string             `json:"videoUrl,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// SegmentSummary is the denormalized per-project segment overview stored on
// the project row for cheap UI polling.
type SegmentSummary struct {
	Total       int                   `json:"total"`
	FramesReady int                   `json:"framesReady"`
	VideosReady int                   `json:"videosReady"`
	Segments    []SegmentSummaryEntry `json:"segments"`
}

// Summarize builds the denormalized summary from segment rows, ordered by
// segment index.
func Summarize(segments []*Segment) SegmentSummary {
	ordered := make([]*Segment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SegmentIndex < ordered[j].SegmentIndex
	})

	summary := SegmentSummary{Total: len(ordered)}
	for _, seg := range ordered {
		if seg.FirstFrameURL != "" {
			summary.FramesReady++
		}
		if seg.VideoURL != "" {
			summary.VideosReady++
		}
		summary.Segments = append(summary.Segments, SegmentSummaryEntry{
			Index:         seg.SegmentIndex,
			Status:        seg.Status,
			FirstFrameURL: seg.FirstFrameURL,
			VideoURL:      seg.VideoURL,
			Error:         seg.ErrorMessage,
		})
	}
	return summary
}

// ApplySegmentSummary recomputes and stores the denormalized summary on the
// project row.
func (p *Project) ApplySegmentSummary(segments []*Segment) error {
	data, err := json.Marshal(Summarize(segments))
	if err != nil {
		return fmt.Errorf("project: marshal segment summary: %w", err)
	}
	p.SegmentStatus = data
	return nil
}
