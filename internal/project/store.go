package project

import (
	"context"
	"errors"
)

// Static errors for store operations.
var (
	// ErrProjectNotFound is returned when a project cannot be found by ID.
	ErrProjectNotFound = errors.New("project not found")
	// ErrSegmentNotFound is returned when a segment cannot be found by ID.
	ErrSegmentNotFound = errors.New("segment not found")
	// ErrStaleProject is returned when a save lost an optimistic-concurrency
	// race: another writer updated the row since it was read.
	ErrStaleProject = errors.New("project was modified concurrently")
)

// Store defines the persistence contract for projects and segments. The
// monitor is the only writer that advances step state; all mutations are
// single-row read-modify-write operations, except CreateSegments which is a
// single transaction.
type Store interface {
	// CreateProject persists a new project.
	CreateProject(ctx context.Context, p *Project) error

	// GetProject retrieves a project by ID.
	// Returns ErrProjectNotFound if it does not exist.
	GetProject(ctx context.Context, id string) (*Project, error)

	// SaveProject persists changes to an existing project using optimistic
	// concurrency on the version column. Returns ErrStaleProject when the
	// row changed underneath the caller.
	SaveProject(ctx context.Context, p *Project) error

	// TouchProject bumps only last_processed_at, leaving all workflow state
	// untouched. Used after network-level failures so the project is
	// retried next sweep without penalty.
	TouchProject(ctx context.Context, id string) error

	// ListCandidates returns in-flight projects needing attention, ordered
	// oldest last_processed_at first (never-processed rows first), capped at
	// limit. Terminal projects are never returned.
	ListCandidates(ctx context.Context, limit int) ([]*Project, error)

	// CreateSegments persists all segment rows of a project atomically:
	// either every row is created or none, so the reconciler never observes
	// a partially initialized segmented project.
	CreateSegments(ctx context.Context, segments []*Segment) error

	// ListSegments returns all segments of a project ordered by index.
	ListSegments(ctx context.Context, projectID string) ([]*Segment, error)

	// SaveSegment persists changes to an existing segment.
	SaveSegment(ctx context.Context, s *Segment) error
}
