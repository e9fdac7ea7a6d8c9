package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Compile-time check that GormStore implements Store.
var _ Store = (*GormStore)(nil)

// GormStore is the GORM-backed implementation of Store. It works against any
// GORM dialect; production uses MySQL, tests use in-memory SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over an opened GORM connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the projects and segments tables.
func (s *GormStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Project{}, &Segment{}); err != nil {
		return fmt.Errorf("project: migrate: %w", err)
	}
	return nil
}

// CreateProject persists a new project.
func (s *GormStore) CreateProject(ctx context.Context, p *Project) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("project: create: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *GormStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("project: get: %w", err)
	}
	return &p, nil
}

// SaveProject persists changes to an existing project. The version column
// guards against lost updates: the write only applies when the row still
// carries the version the caller read.
func (s *GormStore) SaveProject(ctx context.Context, p *Project) error {
	readVersion := p.Version
	p.Version = readVersion + 1

	res := s.db.WithContext(ctx).
		Model(&Project{}).
		Where("id = ? AND version = ?", p.ID, readVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(p)
	if res.Error != nil {
		p.Version = readVersion
		return fmt.Errorf("project: save: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		p.Version = readVersion
		return ErrStaleProject
	}
	return nil
}

// TouchProject bumps only last_processed_at.
func (s *GormStore) TouchProject(ctx context.Context, id string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&Project{}).
		Where("id = ?", id).
		Update("last_processed_at", now)
	if res.Error != nil {
		return fmt.Errorf("project: touch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// ListCandidates returns in-flight projects needing attention. A project
// needs attention when it has an outstanding task handle, sits in a
// submitting step without one (stuck sub-state), or is segmented.
func (s *GormStore) ListCandidates(ctx context.Context, limit int) ([]*Project, error) {
	var projects []*Project
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusProcessing).
		Where(
			s.db.Where("cover_task_id <> ''").
				Or("video_task_id <> ''").
				Or("fal_merge_task_id <> ''").
				Or("current_step IN ?", []Step{StepGeneratingCover, StepGeneratingVideo}).
				Or("is_segmented = ?", true),
		).
		Order("(last_processed_at IS NULL) DESC, last_processed_at ASC").
		Limit(limit).
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("project: list candidates: %w", err)
	}
	return projects, nil
}

// CreateSegments persists all segment rows in one transaction.
func (s *GormStore) CreateSegments(ctx context.Context, segments []*Segment) error {
	if len(segments) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(segments).Error
	})
	if err != nil {
		return fmt.Errorf("project: create segments: %w", err)
	}
	return nil
}

// ListSegments returns all segments of a project ordered by index.
func (s *GormStore) ListSegments(ctx context.Context, projectID string) ([]*Segment, error) {
	var segments []*Segment
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("segment_index ASC").
		Find(&segments).Error
	if err != nil {
		return nil, fmt.Errorf("project: list segments: %w", err)
	}
	return segments, nil
}

// SaveSegment persists changes to an existing segment.
func (s *GormStore) SaveSegment(ctx context.Context, seg *Segment) error {
	res := s.db.WithContext(ctx).
		Model(&Segment{}).
		Where("id = ?", seg.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(seg)
	if res.Error != nil {
		return fmt.Errorf("project: save segment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSegmentNotFound
	}
	return nil
}
