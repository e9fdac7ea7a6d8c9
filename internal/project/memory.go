package project

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store. It mirrors the GORM
// store's semantics, including optimistic versioning and candidate ordering,
// and is used by workflow and monitor tests.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
	segments map[string][]*Segment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*Project),
		segments: make(map[string][]*Segment),
	}
}

// CreateProject persists a new project. Zero timestamps are filled in the
// same way GORM's autoCreateTime does, on the caller's copy as well.
func (m *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	m.projects[p.ID] = cloneProject(p)
	return nil
}

// GetProject retrieves a project by ID.
func (m *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return cloneProject(p), nil
}

// SaveProject persists changes using optimistic versioning.
func (m *MemoryStore) SaveProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.projects[p.ID]
	if !ok {
		return ErrProjectNotFound
	}
	if current.Version != p.Version {
		return ErrStaleProject
	}
	p.Version++
	m.projects[p.ID] = cloneProject(p)
	return nil
}

// TouchProject bumps only last_processed_at.
func (m *MemoryStore) TouchProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	now := time.Now()
	p.LastProcessedAt = &now
	return nil
}

// ListCandidates returns in-flight projects needing attention, oldest
// last_processed_at first with never-processed rows leading.
func (m *MemoryStore) ListCandidates(_ context.Context, limit int) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*Project
	for _, p := range m.projects {
		if p.Status != StatusProcessing {
			continue
		}
		if !needsAttention(p) {
			continue
		}
		candidates = append(candidates, cloneProject(p))
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].LastProcessedAt, candidates[j].LastProcessedAt
		switch {
		case a == nil && b == nil:
			return candidates[i].ID < candidates[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// needsAttention mirrors the GORM candidate predicate.
func needsAttention(p *Project) bool {
	if p.CoverTaskID != "" || p.VideoTaskID != "" || p.MergeTaskID != "" {
		return true
	}
	if p.CurrentStep == StepGeneratingCover || p.CurrentStep == StepGeneratingVideo {
		return true
	}
	return p.IsSegmented
}

// CreateSegments persists all segment rows atomically.
func (m *MemoryStore) CreateSegments(_ context.Context, segments []*Segment) error {
	if len(segments) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	projectID := segments[0].ProjectID
	clones := make([]*Segment, len(segments))
	for i, s := range segments {
		c := *s
		clones[i] = &c
	}
	m.segments[projectID] = append(m.segments[projectID], clones...)
	return nil
}

// ListSegments returns all segments of a project ordered by index.
func (m *MemoryStore) ListSegments(_ context.Context, projectID string) ([]*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.segments[projectID]
	result := make([]*Segment, len(stored))
	for i, s := range stored {
		c := *s
		result[i] = &c
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SegmentIndex < result[j].SegmentIndex
	})
	return result, nil
}

// SaveSegment persists changes to an existing segment.
func (m *MemoryStore) SaveSegment(_ context.Context, seg *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.segments[seg.ProjectID]
	for i, s := range stored {
		if s.ID == seg.ID {
			c := *seg
			stored[i] = &c
			return nil
		}
	}
	return ErrSegmentNotFound
}

// cloneProject deep-copies a project so callers never share mutable state
// with the store.
func cloneProject(p *Project) *Project {
	c := *p
	if p.LastProcessedAt != nil {
		t := *p.LastProcessedAt
		c.LastProcessedAt = &t
	}
	c.ReferenceImageURLs = append([]byte(nil), p.ReferenceImageURLs...)
	c.VideoPrompts = append([]byte(nil), p.VideoPrompts...)
	c.SegmentPlan = append([]byte(nil), p.SegmentPlan...)
	c.SegmentStatus = append([]byte(nil), p.SegmentStatus...)
	return &c
}
