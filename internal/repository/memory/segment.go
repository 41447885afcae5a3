package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/audience-engine/internal/segmentation"
)

// SegmentRepo is an in-memory segmentation.Repository.
type SegmentRepo struct {
	mu       sync.RWMutex
	segments map[string]segmentation.Segment
}

func NewSegmentRepo() *SegmentRepo {
	return &SegmentRepo{segments: make(map[string]segmentation.Segment)}
}

func (r *SegmentRepo) Create(_ context.Context, s *segmentation.Segment) error {
	r.mu.Lock()
	r.segments[s.ID] = *s
	r.mu.Unlock()
	return nil
}

func (r *SegmentRepo) Get(_ context.Context, id string) (*segmentation.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.segments[id]
	if !ok {
		return nil, segmentation.ErrNotFound
	}
	return &s, nil
}

func (r *SegmentRepo) List(_ context.Context, owner string) ([]*segmentation.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*segmentation.Segment, 0, len(r.segments))
	for _, s := range r.segments {
		if owner != "" && s.CreatedBy != owner {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *SegmentRepo) Update(_ context.Context, s *segmentation.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segments[s.ID]; !ok {
		return segmentation.ErrNotFound
	}
	r.segments[s.ID] = *s
	return nil
}

func (r *SegmentRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segments[id]; !ok {
		return segmentation.ErrNotFound
	}
	delete(r.segments, id)
	return nil
}

func (r *SegmentRepo) UpdateSize(_ context.Context, id string, size int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.segments[id]
	if !ok {
		return segmentation.ErrNotFound
	}
	s.ActualSize = size
	s.LastCalculated = &at
	r.segments[id] = s
	return nil
}
