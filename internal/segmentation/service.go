package segmentation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Service manages saved segments. Sizes are estimated synchronously whenever
// the rules are set, and cached memberships are dropped on every rule edit.
type Service struct {
	repo   Repository
	engine *Engine
	cache  Cache
	now    func() time.Time
}

// NewService creates a segment service. cache may be nil.
func NewService(repo Repository, engine *Engine, cache Cache) *Service {
	return &Service{repo: repo, engine: engine, cache: cache, now: time.Now}
}

// Create validates s, estimates its size and stores it.
func (s *Service) Create(ctx context.Context, seg *Segment) error {
	if strings.TrimSpace(seg.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	size, err := s.engine.Count(ctx, seg.Rules)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	seg.EstimatedSize = size
	seg.IsActive = true
	seg.CreatedAt = now
	seg.UpdatedAt = now

	if err := s.repo.Create(ctx, seg); err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

// Get returns a segment or a *domain.NotFoundError.
func (s *Service) Get(ctx context.Context, id string) (*Segment, error) {
	seg, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "segment", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return seg, nil
}

// List returns the segments of owner; empty owner lists all.
func (s *Service) List(ctx context.Context, owner string) ([]*Segment, error) {
	segs, err := s.repo.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return segs, nil
}

// Update applies u. Changing the rules re-estimates the size and invalidates
// the cached membership.
func (s *Service) Update(ctx context.Context, id string, u SegmentUpdate) (*Segment, error) {
	seg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return nil, &domain.ValidationError{Field: "name", Reason: "must not be blank"}
		}
		seg.Name = *u.Name
	}
	if u.Description != nil {
		seg.Description = *u.Description
	}
	if u.IsActive != nil {
		seg.IsActive = *u.IsActive
	}
	rulesChanged := false
	if u.Rules != nil {
		size, err := s.engine.Count(ctx, *u.Rules)
		if err != nil {
			return nil, err
		}
		rulesChanged = u.Rules.Fingerprint() != seg.Rules.Fingerprint()
		seg.Rules = *u.Rules
		seg.EstimatedSize = size
	}
	seg.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, seg); err != nil {
		return nil, fmt.Errorf("update segment: %w", err)
	}
	if rulesChanged {
		s.invalidate(ctx, id)
	}
	return seg, nil
}

// Delete removes a segment and its cached membership.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return &domain.NotFoundError{Resource: "segment", ID: id}
	}
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

// Preview samples the membership of an unsaved rule tree.
func (s *Service) Preview(ctx context.Context, g RuleGroup) (*Preview, error) {
	return s.engine.Preview(ctx, g)
}

// PreviewSegment samples the membership of a saved segment. It does not
// change the segment's size accounting.
func (s *Service) PreviewSegment(ctx context.Context, id string) (*Preview, error) {
	seg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Preview(ctx, seg.Rules)
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.Warn("segment cache invalidation failed", "segment_id", id, "error", err)
	}
}
