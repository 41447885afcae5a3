package segmentation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// Engine evaluates compiled rule trees against the customer store.
type Engine struct {
	customers CustomerStore
	segments  Repository
	now       func() time.Time
}

// NewEngine creates a new segmentation engine. segments may be nil, in which
// case size accounting is skipped.
func NewEngine(customers CustomerStore, segments Repository) *Engine {
	return &Engine{
		customers: customers,
		segments:  segments,
		now:       time.Now,
	}
}

// Result is a materialized segment membership.
type Result struct {
	SegmentID    string    `json:"segmentId"`
	MemberIDs    []string  `json:"memberIds"`
	Count        int       `json:"count"`
	Fingerprint  string    `json:"fingerprint"`
	CalculatedAt time.Time `json:"calculatedAt"`
	DurationMs   int64     `json:"durationMs"`
}

// ==========================================
// SEGMENT EXECUTION
// ==========================================

// Evaluate materializes the members of s and records actualSize and
// lastCalculated on the segment.
func (e *Engine) Evaluate(ctx context.Context, s *Segment) (*Result, error) {
	start := e.now()

	p, err := Compile(s.Rules)
	if err != nil {
		return nil, err
	}
	ids, err := e.EvaluatePredicate(ctx, p)
	if err != nil {
		return nil, err
	}

	at := e.now()
	s.ActualSize = len(ids)
	s.LastCalculated = &at
	if e.segments != nil {
		if err := e.segments.UpdateSize(ctx, s.ID, len(ids), at); err != nil {
			logger.Warn("record segment size failed", "segment_id", s.ID, "error", err)
		}
	}

	return &Result{
		SegmentID:    s.ID,
		MemberIDs:    ids,
		Count:        len(ids),
		Fingerprint:  s.Rules.Fingerprint(),
		CalculatedAt: at,
		DurationMs:   at.Sub(start).Milliseconds(),
	}, nil
}

// EvaluatePredicate returns the ids matching p without touching any segment.
func (e *Engine) EvaluatePredicate(ctx context.Context, p Predicate) ([]string, error) {
	ids, err := e.customers.MatchIDs(ctx, p)
	if err != nil {
		return nil, storeError("match customers", err)
	}
	return ids, nil
}

// Count returns the exact number of customers matching g.
func (e *Engine) Count(ctx context.Context, g RuleGroup) (int, error) {
	p, err := Compile(g)
	if err != nil {
		return 0, err
	}
	n, err := e.customers.Count(ctx, p)
	if err != nil {
		return 0, storeError("count customers", err)
	}
	return n, nil
}

// Preview returns up to PreviewLimit members of g with the exact total.
func (e *Engine) Preview(ctx context.Context, g RuleGroup) (*Preview, error) {
	p, err := Compile(g)
	if err != nil {
		return nil, err
	}

	total, err := e.customers.Count(ctx, p)
	if err != nil {
		return nil, storeError("count customers", err)
	}
	members, err := e.customers.Find(ctx, p, PreviewLimit)
	if err != nil {
		return nil, storeError("find customers", err)
	}
	if members == nil {
		members = []domain.Customer{}
	}

	return &Preview{
		Members:      members,
		PreviewCount: len(members),
		TotalCount:   total,
		CalculatedAt: e.now(),
	}, nil
}

func storeError(op string, err error) error {
	var se *domain.StoreError
	if errors.As(err, &se) {
		return err
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &domain.StoreError{Op: op, Err: err}
}
