package segmentation

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// DefaultCacheTTL is used when a Resolver is built with a zero TTL.
const DefaultCacheTTL = 15 * time.Minute

type evaluator interface {
	Evaluate(ctx context.Context, s *Segment) (*Result, error)
}

// Resolver returns segment members from the cache, evaluating on a miss.
// A cached set is only trusted while its fingerprint matches the segment's
// current rules. Concurrent misses for the same segment share one
// evaluation.
type Resolver struct {
	cache  Cache
	engine evaluator
	ttl    time.Duration
	group  singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	evaluations atomic.Int64
}

// NewResolver creates a Resolver.
func NewResolver(cache Cache, engine evaluator, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{cache: cache, engine: engine, ttl: ttl}
}

// Members returns the member ids of s.
func (r *Resolver) Members(ctx context.Context, s *Segment) ([]string, error) {
	fp := s.Rules.Fingerprint()

	entry, ok, err := r.cache.Get(ctx, s.ID)
	if err != nil {
		logger.Warn("segment cache read failed, evaluating", "segment_id", s.ID, "error", err)
	}
	if ok && entry.Fingerprint == fp {
		r.hits.Add(1)
		return entry.Members, nil
	}
	r.misses.Add(1)

	v, err, _ := r.group.Do(s.ID+":"+fp, func() (interface{}, error) {
		r.evaluations.Add(1)
		res, err := r.engine.Evaluate(ctx, s)
		if err != nil {
			return nil, err
		}
		put := CacheEntry{Members: res.MemberIDs, Fingerprint: fp, CachedAt: res.CalculatedAt}
		if err := r.cache.Put(ctx, s.ID, put, r.ttl); err != nil {
			logger.Warn("segment cache write failed", "segment_id", s.ID, "error", err)
		}
		return res.MemberIDs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Invalidate drops the cached set of a segment.
func (r *Resolver) Invalidate(ctx context.Context, segmentID string) error {
	return r.cache.Invalidate(ctx, segmentID)
}

// ResolverStats reports cache effectiveness.
type ResolverStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evaluations int64 `json:"evaluations"`
}

// Stats returns the counters since creation.
func (r *Resolver) Stats() ResolverStats {
	return ResolverStats{
		Hits:        r.hits.Load(),
		Misses:      r.misses.Load(),
		Evaluations: r.evaluations.Load(),
	}
}
