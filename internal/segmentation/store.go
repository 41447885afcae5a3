package segmentation

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
)

// ErrNotFound is returned by a Repository when a segment does not exist.
var ErrNotFound = errors.New("segment not found")

// Repository persists segments.
type Repository interface {
	Create(ctx context.Context, s *Segment) error
	Get(ctx context.Context, id string) (*Segment, error)
	// List returns the segments of owner, or all segments when owner is empty.
	List(ctx context.Context, owner string) ([]*Segment, error)
	Update(ctx context.Context, s *Segment) error
	Delete(ctx context.Context, id string) error
	UpdateSize(ctx context.Context, id string, size int, at time.Time) error
}

// CustomerStore is the queryable customer collection segments are evaluated
// against. Implementations report failures as *domain.StoreError or plain
// errors; the Engine wraps the latter.
type CustomerStore interface {
	MatchIDs(ctx context.Context, p Predicate) ([]string, error)
	Count(ctx context.Context, p Predicate) (int, error)
	// Find returns matching customers ordered by id; limit <= 0 means all.
	Find(ctx context.Context, p Predicate, limit int) ([]domain.Customer, error)
}
