package campaign

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
)

var (
	// ErrNotFound is returned by Repository methods for an unknown id.
	ErrNotFound = errors.New("campaign not found")
	// ErrInvalidTransition is returned when a status guard rejects a change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, newest first, and the
	// total number of matches.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	Create(ctx context.Context, c *domain.Campaign) error

	// Delete removes a campaign. Returns ErrInvalidTransition for a running
	// campaign.
	Delete(ctx context.Context, id string) error

	// Update applies the non-nil fields of in to a draft or scheduled
	// campaign in one guarded write; a schedule also sets status scheduled.
	// Returns ErrInvalidTransition from any other status.
	Update(ctx context.Context, id string, in UpdateInput, at time.Time) (*domain.Campaign, error)

	// BeginRun atomically moves a draft or scheduled campaign to running and
	// stamps startedAt. Returns ErrInvalidTransition from any other status.
	BeginRun(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)

	// MarkDispatched stamps dispatchedAt once emission has finished.
	MarkDispatched(ctx context.Context, id string, at time.Time) error

	// MarkFailed moves a running campaign to failed.
	MarkFailed(ctx context.Context, id string, at time.Time) error

	// IncrementStats adds delta to the counters atomically.
	IncrementStats(ctx context.Context, id string, delta domain.Stats) error

	// CompleteIfDrained moves a running, dispatched campaign whose settled
	// count has reached total to completed. It reports whether this call
	// made the transition.
	CompleteIfDrained(ctx context.Context, id string, at time.Time) (bool, error)

	// ListDue returns scheduled campaigns whose scheduledFor is not after now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Owner  string
	Status domain.CampaignStatus
	Limit  int
	Offset int
}

// SegmentLookup loads segments. segmentation.Repository satisfies it.
type SegmentLookup interface {
	Get(ctx context.Context, id string) (*segmentation.Segment, error)
}

// MemberResolver resolves segment membership. *segmentation.Resolver
// satisfies it.
type MemberResolver interface {
	Members(ctx context.Context, s *segmentation.Segment) ([]string, error)
}

// CustomerDirectory loads customers by id. Unknown ids are skipped.
type CustomerDirectory interface {
	GetMany(ctx context.Context, ids []string) ([]domain.Customer, error)
}

// LogReader reads the communication logs of a campaign.
type LogReader interface {
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.CommunicationLog, error)
	CountByStatus(ctx context.Context, campaignID string) (map[domain.LogStatus]int, error)
}

// Summarizer writes a human summary of campaign stats.
type Summarizer interface {
	Summarize(ctx context.Context, stats domain.Stats) (string, error)
}
