package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/queue"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// DetailLogLimit caps the logs returned with a campaign detail.
const DetailLogLimit = 100

// Options tunes the orchestrator.
type Options struct {
	// Concurrency bounds the sender tasks of one campaign.
	Concurrency int
	// BatchSize is how many customers are loaded and enqueued per round.
	BatchSize int
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 16
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	return o
}

// Deps are the collaborators of the Service.
type Deps struct {
	Repo      Repository
	Segments  SegmentLookup
	Members   MemberResolver
	Customers CustomerDirectory
	Publisher queue.Publisher
	Logs      LogReader
	// Summarizer is optional.
	Summarizer Summarizer
}

// Service implements the campaign state machine. All public methods are safe
// for concurrent use if the collaborators are.
type Service struct {
	repo       Repository
	segments   SegmentLookup
	members    MemberResolver
	customers  CustomerDirectory
	publisher  queue.Publisher
	logs       LogReader
	summarizer Summarizer
	opts       Options
	now        func() time.Time
}

// NewService creates a campaign service.
func NewService(d Deps, opts Options) *Service {
	return &Service{
		repo:       d.Repo,
		segments:   d.Segments,
		members:    d.Members,
		customers:  d.Customers,
		publisher:  d.Publisher,
		logs:       d.Logs,
		summarizer: d.Summarizer,
		opts:       opts.withDefaults(),
		now:        time.Now,
	}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name         string     `json:"name"`
	SegmentID    string     `json:"segmentId"`
	Message      string     `json:"message"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	CreatedBy    string     `json:"-"`
	// StartImmediately initiates an unscheduled campaign right after it is
	// stored.
	StartImmediately bool `json:"-"`
}

// Create validates and stores a campaign. A future schedule makes it
// scheduled, otherwise it is a draft, or it is initiated at once when
// StartImmediately is set.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	now := s.now().UTC()
	c := &domain.Campaign{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		SegmentID: in.SegmentID,
		Message:   in.Message,
		Status:    domain.CampaignDraft,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.segments.Get(ctx, in.SegmentID); err != nil {
		if errors.Is(err, segmentation.ErrNotFound) {
			return nil, &domain.ValidationError{Field: "segmentId", Reason: "does not reference a segment"}
		}
		return nil, fmt.Errorf("get segment: %w", err)
	}
	if in.ScheduledFor != nil && in.ScheduledFor.After(now) {
		at := in.ScheduledFor.UTC()
		c.ScheduledFor = &at
		c.Status = domain.CampaignScheduled
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	if in.StartImmediately && c.Status == domain.CampaignDraft {
		return s.Initiate(ctx, c.ID)
	}
	return c, nil
}

// UpdateInput holds the editable fields of a campaign. Nil fields are left
// unchanged.
type UpdateInput struct {
	Name         *string    `json:"name,omitempty"`
	Message      *string    `json:"message,omitempty"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

// Update edits a draft or scheduled campaign. Setting scheduledFor makes it
// scheduled. Any other status is rejected with a *domain.ConflictError.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Campaign, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, &domain.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		in.Name = &name
	}
	if in.Message != nil && strings.TrimSpace(*in.Message) == "" {
		return nil, &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if in.ScheduledFor != nil {
		at := in.ScheduledFor.UTC()
		in.ScheduledFor = &at
	}

	c, err := s.repo.Update(ctx, id, in, s.now().UTC())
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, &domain.NotFoundError{Resource: "campaign", ID: id}
	case errors.Is(err, ErrInvalidTransition):
		state := "not editable"
		if cur, gerr := s.repo.Get(ctx, id); gerr == nil {
			state = string(cur.Status)
		}
		return nil, &domain.ConflictError{Resource: "campaign", ID: id, State: state}
	case err != nil:
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	return c, nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "campaign", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// Detail is a campaign with its most recent logs.
type Detail struct {
	Campaign *domain.Campaign         `json:"campaign"`
	Logs     []domain.CommunicationLog `json:"logs"`
}

// Detail returns a campaign with up to DetailLogLimit logs.
func (s *Service) Detail(ctx context.Context, id string) (*Detail, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByCampaign(ctx, id, DetailLogLimit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	if logs == nil {
		logs = []domain.CommunicationLog{}
	}
	return &Detail{Campaign: c, Logs: logs}, nil
}

// Page is one page of a campaign list.
type Page struct {
	Campaigns []domain.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	Limit     int               `json:"limit"`
	Pages     int               `json:"pages"`
}

// List returns page (1-based) of the campaigns matching owner and status.
func (s *Service) List(ctx context.Context, owner string, status domain.CampaignStatus, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	items, total, err := s.repo.List(ctx, ListFilter{
		Owner:  owner,
		Status: status,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	if items == nil {
		items = []domain.Campaign{}
	}
	return &Page{
		Campaigns: items,
		Total:     total,
		Page:      page,
		Limit:     limit,
		Pages:     (total + limit - 1) / limit,
	}, nil
}

// Delete removes a campaign that is not running.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return &domain.NotFoundError{Resource: "campaign", ID: id}
	case errors.Is(err, ErrInvalidTransition):
		return &domain.ConflictError{Resource: "campaign", ID: id, State: string(domain.CampaignRunning)}
	case err != nil:
		return fmt.Errorf("delete campaign: %w", err)
	}
	return nil
}

// Initiate moves a draft or scheduled campaign to running and emits one
// send-request per segment member. Any other status is rejected with a
// *domain.ConflictError and nothing changes. If resolution or emission
// fails the campaign becomes failed with total counting only the members
// that were enqueued.
func (s *Service) Initiate(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.BeginRun(ctx, id, s.now().UTC())
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, &domain.NotFoundError{Resource: "campaign", ID: id}
	case errors.Is(err, ErrInvalidTransition):
		state := "not startable"
		if cur, gerr := s.repo.Get(ctx, id); gerr == nil {
			state = string(cur.Status)
		}
		return nil, &domain.ConflictError{Resource: "campaign", ID: id, State: state}
	case err != nil:
		return nil, fmt.Errorf("begin run: %w", err)
	}

	enqueued, err := s.dispatch(ctx, c)
	// Bookkeeping must land even if the caller has gone away.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		log.Printf("[campaign.Service] Campaign %s failed after enqueuing %d members: %v", id, enqueued, err)
		if ferr := s.repo.MarkFailed(bg, id, s.now().UTC()); ferr != nil {
			log.Printf("[campaign.Service] mark failed: %v", ferr)
		}
		return nil, fmt.Errorf("initiate campaign %s: %w", id, err)
	}

	if err := s.repo.MarkDispatched(bg, id, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("mark dispatched: %w", err)
	}
	if _, err := s.repo.CompleteIfDrained(bg, id, s.now().UTC()); err != nil {
		logger.Warn("completion check failed", "campaign_id", id, "error", err)
	}
	log.Printf("[campaign.Service] Campaign %s: enqueued %d send-requests", id, enqueued)
	return s.Get(bg, id)
}

// dispatch resolves members and publishes their send-requests batch by
// batch, adding each batch's successful enqueues to total.
func (s *Service) dispatch(ctx context.Context, c *domain.Campaign) (int, error) {
	seg, err := s.segments.Get(ctx, c.SegmentID)
	if err != nil {
		return 0, fmt.Errorf("get segment %s: %w", c.SegmentID, err)
	}
	members, err := s.members.Members(ctx, seg)
	if err != nil {
		return 0, fmt.Errorf("resolve members: %w", err)
	}

	total := 0
	for start := 0; start < len(members); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(members))
		n, err := s.dispatchBatch(ctx, c, members[start:end])
		if n > 0 {
			if ierr := s.repo.IncrementStats(context.WithoutCancel(ctx), c.ID, domain.Stats{Total: n}); ierr != nil {
				return total, fmt.Errorf("record total: %w", ierr)
			}
			total += n
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Service) dispatchBatch(ctx context.Context, c *domain.Campaign, ids []string) (int, error) {
	customers, err := s.customers.GetMany(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load customers: %w", err)
	}

	var enqueued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i := range customers {
		cust := &customers[i]
		g.Go(func() error {
			req := domain.SendRequest{
				Type:       domain.MessageTypeSend,
				CampaignID: c.ID,
				CustomerID: cust.ID,
				Message:    Render(c.Message, cust),
				Timestamp:  s.now().UTC(),
			}
			if err := queue.PublishJSON(gctx, s.publisher, domain.TopicDelivery, cust.ID, req); err != nil {
				return fmt.Errorf("enqueue send-request for %s: %w", cust.ID, err)
			}
			enqueued.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(enqueued.Load()), err
}

// Stats returns the aggregate counters of a campaign.
func (s *Service) Stats(ctx context.Context, id string) (domain.Stats, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return domain.Stats{}, err
	}
	return c.Stats, nil
}

// LogStats counts the campaign's logs by current status.
func (s *Service) LogStats(ctx context.Context, id string) (map[domain.LogStatus]int, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	counts, err := s.logs.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count logs: %w", err)
	}
	return counts, nil
}

// Summary asks the summarizer to describe the campaign's stats.
func (s *Service) Summary(ctx context.Context, id string) (string, error) {
	if s.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}
	stats, err := s.Stats(ctx, id)
	if err != nil {
		return "", err
	}
	return s.summarizer.Summarize(ctx, stats)
}

// InitiateDue initiates every scheduled campaign whose time has come and
// returns how many were started. Campaigns raced by another initiator are
// skipped.
func (s *Service) InitiateDue(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDue(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}
	started := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return started, ctx.Err()
		}
		_, err := s.Initiate(ctx, c.ID)
		var conflict *domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			continue
		case err != nil:
			logger.Error("scheduled initiation failed", "campaign_id", c.ID, "error", err)
			continue
		}
		started++
	}
	return started, nil
}
