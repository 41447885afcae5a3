package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/campaign"
)

// CampaignRepo is an in-memory campaign.Repository and
// delivery.CampaignCompleter.
type CampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]domain.Campaign
	logs      *LogRepo
}

func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[string]domain.Campaign)}
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	r.campaigns[c.ID] = *c
	r.mu.Unlock()
	return nil
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return &c, nil
}

func (r *CampaignRepo) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.Campaign
	for _, c := range r.campaigns {
		if f.Owner != "" && c.CreatedBy != f.Owner {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

// Delete removes the campaign and, when a LogRepo is bound, its logs. The
// log lock is taken first, as in LogRepo.ApplyMarks.
func (r *CampaignRepo) Delete(_ context.Context, id string) error {
	if r.logs != nil {
		r.logs.mu.Lock()
		defer r.logs.mu.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status == domain.CampaignRunning {
		return campaign.ErrInvalidTransition
	}
	delete(r.campaigns, id)
	if r.logs != nil {
		r.logs.dropCampaign(id)
	}
	return nil
}

func (r *CampaignRepo) Update(_ context.Context, id string, in campaign.UpdateInput, at time.Time) (*domain.Campaign, error) {
	var out domain.Campaign
	err := r.update(id, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
			return campaign.ErrInvalidTransition
		}
		if in.Name != nil {
			c.Name = *in.Name
		}
		if in.Message != nil {
			c.Message = *in.Message
		}
		if in.ScheduledFor != nil {
			when := *in.ScheduledFor
			c.ScheduledFor = &when
			c.Status = domain.CampaignScheduled
		}
		c.UpdatedAt = at
		out = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// update applies fn to the campaign under the lock.
func (r *CampaignRepo) update(id string, fn func(c *domain.Campaign) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if err := fn(&c); err != nil {
		return err
	}
	r.campaigns[id] = c
	return nil
}

func (r *CampaignRepo) BeginRun(_ context.Context, id string, at time.Time) (*domain.Campaign, error) {
	var out domain.Campaign
	err := r.update(id, func(c *domain.Campaign) error {
		if !c.CanInitiate() {
			return campaign.ErrInvalidTransition
		}
		c.Status = domain.CampaignRunning
		c.StartedAt = &at
		c.UpdatedAt = at
		out = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CampaignRepo) MarkDispatched(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(c *domain.Campaign) error {
		c.DispatchedAt = &at
		c.UpdatedAt = at
		return nil
	})
}

func (r *CampaignRepo) MarkFailed(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignRunning {
			return campaign.ErrInvalidTransition
		}
		c.Status = domain.CampaignFailed
		c.CompletedAt = &at
		c.UpdatedAt = at
		return nil
	})
}

func (r *CampaignRepo) IncrementStats(_ context.Context, id string, delta domain.Stats) error {
	return r.update(id, func(c *domain.Campaign) error {
		c.Stats = c.Stats.Add(delta)
		return nil
	})
}

func (r *CampaignRepo) CompleteIfDrained(_ context.Context, id string, at time.Time) (bool, error) {
	completed := false
	err := r.update(id, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignRunning || c.DispatchedAt == nil || !c.Stats.Drained() {
			return nil
		}
		c.Status = domain.CampaignCompleted
		c.CompletedAt = &at
		c.UpdatedAt = at
		completed = true
		return nil
	})
	return completed, err
}

func (r *CampaignRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Campaign
	for _, c := range r.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledFor != nil && !c.ScheduledFor.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(*due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
