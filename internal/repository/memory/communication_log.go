package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/delivery"
)

// LogRepo is an in-memory delivery.LogRepository. Counter increments go to
// the CampaignRepo it was created with.
type LogRepo struct {
	mu        sync.Mutex
	logs      map[string]*domain.CommunicationLog // by messageId
	campaigns *CampaignRepo
}

// NewLogRepo creates a log repository bound to campaigns. Deleting a campaign
// from campaigns also drops its logs.
func NewLogRepo(campaigns *CampaignRepo) *LogRepo {
	r := &LogRepo{logs: make(map[string]*domain.CommunicationLog), campaigns: campaigns}
	campaigns.logs = r
	return r
}

func (r *LogRepo) Create(_ context.Context, l *domain.CommunicationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.logs[l.MessageID]; exists {
		return delivery.ErrDuplicateMessageID
	}
	cp := *l
	r.logs[l.MessageID] = &cp
	return nil
}

func (r *LogRepo) GetByMessageID(_ context.Context, messageID string) (*domain.CommunicationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[messageID]
	if !ok {
		return nil, delivery.ErrLogNotFound
	}
	cp := *l
	return &cp, nil
}

// ApplyMarks holds the log lock and the campaign lock together, so the marks
// and the increments are seen at once or not at all.
func (r *LogRepo) ApplyMarks(_ context.Context, marks []delivery.Mark) (*delivery.MarkResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns.mu.Lock()
	defer r.campaigns.mu.Unlock()

	res := &delivery.MarkResult{Deltas: make(map[string]domain.Stats)}
	staged := make(map[string]*domain.CommunicationLog)
	for _, m := range marks {
		l, ok := staged[m.MessageID]
		if !ok {
			stored, found := r.logs[m.MessageID]
			if !found {
				res.NotFound = append(res.NotFound, m.MessageID)
				continue
			}
			cp := *stored
			l = &cp
			staged[m.MessageID] = l
		}
		d, applied := l.Record(m.Status, m.At, m.Reason)
		if !applied {
			res.Duplicates++
			continue
		}
		res.Applied++
		res.Deltas[l.CampaignID] = res.Deltas[l.CampaignID].Add(d)
	}

	for id := range res.Deltas {
		if _, ok := r.campaigns.campaigns[id]; !ok {
			return nil, fmt.Errorf("increment stats of campaign %s: %w", id, campaign.ErrNotFound)
		}
	}
	for id, l := range staged {
		r.logs[id] = l
	}
	for id, d := range res.Deltas {
		c := r.campaigns.campaigns[id]
		c.Stats = c.Stats.Add(d)
		r.campaigns.campaigns[id] = c
	}
	return res, nil
}

// dropCampaign removes every log of campaignID. The caller holds r.mu.
func (r *LogRepo) dropCampaign(campaignID string) {
	for id, l := range r.logs {
		if l.CampaignID == campaignID {
			delete(r.logs, id)
		}
	}
}

func (r *LogRepo) ListByCampaign(_ context.Context, campaignID string, limit int) ([]domain.CommunicationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CommunicationLog
	for _, l := range r.logs {
		if l.CampaignID == campaignID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *LogRepo) CountByStatus(_ context.Context, campaignID string) (map[domain.LogStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.LogStatus]int)
	for _, l := range r.logs {
		if l.CampaignID == campaignID {
			counts[l.Status]++
		}
	}
	return counts, nil
}
