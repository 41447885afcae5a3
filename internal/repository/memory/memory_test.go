package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/delivery"
)

func TestCampaignRepo_BeginRunIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepo()
	require.NoError(t, repo.Create(ctx, &domain.Campaign{ID: "c1", Status: domain.CampaignDraft}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.BeginRun(ctx, "c1", time.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	_, err := repo.BeginRun(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_CompleteIfDrained(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepo()
	require.NoError(t, repo.Create(ctx, &domain.Campaign{ID: "c1", Status: domain.CampaignDraft}))
	_, err := repo.BeginRun(ctx, "c1", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.IncrementStats(ctx, "c1", domain.Stats{Total: 2, Sent: 1, Failed: 1, Settled: 2}))

	done, err := repo.CompleteIfDrained(ctx, "c1", time.Now())
	require.NoError(t, err)
	assert.False(t, done, "not dispatched yet")

	require.NoError(t, repo.MarkDispatched(ctx, "c1", time.Now()))
	done, err = repo.CompleteIfDrained(ctx, "c1", time.Now())
	require.NoError(t, err)
	assert.True(t, done)

	done, err = repo.CompleteIfDrained(ctx, "c1", time.Now())
	require.NoError(t, err)
	assert.False(t, done, "already completed")
}

func TestCampaignRepo_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepo()
	require.NoError(t, repo.Create(ctx, &domain.Campaign{ID: "c1", Name: "a", Status: domain.CampaignDraft}))

	c, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	c.Name = "changed"

	again, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Name)
}

func TestCampaignRepo_ListDue(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepo()
	now := time.Now()
	past, later := now.Add(-time.Minute), now.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, &domain.Campaign{ID: "due", Status: domain.CampaignScheduled, ScheduledFor: &past}))
	require.NoError(t, repo.Create(ctx, &domain.Campaign{ID: "later", Status: domain.CampaignScheduled, ScheduledFor: &later}))
	require.NoError(t, repo.Create(ctx, &domain.Campaign{ID: "draft", Status: domain.CampaignDraft}))

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}

func newRunningCampaign(t *testing.T, repo *CampaignRepo, id string, total int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &domain.Campaign{ID: id, Status: domain.CampaignDraft}))
	_, err := repo.BeginRun(ctx, id, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.IncrementStats(ctx, id, domain.Stats{Total: total}))
}

func TestLogRepo_ApplyMarksOncePerStatus(t *testing.T) {
	ctx := context.Background()
	campaigns := NewCampaignRepo()
	repo := NewLogRepo(campaigns)
	newRunningCampaign(t, campaigns, "c1", 1)
	require.NoError(t, repo.Create(ctx, &domain.CommunicationLog{MessageID: "m1", CampaignID: "c1", Status: domain.LogSent}))
	assert.ErrorIs(t, repo.Create(ctx, &domain.CommunicationLog{MessageID: "m1"}), delivery.ErrDuplicateMessageID)

	at := time.Now()
	res, err := repo.ApplyMarks(ctx, []delivery.Mark{
		{MessageID: "m1", Status: domain.LogDelivered, At: at},
		{MessageID: "m1", Status: domain.LogDelivered, At: at},
		// A late sent receipt is recorded but does not move the status back.
		{MessageID: "m1", Status: domain.LogSent, At: at},
		{MessageID: "nope", Status: domain.LogSent, At: at},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, []string{"nope"}, res.NotFound)
	assert.Equal(t, map[string]domain.Stats{"c1": {Sent: 1, Delivered: 1, Settled: 1}}, res.Deltas)

	l, err := repo.GetByMessageID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.LogDelivered, l.Status)
	assert.NotNil(t, l.SentAt)

	c, err := campaigns.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Total: 1, Sent: 1, Delivered: 1, Settled: 1}, c.Stats)
}

func TestLogRepo_ApplyMarksIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	campaigns := NewCampaignRepo()
	repo := NewLogRepo(campaigns)
	newRunningCampaign(t, campaigns, "c1", 1)
	require.NoError(t, repo.Create(ctx, &domain.CommunicationLog{MessageID: "m1", CampaignID: "c1"}))
	require.NoError(t, repo.Create(ctx, &domain.CommunicationLog{MessageID: "g1", CampaignID: "c2"}))

	marks := []delivery.Mark{
		{MessageID: "m1", Status: domain.LogSent, At: time.Now()},
		{MessageID: "g1", Status: domain.LogSent, At: time.Now()},
	}
	_, err := repo.ApplyMarks(ctx, marks)
	assert.ErrorIs(t, err, campaign.ErrNotFound)

	l, err := repo.GetByMessageID(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, l.SentAt, "no mark survives a failed increment")
	c, _ := campaigns.Get(ctx, "c1")
	assert.Equal(t, 0, c.Stats.Sent)

	// Redelivery once the store recovers counts every mark.
	newRunningCampaign(t, campaigns, "c2", 1)
	res, err := repo.ApplyMarks(ctx, marks)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	c, _ = campaigns.Get(ctx, "c1")
	assert.Equal(t, domain.Stats{Total: 1, Sent: 1, Settled: 1}, c.Stats)
}

func TestCampaignRepo_DeleteDropsLogs(t *testing.T) {
	ctx := context.Background()
	campaigns := NewCampaignRepo()
	logs := NewLogRepo(campaigns)
	require.NoError(t, campaigns.Create(ctx, &domain.Campaign{ID: "c1", Status: domain.CampaignCompleted}))
	require.NoError(t, campaigns.Create(ctx, &domain.Campaign{ID: "c2", Status: domain.CampaignCompleted}))
	require.NoError(t, logs.Create(ctx, &domain.CommunicationLog{MessageID: "m1", CampaignID: "c1"}))
	require.NoError(t, logs.Create(ctx, &domain.CommunicationLog{MessageID: "m2", CampaignID: "c2"}))

	require.NoError(t, campaigns.Delete(ctx, "c1"))

	_, err := logs.GetByMessageID(ctx, "m1")
	assert.ErrorIs(t, err, delivery.ErrLogNotFound)
	_, err = logs.GetByMessageID(ctx, "m2")
	assert.NoError(t, err)
}

func TestCustomerStore_FindAndGetMany(t *testing.T) {
	ctx := context.Background()
	store := NewCustomerStore(
		domain.Customer{ID: "b", TotalSpent: 6000},
		domain.Customer{ID: "a", TotalSpent: 7000},
		domain.Customer{ID: "c", TotalSpent: 10},
	)
	p, err := segmentation.Compile(segmentation.RuleGroup{Rules: []segmentation.Rule{
		{Field: "totalSpent", Operator: segmentation.OpGreaterThan, Value: 5000},
	}})
	require.NoError(t, err)

	ids, err := store.MatchIDs(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	found, err := store.Find(ctx, p, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)

	got, err := store.GetMany(ctx, []string{"c", "zz"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
}

func TestLoadCustomers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"c1","firstName":"Ada","address":{"city":"Pune"}}]`), 0o600))

	customers, err := LoadCustomers(path)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Pune", customers[0].Address.City)

	require.NoError(t, os.WriteFile(path, []byte(`{"id":"c1"}`), 0o600))
	_, err = LoadCustomers(path)
	assert.ErrorContains(t, err, "parse customers")
}
