package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/queue"
	"github.com/ignite/audience-engine/internal/repository/memory"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/campaign"
)

// recordingPublisher captures send-requests and can fail for one customer.
type recordingPublisher struct {
	mu       sync.Mutex
	requests []domain.SendRequest
	failFor  string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == p.failFor {
		return errors.New("broker unavailable")
	}
	var req domain.SendRequest
	if err := queue.DecodeJSON(queue.Message{Topic: topic, Body: body}, &req); err != nil {
		return err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) sent() []domain.SendRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SendRequest(nil), p.requests...)
}

type harness struct {
	svc       *campaign.Service
	repo      *memory.CampaignRepo
	segments  *memory.SegmentRepo
	customers *memory.CustomerStore
	logs      *memory.LogRepo
	pub       *recordingPublisher
}

func newHarness(t *testing.T, opts campaign.Options, customers ...domain.Customer) *harness {
	t.Helper()
	repo := memory.NewCampaignRepo()
	h := &harness{
		repo:      repo,
		segments:  memory.NewSegmentRepo(),
		customers: memory.NewCustomerStore(customers...),
		logs:      memory.NewLogRepo(repo),
		pub:       &recordingPublisher{},
	}
	engine := segmentation.NewEngine(h.customers, h.segments)
	h.svc = campaign.NewService(campaign.Deps{
		Repo:      h.repo,
		Segments:  h.segments,
		Members:   segmentation.NewResolver(segmentation.NewMemoryCache(), engine, time.Minute),
		Customers: h.customers,
		Publisher: h.pub,
		Logs:      h.logs,
	}, opts)
	return h
}

func (h *harness) segment(t *testing.T, id string, g segmentation.RuleGroup) {
	t.Helper()
	require.NoError(t, h.segments.Create(context.Background(), &segmentation.Segment{ID: id, Name: id, Rules: g}))
}

var everyone = segmentation.RuleGroup{}

var bigSpenders = segmentation.RuleGroup{Rules: []segmentation.Rule{
	{Field: "totalSpent", Operator: segmentation.OpGreaterThan, Value: 5000},
}}

func TestInitiate_PersonalizesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{},
		domain.Customer{ID: "A", FirstName: "Ada", TotalSpent: 6000},
		domain.Customer{ID: "B", FirstName: "Bob", TotalSpent: 100},
	)
	h.segment(t, "big", bigSpenders)

	c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "vip", SegmentID: "big", Message: "Hi {{firstName}}"})
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, c.Status)

	started, err := h.svc.Initiate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignRunning, started.Status)
	assert.Equal(t, 1, started.Stats.Total)
	assert.NotNil(t, started.StartedAt)
	assert.NotNil(t, started.DispatchedAt)

	reqs := h.pub.sent()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.MessageTypeSend, reqs[0].Type)
	assert.Equal(t, c.ID, reqs[0].CampaignID)
	assert.Equal(t, "A", reqs[0].CustomerID)
	assert.Equal(t, "Hi Ada", reqs[0].Message)
}

func TestInitiate_RejectsNonStartableCampaign(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{}, domain.Customer{ID: "A", FirstName: "Ada"})
	h.segment(t, "all", everyone)

	c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "all", Message: "hello"})
	require.NoError(t, err)
	_, err = h.svc.Initiate(ctx, c.ID)
	require.NoError(t, err)

	_, err = h.svc.Initiate(ctx, c.ID)
	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, string(domain.CampaignRunning), conflict.State)
	assert.Len(t, h.pub.sent(), 1, "no second emission")

	got, _ := h.svc.Get(ctx, c.ID)
	assert.Equal(t, 1, got.Stats.Total)
}

func TestInitiate_UnknownCampaign(t *testing.T) {
	h := newHarness(t, campaign.Options{})
	_, err := h.svc.Initiate(context.Background(), "missing")
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestInitiate_EmptySegmentCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{}, domain.Customer{ID: "A", TotalSpent: 1})
	h.segment(t, "big", bigSpenders)

	c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "big", Message: "hello"})
	require.NoError(t, err)
	got, err := h.svc.Initiate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, got.Status)
	assert.Zero(t, got.Stats.Total)
	assert.Empty(t, h.pub.sent())
}

func TestInitiate_PublishFailureMarksFailedWithPartialTotal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{Concurrency: 1, BatchSize: 2},
		domain.Customer{ID: "A"}, domain.Customer{ID: "B"},
		domain.Customer{ID: "C"}, domain.Customer{ID: "D"},
	)
	h.pub.failFor = "C"
	h.segment(t, "all", everyone)

	c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "all", Message: "hello"})
	require.NoError(t, err)

	_, err = h.svc.Initiate(ctx, c.ID)
	require.Error(t, err)

	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignFailed, got.Status)
	assert.Equal(t, 2, got.Stats.Total)
	assert.Len(t, h.pub.sent(), 2)

	var conflict *domain.ConflictError
	_, err = h.svc.Initiate(ctx, c.ID)
	assert.True(t, errors.As(err, &conflict), "failed is terminal")
}

func TestInitiate_BatchesCoverEveryMember(t *testing.T) {
	ctx := context.Background()
	var customers []domain.Customer
	for i := 0; i < 25; i++ {
		customers = append(customers, domain.Customer{ID: fmt.Sprintf("c%02d", i), FirstName: fmt.Sprintf("n%d", i)})
	}
	h := newHarness(t, campaign.Options{Concurrency: 4, BatchSize: 7}, customers...)
	h.segment(t, "all", everyone)

	c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "all", Message: "Hi {{firstName}}"})
	require.NoError(t, err)
	got, err := h.svc.Initiate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, got.Stats.Total)

	seen := map[string]string{}
	for _, r := range h.pub.sent() {
		seen[r.CustomerID] = r.Message
	}
	assert.Len(t, seen, 25)
	assert.Equal(t, "Hi n7", seen["c07"])
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{}, domain.Customer{ID: "A"})
	h.segment(t, "all", everyone)

	t.Run("missing segment", func(t *testing.T) {
		_, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "nope", Message: "m"})
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "segmentId", ve.Field)
	})

	t.Run("blank message", func(t *testing.T) {
		_, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "all", Message: " "})
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "message", ve.Field)
	})

	t.Run("future schedule", func(t *testing.T) {
		at := time.Now().Add(time.Hour)
		c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "all", Message: "m", ScheduledFor: &at})
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignScheduled, c.Status)
		assert.Empty(t, h.pub.sent())
	})

	t.Run("start immediately", func(t *testing.T) {
		c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "x", SegmentID: "all", Message: "m", StartImmediately: true})
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignRunning, c.Status)
		assert.Equal(t, 1, c.Stats.Total)
	})
}

func TestInitiateDue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{}, domain.Customer{ID: "A"})
	h.segment(t, "all", everyone)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	require.NoError(t, h.repo.Create(ctx, &domain.Campaign{ID: "due", Name: "d", SegmentID: "all", Message: "m",
		Status: domain.CampaignScheduled, ScheduledFor: &past}))
	require.NoError(t, h.repo.Create(ctx, &domain.Campaign{ID: "later", Name: "l", SegmentID: "all", Message: "m",
		Status: domain.CampaignScheduled, ScheduledFor: &future}))

	n, err := h.svc.InitiateDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	due, _ := h.svc.Get(ctx, "due")
	assert.Equal(t, domain.CampaignRunning, due.Status)
	later, _ := h.svc.Get(ctx, "later")
	assert.Equal(t, domain.CampaignScheduled, later.Status)

	n, err = h.svc.InitiateDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{})
	h.segment(t, "all", everyone)
	for i := 0; i < 5; i++ {
		_, err := h.svc.Create(ctx, campaign.CreateInput{Name: fmt.Sprintf("c%d", i), SegmentID: "all", Message: "m", CreatedBy: "u1"})
		require.NoError(t, err)
	}
	_, err := h.svc.Create(ctx, campaign.CreateInput{Name: "other", SegmentID: "all", Message: "m", CreatedBy: "u2"})
	require.NoError(t, err)

	page, err := h.svc.List(ctx, "u1", "", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Len(t, page.Campaigns, 1)

	page, err = h.svc.List(ctx, "u1", "", 9, 2)
	require.NoError(t, err)
	assert.NotNil(t, page.Campaigns)
	assert.Empty(t, page.Campaigns)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{}, domain.Customer{ID: "A"})
	h.segment(t, "all", everyone)

	running, err := h.svc.Create(ctx, campaign.CreateInput{Name: "r", SegmentID: "all", Message: "m", StartImmediately: true})
	require.NoError(t, err)
	var conflict *domain.ConflictError
	assert.True(t, errors.As(h.svc.Delete(ctx, running.ID), &conflict))

	draft, err := h.svc.Create(ctx, campaign.CreateInput{Name: "d", SegmentID: "all", Message: "m"})
	require.NoError(t, err)
	require.NoError(t, h.svc.Delete(ctx, draft.ID))

	var nf *domain.NotFoundError
	assert.True(t, errors.As(h.svc.Delete(ctx, draft.ID), &nf))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{}, domain.Customer{ID: "A"})
	h.segment(t, "all", everyone)
	str := func(s string) *string { return &s }

	draft, err := h.svc.Create(ctx, campaign.CreateInput{Name: "d", SegmentID: "all", Message: "m"})
	require.NoError(t, err)

	t.Run("edits a draft", func(t *testing.T) {
		c, err := h.svc.Update(ctx, draft.ID, campaign.UpdateInput{Name: str(" Renamed "), Message: str("Hi {{firstName}}")})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", c.Name)
		assert.Equal(t, "Hi {{firstName}}", c.Message)
		assert.Equal(t, domain.CampaignDraft, c.Status)
		assert.Equal(t, "all", c.SegmentID)
	})

	t.Run("schedule makes it scheduled", func(t *testing.T) {
		at := time.Now().Add(time.Hour)
		c, err := h.svc.Update(ctx, draft.ID, campaign.UpdateInput{ScheduledFor: &at})
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignScheduled, c.Status)
		require.NotNil(t, c.ScheduledFor)
		assert.True(t, c.ScheduledFor.Equal(at))
		assert.Equal(t, "Renamed", c.Name)

		later := at.Add(time.Hour)
		c, err = h.svc.Update(ctx, draft.ID, campaign.UpdateInput{ScheduledFor: &later})
		require.NoError(t, err)
		assert.True(t, c.ScheduledFor.Equal(later))
	})

	t.Run("blank name", func(t *testing.T) {
		_, err := h.svc.Update(ctx, draft.ID, campaign.UpdateInput{Name: str("  ")})
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "name", ve.Field)
	})

	t.Run("blank message", func(t *testing.T) {
		_, err := h.svc.Update(ctx, draft.ID, campaign.UpdateInput{Message: str("")})
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "message", ve.Field)
	})

	t.Run("running is not editable", func(t *testing.T) {
		running, err := h.svc.Create(ctx, campaign.CreateInput{Name: "r", SegmentID: "all", Message: "m", StartImmediately: true})
		require.NoError(t, err)

		_, err = h.svc.Update(ctx, running.ID, campaign.UpdateInput{Message: str("changed")})
		var conflict *domain.ConflictError
		require.True(t, errors.As(err, &conflict))

		got, err := h.svc.Get(ctx, running.ID)
		require.NoError(t, err)
		assert.Equal(t, "m", got.Message)
	})

	t.Run("completed is not editable", func(t *testing.T) {
		require.NoError(t, h.repo.Create(ctx, &domain.Campaign{ID: "done", Name: "x", SegmentID: "all", Message: "m",
			Status: domain.CampaignCompleted}))
		_, err := h.svc.Update(ctx, "done", campaign.UpdateInput{Name: str("y")})
		var conflict *domain.ConflictError
		assert.True(t, errors.As(err, &conflict))
	})

	t.Run("unknown campaign", func(t *testing.T) {
		_, err := h.svc.Update(ctx, "missing", campaign.UpdateInput{Name: str("y")})
		var nf *domain.NotFoundError
		assert.True(t, errors.As(err, &nf))
	})
}

func TestDetailAndLogStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{}, domain.Customer{ID: "A"})
	h.segment(t, "all", everyone)
	c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "r", SegmentID: "all", Message: "m"})
	require.NoError(t, err)

	d, err := h.svc.Detail(ctx, c.ID)
	require.NoError(t, err)
	assert.NotNil(t, d.Logs)
	assert.Empty(t, d.Logs)

	require.NoError(t, h.logs.Create(ctx, &domain.CommunicationLog{ID: "l1", CampaignID: c.ID, MessageID: "m1", Status: domain.LogFailed}))
	counts, err := h.svc.LogStats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, map[domain.LogStatus]int{domain.LogFailed: 1}, counts)
}

type staticSummarizer string

func (s staticSummarizer) Summarize(context.Context, domain.Stats) (string, error) {
	return string(s), nil
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, campaign.Options{})
	h.segment(t, "all", everyone)
	c, err := h.svc.Create(ctx, campaign.CreateInput{Name: "r", SegmentID: "all", Message: "m"})
	require.NoError(t, err)

	_, err = h.svc.Summary(ctx, c.ID)
	assert.Error(t, err)

	svc := campaign.NewService(campaign.Deps{Repo: h.repo, Segments: h.segments, Logs: h.logs, Summarizer: staticSummarizer("all good")}, campaign.Options{})
	got, err := svc.Summary(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "all good", got)
}
