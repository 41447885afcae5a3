package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
	"github.com/ignite/audience-engine/internal/service/campaign"
	"github.com/ignite/audience-engine/internal/service/delivery"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var campaignCols = []string{
	"id", "name", "segment_id", "message", "status", "created_by",
	"stats_total", "stats_sent", "stats_delivered", "stats_failed", "stats_opened", "stats_clicked", "stats_settled",
	"scheduled_for", "started_at", "dispatched_at", "completed_at", "created_at", "updated_at",
}

func campaignRow(id string, status domain.CampaignStatus, started *time.Time) *sqlmock.Rows {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var startedVal interface{}
	if started != nil {
		startedVal = *started
	}
	return sqlmock.NewRows(campaignCols).AddRow(
		id, "Spring sale", "seg-1", "Hi {{firstName}}", string(status), "user-1",
		10, 6, 4, 1, 2, 1, 7,
		nil, startedVal, nil, nil, created, created,
	)
}

func TestCampaignRepo_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCampaignRepo(db)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM campaigns WHERE id = \$1`).
		WithArgs("c1").
		WillReturnRows(campaignRow("c1", domain.CampaignRunning, &started))

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignRunning, c.Status)
	assert.Equal(t, domain.Stats{Total: 10, Sent: 6, Delivered: 4, Failed: 1, Opened: 2, Clicked: 1, Settled: 7}, c.Stats)
	require.NotNil(t, c.StartedAt)
	assert.True(t, started.Equal(*c.StartedAt))
	assert.Nil(t, c.ScheduledFor)
	assert.Nil(t, c.DispatchedAt)
}

func TestCampaignRepo_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(campaignCols))

	_, err := NewCampaignRepo(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_ListFiltersAndPaginates(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM campaigns WHERE TRUE AND created_by = $1 AND status = $2`)).
		WithArgs("user-1", "draft").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("user-1", "draft", 2, 2).
		WillReturnRows(campaignRow("c3", domain.CampaignDraft, nil))

	out, total, err := NewCampaignRepo(db).List(context.Background(), campaign.ListFilter{
		Owner: "user-1", Status: domain.CampaignDraft, Limit: 2, Offset: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, out, 1)
	assert.Equal(t, "c3", out[0].ID)
}

func TestCampaignRepo_BeginRun(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	update := regexp.QuoteMeta(`UPDATE campaigns SET status = 'running', started_at = $2, updated_at = $2`)
	lookup := regexp.QuoteMeta(`SELECT status FROM campaigns WHERE id = $1`)

	t.Run("transitions", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(update).WithArgs("c1", at).
			WillReturnRows(campaignRow("c1", domain.CampaignRunning, &at))

		c, err := NewCampaignRepo(db).BeginRun(context.Background(), "c1", at)
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignRunning, c.Status)
	})

	t.Run("already running", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(update).WithArgs("c1", at).WillReturnRows(sqlmock.NewRows(campaignCols))
		mock.ExpectQuery(lookup).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))

		_, err := NewCampaignRepo(db).BeginRun(context.Background(), "c1", at)
		assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(update).WithArgs("nope", at).WillReturnRows(sqlmock.NewRows(campaignCols))
		mock.ExpectQuery(lookup).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"status"}))

		_, err := NewCampaignRepo(db).BeginRun(context.Background(), "nope", at)
		assert.ErrorIs(t, err, campaign.ErrNotFound)
	})
}

func TestCampaignRepo_Update(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	when := at.Add(24 * time.Hour)
	update := regexp.QuoteMeta(`WHERE id = $1 AND status IN ('draft', 'scheduled')`)
	lookup := regexp.QuoteMeta(`SELECT status FROM campaigns WHERE id = $1`)
	name := "Spring sale"

	t.Run("edits and schedules", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(update).
			WithArgs("c1", name, nil, when, at).
			WillReturnRows(campaignRow("c1", domain.CampaignScheduled, nil))

		c, err := NewCampaignRepo(db).Update(context.Background(), "c1",
			campaign.UpdateInput{Name: &name, ScheduledFor: &when}, at)
		require.NoError(t, err)
		assert.Equal(t, domain.CampaignScheduled, c.Status)
	})

	t.Run("running conflicts", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(update).WithArgs("c1", name, nil, nil, at).WillReturnRows(sqlmock.NewRows(campaignCols))
		mock.ExpectQuery(lookup).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))

		_, err := NewCampaignRepo(db).Update(context.Background(), "c1", campaign.UpdateInput{Name: &name}, at)
		assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(update).WithArgs("nope", name, nil, nil, at).WillReturnRows(sqlmock.NewRows(campaignCols))
		mock.ExpectQuery(lookup).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"status"}))

		_, err := NewCampaignRepo(db).Update(context.Background(), "nope", campaign.UpdateInput{Name: &name}, at)
		assert.ErrorIs(t, err, campaign.ErrNotFound)
	})
}

func TestCampaignRepo_IncrementStats(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`stats_total = stats_total + $2`)).
		WithArgs("c1", 0, 3, 1, 2, 0, 0, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewCampaignRepo(db).IncrementStats(context.Background(), "c1", domain.Stats{Sent: 3, Delivered: 1, Failed: 2, Settled: 4})
	require.NoError(t, err)
}

func TestCampaignRepo_IncrementStatsMissing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`UPDATE campaigns SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewCampaignRepo(db).IncrementStats(context.Background(), "c1", domain.Stats{Sent: 1})
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_CompleteIfDrained(t *testing.T) {
	at := time.Now().UTC()
	for _, tc := range []struct {
		name     string
		affected int64
		want     bool
	}{
		{"drained", 1, true},
		{"not drained", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectExec(regexp.QuoteMeta(`AND stats_settled >= stats_total`)).
				WithArgs("c1", at).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			done, err := NewCampaignRepo(db).CompleteIfDrained(context.Background(), "c1", at)
			require.NoError(t, err)
			assert.Equal(t, tc.want, done)
		})
	}
}

func TestCampaignRepo_DeleteRunningConflicts(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM campaigns WHERE id = $1 AND status <> 'running'`)).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM campaigns`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))

	err := NewCampaignRepo(db).Delete(context.Background(), "c1")
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestCampaignRepo_ListDue(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`WHERE status = 'scheduled' .+ ORDER BY scheduled_for LIMIT \$2`).
		WithArgs(now, 5).
		WillReturnRows(campaignRow("c1", domain.CampaignScheduled, nil))

	due, err := NewCampaignRepo(db).ListDue(context.Background(), now, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, domain.CampaignScheduled, due[0].Status)
}

var logCols = []string{
	"id", "campaign_id", "customer_id", "message", "message_id", "status", "failure_reason",
	"sent_at", "delivered_at", "failed_at", "opened_at", "clicked_at", "created_at",
}

func TestLogRepo_CreateDuplicateMessageID(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO communication_logs`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := NewLogRepo(db).Create(context.Background(), &domain.CommunicationLog{
		CampaignID: "c1", CustomerID: "cust-1", MessageID: "msg_1", Status: domain.LogSent,
	})
	assert.ErrorIs(t, err, delivery.ErrDuplicateMessageID)
}

func TestLogRepo_GetByMessageID(t *testing.T) {
	db, mock := newMock(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sent := created.Add(time.Second)
	mock.ExpectQuery(`FROM communication_logs WHERE message_id = \$1`).
		WithArgs("msg_1").
		WillReturnRows(sqlmock.NewRows(logCols).AddRow(
			"l1", "c1", "cust-1", "Hi Ada", "msg_1", "sent", "",
			sent, nil, nil, nil, nil, created,
		))

	l, err := NewLogRepo(db).GetByMessageID(context.Background(), "msg_1")
	require.NoError(t, err)
	assert.Equal(t, domain.LogSent, l.Status)
	require.NotNil(t, l.SentAt)
	assert.Nil(t, l.DeliveredAt)
}

func TestLogRepo_ApplyMarks(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	markDelivered := regexp.QuoteMeta(`WHERE message_id = $1 AND delivered_at IS NULL`)
	markSent := regexp.QuoteMeta(`WHERE message_id = $1 AND sent_at IS NULL`)
	markFailed := regexp.QuoteMeta(`WHERE message_id = $1 AND failed_at IS NULL`)
	lookup := regexp.QuoteMeta(`SELECT campaign_id FROM communication_logs WHERE message_id = $1`)
	increment := regexp.QuoteMeta(`stats_total = stats_total + $2`)
	marked := func(campaignID string, both bool) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"campaign_id", "both"}).AddRow(campaignID, both)
	}

	t.Run("marks and increments commit together", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(markDelivered).
			WithArgs("msg_1", at, 2, "delivered", "").
			WillReturnRows(marked("c1", false))
		mock.ExpectQuery(markSent).
			WithArgs("msg_2", at, 1, "sent", "").
			WillReturnRows(marked("c1", false))
		mock.ExpectExec(increment).
			WithArgs("c1", 0, 1, 1, 0, 0, 0, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := NewLogRepo(db).ApplyMarks(context.Background(), []delivery.Mark{
			{MessageID: "msg_2", Status: domain.LogSent, At: at},
			{MessageID: "msg_1", Status: domain.LogDelivered, At: at, Reason: "ignored"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Applied)
		assert.Equal(t, map[string]domain.Stats{"c1": {Sent: 1, Delivered: 1, Settled: 1}}, res.Deltas)
	})

	t.Run("duplicate and unknown messages", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(markDelivered).WithArgs("msg_1", at, 2, "delivered", "").
			WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "both"}))
		mock.ExpectQuery(lookup).WithArgs("msg_1").
			WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow("c1"))
		mock.ExpectQuery(markDelivered).WithArgs("msg_x", at, 2, "delivered", "").
			WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "both"}))
		mock.ExpectQuery(lookup).WithArgs("msg_x").
			WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}))
		mock.ExpectCommit()

		res, err := NewLogRepo(db).ApplyMarks(context.Background(), []delivery.Mark{
			{MessageID: "msg_x", Status: domain.LogDelivered, At: at},
			{MessageID: "msg_1", Status: domain.LogDelivered, At: at},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Applied)
		assert.Equal(t, 1, res.Duplicates)
		assert.Equal(t, []string{"msg_x"}, res.NotFound)
		assert.Empty(t, res.Deltas)
	})

	t.Run("failure after sent does not settle twice", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(markFailed).
			WithArgs("msg_1", at, 2, "failed", "bounced").
			WillReturnRows(marked("c1", true))
		mock.ExpectExec(increment).
			WithArgs("c1", 0, 0, 0, 1, 0, 0, 0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := NewLogRepo(db).ApplyMarks(context.Background(), []delivery.Mark{
			{MessageID: "msg_1", Status: domain.LogFailed, At: at, Reason: "bounced"},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.Stats{Failed: 1}, res.Deltas["c1"])
	})

	t.Run("failed increment rolls the marks back", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(markSent).WillReturnRows(marked("c1", false))
		mock.ExpectExec(increment).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := NewLogRepo(db).ApplyMarks(context.Background(), []delivery.Mark{
			{MessageID: "msg_1", Status: domain.LogSent, At: at},
		})
		assert.ErrorContains(t, err, "increment stats of campaign c1")
	})

	t.Run("pending is not a receipt status", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := NewLogRepo(db).ApplyMarks(context.Background(), []delivery.Mark{
			{MessageID: "msg_1", Status: domain.LogPending, At: at},
		})
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestLogRepo_CountByStatus(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`GROUP BY status`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("delivered", 4).
			AddRow("failed", 1))

	counts, err := NewLogRepo(db).CountByStatus(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.LogStatus]int{domain.LogDelivered: 4, domain.LogFailed: 1}, counts)
}

var customerCols = []string{
	"id", "first_name", "last_name", "email", "total_spent", "total_orders",
	"last_active", "address_country", "address_city", "metadata", "created_at",
}

func TestCustomerStore_MatchIDs(t *testing.T) {
	db, mock := newMock(t)
	p, err := segmentation.Compile(segmentation.RuleGroup{
		Conjunction: segmentation.ConjunctionAnd,
		Rules:       []segmentation.Rule{{Field: "totalSpent", Operator: segmentation.OpGreaterThan, Value: 5000}},
	})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.id FROM customers c")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := NewCustomerStore(db).MatchIDs(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestCustomerStore_QueryFailureIsStoreError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM customers c`).WillReturnError(sql.ErrConnDone)

	_, err := NewCustomerStore(db).Count(context.Background(), segmentation.MatchAll{})
	var serr *domain.StoreError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestCustomerStore_GetMany(t *testing.T) {
	db, mock := newMock(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE c.id = ANY($1)")).
		WithArgs(pq.Array([]string{"a", "zz"})).
		WillReturnRows(sqlmock.NewRows(customerCols).AddRow(
			"a", "Ada", nil, "ada@example.com", 120.5, 3,
			nil, "UK", "London", []byte(`{"tier":"gold"}`), created,
		))

	out, err := NewCustomerStore(db).GetMany(context.Background(), []string{"a", "zz"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Ada", out[0].FirstName)
	assert.Equal(t, "", out[0].LastName)
	assert.Equal(t, domain.Address{Country: "UK", City: "London"}, out[0].Address)
	assert.Equal(t, "gold", out[0].Metadata["tier"])
	assert.Nil(t, out[0].LastActive)
}

func TestCustomerStore_GetManyEmpty(t *testing.T) {
	db, _ := newMock(t)
	out, err := NewCustomerStore(db).GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

var segmentCols = []string{
	"id", "name", "description", "created_by", "rules", "estimated_size", "actual_size",
	"last_calculated", "is_active", "created_at", "updated_at",
}

func TestSegmentRepo_GetDecodesRules(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM segments WHERE id = \$1`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(segmentCols).AddRow(
			"s1", "Big spenders", "", "user-1",
			[]byte(`{"conjunction":"AND","rules":[{"field":"totalSpent","operator":"greater_than","value":5000}]}`),
			12, 0, nil, true, now, now,
		))

	s, err := NewSegmentRepo(db).Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, segmentation.ConjunctionAnd, s.Rules.Conjunction)
	require.Len(t, s.Rules.Rules, 1)
	assert.Equal(t, "totalSpent", s.Rules.Rules[0].Field)
	assert.Equal(t, 12, s.EstimatedSize)
	assert.Nil(t, s.LastCalculated)
}

func TestSegmentRepo_UpdateSizeMissing(t *testing.T) {
	db, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE segments SET actual_size`).WithArgs("s1", 7, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewSegmentRepo(db).UpdateSize(context.Background(), "s1", 7, at)
	assert.ErrorIs(t, err, segmentation.ErrNotFound)
}
