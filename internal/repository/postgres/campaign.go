package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/campaign"
)

const campaignColumns = `id, name, segment_id, message, status, created_by,
	stats_total, stats_sent, stats_delivered, stats_failed, stats_opened, stats_clicked, stats_settled,
	scheduled_for, started_at, dispatched_at, completed_at, created_at, updated_at`

// CampaignRepo implements campaign.Repository and delivery.CampaignCompleter
// against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var scheduled, started, dispatched, completed sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.SegmentID, &c.Message, &c.Status, &c.CreatedBy,
		&c.Stats.Total, &c.Stats.Sent, &c.Stats.Delivered, &c.Stats.Failed, &c.Stats.Opened, &c.Stats.Clicked, &c.Stats.Settled,
		&scheduled, &started, &dispatched, &completed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ScheduledFor = timePtr(scheduled)
	c.StartedAt = timePtr(started)
	c.DispatchedAt = timePtr(dispatched)
	c.CompletedAt = timePtr(completed)
	return c, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE TRUE`
	args := []interface{}{}
	idx := 1
	if f.Owner != "" {
		where += fmt.Sprintf(" AND created_by = $%d", idx)
		args = append(args, f.Owner)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(f.Status))
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return out, total, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, segment_id, message, status, created_by,
			 stats_total, stats_sent, stats_delivered, stats_failed, stats_opened, stats_clicked,
			 scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, c.ID, c.Name, c.SegmentID, c.Message, string(c.Status), c.CreatedBy,
		c.Stats.Total, c.Stats.Sent, c.Stats.Delivered, c.Stats.Failed, c.Stats.Opened, c.Stats.Clicked,
		nullTime(c.ScheduledFor), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM campaigns WHERE id = $1 AND status <> 'running'`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// missOrConflict tells apart a guarded write that matched no row because the
// campaign is absent from one blocked by its status.
func (r *CampaignRepo) missOrConflict(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get campaign status: %w", err)
	}
	return campaign.ErrInvalidTransition
}

func (r *CampaignRepo) Update(ctx context.Context, id string, in campaign.UpdateInput, at time.Time) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		UPDATE campaigns SET
			name = COALESCE($2, name),
			message = COALESCE($3, message),
			scheduled_for = COALESCE($4, scheduled_for),
			status = CASE WHEN $4::timestamptz IS NULL THEN status ELSE 'scheduled' END,
			updated_at = $5
		WHERE id = $1 AND status IN ('draft', 'scheduled')
		RETURNING `+campaignColumns, id, nullString(in.Name), nullString(in.Message), nullTime(in.ScheduledFor), at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	return c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r *CampaignRepo) BeginRun(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		UPDATE campaigns SET status = 'running', started_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('draft', 'scheduled')
		RETURNING `+campaignColumns, id, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET dispatched_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) MarkFailed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'failed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'running'
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *CampaignRepo) IncrementStats(ctx context.Context, id string, d domain.Stats) error {
	return incrementStats(ctx, r.db, id, d)
}

// incrementStats adds d to the counters in one statement on db or a tx.
func incrementStats(ctx context.Context, db execer, id string, d domain.Stats) error {
	res, err := db.ExecContext(ctx, `
		UPDATE campaigns SET
			stats_total = stats_total + $2,
			stats_sent = stats_sent + $3,
			stats_delivered = stats_delivered + $4,
			stats_failed = stats_failed + $5,
			stats_opened = stats_opened + $6,
			stats_clicked = stats_clicked + $7,
			stats_settled = stats_settled + $8,
			updated_at = NOW()
		WHERE id = $1
	`, id, d.Total, d.Sent, d.Delivered, d.Failed, d.Opened, d.Clicked, d.Settled)
	if err != nil {
		return fmt.Errorf("increment stats: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) CompleteIfDrained(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'running' AND dispatched_at IS NOT NULL
		  AND stats_settled >= stats_total
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status = 'scheduled' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for`
	args := []interface{}{now}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
