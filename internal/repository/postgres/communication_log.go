package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/service/delivery"
)

const logColumns = `id, campaign_id, customer_id, message, message_id, status, failure_reason,
	sent_at, delivered_at, failed_at, opened_at, clicked_at, created_at`

// statusRankSQL mirrors domain.LogStatus.Rank for the stored status.
const statusRankSQL = `CASE status
	WHEN 'pending' THEN 0 WHEN 'sent' THEN 1
	WHEN 'delivered' THEN 2 WHEN 'failed' THEN 2
	WHEN 'opened' THEN 3 WHEN 'clicked' THEN 4 ELSE -1 END`

var markColumns = map[domain.LogStatus]string{
	domain.LogSent:      "sent_at",
	domain.LogDelivered: "delivered_at",
	domain.LogFailed:    "failed_at",
	domain.LogOpened:    "opened_at",
	domain.LogClicked:   "clicked_at",
}

// LogRepo implements delivery.LogRepository against PostgreSQL.
type LogRepo struct{ db *sql.DB }

// NewLogRepo creates a Postgres-backed communication log repository.
func NewLogRepo(db *sql.DB) *LogRepo { return &LogRepo{db: db} }

func scanLog(row rowScanner) (*domain.CommunicationLog, error) {
	l := &domain.CommunicationLog{}
	var sent, delivered, failed, opened, clicked sql.NullTime
	err := row.Scan(
		&l.ID, &l.CampaignID, &l.CustomerID, &l.Message, &l.MessageID, &l.Status, &l.FailureReason,
		&sent, &delivered, &failed, &opened, &clicked, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.SentAt = timePtr(sent)
	l.DeliveredAt = timePtr(delivered)
	l.FailedAt = timePtr(failed)
	l.OpenedAt = timePtr(opened)
	l.ClickedAt = timePtr(clicked)
	return l, nil
}

func (r *LogRepo) Create(ctx context.Context, l *domain.CommunicationLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO communication_logs
			(id, campaign_id, customer_id, message, message_id, status, failure_reason,
			 sent_at, delivered_at, failed_at, opened_at, clicked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, l.ID, l.CampaignID, l.CustomerID, l.Message, l.MessageID, string(l.Status), l.FailureReason,
		nullTime(l.SentAt), nullTime(l.DeliveredAt), nullTime(l.FailedAt),
		nullTime(l.OpenedAt), nullTime(l.ClickedAt), l.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return delivery.ErrDuplicateMessageID
	}
	if err != nil {
		return fmt.Errorf("create communication log: %w", err)
	}
	return nil
}

func (r *LogRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.CommunicationLog, error) {
	l, err := scanLog(r.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM communication_logs WHERE message_id = $1`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get communication log: %w", err)
	}
	return l, nil
}

// ApplyMarks runs every mark and the per-campaign counter updates in one
// transaction. Marks are taken in messageId order so concurrent batches lock
// log rows in the same order.
func (r *LogRepo) ApplyMarks(ctx context.Context, marks []delivery.Mark) (*delivery.MarkResult, error) {
	ordered := append([]delivery.Mark(nil), marks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MessageID < ordered[j].MessageID })

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin receipt tx: %w", err)
	}
	defer tx.Rollback()

	res := &delivery.MarkResult{Deltas: make(map[string]domain.Stats)}
	for _, m := range ordered {
		campaignID, d, applied, err := markLog(ctx, tx, m)
		switch {
		case errors.Is(err, delivery.ErrLogNotFound):
			res.NotFound = append(res.NotFound, m.MessageID)
		case err != nil:
			return nil, err
		case !applied:
			res.Duplicates++
		default:
			res.Applied++
			res.Deltas[campaignID] = res.Deltas[campaignID].Add(d)
		}
	}

	ids := make([]string, 0, len(res.Deltas))
	for id := range res.Deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := incrementStats(ctx, tx, id, res.Deltas[id]); err != nil {
			return nil, fmt.Errorf("increment stats of campaign %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit receipt tx: %w", err)
	}
	return res, nil
}

// markLog sets the status timestamp only while it is still NULL, so
// concurrent duplicates of a receipt apply once. It returns the owning
// campaign and the counter increment of a new mark.
func markLog(ctx context.Context, tx *sql.Tx, m delivery.Mark) (string, domain.Stats, bool, error) {
	col, ok := markColumns[m.Status]
	if !ok {
		return "", domain.Stats{}, false, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", m.Status)}
	}
	reason := m.Reason
	if m.Status != domain.LogFailed {
		reason = ""
	}

	// After a sent or failed mark, both columns being set means the other
	// outcome settled the log earlier.
	var (
		campaignID  string
		bothOutcome bool
	)
	err := tx.QueryRowContext(ctx, `
		UPDATE communication_logs SET
			`+col+` = $2,
			status = CASE WHEN $3 > `+statusRankSQL+` THEN $4 ELSE status END,
			failure_reason = COALESCE(NULLIF($5, ''), failure_reason)
		WHERE message_id = $1 AND `+col+` IS NULL
		RETURNING campaign_id, (sent_at IS NOT NULL AND failed_at IS NOT NULL)
	`, m.MessageID, m.At, m.Status.Rank(), string(m.Status), reason).Scan(&campaignID, &bothOutcome)
	if err == nil {
		d := domain.StatsFor(m.Status, 1)
		if (m.Status == domain.LogSent || m.Status == domain.LogFailed) && !bothOutcome {
			d.Settled = 1
		}
		return campaignID, d, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", domain.Stats{}, false, fmt.Errorf("mark communication log: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT campaign_id FROM communication_logs WHERE message_id = $1`, m.MessageID).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.Stats{}, false, delivery.ErrLogNotFound
	}
	if err != nil {
		return "", domain.Stats{}, false, fmt.Errorf("get communication log: %w", err)
	}
	return campaignID, domain.Stats{}, false, nil
}

func (r *LogRepo) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.CommunicationLog, error) {
	q := `SELECT ` + logColumns + ` FROM communication_logs
		WHERE campaign_id = $1 ORDER BY created_at DESC, message_id`
	args := []interface{}{campaignID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list communication logs: %w", err)
	}
	defer rows.Close()

	var out []domain.CommunicationLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan communication log: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *LogRepo) CountByStatus(ctx context.Context, campaignID string) (map[domain.LogStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM communication_logs
		WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count communication logs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.LogStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.LogStatus(status)] = n
	}
	return counts, rows.Err()
}
