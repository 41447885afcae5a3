package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-engine/internal/segmentation"
)

const segmentColumns = `id, name, description, created_by, rules, estimated_size, actual_size,
	last_calculated, is_active, created_at, updated_at`

// SegmentRepo implements segmentation.Repository against PostgreSQL. Rule
// trees are stored as jsonb.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

func scanSegment(row rowScanner) (*segmentation.Segment, error) {
	s := &segmentation.Segment{}
	var rules []byte
	var calculated sql.NullTime
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.CreatedBy, &rules, &s.EstimatedSize, &s.ActualSize,
		&calculated, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rules, &s.Rules); err != nil {
		return nil, fmt.Errorf("decode rules of segment %s: %w", s.ID, err)
	}
	s.LastCalculated = timePtr(calculated)
	return s, nil
}

func (r *SegmentRepo) Create(ctx context.Context, s *segmentation.Segment) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	rules, err := json.Marshal(s.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO segments
			(id, name, description, created_by, rules, estimated_size, actual_size,
			 last_calculated, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, s.ID, s.Name, s.Description, s.CreatedBy, rules, s.EstimatedSize, s.ActualSize,
		nullTime(s.LastCalculated), s.IsActive, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

func (r *SegmentRepo) Get(ctx context.Context, id string) (*segmentation.Segment, error) {
	s, err := scanSegment(r.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, segmentation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

func (r *SegmentRepo) List(ctx context.Context, owner string) ([]*segmentation.Segment, error) {
	q := `SELECT ` + segmentColumns + ` FROM segments`
	args := []interface{}{}
	if owner != "" {
		q += ` WHERE created_by = $1`
		args = append(args, owner)
	}
	q += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []*segmentation.Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SegmentRepo) Update(ctx context.Context, s *segmentation.Segment) error {
	rules, err := json.Marshal(s.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE segments SET name = $2, description = $3, rules = $4, estimated_size = $5,
			is_active = $6, updated_at = $7
		WHERE id = $1
	`, s.ID, s.Name, s.Description, rules, s.EstimatedSize, s.IsActive, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return segmentation.ErrNotFound
	}
	return nil
}

func (r *SegmentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return segmentation.ErrNotFound
	}
	return nil
}

func (r *SegmentRepo) UpdateSize(ctx context.Context, id string, size int, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE segments SET actual_size = $2, last_calculated = $3 WHERE id = $1`, id, size, at)
	if err != nil {
		return fmt.Errorf("update segment size: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return segmentation.ErrNotFound
	}
	return nil
}
