package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// CustomerStore implements segmentation.CustomerStore and
// campaign.CustomerDirectory over the customers table. Predicates are
// compiled to SQL by segmentation.QueryBuilder.
type CustomerStore struct{ db *sql.DB }

// NewCustomerStore creates a Postgres-backed customer store.
func NewCustomerStore(db *sql.DB) *CustomerStore { return &CustomerStore{db: db} }

func storeErr(op string, err error) error {
	return &domain.StoreError{Op: op, Err: err}
}

func (s *CustomerStore) MatchIDs(ctx context.Context, p segmentation.Predicate) ([]string, error) {
	q, args, err := segmentation.NewQueryBuilder().BuildIDQuery(p)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("match customers", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan customer id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("match customers", err)
	}
	return ids, nil
}

func (s *CustomerStore) Count(ctx context.Context, p segmentation.Predicate) (int, error) {
	q, args, err := segmentation.NewQueryBuilder().BuildCountQuery(p)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, storeErr("count customers", err)
	}
	return n, nil
}

func (s *CustomerStore) Find(ctx context.Context, p segmentation.Predicate, limit int) ([]domain.Customer, error) {
	q, args, err := segmentation.NewQueryBuilder().BuildQuery(p, limit)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, "find customers", q, args...)
}

// GetMany loads the customers with the given ids. Unknown ids are skipped.
func (s *CustomerStore) GetMany(ctx context.Context, ids []string) ([]domain.Customer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := "SELECT " + segmentation.CustomerColumns + "\nFROM customers c\nWHERE c.id = ANY($1)\nORDER BY c.id"
	return s.query(ctx, "get customers", q, pq.Array(ids))
}

func (s *CustomerStore) query(ctx context.Context, op, q string, args ...interface{}) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, storeErr("scan customer", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var (
		c             domain.Customer
		first, last   sql.NullString
		country, city sql.NullString
		lastActive    sql.NullTime
		metadata      []byte
	)
	err := row.Scan(
		&c.ID, &first, &last, &c.Email, &c.TotalSpent, &c.TotalOrders,
		&lastActive, &country, &city, &metadata, &c.CreatedAt,
	)
	if err != nil {
		return c, err
	}
	c.FirstName = first.String
	c.LastName = last.String
	c.Address = domain.Address{Country: country.String, City: city.String}
	c.LastActive = timePtr(lastActive)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return c, fmt.Errorf("decode metadata of %s: %w", c.ID, err)
		}
	}
	return c, nil
}
