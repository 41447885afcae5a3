package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// CustomerStore is an in-memory segmentation.CustomerStore and
// campaign.CustomerDirectory. Predicates are evaluated with
// segmentation.Match.
type CustomerStore struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	// Err, when set, is returned by every read.
	Err error
}

// NewCustomerStore creates a store holding customers.
func NewCustomerStore(customers ...domain.Customer) *CustomerStore {
	s := &CustomerStore{customers: make(map[string]domain.Customer)}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	return s
}

// Upsert stores c.
func (s *CustomerStore) Upsert(c domain.Customer) {
	s.mu.Lock()
	s.customers[c.ID] = c
	s.mu.Unlock()
}

func (s *CustomerStore) sorted() []domain.Customer {
	out := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *CustomerStore) Find(_ context.Context, p segmentation.Predicate, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []domain.Customer
	for _, c := range s.sorted() {
		if segmentation.Match(p, &c) {
			out = append(out, c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *CustomerStore) MatchIDs(ctx context.Context, p segmentation.Predicate) ([]string, error) {
	found, err := s.Find(ctx, p, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.ID
	}
	return ids, nil
}

func (s *CustomerStore) Count(ctx context.Context, p segmentation.Predicate) (int, error) {
	found, err := s.Find(ctx, p, 0)
	return len(found), err
}

func (s *CustomerStore) GetMany(_ context.Context, ids []string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]domain.Customer, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.customers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// LoadCustomers reads a JSON array of customers from path.
func LoadCustomers(path string) ([]domain.Customer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read customers: %w", err)
	}
	var customers []domain.Customer
	if err := json.Unmarshal(data, &customers); err != nil {
		return nil, fmt.Errorf("parse customers %s: %w", path, err)
	}
	return customers, nil
}
