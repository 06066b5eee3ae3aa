package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/clearfile/taxcore/pkg/taxcore/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu           sync.RWMutex
	computations map[string]store.ComputationRecord
	ruleResults  map[string][]store.RuleResultRecord
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		computations: make(map[string]store.ComputationRecord),
		ruleResults:  make(map[string][]store.RuleResultRecord),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// SaveComputation inserts or replaces a computation record.
func (s *Store) SaveComputation(ctx context.Context, rec store.ComputationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computations[rec.ID] = rec
	return nil
}

// GetComputation returns a computation by ID.
func (s *Store) GetComputation(ctx context.Context, id string) (store.ComputationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.computations[id]
	return rec, ok, nil
}

// ListComputations returns computations for an assessment year, newest
// first. An empty year matches everything.
func (s *Store) ListComputations(ctx context.Context, assessmentYear string, limit int) ([]store.ComputationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	var out []store.ComputationRecord
	for _, rec := range s.computations {
		if assessmentYear != "" && rec.AssessmentYear != assessmentYear {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ComputedAt.After(out[j].ComputedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveRuleResults replaces the audit rows for a computation.
func (s *Store) SaveRuleResults(ctx context.Context, computationID string, rows []store.RuleResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]store.RuleResultRecord, len(rows))
	copy(copied, rows)
	s.ruleResults[computationID] = copied
	return nil
}

// GetRuleResults returns the audit rows for a computation.
func (s *Store) GetRuleResults(ctx context.Context, computationID string) ([]store.RuleResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.ruleResults[computationID]
	out := make([]store.RuleResultRecord, len(rows))
	copy(out, rows)
	return out, nil
}
