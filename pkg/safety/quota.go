package safety

import (
	"context"
	"sync"
	"time"
)

// DateKey renders the calendar-day key for the quota counter.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// QuotaStore persists the per-day submission counter. IncrementIfBelow must
// be atomic across concurrent plans: under any interleaving the counter
// never exceeds max.
type QuotaStore interface {
	Get(ctx context.Context, date string) (int, error)
	IncrementIfBelow(ctx context.Context, date string, max int) (bool, error)
}

// MemoryQuotaStore is a process-local counter. Sufficient for a single
// engine process; multi-process deployments use the redis store.
type MemoryQuotaStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{counts: map[string]int{}}
}

func (s *MemoryQuotaStore) Get(_ context.Context, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[date], nil
}

func (s *MemoryQuotaStore) IncrementIfBelow(_ context.Context, date string, max int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[date] >= max {
		return false, nil
	}
	s.counts[date]++
	return true, nil
}
