package audit

import "sync"

// MemoryRecorder keeps records in memory. Used by tests and as the default
// recorder when no trail destination is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (mr *MemoryRecorder) Append(rec Record) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.records = append(mr.records, rec.Stamp())
	return nil
}

// Records returns a copy of everything appended so far.
func (mr *MemoryRecorder) Records() []Record {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	out := make([]Record, len(mr.records))
	copy(out, mr.records)
	return out
}

func (mr *MemoryRecorder) Close() error { return nil }
