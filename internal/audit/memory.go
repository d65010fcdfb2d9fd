package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryLogger stores audit records in memory for demo/testing.
type MemoryLogger struct {
	records []*Record
	mu      sync.RWMutex
}

// NewMemoryLogger creates an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(_ context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	l.records = append(l.records, &cp)
	return nil
}

func (l *MemoryLogger) Query(_ context.Context, q Query) ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var result []*Record
	// Iterate in reverse for descending order
	for i := len(l.records) - 1; i >= 0 && len(result) < limit; i-- {
		r := l.records[i]
		if q.SubjectID != "" && r.SubjectID != q.SubjectID {
			continue
		}
		if q.Kind != "" && r.Kind != q.Kind {
			continue
		}
		if !q.From.IsZero() && r.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && r.CreatedAt.After(q.To) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

// Records returns all stored records (for testing).
func (l *MemoryLogger) Records() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Record, len(l.records))
	copy(result, l.records)
	return result
}
