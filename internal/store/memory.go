package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemorySubjectStore is an in-memory subject store for demo/development mode.
type MemorySubjectStore struct {
	subjects map[string]*Subject
	mu       sync.RWMutex
}

// NewMemorySubjectStore creates a new in-memory subject store.
func NewMemorySubjectStore() *MemorySubjectStore {
	return &MemorySubjectStore{subjects: make(map[string]*Subject)}
}

func (m *MemorySubjectStore) Create(_ context.Context, s *Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.subjects[s.ID] = &cp
	return nil
}

func (m *MemorySubjectStore) Get(_ context.Context, id string) (*Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subjects[id]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemorySubjectStore) GetByEmail(_ context.Context, email string) (*Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(email)
	for _, s := range m.subjects {
		if strings.ToLower(s.Email) == needle {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSubjectNotFound
}

func (m *MemorySubjectStore) Update(_ context.Context, s *Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subjects[s.ID]; !ok {
		return ErrSubjectNotFound
	}
	cp := *s
	cp.UpdatedAt = time.Now()
	m.subjects[s.ID] = &cp
	return nil
}

func (m *MemorySubjectStore) SetRiskScore(_ context.Context, id string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	s.RiskScore = score
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemorySubjectStore) SetCreditScore(_ context.Context, id string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	s.CreditScore = score
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemorySubjectStore) ApplyCreditDecision(_ context.Context, id string, creditScore int, limit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	s.CreditScore = creditScore
	s.CreditLimit = limit
	s.AvailableCredit = limit
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemorySubjectStore) ReduceCreditLimit(_ context.Context, id string, newLimit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	if newLimit < s.CreditLimit {
		s.CreditLimit = newLimit
		if s.AvailableCredit > newLimit {
			s.AvailableCredit = newLimit
		}
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemorySubjectStore) DebitAvailableCredit(_ context.Context, id string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	s.AvailableCredit -= amount
	if s.AvailableCredit < 0 {
		s.AvailableCredit = 0
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemorySubjectStore) RestoreAvailableCredit(_ context.Context, id string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	s.AvailableCredit += amount
	if s.AvailableCredit > s.CreditLimit {
		s.AvailableCredit = s.CreditLimit
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemorySubjectStore) SetRequiresVerification(_ context.Context, id string, required bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[id]
	if !ok {
		return ErrSubjectNotFound
	}
	s.RequiresVerification = required
	s.UpdatedAt = time.Now()
	return nil
}

// MemoryTransactionStore is an in-memory transaction store for demo/development mode.
type MemoryTransactionStore struct {
	txns map[string]*Transaction
	mu   sync.RWMutex
}

// NewMemoryTransactionStore creates a new in-memory transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{txns: make(map[string]*Transaction)}
}

func (m *MemoryTransactionStore) Create(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *MemoryTransactionStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryTransactionStore) SetStatus(_ context.Context, id string, status TxStatus, riskScore int, reviewReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txns[id]
	if !ok {
		return ErrTransactionNotFound
	}
	t.Status = status
	t.RiskScore = riskScore
	t.ReviewReason = reviewReason
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryTransactionStore) ListByStatus(_ context.Context, status TxStatus, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.txns {
		if t.Status == status {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryTransactionStore) CountBySubjectSince(_ context.Context, subjectID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.txns {
		if t.SubjectID == subjectID && t.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryTransactionStore) SumAmountBySubjectSince(_ context.Context, subjectID string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	for _, t := range m.txns {
		if t.SubjectID == subjectID && t.CreatedAt.After(since) {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (m *MemoryTransactionStore) AvgAmountBySubject(_ context.Context, subjectID string) (float64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	count := 0
	for _, t := range m.txns {
		if t.SubjectID == subjectID {
			sum += t.Amount
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return sum / float64(count), count, nil
}

func (m *MemoryTransactionStore) DistinctSubjectsSince(_ context.Context, since time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for _, t := range m.txns {
		if t.CreatedAt.After(since) {
			seen[t.SubjectID] = true
		}
	}
	subjects := make([]string, 0, len(seen))
	for id := range seen {
		subjects = append(subjects, id)
	}
	sort.Strings(subjects)
	if limit > 0 && len(subjects) > limit {
		subjects = subjects[:limit]
	}
	return subjects, nil
}
