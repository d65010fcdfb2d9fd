package store

import (
	"context"
	"testing"
	"time"
)

var (
	_ SubjectStore     = (*MemorySubjectStore)(nil)
	_ SubjectStore     = (*PostgresSubjectStore)(nil)
	_ TransactionStore = (*MemoryTransactionStore)(nil)
	_ TransactionStore = (*PostgresTransactionStore)(nil)
)

func TestMemorySubjectCRUD(t *testing.T) {
	s := NewMemorySubjectStore()
	ctx := context.Background()

	sub := &Subject{ID: "sub_1", Email: "alice@example.com", Status: "active", CreatedAt: time.Now()}
	if err := s.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "sub_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Errorf("email = %q", got.Email)
	}

	if _, err := s.Get(ctx, "missing"); err != ErrSubjectNotFound {
		t.Errorf("Get(missing) err = %v, want ErrSubjectNotFound", err)
	}

	byEmail, err := s.GetByEmail(ctx, "ALICE@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if byEmail.ID != "sub_1" {
		t.Errorf("GetByEmail id = %q", byEmail.ID)
	}
}

func TestMemorySubjectCopySemantics(t *testing.T) {
	s := NewMemorySubjectStore()
	ctx := context.Background()

	_ = s.Create(ctx, &Subject{ID: "sub_1", Email: "a@b.c"})
	got, _ := s.Get(ctx, "sub_1")
	got.Email = "mutated@b.c"

	again, _ := s.Get(ctx, "sub_1")
	if again.Email != "a@b.c" {
		t.Error("mutating a returned subject leaked into the store")
	}
}

func TestMemorySubjectApplyCreditDecision(t *testing.T) {
	s := NewMemorySubjectStore()
	ctx := context.Background()
	_ = s.Create(ctx, &Subject{ID: "sub_1"})

	if err := s.ApplyCreditDecision(ctx, "sub_1", 720, 5000); err != nil {
		t.Fatalf("ApplyCreditDecision: %v", err)
	}
	got, _ := s.Get(ctx, "sub_1")
	if got.CreditScore != 720 || got.CreditLimit != 5000 || got.AvailableCredit != 5000 {
		t.Errorf("unexpected subject after decision: %+v", got)
	}
}

func TestMemorySubjectSetCreditScoreKeepsLimit(t *testing.T) {
	s := NewMemorySubjectStore()
	ctx := context.Background()
	_ = s.Create(ctx, &Subject{ID: "sub_1", CreditLimit: 3000, AvailableCredit: 2500})

	if err := s.SetCreditScore(ctx, "sub_1", 610); err != nil {
		t.Fatalf("SetCreditScore: %v", err)
	}
	got, _ := s.Get(ctx, "sub_1")
	if got.CreditScore != 610 {
		t.Errorf("score = %d, want 610", got.CreditScore)
	}
	if got.CreditLimit != 3000 || got.AvailableCredit != 2500 {
		t.Errorf("credit line changed by a score write: %+v", got)
	}
}

func TestMemorySubjectReduceCreditLimitIdempotent(t *testing.T) {
	s := NewMemorySubjectStore()
	ctx := context.Background()
	_ = s.Create(ctx, &Subject{ID: "sub_1", CreditLimit: 5000, AvailableCredit: 4200})

	for i := 0; i < 3; i++ {
		if err := s.ReduceCreditLimit(ctx, "sub_1", 2500); err != nil {
			t.Fatalf("ReduceCreditLimit: %v", err)
		}
	}
	got, _ := s.Get(ctx, "sub_1")
	if got.CreditLimit != 2500 || got.AvailableCredit != 2500 {
		t.Errorf("limit = %.0f avail = %.0f, want 2500/2500", got.CreditLimit, got.AvailableCredit)
	}

	// A reduction above the current limit is a no-op.
	_ = s.ReduceCreditLimit(ctx, "sub_1", 9000)
	got, _ = s.Get(ctx, "sub_1")
	if got.CreditLimit != 2500 {
		t.Errorf("limit raised by ReduceCreditLimit: %.0f", got.CreditLimit)
	}
}

func TestMemorySubjectDebitAndRestore(t *testing.T) {
	s := NewMemorySubjectStore()
	ctx := context.Background()
	_ = s.Create(ctx, &Subject{ID: "sub_1", CreditLimit: 1000, AvailableCredit: 1000})

	_ = s.DebitAvailableCredit(ctx, "sub_1", 300)
	got, _ := s.Get(ctx, "sub_1")
	if got.AvailableCredit != 700 {
		t.Errorf("available = %.0f, want 700", got.AvailableCredit)
	}

	// Debit floors at zero.
	_ = s.DebitAvailableCredit(ctx, "sub_1", 5000)
	got, _ = s.Get(ctx, "sub_1")
	if got.AvailableCredit != 0 {
		t.Errorf("available = %.0f, want 0", got.AvailableCredit)
	}

	// Restore caps at the limit.
	_ = s.RestoreAvailableCredit(ctx, "sub_1", 5000)
	got, _ = s.Get(ctx, "sub_1")
	if got.AvailableCredit != 1000 {
		t.Errorf("available = %.0f, want 1000", got.AvailableCredit)
	}
}

func TestMemoryTransactionStatus(t *testing.T) {
	s := NewMemoryTransactionStore()
	ctx := context.Background()

	_ = s.Create(ctx, &Transaction{ID: "txn_1", SubjectID: "sub_1", Amount: 100, Status: TxPending, CreatedAt: time.Now()})
	if err := s.SetStatus(ctx, "txn_1", TxReview, 62, "manual review required"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got, _ := s.Get(ctx, "txn_1")
	if got.Status != TxReview || got.RiskScore != 62 || got.ReviewReason != "manual review required" {
		t.Errorf("unexpected transaction: %+v", got)
	}

	if err := s.SetStatus(ctx, "missing", TxApproved, 0, ""); err != ErrTransactionNotFound {
		t.Errorf("SetStatus(missing) err = %v", err)
	}
}

func TestMemoryTransactionAggregates(t *testing.T) {
	s := NewMemoryTransactionStore()
	ctx := context.Background()
	now := time.Now()

	txns := []*Transaction{
		{ID: "t1", SubjectID: "sub_1", Amount: 100, CreatedAt: now.Add(-10 * time.Minute)},
		{ID: "t2", SubjectID: "sub_1", Amount: 300, CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "t3", SubjectID: "sub_1", Amount: 2000, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "t4", SubjectID: "sub_2", Amount: 50, CreatedAt: now.Add(-5 * time.Minute)},
	}
	for _, tx := range txns {
		if err := s.Create(ctx, tx); err != nil {
			t.Fatalf("Create %s: %v", tx.ID, err)
		}
	}

	count, err := s.CountBySubjectSince(ctx, "sub_1", now.Add(-time.Hour))
	if err != nil || count != 2 {
		t.Errorf("CountBySubjectSince = %d, %v; want 2", count, err)
	}

	sum, err := s.SumAmountBySubjectSince(ctx, "sub_1", now.Add(-24*time.Hour))
	if err != nil || sum != 400 {
		t.Errorf("SumAmountBySubjectSince = %.0f, %v; want 400", sum, err)
	}

	avg, n, err := s.AvgAmountBySubject(ctx, "sub_1")
	if err != nil || n != 3 {
		t.Fatalf("AvgAmountBySubject count = %d, %v; want 3", n, err)
	}
	if avg != 800 {
		t.Errorf("avg = %.0f, want 800", avg)
	}

	_, n, _ = s.AvgAmountBySubject(ctx, "sub_none")
	if n != 0 {
		t.Errorf("expected zero count for unknown subject, got %d", n)
	}

	subjects, err := s.DistinctSubjectsSince(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("DistinctSubjectsSince: %v", err)
	}
	if len(subjects) != 2 || subjects[0] != "sub_1" || subjects[1] != "sub_2" {
		t.Errorf("subjects = %v", subjects)
	}
}

func TestMemoryTransactionListByStatus(t *testing.T) {
	s := NewMemoryTransactionStore()
	ctx := context.Background()
	now := time.Now()

	_ = s.Create(ctx, &Transaction{ID: "t1", SubjectID: "s", Status: TxReview, CreatedAt: now.Add(-2 * time.Minute)})
	_ = s.Create(ctx, &Transaction{ID: "t2", SubjectID: "s", Status: TxReview, CreatedAt: now})
	_ = s.Create(ctx, &Transaction{ID: "t3", SubjectID: "s", Status: TxApproved, CreatedAt: now})

	list, err := s.ListByStatus(ctx, TxReview, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d transactions, want 2", len(list))
	}
	if list[0].ID != "t2" {
		t.Errorf("expected newest first, got %s", list[0].ID)
	}
}
