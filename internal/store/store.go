// Package store persists subjects and transactions and serves the history
// aggregates the scoring rules read.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSubjectNotFound     = errors.New("subject not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Subject is an account being risk-scored.
type Subject struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	Status               string    `json:"status"` // active, suspended
	RiskScore            int       `json:"riskScore"`
	CreditScore          int       `json:"creditScore"`
	CreditLimit          float64   `json:"creditLimit"`
	AvailableCredit      float64   `json:"availableCredit"`
	RequiresVerification bool      `json:"requiresVerification"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// TxStatus is the lifecycle state of a transaction.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxApproved TxStatus = "approved"
	TxRejected TxStatus = "rejected"
	TxReview   TxStatus = "review"
)

// Transaction is a single payment attempt by a subject.
type Transaction struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subjectId"`
	MerchantID   string    `json:"merchantId,omitempty"`
	Amount       float64   `json:"amount"`
	Status       TxStatus  `json:"status"`
	RiskScore    int       `json:"riskScore"`
	ReviewReason string    `json:"reviewReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SubjectStore persists subjects.
type SubjectStore interface {
	Create(ctx context.Context, s *Subject) error
	Get(ctx context.Context, id string) (*Subject, error)
	GetByEmail(ctx context.Context, email string) (*Subject, error)
	Update(ctx context.Context, s *Subject) error

	// SetRiskScore records the latest fraud score for the subject.
	SetRiskScore(ctx context.Context, id string, score int) error

	// SetCreditScore records the latest bureau score without touching the
	// credit line. Used for evaluations that did not grant a limit.
	SetCreditScore(ctx context.Context, id string, score int) error

	// ApplyCreditDecision records a bureau score and the resulting limit,
	// resetting available credit to the new limit.
	ApplyCreditDecision(ctx context.Context, id string, creditScore int, limit float64) error

	// ReduceCreditLimit lowers the subject's limit to newLimit if it is
	// currently higher. Idempotent: re-applying the same reduction is a no-op.
	ReduceCreditLimit(ctx context.Context, id string, newLimit float64) error

	// SetRequiresVerification flags the subject for identity re-verification.
	SetRequiresVerification(ctx context.Context, id string, required bool) error

	// DebitAvailableCredit reserves amount against the subject's available
	// credit, flooring at zero.
	DebitAvailableCredit(ctx context.Context, id string, amount float64) error

	// RestoreAvailableCredit returns amount to the subject's available
	// credit, capped at the current limit. Used when a reserved transaction
	// is declined.
	RestoreAvailableCredit(ctx context.Context, id string, amount float64) error
}

// TransactionStore persists transactions and serves the rolling-window
// aggregates the velocity and deviation rules read.
type TransactionStore interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)

	// SetStatus moves a transaction to a new status, recording the risk
	// score and, for review, the reason.
	SetStatus(ctx context.Context, id string, status TxStatus, riskScore int, reviewReason string) error

	ListByStatus(ctx context.Context, status TxStatus, limit int) ([]*Transaction, error)

	// CountBySubjectSince counts the subject's transactions created after since.
	CountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (int, error)

	// SumAmountBySubjectSince sums the subject's transaction amounts created after since.
	SumAmountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (float64, error)

	// AvgAmountBySubject returns the subject's all-time average amount and
	// transaction count. A zero count means the subject has no history.
	AvgAmountBySubject(ctx context.Context, subjectID string) (avg float64, count int, err error)

	// DistinctSubjectsSince lists subjects with any transaction after since.
	DistinctSubjectsSince(ctx context.Context, since time.Time, limit int) ([]string, error)
}
