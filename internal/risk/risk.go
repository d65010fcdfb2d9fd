// Package risk scores transaction attempts for fraud. A check blends an
// external provider score with four internal heuristic checks and maps the
// result onto an approve / review / decline decision.
package risk

import (
	"context"
	"time"
)

// Decision is the outcome of a fraud check.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReview  Decision = "REVIEW"
	DecisionDecline Decision = "DECLINE"
)

// Decision thresholds on the blended 0-100 score.
const (
	DeclineThreshold = 70
	ReviewThreshold  = 40

	// EscalateThreshold marks review-band scores that warrant senior-analyst
	// attention.
	EscalateThreshold = 60
)

// CheckRequest carries everything a fraud check evaluates.
type CheckRequest struct {
	SubjectID         string    `json:"subjectId"`
	Email             string    `json:"email"`
	Amount            float64   `json:"amount"`
	MerchantID        string    `json:"merchantId,omitempty"`
	IP                string    `json:"ip,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	UserAgent         string    `json:"userAgent,omitempty"`
	BillingAddress    string    `json:"billingAddress,omitempty"`
	ChargeID          string    `json:"chargeId,omitempty"`
	ObservedAt        time.Time `json:"observedAt,omitempty"`
}

// CheckResult is the outcome of a completed fraud check.
type CheckResult struct {
	ID                 string        `json:"id"`
	SubjectID          string        `json:"subjectId"`
	Score              int           `json:"score"`
	ExternalScore      int           `json:"externalScore"`
	InternalScore      int           `json:"internalScore"`
	Decision           Decision      `json:"decision"`
	Factors            []string      `json:"factors,omitempty"`
	RecommendedActions []string      `json:"recommendedActions,omitempty"`
	Provider           string        `json:"provider,omitempty"`
	ProviderRef        string        `json:"providerRef,omitempty"`
	Latency            time.Duration `json:"latencyMs"`
	EvaluatedAt        time.Time     `json:"evaluatedAt"`
}

// History serves the rolling aggregates the internal checks read.
// *store.MemoryTransactionStore and *store.PostgresTransactionStore satisfy it.
type History interface {
	CountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (int, error)
	SumAmountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (float64, error)
	AvgAmountBySubject(ctx context.Context, subjectID string) (avg float64, count int, err error)
}
