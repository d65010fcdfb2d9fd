// Package credit decides credit applications from bureau scores. The decision
// ladder maps score tiers to maximum limits; requests above the subject's
// tier receive a reduced counter-offer instead of a flat denial.
package credit

import (
	"context"
	"time"
)

// RiskTier buckets a bureau score for downstream policy.
type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

// MinApprovalScore is the floor below which no credit is extended.
const MinApprovalScore = 580

// CounterOfferRatio scales the tier cap when the requested amount exceeds it.
const CounterOfferRatio = 0.6

// CheckRequest is a credit application.
type CheckRequest struct {
	SubjectID       string  `json:"subjectId"`
	Email           string  `json:"email"`
	RequestedAmount float64 `json:"requestedAmount"`
}

// CheckResult is the decision on a credit application.
//
// Approved means the full requested amount was granted. A declined result may
// still carry a non-zero ApprovedAmount: that is the counter-offer the
// subject can accept instead.
type CheckResult struct {
	ID              string        `json:"id"`
	SubjectID       string        `json:"subjectId"`
	Approved        bool          `json:"approved"`
	Score           int           `json:"score"`
	RequestedAmount float64       `json:"requestedAmount"`
	ApprovedAmount  float64       `json:"approvedAmount"`
	MaxAmount       float64       `json:"maxAmount"`
	RiskTier        RiskTier      `json:"riskTier"`
	Reason          string        `json:"reason,omitempty"`
	Provider        string        `json:"provider,omitempty"`
	ProviderRef     string        `json:"providerRef,omitempty"`
	Latency         time.Duration `json:"latencyMs"`
	EvaluatedAt     time.Time     `json:"evaluatedAt"`
}

// BureauReport is the raw bureau view of a subject, served read-only.
type BureauReport struct {
	SubjectID   string    `json:"subjectId"`
	Score       int       `json:"score"`
	Factors     []string  `json:"factors"`
	Provider    string    `json:"provider"`
	ReportRef   string    `json:"reportRef,omitempty"`
	RetrievedAt time.Time `json:"retrievedAt"`
}

// Profiles is the slice of the subject store the credit service writes.
// *store.MemorySubjectStore and *store.PostgresSubjectStore satisfy it.
type Profiles interface {
	ApplyCreditDecision(ctx context.Context, id string, creditScore int, limit float64) error
	SetCreditScore(ctx context.Context, id string, score int) error
}

// MaxAmountForScore returns the tier cap for a bureau score.
func MaxAmountForScore(score int) float64 {
	switch {
	case score >= 800:
		return 10000
	case score >= 750:
		return 7500
	case score >= 700:
		return 5000
	case score >= 650:
		return 3000
	case score >= 600:
		return 1500
	default:
		return 500
	}
}

// TierForScore buckets a bureau score.
func TierForScore(score int) RiskTier {
	switch {
	case score >= 750:
		return TierLow
	case score >= 650:
		return TierMedium
	default:
		return TierHigh
	}
}
