package credit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/riskcore/internal/audit"
	"github.com/mbd888/riskcore/internal/idgen"
	"github.com/mbd888/riskcore/internal/metrics"
	"github.com/mbd888/riskcore/internal/provider"
	"github.com/mbd888/riskcore/internal/traces"
)

// Service evaluates credit applications. Safe for concurrent use.
type Service struct {
	bureau   provider.CreditBureau
	profiles Profiles
	auditor  audit.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a credit decision service. profiles may be nil, in which
// case decisions are not written back to the subject record.
func NewService(bureau provider.CreditBureau, profiles Profiles, auditor audit.Logger, logger *slog.Logger) *Service {
	return &Service{
		bureau:   bureau,
		profiles: profiles,
		auditor:  auditor,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate decides a credit application. It never fails: bureau errors and
// panics degrade to a conservative denial rather than an open-ended error,
// so a bureau outage cannot hand out credit. The audit record is written
// either way.
func (s *Service) Evaluate(ctx context.Context, req *CheckRequest) *CheckResult {
	start := s.now()
	ctx, span := traces.StartSpan(ctx, "credit.evaluate",
		traces.SubjectID(req.SubjectID), traces.Amount(req.RequestedAmount))
	defer span.End()

	result := s.evaluate(ctx, req)
	result.ID = idgen.WithPrefix("chk_")
	result.SubjectID = req.SubjectID
	result.RequestedAmount = req.RequestedAmount
	result.Latency = s.now().Sub(start)
	result.EvaluatedAt = s.now()

	decision := "declined"
	if result.Approved {
		decision = "approved"
	}
	span.SetAttributes(traces.Decision(decision))
	metrics.ChecksTotal.WithLabelValues("credit", decision).Inc()
	metrics.CheckDuration.WithLabelValues("credit").Observe(result.Latency.Seconds())

	audit.Write(ctx, s.auditor, s.logger, &audit.Record{
		ID:          idgen.WithPrefix("aud_"),
		SubjectID:   req.SubjectID,
		Kind:        audit.KindCredit,
		Amount:      req.RequestedAmount,
		Score:       result.Score,
		Decision:    decision,
		Factors:     []string{result.Reason},
		Provider:    result.Provider,
		ProviderRef: result.ProviderRef,
		Latency:     result.Latency,
	})

	s.logger.Info("credit check complete",
		"subject_id", req.SubjectID,
		"score", result.Score,
		"approved", result.Approved,
		"requested", req.RequestedAmount,
		"granted", result.ApprovedAmount,
		"tier", result.RiskTier,
	)
	return result
}

func (s *Service) evaluate(ctx context.Context, req *CheckRequest) (result *CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("credit check panicked", "subject_id", req.SubjectID, "panic", r)
			result = s.failureResult()
		}
	}()

	res, err := s.bureau.CheckCredit(ctx, &provider.CreditRequest{
		SubjectID:       req.SubjectID,
		Email:           req.Email,
		RequestedAmount: req.RequestedAmount,
	})
	if err != nil {
		s.logger.Error("credit bureau call failed", "subject_id", req.SubjectID, "error", err)
		return s.failureResult()
	}

	result = decideCredit(res.Score, req.RequestedAmount)
	result.Provider = res.Provider
	result.ProviderRef = res.Ref

	// Every completed evaluation refreshes the stored bureau score; only an
	// approval moves the credit line.
	if s.profiles != nil {
		var perr error
		if result.Approved {
			perr = s.profiles.ApplyCreditDecision(ctx, req.SubjectID, res.Score, result.ApprovedAmount)
		} else {
			perr = s.profiles.SetCreditScore(ctx, req.SubjectID, res.Score)
		}
		if perr != nil {
			// The decision stands; the profile write is retried on the
			// next check.
			s.logger.Warn("failed to record credit decision on subject",
				"subject_id", req.SubjectID, "error", perr)
		}
	}
	return result
}

// decideCredit applies the decision ladder to a bureau score.
func decideCredit(score int, requested float64) *CheckResult {
	maxAmount := MaxAmountForScore(score)
	tier := TierForScore(score)

	if score < MinApprovalScore {
		return &CheckResult{
			Approved:  false,
			Score:     score,
			MaxAmount: maxAmount,
			RiskTier:  tier,
			Reason:    fmt.Sprintf("Credit score %d is below the minimum threshold of %d", score, MinApprovalScore),
		}
	}

	if requested <= maxAmount {
		return &CheckResult{
			Approved:       true,
			Score:          score,
			ApprovedAmount: requested,
			MaxAmount:      maxAmount,
			RiskTier:       tier,
			Reason:         fmt.Sprintf("Approved for the full requested amount of $%.0f", requested),
		}
	}

	// Over the cap: decline the full request but counter-offer a reduced line.
	counter := maxAmount * CounterOfferRatio
	if requested < counter {
		counter = requested
	}
	return &CheckResult{
		Approved:       false,
		Score:          score,
		ApprovedAmount: counter,
		MaxAmount:      maxAmount,
		RiskTier:       tier,
		Reason: fmt.Sprintf("Requested $%.0f exceeds maximum approved limit of $%.0f; counter-offer of $%.0f available",
			requested, maxAmount, counter),
	}
}

func (s *Service) failureResult() *CheckResult {
	return &CheckResult{
		Approved: false,
		RiskTier: TierHigh,
		Reason:   "Credit evaluation system error",
		Provider: s.bureau.Name(),
	}
}

// Report fetches the subject's raw bureau view without making a decision.
func (s *Service) Report(ctx context.Context, subjectID, email string) (*BureauReport, error) {
	ctx, span := traces.StartSpan(ctx, "credit.report", traces.SubjectID(subjectID))
	defer span.End()

	res, err := s.bureau.CheckCredit(ctx, &provider.CreditRequest{
		SubjectID: subjectID,
		Email:     email,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bureau report: %w", err)
	}
	return &BureauReport{
		SubjectID:   subjectID,
		Score:       res.Score,
		Factors:     res.Factors,
		Provider:    res.Provider,
		ReportRef:   res.Ref,
		RetrievedAt: s.now(),
	}, nil
}
