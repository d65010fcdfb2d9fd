package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/riskcore/internal/audit"
	"github.com/mbd888/riskcore/internal/idgen"
	"github.com/mbd888/riskcore/internal/metrics"
	"github.com/mbd888/riskcore/internal/provider"
	"github.com/mbd888/riskcore/internal/traces"
)

// Internal sub-check weights. The four components sum to 1.0.
const (
	weightVelocity = 0.30
	weightPattern  = 0.25
	weightDevice   = 0.25
	weightAmount   = 0.20
)

// Blend weights between the external provider score and the internal score.
// The provider carries more signal than our heuristics, so it dominates.
const (
	weightExternal = 0.6
	weightInternal = 0.4
)

// failureScore is assigned when the check itself fails. High enough to force
// review, below the decline threshold so a human makes the final call.
const failureScore = 75

// Velocity rule cutoffs.
const (
	velocityCountHigh     = 5
	velocityCountElevated = 2
	velocitySumHigh       = 5000
	velocitySumElevated   = 2000
)

// Amount rule cutoffs.
const (
	amountVeryLarge = 10000
	amountLarge     = 5000
)

// Scorer runs fraud checks. Safe for concurrent use.
type Scorer struct {
	provider provider.FraudProvider
	history  History
	auditor  audit.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// NewScorer creates a fraud scorer.
func NewScorer(p provider.FraudProvider, h History, a audit.Logger, logger *slog.Logger) *Scorer {
	return &Scorer{
		provider: p,
		history:  h,
		auditor:  a,
		logger:   logger,
		now:      time.Now,
	}
}

// component is one internal sub-check's contribution.
type component struct {
	score   int
	factors []string
}

func (c *component) add(delta int, factor string) {
	c.score += delta
	c.factors = append(c.factors, factor)
}

// Check scores a transaction attempt. It never fails: any internal error or
// panic degrades to a forced-review result so a transient outage cannot
// silently approve traffic. The audit record is written either way.
func (s *Scorer) Check(ctx context.Context, req *CheckRequest) *CheckResult {
	start := s.now()
	ctx, span := traces.StartSpan(ctx, "risk.check",
		traces.SubjectID(req.SubjectID), traces.Amount(req.Amount))
	defer span.End()

	result := s.evaluate(ctx, req)
	result.ID = idgen.WithPrefix("chk_")
	result.SubjectID = req.SubjectID
	result.Latency = s.now().Sub(start)
	result.EvaluatedAt = s.now()
	span.SetAttributes(traces.Decision(string(result.Decision)))

	metrics.ChecksTotal.WithLabelValues("fraud", strings.ToLower(string(result.Decision))).Inc()
	metrics.CheckDuration.WithLabelValues("fraud").Observe(result.Latency.Seconds())

	audit.Write(ctx, s.auditor, s.logger, &audit.Record{
		ID:                idgen.WithPrefix("aud_"),
		SubjectID:         req.SubjectID,
		Kind:              audit.KindFraud,
		Amount:            req.Amount,
		Score:             result.Score,
		Decision:          string(result.Decision),
		Factors:           result.Factors,
		Provider:          result.Provider,
		ProviderRef:       result.ProviderRef,
		IPAddress:         req.IP,
		DeviceFingerprint: req.DeviceFingerprint,
		UserAgent:         req.UserAgent,
		Latency:           result.Latency,
	})

	s.logger.Info("fraud check complete",
		"subject_id", req.SubjectID,
		"score", result.Score,
		"decision", result.Decision,
		"provider", result.Provider,
		"latency_ms", result.Latency.Milliseconds(),
	)
	return result
}

// evaluate runs the provider call and the four internal checks concurrently
// and blends the outcome.
func (s *Scorer) evaluate(ctx context.Context, req *CheckRequest) (result *CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fraud check panicked", "subject_id", req.SubjectID, "panic", r)
			result = s.failureResult()
		}
	}()

	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.now()
	}

	var (
		wg       sync.WaitGroup
		ext      *provider.Result
		extErr   error
		velocity component
		velErr   error
		pattern  component
		patErr   error
		device   component
		amount   component
		amtErr   error
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		ext, extErr = s.provider.CheckFraud(ctx, &provider.FraudRequest{
			SubjectID:         req.SubjectID,
			Email:             req.Email,
			IP:                req.IP,
			DeviceFingerprint: req.DeviceFingerprint,
			UserAgent:         req.UserAgent,
			MerchantID:        req.MerchantID,
			Amount:            req.Amount,
			ChargeID:          req.ChargeID,
		})
	}()
	go func() {
		defer wg.Done()
		velocity, velErr = s.velocityCheck(ctx, req, observedAt)
	}()
	go func() {
		defer wg.Done()
		pattern, patErr = s.patternCheck(ctx, req, observedAt)
	}()
	go func() {
		defer wg.Done()
		device = deviceCheck(req)
	}()
	go func() {
		defer wg.Done()
		amount, amtErr = s.amountCheck(ctx, req)
	}()
	wg.Wait()

	if extErr != nil || velErr != nil || patErr != nil || amtErr != nil {
		s.logger.Error("fraud check failed",
			"subject_id", req.SubjectID,
			"provider_err", extErr, "velocity_err", velErr,
			"pattern_err", patErr, "amount_err", amtErr,
		)
		return s.failureResult()
	}

	// The proxy signal arrives with the provider result, so it lands on the
	// device component after the join.
	if ext.ProxySuspected {
		device.add(30, "Connection via anonymizing proxy")
	}

	internal := float64(clamp(velocity.score))*weightVelocity +
		float64(clamp(pattern.score))*weightPattern +
		float64(clamp(device.score))*weightDevice +
		float64(clamp(amount.score))*weightAmount

	extScore := clamp(ext.Score)
	blended := clamp(int(math.Round(float64(extScore)*weightExternal + internal*weightInternal)))

	var factors []string
	factors = append(factors, ext.Factors...)
	factors = append(factors, velocity.factors...)
	factors = append(factors, pattern.factors...)
	factors = append(factors, device.factors...)
	factors = append(factors, amount.factors...)

	decision := decide(blended)
	return &CheckResult{
		Score:              blended,
		ExternalScore:      extScore,
		InternalScore:      clamp(int(math.Round(internal))),
		Decision:           decision,
		Factors:            factors,
		RecommendedActions: recommendedActions(decision, blended),
		Provider:           ext.Provider,
		ProviderRef:        ext.Ref,
	}
}

// velocityCheck flags bursts of transactions and spend over the trailing day.
func (s *Scorer) velocityCheck(ctx context.Context, req *CheckRequest, observedAt time.Time) (component, error) {
	var c component

	count, err := s.history.CountBySubjectSince(ctx, req.SubjectID, observedAt.Add(-24*time.Hour))
	if err != nil {
		return c, fmt.Errorf("velocity count: %w", err)
	}
	if count > velocityCountHigh {
		c.add(30, fmt.Sprintf("High transaction velocity: %d transactions in the last 24 hours", count))
	} else if count > velocityCountElevated {
		c.add(15, fmt.Sprintf("Elevated transaction velocity: %d transactions in the last 24 hours", count))
	}

	sum, err := s.history.SumAmountBySubjectSince(ctx, req.SubjectID, observedAt.Add(-24*time.Hour))
	if err != nil {
		return c, fmt.Errorf("velocity sum: %w", err)
	}
	if sum > velocitySumHigh {
		c.add(25, fmt.Sprintf("High spend velocity: $%.0f in the last 24 hours", sum))
	} else if sum > velocitySumElevated {
		c.add(10, fmt.Sprintf("Elevated spend velocity: $%.0f in the last 24 hours", sum))
	}
	return c, nil
}

// patternCheck flags shapes common in card testing and mule activity.
func (s *Scorer) patternCheck(ctx context.Context, req *CheckRequest, observedAt time.Time) (component, error) {
	var c component

	if req.Amount >= 500 && math.Mod(req.Amount, 100) == 0 {
		c.add(10, fmt.Sprintf("Suspiciously round amount of $%.0f", req.Amount))
	}

	if hour := observedAt.Hour(); hour >= 2 && hour < 5 {
		c.add(15, "Transaction during high-risk hours (02:00-05:00)")
	}

	_, count, err := s.history.AvgAmountBySubject(ctx, req.SubjectID)
	if err != nil {
		return c, fmt.Errorf("pattern history: %w", err)
	}
	if count == 0 && req.Amount > 1000 {
		c.add(20, "Large first transaction for subject")
	}
	return c, nil
}

// deviceCheck flags weak or bot-like client signals. Pure; the proxy signal
// is applied by the caller from the provider result.
func deviceCheck(req *CheckRequest) component {
	var c component

	if req.DeviceFingerprint == "" {
		c.add(15, "Missing device fingerprint")
	}
	if req.UserAgent == "" {
		c.add(10, "Missing user agent")
	} else if botLikeAgent(req.UserAgent) {
		c.add(20, "Bot-like user agent")
	}
	return c
}

func botLikeAgent(ua string) bool {
	if len(ua) < 10 {
		return true
	}
	lower := strings.ToLower(ua)
	for _, marker := range []string{"bot", "curl", "wget", "python", "httpclient"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// amountCheck flags deviation from the subject's own baseline and large
// absolute amounts.
func (s *Scorer) amountCheck(ctx context.Context, req *CheckRequest) (component, error) {
	var c component

	avg, count, err := s.history.AvgAmountBySubject(ctx, req.SubjectID)
	if err != nil {
		return c, fmt.Errorf("amount history: %w", err)
	}
	if count > 0 && avg > 0 {
		if req.Amount > 5*avg {
			c.add(30, fmt.Sprintf("Amount is more than 5x the subject average of $%.2f", avg))
		} else if req.Amount > 3*avg {
			c.add(15, fmt.Sprintf("Amount is more than 3x the subject average of $%.2f", avg))
		}
	}

	if req.Amount > amountVeryLarge {
		c.add(25, fmt.Sprintf("Very large transaction amount of $%.0f", req.Amount))
	} else if req.Amount > amountLarge {
		c.add(15, fmt.Sprintf("Large transaction amount of $%.0f", req.Amount))
	}
	return c, nil
}

func (s *Scorer) failureResult() *CheckResult {
	return &CheckResult{
		Score:              failureScore,
		ExternalScore:      0,
		InternalScore:      0,
		Decision:           DecisionReview,
		Factors:            []string{"Risk evaluation system error"},
		RecommendedActions: recommendedActions(DecisionReview, failureScore),
		Provider:           s.provider.Name(),
	}
}

func decide(score int) Decision {
	switch {
	case score >= DeclineThreshold:
		return DecisionDecline
	case score >= ReviewThreshold:
		return DecisionReview
	default:
		return DecisionApprove
	}
}

func recommendedActions(d Decision, score int) []string {
	switch d {
	case DecisionDecline:
		return []string{
			"Decline the transaction",
			"Flag subject account for investigation",
		}
	case DecisionReview:
		actions := []string{"Queue transaction for manual review"}
		if score >= EscalateThreshold {
			actions = append(actions, "Escalate to senior analyst")
		}
		return actions
	default:
		return nil
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
