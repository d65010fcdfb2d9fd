package credit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/mbd888/riskcore/internal/audit"
	"github.com/mbd888/riskcore/internal/provider"
)

// fakeBureau returns a canned score or error.
type fakeBureau struct {
	score   int
	factors []string
	err     error
	panic   bool
}

var _ provider.CreditBureau = (*fakeBureau)(nil)

func (f *fakeBureau) Name() string { return "fake" }

func (f *fakeBureau) CheckCredit(context.Context, *provider.CreditRequest) (*provider.Result, error) {
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Result{Score: f.score, Factors: f.factors, Ref: "rep-1", Provider: "fake"}, nil
}

// fakeProfiles records decisions applied to subjects.
type fakeProfiles struct {
	mu      sync.Mutex
	applied map[string]float64
	scores  map[string]int
	err     error
}

var _ Profiles = (*fakeProfiles)(nil)

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{applied: make(map[string]float64), scores: make(map[string]int)}
}

func (f *fakeProfiles) ApplyCreditDecision(_ context.Context, id string, score int, limit float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.applied[id] = limit
	f.scores[id] = score
	return nil
}

func (f *fakeProfiles) SetCreditScore(_ context.Context, id string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scores[id] = score
	return nil
}

func newTestService(b provider.CreditBureau, p Profiles) (*Service, *audit.MemoryLogger) {
	auditor := audit.NewMemoryLogger()
	return NewService(b, p, auditor, slog.New(slog.DiscardHandler)), auditor
}

func TestMaxAmountForScoreTiers(t *testing.T) {
	cases := map[int]float64{
		850: 10000, 800: 10000,
		799: 7500, 750: 7500,
		749: 5000, 700: 5000,
		699: 3000, 650: 3000,
		649: 1500, 600: 1500,
		599: 500, 300: 500,
	}
	for score, want := range cases {
		if got := MaxAmountForScore(score); got != want {
			t.Errorf("MaxAmountForScore(%d) = %.0f, want %.0f", score, got, want)
		}
	}
}

func TestTierForScore(t *testing.T) {
	cases := map[int]RiskTier{
		820: TierLow, 750: TierLow,
		749: TierMedium, 650: TierMedium,
		649: TierHigh, 400: TierHigh,
	}
	for score, want := range cases {
		if got := TierForScore(score); got != want {
			t.Errorf("TierForScore(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestEvaluateApprovesWithinCap(t *testing.T) {
	profiles := newFakeProfiles()
	s, auditor := newTestService(&fakeBureau{score: 720}, profiles)

	res := s.Evaluate(context.Background(), &CheckRequest{
		SubjectID: "sub_1", Email: "a@example.com", RequestedAmount: 4000,
	})
	if !res.Approved {
		t.Fatalf("expected approval: %+v", res)
	}
	if res.ApprovedAmount != 4000 || res.MaxAmount != 5000 || res.RiskTier != TierMedium {
		t.Errorf("unexpected result: %+v", res)
	}
	if profiles.applied["sub_1"] != 4000 {
		t.Errorf("decision not applied to subject: %v", profiles.applied)
	}

	recs := auditor.Records()
	if len(recs) != 1 || recs[0].Kind != audit.KindCredit || recs[0].Decision != "approved" {
		t.Errorf("unexpected audit trail: %+v", recs)
	}
	if res.ProviderRef != "rep-1" || recs[0].ProviderRef != "rep-1" {
		t.Errorf("bureau reference dropped: result=%q audit=%q", res.ProviderRef, recs[0].ProviderRef)
	}
}

func TestEvaluateCounterOffersOverCap(t *testing.T) {
	// 820 caps at $10,000; asking $12,000 yields a $6,000 counter-offer.
	s, _ := newTestService(&fakeBureau{score: 820}, newFakeProfiles())

	res := s.Evaluate(context.Background(), &CheckRequest{
		SubjectID: "sub_1", RequestedAmount: 12000,
	})
	if res.Approved {
		t.Fatal("over-cap request must not be approved in full")
	}
	if res.ApprovedAmount != 6000 {
		t.Errorf("counter-offer = %.0f, want 6000", res.ApprovedAmount)
	}
	if !strings.Contains(res.Reason, "exceeds maximum approved limit of $10000") {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.RiskTier != TierLow {
		t.Errorf("tier = %s, want LOW", res.RiskTier)
	}
}

func TestEvaluateDeniesBelowMinimumScore(t *testing.T) {
	profiles := newFakeProfiles()
	s, _ := newTestService(&fakeBureau{score: 540}, profiles)

	res := s.Evaluate(context.Background(), &CheckRequest{SubjectID: "sub_1", RequestedAmount: 400})
	if res.Approved || res.ApprovedAmount != 0 {
		t.Errorf("expected flat denial: %+v", res)
	}
	if !strings.Contains(res.Reason, "below the minimum threshold") {
		t.Errorf("reason = %q", res.Reason)
	}
	if len(profiles.applied) != 0 {
		t.Error("denied decision must not grant a credit line")
	}
	// The evaluation still happened, so the bureau score is kept current.
	if profiles.scores["sub_1"] != 540 {
		t.Errorf("score not propagated on denial: %v", profiles.scores)
	}
}

func TestEvaluateBureauErrorDeniesConservatively(t *testing.T) {
	s, auditor := newTestService(&fakeBureau{err: errors.New("bureau down")}, newFakeProfiles())

	res := s.Evaluate(context.Background(), &CheckRequest{SubjectID: "sub_1", RequestedAmount: 1000})
	if res.Approved || res.ApprovedAmount != 0 || res.RiskTier != TierHigh {
		t.Errorf("bureau failure must deny conservatively: %+v", res)
	}
	if len(auditor.Records()) != 1 {
		t.Error("failed evaluations must still be audited")
	}
}

func TestEvaluatePanicRecovered(t *testing.T) {
	s, _ := newTestService(&fakeBureau{panic: true}, nil)

	res := s.Evaluate(context.Background(), &CheckRequest{SubjectID: "sub_1", RequestedAmount: 1000})
	if res.Approved || res.RiskTier != TierHigh {
		t.Errorf("panic must deny conservatively: %+v", res)
	}
}

func TestEvaluateProfileWriteFailureDoesNotChangeDecision(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.err = errors.New("db down")
	s, _ := newTestService(&fakeBureau{score: 700}, profiles)

	res := s.Evaluate(context.Background(), &CheckRequest{SubjectID: "sub_1", RequestedAmount: 2000})
	if !res.Approved {
		t.Errorf("profile write failure changed the decision: %+v", res)
	}
}

func TestReportPassesThroughBureauFactors(t *testing.T) {
	factors := []string{"Payment history: 95% on-time", "Credit utilization: 30%"}
	s, _ := newTestService(&fakeBureau{score: 705, factors: factors}, nil)

	rep, err := s.Report(context.Background(), "sub_1", "a@example.com")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if rep.Score != 705 || len(rep.Factors) != 2 || rep.Provider != "fake" {
		t.Errorf("unexpected report: %+v", rep)
	}
}

func TestReportPropagatesBureauError(t *testing.T) {
	s, _ := newTestService(&fakeBureau{err: errors.New("down")}, nil)
	if _, err := s.Report(context.Background(), "sub_1", "a@example.com"); err == nil {
		t.Fatal("expected error")
	}
}
