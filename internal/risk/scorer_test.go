package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mbd888/riskcore/internal/audit"
	"github.com/mbd888/riskcore/internal/provider"
	"github.com/mbd888/riskcore/internal/store"
)

// fakeHistory returns canned aggregates.
type fakeHistory struct {
	countLastDay int
	sumLastDay    float64
	avg           float64
	total         int
	err           error
}

var _ History = (*fakeHistory)(nil)

func (f *fakeHistory) CountBySubjectSince(context.Context, string, time.Time) (int, error) {
	return f.countLastDay, f.err
}

func (f *fakeHistory) SumAmountBySubjectSince(context.Context, string, time.Time) (float64, error) {
	return f.sumLastDay, f.err
}

func (f *fakeHistory) AvgAmountBySubject(context.Context, string) (float64, int, error) {
	return f.avg, f.total, f.err
}

// fakeProvider returns a canned result or error.
type fakeProvider struct {
	res   *provider.Result
	err   error
	panic bool
}

var _ provider.FraudProvider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CheckFraud(context.Context, *provider.FraudRequest) (*provider.Result, error) {
	if f.panic {
		panic("boom")
	}
	return f.res, f.err
}

func newTestScorer(p provider.FraudProvider, h History) (*Scorer, *audit.MemoryLogger) {
	auditor := audit.NewMemoryLogger()
	return NewScorer(p, h, auditor, slog.New(slog.DiscardHandler)), auditor
}

func quietHour() time.Time {
	return time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)
}

func TestVelocityCheckHighBurst(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{countLastDay: 6, sumLastDay: 6000})
	c, err := s.velocityCheck(context.Background(), &CheckRequest{SubjectID: "sub"}, quietHour())
	if err != nil {
		t.Fatalf("velocityCheck: %v", err)
	}
	if c.score != 55 {
		t.Errorf("score = %d, want 55 (30 burst + 25 spend)", c.score)
	}
	if len(c.factors) != 2 {
		t.Errorf("factors = %v, want 2", c.factors)
	}
}

func TestVelocityCountsTrailingDay(t *testing.T) {
	txns := store.NewMemoryTransactionStore()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_ = txns.Create(ctx, &store.Transaction{
			ID:        fmt.Sprintf("t%d", i),
			SubjectID: "sub_1",
			Amount:    1000,
			CreatedAt: time.Now().Add(-3 * time.Hour),
		})
	}
	s, _ := newTestScorer(&fakeProvider{}, txns)

	c, err := s.velocityCheck(ctx, &CheckRequest{SubjectID: "sub_1"}, time.Now())
	if err != nil {
		t.Fatalf("velocityCheck: %v", err)
	}
	// 6 transactions totaling $6000 spread over the day: 30 burst + 25 spend.
	if c.score != 55 {
		t.Errorf("score = %d, want 55", c.score)
	}
}

func TestVelocityCheckElevated(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{countLastDay: 3, sumLastDay: 2500})
	c, err := s.velocityCheck(context.Background(), &CheckRequest{SubjectID: "sub"}, quietHour())
	if err != nil {
		t.Fatalf("velocityCheck: %v", err)
	}
	if c.score != 25 {
		t.Errorf("score = %d, want 25 (15 + 10)", c.score)
	}
}

func TestVelocityCheckQuietSubject(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{countLastDay: 1, sumLastDay: 50})
	c, _ := s.velocityCheck(context.Background(), &CheckRequest{SubjectID: "sub"}, quietHour())
	if c.score != 0 || len(c.factors) != 0 {
		t.Errorf("expected zero component, got %+v", c)
	}
}

func TestPatternCheckRoundAmountAndNightWindow(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{total: 10, avg: 80})
	night := time.Date(2026, 1, 10, 3, 30, 0, 0, time.UTC)
	c, err := s.patternCheck(context.Background(), &CheckRequest{SubjectID: "sub", Amount: 600}, night)
	if err != nil {
		t.Fatalf("patternCheck: %v", err)
	}
	if c.score != 25 {
		t.Errorf("score = %d, want 25 (10 round + 15 night)", c.score)
	}
}

func TestPatternCheckLargeFirstTransaction(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{total: 0})
	c, err := s.patternCheck(context.Background(), &CheckRequest{SubjectID: "sub", Amount: 1250}, quietHour())
	if err != nil {
		t.Fatalf("patternCheck: %v", err)
	}
	if c.score != 20 {
		t.Errorf("score = %d, want 20", c.score)
	}
}

func TestPatternCheckNightBoundaries(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{total: 1})
	cases := map[int]int{1: 0, 2: 15, 4: 15, 5: 0}
	for hour, want := range cases {
		at := time.Date(2026, 1, 10, hour, 0, 0, 0, time.UTC)
		c, _ := s.patternCheck(context.Background(), &CheckRequest{SubjectID: "sub", Amount: 42}, at)
		if c.score != want {
			t.Errorf("hour %02d: score = %d, want %d", hour, c.score, want)
		}
	}
}

func TestDeviceCheck(t *testing.T) {
	browser := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	cases := []struct {
		name string
		req  CheckRequest
		want int
	}{
		{"all signals present", CheckRequest{DeviceFingerprint: "fp", UserAgent: browser}, 0},
		{"missing fingerprint", CheckRequest{UserAgent: browser}, 15},
		{"missing user agent", CheckRequest{DeviceFingerprint: "fp"}, 10},
		{"bot-like agent", CheckRequest{DeviceFingerprint: "fp", UserAgent: "curl/8.4.0"}, 20},
		{"short agent", CheckRequest{DeviceFingerprint: "fp", UserAgent: "Opera/9"}, 20},
		{"terse but plausible agent", CheckRequest{DeviceFingerprint: "fp", UserAgent: "Mozilla/5.0"}, 0},
		{"everything wrong", CheckRequest{UserAgent: "python-requests/2.31"}, 35},
	}
	for _, tc := range cases {
		if got := deviceCheck(&tc.req); got.score != tc.want {
			t.Errorf("%s: score = %d, want %d", tc.name, got.score, tc.want)
		}
	}
}

func TestAmountCheckDeviation(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{avg: 100, total: 10})

	c, _ := s.amountCheck(context.Background(), &CheckRequest{SubjectID: "sub", Amount: 600})
	if c.score != 30 {
		t.Errorf("6x average: score = %d, want 30", c.score)
	}

	c, _ = s.amountCheck(context.Background(), &CheckRequest{SubjectID: "sub", Amount: 350})
	if c.score != 15 {
		t.Errorf("3.5x average: score = %d, want 15", c.score)
	}
}

func TestAmountCheckAbsoluteSize(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{}, &fakeHistory{})

	c, _ := s.amountCheck(context.Background(), &CheckRequest{SubjectID: "sub", Amount: 12000})
	if c.score != 25 {
		t.Errorf("very large: score = %d, want 25", c.score)
	}

	c, _ = s.amountCheck(context.Background(), &CheckRequest{SubjectID: "sub", Amount: 6000})
	if c.score != 15 {
		t.Errorf("large: score = %d, want 15", c.score)
	}
}

func TestCheckBlendsExternalAndInternal(t *testing.T) {
	p := &fakeProvider{res: &provider.Result{
		Score: 80, Provider: "fake", Ref: "fk-77", ProxySuspected: true,
		Factors: []string{"High-risk email domain"},
	}}
	h := &fakeHistory{countLastDay: 3, sumLastDay: 2500, avg: 100, total: 10}
	s, auditor := newTestScorer(p, h)

	res := s.Check(context.Background(), &CheckRequest{
		SubjectID:  "sub_1",
		Email:      "a@example.com",
		Amount:     600,
		UserAgent:  "curl/8.4.0",
		ObservedAt: time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC),
	})

	// velocity 25, pattern 25, device 15+20+30 = 65, amount 30
	// internal = 25*.30 + 25*.25 + 65*.25 + 30*.20 = 36.0
	// blended  = round(80*.6 + 36*.4) = 62
	if res.Score != 62 {
		t.Errorf("score = %d, want 62", res.Score)
	}
	if res.Decision != DecisionReview {
		t.Errorf("decision = %s, want REVIEW", res.Decision)
	}
	if res.ExternalScore != 80 || res.InternalScore != 36 {
		t.Errorf("external/internal = %d/%d, want 80/36", res.ExternalScore, res.InternalScore)
	}
	if len(res.Factors) == 0 || res.Factors[0] != "High-risk email domain" {
		t.Errorf("provider factors must come first: %v", res.Factors)
	}
	if !containsAction(res.RecommendedActions, "Escalate to senior analyst") {
		t.Errorf("expected senior-analyst escalation at score %d: %v", res.Score, res.RecommendedActions)
	}

	recs := auditor.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].Kind != audit.KindFraud || recs[0].Score != 62 || recs[0].Decision != "REVIEW" {
		t.Errorf("unexpected audit record: %+v", recs[0])
	}
	if res.ProviderRef != "fk-77" || recs[0].ProviderRef != "fk-77" {
		t.Errorf("provider reference dropped: result=%q audit=%q", res.ProviderRef, recs[0].ProviderRef)
	}
}

func TestCheckCleanSubjectApproves(t *testing.T) {
	p := &fakeProvider{res: &provider.Result{Score: 10, Provider: "fake"}}
	h := &fakeHistory{countLastDay: 1, sumLastDay: 120, avg: 90, total: 20}
	s, _ := newTestScorer(p, h)

	browser := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	res := s.Check(context.Background(), &CheckRequest{
		SubjectID: "sub_1", Email: "a@example.com", Amount: 95,
		DeviceFingerprint: "fp_abc", UserAgent: browser,
		ObservedAt: quietHour(),
	})
	if res.Decision != DecisionApprove {
		t.Errorf("decision = %s (score %d), want APPROVE", res.Decision, res.Score)
	}
	if res.RecommendedActions != nil {
		t.Errorf("approve carries no actions, got %v", res.RecommendedActions)
	}
}

func TestCheckMaximalSignalsDecline(t *testing.T) {
	p := &fakeProvider{res: &provider.Result{Score: 95, ProxySuspected: true, Provider: "fake"}}
	h := &fakeHistory{countLastDay: 10, sumLastDay: 9000, avg: 50, total: 30}
	s, _ := newTestScorer(p, h)

	res := s.Check(context.Background(), &CheckRequest{
		SubjectID: "sub_1", Amount: 12000, UserAgent: "",
		ObservedAt: time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC),
	})
	if res.Decision != DecisionDecline {
		t.Errorf("decision = %s (score %d), want DECLINE", res.Decision, res.Score)
	}
	if res.Score > 100 {
		t.Errorf("score %d exceeds 100", res.Score)
	}
	if !containsAction(res.RecommendedActions, "Decline the transaction") {
		t.Errorf("actions = %v", res.RecommendedActions)
	}
}

func TestCheckProviderErrorForcesReview(t *testing.T) {
	p := &fakeProvider{err: errors.New("provider down")}
	s, auditor := newTestScorer(p, &fakeHistory{})

	res := s.Check(context.Background(), &CheckRequest{SubjectID: "sub_1", Amount: 50})
	if res.Decision != DecisionReview || res.Score != failureScore {
		t.Errorf("got %s/%d, want REVIEW/%d", res.Decision, res.Score, failureScore)
	}
	if !containsAction(res.Factors, "Risk evaluation system error") {
		t.Errorf("factors = %v", res.Factors)
	}
	if len(auditor.Records()) != 1 {
		t.Error("failed checks must still be audited")
	}
}

func TestCheckHistoryErrorForcesReview(t *testing.T) {
	p := &fakeProvider{res: &provider.Result{Score: 5, Provider: "fake"}}
	s, _ := newTestScorer(p, &fakeHistory{err: errors.New("db down")})

	res := s.Check(context.Background(), &CheckRequest{SubjectID: "sub_1", Amount: 50})
	if res.Decision != DecisionReview || res.Score != failureScore {
		t.Errorf("got %s/%d, want REVIEW/%d", res.Decision, res.Score, failureScore)
	}
}

func TestCheckPanicRecovered(t *testing.T) {
	s, _ := newTestScorer(&fakeProvider{panic: true}, &fakeHistory{})

	res := s.Check(context.Background(), &CheckRequest{SubjectID: "sub_1", Amount: 50})
	if res.Decision != DecisionReview || res.Score != failureScore {
		t.Errorf("panic must degrade to forced review, got %s/%d", res.Decision, res.Score)
	}
}

func TestDecideThresholds(t *testing.T) {
	cases := map[int]Decision{
		0: DecisionApprove, 39: DecisionApprove,
		40: DecisionReview, 69: DecisionReview,
		70: DecisionDecline, 100: DecisionDecline,
	}
	for score, want := range cases {
		if got := decide(score); got != want {
			t.Errorf("decide(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestBotLikeAgent(t *testing.T) {
	// Only agents under 10 characters count as suspiciously short.
	for _, ua := range []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120",
		"Mozilla/5.0",
		"Dalvik/2.1.0",
	} {
		if botLikeAgent(ua) {
			t.Errorf("%q flagged as bot-like", ua)
		}
	}
	for _, ua := range []string{"curl/8.4.0", "python-requests/2.31.0", "Googlebot/2.1 (+http://www.google.com/bot.html)", "x", "Opera/9"} {
		if !botLikeAgent(ua) {
			t.Errorf("%q not flagged as bot-like", ua)
		}
	}
}

func containsAction(list []string, want string) bool {
	for _, s := range list {
		if strings.Contains(s, want) {
			return true
		}
	}
	return false
}
