package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/riskcore/internal/circuitbreaker"
)

// failingFraud always errors, to exercise the fallback path.
type failingFraud struct {
	mu    sync.Mutex
	calls int
}

var _ FraudProvider = (*failingFraud)(nil)

func (f *failingFraud) Name() string { return "riskguard" }

func (f *failingFraud) CheckFraud(_ context.Context, _ *FraudRequest) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("connection refused")
}

func (f *failingFraud) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingBureau always errors.
type failingBureau struct{}

var _ CreditBureau = (*failingBureau)(nil)

func (f *failingBureau) Name() string { return "equinav" }

func (f *failingBureau) CheckCredit(_ context.Context, _ *CreditRequest) (*Result, error) {
	return nil, errors.New("timeout")
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestFraudFallbackSubstitutesSandboxOnError(t *testing.T) {
	fb := &FraudFallback{
		primary: &failingFraud{},
		sandbox: NewFraudSandbox(),
		breaker: circuitbreaker.New(5, 30*time.Second),
		timeout: time.Second,
		logger:  newTestLogger(),
	}

	res, err := fb.CheckFraud(context.Background(), &FraudRequest{
		SubjectID: "sub_1", Email: "a@example.com", IP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("fallback must swallow provider errors, got %v", err)
	}
	if res.Provider != "sandbox" {
		t.Errorf("result provider = %q, want sandbox", res.Provider)
	}
}

func TestFraudFallbackTripsBreaker(t *testing.T) {
	primary := &failingFraud{}
	fb := &FraudFallback{
		primary: primary,
		sandbox: NewFraudSandbox(),
		breaker: circuitbreaker.New(3, time.Minute),
		timeout: time.Second,
		logger:  newTestLogger(),
	}

	req := &FraudRequest{SubjectID: "sub_1", Email: "a@example.com", IP: "10.0.0.1"}
	for i := 0; i < 6; i++ {
		if _, err := fb.CheckFraud(context.Background(), req); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	// After 3 failures the circuit is open; the remaining calls go straight
	// to the sandbox without touching the primary.
	if got := primary.callCount(); got != 3 {
		t.Errorf("primary called %d times, want 3", got)
	}
}

func TestFraudFallbackSandboxPassthrough(t *testing.T) {
	fb := &FraudFallback{
		primary: NewFraudSandbox(),
		sandbox: NewFraudSandbox(),
		breaker: circuitbreaker.New(5, 30*time.Second),
		timeout: time.Second,
		logger:  newTestLogger(),
	}
	res, err := fb.CheckFraud(context.Background(), &FraudRequest{
		SubjectID: "sub_1", Email: "a@example.com", IP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("CheckFraud: %v", err)
	}
	if res.Provider != "sandbox" {
		t.Errorf("provider = %q", res.Provider)
	}
}

func TestCreditFallbackSubstitutesSandboxOnError(t *testing.T) {
	fb := &CreditFallback{
		primary: &failingBureau{},
		sandbox: NewBureauSandbox(),
		breaker: circuitbreaker.New(5, 30*time.Second),
		timeout: time.Second,
		logger:  newTestLogger(),
	}

	res, err := fb.CheckCredit(context.Background(), &CreditRequest{
		SubjectID: "sub_1", Email: "a@example.com", RequestedAmount: 1000,
	})
	if err != nil {
		t.Fatalf("fallback must swallow bureau errors, got %v", err)
	}
	if res.Provider != "sandbox" {
		t.Errorf("result provider = %q, want sandbox", res.Provider)
	}
	if res.Score < 300 || res.Score > 850 {
		t.Errorf("sandbox credit score %d outside bureau range", res.Score)
	}
}

func TestCreditFallbackName(t *testing.T) {
	fb := &CreditFallback{primary: &failingBureau{}, sandbox: NewBureauSandbox(),
		breaker: circuitbreaker.New(5, time.Minute), timeout: time.Second, logger: newTestLogger()}
	if fb.Name() != "equinav" {
		t.Errorf("Name() = %q, want primary name", fb.Name())
	}
}
