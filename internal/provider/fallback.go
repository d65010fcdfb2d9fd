package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/riskcore/internal/circuitbreaker"
	"github.com/mbd888/riskcore/internal/metrics"
	"github.com/mbd888/riskcore/internal/traces"
)

// FraudFallback wraps a primary fraud provider with a circuit breaker and a
// deterministic sandbox fallback. Provider failures never surface to callers:
// the fallback result is returned with a nil error, and the substitution is
// visible through logs, metrics, and the Provider field on the result.
type FraudFallback struct {
	primary FraudProvider
	sandbox *FraudSandbox
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

func (f *FraudFallback) Name() string { return f.primary.Name() }

func (f *FraudFallback) CheckFraud(ctx context.Context, req *FraudRequest) (*Result, error) {
	// The sandbox is its own fallback; no point wrapping it.
	if f.primary.Name() == "sandbox" {
		return f.primary.CheckFraud(ctx, req)
	}

	name := f.primary.Name()
	ctx, span := traces.StartSpan(ctx, "provider.fraud", traces.Provider(name), traces.SubjectID(req.SubjectID))
	defer span.End()

	if !f.breaker.Allow(name) {
		f.logger.Warn("fraud provider circuit open, using sandbox", "provider", name)
		metrics.ProviderCallsTotal.WithLabelValues(name, "circuit_open").Inc()
		metrics.ProviderFallbacksTotal.WithLabelValues(name).Inc()
		return f.sandbox.CheckFraud(ctx, req)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.primary.CheckFraud(callCtx, req)
	if err != nil {
		f.breaker.RecordFailure(name)
		f.logger.Warn("fraud provider failed, using sandbox",
			"provider", name, "subject_id", req.SubjectID, "error", err)
		metrics.ProviderCallsTotal.WithLabelValues(name, "error").Inc()
		metrics.ProviderFallbacksTotal.WithLabelValues(name).Inc()
		return f.sandbox.CheckFraud(ctx, req)
	}

	f.breaker.RecordSuccess(name)
	metrics.ProviderCallsTotal.WithLabelValues(name, "ok").Inc()
	return res, nil
}

// CreditFallback is the bureau counterpart of FraudFallback.
type CreditFallback struct {
	primary CreditBureau
	sandbox *BureauSandbox
	breaker *circuitbreaker.Breaker
	timeout time.Duration
	logger  *slog.Logger
}

func (f *CreditFallback) Name() string { return f.primary.Name() }

func (f *CreditFallback) CheckCredit(ctx context.Context, req *CreditRequest) (*Result, error) {
	if f.primary.Name() == "sandbox" {
		return f.primary.CheckCredit(ctx, req)
	}

	name := f.primary.Name()
	ctx, span := traces.StartSpan(ctx, "provider.credit", traces.Provider(name), traces.SubjectID(req.SubjectID))
	defer span.End()

	if !f.breaker.Allow(name) {
		f.logger.Warn("credit bureau circuit open, using sandbox", "provider", name)
		metrics.ProviderCallsTotal.WithLabelValues(name, "circuit_open").Inc()
		metrics.ProviderFallbacksTotal.WithLabelValues(name).Inc()
		return f.sandbox.CheckCredit(ctx, req)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.primary.CheckCredit(callCtx, req)
	if err != nil {
		f.breaker.RecordFailure(name)
		f.logger.Warn("credit bureau failed, using sandbox",
			"provider", name, "subject_id", req.SubjectID, "error", err)
		metrics.ProviderCallsTotal.WithLabelValues(name, "error").Inc()
		metrics.ProviderFallbacksTotal.WithLabelValues(name).Inc()
		return f.sandbox.CheckCredit(ctx, req)
	}

	f.breaker.RecordSuccess(name)
	metrics.ProviderCallsTotal.WithLabelValues(name, "ok").Inc()
	return res, nil
}
