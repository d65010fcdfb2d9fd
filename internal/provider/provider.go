// Package provider gives the scoring services a uniform interface to external
// fraud and credit-bureau providers.
//
// Every provider is wrapped in a fallback adapter: on network error, non-2xx
// response, or timeout the adapter substitutes a deterministic sandbox result
// instead of propagating the failure. Callers always observe a Result; the
// only fatal condition is an unknown provider name at startup.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/riskcore/internal/circuitbreaker"
	"github.com/mbd888/riskcore/internal/config"
)

// ErrUnknownProvider is returned for provider names not in the registry.
// This is a configuration error and is fatal at startup.
var ErrUnknownProvider = errors.New("unknown provider")

// FraudRequest carries the signals a fraud provider scores.
// Normalization from domain types happens before this point; adapters only
// translate between this shape and each provider's wire format.
type FraudRequest struct {
	SubjectID         string
	Email             string
	IP                string
	DeviceFingerprint string
	UserAgent         string
	MerchantID        string
	Amount            float64
	ChargeID          string // processor charge reference, used by the stripe adapter
}

// CreditRequest carries the inputs for a bureau credit check.
type CreditRequest struct {
	SubjectID       string
	Email           string
	RequestedAmount float64
}

// Result is a provider response normalized into the common shape.
// Fraud scores are 0-100 (higher = riskier); bureau scores are ~300-850.
// Results are transient: only the normalized decision record is persisted.
type Result struct {
	Score          int
	Factors        []string
	Ref            string // provider-assigned reference identifier
	Provider       string
	ProxySuspected bool // fraud only: provider flagged proxy/VPN/Tor
}

// FraudProvider scores a transaction attempt for fraud risk.
type FraudProvider interface {
	Name() string
	CheckFraud(ctx context.Context, req *FraudRequest) (*Result, error)
}

// CreditBureau returns a credit score for a subject.
type CreditBureau interface {
	Name() string
	CheckCredit(ctx context.Context, req *CreditRequest) (*Result, error)
}

// Breaker settings shared by all provider circuits.
const (
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// NewFraudProvider builds the configured fraud provider wrapped in the
// sandbox fallback chain. Unknown names fail here, at startup.
func NewFraudProvider(cfg *config.Config, logger *slog.Logger) (FraudProvider, error) {
	var primary FraudProvider
	switch cfg.FraudProvider {
	case "sandbox":
		primary = NewFraudSandbox()
	case "riskguard":
		primary = NewRiskGuard(cfg.RiskGuardURL, cfg.RiskGuardAPIKey, cfg.FraudTimeout)
	case "stripe":
		primary = NewStripeRadar(cfg.StripeAPIKey)
	default:
		return nil, fmt.Errorf("%w: fraud provider %q", ErrUnknownProvider, cfg.FraudProvider)
	}

	return &FraudFallback{
		primary: primary,
		sandbox: NewFraudSandbox(),
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenFor),
		timeout: cfg.FraudTimeout,
		logger:  logger,
	}, nil
}

// NewCreditBureau builds the configured credit bureau wrapped in the
// sandbox fallback chain. Unknown names fail here, at startup.
func NewCreditBureau(cfg *config.Config, logger *slog.Logger) (CreditBureau, error) {
	var primary CreditBureau
	switch cfg.CreditProvider {
	case "sandbox":
		primary = NewBureauSandbox()
	case "equinav":
		primary = NewEquinav(cfg.EquinavURL, cfg.EquinavAPIKey, cfg.CreditTimeout)
	case "crednova":
		primary = NewCrednova(cfg.CrednovaURL, cfg.CrednovaToken, cfg.CreditTimeout)
	default:
		return nil, fmt.Errorf("%w: credit provider %q", ErrUnknownProvider, cfg.CreditProvider)
	}

	return &CreditFallback{
		primary: primary,
		sandbox: NewBureauSandbox(),
		breaker: circuitbreaker.New(breakerThreshold, breakerOpenFor),
		timeout: cfg.CreditTimeout,
		logger:  logger,
	}, nil
}
