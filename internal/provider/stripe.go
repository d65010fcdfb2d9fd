package provider

import (
	"context"
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// ErrNoChargeRef is returned when a stripe fraud check is requested without a
// processor charge reference to look up.
var ErrNoChargeRef = errors.New("stripe: fraud request has no charge reference")

// StripeRadar scores fraud risk from the Radar outcome attached to a charge.
// Unlike the other providers it does not score raw signals itself: it looks up
// the charge the payment processor already evaluated and normalizes Radar's
// verdict into the common 0-100 scale.
type StripeRadar struct {
	api *client.API
}

// NewStripeRadar creates a Radar-backed fraud provider.
func NewStripeRadar(apiKey string) *StripeRadar {
	return &StripeRadar{api: client.New(apiKey, nil)}
}

func (s *StripeRadar) Name() string { return "stripe" }

func (s *StripeRadar) CheckFraud(ctx context.Context, req *FraudRequest) (*Result, error) {
	if req.ChargeID == "" {
		return nil, ErrNoChargeRef
	}

	params := &stripe.ChargeParams{Params: stripe.Params{Context: ctx}}
	ch, err := s.api.Charges.Get(req.ChargeID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get charge %s: %w", req.ChargeID, err)
	}
	if ch.Outcome == nil {
		return nil, fmt.Errorf("stripe: charge %s has no outcome", req.ChargeID)
	}

	res := &Result{
		Score:    radarScore(ch.Outcome),
		Ref:      ch.ID,
		Provider: s.Name(),
	}
	if ch.Outcome.RiskLevel != "" {
		res.Factors = append(res.Factors, "Radar risk level: "+ch.Outcome.RiskLevel)
	}
	if ch.Outcome.SellerMessage != "" {
		res.Factors = append(res.Factors, ch.Outcome.SellerMessage)
	}
	return res, nil
}

// radarScore normalizes a Radar outcome to 0-100. Radar exposes a numeric
// risk score on accounts with Radar for Fraud Teams; otherwise only the
// coarse risk level is available and we map it to a band midpoint.
func radarScore(o *stripe.ChargeOutcome) int {
	if o.RiskScore > 0 {
		return clampScore(int(o.RiskScore))
	}
	switch o.RiskLevel {
	case "highest":
		return 90
	case "elevated":
		return 60
	case "normal":
		return 20
	default:
		return 50
	}
}
