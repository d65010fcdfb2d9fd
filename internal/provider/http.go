package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RiskGuard is the HTTP adapter for the RiskGuard fraud API.
type RiskGuard struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRiskGuard creates a RiskGuard adapter with a bounded request timeout.
func NewRiskGuard(baseURL, apiKey string, timeout time.Duration) *RiskGuard {
	return &RiskGuard{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *RiskGuard) Name() string { return "riskguard" }

type riskGuardRequest struct {
	SubjectID         string  `json:"subject_id"`
	Email             string  `json:"email"`
	IPAddress         string  `json:"ip_address"`
	DeviceFingerprint string  `json:"device_fingerprint,omitempty"`
	UserAgent         string  `json:"user_agent,omitempty"`
	MerchantID        string  `json:"merchant_id,omitempty"`
	Amount            float64 `json:"amount"`
}

type riskGuardResponse struct {
	Score       int      `json:"score"`
	Signals     []string `json:"signals"`
	ReferenceID string   `json:"reference_id"`
	Anonymized  bool     `json:"anonymized_network"`
}

func (r *RiskGuard) CheckFraud(ctx context.Context, req *FraudRequest) (*Result, error) {
	body, err := json.Marshal(&riskGuardRequest{
		SubjectID:         req.SubjectID,
		Email:             req.Email,
		IPAddress:         req.IP,
		DeviceFingerprint: req.DeviceFingerprint,
		UserAgent:         req.UserAgent,
		MerchantID:        req.MerchantID,
		Amount:            req.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("riskguard: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v2/screen", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("riskguard: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("riskguard: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("riskguard: unexpected status %d", resp.StatusCode)
	}

	var parsed riskGuardResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("riskguard: decode response: %w", err)
	}

	return &Result{
		Score:          clampScore(parsed.Score),
		Factors:        parsed.Signals,
		Ref:            parsed.ReferenceID,
		Provider:       r.Name(),
		ProxySuspected: parsed.Anonymized,
	}, nil
}

// Equinav is the HTTP adapter for the Equinav credit bureau.
type Equinav struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewEquinav creates an Equinav adapter with a bounded request timeout.
func NewEquinav(baseURL, apiKey string, timeout time.Duration) *Equinav {
	return &Equinav{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *Equinav) Name() string { return "equinav" }

type equinavRequest struct {
	SubjectID       string  `json:"subject_id"`
	Email           string  `json:"email"`
	RequestedAmount float64 `json:"requested_amount"`
}

type equinavResponse struct {
	CreditScore int      `json:"credit_score"`
	Factors     []string `json:"factors"`
	ReportID    string   `json:"report_id"`
}

func (e *Equinav) CheckCredit(ctx context.Context, req *CreditRequest) (*Result, error) {
	body, err := json.Marshal(&equinavRequest{
		SubjectID:       req.SubjectID,
		Email:           req.Email,
		RequestedAmount: req.RequestedAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("equinav: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/reports", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("equinav: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("equinav: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("equinav: unexpected status %d", resp.StatusCode)
	}

	var parsed equinavResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("equinav: decode response: %w", err)
	}

	return &Result{
		Score:    parsed.CreditScore,
		Factors:  parsed.Factors,
		Ref:      parsed.ReportID,
		Provider: e.Name(),
	}, nil
}

// Crednova is the HTTP adapter for the Crednova credit bureau.
// Crednova is score-lookup only: it keys reports by subject and email.
type Crednova struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewCrednova creates a Crednova adapter with a bounded request timeout.
func NewCrednova(baseURL, token string, timeout time.Duration) *Crednova {
	return &Crednova{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Crednova) Name() string { return "crednova" }

type crednovaResponse struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
	ID      string   `json:"id"`
}

func (c *Crednova) CheckCredit(ctx context.Context, req *CreditRequest) (*Result, error) {
	u := fmt.Sprintf("%s/scores/%s?email=%s", c.baseURL, url.PathEscape(req.SubjectID), url.QueryEscape(req.Email))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("crednova: build request: %w", err)
	}
	httpReq.Header.Set("X-Crednova-Token", c.token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("crednova: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("crednova: unexpected status %d", resp.StatusCode)
	}

	var parsed crednovaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("crednova: decode response: %w", err)
	}

	return &Result{
		Score:    parsed.Score,
		Factors:  parsed.Reasons,
		Ref:      parsed.ID,
		Provider: c.Name(),
	}, nil
}

// clampScore keeps a fraud score inside [0, 100].
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
