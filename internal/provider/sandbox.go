package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// The sandbox providers are deterministic stand-ins for real providers, used
// both as the fallback target and as the default in development. Given the
// same subject email, IP, and identifier they always produce the same score
// and factor set, which is the seam that makes the whole engine testable
// without live provider credentials.
//
// Recognized test domains and prefixes:
//
//	fraudulent.test  fraud score >= 85, "High-risk email domain"
//	trusted.test     fraud score <= 25
//	excellent.test   credit score >= 800
//	deny.test        credit score <= 500
//	203.0.113.*      proxy/VPN flag set (TEST-NET-3 range)

const proxyTestPrefix = "203.0.113."

// subjectHash maps the stable subject identity to a uint64.
func subjectHash(email, ip, subjectID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(email)))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(ip))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(subjectID))
	return h.Sum64()
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// FraudSandbox is the deterministic fraud provider.
type FraudSandbox struct{}

// NewFraudSandbox creates the sandbox fraud provider.
func NewFraudSandbox() *FraudSandbox { return &FraudSandbox{} }

func (s *FraudSandbox) Name() string { return "sandbox" }

func (s *FraudSandbox) CheckFraud(_ context.Context, req *FraudRequest) (*Result, error) {
	h := subjectHash(req.Email, req.IP, req.SubjectID)

	res := &Result{
		Provider: "sandbox",
		Ref:      fmt.Sprintf("sbx-%016x", h),
	}

	switch emailDomain(req.Email) {
	case "fraudulent.test":
		res.Score = 85 + int(h%15) // 85..99
		res.Factors = append(res.Factors, "High-risk email domain")
	case "trusted.test":
		res.Score = int(h % 26) // 0..25
		res.Factors = append(res.Factors, "Known low-risk subject")
	default:
		res.Score = int(h % 101)
		if res.Score >= 70 {
			res.Factors = append(res.Factors, "Elevated provider risk signal")
		} else if res.Score >= 40 {
			res.Factors = append(res.Factors, "Moderate provider risk signal")
		}
	}

	if strings.HasPrefix(req.IP, proxyTestPrefix) {
		res.ProxySuspected = true
		res.Factors = append(res.Factors, "Anonymizing proxy or VPN detected")
	}

	return res, nil
}

// BureauSandbox is the deterministic credit bureau.
type BureauSandbox struct{}

// NewBureauSandbox creates the sandbox credit bureau.
func NewBureauSandbox() *BureauSandbox { return &BureauSandbox{} }

func (s *BureauSandbox) Name() string { return "sandbox" }

func (s *BureauSandbox) CheckCredit(_ context.Context, req *CreditRequest) (*Result, error) {
	h := subjectHash(req.Email, "", req.SubjectID)

	var score int
	switch emailDomain(req.Email) {
	case "excellent.test":
		score = 800 + int(h%51) // 800..850
	case "deny.test":
		score = 380 + int(h%121) // 380..500
	default:
		score = 520 + int(h%281) // 520..800
	}

	return &Result{
		Provider: "sandbox",
		Ref:      fmt.Sprintf("sbx-%016x", h),
		Score:    score,
		Factors:  bureauFactors(h),
	}, nil
}

// bureauFactors derives the five named contributing factors from the subject
// hash so repeated report requests stay stable.
func bureauFactors(h uint64) []string {
	return []string{
		fmt.Sprintf("Payment history: %d%% on-time", 80+int((h>>4)%21)),
		fmt.Sprintf("Credit utilization: %d%%", 10+int((h>>12)%61)),
		fmt.Sprintf("Credit history length: %d years", 1+int((h>>20)%20)),
		"Credit mix: revolving and installment",
		fmt.Sprintf("Recent inquiries: %d", int((h>>28)%5)),
	}
}
