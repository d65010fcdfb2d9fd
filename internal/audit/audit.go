// Package audit keeps the append-only decision trail. Every completed check
// produces one record: the inputs, the provider consulted, the score, and the
// decision. Records are written after the decision is made and a write
// failure never blocks or changes the decision.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/riskcore/internal/metrics"
)

// Kinds of audited checks.
const (
	KindFraud  = "fraud"
	KindCredit = "credit"
)

// Record is a single audit entry for a completed check.
type Record struct {
	ID                string        `json:"id"`
	SubjectID         string        `json:"subjectId"`
	Kind              string        `json:"kind"`
	Amount            float64       `json:"amount,omitempty"`
	Score             int           `json:"score"`
	Decision          string        `json:"decision"`
	Factors           []string      `json:"factors,omitempty"`
	Provider          string        `json:"provider,omitempty"`
	ProviderRef       string        `json:"providerRef,omitempty"`
	IPAddress         string        `json:"ipAddress,omitempty"`
	DeviceFingerprint string        `json:"deviceFingerprint,omitempty"`
	UserAgent         string        `json:"userAgent,omitempty"`
	Latency           time.Duration `json:"latencyMs,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// Query filters audit records. Zero-value fields are ignored.
type Query struct {
	SubjectID string
	Kind      string
	From      time.Time
	To        time.Time
	Limit     int
}

// Logger persists audit records.
type Logger interface {
	Log(ctx context.Context, rec *Record) error
	Query(ctx context.Context, q Query) ([]*Record, error)
}

// Write logs a record, swallowing failures. Failed writes surface only
// through the failure counter and a warning log.
func Write(ctx context.Context, l Logger, logger *slog.Logger, rec *Record) {
	if err := l.Log(ctx, rec); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		logger.Warn("audit write failed",
			"subject_id", rec.SubjectID, "kind", rec.Kind, "error", err)
	}
}
