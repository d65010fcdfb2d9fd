package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresLogger writes audit records to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates an audit logger backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

func (l *PostgresLogger) Log(ctx context.Context, rec *Record) error {
	factorsJSON, _ := json.Marshal(rec.Factors)
	if rec.Factors == nil {
		factorsJSON = []byte("[]")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, subject_id, kind, amount, score, decision, factors,
			provider, provider_ref, ip_address, device_fingerprint,
			user_agent, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8, $9, $10, $11, $12, $13, NOW())`,
		rec.ID, rec.SubjectID, rec.Kind, rec.Amount, rec.Score, rec.Decision, factorsJSON,
		rec.Provider, rec.ProviderRef, rec.IPAddress, rec.DeviceFingerprint,
		rec.UserAgent, rec.Latency.Milliseconds(),
	)
	return err
}

func (l *PostgresLogger) Query(ctx context.Context, q Query) ([]*Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, subject_id, kind, amount, score, decision, factors::TEXT,
		COALESCE(provider, ''), COALESCE(provider_ref, ''), COALESCE(ip_address, ''),
		COALESCE(device_fingerprint, ''), COALESCE(user_agent, ''), latency_ms, created_at
		FROM audit_log WHERE 1=1`
	var args []interface{}

	if q.SubjectID != "" {
		args = append(args, q.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	if q.Kind != "" {
		args = append(args, q.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var (
			factorsJSON string
			latencyMS   int64
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Kind, &r.Amount, &r.Score, &r.Decision,
			&factorsJSON, &r.Provider, &r.ProviderRef, &r.IPAddress,
			&r.DeviceFingerprint, &r.UserAgent, &latencyMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(factorsJSON), &r.Factors); err != nil {
			return nil, err
		}
		r.Latency = time.Duration(latencyMS) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}
