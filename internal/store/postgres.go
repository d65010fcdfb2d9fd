package store

import (
	"context"
	"database/sql"
	"time"
)

// PostgresSubjectStore persists subjects in PostgreSQL.
type PostgresSubjectStore struct {
	db *sql.DB
}

// NewPostgresSubjectStore creates a new PostgreSQL-backed subject store.
func NewPostgresSubjectStore(db *sql.DB) *PostgresSubjectStore {
	return &PostgresSubjectStore{db: db}
}

const subjectColumns = `id, email, status, risk_score, credit_score, credit_limit,
	       available_credit, requires_verification, created_at, updated_at`

func (p *PostgresSubjectStore) Create(ctx context.Context, s *Subject) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subjects (
			id, email, status, risk_score, credit_score, credit_limit,
			available_credit, requires_verification, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.Email, s.Status, s.RiskScore, s.CreditScore, s.CreditLimit,
		s.AvailableCredit, s.RequiresVerification, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresSubjectStore) Get(ctx context.Context, id string) (*Subject, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id)
	return scanSubject(row)
}

func (p *PostgresSubjectStore) GetByEmail(ctx context.Context, email string) (*Subject, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE LOWER(email) = LOWER($1)`, email)
	return scanSubject(row)
}

func (p *PostgresSubjectStore) Update(ctx context.Context, s *Subject) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET
			email = $1, status = $2, risk_score = $3, credit_score = $4,
			credit_limit = $5, available_credit = $6, requires_verification = $7,
			updated_at = NOW()
		WHERE id = $8`,
		s.Email, s.Status, s.RiskScore, s.CreditScore,
		s.CreditLimit, s.AvailableCredit, s.RequiresVerification, s.ID,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func (p *PostgresSubjectStore) SetRiskScore(ctx context.Context, id string, score int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET risk_score = $1, updated_at = NOW() WHERE id = $2`,
		score, id,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func (p *PostgresSubjectStore) SetCreditScore(ctx context.Context, id string, score int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET credit_score = $1, updated_at = NOW() WHERE id = $2`,
		score, id,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func (p *PostgresSubjectStore) ApplyCreditDecision(ctx context.Context, id string, creditScore int, limit float64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET
			credit_score = $1,
			credit_limit = $2,
			available_credit = $2,
			updated_at = NOW()
		WHERE id = $3`,
		creditScore, limit, id,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func (p *PostgresSubjectStore) ReduceCreditLimit(ctx context.Context, id string, newLimit float64) error {
	// LEAST makes the reduction idempotent under retried review tasks.
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET
			credit_limit = LEAST(credit_limit, $1),
			available_credit = LEAST(available_credit, $1),
			updated_at = NOW()
		WHERE id = $2`,
		newLimit, id,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func (p *PostgresSubjectStore) DebitAvailableCredit(ctx context.Context, id string, amount float64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET
			available_credit = GREATEST(available_credit - $1, 0),
			updated_at = NOW()
		WHERE id = $2`,
		amount, id,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func (p *PostgresSubjectStore) RestoreAvailableCredit(ctx context.Context, id string, amount float64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET
			available_credit = LEAST(available_credit + $1, credit_limit),
			updated_at = NOW()
		WHERE id = $2`,
		amount, id,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func (p *PostgresSubjectStore) SetRequiresVerification(ctx context.Context, id string, required bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subjects SET requires_verification = $1, updated_at = NOW() WHERE id = $2`,
		required, id,
	)
	return oneRow(result, err, ErrSubjectNotFound)
}

func scanSubject(row *sql.Row) (*Subject, error) {
	s := &Subject{}
	err := row.Scan(
		&s.ID, &s.Email, &s.Status, &s.RiskScore, &s.CreditScore, &s.CreditLimit,
		&s.AvailableCredit, &s.RequiresVerification, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PostgresTransactionStore persists transactions in PostgreSQL.
type PostgresTransactionStore struct {
	db *sql.DB
}

// NewPostgresTransactionStore creates a new PostgreSQL-backed transaction store.
func NewPostgresTransactionStore(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

const txColumns = `id, subject_id, merchant_id, amount, status, risk_score,
	       review_reason, created_at, updated_at`

func (p *PostgresTransactionStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, subject_id, merchant_id, amount, status, risk_score,
			review_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.SubjectID, nullString(t.MerchantID), t.Amount, string(t.Status),
		t.RiskScore, nullString(t.ReviewReason), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresTransactionStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresTransactionStore) SetStatus(ctx context.Context, id string, status TxStatus, riskScore int, reviewReason string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			status = $1, risk_score = $2, review_reason = $3, updated_at = NOW()
		WHERE id = $4`,
		string(status), riskScore, nullString(reviewReason), id,
	)
	return oneRow(result, err, ErrTransactionNotFound)
}

func (p *PostgresTransactionStore) ListByStatus(ctx context.Context, status TxStatus, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresTransactionStore) CountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE subject_id = $1 AND created_at > $2`,
		subjectID, since,
	).Scan(&n)
	return n, err
}

func (p *PostgresTransactionStore) SumAmountBySubjectSince(ctx context.Context, subjectID string, since time.Time) (float64, error) {
	var sum float64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE subject_id = $1 AND created_at > $2`,
		subjectID, since,
	).Scan(&sum)
	return sum, err
}

func (p *PostgresTransactionStore) AvgAmountBySubject(ctx context.Context, subjectID string) (float64, int, error) {
	var (
		avg   float64
		count int
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(amount), 0), COUNT(*) FROM transactions WHERE subject_id = $1`,
		subjectID,
	).Scan(&avg, &count)
	return avg, count, err
}

func (p *PostgresTransactionStore) DistinctSubjectsSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT subject_id FROM transactions WHERE created_at > $1 ORDER BY subject_id LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, id)
	}
	return subjects, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	t := &Transaction{}
	var (
		merchantID   sql.NullString
		reviewReason sql.NullString
		status       string
	)
	err := s.Scan(
		&t.ID, &t.SubjectID, &merchantID, &t.Amount, &status, &t.RiskScore,
		&reviewReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = TxStatus(status)
	t.MerchantID = merchantID.String
	t.ReviewReason = reviewReason.String
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func oneRow(result sql.Result, err, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
