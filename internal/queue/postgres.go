package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresTaskStore persists task state in PostgreSQL.
type PostgresTaskStore struct {
	db *sql.DB
}

// NewPostgresTaskStore creates a PostgreSQL-backed task store.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

func (p *PostgresTaskStore) Save(ctx context.Context, t *Task) error {
	metaJSON, _ := json.Marshal(t.Metadata)
	if t.Metadata == nil {
		metaJSON = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO check_tasks (
			id, type, subject_id, transaction_id, amount, metadata,
			attempts, max_attempts, status, enqueued_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO NOTHING`,
		t.ID, string(t.Type), t.SubjectID, t.TransactionID, t.Amount, metaJSON,
		t.Attempts, t.MaxAttempts, StatusPending, t.EnqueuedAt,
	)
	return err
}

func (p *PostgresTaskStore) SetStatus(ctx context.Context, id, status string, attempts int, lastError string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE check_tasks SET
			status = $1, attempts = $2, last_error = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $4`,
		status, attempts, lastError, id,
	)
	return err
}

func (p *PostgresTaskStore) LoadPending(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, subject_id, transaction_id, amount, metadata::TEXT,
		       attempts, max_attempts, enqueued_at
		FROM check_tasks
		WHERE status = $1
		ORDER BY enqueued_at
		LIMIT $2`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		var (
			taskType string
			metaJSON string
			enqueued time.Time
		)
		if err := rows.Scan(&t.ID, &taskType, &t.SubjectID, &t.TransactionID, &t.Amount,
			&metaJSON, &t.Attempts, &t.MaxAttempts, &enqueued); err != nil {
			return nil, err
		}
		t.Type = TaskType(taskType)
		t.EnqueuedAt = enqueued
		if err := json.Unmarshal([]byte(metaJSON), &t.Metadata); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
