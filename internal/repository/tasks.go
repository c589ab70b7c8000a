package repository

import (
	"context"
	"database/sql"
	"time"
)

type PostgresTaskRepository struct {
	db *sql.DB
}

func NewPostgresTaskRepository(db *sql.DB) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: db}
}

func (r *PostgresTaskRepository) CreateTask(ctx context.Context, orderID string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := `
		INSERT INTO shipping_tasks (order_id, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, orderID, payload, TaskStatusCreated)
	return err
}

func (r *PostgresTaskRepository) GetPendingTasks(ctx context.Context, limit, maxAttempts int) ([]*ShippingTask, error) {
	query := `
		SELECT id, order_id, payload, status, attempt_count, last_error, next_attempt_at, created_at, updated_at
		FROM shipping_tasks
		WHERE status IN ($1, $2)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		  AND attempt_count < $3
		ORDER BY created_at
		LIMIT $4
	`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, TaskStatusCreated, TaskStatusFailed, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *PostgresTaskRepository) ListByOrder(ctx context.Context, orderID string) ([]*ShippingTask, error) {
	query := `
		SELECT id, order_id, payload, status, attempt_count, last_error, next_attempt_at, created_at, updated_at
		FROM shipping_tasks
		WHERE order_id = $1
		ORDER BY created_at
	`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]*ShippingTask, error) {
	var tasks []*ShippingTask
	for rows.Next() {
		t := &ShippingTask{}
		var next sql.NullTime
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Payload, &t.Status,
			&t.AttemptCount, &t.LastError, &next,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.NextAttemptAt = timePtr(next)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *PostgresTaskRepository) MarkTaskProcessing(ctx context.Context, taskID int) error {
	query := `
		UPDATE shipping_tasks SET status = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, TaskStatusProcessing, taskID)
	return err
}

func (r *PostgresTaskRepository) DeleteTask(ctx context.Context, taskID int) error {
	query := `DELETE FROM shipping_tasks WHERE id = $1`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, taskID)
	return err
}

func (r *PostgresTaskRepository) UpdateTaskFailure(ctx context.Context, taskID, attemptCount int, status TaskStatus, nextAttemptAt time.Time, lastErr string) error {
	query := `
		UPDATE shipping_tasks
		SET status = $1::text, attempt_count = $2, updated_at = NOW(), next_attempt_at = $3, last_error = $4,
		    finished_at = CASE WHEN $1::text = 'NO_ATTEMPTS_LEFT' THEN NOW() ELSE NULL END
		WHERE id = $5
	`
	_, err := conn(ctx, r.db).ExecContext(ctx, query, status, attemptCount, nextAttemptAt, lastErr, taskID)
	return err
}
