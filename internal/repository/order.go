package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consultation/internal/models"
)

type PgOrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *PgOrderRepository {
	return &PgOrderRepository{db: db}
}

// GetByID locks the row when called inside a transaction.
func (r *PgOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT
			id, reference, status, payment_status, booking_status, user_id,
			service_slug, treatment_slug, meta, completed_at, created_at, updated_at
		FROM orders WHERE id=$1` + forUpdate(ctx)

	o := &models.Order{}
	var meta []byte
	var completedAt sql.NullTime
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.Reference, &o.Status, &o.PaymentStatus, &o.BookingStatus, &o.UserID,
		&o.ServiceSlug, &o.TreatmentSlug, &meta, &completedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	if err := json.Unmarshal(meta, &o.Meta); err != nil {
		return nil, fmt.Errorf("decode order %s meta: %w", id, err)
	}
	o.CompletedAt = timePtr(completedAt)
	return o, nil
}

func (r *PgOrderRepository) Update(ctx context.Context, o *models.Order) error {
	meta, err := json.Marshal(o.Meta)
	if err != nil {
		return fmt.Errorf("encode order %s meta: %w", o.ID, err)
	}
	query := `UPDATE orders SET
			status=$1, payment_status=$2, booking_status=$3, meta=$4, completed_at=$5, updated_at=NOW()
		WHERE id=$6`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		o.Status, o.PaymentStatus, o.BookingStatus, meta, o.CompletedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("order %s not found", o.ID)
	}
	return nil
}

type PgPendingOrderRepository struct {
	db *sql.DB
}

func NewPendingOrderRepository(db *sql.DB) *PgPendingOrderRepository {
	return &PgPendingOrderRepository{db: db}
}

func (r *PgPendingOrderRepository) GetByReference(ctx context.Context, reference string) (*models.PendingOrder, error) {
	if reference == "" {
		return nil, nil
	}
	query := `SELECT id, reference, user_id, service_slug, treatment_slug, meta, created_at, updated_at
		FROM pending_orders WHERE reference=$1`

	p := &models.PendingOrder{}
	var meta []byte
	err := conn(ctx, r.db).QueryRowContext(ctx, query, reference).Scan(
		&p.ID, &p.Reference, &p.UserID, &p.ServiceSlug, &p.TreatmentSlug, &meta, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending order by reference: %w", err)
	}
	if err := json.Unmarshal(meta, &p.Meta); err != nil {
		return nil, fmt.Errorf("decode pending order %s meta: %w", p.ID, err)
	}
	return p, nil
}

func (r *PgPendingOrderRepository) Update(ctx context.Context, p *models.PendingOrder) error {
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return fmt.Errorf("encode pending order %s meta: %w", p.ID, err)
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE pending_orders SET meta=$1, updated_at=NOW() WHERE id=$2`, meta, p.ID)
	if err != nil {
		return fmt.Errorf("update pending order: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pending order %s not found", p.ID)
	}
	return nil
}

type PgCanonicalOrderRepository struct {
	db *sql.DB
}

func NewCanonicalOrderRepository(db *sql.DB) *PgCanonicalOrderRepository {
	return &PgCanonicalOrderRepository{db: db}
}

func (r *PgCanonicalOrderRepository) GetByReference(ctx context.Context, reference string) (*models.CanonicalOrder, error) {
	if reference == "" {
		return nil, nil
	}
	query := `SELECT id, reference, status, booking_status, meta, completed_at, updated_at
		FROM canonical_orders WHERE reference=$1` + forUpdate(ctx)

	c := &models.CanonicalOrder{}
	var meta []byte
	var completedAt sql.NullTime
	err := conn(ctx, r.db).QueryRowContext(ctx, query, reference).Scan(
		&c.ID, &c.Reference, &c.Status, &c.BookingStatus, &meta, &completedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical order by reference: %w", err)
	}
	if err := json.Unmarshal(meta, &c.Meta); err != nil {
		return nil, fmt.Errorf("decode canonical order %s meta: %w", c.ID, err)
	}
	c.CompletedAt = timePtr(completedAt)
	return c, nil
}

func (r *PgCanonicalOrderRepository) Update(ctx context.Context, c *models.CanonicalOrder) error {
	meta, err := json.Marshal(c.Meta)
	if err != nil {
		return fmt.Errorf("encode canonical order %s meta: %w", c.ID, err)
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE canonical_orders SET status=$1, booking_status=$2, meta=$3, completed_at=$4, updated_at=NOW()
		WHERE id=$5`,
		c.Status, c.BookingStatus, meta, c.CompletedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update canonical order: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("canonical order %s not found", c.ID)
	}
	return nil
}

func forUpdate(ctx context.Context) string {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return " FOR UPDATE"
	}
	return ""
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
