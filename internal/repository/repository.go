package repository

import (
	"context"
	"errors"
	"time"

	"consultation/internal/forms"
	"consultation/internal/models"
)

// ErrConcurrentUpdate is returned by SessionRepository.Save when the stored version moved.
var ErrConcurrentUpdate = errors.New("concurrent update")

// Reads that find nothing return nil, nil.

type TemplateRepository interface {
	// ListActive returns active templates of the given categories that are scoped to serviceSlug
	// or to no service at all.
	ListActive(ctx context.Context, categories []string, serviceSlug string) ([]*models.Template, error)
}

type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*models.Order, error)
	Update(ctx context.Context, o *models.Order) error
}

type PendingOrderRepository interface {
	GetByReference(ctx context.Context, reference string) (*models.PendingOrder, error)
	Update(ctx context.Context, p *models.PendingOrder) error
}

type CanonicalOrderRepository interface {
	GetByReference(ctx context.Context, reference string) (*models.CanonicalOrder, error)
	Update(ctx context.Context, c *models.CanonicalOrder) error
}

type CustomerRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Customer, error)
}

type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Session, error)
	// Save inserts a session with Version 0 or updates one whose stored version equals s.Version.
	// On success s.Version is incremented.
	Save(ctx context.Context, s *models.Session) error
}

type ResponseRepository interface {
	Get(ctx context.Context, sessionID string, slot forms.Slot) (*models.FormResponse, error)
	Upsert(ctx context.Context, r *models.FormResponse) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.FormResponse, error)
}

type TaskStatus string

const (
	TaskStatusCreated        TaskStatus = "CREATED"
	TaskStatusProcessing     TaskStatus = "PROCESSING"
	TaskStatusFailed         TaskStatus = "FAILED"
	TaskStatusNoAttemptsLeft TaskStatus = "NO_ATTEMPTS_LEFT"
)

// ShippingTask is a queued carrier dispatch for an order whose post-commit dispatch failed.
type ShippingTask struct {
	ID            int        `json:"id"`
	OrderID       string     `json:"order_id"`
	Payload       []byte     `json:"payload,omitempty"`
	Status        TaskStatus `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ShippingTaskRepository interface {
	CreateTask(ctx context.Context, orderID string, payload []byte) error
	GetPendingTasks(ctx context.Context, limit, maxAttempts int) ([]*ShippingTask, error)
	MarkTaskProcessing(ctx context.Context, taskID int) error
	DeleteTask(ctx context.Context, taskID int) error
	UpdateTaskFailure(ctx context.Context, taskID, attemptCount int, status TaskStatus, nextAttemptAt time.Time, lastErr string) error
	ListByOrder(ctx context.Context, orderID string) ([]*ShippingTask, error)
}

// Transactor scopes repository calls made with the returned context to one unit of work.
type Transactor interface {
	// WithinOrderLock runs fn in a transaction holding an exclusive per-order lock.
	// Nested calls reuse the outer transaction.
	WithinOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error
	// Savepoint runs fn so that its writes are undone on error without aborting the enclosing transaction.
	Savepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Store bundles the repositories the engine needs.
type Store struct {
	Tx        Transactor
	Templates TemplateRepository
	Orders    OrderRepository
	Pending   PendingOrderRepository
	Canonical CanonicalOrderRepository
	Customers CustomerRepository
	Sessions  SessionRepository
	Responses ResponseRepository
	Tasks     ShippingTaskRepository
}
