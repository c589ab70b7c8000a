package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or db.
func conn(ctx context.Context, db *sql.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

type PostgresTransactor struct {
	db *sql.DB
}

func NewPostgresTransactor(db *sql.DB) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

const orderLockSQL = `SELECT pg_advisory_xact_lock(hashtext('consultation:' || $1))`

func (t *PostgresTransactor) WithinOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		if _, err := tx.ExecContext(ctx, orderLockSQL, orderID); err != nil {
			return fmt.Errorf("lock order %s: %w", orderID, err)
		}
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, orderLockSQL, orderID); err != nil {
		return fmt.Errorf("lock order %s: %w", orderID, err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *PostgresTransactor) Savepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	if !ok {
		return fn(ctx)
	}
	ident := pq.QuoteIdentifier(name)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %v (after %w)", name, rbErr, err)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// NewPostgresStore wires every Postgres repository over db.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Tx:        NewPostgresTransactor(db),
		Templates: NewTemplateRepository(db),
		Orders:    NewOrderRepository(db),
		Pending:   NewPendingOrderRepository(db),
		Canonical: NewCanonicalOrderRepository(db),
		Customers: NewCustomerRepository(db),
		Sessions:  NewSessionRepository(db),
		Responses: NewResponseRepository(db),
		Tasks:     NewPostgresTaskRepository(db),
	}
}
