// Package memory is a map-backed implementation of the repository interfaces,
// persisted to a JSON fixtures file.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"consultation/internal/models"
	"consultation/internal/repository"
)

type dataset struct {
	Customers       map[string]*models.Customer       `json:"customers"`
	Orders          map[string]*models.Order          `json:"orders"`
	PendingOrders   map[string]*models.PendingOrder   `json:"pending_orders"`
	CanonicalOrders map[string]*models.CanonicalOrder `json:"canonical_orders"`
	Templates       map[string]*models.Template       `json:"templates"`
	Sessions        map[string]*models.Session        `json:"sessions"`
	Responses       map[string]*models.FormResponse   `json:"responses"`
	Tasks           map[int]*repository.ShippingTask  `json:"shipping_tasks"`
	NextTaskID      int                               `json:"next_task_id"`
}

func newDataset() *dataset {
	return &dataset{
		Customers:       make(map[string]*models.Customer),
		Orders:          make(map[string]*models.Order),
		PendingOrders:   make(map[string]*models.PendingOrder),
		CanonicalOrders: make(map[string]*models.CanonicalOrder),
		Templates:       make(map[string]*models.Template),
		Sessions:        make(map[string]*models.Session),
		Responses:       make(map[string]*models.FormResponse),
		Tasks:           make(map[int]*repository.ShippingTask),
		NextTaskID:      1,
	}
}

// fill replaces nil maps left by a sparse fixtures file.
func (d *dataset) fill() {
	empty := newDataset()
	if d.Customers == nil {
		d.Customers = empty.Customers
	}
	if d.Orders == nil {
		d.Orders = empty.Orders
	}
	if d.PendingOrders == nil {
		d.PendingOrders = empty.PendingOrders
	}
	if d.CanonicalOrders == nil {
		d.CanonicalOrders = empty.CanonicalOrders
	}
	if d.Templates == nil {
		d.Templates = empty.Templates
	}
	if d.Sessions == nil {
		d.Sessions = empty.Sessions
	}
	if d.Responses == nil {
		d.Responses = empty.Responses
	}
	if d.Tasks == nil {
		d.Tasks = empty.Tasks
	}
	if d.NextTaskID < 1 {
		d.NextTaskID = 1
	}
	for id := range d.Tasks {
		if id >= d.NextTaskID {
			d.NextTaskID = id + 1
		}
	}
}

// Store keeps every record in memory. Units of work are serialized by a single lock
// and rolled back by restoring a snapshot.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *dataset

	dataFile string
	now      func() time.Time
}

func New() *Store {
	return &Store{data: newDataset(), now: func() time.Time { return time.Now().UTC() }}
}

// Open loads dataFile if it exists. Save writes back to the same file.
func Open(dataFile string) (*Store, error) {
	st := New()
	st.dataFile = dataFile
	if err := st.loadFromFile(); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Store) loadFromFile() error {
	raw, err := os.ReadFile(st.dataFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read fixtures %s: %w", st.dataFile, err)
	}
	if len(raw) == 0 {
		return nil
	}
	d := &dataset{}
	if err := json.Unmarshal(raw, d); err != nil {
		return fmt.Errorf("decode fixtures %s: %w", st.dataFile, err)
	}
	d.fill()
	st.data = d
	return nil
}

// Save writes the whole store to its fixtures file.
func (st *Store) Save() error {
	if st.dataFile == "" {
		return nil
	}
	st.mu.Lock()
	raw, err := json.MarshalIndent(st.data, "", "  ")
	st.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode fixtures: %w", err)
	}
	if err := os.WriteFile(st.dataFile, raw, 0o644); err != nil {
		return fmt.Errorf("write fixtures %s: %w", st.dataFile, err)
	}
	return nil
}

// Repositories exposes the store through the repository interfaces.
func (st *Store) Repositories() *repository.Store {
	return &repository.Store{
		Tx:        &transactor{st: st},
		Templates: &templateRepo{st: st},
		Orders:    &orderRepo{st: st},
		Pending:   &pendingRepo{st: st},
		Canonical: &canonicalRepo{st: st},
		Customers: &customerRepo{st: st},
		Sessions:  &sessionRepo{st: st},
		Responses: &responseRepo{st: st},
		Tasks:     &taskRepo{st: st},
	}
}

func (st *Store) PutCustomer(c *models.Customer) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.data.Customers[c.UserID] = clone(c)
}

func (st *Store) PutOrder(o *models.Order) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.data.Orders[o.ID] = clone(o)
}

func (st *Store) PutPendingOrder(p *models.PendingOrder) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.data.PendingOrders[p.ID] = clone(p)
}

func (st *Store) PutCanonicalOrder(c *models.CanonicalOrder) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.data.CanonicalOrders[c.ID] = clone(c)
}

func (st *Store) PutTemplate(t *models.Template) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = st.now()
	}
	st.data.Templates[t.ID] = clone(t)
}

// clone deep-copies v through its JSON form so callers never share state with the store.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory: clone %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		panic(fmt.Sprintf("memory: clone %T: %v", v, err))
	}
	return out
}

func (st *Store) snapshot() *dataset {
	st.mu.Lock()
	defer st.mu.Unlock()
	return clone(st.data)
}

func (st *Store) restore(d *dataset) {
	st.mu.Lock()
	defer st.mu.Unlock()
	d.fill()
	st.data = d
}

type txKey struct{}

type transactor struct {
	st *Store
}

func (t *transactor) WithinOrderLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.st.txMu.Lock()
	defer t.st.txMu.Unlock()

	before := t.st.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, orderID)); err != nil {
		t.st.restore(before)
		return err
	}
	return nil
}

func (t *transactor) Savepoint(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == nil {
		return fn(ctx)
	}
	before := t.st.snapshot()
	if err := fn(ctx); err != nil {
		t.st.restore(before)
		return err
	}
	return nil
}

func sortTasks(tasks []*repository.ShippingTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
