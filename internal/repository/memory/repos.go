package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"consultation/internal/forms"
	"consultation/internal/models"
	"consultation/internal/repository"
)

type templateRepo struct{ st *Store }

func (r *templateRepo) ListActive(_ context.Context, categories []string, serviceSlug string) ([]*models.Template, error) {
	wanted := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		wanted[strings.ToLower(c)] = struct{}{}
	}
	service := strings.ToLower(strings.TrimSpace(serviceSlug))

	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var res []*models.Template
	for _, t := range r.st.data.Templates {
		if !t.Active {
			continue
		}
		if _, ok := wanted[strings.ToLower(t.Category)]; !ok {
			continue
		}
		ts := strings.ToLower(strings.TrimSpace(t.ServiceSlug))
		if ts != "" && ts != service {
			continue
		}
		res = append(res, clone(t))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Version != res[j].Version {
			return res[i].Version > res[j].Version
		}
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

type orderRepo struct{ st *Store }

func (r *orderRepo) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return clone(r.st.data.Orders[id]), nil
}

func (r *orderRepo) Update(_ context.Context, o *models.Order) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.data.Orders[o.ID]; !ok {
		return fmt.Errorf("order %s not found", o.ID)
	}
	o.UpdatedAt = r.st.now()
	r.st.data.Orders[o.ID] = clone(o)
	return nil
}

type pendingRepo struct{ st *Store }

func (r *pendingRepo) GetByReference(_ context.Context, reference string) (*models.PendingOrder, error) {
	if reference == "" {
		return nil, nil
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, p := range r.st.data.PendingOrders {
		if p.Reference == reference {
			return clone(p), nil
		}
	}
	return nil, nil
}

func (r *pendingRepo) Update(_ context.Context, p *models.PendingOrder) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.data.PendingOrders[p.ID]; !ok {
		return fmt.Errorf("pending order %s not found", p.ID)
	}
	p.UpdatedAt = r.st.now()
	r.st.data.PendingOrders[p.ID] = clone(p)
	return nil
}

type canonicalRepo struct{ st *Store }

func (r *canonicalRepo) GetByReference(_ context.Context, reference string) (*models.CanonicalOrder, error) {
	if reference == "" {
		return nil, nil
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, c := range r.st.data.CanonicalOrders {
		if c.Reference == reference {
			return clone(c), nil
		}
	}
	return nil, nil
}

func (r *canonicalRepo) Update(_ context.Context, c *models.CanonicalOrder) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if _, ok := r.st.data.CanonicalOrders[c.ID]; !ok {
		return fmt.Errorf("canonical order %s not found", c.ID)
	}
	c.UpdatedAt = r.st.now()
	r.st.data.CanonicalOrders[c.ID] = clone(c)
	return nil
}

type customerRepo struct{ st *Store }

func (r *customerRepo) GetByUserID(_ context.Context, userID string) (*models.Customer, error) {
	if userID == "" {
		return nil, nil
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, c := range r.st.data.Customers {
		if c.UserID == userID {
			return clone(c), nil
		}
	}
	return nil, nil
}

type sessionRepo struct{ st *Store }

func (r *sessionRepo) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return clone(r.st.data.Sessions[id]), nil
}

func (r *sessionRepo) GetByOrderID(_ context.Context, orderID string) (*models.Session, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, s := range r.st.data.Sessions {
		if s.OrderID == orderID {
			return clone(s), nil
		}
	}
	return nil, nil
}

func (r *sessionRepo) Save(_ context.Context, s *models.Session) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	now := r.st.now()
	if s.Version == 0 {
		for _, existing := range r.st.data.Sessions {
			if existing.OrderID == s.OrderID {
				return fmt.Errorf("insert session for order %s: %w", s.OrderID, repository.ErrConcurrentUpdate)
			}
		}
		s.Version = 1
		s.CreatedAt = now
		s.UpdatedAt = now
		r.st.data.Sessions[s.ID] = clone(s)
		return nil
	}

	stored, ok := r.st.data.Sessions[s.ID]
	if !ok || stored.Version != s.Version {
		return fmt.Errorf("update session %s at version %d: %w", s.ID, s.Version, repository.ErrConcurrentUpdate)
	}
	s.Version++
	s.UpdatedAt = now
	r.st.data.Sessions[s.ID] = clone(s)
	return nil
}

type responseRepo struct{ st *Store }

func responseKey(sessionID string, slot forms.Slot) string {
	return sessionID + "/" + string(slot)
}

func (r *responseRepo) Get(_ context.Context, sessionID string, slot forms.Slot) (*models.FormResponse, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return clone(r.st.data.Responses[responseKey(sessionID, slot)]), nil
}

func (r *responseRepo) Upsert(_ context.Context, fr *models.FormResponse) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	now := r.st.now()
	key := responseKey(fr.SessionID, fr.Slot)
	if existing, ok := r.st.data.Responses[key]; ok {
		fr.ID = existing.ID
		fr.CreatedAt = existing.CreatedAt
	} else {
		if fr.ID == "" {
			fr.ID = uuid.NewString()
		}
		fr.CreatedAt = now
	}
	fr.UpdatedAt = now
	r.st.data.Responses[key] = clone(fr)
	return nil
}

func (r *responseRepo) ListBySession(_ context.Context, sessionID string) ([]*models.FormResponse, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var res []*models.FormResponse
	for _, fr := range r.st.data.Responses {
		if fr.SessionID == sessionID {
			res = append(res, clone(fr))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].Slot < res[j].Slot
	})
	return res, nil
}

type taskRepo struct{ st *Store }

func (r *taskRepo) CreateTask(_ context.Context, orderID string, payload []byte) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	now := r.st.now()
	id := r.st.data.NextTaskID
	r.st.data.NextTaskID++
	r.st.data.Tasks[id] = &repository.ShippingTask{
		ID:        id,
		OrderID:   orderID,
		Payload:   append([]byte(nil), payload...),
		Status:    repository.TaskStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (r *taskRepo) GetPendingTasks(_ context.Context, limit, maxAttempts int) ([]*repository.ShippingTask, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	now := r.st.now()
	var res []*repository.ShippingTask
	for _, t := range r.st.data.Tasks {
		if t.Status != repository.TaskStatusCreated && t.Status != repository.TaskStatusFailed {
			continue
		}
		if t.NextAttemptAt != nil && t.NextAttemptAt.After(now) {
			continue
		}
		if t.AttemptCount >= maxAttempts {
			continue
		}
		res = append(res, clone(t))
	}
	sortTasks(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *taskRepo) ListByOrder(_ context.Context, orderID string) ([]*repository.ShippingTask, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var res []*repository.ShippingTask
	for _, t := range r.st.data.Tasks {
		if t.OrderID == orderID {
			res = append(res, clone(t))
		}
	}
	sortTasks(res)
	return res, nil
}

func (r *taskRepo) MarkTaskProcessing(_ context.Context, taskID int) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.data.Tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d not found", taskID)
	}
	t.Status = repository.TaskStatusProcessing
	t.UpdatedAt = r.st.now()
	return nil
}

func (r *taskRepo) DeleteTask(_ context.Context, taskID int) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.data.Tasks, taskID)
	return nil
}

func (r *taskRepo) UpdateTaskFailure(_ context.Context, taskID, attemptCount int, status repository.TaskStatus, nextAttemptAt time.Time, lastErr string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.data.Tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d not found", taskID)
	}
	next := nextAttemptAt
	t.Status = status
	t.AttemptCount = attemptCount
	t.NextAttemptAt = &next
	t.LastError = lastErr
	t.UpdatedAt = r.st.now()
	return nil
}
