package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"consultation/internal/audit"
	"consultation/internal/models"
	"consultation/internal/repository"
	"consultation/internal/shipping"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, orderID string, override *models.ShippingMeta) (*shipping.Result, error)
}

type Config struct {
	PollInterval time.Duration
	Limit        int
	MaxAttempts  int
	RetryDelay   time.Duration
}

// ShippingProcessor drains the shipping outbox, retrying dispatches that failed after completion.
type ShippingProcessor struct {
	repo         repository.ShippingTaskRepository
	dispatcher   Dispatcher
	audit        audit.Sink
	log          logrus.FieldLogger
	pollInterval time.Duration
	limit        int
	maxAttempts  int
	retryDelay   time.Duration
	now          func() time.Time
}

func NewShippingProcessor(repo repository.ShippingTaskRepository, dispatcher Dispatcher, sink audit.Sink, log logrus.FieldLogger, cfg Config) *ShippingProcessor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &ShippingProcessor{
		repo:         repo,
		dispatcher:   dispatcher,
		audit:        sink,
		log:          log,
		pollInterval: cfg.PollInterval,
		limit:        cfg.Limit,
		maxAttempts:  cfg.MaxAttempts,
		retryDelay:   cfg.RetryDelay,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (p *ShippingProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessPending(ctx)
			ticker.Reset(p.pollInterval)
		}
	}
}

// ProcessPending handles one batch of due tasks and returns how many were dispatched.
func (p *ShippingProcessor) ProcessPending(ctx context.Context) int {
	tasks, err := p.repo.GetPendingTasks(ctx, p.limit, p.maxAttempts)
	if err != nil {
		p.log.WithError(err).Error("fetch pending shipping tasks")
		return 0
	}
	done := 0
	for _, task := range tasks {
		if err := p.repo.MarkTaskProcessing(ctx, task.ID); err != nil {
			p.log.WithError(err).WithField("task_id", task.ID).Error("mark task processing")
			continue
		}

		var payload shipping.RetryPayload
		if len(task.Payload) > 0 {
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				p.update(ctx, task, fmt.Errorf("decode payload: %w", err))
				continue
			}
		}

		res, err := p.dispatcher.Dispatch(ctx, task.OrderID, payload.Override)
		var recErr *shipping.RecordError
		if errors.As(err, &recErr) && res != nil {
			// booked at the carrier; retrying would book it twice
			p.log.WithError(err).WithField("task_id", task.ID).Warn("queued shipment booked but not recorded")
			err = nil
		}
		if err != nil {
			p.update(ctx, task, err)
			continue
		}
		done++
		p.log.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"order_id": task.OrderID,
			"tracking": res.TrackingNumber,
		}).Info("queued shipment dispatched")
		p.audit.Log(audit.Record{
			Timestamp: p.now(),
			OrderID:   task.OrderID,
			Event:     audit.EventShippingDispatched,
			NewState:  res.TrackingNumber,
			Message:   fmt.Sprintf("dispatched by retry after %d failed attempts", task.AttemptCount),
		})
		if err := p.repo.DeleteTask(ctx, task.ID); err != nil {
			p.log.WithError(err).WithField("task_id", task.ID).Error("delete task after dispatch")
		}
	}
	return done
}

func (p *ShippingProcessor) update(ctx context.Context, task *repository.ShippingTask, err error) {
	newAttempt := task.AttemptCount + 1
	newStatus := repository.TaskStatusFailed
	if newAttempt >= p.maxAttempts {
		newStatus = repository.TaskStatusNoAttemptsLeft
	}
	nextAttempt := p.now().Add(p.retryDelay * time.Duration(newAttempt))
	if errUpd := p.repo.UpdateTaskFailure(ctx, task.ID, newAttempt, newStatus, nextAttempt, err.Error()); errUpd != nil {
		p.log.WithError(errUpd).WithField("task_id", task.ID).Error("update task on failure")
	}
	p.log.WithError(err).WithFields(logrus.Fields{
		"task_id":  task.ID,
		"order_id": task.OrderID,
		"attempt":  newAttempt,
		"status":   newStatus,
	}).Warn("shipping retry failed")
	p.audit.Log(audit.Record{
		Timestamp: p.now(),
		OrderID:   task.OrderID,
		Event:     audit.EventShippingFailed,
		NewState:  string(newStatus),
		Message:   err.Error(),
	})
}
