package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"consultation/internal/audit"
	"consultation/internal/models"
	"consultation/internal/shipping"
)

type ShippingStatus string

const (
	ShippingDispatched   ShippingStatus = "dispatched"
	ShippingPendingRetry ShippingStatus = "pending_retry"
	ShippingFailed       ShippingStatus = "failed"
	ShippingSkipped      ShippingStatus = "skipped"
)

type CompleteOptions struct {
	// ShippingOverride replaces the order and profile addresses for this dispatch.
	ShippingOverride *models.ShippingMeta
}

// ShippingOutcome tells "completed, shipping pending or failed" apart from a completion failure.
type ShippingOutcome struct {
	Status         ShippingStatus
	Carrier        string
	TrackingNumber string
	LabelPath      string
	Err            error
}

type CompletionResult struct {
	Session          *models.Session
	Order            *models.Order
	AlreadyCompleted bool
	Shipping         ShippingOutcome
	Warnings         []Warning
}

func completionNote(sess *models.Session) string {
	flow := sess.Meta.ConsultationType()
	if flow == "" {
		flow = "consultation"
	}
	return fmt.Sprintf("[%s] %s completed (session %s)", sess.CompletedAt.UTC().Format(time.RFC3339), flow, sess.ID)
}

// Complete closes the session and completes its order in one transaction, mirrors the transition onto
// the canonical order, and then dispatches shipping after commit. A shipping failure never undoes the
// completion; it is reported in the result and the dispatch is queued for retry. Calling Complete
// again is a no-op that returns the stored state.
func (s *ConsultationService) Complete(ctx context.Context, sessionID string, opts CompleteOptions) (res *CompletionResult, err error) {
	ctx, span := s.startSpan(ctx, "Complete", attribute.String("session_id", sessionID))
	defer func() { endSpan(span, err) }()

	sess, err := s.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	res = &CompletionResult{}
	err = s.store.Tx.WithinOrderLock(ctx, sess.OrderID, func(ctx context.Context) error {
		sess, err := s.store.Sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		order, err := s.store.Orders.GetByID(ctx, sess.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, sess.OrderID)
		}

		now := s.now()
		res.AlreadyCompleted = sess.IsCompleted()
		if !res.AlreadyCompleted {
			sess.CompletedAt = &now
			if err := s.store.Sessions.Save(ctx, sess); err != nil {
				return err
			}
		}

		note := completionNote(sess)
		order.MarkCompleted(now, note)
		if order.Meta.Consultation == nil {
			order.Meta.Consultation = &models.ConsultationMeta{}
		}
		order.Meta.Consultation.SessionID = sess.ID
		if order.Meta.Consultation.Type == "" {
			order.Meta.Consultation.Type = sess.Meta.ConsultationType()
		}
		if order.Meta.Consultation.CompletedAt == nil {
			order.Meta.Consultation.CompletedAt = sess.CompletedAt
		}
		if err := s.store.Orders.Update(ctx, order); err != nil {
			return err
		}

		if err := s.mirrorCanonical(ctx, order, now, note); err != nil {
			res.Warnings = append(res.Warnings, s.warn("complete.canonical_mirror", order.ID, err))
		}

		res.Session, res.Order = sess, order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.AlreadyCompleted {
		s.audit.Log(audit.Record{
			Timestamp: s.now(),
			OrderID:   res.Order.ID,
			SessionID: res.Session.ID,
			Event:     audit.EventConsultationCompleted,
			OldState:  "open",
			NewState:  models.OrderStatusCompleted,
			Message:   completionNote(res.Session),
		})
	}

	if res.AlreadyCompleted || s.dispatcher == nil {
		res.Shipping.Status = ShippingSkipped
	} else {
		// The completion is committed; a dropped caller must not cancel the dispatch or its retry.
		s.ship(context.WithoutCancel(ctx), res, opts.ShippingOverride)
	}

	s.log.WithFields(logrus.Fields{
		"op":                "complete",
		"order_id":          res.Order.ID,
		"session_id":        res.Session.ID,
		"already_completed": res.AlreadyCompleted,
		"shipping":          res.Shipping.Status,
	}).Info("consultation completed")
	return res, nil
}

func (s *ConsultationService) mirrorCanonical(ctx context.Context, order *models.Order, at time.Time, note string) error {
	if order.Reference == "" {
		return nil
	}
	return s.store.Tx.Savepoint(ctx, "canonical_mirror", func(ctx context.Context) error {
		canonical, err := s.store.Canonical.GetByReference(ctx, order.Reference)
		if err != nil {
			return err
		}
		if canonical == nil {
			return nil
		}
		canonical.MarkCompleted(at, note)
		return s.store.Canonical.Update(ctx, canonical)
	})
}

// ship runs the post-commit dispatch and queues a retry task when it fails.
func (s *ConsultationService) ship(ctx context.Context, res *CompletionResult, override *models.ShippingMeta) {
	orderID := res.Order.ID
	out, err := s.dispatcher.Dispatch(ctx, orderID, override)
	var recErr *shipping.RecordError
	if errors.As(err, &recErr) && out != nil {
		res.Warnings = append(res.Warnings, s.warn("complete.shipping_record", orderID, err))
		err = nil
	}
	if err == nil {
		res.Shipping = ShippingOutcome{
			Status:         ShippingDispatched,
			Carrier:        out.Carrier,
			TrackingNumber: out.TrackingNumber,
			LabelPath:      out.LabelPath,
		}
		s.audit.Log(audit.Record{
			Timestamp: s.now(),
			OrderID:   orderID,
			SessionID: res.Session.ID,
			Event:     audit.EventShippingDispatched,
			NewState:  out.TrackingNumber,
			Message:   fmt.Sprintf("carrier %s", out.Carrier),
		})
		return
	}

	res.Warnings = append(res.Warnings, s.warn("complete.shipping_dispatch", orderID, err))
	res.Shipping = ShippingOutcome{Status: ShippingFailed, Err: err}
	s.audit.Log(audit.Record{
		Timestamp: s.now(),
		OrderID:   orderID,
		SessionID: res.Session.ID,
		Event:     audit.EventShippingFailed,
		Message:   err.Error(),
	})

	payload, qerr := json.Marshal(shipping.RetryPayload{Override: override, Reason: err.Error()})
	if qerr == nil {
		qerr = s.store.Tasks.CreateTask(ctx, orderID, payload)
	}
	if qerr != nil {
		res.Warnings = append(res.Warnings, s.warn("complete.shipping_enqueue", orderID, qerr))
		return
	}
	res.Shipping.Status = ShippingPendingRetry
	s.audit.Log(audit.Record{
		Timestamp: s.now(),
		OrderID:   orderID,
		SessionID: res.Session.ID,
		Event:     audit.EventShippingQueued,
		Message:   "dispatch queued for retry",
	})
}
