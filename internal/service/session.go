package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"consultation/internal/audit"
	"consultation/internal/forms"
	"consultation/internal/models"
)

type InitializeInput struct {
	OrderID string
	// Intent is an explicit flow choice ("new" or "reorder"). Empty lets the engine decide.
	Intent string
}

type InitializeResult struct {
	Session      *models.Session
	Created      bool
	Flow         FlowType
	FlowSource   FlowSource
	Tiers        map[forms.Slot]Tier
	CarryForward *CarryForwardResult
	Warnings     []Warning
}

// Initialize creates the order's session or refreshes it. Templates and steps are recomputed on
// every call; the step pointer survives when it still fits the new step list, and saved answers
// are never touched. New-patient flows then get prior answers carried into their assessment step.
func (s *ConsultationService) Initialize(ctx context.Context, in InitializeInput) (res *InitializeResult, err error) {
	ctx, span := s.startSpan(ctx, "Initialize", attribute.String("order_id", in.OrderID))
	defer func() { endSpan(span, err) }()

	var oldSteps string
	err = s.store.Tx.WithinOrderLock(ctx, in.OrderID, func(ctx context.Context) error {
		order, err := s.store.Orders.GetByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, in.OrderID)
		}
		existing, err := s.store.Sessions.GetByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}

		flow, source := ResolveFlow(in.Intent, existing, order)
		resolved := make(map[forms.Slot]*models.Template)
		tiers := make(map[forms.Slot]Tier)
		for _, slot := range flow.Steps() {
			tpl, tier, err := s.resolver.Resolve(ctx, order.ServiceSlug, order.TreatmentSlug, slot)
			if err != nil {
				return err
			}
			if tpl != nil {
				resolved[slot] = tpl
				tiers[slot] = tier
			}
		}
		steps := Sequence(flow, resolved)
		if len(steps) == 0 {
			return &ConfigurationError{
				OrderID:       order.ID,
				Flow:          flow,
				ServiceSlug:   order.ServiceSlug,
				TreatmentSlug: order.TreatmentSlug,
			}
		}

		sess := existing
		created := sess == nil
		if created {
			sess = &models.Session{ID: s.newID(), OrderID: order.ID}
		}
		oldSteps = fmt.Sprint(sess.Steps)
		sess.ServiceSlug = order.ServiceSlug
		sess.TreatmentSlug = order.TreatmentSlug
		sess.Steps = steps
		sess.Templates = make(map[forms.Slot]models.TemplateSnapshot, len(steps))
		for _, slot := range steps {
			sess.Templates[slot] = resolved[slot].Snapshot()
		}
		if created || sess.Current < 0 || sess.Current >= len(steps) {
			sess.Current = 0
		}
		if sess.Meta.Consultation == nil {
			sess.Meta.Consultation = &models.SessionConsultation{}
		}
		sess.Meta.Consultation.Type = flow.ConsultationType()
		sess.Meta.Consultation.Flow = string(flow)
		sess.Meta.Consultation.FlowSource = string(source)
		if source == FlowFromIntent {
			sess.Meta.Consultation.Intent = in.Intent
		}
		if err := s.store.Sessions.Save(ctx, sess); err != nil {
			return err
		}

		res = &InitializeResult{
			Session:    sess,
			Created:    created,
			Flow:       flow,
			FlowSource: source,
			Tiers:      tiers,
		}
		if flow == FlowNew {
			res.CarryForward, res.Warnings = s.carryForward(ctx, order, sess)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	event, msg := audit.EventSessionRefreshed, "session refreshed"
	if res.Created {
		event, msg = audit.EventSessionInitialized, "session created"
	}
	s.audit.Log(audit.Record{
		Timestamp: s.now(),
		OrderID:   in.OrderID,
		SessionID: res.Session.ID,
		Event:     event,
		OldState:  oldSteps,
		NewState:  fmt.Sprint(res.Session.Steps),
		Message:   fmt.Sprintf("%s (%s flow from %s)", msg, res.Flow, res.FlowSource),
	})
	if cf := res.CarryForward; cf != nil {
		s.audit.Log(audit.Record{
			Timestamp: s.now(),
			OrderID:   in.OrderID,
			SessionID: res.Session.ID,
			Event:     audit.EventAnswersCarriedForward,
			NewState:  string(cf.Slot),
			Message:   fmt.Sprintf("%d answers from %s", len(cf.Rows), cf.Source),
		})
	}

	s.log.WithFields(logrus.Fields{
		"op":         "initialize",
		"order_id":   in.OrderID,
		"session_id": res.Session.ID,
		"flow":       res.Flow,
		"steps":      len(res.Session.Steps),
		"current":    res.Session.Current,
	}).Info("consultation session ready")
	return res, nil
}
