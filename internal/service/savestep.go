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

type SaveStepInput struct {
	// Slot accepts the canonical slot name or any of its category aliases.
	Slot      string
	Answers   models.Answers
	Completed bool
}

type SaveStepResult struct {
	Session  *models.Session
	Response *models.FormResponse
	Advanced bool
}

// SaveStep stores the answers of one step, overwriting what was saved for the slot before.
// Completing the current step moves the pointer forward unless it is the last one.
func (s *ConsultationService) SaveStep(ctx context.Context, sessionID string, in SaveStepInput) (res *SaveStepResult, err error) {
	ctx, span := s.startSpan(ctx, "SaveStep",
		attribute.String("session_id", sessionID), attribute.String("slot", in.Slot))
	defer func() { endSpan(span, err) }()

	slot, ok := forms.ParseSlot(in.Slot)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, in.Slot)
	}

	sess, err := s.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	err = s.store.Tx.WithinOrderLock(ctx, sess.OrderID, func(ctx context.Context) error {
		// re-read under the lock
		sess, err := s.store.Sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if sess.IsCompleted() {
			return ErrSessionCompleted
		}
		idx := sess.StepIndex(slot)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrSlotNotInSession, slot)
		}

		now := s.now()
		snap := sess.Templates[slot]
		resp := &models.FormResponse{
			ID:           s.newID(),
			SessionID:    sess.ID,
			Slot:         slot,
			ClinicFormID: snap.TemplateID,
			FormVersion:  snap.Version,
			Data:         in.Answers.Clone(),
			IsComplete:   in.Completed,
		}
		if in.Completed {
			resp.CompletedAt = &now
		}
		if err := s.store.Responses.Upsert(ctx, resp); err != nil {
			return err
		}

		advanced := false
		if in.Completed && idx == sess.Current && idx < len(sess.Steps)-1 {
			sess.Current = idx + 1
			advanced = true
			if err := s.store.Sessions.Save(ctx, sess); err != nil {
				return err
			}
		}
		res = &SaveStepResult{Session: sess, Response: resp, Advanced: advanced}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(audit.Record{
		Timestamp: s.now(),
		OrderID:   res.Session.OrderID,
		SessionID: res.Session.ID,
		Event:     audit.EventStepSaved,
		NewState:  string(slot),
		Message:   fmt.Sprintf("%d answers, completed=%t", len(in.Answers), in.Completed),
	})
	s.log.WithFields(logrus.Fields{
		"op":         "save_step",
		"session_id": sessionID,
		"slot":       slot,
		"advanced":   res.Advanced,
	}).Debug("step saved")
	return res, nil
}
