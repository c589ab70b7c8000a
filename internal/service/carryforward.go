package service

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"consultation/internal/forms"
	"consultation/internal/models"
)

type CarryForwardSource string

const (
	FromPendingOrder     CarryForwardSource = "pending_order"
	FromExistingResponse CarryForwardSource = "existing_response"
	FromOrderSnapshot    CarryForwardSource = "order_snapshot"
)

type CarryForwardResult struct {
	Slot    forms.Slot
	Source  CarryForwardSource
	Answers models.Answers
	Rows    []models.AnswerRow
}

// carryForwardTarget is the assessment step when the session has one, otherwise the RAF step.
func carryForwardTarget(sess *models.Session) (forms.Slot, bool) {
	for _, want := range []forms.Slot{forms.SlotAssessment, forms.SlotRAF} {
		if sess.StepIndex(want) >= 0 {
			return want, true
		}
	}
	return "", false
}

// carryForward pre-fills the session's assessment-like step from earlier answers of the same order.
// Every read and write runs in its own savepoint; failures come back as warnings and never fail
// the initialization.
func (s *ConsultationService) carryForward(ctx context.Context, order *models.Order, sess *models.Session) (*CarryForwardResult, []Warning) {
	slot, ok := carryForwardTarget(sess)
	if !ok {
		return nil, nil
	}
	var warnings []Warning

	var pending *models.PendingOrder
	var existing *models.FormResponse
	err := s.store.Tx.Savepoint(ctx, "carry_forward_read", func(ctx context.Context) error {
		var err error
		if order.Reference != "" {
			pending, err = s.store.Pending.GetByReference(ctx, order.Reference)
			if err != nil {
				return err
			}
			if pending != nil && pending.Reference != order.Reference {
				pending = nil
			}
		}
		existing, err = s.store.Responses.Get(ctx, sess.ID, slot)
		return err
	})
	if err != nil {
		warnings = append(warnings, s.warn("carry_forward.read", order.ID, err))
		pending, existing = nil, nil
	}

	res := &CarryForwardResult{Slot: slot}
	switch {
	case pending != nil && len(pending.Meta.SnapshotAnswers()) > 0:
		res.Source, res.Answers = FromPendingOrder, pending.Meta.SnapshotAnswers()
	case existing != nil && len(existing.Data) > 0:
		res.Source, res.Answers = FromExistingResponse, existing.Data
	case len(order.Meta.FrozenAnswers()) > 0:
		res.Source, res.Answers = FromOrderSnapshot, order.Meta.FrozenAnswers()
	default:
		return nil, warnings
	}
	res.Answers = res.Answers.Clone()
	res.Rows = AnswerRows(sess.Templates[slot].Schema, res.Answers)

	if err := s.store.Tx.Savepoint(ctx, "carry_forward_order", func(ctx context.Context) error {
		fresh, err := s.store.Orders.GetByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return ErrOrderNotFound
		}
		writeAnswersToOrderMeta(&fresh.Meta, sess, res)
		return s.store.Orders.Update(ctx, fresh)
	}); err != nil {
		warnings = append(warnings, s.warn("carry_forward.order_meta", order.ID, err))
	}

	if existing == nil || len(existing.Data) == 0 {
		if err := s.store.Tx.Savepoint(ctx, "carry_forward_response", func(ctx context.Context) error {
			snap := sess.Templates[slot]
			return s.store.Responses.Upsert(ctx, &models.FormResponse{
				ID:           s.newID(),
				SessionID:    sess.ID,
				Slot:         slot,
				ClinicFormID: snap.TemplateID,
				FormVersion:  snap.Version,
				Data:         res.Answers,
			})
		}); err != nil {
			warnings = append(warnings, s.warn("carry_forward.response", order.ID, err))
		}
	}

	if pending != nil && (res.Source != FromPendingOrder || len(pending.Meta.AssessmentSnapshot) == 0) {
		if err := s.store.Tx.Savepoint(ctx, "carry_forward_pending", func(ctx context.Context) error {
			pending.Meta.AssessmentSnapshot = res.Answers
			return s.store.Pending.Update(ctx, pending)
		}); err != nil {
			warnings = append(warnings, s.warn("carry_forward.pending_order", order.ID, err))
		}
	}

	if err := s.store.Tx.Savepoint(ctx, "carry_forward_session", func(ctx context.Context) error {
		at := s.now()
		sess.Meta.Consultation.CarryForwardSource = string(res.Source)
		sess.Meta.Consultation.CarriedForwardAt = &at
		return s.store.Sessions.Save(ctx, sess)
	}); err != nil {
		warnings = append(warnings, s.warn("carry_forward.session_meta", order.ID, err))
	}

	return res, warnings
}

func writeAnswersToOrderMeta(meta *models.OrderMeta, sess *models.Session, res *CarryForwardResult) {
	if meta.Consultation == nil {
		meta.Consultation = &models.ConsultationMeta{}
	}
	meta.Consultation.SessionID = sess.ID
	meta.Consultation.Answers = res.Rows
	meta.Consultation.AnswersSource = string(res.Source)
	if meta.Consultation.Type == "" && sess.Meta.Consultation != nil {
		meta.Consultation.Type = sess.Meta.Consultation.Type
	}
	meta.AssessmentAnswers = res.Rows
	meta.AssessmentSnapshot = res.Answers
	if res.Slot == forms.SlotRAF {
		meta.RAFAnswers = res.Answers
	}
}

// AnswerRows pairs answers with the question labels of schema. Rows follow the schema's field order;
// answers without a field come after in key order and get a label made from the key.
func AnswerRows(schema forms.Schema, answers models.Answers) []models.AnswerRow {
	if len(answers) == 0 {
		return nil
	}
	labels := schema.FieldLabels()
	rows := make([]models.AnswerRow, 0, len(answers))
	seen := make(map[string]struct{}, len(answers))
	for _, key := range schema.FieldKeys() {
		v, ok := answers[key]
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, models.AnswerRow{Key: key, Question: questionLabel(labels, key), Answer: v})
	}
	rest := make([]string, 0, len(answers)-len(seen))
	for key := range answers {
		if _, ok := seen[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		rows = append(rows, models.AnswerRow{Key: key, Question: questionLabel(labels, key), Answer: answers[key]})
	}
	return rows
}

func questionLabel(labels map[string]string, key string) string {
	if l, ok := labels[key]; ok && strings.TrimSpace(l) != "" {
		return l
	}
	return HumanizeKey(key)
}

// HumanizeKey turns "weight_kg" into "Weight Kg".
func HumanizeKey(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	if len(words) == 0 {
		return key
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
