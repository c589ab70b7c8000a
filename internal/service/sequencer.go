package service

import (
	"strings"

	"consultation/internal/forms"
	"consultation/internal/models"
)

type FlowType string

const (
	FlowNew     FlowType = "new"
	FlowReorder FlowType = "reorder"
)

var flowSteps = map[FlowType][]forms.Slot{
	FlowNew:     {forms.SlotRAF, forms.SlotAssessment, forms.SlotAdvice, forms.SlotDeclaration, forms.SlotSupply},
	FlowReorder: {forms.SlotReorder, forms.SlotAdvice, forms.SlotDeclaration, forms.SlotSupply},
}

// Steps returns the canonical slot order of the flow.
func (f FlowType) Steps() []forms.Slot {
	steps := flowSteps[f]
	out := make([]forms.Slot, len(steps))
	copy(out, steps)
	return out
}

// ConsultationType is the value stored under consultation.type.
func (f FlowType) ConsultationType() string {
	if f == FlowReorder {
		return "reorder"
	}
	return "risk_assessment"
}

// ParseFlow accepts flow names and consultation.type values.
func ParseFlow(raw string) (FlowType, bool) {
	switch normSlug(raw) {
	case "new", "risk_assessment", "risk-assessment", "assessment", "consultation":
		return FlowNew, true
	case "reorder", "re-order", "repeat":
		return FlowReorder, true
	}
	return "", false
}

type FlowSource string

const (
	FlowFromIntent      FlowSource = "intent"
	FlowFromSessionMeta FlowSource = "session_meta"
	FlowFromOrderMeta   FlowSource = "order_meta"
	FlowFromHeuristic   FlowSource = "heuristic"
	FlowFromDefault     FlowSource = "default"
)

var reorderKeywords = []string{"reorder", "re-order", "repeat"}

// ResolveFlow decides the flow once per initialization: caller intent, then consultation.type on the
// session, then on the order, then reorder markers on the order, then the new-patient flow.
func ResolveFlow(intent string, session *models.Session, order *models.Order) (FlowType, FlowSource) {
	if f, ok := ParseFlow(intent); ok {
		return f, FlowFromIntent
	}
	if session != nil {
		if f, ok := ParseFlow(session.Meta.ConsultationType()); ok {
			return f, FlowFromSessionMeta
		}
	}
	if order == nil {
		return FlowNew, FlowFromDefault
	}
	if f, ok := ParseFlow(order.Meta.ConsultationType()); ok {
		return f, FlowFromOrderMeta
	}
	if order.Meta.ReorderFlagged() {
		return FlowReorder, FlowFromHeuristic
	}
	slugs := normSlug(order.ServiceSlug) + " " + normSlug(order.TreatmentSlug)
	for _, kw := range reorderKeywords {
		if strings.Contains(slugs, kw) {
			return FlowReorder, FlowFromHeuristic
		}
	}
	return FlowNew, FlowFromDefault
}

// Sequence keeps the flow's slots that resolved a template, in canonical order.
func Sequence(flow FlowType, resolved map[forms.Slot]*models.Template) []forms.Slot {
	var steps []forms.Slot
	for _, slot := range flow.Steps() {
		if resolved[slot] != nil {
			steps = append(steps, slot)
		}
	}
	return steps
}
