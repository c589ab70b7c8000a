package service

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnknownSlot      = errors.New("unknown slot")
	ErrSlotNotInSession = errors.New("slot is not a step of this session")
	ErrSessionCompleted = errors.New("session already completed")
)

// ConfigurationError means no step of the chosen flow resolved a form template. Nothing is persisted.
type ConfigurationError struct {
	OrderID       string
	Flow          FlowType
	ServiceSlug   string
	TreatmentSlug string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no active form template for any %s step of order %s (service %q, treatment %q)",
		e.Flow, e.OrderID, e.ServiceSlug, e.TreatmentSlug)
}

// Warning is a non-fatal failure. It is logged and returned alongside a successful result.
type Warning struct {
	Op      string
	OrderID string
	Err     error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s (order %s): %v", w.Op, w.OrderID, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}
