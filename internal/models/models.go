package models

import (
	"strings"
	"time"

	"consultation/internal/forms"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"

	BookingStatusCompleted = "completed"
)

type Order struct {
	ID            string     `json:"id"`
	Reference     string     `json:"reference"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	BookingStatus string     `json:"booking_status"`
	UserID        string     `json:"user_id"`
	ServiceSlug   string     `json:"service_slug"`
	TreatmentSlug string     `json:"treatment_slug"`
	Meta          OrderMeta  `json:"meta"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// MarkCompleted moves the order to completed and appends note to the completion log.
// The completion timestamp is only set once; the note is skipped when already present.
func (o *Order) MarkCompleted(at time.Time, note string) {
	o.Status = OrderStatusCompleted
	o.BookingStatus = BookingStatusCompleted
	if o.CompletedAt == nil {
		t := at
		o.CompletedAt = &t
	}
	o.Meta.AppendCompletionNote(note)
	o.UpdatedAt = at
}

// PendingOrder is the draft twin of an order, sharing its external reference.
type PendingOrder struct {
	ID            string      `json:"id"`
	Reference     string      `json:"reference"`
	UserID        string      `json:"user_id"`
	ServiceSlug   string      `json:"service_slug"`
	TreatmentSlug string      `json:"treatment_slug"`
	Meta          PendingMeta `json:"meta"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CanonicalOrder is the separately tracked order record mirrored on completion.
type CanonicalOrder struct {
	ID            string     `json:"id"`
	Reference     string     `json:"reference"`
	Status        string     `json:"status"`
	BookingStatus string     `json:"booking_status"`
	Meta          OrderMeta  `json:"meta"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (c *CanonicalOrder) MarkCompleted(at time.Time, note string) {
	c.Status = OrderStatusCompleted
	c.BookingStatus = BookingStatusCompleted
	if c.CompletedAt == nil {
		t := at
		c.CompletedAt = &t
	}
	c.Meta.AppendCompletionNote(note)
	c.UpdatedAt = at
}

type Address struct {
	Name     string `json:"name,omitempty"`
	Line1    string `json:"address1,omitempty"`
	Line2    string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	County   string `json:"county,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// IsBlank reports whether no address field carries a value. Name alone does not count.
func (a Address) IsBlank() bool {
	for _, v := range []string{a.Line1, a.Line2, a.City, a.County, a.Postcode, a.Country} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (c Contact) IsBlank() bool {
	return strings.TrimSpace(c.Email) == "" && strings.TrimSpace(c.Phone) == ""
}

type Customer struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Email           string  `json:"email"`
	Phone           string  `json:"phone"`
	Home            Address `json:"home"`
	Shipping        Address `json:"shipping"`
	ShippingContact Contact `json:"shipping_contact"`
}

func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Template is a versioned clinic form definition.
type Template struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ServiceSlug   string       `json:"service_slug"`
	TreatmentSlug string       `json:"treatment_slug"`
	Category      string       `json:"category"`
	Active        bool         `json:"active"`
	Version       int          `json:"version"`
	Schema        forms.Schema `json:"schema"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (t *Template) Snapshot() TemplateSnapshot {
	return TemplateSnapshot{
		TemplateID: t.ID,
		Name:       t.Name,
		Category:   t.Category,
		Version:    t.Version,
		Schema:     t.Schema,
	}
}

// TemplateSnapshot is the copy of a template a session was built from.
type TemplateSnapshot struct {
	TemplateID string       `json:"template_id"`
	Name       string       `json:"name,omitempty"`
	Category   string       `json:"category,omitempty"`
	Version    int          `json:"version"`
	Schema     forms.Schema `json:"schema"`
}

type Session struct {
	ID            string                          `json:"id"`
	OrderID       string                          `json:"order_id"`
	ServiceSlug   string                          `json:"service_slug"`
	TreatmentSlug string                          `json:"treatment_slug"`
	Templates     map[forms.Slot]TemplateSnapshot `json:"templates"`
	Steps         []forms.Slot                    `json:"steps"`
	Current       int                             `json:"current"`
	Meta          SessionMeta                     `json:"meta"`
	Version       int                             `json:"version"`
	CompletedAt   *time.Time                      `json:"completed_at,omitempty"`
	CreatedAt     time.Time                       `json:"created_at"`
	UpdatedAt     time.Time                       `json:"updated_at"`
}

func (s *Session) IsCompleted() bool {
	return s.CompletedAt != nil
}

// CurrentSlot returns the slot the pointer is on, or "" for an empty session.
func (s *Session) CurrentSlot() forms.Slot {
	if s.Current < 0 || s.Current >= len(s.Steps) {
		return ""
	}
	return s.Steps[s.Current]
}

// StepIndex returns the position of slot in Steps, or -1.
func (s *Session) StepIndex(slot forms.Slot) int {
	for i, st := range s.Steps {
		if st == slot {
			return i
		}
	}
	return -1
}

// FormResponse is the answer set captured for one (session, slot) pair.
type FormResponse struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Slot         forms.Slot `json:"slot"`
	ClinicFormID string     `json:"clinic_form_id"`
	FormVersion  int        `json:"form_version"`
	Data         Answers    `json:"data"`
	IsComplete   bool       `json:"is_complete"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
