package models

import (
	"strings"
	"time"
)

// OrderMeta is the order's metadata document. Keys without a typed field survive in Extra.
type OrderMeta struct {
	Consultation       *ConsultationMeta `json:"consultation,omitempty"`
	Shipping           *ShippingMeta     `json:"shipping,omitempty"`
	Package            *PackageMeta      `json:"package,omitempty"`
	CompletionNotes    []string          `json:"completion_notes,omitempty"`
	AssessmentSnapshot Answers           `json:"assessment_snapshot,omitempty"`
	AssessmentAnswers  []AnswerRow       `json:"assessment_answers,omitempty"`
	RAFAnswers         Answers           `json:"raf_answers,omitempty"`
	IsReorder          bool              `json:"is_reorder,omitempty"`
	WeightGrams        int               `json:"weight_grams,omitempty"`
	Extra              Extra             `json:"-"`
}

type orderMetaAlias OrderMeta

var orderMetaKeys = knownKeys(orderMetaAlias{})

func (m OrderMeta) MarshalJSON() ([]byte, error) {
	return joinExtra(orderMetaAlias(m), m.Extra)
}

func (m *OrderMeta) UnmarshalJSON(data []byte) error {
	var a orderMetaAlias
	extra, err := splitExtra(data, &a, orderMetaKeys)
	if err != nil {
		return err
	}
	*m = OrderMeta(a)
	m.Extra = extra
	return nil
}

// AppendCompletionNote adds line to the append-only completion log unless an identical line exists.
func (m *OrderMeta) AppendCompletionNote(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, existing := range m.CompletionNotes {
		if existing == line {
			return false
		}
	}
	m.CompletionNotes = append(m.CompletionNotes, line)
	return true
}

// ReorderFlagged reports whether any of the historical reorder markers is set.
func (m *OrderMeta) ReorderFlagged() bool {
	if m.IsReorder || m.Extra.Bool("reorder") || m.Extra.Bool("is_repeat") {
		return true
	}
	switch strings.ToLower(m.Extra.String("type")) {
	case "reorder", "repeat", "re-order":
		return true
	}
	return false
}

// ConsultationType returns consultation.type, falling back to the legacy top-level consultation_type key.
func (m *OrderMeta) ConsultationType() string {
	if m.Consultation != nil && m.Consultation.Type != "" {
		return m.Consultation.Type
	}
	return m.Extra.String("consultation_type")
}

// PackageWeightGrams reads weight_grams, then package.weight_grams. Zero means unknown.
func (m *OrderMeta) PackageWeightGrams() int {
	if m.WeightGrams > 0 {
		return m.WeightGrams
	}
	if m.Package != nil && m.Package.WeightGrams > 0 {
		return m.Package.WeightGrams
	}
	return 0
}

// FrozenAnswers returns the answer snapshot captured on the order, trying the historical locations in order.
func (m *OrderMeta) FrozenAnswers() Answers {
	if len(m.AssessmentSnapshot) > 0 {
		return m.AssessmentSnapshot
	}
	if m.Consultation != nil && len(m.Consultation.Answers) > 0 {
		return RowsToAnswers(m.Consultation.Answers)
	}
	if len(m.AssessmentAnswers) > 0 {
		return RowsToAnswers(m.AssessmentAnswers)
	}
	if len(m.RAFAnswers) > 0 {
		return m.RAFAnswers
	}
	return nil
}

type ConsultationMeta struct {
	Type          string      `json:"type,omitempty"`
	Intent        string      `json:"intent,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	Answers       []AnswerRow `json:"answers,omitempty"`
	AnswersSource string      `json:"answers_source,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	Extra         Extra       `json:"-"`
}

type consultationMetaAlias ConsultationMeta

var consultationMetaKeys = knownKeys(consultationMetaAlias{})

func (m ConsultationMeta) MarshalJSON() ([]byte, error) {
	return joinExtra(consultationMetaAlias(m), m.Extra)
}

func (m *ConsultationMeta) UnmarshalJSON(data []byte) error {
	var a consultationMetaAlias
	extra, err := splitExtra(data, &a, consultationMetaKeys)
	if err != nil {
		return err
	}
	*m = ConsultationMeta(a)
	m.Extra = extra
	return nil
}

// ShippingMeta is the order's "shipping" sub-document: destination, contact and dispatch results.
type ShippingMeta struct {
	Name           string     `json:"name,omitempty"`
	Address1       string     `json:"address1,omitempty"`
	Address2       string     `json:"address2,omitempty"`
	City           string     `json:"city,omitempty"`
	County         string     `json:"county,omitempty"`
	Postcode       string     `json:"postcode,omitempty"`
	Country        string     `json:"country,omitempty"`
	CountryCode    string     `json:"country_code,omitempty"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	LabelPath      string     `json:"label_path,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
	Extra          Extra      `json:"-"`
}

type shippingMetaAlias ShippingMeta

var shippingMetaKeys = knownKeys(shippingMetaAlias{})

func (m ShippingMeta) MarshalJSON() ([]byte, error) {
	return joinExtra(shippingMetaAlias(m), m.Extra)
}

func (m *ShippingMeta) UnmarshalJSON(data []byte) error {
	var a shippingMetaAlias
	extra, err := splitExtra(data, &a, shippingMetaKeys)
	if err != nil {
		return err
	}
	*m = ShippingMeta(a)
	m.Extra = extra
	return nil
}

// Address returns the destination, reading legacy key spellings when the typed fields are empty.
func (m *ShippingMeta) Address() Address {
	pick := func(v string, legacy ...string) string {
		if v != "" {
			return v
		}
		for _, k := range legacy {
			if s := m.Extra.String(k); s != "" {
				return s
			}
		}
		return ""
	}
	country := m.CountryCode
	if country == "" {
		country = m.Country
	}
	return Address{
		Name:     pick(m.Name, "full_name", "recipient"),
		Line1:    pick(m.Address1, "address_line1", "line1", "street"),
		Line2:    pick(m.Address2, "address_line2", "line2"),
		City:     pick(m.City, "town"),
		County:   pick(m.County, "state", "region"),
		Postcode: pick(m.Postcode, "postal_code", "zip"),
		Country:  pick(country, "country_name"),
	}
}

func (m *ShippingMeta) Contact() Contact {
	email := m.Email
	if email == "" {
		email = m.Extra.String("email_address")
	}
	phone := m.Phone
	if phone == "" {
		phone = m.Extra.String("phone_number")
	}
	return Contact{Email: email, Phone: phone}
}

type PackageMeta struct {
	WeightGrams int `json:"weight_grams,omitempty"`
}

// PendingMeta is the pending order's metadata document.
type PendingMeta struct {
	AssessmentSnapshot Answers `json:"assessment_snapshot,omitempty"`
	Answers            Answers `json:"answers,omitempty"`
	RAFAnswers         Answers `json:"raf_answers,omitempty"`
	Extra              Extra   `json:"-"`
}

type pendingMetaAlias PendingMeta

var pendingMetaKeys = knownKeys(pendingMetaAlias{})

func (m PendingMeta) MarshalJSON() ([]byte, error) {
	return joinExtra(pendingMetaAlias(m), m.Extra)
}

func (m *PendingMeta) UnmarshalJSON(data []byte) error {
	var a pendingMetaAlias
	extra, err := splitExtra(data, &a, pendingMetaKeys)
	if err != nil {
		return err
	}
	*m = PendingMeta(a)
	m.Extra = extra
	return nil
}

// SnapshotAnswers returns the first populated answer location of the pending order.
func (m *PendingMeta) SnapshotAnswers() Answers {
	for _, a := range []Answers{m.AssessmentSnapshot, m.Answers, m.RAFAnswers} {
		if len(a) > 0 {
			return a
		}
	}
	return nil
}

// SessionMeta is the session's metadata document.
type SessionMeta struct {
	Consultation *SessionConsultation `json:"consultation,omitempty"`
	Extra        Extra                `json:"-"`
}

type SessionConsultation struct {
	// Type is "reorder" or "risk_assessment".
	Type               string     `json:"type,omitempty"`
	Flow               string     `json:"flow,omitempty"`
	Intent             string     `json:"intent,omitempty"`
	FlowSource         string     `json:"flow_source,omitempty"`
	CarryForwardSource string     `json:"carry_forward_source,omitempty"`
	CarriedForwardAt   *time.Time `json:"carried_forward_at,omitempty"`
}

type sessionMetaAlias SessionMeta

var sessionMetaKeys = knownKeys(sessionMetaAlias{})

func (m SessionMeta) MarshalJSON() ([]byte, error) {
	return joinExtra(sessionMetaAlias(m), m.Extra)
}

func (m *SessionMeta) UnmarshalJSON(data []byte) error {
	var a sessionMetaAlias
	extra, err := splitExtra(data, &a, sessionMetaKeys)
	if err != nil {
		return err
	}
	*m = SessionMeta(a)
	m.Extra = extra
	return nil
}

// ConsultationType returns consultation.type or "".
func (m *SessionMeta) ConsultationType() string {
	if m.Consultation == nil {
		return ""
	}
	return m.Consultation.Type
}
