// Package service is the consultation workflow engine: it builds and resumes a consultation
// session per order, records step answers, and completes the order before handing it to shipping.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consultation/internal/audit"
	"consultation/internal/models"
	"consultation/internal/repository"
	"consultation/internal/shipping"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, orderID string, override *models.ShippingMeta) (*shipping.Result, error)
}

type ConsultationService struct {
	store      *repository.Store
	resolver   *TemplateResolver
	dispatcher Dispatcher
	audit      audit.Sink
	log        logrus.FieldLogger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string
}

type Option func(*ConsultationService)

func WithAudit(sink audit.Sink) Option {
	return func(s *ConsultationService) { s.audit = sink }
}

func WithClock(now func() time.Time) Option {
	return func(s *ConsultationService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *ConsultationService) { s.newID = newID }
}

// New builds the engine. A nil dispatcher disables shipping after completion.
func New(store *repository.Store, dispatcher Dispatcher, log logrus.FieldLogger, opts ...Option) *ConsultationService {
	s := &ConsultationService{
		store:      store,
		resolver:   NewTemplateResolver(store.Templates),
		dispatcher: dispatcher,
		audit:      audit.Discard,
		log:        log,
		tracer:     otel.Tracer("consultation/service"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConsultationService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "ConsultationService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// warn logs a soft failure and returns it as a Warning.
func (s *ConsultationService) warn(op, orderID string, err error) Warning {
	s.log.WithError(err).WithFields(logrus.Fields{
		"op":       op,
		"order_id": orderID,
	}).Warn("soft failure")
	return Warning{Op: op, OrderID: orderID, Err: err}
}

// SessionView is a session with the answers captured so far.
type SessionView struct {
	Session   *models.Session
	Responses []*models.FormResponse
}

func (s *ConsultationService) GetSession(ctx context.Context, sessionID string) (*SessionView, error) {
	sess, err := s.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	responses, err := s.store.Responses.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Responses: responses}, nil
}
