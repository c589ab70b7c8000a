// Package server exposes the consultation engine to the presentation layer over JSON/HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"consultation/internal/forms"
	"consultation/internal/middleware"
	"consultation/internal/models"
	"consultation/internal/repository"
	"consultation/internal/service"
)

type Engine interface {
	Initialize(ctx context.Context, in service.InitializeInput) (*service.InitializeResult, error)
	GetSession(ctx context.Context, sessionID string) (*service.SessionView, error)
	SaveStep(ctx context.Context, sessionID string, in service.SaveStepInput) (*service.SaveStepResult, error)
	Complete(ctx context.Context, sessionID string, opts service.CompleteOptions) (*service.CompletionResult, error)
}

type Server struct {
	engine Engine
	log    logrus.FieldLogger
	addr   string
}

func NewServer(engine Engine, addr string, log logrus.FieldLogger) *Server {
	return &Server{engine: engine, log: log, addr: addr}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.handleWith(mux, "POST /orders/{orderID}/consultation", s.handleInitialize)
	s.handleWith(mux, "GET /sessions/{sessionID}", s.handleGetSession)
	s.handleWith(mux, "PUT /sessions/{sessionID}/steps/{slot}", s.handleSaveStep)
	s.handleWith(mux, "POST /sessions/{sessionID}/complete", s.handleComplete)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return otelhttp.NewHandler(middleware.Recover(s.log)(mux), "consultation")
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Server listen on %s...", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWith(mux *http.ServeMux, pattern string, handlerFunc http.HandlerFunc) {
	mux.Handle(pattern, middleware.LogMiddleware(s.log, http.MethodPost, http.MethodPut)(handlerFunc))
}

type initializeRequest struct {
	Intent string `json:"intent"`
}

type carryForwardResponse struct {
	Slot    forms.Slot                 `json:"slot"`
	Source  service.CarryForwardSource `json:"source"`
	Answers int                        `json:"answers"`
}

type initializeResponse struct {
	Session      *models.Session       `json:"session"`
	Created      bool                  `json:"created"`
	Flow         service.FlowType      `json:"flow"`
	FlowSource   service.FlowSource    `json:"flow_source"`
	CarryForward *carryForwardResponse `json:"carry_forward,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad JSON", http.StatusBadRequest)
			return
		}
	}
	res, err := s.engine.Initialize(r.Context(), service.InitializeInput{OrderID: r.PathValue("orderID"), Intent: req.Intent})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := initializeResponse{
		Session:    res.Session,
		Created:    res.Created,
		Flow:       res.Flow,
		FlowSource: res.FlowSource,
		Warnings:   warningMessages(res.Warnings),
	}
	if cf := res.CarryForward; cf != nil {
		out.CarryForward = &carryForwardResponse{Slot: cf.Slot, Source: cf.Source, Answers: len(cf.Rows)}
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, out)
}

type sessionResponse struct {
	Session     *models.Session        `json:"session"`
	CurrentSlot forms.Slot             `json:"current_slot"`
	Responses   []*models.FormResponse `json:"responses"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetSession(r.Context(), r.PathValue("sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Session:     view.Session,
		CurrentSlot: view.Session.CurrentSlot(),
		Responses:   view.Responses,
	})
}

type saveStepRequest struct {
	Answers   models.Answers `json:"answers"`
	Completed bool           `json:"completed"`
}

type saveStepResponse struct {
	Response *models.FormResponse `json:"response"`
	Current  int                  `json:"current"`
	Advanced bool                 `json:"advanced"`
}

func (s *Server) handleSaveStep(w http.ResponseWriter, r *http.Request) {
	var req saveStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	res, err := s.engine.SaveStep(r.Context(), r.PathValue("sessionID"), service.SaveStepInput{
		Slot:      r.PathValue("slot"),
		Answers:   req.Answers,
		Completed: req.Completed,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saveStepResponse{Response: res.Response, Current: res.Session.Current, Advanced: res.Advanced})
}

type completeRequest struct {
	ShippingOverride *models.ShippingMeta `json:"shipping_override"`
}

type shippingResponse struct {
	Status         service.ShippingStatus `json:"status"`
	Carrier        string                 `json:"carrier,omitempty"`
	TrackingNumber string                 `json:"tracking_number,omitempty"`
	LabelPath      string                 `json:"label_path,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

type completeResponse struct {
	Session          *models.Session  `json:"session"`
	OrderStatus      string           `json:"order_status"`
	AlreadyCompleted bool             `json:"already_completed"`
	Shipping         shippingResponse `json:"shipping"`
	Warnings         []string         `json:"warnings,omitempty"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad JSON", http.StatusBadRequest)
			return
		}
	}
	res, err := s.engine.Complete(r.Context(), r.PathValue("sessionID"), service.CompleteOptions{ShippingOverride: req.ShippingOverride})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := completeResponse{
		Session:          res.Session,
		OrderStatus:      res.Order.Status,
		AlreadyCompleted: res.AlreadyCompleted,
		Shipping: shippingResponse{
			Status:         res.Shipping.Status,
			Carrier:        res.Shipping.Carrier,
			TrackingNumber: res.Shipping.TrackingNumber,
			LabelPath:      res.Shipping.LabelPath,
		},
		Warnings: warningMessages(res.Warnings),
	}
	if res.Shipping.Err != nil {
		out.Shipping.Error = res.Shipping.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func warningMessages(ws []service.Warning) []string {
	if len(ws) == 0 {
		return nil
	}
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Error())
	}
	return out
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *service.ConfigurationError
	switch {
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnknownSlot), errors.Is(err, service.ErrSlotNotInSession):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSessionCompleted), errors.Is(err, repository.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
		http.Error(w, "internal error", code)
		return
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
