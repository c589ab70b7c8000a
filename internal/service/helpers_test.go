package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"consultation/internal/audit"
	"consultation/internal/forms"
	"consultation/internal/models"
	"consultation/internal/repository"
	"consultation/internal/repository/memory"
	"consultation/internal/shipping"
)

var fixedTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

var errBoom = errors.New("boom")

const assessmentSchema = `[
  {"type": "number", "key": "weight_kg", "label": "Current weight (kg)"},
  {"type": "radio", "key": "pregnant", "label": "Are you pregnant?"}
]`

func schemaOf(t *testing.T, raw string) forms.Schema {
	t.Helper()
	var s forms.Schema
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return s
}

func tpl(id, category, service, treatment string, version int) *models.Template {
	return &models.Template{
		ID:            id,
		Name:          id,
		Category:      category,
		ServiceSlug:   service,
		TreatmentSlug: treatment,
		Active:        true,
		Version:       version,
		CreatedAt:     fixedTime,
	}
}

// putNewFlowTemplates seeds generic templates for every new-patient slot.
func putNewFlowTemplates(t *testing.T, st *memory.Store) {
	a := tpl("assessment-v1", "assessment", "", "", 1)
	a.Schema = schemaOf(t, assessmentSchema)
	st.PutTemplate(a)
	st.PutTemplate(tpl("raf-v1", "raf", "", "", 1))
	st.PutTemplate(tpl("advice-v1", "advice", "", "", 1))
	st.PutTemplate(tpl("declaration-v1", "declaration", "", "", 1))
	st.PutTemplate(tpl("supply-v1", "supply", "", "", 1))
}

type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingSink) Log(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingSink) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Event)
	}
	return out
}

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    int
	override *models.ShippingMeta
	err      error
	// during runs inside Dispatch, before the result is returned.
	during func()
}

func (f *fakeDispatcher) Dispatch(_ context.Context, orderID string, override *models.ShippingMeta) (*shipping.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.override = override
	if f.during != nil {
		f.during()
	}
	var recErr *shipping.RecordError
	if errors.As(f.err, &recErr) {
		return &shipping.Result{Carrier: "royal_mail", TrackingNumber: "TN-" + orderID}, f.err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &shipping.Result{Carrier: "royal_mail", TrackingNumber: "TN-" + orderID, LabelPath: "/labels/" + orderID + ".pdf"}, nil
}

type failingPending struct {
	repository.PendingOrderRepository
}

func (failingPending) Update(context.Context, *models.PendingOrder) error { return errBoom }

type failingCanonical struct {
	repository.CanonicalOrderRepository
}

func (failingCanonical) Update(context.Context, *models.CanonicalOrder) error { return errBoom }

type failingTasks struct {
	repository.ShippingTaskRepository
}

func (failingTasks) CreateTask(context.Context, string, []byte) error { return errBoom }

// ctxTasks rejects calls on a done context, as the Postgres repository does.
type ctxTasks struct {
	repository.ShippingTaskRepository
}

func (c ctxTasks) CreateTask(ctx context.Context, orderID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ShippingTaskRepository.CreateTask(ctx, orderID, payload)
}

type fixture struct {
	st         *memory.Store
	repos      *repository.Store
	svc        *ConsultationService
	dispatcher *fakeDispatcher
	sink       *recordingSink
	hook       *test.Hook
}

// newFixture builds the engine on an in-memory store. patch may swap repositories before wiring.
func newFixture(t *testing.T, patch func(*repository.Store)) *fixture {
	t.Helper()
	st := memory.New()
	repos := st.Repositories()
	if patch != nil {
		patch(repos)
	}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	f := &fixture{
		st:         st,
		repos:      repos,
		dispatcher: &fakeDispatcher{},
		sink:       &recordingSink{},
		hook:       hook,
	}
	f.svc = New(repos, f.dispatcher, log, WithAudit(f.sink), WithClock(func() time.Time { return fixedTime }))
	return f
}

func (f *fixture) order(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := f.repos.Orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (f *fixture) warnings() []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

func warningOps(ws []Warning) []string {
	ops := make([]string, 0, len(ws))
	for _, w := range ws {
		ops = append(ops, w.Op)
	}
	return ops
}
