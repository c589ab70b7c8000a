package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"

	"consultation/internal/db"
	"consultation/internal/forms"
	"consultation/internal/models"
	"consultation/internal/repository"
)

type PostgresSuite struct {
	suite.Suite
	db    *sql.DB
	store *repository.Store
}

func (s *PostgresSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DSN")
	if dsn == "" {
		s.T().Skip("TEST_DSN is not set")
	}
	conn, err := db.NewDB(dsn)
	s.Require().NoError(err)
	s.db = conn
	s.store = repository.NewPostgresStore(conn)
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE consultation_form_responses, consultation_sessions, clinic_form_templates,
		canonical_orders, pending_orders, orders, customers, shipping_tasks, audit_logs RESTART IDENTITY CASCADE`)
	s.Require().NoError(err)
	_, err = s.db.Exec(`INSERT INTO orders (id, reference, status, user_id, service_slug, meta)
		VALUES ('o1', 'R1', 'pending', 'u1', 'weight-management', '{"legacy_key": {"x": 1}}')`)
	s.Require().NoError(err)
	_, err = s.db.Exec(`INSERT INTO canonical_orders (id, reference, status) VALUES ('c1', 'R1', 'pending')`)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *PostgresSuite) TestOrderMetaKeepsUnknownKeys() {
	ctx := context.Background()
	o, err := s.store.Orders.GetByID(ctx, "o1")
	s.Require().NoError(err)
	s.Require().NotNil(o)

	o.Meta.AppendCompletionNote("done")
	s.Require().NoError(s.store.Orders.Update(ctx, o))

	var raw string
	s.Require().NoError(s.db.QueryRow(`SELECT meta->>'legacy_key' FROM orders WHERE id='o1'`).Scan(&raw))
	s.JSONEq(`{"x": 1}`, raw)

	missing, err := s.store.Orders.GetByID(ctx, "nope")
	s.NoError(err)
	s.Nil(missing)
}

func (s *PostgresSuite) TestSessionVersioning() {
	ctx := context.Background()
	sess := &models.Session{
		ID:      "s1",
		OrderID: "o1",
		Steps:   []forms.Slot{forms.SlotRAF, forms.SlotAdvice},
		Templates: map[forms.Slot]models.TemplateSnapshot{
			forms.SlotRAF: {TemplateID: "t1", Version: 3},
		},
	}
	s.Require().NoError(s.store.Sessions.Save(ctx, sess))
	s.Equal(1, sess.Version)

	stale, err := s.store.Sessions.GetByOrderID(ctx, "o1")
	s.Require().NoError(err)
	s.Equal([]forms.Slot{forms.SlotRAF, forms.SlotAdvice}, stale.Steps)
	s.Equal(3, stale.Templates[forms.SlotRAF].Version)

	sess.Current = 1
	s.Require().NoError(s.store.Sessions.Save(ctx, sess))
	s.ErrorIs(s.store.Sessions.Save(ctx, stale), repository.ErrConcurrentUpdate)

	dup := &models.Session{ID: "s2", OrderID: "o1"}
	s.ErrorIs(s.store.Sessions.Save(ctx, dup), repository.ErrConcurrentUpdate)
}

func (s *PostgresSuite) TestResponseUpsert() {
	ctx := context.Background()
	s.Require().NoError(s.store.Sessions.Save(ctx, &models.Session{ID: "s1", OrderID: "o1"}))

	first := &models.FormResponse{ID: "r1", SessionID: "s1", Slot: forms.SlotAdvice, Data: models.Answers{"a": "1"}}
	s.Require().NoError(s.store.Responses.Upsert(ctx, first))
	second := &models.FormResponse{ID: "r2", SessionID: "s1", Slot: forms.SlotAdvice, Data: models.Answers{"a": "2"}}
	s.Require().NoError(s.store.Responses.Upsert(ctx, second))
	s.Equal("r1", second.ID)

	got, err := s.store.Responses.Get(ctx, "s1", forms.SlotAdvice)
	s.Require().NoError(err)
	s.Equal("2", got.Data["a"])
}

func (s *PostgresSuite) TestSavepointInsideOrderLock() {
	ctx := context.Background()
	err := s.store.Tx.WithinOrderLock(ctx, "o1", func(ctx context.Context) error {
		o, err := s.store.Orders.GetByID(ctx, "o1")
		if err != nil {
			return err
		}
		o.Status = models.OrderStatusCompleted
		if err := s.store.Orders.Update(ctx, o); err != nil {
			return err
		}
		spErr := s.store.Tx.Savepoint(ctx, "mirror", func(ctx context.Context) error {
			_, err := s.store.Canonical.GetByReference(ctx, "R1")
			if err != nil {
				return err
			}
			return s.store.Canonical.Update(ctx, &models.CanonicalOrder{ID: "missing"})
		})
		s.Error(spErr)
		return nil
	})
	s.Require().NoError(err)

	o, err := s.store.Orders.GetByID(ctx, "o1")
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCompleted, o.Status)
}

func (s *PostgresSuite) TestRollbackOnError() {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.store.Tx.WithinOrderLock(ctx, "o1", func(ctx context.Context) error {
		o, _ := s.store.Orders.GetByID(ctx, "o1")
		o.Status = models.OrderStatusCompleted
		_ = s.store.Orders.Update(ctx, o)
		return boom
	})
	s.ErrorIs(err, boom)

	o, err := s.store.Orders.GetByID(ctx, "o1")
	s.Require().NoError(err)
	s.Equal(models.OrderStatusPending, o.Status)
}

func (s *PostgresSuite) TestShippingTasks() {
	ctx := context.Background()
	s.Require().NoError(s.store.Tasks.CreateTask(ctx, "o1", []byte(`{"attempt":"first"}`)))

	tasks, err := s.store.Tasks.GetPendingTasks(ctx, 10, 3)
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)
	s.Equal("o1", tasks[0].OrderID)

	s.Require().NoError(s.store.Tasks.MarkTaskProcessing(ctx, tasks[0].ID))
	pending, err := s.store.Tasks.GetPendingTasks(ctx, 10, 3)
	s.Require().NoError(err)
	s.Empty(pending)

	s.Require().NoError(s.store.Tasks.DeleteTask(ctx, tasks[0].ID))
	left, err := s.store.Tasks.ListByOrder(ctx, "o1")
	s.Require().NoError(err)
	s.Empty(left)
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}
