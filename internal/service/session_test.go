package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation/internal/audit"
	"consultation/internal/forms"
	"consultation/internal/models"
	"consultation/internal/repository"
)

func TestInitializeWeightManagementScenario(t *testing.T) {
	f := newFixture(t, nil)
	f.st.PutOrder(&models.Order{ID: "O", Reference: "R-O", ServiceSlug: "weight-management"})
	f.st.PutTemplate(tpl("raf-wm", "raf", "weight-management", "", 3))
	f.st.PutTemplate(tpl("advice", "advice", "", "", 1))
	f.st.PutTemplate(tpl("declaration", "declaration", "", "", 1))
	f.st.PutTemplate(tpl("supply", "supply", "", "", 1))

	res, err := f.svc.Initialize(context.Background(), InitializeInput{OrderID: "O", Intent: "new"})
	require.NoError(t, err)

	sess := res.Session
	assert.Equal(t, []forms.Slot{forms.SlotRAF, forms.SlotAdvice, forms.SlotDeclaration, forms.SlotSupply}, sess.Steps)
	assert.Equal(t, 3, sess.Templates[forms.SlotRAF].Version)
	assert.Equal(t, TierServiceGeneric, res.Tiers[forms.SlotRAF])
	assert.Equal(t, TierGeneric, res.Tiers[forms.SlotAdvice])
	assert.Equal(t, 0, sess.Current)
	assert.True(t, res.Created)
	assert.Equal(t, "risk_assessment", sess.Meta.ConsultationType())
	assert.Equal(t, "new", sess.Meta.Consultation.Intent)
	assert.Nil(t, res.CarryForward)
	assert.Equal(t, []string{audit.EventSessionInitialized}, f.sink.events())
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	putNewFlowTemplates(t, f.st)
	f.st.PutOrder(&models.Order{ID: "o1", Reference: "R1", ServiceSlug: "weight-management"})
	ctx := context.Background()

	first, err := f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	_, err = f.svc.SaveStep(ctx, first.Session.ID, SaveStepInput{Slot: "raf", Answers: models.Answers{"bmi": 31}, Completed: true})
	require.NoError(t, err)

	second, err := f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.Session.Steps, second.Session.Steps)
	assert.Equal(t, 1, second.Session.Current)
	assert.Equal(t, FlowFromSessionMeta, second.FlowSource)

	resp, err := f.repos.Responses.Get(ctx, second.Session.ID, forms.SlotRAF)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.EqualValues(t, 31, resp.Data["bmi"])
	assert.True(t, resp.IsComplete)
}

func TestInitializeRefreshesTemplatesAndClampsCurrent(t *testing.T) {
	f := newFixture(t, nil)
	putNewFlowTemplates(t, f.st)
	f.st.PutOrder(&models.Order{ID: "o1", ServiceSlug: "weight-management"})
	ctx := context.Background()

	res, err := f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	require.Len(t, res.Session.Steps, 5)

	sess := res.Session
	sess.Current = 4
	require.NoError(t, f.repos.Sessions.Save(ctx, sess))

	// supply and declaration retired, raf gets a new version
	for _, id := range []string{"supply-v1", "declaration-v1"} {
		retired := tpl(id, "x", "", "", 1)
		retired.Active = false
		f.st.PutTemplate(retired)
	}
	f.st.PutTemplate(tpl("raf-v2", "raf", "", "", 2))

	res, err = f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, []forms.Slot{forms.SlotRAF, forms.SlotAssessment, forms.SlotAdvice}, res.Session.Steps)
	assert.Equal(t, 0, res.Session.Current)
	assert.Equal(t, 2, res.Session.Templates[forms.SlotRAF].Version)
	assert.NotContains(t, res.Session.Templates, forms.SlotSupply)
}

func TestInitializeReorderFlow(t *testing.T) {
	f := newFixture(t, nil)
	putNewFlowTemplates(t, f.st)
	f.st.PutTemplate(tpl("reorder-v1", "reorder", "", "", 1))
	f.st.PutOrder(&models.Order{
		ID: "o1", Reference: "R1", ServiceSlug: "weight-management",
		Meta: models.OrderMeta{IsReorder: true, AssessmentSnapshot: models.Answers{"weight_kg": 90}},
	})

	res, err := f.svc.Initialize(context.Background(), InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, FlowReorder, res.Flow)
	assert.Equal(t, FlowFromHeuristic, res.FlowSource)
	assert.Equal(t, []forms.Slot{forms.SlotReorder, forms.SlotAdvice, forms.SlotDeclaration, forms.SlotSupply}, res.Session.Steps)
	assert.NotContains(t, res.Session.Steps, forms.SlotRAF)
	assert.NotContains(t, res.Session.Steps, forms.SlotAssessment)
	assert.Equal(t, "reorder", res.Session.Meta.ConsultationType())
	assert.Nil(t, res.CarryForward)
}

func TestInitializeWithoutTemplatesPersistsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.st.PutOrder(&models.Order{ID: "o1", ServiceSlug: "weight-management", TreatmentSlug: "mounjaro"})

	res, err := f.svc.Initialize(context.Background(), InitializeInput{OrderID: "o1"})
	require.Error(t, err)
	assert.Nil(t, res)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, FlowNew, cfgErr.Flow)
	assert.Equal(t, "mounjaro", cfgErr.TreatmentSlug)

	sess, err := f.repos.Sessions.GetByOrderID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Empty(t, f.sink.events())
}

func TestInitializeUnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Initialize(context.Background(), InitializeInput{OrderID: "missing"})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCarryForwardFromPendingOrder(t *testing.T) {
	f := newFixture(t, nil)
	putNewFlowTemplates(t, f.st)
	f.st.PutOrder(&models.Order{ID: "o1", Reference: "R1", ServiceSlug: "weight-management"})
	f.st.PutPendingOrder(&models.PendingOrder{
		ID: "p1", Reference: "R1",
		Meta: models.PendingMeta{Answers: models.Answers{"smoker_status": "never", "weight_kg": 92}},
	})
	ctx := context.Background()

	res, err := f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	require.NotNil(t, res.CarryForward)
	assert.Equal(t, forms.SlotAssessment, res.CarryForward.Slot)
	assert.Equal(t, FromPendingOrder, res.CarryForward.Source)

	resp, err := f.repos.Responses.Get(ctx, res.Session.ID, forms.SlotAssessment)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "assessment-v1", resp.ClinicFormID)
	assert.Equal(t, "never", resp.Data["smoker_status"])

	o := f.order(t, "o1")
	require.NotNil(t, o.Meta.Consultation)
	assert.Equal(t, res.Session.ID, o.Meta.Consultation.SessionID)
	assert.Equal(t, "pending_order", o.Meta.Consultation.AnswersSource)
	require.Len(t, o.Meta.Consultation.Answers, 2)
	assert.Equal(t, "Current weight (kg)", o.Meta.Consultation.Answers[0].Question)
	assert.Equal(t, "Smoker Status", o.Meta.Consultation.Answers[1].Question)
	assert.Equal(t, "never", o.Meta.AssessmentSnapshot["smoker_status"])
	assert.Empty(t, o.Meta.RAFAnswers)

	p, err := f.repos.Pending.GetByReference(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "never", p.Meta.AssessmentSnapshot["smoker_status"])

	assert.Equal(t, "pending_order", res.Session.Meta.Consultation.CarryForwardSource)
	assert.Contains(t, f.sink.events(), audit.EventAnswersCarriedForward)
}

func TestCarryForwardIgnoresForeignPendingOrder(t *testing.T) {
	f := newFixture(t, nil)
	putNewFlowTemplates(t, f.st)
	f.st.PutOrder(&models.Order{
		ID: "o1", Reference: "R1", ServiceSlug: "weight-management",
		Meta: models.OrderMeta{AssessmentSnapshot: models.Answers{"weight_kg": 80}},
	})
	f.st.PutPendingOrder(&models.PendingOrder{
		ID: "p2", Reference: "R2",
		Meta: models.PendingMeta{AssessmentSnapshot: models.Answers{"weight_kg": 120}},
	})
	ctx := context.Background()

	res, err := f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	require.NotNil(t, res.CarryForward)
	assert.Equal(t, FromOrderSnapshot, res.CarryForward.Source)
	assert.EqualValues(t, 80, res.CarryForward.Answers["weight_kg"])

	foreign, err := f.repos.Pending.GetByReference(ctx, "R2")
	require.NoError(t, err)
	assert.EqualValues(t, 120, foreign.Meta.AssessmentSnapshot["weight_kg"])
}

func TestCarryForwardKeepsExistingResponse(t *testing.T) {
	f := newFixture(t, nil)
	putNewFlowTemplates(t, f.st)
	f.st.PutOrder(&models.Order{ID: "o1", Reference: "R1", ServiceSlug: "weight-management"})
	ctx := context.Background()

	first, err := f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	assert.Nil(t, first.CarryForward)
	_, err = f.svc.SaveStep(ctx, first.Session.ID, SaveStepInput{Slot: "assessment", Answers: models.Answers{"weight_kg": 70}})
	require.NoError(t, err)

	f.st.PutPendingOrder(&models.PendingOrder{
		ID: "p1", Reference: "R1",
		Meta: models.PendingMeta{AssessmentSnapshot: models.Answers{"weight_kg": 99}},
	})
	second, err := f.svc.Initialize(ctx, InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	require.NotNil(t, second.CarryForward)

	resp, err := f.repos.Responses.Get(ctx, second.Session.ID, forms.SlotAssessment)
	require.NoError(t, err)
	assert.EqualValues(t, 70, resp.Data["weight_kg"])
}

func TestCarryForwardTargetsRAFWithoutAssessment(t *testing.T) {
	f := newFixture(t, nil)
	f.st.PutTemplate(tpl("raf-v1", "raf", "", "", 1))
	f.st.PutTemplate(tpl("supply-v1", "supply", "", "", 1))
	f.st.PutOrder(&models.Order{
		ID: "o1", ServiceSlug: "weight-management",
		Meta: models.OrderMeta{AssessmentAnswers: []models.AnswerRow{{Key: "bmi", Question: "BMI", Answer: 32.5}}},
	})

	res, err := f.svc.Initialize(context.Background(), InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	require.NotNil(t, res.CarryForward)
	assert.Equal(t, forms.SlotRAF, res.CarryForward.Slot)

	o := f.order(t, "o1")
	assert.EqualValues(t, 32.5, o.Meta.RAFAnswers["bmi"])
	assert.Equal(t, "Bmi", o.Meta.AssessmentAnswers[0].Question)
}

func TestCarryForwardSoftFailureIsWarning(t *testing.T) {
	f := newFixture(t, func(s *repository.Store) {
		s.Pending = failingPending{s.Pending}
	})
	putNewFlowTemplates(t, f.st)
	f.st.PutOrder(&models.Order{ID: "o1", Reference: "R1", ServiceSlug: "weight-management"})
	f.st.PutPendingOrder(&models.PendingOrder{
		ID: "p1", Reference: "R1",
		Meta: models.PendingMeta{RAFAnswers: models.Answers{"weight_kg": 101}},
	})

	res, err := f.svc.Initialize(context.Background(), InitializeInput{OrderID: "o1"})
	require.NoError(t, err)
	require.NotNil(t, res.CarryForward)
	assert.Equal(t, []string{"carry_forward.pending_order"}, warningOps(res.Warnings))
	assert.ErrorIs(t, res.Warnings[0], errBoom)

	entries := f.warnings()
	require.Len(t, entries, 1)
	assert.Equal(t, "carry_forward.pending_order", entries[0].Data["op"])
	assert.Equal(t, "o1", entries[0].Data["order_id"])

	// the order meta write sits in its own savepoint and survives
	o := f.order(t, "o1")
	assert.EqualValues(t, 101, o.Meta.AssessmentSnapshot["weight_kg"])
}

func TestAnswerRowsOrder(t *testing.T) {
	schema := schemaOf(t, assessmentSchema)
	rows := AnswerRows(schema, models.Answers{"zeta": 1, "pregnant": "no", "alpha-beta": true, "weight_kg": 70})

	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"weight_kg", "pregnant", "alpha-beta", "zeta"}, keys)
	assert.Equal(t, "Alpha Beta", rows[2].Question)
	assert.Nil(t, AnswerRows(schema, nil))
}

func TestHumanizeKey(t *testing.T) {
	assert.Equal(t, "Weight Kg", HumanizeKey("weight_kg"))
	assert.Equal(t, "Has Conditions", HumanizeKey("has-conditions"))
	assert.Equal(t, "__", HumanizeKey("__"))
}

func TestInitializeIgnoresUnknownIntent(t *testing.T) {
	f := newFixture(t, nil)
	putNewFlowTemplates(t, f.st)
	f.st.PutOrder(&models.Order{ID: "o1", Reference: "R1", UserID: "u1", ServiceSlug: "weight-management"})

	res, err := f.svc.Initialize(context.Background(), InitializeInput{OrderID: "o1", Intent: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, FlowNew, res.Flow)
	assert.Equal(t, FlowFromDefault, res.FlowSource)
	assert.Empty(t, res.Session.Meta.Consultation.Intent)
	assert.Equal(t, string(FlowFromDefault), res.Session.Meta.Consultation.FlowSource)
}
