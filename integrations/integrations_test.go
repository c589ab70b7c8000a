package integrations

import (
	"context"
	"net/http"
	"time"
)

func (s *IntegrationSuite) initialize() string {
	resp, body := s.doRequest(http.MethodPost, "/orders/o1/consultation", map[string]string{"intent": "new"})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	return body["session"].(map[string]any)["id"].(string)
}

func (s *IntegrationSuite) TestInitializeResolvesServiceTemplates() {
	sessionID := s.initialize()

	resp, body := s.doRequest(http.MethodGet, "/sessions/"+sessionID, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	sess := body["session"].(map[string]any)
	s.Equal([]any{"raf", "advice", "declaration", "supply"}, sess["steps"])
	raf := sess["templates"].(map[string]any)["raf"].(map[string]any)
	s.EqualValues(3, raf["version"])
	s.Equal("raf-wm-v3", raf["template_id"])

	resp, _ = s.doRequest(http.MethodPost, "/orders/o1/consultation", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	var sessions int
	s.Require().NoError(s.db.QueryRow(`SELECT count(*) FROM consultation_sessions WHERE order_id='o1'`).Scan(&sessions))
	s.Equal(1, sessions)
}

func (s *IntegrationSuite) TestCompleteDispatchesAndMirrors() {
	sessionID := s.initialize()

	resp, _ := s.doRequest(http.MethodPut, "/sessions/"+sessionID+"/steps/raf",
		map[string]any{"answers": map[string]any{"weight_kg": 92}, "completed": true})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp, body := s.doRequest(http.MethodPost, "/sessions/"+sessionID+"/complete", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	shipping := body["shipping"].(map[string]any)
	s.Equal("dispatched", shipping["status"])
	s.Equal("RM123456789GB", shipping["tracking_number"])

	var status, tracking, canonicalStatus string
	s.Require().NoError(s.db.QueryRow(`SELECT status, meta->'shipping'->>'tracking_number' FROM orders WHERE id='o1'`).
		Scan(&status, &tracking))
	s.Equal("completed", status)
	s.Equal("RM123456789GB", tracking)
	s.Require().NoError(s.db.QueryRow(`SELECT status FROM canonical_orders WHERE reference='R1'`).Scan(&canonicalStatus))
	s.Equal("completed", canonicalStatus)

	resp, body = s.doRequest(http.MethodPost, "/sessions/"+sessionID+"/complete", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal(true, body["already_completed"])

	var notes int
	s.Require().NoError(s.db.QueryRow(`SELECT jsonb_array_length(meta->'completion_notes') FROM orders WHERE id='o1'`).Scan(&notes))
	s.Equal(1, notes)

	s.Eventually(func() bool {
		var n int
		_ = s.db.QueryRow(`SELECT count(*) FROM audit_logs WHERE order_id='o1' AND event='consultation_completed'`).Scan(&n)
		return n == 1
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *IntegrationSuite) TestCarrierOutageQueuesRetry() {
	sessionID := s.initialize()
	s.carrierDown.Store(true)

	resp, body := s.doRequest(http.MethodPost, "/sessions/"+sessionID+"/complete", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal("completed", body["order_status"])
	s.Equal("pending_retry", body["shipping"].(map[string]any)["status"])
	s.NotEmpty(body["warnings"])

	tasks, err := s.store.Tasks.ListByOrder(context.Background(), "o1")
	s.Require().NoError(err)
	s.Len(tasks, 1)
}

func (s *IntegrationSuite) TestMissingTemplatesIsConfigurationError() {
	s.exec(`UPDATE clinic_form_templates SET active = FALSE`)

	resp, _ := s.doRequest(http.MethodPost, "/orders/o1/consultation", nil)
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)

	var sessions int
	s.Require().NoError(s.db.QueryRow(`SELECT count(*) FROM consultation_sessions`).Scan(&sessions))
	s.Equal(0, sessions)
}
