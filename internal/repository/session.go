package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"consultation/internal/forms"
	"consultation/internal/models"
)

type PgSessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *PgSessionRepository {
	return &PgSessionRepository{db: db}
}

const sessionColumns = `id, order_id, service_slug, treatment_slug, templates, steps, current, meta,
			version, completed_at, created_at, updated_at`

func (r *PgSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM consultation_sessions WHERE id=$1`, id)
}

func (r *PgSessionRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM consultation_sessions WHERE order_id=$1`, orderID)
}

func (r *PgSessionRepository) getOne(ctx context.Context, query, arg string) (*models.Session, error) {
	s := &models.Session{}
	var templates, meta []byte
	var steps []string
	var completedAt sql.NullTime
	err := conn(ctx, r.db).QueryRowContext(ctx, query, arg).Scan(
		&s.ID, &s.OrderID, &s.ServiceSlug, &s.TreatmentSlug, &templates, pq.Array(&steps), &s.Current, &meta,
		&s.Version, &completedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(templates, &s.Templates); err != nil {
		return nil, fmt.Errorf("decode session %s templates: %w", s.ID, err)
	}
	if err := json.Unmarshal(meta, &s.Meta); err != nil {
		return nil, fmt.Errorf("decode session %s meta: %w", s.ID, err)
	}
	s.Steps = make([]forms.Slot, 0, len(steps))
	for _, st := range steps {
		s.Steps = append(s.Steps, forms.Slot(st))
	}
	s.CompletedAt = timePtr(completedAt)
	return s, nil
}

func (r *PgSessionRepository) Save(ctx context.Context, s *models.Session) error {
	templates, err := json.Marshal(s.Templates)
	if err != nil {
		return fmt.Errorf("encode session templates: %w", err)
	}
	meta, err := json.Marshal(s.Meta)
	if err != nil {
		return fmt.Errorf("encode session meta: %w", err)
	}
	steps := make([]string, 0, len(s.Steps))
	for _, st := range s.Steps {
		steps = append(steps, string(st))
	}

	q := conn(ctx, r.db)
	if s.Version == 0 {
		query := `INSERT INTO consultation_sessions (
				id, order_id, service_slug, treatment_slug, templates, steps, current, meta,
				version, completed_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9,NOW(),NOW())
			ON CONFLICT (order_id) DO NOTHING
			RETURNING created_at, updated_at`
		err := q.QueryRowContext(ctx, query,
			s.ID, s.OrderID, s.ServiceSlug, s.TreatmentSlug, templates, pq.Array(steps), s.Current, meta, s.CompletedAt,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("insert session for order %s: %w", s.OrderID, ErrConcurrentUpdate)
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		s.Version = 1
		return nil
	}

	query := `UPDATE consultation_sessions SET
			service_slug=$1, treatment_slug=$2, templates=$3, steps=$4, current=$5, meta=$6,
			completed_at=$7, version=version+1, updated_at=NOW()
		WHERE id=$8 AND version=$9
		RETURNING updated_at`
	err = q.QueryRowContext(ctx, query,
		s.ServiceSlug, s.TreatmentSlug, templates, pq.Array(steps), s.Current, meta, s.CompletedAt, s.ID, s.Version,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update session %s at version %d: %w", s.ID, s.Version, ErrConcurrentUpdate)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	s.Version++
	return nil
}

type PgResponseRepository struct {
	db *sql.DB
}

func NewResponseRepository(db *sql.DB) *PgResponseRepository {
	return &PgResponseRepository{db: db}
}

const responseColumns = `id, session_id, slot, clinic_form_id, form_version, data, is_complete,
			completed_at, created_at, updated_at`

func (r *PgResponseRepository) Get(ctx context.Context, sessionID string, slot forms.Slot) (*models.FormResponse, error) {
	query := `SELECT ` + responseColumns + ` FROM consultation_form_responses WHERE session_id=$1 AND slot=$2`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, sessionID, string(slot))
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanResponse(rows)
}

func (r *PgResponseRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.FormResponse, error) {
	query := `SELECT ` + responseColumns + ` FROM consultation_form_responses WHERE session_id=$1 ORDER BY created_at, slot`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var res []*models.FormResponse
	for rows.Next() {
		fr, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, fr)
	}
	return res, rows.Err()
}

func scanResponse(rows *sql.Rows) (*models.FormResponse, error) {
	fr := &models.FormResponse{}
	var slot string
	var data []byte
	var completedAt sql.NullTime
	if err := rows.Scan(
		&fr.ID, &fr.SessionID, &slot, &fr.ClinicFormID, &fr.FormVersion, &data, &fr.IsComplete,
		&completedAt, &fr.CreatedAt, &fr.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan response: %w", err)
	}
	fr.Slot = forms.Slot(slot)
	if err := json.Unmarshal(data, &fr.Data); err != nil {
		return nil, fmt.Errorf("decode response %s data: %w", fr.ID, err)
	}
	fr.CompletedAt = timePtr(completedAt)
	return fr, nil
}

// Upsert keeps one row per (session, slot); a later save overwrites the earlier one and keeps its id.
func (r *PgResponseRepository) Upsert(ctx context.Context, fr *models.FormResponse) error {
	data, err := json.Marshal(fr.Data)
	if err != nil {
		return fmt.Errorf("encode response data: %w", err)
	}
	if fr.Data == nil {
		data = []byte("{}")
	}
	query := `INSERT INTO consultation_form_responses (
			id, session_id, slot, clinic_form_id, form_version, data, is_complete, completed_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
		ON CONFLICT (session_id, slot) DO UPDATE SET
			clinic_form_id=EXCLUDED.clinic_form_id,
			form_version=EXCLUDED.form_version,
			data=EXCLUDED.data,
			is_complete=EXCLUDED.is_complete,
			completed_at=EXCLUDED.completed_at,
			updated_at=NOW()
		RETURNING id, created_at, updated_at`
	err = conn(ctx, r.db).QueryRowContext(ctx, query,
		fr.ID, fr.SessionID, string(fr.Slot), fr.ClinicFormID, fr.FormVersion, data, fr.IsComplete, fr.CompletedAt,
	).Scan(&fr.ID, &fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}
