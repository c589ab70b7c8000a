package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"consultation/internal/models"
)

type PgTemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *PgTemplateRepository {
	return &PgTemplateRepository{db: db}
}

func (r *PgTemplateRepository) ListActive(ctx context.Context, categories []string, serviceSlug string) ([]*models.Template, error) {
	query := `SELECT
			id, name, service_slug, treatment_slug, category, active, version, schema, created_at, updated_at
		FROM clinic_form_templates
		WHERE active
		  AND lower(category) = ANY($1)
		  AND (service_slug IS NULL OR btrim(service_slug) = '' OR lower(btrim(service_slug)) = $2)
		ORDER BY version DESC, created_at DESC, id`

	lowered := make([]string, 0, len(categories))
	for _, c := range categories {
		lowered = append(lowered, strings.ToLower(c))
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, pq.Array(lowered), strings.ToLower(strings.TrimSpace(serviceSlug)))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var res []*models.Template
	for rows.Next() {
		t := &models.Template{}
		var service, treatment sql.NullString
		var schema []byte
		if err := rows.Scan(
			&t.ID, &t.Name, &service, &treatment, &t.Category, &t.Active, &t.Version, &schema, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.ServiceSlug = service.String
		t.TreatmentSlug = treatment.String
		if err := json.Unmarshal(schema, &t.Schema); err != nil {
			return nil, fmt.Errorf("decode template %s schema: %w", t.ID, err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return res, nil
}
