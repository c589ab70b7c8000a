package service

import (
	"context"
	"fmt"
	"strings"

	"consultation/internal/forms"
	"consultation/internal/models"
	"consultation/internal/repository"
)

// Tier is how specifically a template matched the order.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierServiceGeneric
	TierGeneric
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierServiceGeneric:
		return "service"
	case TierGeneric:
		return "generic"
	}
	return "none"
}

type TemplateResolver struct {
	repo repository.TemplateRepository
}

func NewTemplateResolver(repo repository.TemplateRepository) *TemplateResolver {
	return &TemplateResolver{repo: repo}
}

func normSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Resolve finds the best active template for the slot: service and treatment both matching, then
// service with no treatment, then neither. Within a tier the highest version wins, then the newest.
// A nil template with a nil error means nothing matched.
func (r *TemplateResolver) Resolve(ctx context.Context, serviceSlug, treatmentSlug string, slot forms.Slot) (*models.Template, Tier, error) {
	cats := slot.Categories()
	if len(cats) == 0 {
		return nil, TierNone, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	candidates, err := r.repo.ListActive(ctx, cats, serviceSlug)
	if err != nil {
		return nil, TierNone, fmt.Errorf("list templates for %s: %w", slot, err)
	}

	service, treatment := normSlug(serviceSlug), normSlug(treatmentSlug)
	best := make(map[Tier]*models.Template, 3)
	for _, t := range candidates {
		if !t.Active {
			continue
		}
		tier := matchTier(service, treatment, normSlug(t.ServiceSlug), normSlug(t.TreatmentSlug))
		if tier == TierNone {
			continue
		}
		if cur, ok := best[tier]; !ok || better(t, cur) {
			best[tier] = t
		}
	}
	for _, tier := range []Tier{TierExact, TierServiceGeneric, TierGeneric} {
		if t, ok := best[tier]; ok {
			return t, tier, nil
		}
	}
	return nil, TierNone, nil
}

func matchTier(service, treatment, tplService, tplTreatment string) Tier {
	switch {
	case tplService == "" && tplTreatment == "":
		return TierGeneric
	case tplService == "" || tplService != service:
		return TierNone
	case tplTreatment == "":
		return TierServiceGeneric
	case treatment != "" && tplTreatment == treatment:
		return TierExact
	}
	return TierNone
}

func better(a, b *models.Template) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}
