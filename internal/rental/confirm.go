package rental

import "rental-service/internal/models"

// Outcome of a confirmation attempt
type Outcome string

const (
	OutcomeConfirmed         Outcome = "confirmed"
	OutcomeNeedsUserDecision Outcome = "needs_user_decision"
)

// MissingDependency is an expansion product ordered without its base product
type MissingDependency struct {
	ExpansionID   int64  `json:"expansion_template_id"`
	ExpansionName string `json:"expansion_name"`
	BaseID        int64  `json:"base_template_id"`
	BaseName      string `json:"base_name"`
}

// ConfirmationResult is either Confirmed, with the lines now awaiting
// pickup, or NeedsUserDecision with the missing base products. The caller
// renders the decision prompt and may confirm again with force.
type ConfirmationResult struct {
	Outcome     Outcome             `json:"outcome"`
	Missing     []MissingDependency `json:"missing,omitempty"`
	PickupLines []models.OrderLine  `json:"pickup_lines,omitempty"`
}

// MissingDependencies lists, once per expansion, the expansion products of
// order whose base product is not on the order. templates must hold every
// template referenced by the lines and their base templates.
func MissingDependencies(order *models.Order, templates map[int64]models.ProductTemplate) []MissingDependency {
	ordered := make(map[int64]bool, len(order.Lines))
	for _, line := range order.Lines {
		ordered[line.ProductTemplateID] = true
	}

	var missing []MissingDependency
	reported := make(map[int64]bool)
	for _, line := range order.Lines {
		tmpl, ok := templates[line.ProductTemplateID]
		if !ok || tmpl.ExpansionOf == nil || reported[tmpl.ID] {
			continue
		}
		if ordered[*tmpl.ExpansionOf] {
			continue
		}
		reported[tmpl.ID] = true
		missing = append(missing, MissingDependency{
			ExpansionID:   tmpl.ID,
			ExpansionName: tmpl.Name,
			BaseID:        *tmpl.ExpansionOf,
			BaseName:      templates[*tmpl.ExpansionOf].Name,
		})
	}
	return missing
}
