package store

import (
	"context"
	"fmt"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const pricingRuleColumns = `
		r.id, r.product_template_id, r.pricelist_id, r.recurrence_id, r.price_percent,
		rc.id AS "recurrence.id", rc.duration AS "recurrence.duration", rc.unit AS "recurrence.unit"
	FROM pricing_rules r
	JOIN recurrences rc ON rc.id = r.recurrence_id`

// ListPricingRules retrieves the pricing rules of a template with their
// recurrence and variant restriction
func (s *Store) ListPricingRules(ctx context.Context, templateID int64) ([]models.PricingRule, error) {
	var rules []models.PricingRule
	err := sqlx.SelectContext(ctx, s.q, &rules,
		"SELECT"+pricingRuleColumns+" WHERE r.product_template_id = $1 ORDER BY r.id", templateID)
	if err != nil {
		return nil, err
	}

	if err := s.loadRuleVariants(ctx, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// GetPricingRule retrieves a pricing rule by ID
func (s *Store) GetPricingRule(ctx context.Context, id int64) (*models.PricingRule, error) {
	var rule models.PricingRule
	err := sqlx.GetContext(ctx, s.q, &rule, "SELECT"+pricingRuleColumns+" WHERE r.id = $1", id)
	if err != nil {
		return nil, notFound(err, "pricing rule", id)
	}

	rules := []models.PricingRule{rule}
	if err := s.loadRuleVariants(ctx, rules); err != nil {
		return nil, err
	}
	return &rules[0], nil
}

func (s *Store) loadRuleVariants(ctx context.Context, rules []models.PricingRule) error {
	if len(rules) == 0 {
		return nil
	}

	ids := make([]int64, len(rules))
	index := make(map[int64]int, len(rules))
	for i, rule := range rules {
		ids[i] = rule.ID
		index[rule.ID] = i
	}

	var links []struct {
		RuleID    int64 `db:"pricing_rule_id"`
		VariantID int64 `db:"product_variant_id"`
	}
	err := sqlx.SelectContext(ctx, s.q, &links,
		`SELECT pricing_rule_id, product_variant_id FROM pricing_rule_variants
		WHERE pricing_rule_id = ANY($1) ORDER BY pricing_rule_id, product_variant_id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load rule variants: %w", err)
	}

	for _, link := range links {
		i := index[link.RuleID]
		rules[i].VariantIDs = append(rules[i].VariantIDs, link.VariantID)
	}
	return nil
}

// CreatePricingRule inserts a pricing rule and its variant restriction
func (s *Store) CreatePricingRule(ctx context.Context, rule *models.PricingRule) error {
	query := `
		INSERT INTO pricing_rules (product_template_id, pricelist_id, recurrence_id, price_percent)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := s.q.QueryRowxContext(ctx, query,
		rule.TemplateID, rule.PricelistID, rule.RecurrenceID, rule.PricePercent,
	).Scan(&rule.ID)
	if err != nil {
		return fmt.Errorf("failed to insert pricing rule: %w", err)
	}

	return s.insertRuleVariants(ctx, rule)
}

// UpdatePricingRule updates a pricing rule and replaces its variant restriction
func (s *Store) UpdatePricingRule(ctx context.Context, rule *models.PricingRule) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE pricing_rules SET pricelist_id = $1, recurrence_id = $2, price_percent = $3 WHERE id = $4",
		rule.PricelistID, rule.RecurrenceID, rule.PricePercent, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pricing rule %d: %w", rule.ID, ErrNotFound)
	}

	if _, err := s.q.ExecContext(ctx,
		"DELETE FROM pricing_rule_variants WHERE pricing_rule_id = $1", rule.ID); err != nil {
		return err
	}
	return s.insertRuleVariants(ctx, rule)
}

func (s *Store) insertRuleVariants(ctx context.Context, rule *models.PricingRule) error {
	for _, variantID := range rule.VariantIDs {
		_, err := s.q.ExecContext(ctx,
			"INSERT INTO pricing_rule_variants (pricing_rule_id, product_variant_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			rule.ID, variantID)
		if err != nil {
			return fmt.Errorf("failed to insert rule variant: %w", err)
		}
	}
	return nil
}

// DeletePricingRule deletes a pricing rule
func (s *Store) DeletePricingRule(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM pricing_rules WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pricing rule %d: %w", id, ErrNotFound)
	}
	return nil
}
