package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
	"rental-service/internal/temporal"
	"rental-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PricingService manages temporal pricing rules and computes rental prices
type PricingService struct {
	store           *store.Store
	cache           PricingCache
	cacheTTL        time.Duration
	defaultCurrency string
	logger          *zap.Logger
}

// NewPricingService creates a new pricing service. cache may be nil.
func NewPricingService(store *store.Store, cache PricingCache, cacheTTL time.Duration, defaultCurrency string) *PricingService {
	return &PricingService{
		store:           store,
		cache:           cache,
		cacheTTL:        cacheTTL,
		defaultCurrency: defaultCurrency,
		logger:          util.GetLogger(),
	}
}

// PricingRuleRequest represents a request to create or update a pricing rule
type PricingRuleRequest struct {
	TemplateID   int64           `json:"product_template_id" binding:"required"`
	PricelistID  *int64          `json:"pricelist_id"`
	RecurrenceID int64           `json:"recurrence_id" binding:"required"`
	PricePercent decimal.Decimal `json:"price_percent"`
	VariantIDs   []int64         `json:"variant_ids"`
}

// PricingRuleView is a pricing rule with its display name and description
type PricingRuleView struct {
	models.PricingRule
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BasePrice   decimal.Decimal `json:"base_price"`
}

// CreateRule validates and creates a pricing rule. A rule sharing its
// pricelist, recurrence and variant coverage with an existing rule of the
// same template is rejected with temporal.ErrDuplicatePricing.
func (s *PricingService) CreateRule(ctx context.Context, req *PricingRuleRequest) (*models.PricingRule, error) {
	ctx, span := util.StartSpan(ctx, "PricingService.CreateRule", attribute.Int64("template_id", req.TemplateID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	rule := &models.PricingRule{
		TemplateID:   req.TemplateID,
		PricelistID:  req.PricelistID,
		RecurrenceID: req.RecurrenceID,
		PricePercent: req.PricePercent,
		VariantIDs:   req.VariantIDs,
	}

	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		if err := s.validateRule(ctx, tx, rule); err != nil {
			return err
		}
		return tx.CreatePricingRule(ctx, rule)
	})
	if err != nil {
		return nil, s.ruleWriteFailed(err, rule)
	}

	s.invalidate(ctx, rule.TemplateID)
	s.logger.Info("Pricing rule created",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("template_id", rule.TemplateID))
	return rule, nil
}

// UpdateRule validates and updates a pricing rule. The template of a rule
// cannot change.
func (s *PricingService) UpdateRule(ctx context.Context, id int64, req *PricingRuleRequest) (*models.PricingRule, error) {
	ctx, span := util.StartSpan(ctx, "PricingService.UpdateRule", attribute.Int64("rule_id", id))
	var err error
	defer func() { util.EndSpan(span, err) }()

	var rule *models.PricingRule
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		current, err := tx.GetPricingRule(ctx, id)
		if err != nil {
			return err
		}
		if req.TemplateID != 0 && req.TemplateID != current.TemplateID {
			return fmt.Errorf("%w: a pricing rule cannot move to another product", ErrInvalidInput)
		}

		rule = &models.PricingRule{
			ID:           id,
			TemplateID:   current.TemplateID,
			PricelistID:  req.PricelistID,
			RecurrenceID: req.RecurrenceID,
			PricePercent: req.PricePercent,
			VariantIDs:   req.VariantIDs,
		}
		if err := s.validateRule(ctx, tx, rule); err != nil {
			return err
		}
		return tx.UpdatePricingRule(ctx, rule)
	})
	if err != nil {
		return nil, s.ruleWriteFailed(err, rule)
	}

	s.invalidate(ctx, rule.TemplateID)
	s.logger.Info("Pricing rule updated", zap.Int64("rule_id", id))
	return rule, nil
}

// DeleteRule deletes a pricing rule
func (s *PricingService) DeleteRule(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "PricingService.DeleteRule", attribute.Int64("rule_id", id))
	var err error
	defer func() { util.EndSpan(span, err) }()

	var templateID int64
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		rule, err := tx.GetPricingRule(ctx, id)
		if err != nil {
			return err
		}
		templateID = rule.TemplateID
		if err := tx.LockTemplate(ctx, templateID); err != nil {
			return err
		}
		return tx.DeletePricingRule(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, templateID)
	s.logger.Info("Pricing rule deleted", zap.Int64("rule_id", id))
	return nil
}

// validateRule checks the references of rule and the uniqueness of the
// template's rules with rule added or replaced. The template row stays
// locked until the transaction ends so concurrent writes validate in turn.
func (s *PricingService) validateRule(ctx context.Context, tx *store.Store, rule *models.PricingRule) error {
	if rule.PricePercent.IsNegative() {
		return fmt.Errorf("%w: price percent must not be negative", ErrInvalidInput)
	}

	if err := tx.LockTemplate(ctx, rule.TemplateID); err != nil {
		return err
	}

	rec, err := tx.GetRecurrence(ctx, rule.RecurrenceID)
	if err != nil {
		return err
	}
	rule.Recurrence = *rec

	if rule.PricelistID != nil {
		if _, err := tx.GetPricelist(ctx, *rule.PricelistID); err != nil {
			return err
		}
	}

	variants, err := tx.ListVariants(ctx, rule.TemplateID)
	if err != nil {
		return err
	}
	known := make(map[int64]bool, len(variants))
	for _, v := range variants {
		known[v.ID] = true
	}
	for _, id := range rule.VariantIDs {
		if !known[id] {
			return fmt.Errorf("%w: variant %d is not a variant of product %d", ErrInvalidInput, id, rule.TemplateID)
		}
	}

	existing, err := tx.ListPricingRules(ctx, rule.TemplateID)
	if err != nil {
		return err
	}

	candidates := make([]models.PricingRule, 0, len(existing)+1)
	for _, r := range existing {
		if r.ID != rule.ID {
			candidates = append(candidates, r)
		}
	}
	candidates = append(candidates, *rule)

	return temporal.ValidateUnique(candidates, len(variants))
}

func (s *PricingService) ruleWriteFailed(err error, rule *models.PricingRule) error {
	if errors.Is(err, temporal.ErrDuplicatePricing) {
		util.PricingValidationFailuresTotal.Inc()
		fields := []zap.Field{zap.Error(err)}
		if rule != nil {
			fields = append(fields, zap.Int64("template_id", rule.TemplateID))
		}
		s.logger.Warn("Pricing rule rejected", fields...)
	}
	return err
}

func (s *PricingService) invalidate(ctx context.Context, templateID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePricingRules(ctx, templateID); err != nil {
		s.logger.Error("Failed to invalidate pricing cache",
			zap.Int64("template_id", templateID),
			zap.Error(err))
	}
}

// rules returns the rules of a template, from the cache when possible. Reads
// through a transaction skip the cache so they see the transaction's snapshot.
func (s *PricingService) rules(ctx context.Context, st *store.Store, templateID int64) ([]models.PricingRule, error) {
	useCache := s.cache != nil && !st.InTx()
	if useCache {
		rules, ok, err := s.cache.GetPricingRules(ctx, templateID)
		switch {
		case err != nil:
			util.PricingCacheLookupsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Pricing cache read failed", zap.Int64("template_id", templateID), zap.Error(err))
		case ok:
			util.PricingCacheLookupsTotal.WithLabelValues("hit").Inc()
			return rules, nil
		default:
			util.PricingCacheLookupsTotal.WithLabelValues("miss").Inc()
		}
	}

	rules, err := st.ListPricingRules(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing rules: %w", err)
	}

	if useCache {
		if err := s.cache.SetPricingRules(ctx, templateID, rules, s.cacheTTL); err != nil {
			s.logger.Warn("Pricing cache write failed", zap.Int64("template_id", templateID), zap.Error(err))
		}
	}
	return rules, nil
}

// pricingContext is what resolving prices for one template needs
type pricingContext struct {
	template models.ProductTemplate
	rules    []models.PricingRule
	currency string
}

func (s *PricingService) load(ctx context.Context, st *store.Store, templateID int64, pricelistID *int64) (*pricingContext, error) {
	templates, err := st.GetTemplates(ctx, []int64{templateID})
	if err != nil {
		return nil, err
	}
	tmpl, ok := templates[templateID]
	if !ok {
		return nil, fmt.Errorf("product template %d: %w", templateID, store.ErrNotFound)
	}

	currency := s.defaultCurrency
	if pricelistID != nil {
		pl, err := st.GetPricelist(ctx, *pricelistID)
		if err != nil {
			return nil, err
		}
		currency = pl.Currency
	}

	rules, err := s.rules(ctx, st, templateID)
	if err != nil {
		return nil, err
	}
	temporal.SortRules(rules, tmpl.ListPrice)

	return &pricingContext{template: tmpl, rules: rules, currency: currency}, nil
}

func (s *PricingService) query(ctx context.Context, st *store.Store, templateID int64, variantID, pricelistID *int64) (temporal.Query, error) {
	q := temporal.Query{PricelistID: pricelistID}
	if variantID == nil {
		return q, nil
	}

	variant, err := st.GetVariant(ctx, *variantID)
	if err != nil {
		return q, err
	}
	if variant.TemplateID != templateID {
		return q, fmt.Errorf("%w: variant %d is not a variant of product %d", ErrInvalidInput, variant.ID, templateID)
	}
	q.Variant = variant
	return q, nil
}

func (pc *pricingContext) view(rule models.PricingRule) PricingRuleView {
	return PricingRuleView{
		PricingRule: rule,
		Name:        temporal.RuleName(rule),
		Description: temporal.RuleDescription(rule, pc.template.ListPrice, pc.currency),
		BasePrice:   temporal.BasePrice(rule, pc.template.ListPrice),
	}
}

func (pc *pricingContext) views(rules []models.PricingRule) []PricingRuleView {
	views := make([]PricingRuleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, pc.view(rule))
	}
	return views
}

// ListRules lists all rules of a template in their natural order
func (s *PricingService) ListRules(ctx context.Context, templateID int64) ([]PricingRuleView, error) {
	pc, err := s.load(ctx, s.store, templateID, nil)
	if err != nil {
		return nil, err
	}
	return pc.views(pc.rules), nil
}

// SuitableRules lists the rules applicable to a template or one of its
// variants under an optional pricelist
func (s *PricingService) SuitableRules(ctx context.Context, templateID int64, variantID, pricelistID *int64, firstOnly bool) ([]PricingRuleView, error) {
	ctx, span := util.StartSpan(ctx, "PricingService.SuitableRules", attribute.Int64("template_id", templateID))
	defer span.End()

	pc, err := s.load(ctx, s.store, templateID, pricelistID)
	if err != nil {
		return nil, err
	}
	q, err := s.query(ctx, s.store, templateID, variantID, pricelistID)
	if err != nil {
		return nil, err
	}
	return pc.views(temporal.SuitableRules(pc.rules, q, firstOnly)), nil
}

// Samples lists one rule per recurrence, used to display a product's rates
func (s *PricingService) Samples(ctx context.Context, templateID int64) ([]PricingRuleView, error) {
	pc, err := s.load(ctx, s.store, templateID, nil)
	if err != nil {
		return nil, err
	}
	return pc.views(temporal.PricingSamples(pc.rules)), nil
}

// QuoteRequest asks for the rental price of a product over a period
type QuoteRequest struct {
	TemplateID  int64     `json:"product_template_id" binding:"required"`
	VariantID   *int64    `json:"product_variant_id"`
	PricelistID *int64    `json:"pricelist_id"`
	Start       time.Time `json:"start_date" binding:"required"`
	End         time.Time `json:"return_date" binding:"required"`
}

// QuoteOption is the price of the period under one suitable rule
type QuoteOption struct {
	Rule  PricingRuleView `json:"rule"`
	Price decimal.Decimal `json:"price"`
}

// Quote is the rental price of a product over a period. Rule is the rule
// that prices the period; without one the list price applies.
type Quote struct {
	Durations temporal.Durations `json:"durations"`
	Rule      *PricingRuleView   `json:"rule,omitempty"`
	Price     decimal.Decimal    `json:"price"`
	Currency  string             `json:"currency"`
	Options   []QuoteOption      `json:"options"`
}

// Quote prices a rental period. The span is measured in every unit and each
// suitable rule is priced with the span expressed in its own unit.
func (s *PricingService) Quote(ctx context.Context, req *QuoteRequest) (*Quote, error) {
	return s.quoteWith(ctx, s.store, req)
}

// quoteWith is Quote reading through st, which may be bound to the caller's
// transaction
func (s *PricingService) quoteWith(ctx context.Context, st *store.Store, req *QuoteRequest) (*Quote, error) {
	ctx, span := util.StartSpan(ctx, "PricingService.Quote", attribute.Int64("template_id", req.TemplateID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	pc, err := s.load(ctx, st, req.TemplateID, req.PricelistID)
	if err != nil {
		return nil, err
	}
	q, err := s.query(ctx, st, req.TemplateID, req.VariantID, req.PricelistID)
	if err != nil {
		return nil, err
	}

	durations := temporal.SpanToAllUnits(req.Start, req.End)
	quote := &Quote{
		Durations: durations,
		Price:     pc.template.ListPrice,
		Currency:  pc.currency,
		Options:   []QuoteOption{},
	}

	for i, rule := range temporal.SuitableRules(pc.rules, q, false) {
		unit := rule.Recurrence.Unit
		var price decimal.Decimal
		price, err = temporal.PriceForDuration(rule, pc.template.ListPrice, durations[unit], unit)
		if err != nil {
			return nil, err
		}

		option := QuoteOption{Rule: pc.view(rule), Price: price}
		quote.Options = append(quote.Options, option)
		if i == 0 {
			quote.Rule = &option.Rule
			quote.Price = price
		}
	}

	util.PriceQuotesTotal.Inc()
	return quote, nil
}
