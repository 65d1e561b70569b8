package temporal

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"rental-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrDuplicatePricing is returned when two pricing rules of a template apply
// to the same pricelist, recurrence and variant
var ErrDuplicatePricing = errors.New("multiple pricing for the same variant, recurrence and pricelist")

var hundred = decimal.NewFromInt(100)

// PricingKey identifies the conditions a rule applies to. Zero PricelistID
// means no pricelist, zero VariantID means all variants.
type PricingKey struct {
	TemplateID   int64 `json:"product_template_id"`
	PricelistID  int64 `json:"pricelist_id"`
	RecurrenceID int64 `json:"recurrence_id"`
	VariantID    int64 `json:"variant_id"`
}

// ValidationError lists the keys shared by more than one rule
type ValidationError struct {
	Conflicts []PricingKey
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, k := range e.Conflicts {
		variant := "all variants"
		if k.VariantID != 0 {
			variant = fmt.Sprintf("variant %d", k.VariantID)
		}
		pricelist := "no pricelist"
		if k.PricelistID != 0 {
			pricelist = fmt.Sprintf("pricelist %d", k.PricelistID)
		}
		parts = append(parts, fmt.Sprintf("template %d/%s/recurrence %d/%s", k.TemplateID, pricelist, k.RecurrenceID, variant))
	}
	return fmt.Sprintf("you cannot have multiple pricing for the same variant, recurrence and pricelist (%s)", strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrDuplicatePricing }

// BasePrice is the price of one recurrence period
func BasePrice(rule models.PricingRule, listPrice decimal.Decimal) decimal.Decimal {
	return rule.PricePercent.Mul(listPrice).Div(hundred)
}

// PriceForDuration prices duration (in unit) with rule. Non-positive
// durations charge the base price unchanged.
func PriceForDuration(rule models.PricingRule, listPrice decimal.Decimal, duration decimal.Decimal, unit models.Unit) (decimal.Decimal, error) {
	base := BasePrice(rule, listPrice)
	if duration.Sign() <= 0 || rule.Recurrence.Duration.Sign() <= 0 {
		return base, nil
	}
	multiplier, err := BillingMultiplier(duration, unit, rule.Recurrence.Duration, rule.Recurrence.Unit)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Mul(decimal.NewFromInt(multiplier)), nil
}

// AppliesTo reports whether rule applies to variant
func AppliesTo(rule models.PricingRule, variant models.ProductVariant) bool {
	if rule.TemplateID != variant.TemplateID {
		return false
	}
	if len(rule.VariantIDs) == 0 {
		return true
	}
	for _, id := range rule.VariantIDs {
		if id == variant.ID {
			return true
		}
	}
	return false
}

// SortRules orders rules by template, price, pricelist (no pricelist last)
// and recurrence, which is the order suitable rules are searched in.
func SortRules(rules []models.PricingRule, listPrice decimal.Decimal) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.TemplateID != b.TemplateID {
			return a.TemplateID < b.TemplateID
		}
		if c := BasePrice(a, listPrice).Cmp(BasePrice(b, listPrice)); c != 0 {
			return c < 0
		}
		if pa, pb := pricelistOrder(a.PricelistID), pricelistOrder(b.PricelistID); pa != pb {
			return pa < pb
		}
		return a.RecurrenceID < b.RecurrenceID
	})
}

func pricelistOrder(id *int64) int64 {
	if id == nil {
		return math.MaxInt64
	}
	return *id
}

// Query selects the product a price is requested for. A nil Variant is a
// template level query and matches rules for any variant.
type Query struct {
	Variant     *models.ProductVariant
	PricelistID *int64
}

// SuitableRules returns the template rules that apply to q. Rules of the
// requested pricelist come first, then rules without pricelist. With
// firstOnly the first match is returned alone. rules must already be in
// SortRules order.
func SuitableRules(rules []models.PricingRule, q Query, firstOnly bool) []models.PricingRule {
	var found []models.PricingRule

	matches := func(rule models.PricingRule) bool {
		return q.Variant == nil || AppliesTo(rule, *q.Variant)
	}

	if q.PricelistID != nil {
		for _, rule := range rules {
			if rule.PricelistID != nil && *rule.PricelistID == *q.PricelistID && matches(rule) {
				if firstOnly {
					return []models.PricingRule{rule}
				}
				found = append(found, rule)
			}
		}
	}

	for _, rule := range rules {
		if rule.PricelistID == nil && matches(rule) {
			if firstOnly {
				return []models.PricingRule{rule}
			}
			found = append(found, rule)
		}
	}
	return found
}

// FirstSuitableRule returns the first rule SuitableRules would select
func FirstSuitableRule(rules []models.PricingRule, q Query) (models.PricingRule, bool) {
	found := SuitableRules(rules, q, true)
	if len(found) == 0 {
		return models.PricingRule{}, false
	}
	return found[0], true
}

// PricingSamples keeps the first rule of each distinct recurrence period
func PricingSamples(rules []models.PricingRule) []models.PricingRule {
	type period struct {
		duration string
		unit     models.Unit
	}
	seen := make(map[period]bool)
	var samples []models.PricingRule
	for _, rule := range rules {
		p := period{rule.Recurrence.Duration.String(), rule.Recurrence.Unit}
		if seen[p] {
			continue
		}
		seen[p] = true
		samples = append(samples, rule)
	}
	return samples
}

// ValidateUnique checks that no two rules of a template share pricelist,
// recurrence and variant. A rule naming every variant of the template counts
// as a rule for all variants. variantCount is the template's variant count.
func ValidateUnique(rules []models.PricingRule, variantCount int) error {
	counter := make(map[PricingKey]int)
	var order []PricingKey

	for _, rule := range rules {
		base := PricingKey{TemplateID: rule.TemplateID, RecurrenceID: rule.RecurrenceID}
		if rule.PricelistID != nil {
			base.PricelistID = *rule.PricelistID
		}

		for _, variant := range variantCoverage(rule.VariantIDs, variantCount) {
			key := base
			key.VariantID = variant
			if counter[key] == 0 {
				order = append(order, key)
			}
			counter[key]++
		}
	}

	var conflicts []PricingKey
	for _, key := range order {
		if counter[key] > 1 {
			conflicts = append(conflicts, key)
		}
	}
	if len(conflicts) > 0 {
		return &ValidationError{Conflicts: conflicts}
	}
	return nil
}

// variantCoverage returns the distinct variants a rule covers, or a single 0
// for all variants
func variantCoverage(variantIDs []int64, variantCount int) []int64 {
	distinct := make([]int64, 0, len(variantIDs))
	seen := make(map[int64]bool, len(variantIDs))
	for _, id := range variantIDs {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	if len(distinct) == 0 || len(distinct) == variantCount {
		return []int64{0}
	}
	return distinct
}

// RuleName renders a rule as "<duration> <unit label>", e.g. "1 Day"
func RuleName(rule models.PricingRule) string {
	return fmt.Sprintf("%s %s", rule.Recurrence.Duration.String(), UnitLabel(rule.Recurrence.Unit, rule.Recurrence.Duration))
}

// RuleDescription renders the base price per unit, e.g. "12.50 USD/day"
func RuleDescription(rule models.PricingRule, listPrice decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s/%s", BasePrice(rule, listPrice).StringFixed(2), currency, rule.Recurrence.Unit)
}
