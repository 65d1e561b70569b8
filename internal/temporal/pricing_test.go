package temporal

import (
	"errors"
	"testing"

	"rental-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

var (
	day     = models.Recurrence{ID: 1, Duration: decimal.NewFromInt(1), Unit: models.UnitDay}
	week    = models.Recurrence{ID: 2, Duration: decimal.NewFromInt(1), Unit: models.UnitWeek}
	twoWeek = models.Recurrence{ID: 3, Duration: decimal.NewFromInt(2), Unit: models.UnitWeek}
)

func rule(id int64, percent string, rec models.Recurrence, pricelist *int64, variants ...int64) models.PricingRule {
	return models.PricingRule{
		ID:           id,
		TemplateID:   10,
		PricelistID:  pricelist,
		RecurrenceID: rec.ID,
		PricePercent: dec(percent),
		Recurrence:   rec,
		VariantIDs:   variants,
	}
}

func TestPriceForDuration(t *testing.T) {
	listPrice := dec("200")
	r := rule(1, "10", day, nil)

	price, err := PriceForDuration(r, listPrice, dec("3"), models.UnitDay)
	require.NoError(t, err)
	assert.True(t, dec("60").Equal(price), price.String())

	price, err = PriceForDuration(r, listPrice, dec("30"), models.UnitHour)
	require.NoError(t, err)
	assert.True(t, dec("40").Equal(price), price.String())

	weekly := rule(2, "50", week, nil)
	price, err = PriceForDuration(weekly, listPrice, dec("10"), models.UnitDay)
	require.NoError(t, err)
	assert.True(t, dec("200").Equal(price), price.String())
}

func TestPriceForDurationZeroDurationIsFlatPrice(t *testing.T) {
	r := rule(1, "10", day, nil)

	price, err := PriceForDuration(r, dec("200"), decimal.Zero, models.UnitDay)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(price), price.String())

	r.Recurrence.Duration = decimal.Zero
	price, err = PriceForDuration(r, dec("200"), dec("5"), models.UnitDay)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(price), price.String())
}

func TestAppliesTo(t *testing.T) {
	v1 := models.ProductVariant{ID: 100, TemplateID: 10}
	v2 := models.ProductVariant{ID: 101, TemplateID: 10}
	other := models.ProductVariant{ID: 200, TemplateID: 20}

	all := rule(1, "10", day, nil)
	assert.True(t, AppliesTo(all, v1))
	assert.True(t, AppliesTo(all, v2))
	assert.False(t, AppliesTo(all, other))

	restricted := rule(2, "10", day, nil, 100)
	assert.True(t, AppliesTo(restricted, v1))
	assert.False(t, AppliesTo(restricted, v2))
}

func TestSortRules(t *testing.T) {
	rules := []models.PricingRule{
		rule(1, "30", day, nil),
		rule(2, "10", week, int64Ptr(5)),
		rule(3, "10", day, nil),
		rule(4, "10", day, int64Ptr(5)),
	}
	SortRules(rules, dec("100"))

	ids := make([]int64, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{4, 2, 3, 1}, ids)
}

func TestSuitableRulesPricelistPrecedence(t *testing.T) {
	pricelist := int64Ptr(5)
	rules := []models.PricingRule{
		rule(1, "10", day, pricelist),
		rule(2, "10", day, nil),
	}
	SortRules(rules, dec("100"))
	variant := &models.ProductVariant{ID: 100, TemplateID: 10}

	first, ok := FirstSuitableRule(rules, Query{Variant: variant, PricelistID: pricelist})
	require.True(t, ok)
	assert.Equal(t, int64(1), first.ID)

	first, ok = FirstSuitableRule(rules, Query{Variant: variant})
	require.True(t, ok)
	assert.Equal(t, int64(2), first.ID)

	all := SuitableRules(rules, Query{Variant: variant, PricelistID: pricelist}, false)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, int64(2), all[1].ID)
}

func TestSuitableRulesFallsBackToDefault(t *testing.T) {
	rules := []models.PricingRule{
		rule(1, "10", day, int64Ptr(6)),
		rule(2, "10", week, nil),
	}
	variant := &models.ProductVariant{ID: 100, TemplateID: 10}

	first, ok := FirstSuitableRule(rules, Query{Variant: variant, PricelistID: int64Ptr(5)})
	require.True(t, ok)
	assert.Equal(t, int64(2), first.ID)
}

func TestSuitableRulesVariantFiltering(t *testing.T) {
	rules := []models.PricingRule{
		rule(1, "10", day, nil, 101),
		rule(2, "20", week, nil),
	}
	variant := &models.ProductVariant{ID: 100, TemplateID: 10}

	found := SuitableRules(rules, Query{Variant: variant}, false)
	require.Len(t, found, 1)
	assert.Equal(t, int64(2), found[0].ID)

	// template level queries skip the variant check
	found = SuitableRules(rules, Query{}, false)
	assert.Len(t, found, 2)
}

func TestSuitableRulesNone(t *testing.T) {
	_, ok := FirstSuitableRule(nil, Query{})
	assert.False(t, ok)
	assert.Empty(t, SuitableRules(nil, Query{}, false))
}

func TestPricingSamples(t *testing.T) {
	rules := []models.PricingRule{
		rule(1, "10", day, int64Ptr(5)),
		rule(2, "12", day, nil),
		rule(3, "50", week, nil),
		rule(4, "90", twoWeek, nil),
	}
	samples := PricingSamples(rules)
	require.Len(t, samples, 3)
	assert.Equal(t, int64(1), samples[0].ID)
	assert.Equal(t, int64(3), samples[1].ID)
	assert.Equal(t, int64(4), samples[2].ID)
}

func TestValidateUnique(t *testing.T) {
	t.Run("explicit all variants collides with no restriction", func(t *testing.T) {
		rules := []models.PricingRule{
			rule(1, "10", day, nil),
			rule(2, "15", day, nil, 100, 101),
		}
		err := ValidateUnique(rules, 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicatePricing))

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []PricingKey{{TemplateID: 10, RecurrenceID: day.ID}}, verr.Conflicts)
	})

	t.Run("different recurrence is fine", func(t *testing.T) {
		rules := []models.PricingRule{
			rule(1, "10", day, nil),
			rule(2, "10", week, nil),
		}
		assert.NoError(t, ValidateUnique(rules, 2))
	})

	t.Run("different pricelist is fine", func(t *testing.T) {
		rules := []models.PricingRule{
			rule(1, "10", day, nil),
			rule(2, "10", day, int64Ptr(5)),
		}
		assert.NoError(t, ValidateUnique(rules, 2))
	})

	t.Run("disjoint variants are fine", func(t *testing.T) {
		rules := []models.PricingRule{
			rule(1, "10", day, nil, 100),
			rule(2, "10", day, nil, 101),
		}
		assert.NoError(t, ValidateUnique(rules, 3))
	})

	t.Run("overlapping variant subsets collide", func(t *testing.T) {
		rules := []models.PricingRule{
			rule(1, "10", day, nil, 100, 101),
			rule(2, "10", day, nil, 101, 102),
		}
		err := ValidateUnique(rules, 4)
		require.ErrorIs(t, err, ErrDuplicatePricing)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, int64(101), verr.Conflicts[0].VariantID)
	})

	t.Run("same pricelist twice collides", func(t *testing.T) {
		rules := []models.PricingRule{
			rule(1, "10", day, int64Ptr(5)),
			rule(2, "20", day, int64Ptr(5)),
		}
		assert.ErrorIs(t, ValidateUnique(rules, 1), ErrDuplicatePricing)
	})
}

func TestRuleNameAndDescription(t *testing.T) {
	assert.Equal(t, "1 Day", RuleName(rule(1, "10", day, nil)))
	assert.Equal(t, "2 Weeks", RuleName(rule(1, "10", twoWeek, nil)))
	assert.Equal(t, "12.50 USD/day", RuleDescription(rule(1, "12.5", day, nil), dec("100"), "USD"))
}
