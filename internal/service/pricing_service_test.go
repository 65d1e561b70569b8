package service

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/temporal"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPricingService(t *testing.T) (*PricingService, sqlmock.Sqlmock, *fakeCache) {
	t.Helper()
	st, mock := newMockStore(t)
	cache := newFakeCache()
	return NewPricingService(st, cache, time.Minute, "USD"), mock, cache
}

func expectRuleValidation(mock sqlmock.Sqlmock, existing ...[]driver.Value) {
	mock.ExpectQuery(`SELECT id FROM product_templates WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery(`SELECT \* FROM recurrences WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "duration", "unit"}).AddRow(3, "1", "day"))
	mock.ExpectQuery(`SELECT \* FROM product_variants WHERE product_template_id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_template_id", "name"}).
			AddRow(20, 10, "Red").
			AddRow(21, 10, "Blue"))

	rules := sqlmock.NewRows([]string{"id", "product_template_id", "pricelist_id", "recurrence_id", "price_percent",
		"recurrence.id", "recurrence.duration", "recurrence.unit"})
	for _, r := range existing {
		rules.AddRow(r...)
	}
	mock.ExpectQuery(`WHERE r.product_template_id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(rules)
	if len(existing) > 0 {
		mock.ExpectQuery(`FROM pricing_rule_variants`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"pricing_rule_id", "product_variant_id"}))
	}
}

func TestCreateRuleRejectsExplicitAllVariants(t *testing.T) {
	svc, mock, cache := newTestPricingService(t)

	mock.ExpectBegin()
	expectRuleValidation(mock, []driver.Value{1, 10, nil, 3, "10", 3, "1", "day"})
	mock.ExpectRollback()

	_, err := svc.CreateRule(context.Background(), &PricingRuleRequest{
		TemplateID:   10,
		RecurrenceID: 3,
		PricePercent: dec("12"),
		VariantIDs:   []int64{20, 21},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, temporal.ErrDuplicatePricing)

	var verr *temporal.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []temporal.PricingKey{{TemplateID: 10, RecurrenceID: 3}}, verr.Conflicts)
	assert.Empty(t, cache.invalidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRuleForOneVariant(t *testing.T) {
	svc, mock, cache := newTestPricingService(t)
	cache.rules[10] = []models.PricingRule{{ID: 1}}

	mock.ExpectBegin()
	expectRuleValidation(mock, []driver.Value{1, 10, nil, 3, "10", 3, "1", "day"})
	mock.ExpectQuery(`INSERT INTO pricing_rules`).
		WithArgs(int64(10), nil, int64(3), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO pricing_rule_variants`).
		WithArgs(int64(2), int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rule, err := svc.CreateRule(context.Background(), &PricingRuleRequest{
		TemplateID:   10,
		RecurrenceID: 3,
		PricePercent: dec("12"),
		VariantIDs:   []int64{20},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rule.ID)
	assert.Equal(t, models.UnitDay, rule.Recurrence.Unit)
	assert.Equal(t, []int64{10}, cache.invalidated)
	assert.NotContains(t, cache.rules, int64(10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRuleRejectsForeignVariant(t *testing.T) {
	svc, mock, _ := newTestPricingService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
	mock.ExpectQuery(`SELECT \* FROM recurrences`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "duration", "unit"}).AddRow(3, "1", "day"))
	mock.ExpectQuery(`SELECT \* FROM product_variants`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_template_id", "name"}).AddRow(20, 10, "Red"))
	mock.ExpectRollback()

	_, err := svc.CreateRule(context.Background(), &PricingRuleRequest{
		TemplateID:   10,
		RecurrenceID: 3,
		PricePercent: dec("12"),
		VariantIDs:   []int64{99},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func pricedRule(id int64, percent string, pricelist *int64, recID int64, duration string, unit models.Unit) models.PricingRule {
	return models.PricingRule{
		ID:           id,
		TemplateID:   10,
		PricelistID:  pricelist,
		RecurrenceID: recID,
		PricePercent: dec(percent),
		Recurrence:   models.Recurrence{ID: recID, Duration: dec(duration), Unit: unit},
	}
}

func expectTemplate10(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM product_templates WHERE id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "list_price"}).AddRow(10, "Tent", "100"))
}

func TestQuotePrefersPricelistRule(t *testing.T) {
	svc, mock, cache := newTestPricingService(t)
	cache.rules[10] = []models.PricingRule{
		pricedRule(1, "10", nil, 3, "1", models.UnitDay),
		pricedRule(2, "8", int64Ptr(5), 3, "1", models.UnitDay),
		pricedRule(3, "50", nil, 4, "1", models.UnitWeek),
	}

	expectTemplate10(mock)
	mock.ExpectQuery(`SELECT \* FROM pricelists WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "currency"}).AddRow(5, "Members", "EUR"))

	quote, err := svc.Quote(context.Background(), &QuoteRequest{
		TemplateID:  10,
		PricelistID: int64Ptr(5),
		Start:       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NotNil(t, quote.Rule)
	assert.Equal(t, int64(2), quote.Rule.ID)
	assert.True(t, dec("24").Equal(quote.Price), quote.Price.String())
	assert.Equal(t, "EUR", quote.Currency)
	assert.Equal(t, "8.00 EUR/day", quote.Rule.Description)
	assert.True(t, dec("3").Equal(quote.Durations[models.UnitDay]))

	require.Len(t, quote.Options, 3)
	assert.True(t, dec("30").Equal(quote.Options[1].Price))
	assert.True(t, dec("50").Equal(quote.Options[2].Price))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteWithoutRulesUsesListPrice(t *testing.T) {
	svc, mock, cache := newTestPricingService(t)
	cache.rules[10] = []models.PricingRule{}

	expectTemplate10(mock)

	quote, err := svc.Quote(context.Background(), &QuoteRequest{
		TemplateID: 10,
		Start:      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Nil(t, quote.Rule)
	assert.True(t, dec("100").Equal(quote.Price))
	assert.Equal(t, "USD", quote.Currency)
	assert.Empty(t, quote.Options)
}

func TestRulesFallBackToStoreOnCacheMiss(t *testing.T) {
	svc, mock, cache := newTestPricingService(t)

	expectTemplate10(mock)
	mock.ExpectQuery(`WHERE r.product_template_id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_template_id", "pricelist_id", "recurrence_id", "price_percent",
			"recurrence.id", "recurrence.duration", "recurrence.unit"}).
			AddRow(1, 10, nil, 3, "10", 3, "1", "day"))
	mock.ExpectQuery(`FROM pricing_rule_variants`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"pricing_rule_id", "product_variant_id"}))

	samples, err := svc.Samples(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "1 Day", samples[0].Name)
	assert.True(t, dec("10").Equal(samples[0].BasePrice))
	assert.Len(t, cache.rules[10], 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
