package service

import (
	"context"
	"testing"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/rental"
	"rental-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	confirmed []*models.RentalOrderConfirmedEvent
	changed   []*models.RentalStatusChangedEvent
	defects   []*models.DefectRegisteredEvent
	late      []*models.RentalOrderLateEvent
}

func (f *fakePublisher) PublishOrderConfirmed(ctx context.Context, e *models.RentalOrderConfirmedEvent) error {
	f.confirmed = append(f.confirmed, e)
	return nil
}

func (f *fakePublisher) PublishStatusChanged(ctx context.Context, e *models.RentalStatusChangedEvent) error {
	f.changed = append(f.changed, e)
	return nil
}

func (f *fakePublisher) PublishDefectRegistered(ctx context.Context, e *models.DefectRegisteredEvent) error {
	f.defects = append(f.defects, e)
	return nil
}

func (f *fakePublisher) PublishOrderLate(ctx context.Context, e *models.RentalOrderLateEvent) error {
	f.late = append(f.late, e)
	return nil
}

type fakeCache struct {
	rules       map[int64][]models.PricingRule
	invalidated []int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{rules: make(map[int64][]models.PricingRule)}
}

func (f *fakeCache) GetPricingRules(ctx context.Context, templateID int64) ([]models.PricingRule, bool, error) {
	rules, ok := f.rules[templateID]
	return rules, ok, nil
}

func (f *fakeCache) SetPricingRules(ctx context.Context, templateID int64, rules []models.PricingRule, ttl time.Duration) error {
	f.rules[templateID] = rules
	return nil
}

func (f *fakeCache) InvalidatePricingRules(ctx context.Context, templateID int64) error {
	delete(f.rules, templateID)
	f.invalidated = append(f.invalidated, templateID)
	return nil
}

type fakeKeys struct {
	claimed  map[string]bool
	released []string
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{claimed: make(map[string]bool)}
}

func (f *fakeKeys) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeKeys) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	delete(f.claimed, key)
	f.released = append(f.released, key)
	return nil
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewStoreWithDB(sqlx.NewDb(db, "postgres")), mock
}

func newTestRentalService(t *testing.T) (*RentalService, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()
	st, mock := newMockStore(t)
	pub := &fakePublisher{}
	svc := NewRentalService(st, rental.NewEngine(2, "RENTAL"), nil, pub, nil, time.Hour)
	svc.now = func() time.Time { return time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC) }
	return svc, mock, pub
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func int64Ptr(v int64) *int64 {
	return &v
}

var (
	testStart = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)
)

type testLine struct {
	id, templateID                int64
	ordered, delivered, returned string
}

// expectOrderLoad registers the three queries of a locked order load
func expectOrderLoad(mock sqlmock.Sqlmock, orderID int64, state, rentalStatus string, lines ...testLine) {
	mock.ExpectQuery(`SELECT \* FROM orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "partner_id", "state", "is_rental_order", "amount_total", "rental_status"}).
			AddRow(orderID, "R-TEST", 3, state, true, "100", rentalStatus))

	rows := sqlmock.NewRows([]string{"id", "order_id", "product_template_id", "product_variant_id", "is_rental",
		"start_date", "return_date", "product_uom_qty", "qty_delivered", "qty_returned", "deposit", "price_total"})
	for _, l := range lines {
		rows.AddRow(l.id, orderID, l.templateID, l.templateID, true, testStart, testEnd,
			l.ordered, l.delivered, l.returned, "50", "100")
	}
	mock.ExpectQuery(`SELECT \* FROM order_lines WHERE order_id = \$1`).
		WithArgs(orderID).
		WillReturnRows(rows)

	if len(lines) > 0 {
		mock.ExpectQuery(`SELECT \* FROM piece_defects`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_line_id", "product_piece_id", "qty", "total"}))
	}
}
