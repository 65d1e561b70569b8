package service

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/rental"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPickupRecomputesStatus(t *testing.T) {
	svc, mock, pub := newTestRentalService(t)

	mock.ExpectBegin()
	expectOrderLoad(mock, 7, "sale", "pickup", testLine{id: 11, templateID: 1, ordered: "2", delivered: "0", returned: "0"})
	mock.ExpectExec(`UPDATE order_lines SET qty_delivered`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET rental_status`).
		WithArgs("return", sqlmock.AnyArg(), false, true, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	view, err := svc.ApplyPickup(context.Background(), 7, []models.LineQuantity{{LineID: 11, Qty: dec("2")}}, "")
	require.NoError(t, err)

	assert.Equal(t, models.RentalStatusReturn, view.RentalStatus)
	require.NotNil(t, view.NextActionDate)
	assert.True(t, view.NextActionDate.Equal(testEnd))
	assert.False(t, view.HasLateLines)
	assert.True(t, dec("2").Equal(view.Lines[0].QtyDelivered))

	require.Len(t, pub.changed, 1)
	assert.Equal(t, models.RentalStatusPickup, pub.changed[0].From)
	assert.Equal(t, models.RentalStatusReturn, pub.changed[0].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPickupRejectsOverDelivery(t *testing.T) {
	svc, mock, pub := newTestRentalService(t)

	mock.ExpectBegin()
	expectOrderLoad(mock, 7, "sale", "pickup", testLine{id: 11, templateID: 1, ordered: "2", delivered: "1", returned: "0"})
	mock.ExpectRollback()

	_, err := svc.ApplyPickup(context.Background(), 7, []models.LineQuantity{{LineID: 11, Qty: dec("2")}}, "")
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Empty(t, pub.changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReturnRejectsUnknownLine(t *testing.T) {
	svc, mock, _ := newTestRentalService(t)

	mock.ExpectBegin()
	expectOrderLoad(mock, 7, "sale", "return", testLine{id: 11, templateID: 1, ordered: "2", delivered: "2", returned: "0"})
	mock.ExpectRollback()

	_, err := svc.ApplyReturn(context.Background(), 7, []models.LineQuantity{{LineID: 99, Qty: dec("1")}}, "")
	assert.ErrorIs(t, err, ErrLineNotInOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPickupIdempotencyKey(t *testing.T) {
	svc, mock, _ := newTestRentalService(t)
	keys := newFakeKeys()
	svc.idemKeys = keys

	t.Run("retry is rejected", func(t *testing.T) {
		keys.claimed["pickup:7:abc"] = true

		_, err := svc.ApplyPickup(context.Background(), 7, []models.LineQuantity{{LineID: 11, Qty: dec("1")}}, "abc")
		assert.ErrorIs(t, err, ErrDuplicateRequest)
	})

	t.Run("key is released when the request fails", func(t *testing.T) {
		mock.ExpectBegin()
		expectOrderLoad(mock, 7, "sale", "return", testLine{id: 11, templateID: 1, ordered: "1", delivered: "1", returned: "0"})
		mock.ExpectRollback()

		_, err := svc.ApplyPickup(context.Background(), 7, []models.LineQuantity{{LineID: 11, Qty: dec("1")}}, "def")
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, []string{"pickup:7:def"}, keys.released)
		assert.False(t, keys.claimed["pickup:7:def"])
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectTemplates(mock sqlmock.Sqlmock, rows ...[]driver.Value) {
	result := sqlmock.NewRows([]string{"id", "name", "list_price", "expansion_of"})
	for _, r := range rows {
		result.AddRow(r...)
	}
	mock.ExpectQuery(`FROM product_templates WHERE id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(result)
}

func TestConfirmNeedsUserDecision(t *testing.T) {
	svc, mock, pub := newTestRentalService(t)

	mock.ExpectBegin()
	expectOrderLoad(mock, 7, "draft", "draft", testLine{id: 11, templateID: 2, ordered: "1", delivered: "0", returned: "0"})
	expectTemplates(mock, []driver.Value{2, "Catan: Seafarers", "30", 1})
	expectTemplates(mock, []driver.Value{1, "Catan", "40", nil})
	mock.ExpectCommit()

	result, err := svc.Confirm(context.Background(), 7, false)
	require.NoError(t, err)

	assert.Equal(t, rental.OutcomeNeedsUserDecision, result.Outcome)
	require.Len(t, result.Missing, 1)
	assert.Equal(t, "Catan", result.Missing[0].BaseName)
	assert.Equal(t, "Catan: Seafarers", result.Missing[0].ExpansionName)
	assert.Empty(t, result.PickupLines)
	assert.Empty(t, pub.confirmed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmForced(t *testing.T) {
	svc, mock, pub := newTestRentalService(t)

	mock.ExpectBegin()
	expectOrderLoad(mock, 7, "sent", "sent", testLine{id: 11, templateID: 2, ordered: "1", delivered: "0", returned: "0"})
	expectTemplates(mock, []driver.Value{2, "Catan: Seafarers", "30", 1})
	expectTemplates(mock, []driver.Value{1, "Catan", "40", nil})
	mock.ExpectExec(`UPDATE orders SET state`).
		WithArgs("sale", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE orders SET rental_status`).
		WithArgs("pickup", sqlmock.AnyArg(), true, false, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Confirm(context.Background(), 7, true)
	require.NoError(t, err)

	assert.Equal(t, rental.OutcomeConfirmed, result.Outcome)
	require.Len(t, result.PickupLines, 1)
	assert.Equal(t, int64(11), result.PickupLines[0].ID)

	require.Len(t, pub.confirmed, 1)
	assert.True(t, pub.confirmed[0].Forced)
	assert.Equal(t, []int64{11}, pub.confirmed[0].PickupLineIDs)
	require.Len(t, pub.changed, 1)
	assert.Equal(t, models.RentalStatusSent, pub.changed[0].From)
	assert.Equal(t, models.RentalStatusPickup, pub.changed[0].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmRejectsConfirmedOrder(t *testing.T) {
	svc, mock, _ := newTestRentalService(t)

	mock.ExpectBegin()
	expectOrderLoad(mock, 7, "sale", "pickup")
	mock.ExpectRollback()

	_, err := svc.Confirm(context.Background(), 7, false)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterDefect(t *testing.T) {
	t.Run("quantity must be positive", func(t *testing.T) {
		svc, _, _ := newTestRentalService(t)
		_, err := svc.RegisterDefect(context.Background(), 7, 11, 5, 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("piece of another product", func(t *testing.T) {
		svc, mock, _ := newTestRentalService(t)

		mock.ExpectBegin()
		expectOrderLoad(mock, 7, "sale", "return", testLine{id: 11, templateID: 1, ordered: "1", delivered: "1", returned: "0"})
		mock.ExpectQuery(`SELECT \* FROM product_pieces WHERE id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "product_template_id", "name", "qty", "group_value"}).
				AddRow(5, 99, "wheel", 4, "20"))
		mock.ExpectRollback()

		_, err := svc.RegisterDefect(context.Background(), 7, 11, 5, 1)
		assert.ErrorIs(t, err, ErrPieceNotInTemplate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defect lowers the deposit", func(t *testing.T) {
		svc, mock, pub := newTestRentalService(t)

		mock.ExpectBegin()
		expectOrderLoad(mock, 7, "sale", "return", testLine{id: 11, templateID: 1, ordered: "1", delivered: "1", returned: "0"})
		mock.ExpectQuery(`SELECT \* FROM product_pieces WHERE id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "product_template_id", "name", "qty", "group_value"}).
				AddRow(5, 1, "wheel", 3, "10"))
		expectTemplates(mock, []driver.Value{1, "Bike", "100", nil})
		mock.ExpectQuery(`INSERT INTO piece_defects`).
			WithArgs(int64(11), int64(5), 2, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "processed", "created_at"}).AddRow(100, false, testStart))
		mock.ExpectExec(`UPDATE orders SET rental_status`).
			WithArgs("return", sqlmock.AnyArg(), false, true, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		view, err := svc.RegisterDefect(context.Background(), 7, 11, 5, 2)
		require.NoError(t, err)

		assert.Equal(t, int64(100), view.ID)
		assert.True(t, dec("6.67").Equal(view.Total), view.Total.String())
		assert.Equal(t, "2 wheel(s) - $6.67", view.Name)
		require.Len(t, pub.defects, 1)
		assert.Empty(t, pub.changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHandleStockMoveSkipsProcessedEvents(t *testing.T) {
	svc, mock, pub := newTestRentalService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM processed_events`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	event := &models.StockMoveEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypePickupDone},
		OrderID:   7,
		Lines:     []models.LineQuantity{{LineID: 11, Qty: dec("1")}},
	}
	require.NoError(t, svc.HandlePickupDone(context.Background(), event))
	assert.Empty(t, pub.changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStockMoveDropsInvalidEvents(t *testing.T) {
	svc, mock, _ := newTestRentalService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM processed_events`).
		WithArgs("evt-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	expectOrderLoad(mock, 7, "sale", "return", testLine{id: 11, templateID: 1, ordered: "1", delivered: "1", returned: "0"})
	mock.ExpectRollback()

	event := &models.StockMoveEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeReturnDone},
		OrderID:   7,
		Lines:     []models.LineQuantity{{LineID: 11, Qty: dec("3")}},
	}
	assert.NoError(t, svc.HandleReturnDone(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepLateOrders(t *testing.T) {
	svc, mock, pub := newTestRentalService(t)

	mock.ExpectQuery(`FROM orders\s+WHERE is_rental_order\s+AND rental_status IN`).
		WithArgs(svc.now()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "is_rental_order", "state", "rental_status", "next_action_date"}).
			AddRow(7, true, "sale", "return", testStart.AddDate(0, 0, -7)))

	count, err := svc.SweepLateOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, pub.late, 1)
	assert.Equal(t, int64(7), pub.late[0].OrderID)
	assert.Equal(t, models.RentalStatusReturn, pub.late[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderPricesLinesInsideTransaction(t *testing.T) {
	st, mock := newMockStore(t)
	cache := newFakeCache()
	cache.rules[10] = []models.PricingRule{pricedRule(99, "50", nil, 3, "1", models.UnitDay)}
	pricing := NewPricingService(st, cache, time.Minute, "USD")
	svc := NewRentalService(st, rental.NewEngine(2, "RENTAL"), pricing, &fakePublisher{}, nil, time.Hour)

	variantRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "product_template_id", "name"}).AddRow(20, 10, "Red")
	}

	mock.ExpectBegin()
	expectTemplate10(mock)
	mock.ExpectQuery(`SELECT \* FROM product_variants WHERE id = \$1`).
		WithArgs(int64(20)).
		WillReturnRows(variantRow())
	expectTemplate10(mock)
	mock.ExpectQuery(`WHERE r.product_template_id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_template_id", "pricelist_id", "recurrence_id", "price_percent",
			"recurrence.id", "recurrence.duration", "recurrence.unit"}).
			AddRow(1, 10, nil, 3, "10", 3, "1", "day"))
	mock.ExpectQuery(`FROM pricing_rule_variants`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"pricing_rule_id", "product_variant_id"}))
	mock.ExpectQuery(`SELECT \* FROM product_variants WHERE id = \$1`).
		WithArgs(int64(20)).
		WillReturnRows(variantRow())
	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, testStart, testStart))
	mock.ExpectQuery(`INSERT INTO order_lines`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	returnDate := testStart.Add(48 * time.Hour)
	order, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		PartnerID:     3,
		IsRentalOrder: true,
		Lines: []OrderLineRequest{{
			ProductTemplateID: 10,
			ProductVariantID:  20,
			IsRental:          true,
			StartDate:         &testStart,
			ReturnDate:        &returnDate,
			Qty:               dec("2"),
		}},
	})
	require.NoError(t, err)

	require.Len(t, order.Lines, 1)
	assert.True(t, dec("40").Equal(order.Lines[0].PriceTotal), order.Lines[0].PriceTotal.String())
	assert.True(t, dec("40").Equal(order.AmountTotal))
	require.Len(t, cache.rules[10], 1)
	assert.Equal(t, int64(99), cache.rules[10][0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
