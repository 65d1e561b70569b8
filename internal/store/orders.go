package store

import (
	"context"
	"fmt"
	"time"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CreateOrder creates a new order with its lines
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (name, partner_id, state, is_rental_order, pricelist_id, amount_total,
			rental_status, next_action_date, has_pickable_lines, has_returnable_lines, deposit, total_deposit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		order.Name, order.PartnerID, order.State, order.IsRentalOrder, order.PricelistID, order.AmountTotal,
		order.RentalStatus, order.NextActionDate, order.HasPickableLines, order.HasReturnableLines,
		order.Deposit, order.TotalDeposit,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
		if err := s.createOrderLine(ctx, &order.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, product_template_id, product_variant_id, product_code, product_name,
			is_rental, start_date, return_date, product_uom_qty, qty_delivered, qty_returned, deposit, price_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := s.q.QueryRowxContext(ctx, query,
		line.OrderID, line.ProductTemplateID, line.ProductVariantID, line.ProductCode, line.ProductName,
		line.IsRental, line.StartDate, line.ReturnDate, line.ProductUomQty, line.QtyDelivered, line.QtyReturned,
		line.Deposit, line.PriceTotal,
	).Scan(&line.ID)
	if err != nil {
		return fmt.Errorf("failed to insert order line: %w", err)
	}
	return nil
}

// GetOrder retrieves an order with its lines and their defects
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.loadOrder(ctx, id, "SELECT * FROM orders WHERE id = $1")
}

// GetOrderForUpdate is GetOrder with a row lock on the order, held until the
// enclosing transaction ends
func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.loadOrder(ctx, id, "SELECT * FROM orders WHERE id = $1 FOR UPDATE")
}

func (s *Store) loadOrder(ctx context.Context, id int64, query string) (*models.Order, error) {
	var order models.Order
	if err := sqlx.GetContext(ctx, s.q, &order, query, id); err != nil {
		return nil, notFound(err, "order", id)
	}

	if err := sqlx.SelectContext(ctx, s.q, &order.Lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, fmt.Errorf("failed to load order lines: %w", err)
	}

	if len(order.Lines) == 0 {
		return &order, nil
	}

	lineIDs := make([]int64, len(order.Lines))
	index := make(map[int64]int, len(order.Lines))
	for i, line := range order.Lines {
		lineIDs[i] = line.ID
		index[line.ID] = i
	}

	var defects []models.Defect
	if err := sqlx.SelectContext(ctx, s.q, &defects,
		"SELECT * FROM piece_defects WHERE order_line_id = ANY($1) ORDER BY id", pq.Array(lineIDs)); err != nil {
		return nil, fmt.Errorf("failed to load defects: %w", err)
	}
	for _, defect := range defects {
		i := index[defect.OrderLineID]
		order.Lines[i].Defects = append(order.Lines[i].Defects, defect)
	}

	return &order, nil
}

// ListRentalOrders retrieves rental orders, optionally filtered by rental status
func (s *Store) ListRentalOrders(ctx context.Context, status models.RentalStatus) ([]models.Order, error) {
	var orders []models.Order
	var err error
	if status == "" {
		err = sqlx.SelectContext(ctx, s.q, &orders,
			"SELECT * FROM orders WHERE is_rental_order ORDER BY created_at DESC")
	} else {
		err = sqlx.SelectContext(ctx, s.q, &orders,
			"SELECT * FROM orders WHERE is_rental_order AND rental_status = $1 ORDER BY created_at DESC", status)
	}
	return orders, err
}

// ListLateOrders retrieves rental orders awaiting pickup or return whose
// next action date is before now
func (s *Store) ListLateOrders(ctx context.Context, now time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := sqlx.SelectContext(ctx, s.q, &orders, `
		SELECT * FROM orders
		WHERE is_rental_order
			AND rental_status IN ('pickup', 'return')
			AND next_action_date < $1
		ORDER BY next_action_date`, now)
	return orders, err
}

// UpdateOrderState updates the lifecycle state of an order
func (s *Store) UpdateOrderState(ctx context.Context, orderID int64, state models.OrderState) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE orders SET state = $1, updated_at = NOW() WHERE id = $2",
		state, orderID)
	return err
}

// SaveRentalFields stores the derived rental fields of an order
func (s *Store) SaveRentalFields(ctx context.Context, order *models.Order) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE orders SET rental_status = $1, next_action_date = $2, has_pickable_lines = $3,
			has_returnable_lines = $4, deposit = $5, total_deposit = $6, updated_at = NOW()
		WHERE id = $7`,
		order.RentalStatus, order.NextActionDate, order.HasPickableLines,
		order.HasReturnableLines, order.Deposit, order.TotalDeposit, order.ID)
	return err
}

// UpdateLineQuantities stores the delivered and returned quantities of a line
func (s *Store) UpdateLineQuantities(ctx context.Context, line *models.OrderLine) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE order_lines SET qty_delivered = $1, qty_returned = $2 WHERE id = $3",
		line.QtyDelivered, line.QtyReturned, line.ID)
	return err
}

// CreateDefect creates a new defect record
func (s *Store) CreateDefect(ctx context.Context, defect *models.Defect) error {
	return s.q.QueryRowxContext(ctx, `
		INSERT INTO piece_defects (order_line_id, product_piece_id, qty, total)
		VALUES ($1, $2, $3, $4)
		RETURNING id, processed, created_at`,
		defect.OrderLineID, defect.PieceID, defect.Qty, defect.Total,
	).Scan(&defect.ID, &defect.Processed, &defect.CreatedAt)
}
