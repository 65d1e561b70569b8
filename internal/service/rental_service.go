package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/rental"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RentalService handles the rental order lifecycle
type RentalService struct {
	store     *store.Store
	engine    *rental.Engine
	pricing   *PricingService
	publisher EventPublisher
	idemKeys  IdempotencyKeys
	idemTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewRentalService creates a new rental service. idemKeys may be nil, in
// which case idempotency keys are ignored.
func NewRentalService(
	store *store.Store,
	engine *rental.Engine,
	pricing *PricingService,
	publisher EventPublisher,
	idemKeys IdempotencyKeys,
	idemTTL time.Duration,
) *RentalService {
	return &RentalService{
		store:     store,
		engine:    engine,
		pricing:   pricing,
		publisher: publisher,
		idemKeys:  idemKeys,
		idemTTL:   idemTTL,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Name          string             `json:"name"`
	PartnerID     int64              `json:"partner_id" binding:"required"`
	PricelistID   *int64             `json:"pricelist_id"`
	IsRentalOrder bool               `json:"is_rental_order"`
	Lines         []OrderLineRequest `json:"lines" binding:"required,min=1"`
}

// OrderLineRequest represents a line of a new order. Without PriceTotal a
// rental line is priced from the product's pricing rules over its period,
// any other line from the list price.
type OrderLineRequest struct {
	ProductTemplateID int64            `json:"product_template_id" binding:"required"`
	ProductVariantID  int64            `json:"product_variant_id" binding:"required"`
	IsRental          bool             `json:"is_rental"`
	StartDate         *time.Time       `json:"start_date"`
	ReturnDate        *time.Time       `json:"return_date"`
	Qty               decimal.Decimal  `json:"product_uom_qty"`
	Deposit           decimal.Decimal  `json:"deposit"`
	PriceTotal        *decimal.Decimal `json:"price_total"`
}

// OrderView is an order with the values derived at read time
type OrderView struct {
	*models.Order
	HasLateLines bool `json:"has_late_lines"`
}

// DefectView is a registered defect with its display name
type DefectView struct {
	models.Defect
	Name string `json:"name"`
}

func (s *RentalService) view(order *models.Order) *OrderView {
	return &OrderView{Order: order, HasLateLines: rental.HasLateLines(order, s.now())}
}

// CreateOrder creates a quotation with its lines
func (s *RentalService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.CreateOrder", attribute.Int64("partner_id", req.PartnerID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if len(req.Lines) == 0 {
		err = fmt.Errorf("%w: an order needs at least one line", ErrInvalidInput)
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = "R-" + strings.ToUpper(uuid.New().String()[:8])
	}

	order := &models.Order{
		Name:          name,
		PartnerID:     req.PartnerID,
		State:         models.OrderStateDraft,
		IsRentalOrder: req.IsRentalOrder,
		PricelistID:   req.PricelistID,
	}

	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		lines, err := s.buildLines(ctx, tx, req)
		if err != nil {
			return err
		}
		order.Lines = lines

		total := decimal.Zero
		for _, line := range lines {
			total = total.Add(line.PriceTotal)
		}
		order.AmountTotal = total

		s.recompute(order)
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	if order.IsRentalOrder {
		util.RentalOrdersCreatedTotal.Inc()
	}
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Bool("rental", order.IsRentalOrder),
		zap.Int("lines", len(order.Lines)))

	return s.view(order), nil
}

func (s *RentalService) buildLines(ctx context.Context, tx *store.Store, req *CreateOrderRequest) ([]models.OrderLine, error) {
	ids := make([]int64, 0, len(req.Lines))
	for _, l := range req.Lines {
		ids = append(ids, l.ProductTemplateID)
	}
	templates, err := tx.GetTemplates(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]models.OrderLine, 0, len(req.Lines))
	for i, l := range req.Lines {
		tmpl, ok := templates[l.ProductTemplateID]
		if !ok {
			return nil, fmt.Errorf("line %d: product template %d: %w", i+1, l.ProductTemplateID, store.ErrNotFound)
		}
		if !l.Qty.IsPositive() {
			return nil, fmt.Errorf("line %d: %w: quantity must be positive", i+1, ErrInvalidQuantity)
		}
		if l.Deposit.IsNegative() {
			return nil, fmt.Errorf("line %d: %w: deposit must not be negative", i+1, ErrInvalidInput)
		}
		if l.StartDate != nil && l.ReturnDate != nil && l.ReturnDate.Before(*l.StartDate) {
			return nil, fmt.Errorf("line %d: %w: return date is before start date", i+1, ErrInvalidInput)
		}

		variant, err := tx.GetVariant(ctx, l.ProductVariantID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if variant.TemplateID != tmpl.ID {
			return nil, fmt.Errorf("line %d: %w: variant %d is not a variant of product %d", i+1, ErrInvalidInput, variant.ID, tmpl.ID)
		}

		line := models.OrderLine{
			ProductTemplateID: tmpl.ID,
			ProductVariantID:  variant.ID,
			ProductCode:       tmpl.DefaultCode,
			ProductName:       tmpl.Name,
			IsRental:          l.IsRental,
			StartDate:         l.StartDate,
			ReturnDate:        l.ReturnDate,
			ProductUomQty:     l.Qty,
			QtyDelivered:      decimal.Zero,
			QtyReturned:       decimal.Zero,
			Deposit:           l.Deposit,
		}

		if l.PriceTotal != nil {
			line.PriceTotal = *l.PriceTotal
		} else {
			unit, err := s.unitPrice(ctx, tx, tmpl, variant.ID, req.PricelistID, l)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			line.PriceTotal = unit.Mul(l.Qty).Round(2)
		}

		lines = append(lines, line)
	}
	return lines, nil
}

func (s *RentalService) unitPrice(ctx context.Context, tx *store.Store, tmpl models.ProductTemplate, variantID int64, pricelistID *int64, l OrderLineRequest) (decimal.Decimal, error) {
	if !l.IsRental || l.StartDate == nil || l.ReturnDate == nil || s.pricing == nil {
		return tmpl.ListPrice, nil
	}

	quote, err := s.pricing.quoteWith(ctx, tx, &QuoteRequest{
		TemplateID:  tmpl.ID,
		VariantID:   &variantID,
		PricelistID: pricelistID,
		Start:       *l.StartDate,
		End:         *l.ReturnDate,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Price, nil
}

// GetOrder retrieves an order with its lines
func (s *RentalService) GetOrder(ctx context.Context, orderID int64) (*OrderView, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.view(order), nil
}

// ListOrders lists rental orders, optionally filtered by rental status
func (s *RentalService) ListOrders(ctx context.Context, status models.RentalStatus) ([]OrderView, error) {
	orders, err := s.store.ListRentalOrders(ctx, status)
	if err != nil {
		return nil, err
	}

	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, *s.view(&orders[i]))
	}
	return views, nil
}

// MarkSent marks a quotation as sent to the customer
func (s *RentalService) MarkSent(ctx context.Context, orderID int64) (*OrderView, error) {
	return s.transition(ctx, "RentalService.MarkSent", orderID, models.OrderStateSent,
		models.OrderStateDraft, models.OrderStateSent)
}

// Cancel cancels an order that is not done yet
func (s *RentalService) Cancel(ctx context.Context, orderID int64) (*OrderView, error) {
	view, err := s.transition(ctx, "RentalService.Cancel", orderID, models.OrderStateCancel,
		models.OrderStateDraft, models.OrderStateSent, models.OrderStateSale)
	if err == nil && view.IsRentalOrder {
		util.RentalOrdersCancelledTotal.Inc()
	}
	return view, err
}

func (s *RentalService) transition(ctx context.Context, op string, orderID int64, to models.OrderState, from ...models.OrderState) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, op, attribute.Int64("order_id", orderID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	var order *models.Order
	var previous models.RentalStatus
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !stateIn(order.State, from...) {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidState, orderID, order.State)
		}
		if err := tx.UpdateOrderState(ctx, orderID, to); err != nil {
			return err
		}
		order.State = to
		previous = s.recompute(order)
		return tx.SaveRentalFields(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order state changed", zap.Int64("order_id", orderID), zap.String("state", string(to)))
	s.statusChanged(ctx, order, previous)
	return s.view(order), nil
}

func stateIn(state models.OrderState, states ...models.OrderState) bool {
	for _, s := range states {
		if state == s {
			return true
		}
	}
	return false
}

// Confirm confirms a quotation. When an expansion product is ordered without
// its base product the order is left untouched and the result lists the
// missing base products, unless force is set. A confirmed result carries the
// lines now awaiting pickup.
func (s *RentalService) Confirm(ctx context.Context, orderID int64, force bool) (*rental.ConfirmationResult, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.Confirm",
		attribute.Int64("order_id", orderID),
		attribute.Bool("force", force))
	var err error
	defer func() { util.EndSpan(span, err) }()

	var order *models.Order
	var previous models.RentalStatus
	result := &rental.ConfirmationResult{}

	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !stateIn(order.State, models.OrderStateDraft, models.OrderStateSent) {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidState, orderID, order.State)
		}

		templates, err := s.lineTemplates(ctx, tx, order)
		if err != nil {
			return err
		}
		if missing := rental.MissingDependencies(order, templates); len(missing) > 0 && !force {
			result.Outcome = rental.OutcomeNeedsUserDecision
			result.Missing = missing
			return nil
		}

		if err := tx.UpdateOrderState(ctx, orderID, models.OrderStateSale); err != nil {
			return err
		}
		order.State = models.OrderStateSale
		previous = s.recompute(order)
		if err := tx.SaveRentalFields(ctx, order); err != nil {
			return err
		}

		result.Outcome = rental.OutcomeConfirmed
		result.PickupLines = s.engine.PickableLines(order)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == rental.OutcomeNeedsUserDecision {
		util.RentalConfirmationHaltsTotal.Inc()
		s.logger.Info("Confirmation needs a decision",
			zap.Int64("order_id", orderID),
			zap.Int("missing_base_products", len(result.Missing)))
		return result, nil
	}

	if order.IsRentalOrder {
		util.RentalOrdersConfirmedTotal.WithLabelValues(strconv.FormatBool(force)).Inc()
		s.publishConfirmed(ctx, order, result.PickupLines, force)
	}
	s.logger.Info("Order confirmed", zap.Int64("order_id", orderID), zap.Bool("forced", force))
	s.statusChanged(ctx, order, previous)
	return result, nil
}

// lineTemplates loads the templates of the order lines and their base products
func (s *RentalService) lineTemplates(ctx context.Context, tx *store.Store, order *models.Order) (map[int64]models.ProductTemplate, error) {
	ids := make([]int64, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.ProductTemplateID)
	}
	templates, err := tx.GetTemplates(ctx, ids)
	if err != nil {
		return nil, err
	}

	var baseIDs []int64
	for _, tmpl := range templates {
		if tmpl.ExpansionOf == nil {
			continue
		}
		if _, ok := templates[*tmpl.ExpansionOf]; !ok {
			baseIDs = append(baseIDs, *tmpl.ExpansionOf)
		}
	}
	if len(baseIDs) == 0 {
		return templates, nil
	}

	bases, err := tx.GetTemplates(ctx, baseIDs)
	if err != nil {
		return nil, err
	}
	for id, tmpl := range bases {
		templates[id] = tmpl
	}
	return templates, nil
}

// OpenPickup lists the lines that can be picked up
func (s *RentalService) OpenPickup(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.engine.PickableLines(order), nil
}

// OpenReturn lists the lines that can be returned
func (s *RentalService) OpenReturn(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.engine.ReturnableLines(order), nil
}

type moveKind string

const (
	movePickup moveKind = "pickup"
	moveReturn moveKind = "return"
)

// ApplyPickup records picked up quantities. A non-empty idempotencyKey makes
// retries of the same request fail with ErrDuplicateRequest.
func (s *RentalService) ApplyPickup(ctx context.Context, orderID int64, lines []models.LineQuantity, idempotencyKey string) (*OrderView, error) {
	return s.applyRequest(ctx, movePickup, orderID, lines, idempotencyKey)
}

// ApplyReturn records returned quantities
func (s *RentalService) ApplyReturn(ctx context.Context, orderID int64, lines []models.LineQuantity, idempotencyKey string) (*OrderView, error) {
	return s.applyRequest(ctx, moveReturn, orderID, lines, idempotencyKey)
}

func (s *RentalService) applyRequest(ctx context.Context, kind moveKind, orderID int64, lines []models.LineQuantity, idempotencyKey string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.Apply",
		attribute.String("kind", string(kind)),
		attribute.Int64("order_id", orderID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if idempotencyKey != "" && s.idemKeys != nil {
		key := fmt.Sprintf("%s:%d:%s", kind, orderID, idempotencyKey)
		var claimed bool
		claimed, err = s.idemKeys.ClaimIdempotencyKey(ctx, key, s.idemTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if !claimed {
			err = ErrDuplicateRequest
			return nil, err
		}
		defer func() {
			if err != nil {
				if relErr := s.idemKeys.ReleaseIdempotencyKey(ctx, key); relErr != nil {
					s.logger.Error("Failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
				}
			}
		}()
	}

	var order *models.Order
	var previous models.RentalStatus
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		var err error
		order, previous, err = s.applyMoves(ctx, tx, kind, orderID, lines)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.moved(ctx, kind, "api", order, previous)
	return s.view(order), nil
}

// applyMoves adds the quantities to the order lines, then recomputes and
// stores the rental fields. Picked up quantities cannot exceed the ordered
// quantity nor returned quantities the picked up one.
func (s *RentalService) applyMoves(ctx context.Context, tx *store.Store, kind moveKind, orderID int64, moves []models.LineQuantity) (*models.Order, models.RentalStatus, error) {
	if len(moves) == 0 {
		return nil, "", fmt.Errorf("%w: no lines given", ErrInvalidQuantity)
	}

	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, "", err
	}

	var eligible []models.OrderLine
	if kind == movePickup {
		eligible = s.engine.PickableLines(order)
	} else {
		eligible = s.engine.ReturnableLines(order)
	}
	isEligible := make(map[int64]bool, len(eligible))
	for _, line := range eligible {
		isEligible[line.ID] = true
	}

	index := make(map[int64]int, len(order.Lines))
	for i, line := range order.Lines {
		index[line.ID] = i
	}

	touched := make(map[int64]bool)
	for _, move := range moves {
		i, ok := index[move.LineID]
		if !ok {
			return nil, "", fmt.Errorf("%w: line %d, order %d", ErrLineNotInOrder, move.LineID, orderID)
		}
		if !isEligible[move.LineID] {
			return nil, "", fmt.Errorf("%w: line %d has nothing to %s", ErrInvalidState, move.LineID, kind)
		}
		qty := move.Qty.Round(s.engine.Precision())
		if !qty.IsPositive() {
			return nil, "", fmt.Errorf("%w: line %d: quantity must be positive", ErrInvalidQuantity, move.LineID)
		}

		line := &order.Lines[i]
		if kind == movePickup {
			delivered := line.QtyDelivered.Add(qty)
			if s.engine.CompareQty(delivered, line.ProductUomQty) > 0 {
				return nil, "", fmt.Errorf("%w: line %d: picking up %s exceeds the ordered quantity %s",
					ErrInvalidQuantity, line.ID, qty, line.ProductUomQty)
			}
			line.QtyDelivered = delivered
		} else {
			returned := line.QtyReturned.Add(qty)
			if s.engine.CompareQty(returned, line.QtyDelivered) > 0 {
				return nil, "", fmt.Errorf("%w: line %d: returning %s exceeds the picked up quantity %s",
					ErrInvalidQuantity, line.ID, qty, line.QtyDelivered)
			}
			line.QtyReturned = returned
		}
		touched[line.ID] = true
	}

	for i := range order.Lines {
		if touched[order.Lines[i].ID] {
			if err := tx.UpdateLineQuantities(ctx, &order.Lines[i]); err != nil {
				return nil, "", fmt.Errorf("failed to update line quantities: %w", err)
			}
		}
	}

	previous := s.recompute(order)
	if err := tx.SaveRentalFields(ctx, order); err != nil {
		return nil, "", fmt.Errorf("failed to save rental fields: %w", err)
	}
	return order, previous, nil
}

// HandlePickupDone applies a warehouse pickup event
func (s *RentalService) HandlePickupDone(ctx context.Context, event *models.StockMoveEvent) error {
	return s.handleStockMove(ctx, movePickup, event)
}

// HandleReturnDone applies a warehouse return event
func (s *RentalService) HandleReturnDone(ctx context.Context, event *models.StockMoveEvent) error {
	return s.handleStockMove(ctx, moveReturn, event)
}

// handleStockMove applies a stock move event once. Events that can never be
// applied are logged and dropped so they do not block the partition.
func (s *RentalService) handleStockMove(ctx context.Context, kind moveKind, event *models.StockMoveEvent) error {
	ctx, span := util.StartSpan(ctx, "RentalService.HandleStockMove",
		attribute.String("kind", string(kind)),
		attribute.String("event_id", event.EventID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	var order *models.Order
	var previous models.RentalStatus
	duplicate := false

	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		processed, err := tx.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			duplicate = true
			return nil
		}

		order, previous, err = s.applyMoves(ctx, tx, kind, event.OrderID, event.Lines)
		if err != nil {
			return err
		}
		return tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
	})

	switch {
	case err == nil && duplicate:
		s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	case err == nil:
		s.moved(ctx, kind, "warehouse", order, previous)
		return nil
	case isRejection(err):
		s.logger.Warn("Dropping stock move event",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		err = nil
		return nil
	default:
		return err
	}
}

func isRejection(err error) bool {
	for _, target := range []error{ErrInvalidQuantity, ErrInvalidState, ErrLineNotInOrder, store.ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *RentalService) moved(ctx context.Context, kind moveKind, source string, order *models.Order, previous models.RentalStatus) {
	if kind == movePickup {
		util.RentalPickupsTotal.WithLabelValues(source).Inc()
	} else {
		util.RentalReturnsTotal.WithLabelValues(source).Inc()
	}
	s.logger.Info("Rental quantities applied",
		zap.String("kind", string(kind)),
		zap.String("source", source),
		zap.Int64("order_id", order.ID),
		zap.String("rental_status", string(order.RentalStatus)))
	s.statusChanged(ctx, order, previous)
}

// RegisterDefect records damaged pieces on an order line. The defect total is
// the quantity times the piece's individual value, and the order deposit is
// recomputed.
func (s *RentalService) RegisterDefect(ctx context.Context, orderID, lineID, pieceID int64, qty int) (*DefectView, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.RegisterDefect",
		attribute.Int64("order_id", orderID),
		attribute.Int64("line_id", lineID))
	var err error
	defer func() { util.EndSpan(span, err) }()

	if qty <= 0 {
		err = fmt.Errorf("%w: defect quantity must be positive", ErrInvalidQuantity)
		return nil, err
	}

	var defect models.Defect
	var piece *models.ProductPiece
	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		var line *models.OrderLine
		for i := range order.Lines {
			if order.Lines[i].ID == lineID {
				line = &order.Lines[i]
			}
		}
		if line == nil {
			return fmt.Errorf("%w: line %d, order %d", ErrLineNotInOrder, lineID, orderID)
		}

		piece, err = tx.GetPiece(ctx, pieceID)
		if err != nil {
			return err
		}
		if piece.TemplateID != line.ProductTemplateID {
			return fmt.Errorf("%w: piece %d, line %d", ErrPieceNotInTemplate, pieceID, lineID)
		}

		templates, err := tx.GetTemplates(ctx, []int64{line.ProductTemplateID})
		if err != nil {
			return err
		}

		defect = models.Defect{
			OrderLineID: lineID,
			PieceID:     pieceID,
			Qty:         qty,
			Total:       rental.DefectTotal(qty, rental.PieceValue(*piece, templates[line.ProductTemplateID].ListPrice)),
		}
		if err := tx.CreateDefect(ctx, &defect); err != nil {
			return fmt.Errorf("failed to create defect: %w", err)
		}
		line.Defects = append(line.Defects, defect)

		s.recompute(order)
		return tx.SaveRentalFields(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	util.RentalDefectsTotal.Inc()
	view := &DefectView{Defect: defect, Name: rental.DefectName(defect, *piece)}
	s.logger.Info("Defect registered",
		zap.Int64("order_id", orderID),
		zap.Int64("defect_id", defect.ID),
		zap.String("name", view.Name))

	s.publish(ctx, models.EventTypeDefectRegistered, func() error {
		return s.publisher.PublishDefectRegistered(ctx, &models.DefectRegisteredEvent{
			BaseEvent:   s.newEvent(models.EventTypeDefectRegistered),
			OrderID:     orderID,
			OrderLineID: lineID,
			DefectID:    defect.ID,
			PieceID:     pieceID,
			Qty:         qty,
			Total:       defect.Total,
		})
	})
	return view, nil
}

// SweepLateOrders publishes an event for every rental order past its next
// action date and returns how many were found
func (s *RentalService) SweepLateOrders(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "RentalService.SweepLateOrders")
	defer span.End()

	now := s.now()
	orders, err := s.store.ListLateOrders(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list late orders: %w", err)
	}

	util.RentalLateOrders.Set(float64(len(orders)))

	for i := range orders {
		order := &orders[i]
		if !rental.HasLateLines(order, now) {
			continue
		}
		s.publish(ctx, models.EventTypeRentalOrderLate, func() error {
			return s.publisher.PublishOrderLate(ctx, &models.RentalOrderLateEvent{
				BaseEvent:      s.newEvent(models.EventTypeRentalOrderLate),
				OrderID:        order.ID,
				Status:         order.RentalStatus,
				NextActionDate: *order.NextActionDate,
			})
		})
	}

	if len(orders) > 0 {
		s.logger.Info("Late rental orders found", zap.Int("count", len(orders)))
	}
	return len(orders), nil
}

// recompute refreshes the derived rental fields of order and returns the
// rental status it had before
func (s *RentalService) recompute(order *models.Order) models.RentalStatus {
	start := time.Now()
	defer func() {
		util.RentalStatusRecomputeLatency.Observe(time.Since(start).Seconds())
	}()
	return s.engine.Recompute(order)
}

func (s *RentalService) newEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: s.now(),
	}
}

func (s *RentalService) statusChanged(ctx context.Context, order *models.Order, previous models.RentalStatus) {
	if !order.IsRentalOrder || previous == order.RentalStatus {
		return
	}

	util.RentalStatusTransitionsTotal.WithLabelValues(string(previous), string(order.RentalStatus)).Inc()
	s.publish(ctx, models.EventTypeRentalStatusChanged, func() error {
		return s.publisher.PublishStatusChanged(ctx, &models.RentalStatusChangedEvent{
			BaseEvent:      s.newEvent(models.EventTypeRentalStatusChanged),
			OrderID:        order.ID,
			From:           previous,
			To:             order.RentalStatus,
			NextActionDate: order.NextActionDate,
		})
	})
}

func (s *RentalService) publishConfirmed(ctx context.Context, order *models.Order, pickup []models.OrderLine, forced bool) {
	lineIDs := make([]int64, 0, len(pickup))
	for _, line := range pickup {
		lineIDs = append(lineIDs, line.ID)
	}

	s.publish(ctx, models.EventTypeRentalOrderConfirmed, func() error {
		return s.publisher.PublishOrderConfirmed(ctx, &models.RentalOrderConfirmedEvent{
			BaseEvent:     s.newEvent(models.EventTypeRentalOrderConfirmed),
			OrderID:       order.ID,
			PartnerID:     order.PartnerID,
			PickupLineIDs: lineIDs,
			Forced:        forced,
		})
	})
}

// publish runs a publish call after the transaction committed. Failures are
// logged and counted, the write they describe stands.
func (s *RentalService) publish(ctx context.Context, eventType string, send func() error) {
	if s.publisher == nil {
		return
	}
	if err := send(); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(eventType).Inc()
		s.logger.Error("Failed to publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}
