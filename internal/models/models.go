package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit is the time unit of a billing recurrence
type Unit string

const (
	UnitHour  Unit = "hour"
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

// Units lists the supported units from shortest to longest
var Units = []Unit{UnitHour, UnitDay, UnitWeek, UnitMonth, UnitYear}

// Valid reports whether u is one of the supported units
func (u Unit) Valid() bool {
	for _, known := range Units {
		if u == known {
			return true
		}
	}
	return false
}

// Recurrence is a billing period such as "2 weeks"
type Recurrence struct {
	ID       int64           `db:"id" json:"id"`
	Duration decimal.Decimal `db:"duration" json:"duration"`
	Unit     Unit            `db:"unit" json:"unit"`
}

// Pricelist scopes pricing rules to a customer segment and currency
type Pricelist struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Currency string `db:"currency" json:"currency"`
}

// ProductTemplate is the sellable product shared by its variants
type ProductTemplate struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	DefaultCode string          `db:"default_code" json:"default_code"`
	ListPrice   decimal.Decimal `db:"list_price" json:"list_price"`
	ExpansionOf *int64          `db:"expansion_of" json:"expansion_of,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	VariantIDs  []int64         `db:"-" json:"variant_ids"`
	Pieces      []ProductPiece  `db:"-" json:"pieces,omitempty"`
}

// ProductVariant is a concrete variant of a template
type ProductVariant struct {
	ID         int64  `db:"id" json:"id"`
	TemplateID int64  `db:"product_template_id" json:"product_template_id"`
	Name       string `db:"name" json:"name"`
}

// ProductPiece is a valued sub-component of a template, used to price defects
type ProductPiece struct {
	ID         int64           `db:"id" json:"id"`
	TemplateID int64           `db:"product_template_id" json:"product_template_id"`
	Name       string          `db:"name" json:"name"`
	Qty        int             `db:"qty" json:"qty"`
	GroupValue decimal.Decimal `db:"group_value" json:"group_value"`
}

// PricingRule is a temporal price for a template, optionally scoped to a
// pricelist and to a subset of variants
type PricingRule struct {
	ID           int64           `db:"id" json:"id"`
	TemplateID   int64           `db:"product_template_id" json:"product_template_id"`
	PricelistID  *int64          `db:"pricelist_id" json:"pricelist_id,omitempty"`
	RecurrenceID int64           `db:"recurrence_id" json:"recurrence_id"`
	PricePercent decimal.Decimal `db:"price_percent" json:"price_percent"`
	Recurrence   Recurrence      `db:"recurrence" json:"recurrence"`
	VariantIDs   []int64         `db:"-" json:"variant_ids"`
}

// OrderState is the raw sales lifecycle state of an order
type OrderState string

const (
	OrderStateDraft  OrderState = "draft"
	OrderStateSent   OrderState = "sent"
	OrderStateSale   OrderState = "sale"
	OrderStateDone   OrderState = "done"
	OrderStateCancel OrderState = "cancel"
)

// RentalStatus is the next action to perform on a rental order
type RentalStatus string

// Rental statuses. Orders that bypass the state machine carry their raw
// OrderState converted to a RentalStatus.
const (
	RentalStatusDraft    RentalStatus = "draft"
	RentalStatusSent     RentalStatus = "sent"
	RentalStatusPickup   RentalStatus = "pickup"
	RentalStatusReturn   RentalStatus = "return"
	RentalStatusReturned RentalStatus = "returned"
	RentalStatusCancel   RentalStatus = "cancel"
)

// Order is a sales order extended with rental fields. Fields below
// AmountTotal are derived and stored on every recompute.
type Order struct {
	ID                 int64           `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	PartnerID          int64           `db:"partner_id" json:"partner_id"`
	State              OrderState      `db:"state" json:"state"`
	IsRentalOrder      bool            `db:"is_rental_order" json:"is_rental_order"`
	PricelistID        *int64          `db:"pricelist_id" json:"pricelist_id,omitempty"`
	AmountTotal        decimal.Decimal `db:"amount_total" json:"amount_total"`
	RentalStatus       RentalStatus    `db:"rental_status" json:"rental_status"`
	NextActionDate     *time.Time      `db:"next_action_date" json:"next_action_date"`
	HasPickableLines   bool            `db:"has_pickable_lines" json:"has_pickable_lines"`
	HasReturnableLines bool            `db:"has_returnable_lines" json:"has_returnable_lines"`
	Deposit            decimal.Decimal `db:"deposit" json:"deposit"`
	TotalDeposit       decimal.Decimal `db:"total_deposit" json:"total_deposit"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	Lines              []OrderLine     `db:"-" json:"lines"`
}

// OrderLine is a line of an order. ProductCode and ProductName are copied
// from the template when the line is created.
type OrderLine struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	ProductTemplateID int64           `db:"product_template_id" json:"product_template_id"`
	ProductVariantID  int64           `db:"product_variant_id" json:"product_variant_id"`
	ProductCode       string          `db:"product_code" json:"product_code"`
	ProductName       string          `db:"product_name" json:"product_name"`
	IsRental          bool            `db:"is_rental" json:"is_rental"`
	StartDate         *time.Time      `db:"start_date" json:"start_date"`
	ReturnDate        *time.Time      `db:"return_date" json:"return_date"`
	ProductUomQty     decimal.Decimal `db:"product_uom_qty" json:"product_uom_qty"`
	QtyDelivered      decimal.Decimal `db:"qty_delivered" json:"qty_delivered"`
	QtyReturned       decimal.Decimal `db:"qty_returned" json:"qty_returned"`
	Deposit           decimal.Decimal `db:"deposit" json:"deposit"`
	PriceTotal        decimal.Decimal `db:"price_total" json:"price_total"`
	Defects           []Defect        `db:"-" json:"defects,omitempty"`
}

// Defect is a damaged piece registered against an order line
type Defect struct {
	ID          int64           `db:"id" json:"id"`
	OrderLineID int64           `db:"order_line_id" json:"order_line_id"`
	PieceID     int64           `db:"product_piece_id" json:"product_piece_id"`
	Qty         int             `db:"qty" json:"qty"`
	Total       decimal.Decimal `db:"total" json:"total"`
	Processed   bool            `db:"processed" json:"processed"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
