package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeRentalOrderConfirmed = "RENTAL_ORDER_CONFIRMED"
	EventTypeRentalStatusChanged  = "RENTAL_STATUS_CHANGED"
	EventTypeDefectRegistered     = "RENTAL_DEFECT_REGISTERED"
	EventTypeRentalOrderLate      = "RENTAL_ORDER_LATE"
	EventTypePickupDone           = "RENTAL_PICKUP_DONE"
	EventTypeReturnDone           = "RENTAL_RETURN_DONE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RentalOrderConfirmedEvent published when a rental order is confirmed
type RentalOrderConfirmedEvent struct {
	BaseEvent
	OrderID       int64   `json:"order_id"`
	PartnerID     int64   `json:"partner_id"`
	PickupLineIDs []int64 `json:"pickup_line_ids"`
	Forced        bool    `json:"forced"`
}

// RentalStatusChangedEvent published when a recompute changes the rental status
type RentalStatusChangedEvent struct {
	BaseEvent
	OrderID        int64        `json:"order_id"`
	From           RentalStatus `json:"from"`
	To             RentalStatus `json:"to"`
	NextActionDate *time.Time   `json:"next_action_date"`
}

// DefectRegisteredEvent published when a defect is registered on a line
type DefectRegisteredEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderLineID int64           `json:"order_line_id"`
	DefectID    int64           `json:"defect_id"`
	PieceID     int64           `json:"product_piece_id"`
	Qty         int             `json:"qty"`
	Total       decimal.Decimal `json:"total"`
}

// RentalOrderLateEvent published by the late sweep
type RentalOrderLateEvent struct {
	BaseEvent
	OrderID        int64        `json:"order_id"`
	Status         RentalStatus `json:"status"`
	NextActionDate time.Time    `json:"next_action_date"`
}

// StockMoveEvent is published by the warehouse when goods leave or come back
type StockMoveEvent struct {
	BaseEvent
	OrderID int64          `json:"order_id"`
	Lines   []LineQuantity `json:"lines"`
}

// LineQuantity is a quantity picked up or returned on one order line
type LineQuantity struct {
	LineID int64           `json:"line_id" binding:"required"`
	Qty    decimal.Decimal `json:"qty"`
}
