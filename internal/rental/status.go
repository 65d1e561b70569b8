package rental

import (
	"time"

	"rental-service/internal/models"

	"github.com/shopspring/decimal"
)

// Engine derives the rental fields of an order from its lines. It holds no
// state besides its settings and is safe to share.
type Engine struct {
	precision         int32
	rentalProductCode string
}

// NewEngine creates an engine comparing quantities at precisionDigits
// decimals. Lines whose product code equals rentalProductCode are the rental
// fee lines of an order.
func NewEngine(precisionDigits int32, rentalProductCode string) *Engine {
	return &Engine{
		precision:         precisionDigits,
		rentalProductCode: rentalProductCode,
	}
}

// Precision returns the number of decimals quantities are compared at
func (e *Engine) Precision() int32 {
	return e.precision
}

// CompareQty compares a and b after rounding their difference to the
// engine precision: -1 if a < b, 0 if equal, 1 if a > b
func (e *Engine) CompareQty(a, b decimal.Decimal) int {
	return a.Sub(b).Round(e.precision).Sign()
}

// Status is the derived rental state of an order
type Status struct {
	RentalStatus       models.RentalStatus
	NextActionDate     *time.Time
	HasPickableLines   bool
	HasReturnableLines bool
}

// ComputeStatus derives the rental status of order. Orders that are not
// rental orders, or not confirmed, mirror their lifecycle state.
func (e *Engine) ComputeStatus(order *models.Order) Status {
	if !order.IsRentalOrder || (order.State != models.OrderStateSale && order.State != models.OrderStateDone) {
		return Status{RentalStatus: models.RentalStatus(order.State)}
	}

	var pickable, returnable []models.OrderLine
	for _, line := range order.Lines {
		if !line.IsRental || line.StartDate == nil || line.ReturnDate == nil {
			continue
		}
		if e.CompareQty(line.QtyDelivered, line.ProductUomQty) < 0 {
			pickable = append(pickable, line)
		}
		if e.CompareQty(line.QtyReturned, line.QtyDelivered) < 0 {
			returnable = append(returnable, line)
		}
	}

	status := Status{
		HasPickableLines:   len(pickable) > 0,
		HasReturnableLines: len(returnable) > 0,
	}

	minPickup := earliest(pickable, func(l models.OrderLine) time.Time { return *l.StartDate })
	minReturn := earliest(returnable, func(l models.OrderLine) time.Time { return *l.ReturnDate })

	switch {
	// nothing can come back before it left, so pickup wins a tie
	case minPickup != nil && (minReturn == nil || !minPickup.After(*minReturn)):
		status.RentalStatus = models.RentalStatusPickup
		status.NextActionDate = minPickup
	case minReturn != nil:
		status.RentalStatus = models.RentalStatusReturn
		status.NextActionDate = minReturn
	default:
		status.RentalStatus = models.RentalStatusReturned
	}
	return status
}

func earliest(lines []models.OrderLine, date func(models.OrderLine) time.Time) *time.Time {
	var min *time.Time
	for _, line := range lines {
		d := date(line)
		if min == nil || d.Before(*min) {
			min = &d
		}
	}
	return min
}

// HasLateLines reports whether the order's next pickup or return is overdue
// at now. It depends on the clock and is never stored.
func HasLateLines(order *models.Order, now time.Time) bool {
	if !order.IsRentalOrder {
		return false
	}
	if order.RentalStatus != models.RentalStatusPickup && order.RentalStatus != models.RentalStatusReturn {
		return false
	}
	return order.NextActionDate != nil && order.NextActionDate.Before(now)
}

// PickableLines returns the lines a pickup can be validated on right now
func (e *Engine) PickableLines(order *models.Order) []models.OrderLine {
	return e.actionLines(order, func(l models.OrderLine) bool {
		return e.CompareQty(l.ProductUomQty, l.QtyDelivered) > 0
	})
}

// ReturnableLines returns the lines a return can be validated on right now
func (e *Engine) ReturnableLines(order *models.Order) []models.OrderLine {
	return e.actionLines(order, func(l models.OrderLine) bool {
		return e.CompareQty(l.QtyDelivered, l.QtyReturned) > 0
	})
}

func (e *Engine) actionLines(order *models.Order, eligible func(models.OrderLine) bool) []models.OrderLine {
	if order.State != models.OrderStateSale && order.State != models.OrderStateDone {
		return nil
	}
	var lines []models.OrderLine
	for _, line := range order.Lines {
		if line.IsRental && eligible(line) {
			lines = append(lines, line)
		}
	}
	return lines
}

// Recompute derives every stored rental field of order from its state and
// lines and writes them back. It returns the status the order had before.
func (e *Engine) Recompute(order *models.Order) models.RentalStatus {
	previous := order.RentalStatus

	status := e.ComputeStatus(order)
	order.RentalStatus = status.RentalStatus
	order.NextActionDate = status.NextActionDate
	order.HasPickableLines = status.HasPickableLines
	order.HasReturnableLines = status.HasReturnableLines

	deposit := e.ComputeDeposit(order)
	order.Deposit = deposit.Deposit
	order.TotalDeposit = deposit.TotalDeposit

	return previous
}
