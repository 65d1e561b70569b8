package rental

import (
	"fmt"

	"rental-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Deposit is the order level deposit and grand total
type Deposit struct {
	Deposit      decimal.Decimal
	TotalDeposit decimal.Decimal
}

// ComputeDeposit nets line deposits against defect charges. The rental fee
// line counts negatively by its total price, as that money is charged rather
// than held.
func (e *Engine) ComputeDeposit(order *models.Order) Deposit {
	deposit := decimal.Zero
	for _, line := range order.Lines {
		if line.ProductCode == e.rentalProductCode {
			deposit = deposit.Sub(line.PriceTotal)
			continue
		}
		defects := decimal.Zero
		for _, defect := range line.Defects {
			defects = defects.Add(defect.Total)
		}
		deposit = deposit.Add(line.Deposit.Sub(defects))
	}
	return Deposit{
		Deposit:      deposit,
		TotalDeposit: order.AmountTotal.Add(deposit),
	}
}

// PieceValue is the value of a single piece: its share of the template list
// price divided by the number of such pieces. Zero when the piece quantity
// or the list price is not positive.
func PieceValue(piece models.ProductPiece, listPrice decimal.Decimal) decimal.Decimal {
	if listPrice.Sign() <= 0 || piece.Qty <= 0 {
		return decimal.Zero
	}
	return piece.GroupValue.Div(hundred).Mul(listPrice).Div(decimal.NewFromInt(int64(piece.Qty)))
}

// DefectTotal is the charge for qty damaged pieces, rounded to cents
func DefectTotal(qty int, pieceValue decimal.Decimal) decimal.Decimal {
	return pieceValue.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// DefectName renders a defect as "2 wheel(s) - $15.00"
func DefectName(defect models.Defect, piece models.ProductPiece) string {
	return fmt.Sprintf("%d %s(s) - $%s", defect.Qty, piece.Name, defect.Total.StringFixed(2))
}
