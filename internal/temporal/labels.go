package temporal

import (
	"rental-service/internal/models"

	"github.com/shopspring/decimal"
)

var singularLabels = map[models.Unit]string{
	models.UnitHour:  "Hour",
	models.UnitDay:   "Day",
	models.UnitWeek:  "Week",
	models.UnitMonth: "Month",
	models.UnitYear:  "Year",
}

var unitLabels = map[models.Unit]string{
	models.UnitHour:  "Hours",
	models.UnitDay:   "Days",
	models.UnitWeek:  "Weeks",
	models.UnitMonth: "Months",
	models.UnitYear:  "Years",
}

// UnitLabel returns the display label of unit for the given duration: the
// singular form when the duration is non-zero and at most one at 2 digits,
// the plural unit name otherwise.
func UnitLabel(unit models.Unit, duration decimal.Decimal) string {
	rounded := duration.Round(2)
	if rounded.Cmp(decimal.NewFromInt(1)) <= 0 && !rounded.IsZero() {
		if label, ok := singularLabels[unit]; ok {
			return label
		}
	}
	return unitLabels[unit]
}
