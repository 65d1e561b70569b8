package temporal

import (
	"errors"
	"fmt"
	"time"

	"rental-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrUnknownUnit is returned when a duration is expressed in an unsupported unit
var ErrUnknownUnit = errors.New("unknown duration unit")

// periodRatio gives the hour equivalent of each unit. Every month counts as
// 31 days; pricing tiers are far enough apart for that to never matter.
var periodRatio = map[models.Unit]int64{
	models.UnitHour:  1,
	models.UnitDay:   24,
	models.UnitWeek:  24 * 7,
	models.UnitMonth: 24 * 31,
	models.UnitYear:  24 * 31 * 12,
}

var (
	hoursPerDay = decimal.NewFromInt(24)
	daysPerWeek = decimal.NewFromInt(7)
	monthsPerYr = decimal.NewFromInt(12)
)

// HourRatio returns the number of hours in one unit
func HourRatio(unit models.Unit) (int64, error) {
	ratio, ok := periodRatio[unit]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	return ratio, nil
}

// ToHours converts a duration in unit into hours
func ToHours(duration decimal.Decimal, unit models.Unit) (decimal.Decimal, error) {
	ratio, err := HourRatio(unit)
	if err != nil {
		return decimal.Zero, err
	}
	return duration.Mul(decimal.NewFromInt(ratio)), nil
}

// BillingMultiplier returns how many rule periods a requested duration bills
// for, always rounded up. A non-positive requested or rule duration yields 1
// so the caller charges the flat rule price.
func BillingMultiplier(duration decimal.Decimal, unit models.Unit, ruleDuration decimal.Decimal, ruleUnit models.Unit) (int64, error) {
	if duration.Sign() <= 0 || ruleDuration.Sign() <= 0 {
		return 1, nil
	}

	if unit == ruleUnit {
		if !unit.Valid() {
			return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
		}
		return duration.Div(ruleDuration).Ceil().IntPart(), nil
	}

	requested, err := ToHours(duration, unit)
	if err != nil {
		return 0, err
	}
	period, err := ToHours(ruleDuration, ruleUnit)
	if err != nil {
		return 0, err
	}
	return requested.Div(period).Ceil().IntPart(), nil
}

// Durations maps each unit to the length of a span in that unit
type Durations map[models.Unit]decimal.Decimal

// SpanToAllUnits measures the span [start, end] in every unit.
//
// Hours, days and weeks follow elapsed time (days and weeks rounded up).
// Months and years follow calendar boundaries: any remainder of at least a
// minute past the last whole month counts as one more month, and the year
// value is the month count divided by 12, unrounded. An end before start
// yields zero everywhere.
func SpanToAllUnits(start, end time.Time) Durations {
	vals := Durations{}
	if end.Before(start) {
		for _, u := range models.Units {
			vals[u] = decimal.Zero
		}
		return vals
	}

	seconds := int64(end.Sub(start) / time.Second)
	hours := decimal.NewFromInt(seconds).Div(decimal.NewFromInt(3600))
	vals[models.UnitHour] = hours
	vals[models.UnitDay] = hours.Div(hoursPerDay).Ceil()
	vals[models.UnitWeek] = vals[models.UnitDay].Div(daysPerWeek).Ceil()

	months, remainder := monthsBetween(start, end)
	if remainder >= time.Minute {
		months++
	}
	vals[models.UnitMonth] = decimal.NewFromInt(int64(months))
	vals[models.UnitYear] = vals[models.UnitMonth].Div(monthsPerYr)
	return vals
}

// monthsBetween returns the whole calendar months from start to end and what
// is left over. end must not be before start.
func monthsBetween(start, end time.Time) (int, time.Duration) {
	end = end.In(start.Location())
	months := (end.Year()-start.Year())*12 + int(end.Month()-start.Month())
	for months > 0 && addMonths(start, months).After(end) {
		months--
	}
	return months, end.Sub(addMonths(start, months))
}

// addMonths adds n months, clamping the day to the end of the target month
// (Jan 31 + 1 month is Feb 28 or 29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
