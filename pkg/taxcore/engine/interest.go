package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InterestCalculation is one per-section interest row.
type InterestCalculation struct {
	Section      string
	Principal    decimal.Decimal
	RatePerMonth decimal.Decimal
	Months       int
	Amount       decimal.Decimal
	Description  string
}

// interest computes the late-payment interest rows for one return.
func (e *Engine) interest(liability decimal.Decimal, in Input) []InterestCalculation {
	var rows []InterestCalculation

	prepaid := in.AdvanceTaxPaid.Add(in.TDSDeducted)
	netPayable := liability.Sub(prepaid)

	if row, ok := e.interest234A(liability, netPayable, in.FilingDate); ok {
		rows = append(rows, row)
	}
	if row, ok := e.interest234B(liability, prepaid); ok {
		rows = append(rows, row)
	}
	rows = append(rows, e.interest234C())

	return rows
}

// interest234A prorates simple interest on the net payable by whole or
// part months from the assessment year's April 1 to the filing date.
// It applies only when something is actually payable and the liability
// clears the advance-tax minimum.
func (e *Engine) interest234A(liability, netPayable decimal.Decimal, filed time.Time) (InterestCalculation, bool) {
	if netPayable.Sign() <= 0 {
		return InterestCalculation{}, false
	}
	if liability.LessThan(e.table.AdvanceTax.MinimumLiability) {
		return InterestCalculation{}, false
	}
	months := wholeOrPartMonths(e.yearStart, filed)
	if months == 0 {
		return InterestCalculation{}, false
	}

	rate := e.table.Interest.Section234A.RatePerMonth
	amount := netPayable.Mul(rate).Mul(decimal.NewFromInt(int64(months)))
	return InterestCalculation{
		Section:      "234A",
		Principal:    netPayable,
		RatePerMonth: rate,
		Months:       months,
		Amount:       amount,
		Description:  fmt.Sprintf("Late filing interest for %d month(s) from %s", months, e.yearStart.Format("02-Jan-2006")),
	}, true
}

// interest234B charges a flat penalty on the shortfall against the
// required prepayment fraction (90% of assessed liability by default).
func (e *Engine) interest234B(liability, prepaid decimal.Decimal) (InterestCalculation, bool) {
	if liability.LessThan(e.table.AdvanceTax.MinimumLiability) {
		return InterestCalculation{}, false
	}
	required := liability.Mul(e.table.Interest.Section234B.ShortfallThreshold)
	shortfall := required.Sub(prepaid)
	if shortfall.Sign() <= 0 {
		return InterestCalculation{}, false
	}

	rate := e.table.Interest.Section234B.Rate
	return InterestCalculation{
		Section:      "234B",
		Principal:    shortfall,
		RatePerMonth: rate,
		Months:       1,
		Amount:       shortfall.Mul(rate),
		Description:  "Advance tax shortfall against required prepayment",
	}, true
}

// interest234C records the installment schedule but computes no
// interest.
// TODO(234C): the due-date schedule loads from the rate table but
// installment-wise interest was never computed; awaiting product
// confirmation before completing it.
func (e *Engine) interest234C() InterestCalculation {
	return InterestCalculation{
		Section:     "234C",
		Amount:      decimal.Zero,
		Description: fmt.Sprintf("Installment interest not computed (%d due dates on file)", len(e.table.AdvanceTax.DueDates)),
	}
}

// wholeOrPartMonths counts months from start to end where any part of a
// month counts as a whole month. Zero when end is not after start.
func wholeOrPartMonths(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() > start.Day() {
		months++
	}
	if months < 1 {
		months = 1
	}
	return months
}
