// Package engine computes an individual's income-tax liability from
// taxable income under one regime's rate table. It is a pure
// computation: no I/O, no shared state, every derived figure carried in
// the returned Computation for auditability.
package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearfile/taxcore/pkg/taxcore/config"
	"github.com/clearfile/taxcore/pkg/taxcore/internalerr"
)

// Engine computes tax for one (assessment year, regime) pair. Cheap to
// construct, stateless after construction, safe to discard per request.
type Engine struct {
	table      *config.RateTable
	regime     config.Regime
	regimeName string
	yearStart  time.Time
}

// New binds an engine to one regime of a loaded rate table. A missing
// table or an unknown regime is a fatal construction error and is never
// retried.
func New(table *config.RateTable, regime string) (*Engine, error) {
	if table == nil {
		return nil, internalerr.ErrMissingRateTable
	}
	r, ok := table.Regimes[regime]
	if !ok {
		return nil, fmt.Errorf("%w: regime %q not in table for %s", internalerr.ErrMissingRateTable, regime, table.AssessmentYear)
	}
	start, err := assessmentYearStart(table.AssessmentYear)
	if err != nil {
		return nil, err
	}
	return &Engine{table: table, regime: r, regimeName: regime, yearStart: start}, nil
}

// assessmentYearStart parses "2025-26" into April 1, 2025.
func assessmentYearStart(ay string) (time.Time, error) {
	if len(ay) < 4 {
		return time.Time{}, fmt.Errorf("%w: bad assessment year %q", internalerr.ErrInvalidConfig, ay)
	}
	year, err := strconv.Atoi(ay[:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad assessment year %q", internalerr.ErrInvalidConfig, ay)
	}
	return time.Date(year, time.April, 1, 0, 0, 0, 0, time.UTC), nil
}

// Input is everything Compute needs for one return.
type Input struct {
	TotalIncome    decimal.Decimal // taxable income after deductions
	AdvanceTaxPaid decimal.Decimal
	TDSDeducted    decimal.Decimal
	FilingDate     time.Time
	TaxpayerAge    int
}

// SlabTax is one row of the slab-wise audit breakdown.
type SlabTax struct {
	From          decimal.Decimal
	To            decimal.Decimal
	Rate          decimal.Decimal
	TaxableAmount decimal.Decimal
	Tax           decimal.Decimal
	Description   string
}

// Computation holds every input and every derived figure for one
// liability calculation. Immutable once returned.
type Computation struct {
	AssessmentYear string
	Regime         string

	TotalIncome    decimal.Decimal
	TaxableIncome  decimal.Decimal
	AdvanceTaxPaid decimal.Decimal
	TDSDeducted    decimal.Decimal
	FilingDate     time.Time
	TaxpayerAge    int

	SlabWiseTax     []SlabTax
	TaxBeforeRebate decimal.Decimal

	Rebate87A      decimal.Decimal
	TaxAfterRebate decimal.Decimal

	SurchargeBeforeRelief decimal.Decimal
	Surcharge             decimal.Decimal
	MarginalReliefApplied bool

	Cess              decimal.Decimal
	TotalTaxLiability decimal.Decimal

	Interest      []InterestCalculation
	TotalInterest decimal.Decimal
	TotalPayable  decimal.Decimal
}

// Compute runs the full liability calculation: slab tax, the 87A rebate
// cliff, surcharge with marginal relief, 4% cess, and late-payment
// interest. All arithmetic is decimal; intermediate figures are never
// rounded, so the breakdown identities hold exactly.
func (e *Engine) Compute(in Input) Computation {
	c := Computation{
		AssessmentYear: e.table.AssessmentYear,
		Regime:         e.regimeName,
		TotalIncome:    in.TotalIncome,
		AdvanceTaxPaid: in.AdvanceTaxPaid,
		TDSDeducted:    in.TDSDeducted,
		FilingDate:     in.FilingDate,
		TaxpayerAge:    in.TaxpayerAge,
	}

	c.TaxableIncome = e.adjustedTaxableIncome(in.TotalIncome, in.TaxpayerAge)

	c.SlabWiseTax, c.TaxBeforeRebate = e.slabTax(c.TaxableIncome)

	c.Rebate87A = e.rebate(c.TaxableIncome, c.TaxBeforeRebate)
	c.TaxAfterRebate = c.TaxBeforeRebate.Sub(c.Rebate87A)

	c.SurchargeBeforeRelief, c.Surcharge, c.MarginalReliefApplied = e.surcharge(c.TaxableIncome, c.TaxAfterRebate)

	c.Cess = e.table.CessRate.Mul(c.TaxAfterRebate.Add(c.Surcharge))
	c.TotalTaxLiability = c.TaxAfterRebate.Add(c.Surcharge).Add(c.Cess)

	c.Interest = e.interest(c.TotalTaxLiability, in)
	for _, row := range c.Interest {
		c.TotalInterest = c.TotalInterest.Add(row.Amount)
	}
	c.TotalPayable = c.TotalTaxLiability.Add(c.TotalInterest)

	return c
}

// adjustedTaxableIncome computes the age-adjusted basic exemption and
// returns income unchanged, preserving the behavior of the system this
// replaces.
// TODO(rates): seniorExemptionLimit is computed but never applied;
// confirm with product whether that is intended before wiring it in.
func (e *Engine) adjustedTaxableIncome(income decimal.Decimal, age int) decimal.Decimal {
	_ = e.seniorExemptionLimit(age)
	return income
}

// seniorExemptionLimit returns the basic-exemption limit adjusted for
// senior (60+) and super-senior (80+) taxpayers.
func (e *Engine) seniorExemptionLimit(age int) decimal.Decimal {
	se := e.table.SeniorExemption
	if se.SuperSeniorAge > 0 && age >= se.SuperSeniorAge {
		return se.SuperSeniorLimit
	}
	if se.SeniorAge > 0 && age >= se.SeniorAge {
		return se.SeniorLimit
	}
	if len(e.regime.Slabs) > 0 && e.regime.Slabs[0].Max != nil {
		return *e.regime.Slabs[0].Max
	}
	return decimal.Zero
}

// slabTax walks the regime's ordered, non-overlapping slabs and taxes
// the portion of income falling inside each. The returned rows cover
// every slab the income overlaps, zero-rate slabs included, and their
// amounts sum exactly to the returned total.
func (e *Engine) slabTax(income decimal.Decimal) ([]SlabTax, decimal.Decimal) {
	var rows []SlabTax
	total := decimal.Zero

	for _, slab := range e.regime.Slabs {
		if income.LessThanOrEqual(slab.Min) {
			break
		}
		upper := income
		if slab.Max != nil && slab.Max.LessThan(income) {
			upper = *slab.Max
		}
		amount := upper.Sub(slab.Min)
		if amount.Sign() <= 0 {
			continue
		}
		tax := amount.Mul(slab.Rate)
		rows = append(rows, SlabTax{
			From:          slab.Min,
			To:            upper,
			Rate:          slab.Rate,
			TaxableAmount: amount,
			Tax:           tax,
			Description:   slab.Description,
		})
		total = total.Add(tax)
	}

	return rows, total
}

// rebate applies the section 87A cliff: full rebate up to the cap when
// income is at or below the eligibility limit, nothing above it. There
// is no phase-out.
func (e *Engine) rebate(income, taxBeforeRebate decimal.Decimal) decimal.Decimal {
	limit := e.regime.Rebate.EligibleIncomeLimit
	if limit.IsZero() || income.GreaterThan(limit) {
		return decimal.Zero
	}
	if taxBeforeRebate.LessThan(e.regime.Rebate.MaxRebate) {
		return taxBeforeRebate
	}
	return e.regime.Rebate.MaxRebate
}

// surcharge locates the single bracket containing income and applies
// its rate to the post-rebate tax. With marginal relief enabled the
// surcharge is capped so tax plus surcharge never exceeds what a
// taxpayer at the bracket threshold would owe plus the income above the
// threshold.
func (e *Engine) surcharge(income, taxAfterRebate decimal.Decimal) (before, after decimal.Decimal, reliefApplied bool) {
	bracket, ok := e.surchargeBracket(income)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}

	before = taxAfterRebate.Mul(bracket.Rate)
	after = before

	if e.regime.Surcharge.MarginalRelief {
		atThreshold := e.taxAfterRebateAt(bracket.Min)
		cap := atThreshold.Add(income.Sub(bracket.Min))
		if taxAfterRebate.Add(after).GreaterThan(cap) {
			after = cap.Sub(taxAfterRebate)
			if after.Sign() < 0 {
				after = decimal.Zero
			}
			reliefApplied = true
		}
	}

	return before, after, reliefApplied
}

// surchargeBracket returns the bracket strictly containing income.
// Income exactly at a threshold belongs to the bracket below it.
func (e *Engine) surchargeBracket(income decimal.Decimal) (config.SurchargeRule, bool) {
	for _, rule := range e.regime.Surcharge.Thresholds {
		if income.GreaterThan(rule.Min) && (rule.Max == nil || income.LessThanOrEqual(*rule.Max)) {
			return rule, true
		}
	}
	return config.SurchargeRule{}, false
}

// taxAfterRebateAt computes the post-rebate slab tax a taxpayer at the
// given income would owe, before surcharge. Marginal relief compares
// against this value, so a bracket can never raise tax by more than
// the income above its threshold.
func (e *Engine) taxAfterRebateAt(income decimal.Decimal) decimal.Decimal {
	_, tax := e.slabTax(income)
	return tax.Sub(e.rebate(income, tax))
}

// NetPosition derives the refund or balance payable: total payable
// minus prepaid taxes. A negative result is the refund; it is not
// clamped.
func (e *Engine) NetPosition(c Computation) decimal.Decimal {
	return c.TotalPayable.Sub(c.AdvanceTaxPaid).Sub(c.TDSDeducted)
}

// EffectiveTaxRate is total liability over taxable income, to 4 places.
// Zero income yields a zero rate.
func (e *Engine) EffectiveTaxRate(c Computation) decimal.Decimal {
	if c.TaxableIncome.Sign() <= 0 {
		return decimal.Zero
	}
	return c.TotalTaxLiability.DivRound(c.TaxableIncome, 4)
}

// MarginalTaxRate is the slab rate applying to the next rupee of the
// given income.
func (e *Engine) MarginalTaxRate(income decimal.Decimal) decimal.Decimal {
	for _, slab := range e.regime.Slabs {
		if slab.Max == nil || income.LessThan(*slab.Max) {
			if income.GreaterThanOrEqual(slab.Min) {
				return slab.Rate
			}
		}
	}
	return decimal.Zero
}
