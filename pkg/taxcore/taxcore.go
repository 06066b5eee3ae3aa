// Package taxcore orchestrates the full return computation: reconcile
// parsed artifacts, aggregate income by head, compute the liability,
// and cross-check the result against the year's business rules.
package taxcore

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/clearfile/taxcore/pkg/taxcore/config"
	"github.com/clearfile/taxcore/pkg/taxcore/engine"
	"github.com/clearfile/taxcore/pkg/taxcore/internalerr"
	"github.com/clearfile/taxcore/pkg/taxcore/reconcile"
	"github.com/clearfile/taxcore/pkg/taxcore/rules"
)

// Options configures a Calculator instance
type Options struct {
	RateTable *config.RateTable
	RuleSet   *rules.RuleSet
}

// Calculator is the orchestrator for one assessment year's pipeline.
// Instances are cheap; allocate one per request — the rules engine it
// creates per run keeps an audit log that must not be shared.
type Calculator struct {
	table   *config.RateTable
	ruleSet *rules.RuleSet
	data    *reconcile.DataReconciler
	paid    *reconcile.TaxesPaidReconciler
	entropy *ulid.MonotonicEntropy
}

// New creates a Calculator with the given loaded configuration.
func New(opts Options) (*Calculator, error) {
	if opts.RateTable == nil {
		return nil, internalerr.ErrMissingRateTable
	}
	if opts.RuleSet == nil {
		return nil, fmt.Errorf("%w: no rule set", internalerr.ErrInvalidConfig)
	}
	return &Calculator{
		table:   opts.RateTable,
		ruleSet: opts.RuleSet,
		data:    reconcile.NewDataReconciler(),
		paid:    reconcile.NewTaxesPaidReconciler(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Request is one return to compute.
type Request struct {
	Regime      string
	Artifacts   map[string]reconcile.Artifact
	FilingDate  time.Time
	TaxpayerAge int
}

// IncomeHeads is the head-wise income split feeding gross total income.
type IncomeHeads struct {
	Salary        decimal.Decimal
	HouseProperty decimal.Decimal
	CapitalGains  decimal.Decimal
	OtherSources  decimal.Decimal
}

// ComputationResult aggregates everything one return produced: the
// reconciled data, the liability breakdown, and the rule audit.
// Created fresh per run, never mutated.
type ComputationResult struct {
	ID             string
	AssessmentYear string
	Regime         string

	Reconciliation reconcile.Result
	TaxesPaid      reconcile.TaxesPaidResult

	Heads            IncomeHeads
	GrossTotalIncome decimal.Decimal
	TotalDeductions  decimal.Decimal
	TaxableIncome    decimal.Decimal

	Computation engine.Computation
	NetPosition decimal.Decimal

	RuleResults []rules.Result
	RuleSummary rules.SummaryReport

	Warnings   []string
	ComputedAt time.Time
}

// ComputeReturn runs the full pipeline for one request. Rule failures
// and data discrepancies annotate the result; they never abort it. The
// only errors are construction-class ones (unknown regime).
func (c *Calculator) ComputeReturn(req Request) (*ComputationResult, error) {
	taxEngine, err := engine.New(c.table, req.Regime)
	if err != nil {
		return nil, err
	}
	regime := c.table.Regimes[req.Regime]

	res := &ComputationResult{
		ID:             ulid.MustNew(ulid.Now(), c.entropy).String(),
		AssessmentYear: c.table.AssessmentYear,
		Regime:         req.Regime,
		ComputedAt:     time.Now().UTC(),
	}

	res.Reconciliation = c.data.Reconcile(req.Artifacts)
	res.TaxesPaid = c.paid.Reconcile(req.Artifacts)
	res.Warnings = append(res.Warnings, res.Reconciliation.Warnings...)
	res.Warnings = append(res.Warnings, res.TaxesPaid.Warnings...)

	c.aggregateIncome(res, regime)

	tds := res.TaxesPaid.TotalTDS
	if tds.IsZero() {
		tds = res.Reconciliation.Data.TDS
	}
	res.Computation = taxEngine.Compute(engine.Input{
		TotalIncome:    res.TaxableIncome,
		AdvanceTaxPaid: res.TaxesPaid.TotalAdvanceTax,
		TDSDeducted:    tds,
		FilingDate:     req.FilingDate,
		TaxpayerAge:    req.TaxpayerAge,
	})
	res.NetPosition = taxEngine.NetPosition(res.Computation)

	c.runRules(res)

	return res, nil
}

// aggregateIncome builds gross total income from the four heads and
// applies regime policy to deductions.
func (c *Calculator) aggregateIncome(res *ComputationResult, regime config.Regime) {
	data := res.Reconciliation.Data

	salary := data.GrossSalary.Sub(regime.StandardDeduction)
	if salary.Sign() < 0 {
		salary = decimal.Zero
	}

	// House property has no dedicated reconciliation path yet and
	// contributes nothing.
	houseProperty := decimal.Zero

	otherSources := data.InterestIncome
	if !regime.SavingsInterestExemption.IsZero() {
		exempt := regime.SavingsInterestExemption
		if data.InterestIncome.LessThan(exempt) {
			exempt = data.InterestIncome
		}
		otherSources = otherSources.Sub(exempt)
	}

	res.Heads = IncomeHeads{
		Salary:        salary,
		HouseProperty: houseProperty,
		CapitalGains:  data.CapitalGains,
		OtherSources:  otherSources,
	}
	res.GrossTotalIncome = salary.Add(houseProperty).Add(data.CapitalGains).Add(otherSources)

	// New regime forces all section deductions to zero; the old regime
	// passes the reconciled amounts through.
	if regime.AllowsDeductions {
		for _, amount := range data.Deductions {
			res.TotalDeductions = res.TotalDeductions.Add(amount)
		}
	}

	res.TaxableIncome = res.GrossTotalIncome.Sub(res.TotalDeductions)
	if res.TaxableIncome.Sign() < 0 {
		res.TaxableIncome = decimal.Zero
	}
}

// runRules flattens the computed figures into the rule context, runs
// every loaded rule on a request-scoped engine, and folds
// error-severity failures into the result's warnings.
func (c *Calculator) runRules(res *ComputationResult) {
	ruleEngine := rules.NewEngine(c.ruleSet)
	ctx := c.flatten(res)

	res.RuleResults = ruleEngine.EvaluateAll(ctx)
	res.RuleSummary = ruleEngine.Summary()

	for _, r := range res.RuleResults {
		if !r.Passed && r.Severity == rules.SeverityError {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rule %s failed: %s", r.RuleCode, r.Message))
		}
	}
}

// flatten is the one adapter between the typed pipeline structs and the
// rules engine's flat variable namespace.
func (c *Calculator) flatten(res *ComputationResult) rules.Context {
	comp := res.Computation
	data := res.Reconciliation.Data

	ctx := rules.Context{
		"gross_total_income":  rules.NumberValue(res.GrossTotalIncome),
		"total_deductions":    rules.NumberValue(res.TotalDeductions),
		"taxable_income":      rules.NumberValue(res.TaxableIncome),
		"salary_income":       rules.NumberValue(res.Heads.Salary),
		"house_property":      rules.NumberValue(res.Heads.HouseProperty),
		"capital_gains":       rules.NumberValue(res.Heads.CapitalGains),
		"other_sources":       rules.NumberValue(res.Heads.OtherSources),
		"gross_salary":        rules.NumberValue(data.GrossSalary),
		"interest_income":     rules.NumberValue(data.InterestIncome),
		"tax_before_rebate":   rules.NumberValue(comp.TaxBeforeRebate),
		"rebate_87a":          rules.NumberValue(comp.Rebate87A),
		"tax_after_rebate":    rules.NumberValue(comp.TaxAfterRebate),
		"surcharge":           rules.NumberValue(comp.Surcharge),
		"cess":                rules.NumberValue(comp.Cess),
		"total_tax_liability": rules.NumberValue(comp.TotalTaxLiability),
		"total_interest":      rules.NumberValue(comp.TotalInterest),
		"total_payable":       rules.NumberValue(comp.TotalPayable),
		"advance_tax_paid":    rules.NumberValue(comp.AdvanceTaxPaid),
		"tds_deducted":        rules.NumberValue(comp.TDSDeducted),
		"net_position":        rules.NumberValue(res.NetPosition),
		"confidence_score":    rules.NumberValue(res.Reconciliation.ConfidenceScore),
		"new_regime":          rules.BoolValue(res.Regime == "new"),
	}

	for section, amount := range data.Deductions {
		key := "deduction_" + strings.ToLower(section)
		ctx[key] = rules.NumberValue(amount)
	}

	return ctx
}
