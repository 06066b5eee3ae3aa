package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearfile/taxcore/pkg/taxcore/config"
	"github.com/clearfile/taxcore/pkg/taxcore/internalerr"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// testTable mirrors the AY 2025-26 sample table.
func testTable() *config.RateTable {
	newSlabs := []config.TaxSlab{
		{Min: dec("0"), Max: ptr(dec("300000")), Rate: dec("0")},
		{Min: dec("300000"), Max: ptr(dec("600000")), Rate: dec("0.05")},
		{Min: dec("600000"), Max: ptr(dec("900000")), Rate: dec("0.10")},
		{Min: dec("900000"), Max: ptr(dec("1200000")), Rate: dec("0.15")},
		{Min: dec("1200000"), Max: ptr(dec("1500000")), Rate: dec("0.20")},
		{Min: dec("1500000"), Rate: dec("0.30")},
	}
	oldSlabs := []config.TaxSlab{
		{Min: dec("0"), Max: ptr(dec("250000")), Rate: dec("0")},
		{Min: dec("250000"), Max: ptr(dec("500000")), Rate: dec("0.05")},
		{Min: dec("500000"), Max: ptr(dec("1000000")), Rate: dec("0.20")},
		{Min: dec("1000000"), Rate: dec("0.30")},
	}
	surcharge := config.Surcharge{
		MarginalRelief: true,
		Thresholds: []config.SurchargeRule{
			{Min: dec("5000000"), Max: ptr(dec("10000000")), Rate: dec("0.10")},
			{Min: dec("10000000"), Max: ptr(dec("20000000")), Rate: dec("0.15")},
			{Min: dec("20000000"), Rate: dec("0.25")},
		},
	}

	return &config.RateTable{
		AssessmentYear: "2025-26",
		Regimes: map[string]config.Regime{
			"new": {
				Slabs:             newSlabs,
				Rebate:            config.Rebate87A{EligibleIncomeLimit: dec("700000"), MaxRebate: dec("25000")},
				Surcharge:         surcharge,
				StandardDeduction: dec("50000"),
			},
			"old": {
				Slabs:                    oldSlabs,
				Rebate:                   config.Rebate87A{EligibleIncomeLimit: dec("500000"), MaxRebate: dec("12500")},
				Surcharge:                surcharge,
				StandardDeduction:        dec("50000"),
				SavingsInterestExemption: dec("10000"),
				AllowsDeductions:         true,
			},
		},
		CessRate: dec("0.04"),
		AdvanceTax: config.AdvanceTax{
			MinimumLiability: dec("10000"),
			DueDates: []config.DueDate{
				{Date: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), CumulativePct: dec("0.15")},
				{Date: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), CumulativePct: dec("1")},
			},
		},
		Interest: config.InterestRates{
			Section234A: config.Section234A{RatePerMonth: dec("0.01")},
			Section234B: config.Section234B{Rate: dec("0.03"), ShortfallThreshold: dec("0.9")},
		},
		SeniorExemption: config.SeniorExemption{
			SeniorAge:        60,
			SuperSeniorAge:   80,
			SeniorLimit:      dec("300000"),
			SuperSeniorLimit: dec("500000"),
		},
	}
}

func newEngine(t *testing.T, regime string) *Engine {
	t.Helper()
	e, err := New(testTable(), regime)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func filingDate() time.Time {
	return time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)
}

func TestNewUnknownRegime(t *testing.T) {
	if _, err := New(testTable(), "flat"); err == nil {
		t.Fatal("Expected error for unknown regime")
	} else if !errors.Is(err, internalerr.ErrMissingRateTable) {
		t.Errorf("Expected ErrMissingRateTable, got %v", err)
	}
}

func TestNewNilTable(t *testing.T) {
	if _, err := New(nil, "new"); !errors.Is(err, internalerr.ErrMissingRateTable) {
		t.Fatalf("Expected ErrMissingRateTable, got %v", err)
	}
}

// Income 6,00,000 under the new regime: 15,000 slab tax, fully rebated.
func TestComputeFullRebate(t *testing.T) {
	e := newEngine(t, "new")
	c := e.Compute(Input{TotalIncome: dec("600000"), FilingDate: filingDate()})

	if !c.TaxBeforeRebate.Equal(dec("15000")) {
		t.Errorf("Expected tax before rebate 15000, got %s", c.TaxBeforeRebate)
	}
	if !c.Rebate87A.Equal(dec("15000")) {
		t.Errorf("Expected full rebate 15000, got %s", c.Rebate87A)
	}
	if !c.TotalTaxLiability.IsZero() {
		t.Errorf("Expected zero liability, got %s", c.TotalTaxLiability)
	}
	if !c.TotalPayable.IsZero() {
		t.Errorf("Expected zero payable, got %s", c.TotalPayable)
	}
}

// Income 10,00,000 under the new regime: 60,000 slab tax, no rebate,
// 2,400 cess, 62,400 liability.
func TestComputeMidIncome(t *testing.T) {
	e := newEngine(t, "new")
	c := e.Compute(Input{TotalIncome: dec("1000000"), FilingDate: filingDate()})

	if !c.TaxBeforeRebate.Equal(dec("60000")) {
		t.Errorf("Expected tax before rebate 60000, got %s", c.TaxBeforeRebate)
	}
	if !c.Rebate87A.IsZero() {
		t.Errorf("Expected no rebate, got %s", c.Rebate87A)
	}
	if !c.Cess.Equal(dec("2400")) {
		t.Errorf("Expected cess 2400, got %s", c.Cess)
	}
	if !c.TotalTaxLiability.Equal(dec("62400")) {
		t.Errorf("Expected liability 62400, got %s", c.TotalTaxLiability)
	}
}

func TestSlabBreakdownSumsToTax(t *testing.T) {
	e := newEngine(t, "new")
	for _, income := range []string{"0", "250000", "600000", "1234567", "5100000", "25000000"} {
		c := e.Compute(Input{TotalIncome: dec(income), FilingDate: filingDate()})

		sum := decimal.Zero
		for _, row := range c.SlabWiseTax {
			sum = sum.Add(row.Tax)
		}
		if !sum.Equal(c.TaxBeforeRebate) {
			t.Errorf("income %s: slab rows sum to %s, tax before rebate %s", income, sum, c.TaxBeforeRebate)
		}
	}
}

func TestRebateCliff(t *testing.T) {
	e := newEngine(t, "new")

	at := e.Compute(Input{TotalIncome: dec("700000"), FilingDate: filingDate()})
	if !at.Rebate87A.Equal(dec("25000")) {
		t.Errorf("At the limit expected rebate 25000, got %s", at.Rebate87A)
	}
	if !at.TotalTaxLiability.IsZero() {
		t.Errorf("At the limit expected zero liability, got %s", at.TotalTaxLiability)
	}

	above := e.Compute(Input{TotalIncome: dec("700001"), FilingDate: filingDate()})
	if !above.Rebate87A.IsZero() {
		t.Errorf("One rupee over the limit expected no rebate, got %s", above.Rebate87A)
	}
}

func TestCessIsExactlyFourPercent(t *testing.T) {
	e := newEngine(t, "new")
	for _, income := range []string{"400000", "1234567", "6000000", "12345678"} {
		c := e.Compute(Input{TotalIncome: dec(income), FilingDate: filingDate()})
		want := dec("0.04").Mul(c.TaxAfterRebate.Add(c.Surcharge))
		if !c.Cess.Equal(want) {
			t.Errorf("income %s: cess %s, want exactly %s", income, c.Cess, want)
		}
	}
}

func TestSurchargeMarginalRelief(t *testing.T) {
	e := newEngine(t, "new")
	c := e.Compute(Input{TotalIncome: dec("5100000"), FilingDate: filingDate()})

	if !c.SurchargeBeforeRelief.Equal(dec("123000")) {
		t.Errorf("Expected raw surcharge 123000, got %s", c.SurchargeBeforeRelief)
	}
	if !c.Surcharge.Equal(dec("70000")) {
		t.Errorf("Expected relieved surcharge 70000, got %s", c.Surcharge)
	}
	if !c.MarginalReliefApplied {
		t.Error("Expected marginal relief to be applied")
	}
	// Relief bound: surcharge never exceeds income above the threshold.
	if c.Surcharge.GreaterThan(dec("100000")) {
		t.Errorf("Surcharge %s exceeds income above threshold", c.Surcharge)
	}
}

func TestSurchargeBoundAcrossBrackets(t *testing.T) {
	e := newEngine(t, "new")
	thresholds := map[string]string{
		"5000001":  "5000000",
		"10200000": "10000000",
		"20100000": "20000000",
	}
	for income, threshold := range thresholds {
		c := e.Compute(Input{TotalIncome: dec(income), FilingDate: filingDate()})
		bound := dec(income).Sub(dec(threshold))
		if c.Surcharge.GreaterThan(bound) {
			t.Errorf("income %s: surcharge %s exceeds bound %s", income, c.Surcharge, bound)
		}
	}
}

func TestPayableIdentity(t *testing.T) {
	e := newEngine(t, "new")
	for _, income := range []string{"600000", "1000000", "5100000"} {
		c := e.Compute(Input{
			TotalIncome: dec(income),
			TDSDeducted: dec("10000"),
			FilingDate:  filingDate(),
		})
		if !c.TotalPayable.Equal(c.TotalTaxLiability.Add(c.TotalInterest)) {
			t.Errorf("income %s: payable %s != liability %s + interest %s",
				income, c.TotalPayable, c.TotalTaxLiability, c.TotalInterest)
		}
	}
}

func TestComputeIdempotent(t *testing.T) {
	e := newEngine(t, "new")
	in := Input{
		TotalIncome:    dec("1000000"),
		AdvanceTaxPaid: dec("20000"),
		TDSDeducted:    dec("15000"),
		FilingDate:     filingDate(),
		TaxpayerAge:    45,
	}

	a := e.Compute(in)
	b := e.Compute(in)

	if !a.TotalPayable.Equal(b.TotalPayable) || !a.TotalTaxLiability.Equal(b.TotalTaxLiability) ||
		!a.Cess.Equal(b.Cess) || !a.TotalInterest.Equal(b.TotalInterest) {
		t.Error("Expected identical financial fields across identical calls")
	}
}

func TestNetPositionRefundIsNegative(t *testing.T) {
	e := newEngine(t, "new")
	c := e.Compute(Input{
		TotalIncome: dec("600000"),
		TDSDeducted: dec("30000"),
		FilingDate:  filingDate(),
	})

	net := e.NetPosition(c)
	if !net.Equal(dec("-30000")) {
		t.Errorf("Expected refund of -30000, got %s", net)
	}
}

func TestEffectiveTaxRate(t *testing.T) {
	e := newEngine(t, "new")
	c := e.Compute(Input{TotalIncome: dec("1000000"), FilingDate: filingDate()})

	if got := e.EffectiveTaxRate(c); !got.Equal(dec("0.0624")) {
		t.Errorf("Expected effective rate 0.0624, got %s", got)
	}

	zero := e.Compute(Input{TotalIncome: dec("0"), FilingDate: filingDate()})
	if got := e.EffectiveTaxRate(zero); !got.IsZero() {
		t.Errorf("Expected zero rate on zero income, got %s", got)
	}
}

func TestMarginalTaxRate(t *testing.T) {
	e := newEngine(t, "new")
	cases := map[string]string{
		"100000":  "0",
		"300000":  "0.05",
		"599999":  "0.05",
		"600000":  "0.1",
		"2000000": "0.3",
	}
	for income, want := range cases {
		if got := e.MarginalTaxRate(dec(income)); !got.Equal(dec(want)) {
			t.Errorf("income %s: marginal rate %s, want %s", income, got, want)
		}
	}
}

// The senior exemption limit is computed but income passes through
// unchanged; both halves of that behavior are pinned here.
func TestSeniorExemptionNotApplied(t *testing.T) {
	e := newEngine(t, "old")

	if got := e.seniorExemptionLimit(65); !got.Equal(dec("300000")) {
		t.Errorf("Expected senior limit 300000, got %s", got)
	}
	if got := e.seniorExemptionLimit(85); !got.Equal(dec("500000")) {
		t.Errorf("Expected super senior limit 500000, got %s", got)
	}

	young := e.Compute(Input{TotalIncome: dec("400000"), FilingDate: filingDate()})
	senior := e.Compute(Input{TotalIncome: dec("400000"), TaxpayerAge: 65, FilingDate: filingDate()})
	if !young.TaxBeforeRebate.Equal(senior.TaxBeforeRebate) {
		t.Error("Age is not expected to change the computed tax yet")
	}
}
