package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/clearfile/taxcore/pkg/taxcore/internalerr"
)

// TaxSlab is one row of a regime's progressive slab table. Max is nil
// for the open-ended top slab.
type TaxSlab struct {
	Min         decimal.Decimal
	Max         *decimal.Decimal
	Rate        decimal.Decimal
	Description string
}

// SurchargeRule is one surcharge bracket. Max is nil for the top bracket.
type SurchargeRule struct {
	Min  decimal.Decimal
	Max  *decimal.Decimal
	Rate decimal.Decimal
}

// Rebate87A describes the section 87A rebate cliff.
type Rebate87A struct {
	EligibleIncomeLimit decimal.Decimal
	MaxRebate           decimal.Decimal
}

// Surcharge holds a regime's surcharge brackets and whether marginal
// relief caps them.
type Surcharge struct {
	MarginalRelief bool
	Thresholds     []SurchargeRule
}

// Regime is one tax regime's full rate configuration for an assessment year.
type Regime struct {
	Slabs                    []TaxSlab
	Rebate                   Rebate87A
	Surcharge                Surcharge
	StandardDeduction        decimal.Decimal
	SavingsInterestExemption decimal.Decimal
	AllowsDeductions         bool
}

// DueDate is one advance-tax installment due date with its cumulative
// payable percentage.
type DueDate struct {
	Date          time.Time
	CumulativePct decimal.Decimal
}

// AdvanceTax holds the advance-tax schedule and the minimum liability
// below which installment interest does not apply.
type AdvanceTax struct {
	MinimumLiability decimal.Decimal
	DueDates         []DueDate
}

// InterestRates holds the per-section interest parameters.
type InterestRates struct {
	Section234A Section234A
	Section234B Section234B
}

// Section234A is the late-filing interest rate, charged per month.
type Section234A struct {
	RatePerMonth decimal.Decimal
}

// Section234B is the advance-tax shortfall interest: a flat rate on the
// shortfall against ShortfallThreshold of the assessed liability.
type Section234B struct {
	Rate               decimal.Decimal
	ShortfallThreshold decimal.Decimal
}

// SeniorExemption holds the age-adjusted basic exemption limits.
type SeniorExemption struct {
	SeniorAge        int
	SuperSeniorAge   int
	SeniorLimit      decimal.Decimal
	SuperSeniorLimit decimal.Decimal
}

// RateTable is the full rate configuration for one assessment year.
// Loaded once and read-only for the life of any engine built from it.
type RateTable struct {
	AssessmentYear  string
	Regimes         map[string]Regime
	CessRate        decimal.Decimal
	AdvanceTax      AdvanceTax
	Interest        InterestRates
	SeniorExemption SeniorExemption
}

// Raw YAML shapes. Amounts arrive as YAML numbers and are converted to
// decimals exactly once, here.
type rawRateTable struct {
	AssessmentYear string               `yaml:"assessment_year"`
	Regimes        map[string]rawRegime `yaml:"regimes"`
	Cess           struct {
		Rate float64 `yaml:"rate"`
	} `yaml:"cess"`
	AdvanceTax struct {
		MinimumLiability float64 `yaml:"minimum_liability"`
		DueDates         []struct {
			Date          string  `yaml:"date"`
			CumulativePct float64 `yaml:"cumulative_pct"`
		} `yaml:"due_dates"`
	} `yaml:"advance_tax"`
	Interest struct {
		Section234A struct {
			RatePerMonth float64 `yaml:"rate_per_month"`
		} `yaml:"section_234a"`
		Section234B struct {
			Rate               float64 `yaml:"rate"`
			ShortfallThreshold float64 `yaml:"shortfall_threshold"`
		} `yaml:"section_234b"`
	} `yaml:"interest"`
	SeniorExemption struct {
		SeniorAge        int     `yaml:"senior_age"`
		SuperSeniorAge   int     `yaml:"super_senior_age"`
		SeniorLimit      float64 `yaml:"senior_limit"`
		SuperSeniorLimit float64 `yaml:"super_senior_limit"`
	} `yaml:"senior_exemption"`
}

type rawRegime struct {
	Slabs []struct {
		Min         float64  `yaml:"min"`
		Max         *float64 `yaml:"max"`
		Rate        float64  `yaml:"rate"`
		Description string   `yaml:"description"`
	} `yaml:"slabs"`
	Rebate87A struct {
		EligibleIncomeLimit float64 `yaml:"eligible_income_limit"`
		MaxRebate           float64 `yaml:"max_rebate"`
	} `yaml:"rebate_87a"`
	Surcharge struct {
		MarginalRelief bool `yaml:"marginal_relief"`
		Thresholds     []struct {
			Min  float64  `yaml:"min"`
			Max  *float64 `yaml:"max"`
			Rate float64  `yaml:"rate"`
		} `yaml:"thresholds"`
	} `yaml:"surcharge"`
	StandardDeduction        float64 `yaml:"standard_deduction"`
	SavingsInterestExemption float64 `yaml:"savings_interest_exemption"`
	AllowsDeductions         bool    `yaml:"allows_deductions"`
}

// LoadRateTable loads and validates one assessment year's rate table
// from a YAML file. A missing file or a table that fails validation is
// a fatal construction error for anything built on top of it.
func LoadRateTable(path string) (*RateTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate table: %w", err)
	}

	var raw rawRateTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rate table: %w", err)
	}

	table, err := buildRateTable(raw)
	if err != nil {
		return nil, fmt.Errorf("rate table %s: %w", path, err)
	}
	return table, nil
}

func buildRateTable(raw rawRateTable) (*RateTable, error) {
	if raw.AssessmentYear == "" {
		return nil, fmt.Errorf("%w: assessment_year is required", internalerr.ErrInvalidConfig)
	}
	if len(raw.Regimes) == 0 {
		return nil, fmt.Errorf("%w: no regimes defined", internalerr.ErrInvalidConfig)
	}
	if raw.Cess.Rate <= 0 {
		return nil, fmt.Errorf("%w: cess.rate is required", internalerr.ErrInvalidConfig)
	}
	if raw.Interest.Section234A.RatePerMonth <= 0 {
		return nil, fmt.Errorf("%w: interest.section_234a.rate_per_month is required", internalerr.ErrInvalidConfig)
	}
	if raw.Interest.Section234B.Rate <= 0 {
		return nil, fmt.Errorf("%w: interest.section_234b.rate is required", internalerr.ErrInvalidConfig)
	}

	table := &RateTable{
		AssessmentYear: raw.AssessmentYear,
		Regimes:        make(map[string]Regime, len(raw.Regimes)),
		CessRate:       decimal.NewFromFloat(raw.Cess.Rate),
	}

	for name, rr := range raw.Regimes {
		regime, err := buildRegime(name, rr)
		if err != nil {
			return nil, err
		}
		table.Regimes[name] = regime
	}

	table.AdvanceTax.MinimumLiability = decimal.NewFromFloat(raw.AdvanceTax.MinimumLiability)
	for _, dd := range raw.AdvanceTax.DueDates {
		t, err := time.Parse("2006-01-02", dd.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: advance_tax due date %q: %v", internalerr.ErrInvalidConfig, dd.Date, err)
		}
		table.AdvanceTax.DueDates = append(table.AdvanceTax.DueDates, DueDate{
			Date:          t,
			CumulativePct: decimal.NewFromFloat(dd.CumulativePct),
		})
	}

	table.Interest.Section234A.RatePerMonth = decimal.NewFromFloat(raw.Interest.Section234A.RatePerMonth)
	table.Interest.Section234B.Rate = decimal.NewFromFloat(raw.Interest.Section234B.Rate)
	threshold := raw.Interest.Section234B.ShortfallThreshold
	if threshold == 0 {
		threshold = 0.90
	}
	table.Interest.Section234B.ShortfallThreshold = decimal.NewFromFloat(threshold)

	table.SeniorExemption = SeniorExemption{
		SeniorAge:        raw.SeniorExemption.SeniorAge,
		SuperSeniorAge:   raw.SeniorExemption.SuperSeniorAge,
		SeniorLimit:      decimal.NewFromFloat(raw.SeniorExemption.SeniorLimit),
		SuperSeniorLimit: decimal.NewFromFloat(raw.SeniorExemption.SuperSeniorLimit),
	}

	return table, nil
}

func buildRegime(name string, raw rawRegime) (Regime, error) {
	if len(raw.Slabs) == 0 {
		return Regime{}, fmt.Errorf("%w: regime %s has no slabs", internalerr.ErrInvalidConfig, name)
	}

	regime := Regime{
		Rebate: Rebate87A{
			EligibleIncomeLimit: decimal.NewFromFloat(raw.Rebate87A.EligibleIncomeLimit),
			MaxRebate:           decimal.NewFromFloat(raw.Rebate87A.MaxRebate),
		},
		StandardDeduction:        decimal.NewFromFloat(raw.StandardDeduction),
		SavingsInterestExemption: decimal.NewFromFloat(raw.SavingsInterestExemption),
		AllowsDeductions:         raw.AllowsDeductions,
	}

	prevMax := decimal.NewFromInt(-1)
	for i, rs := range raw.Slabs {
		slab := TaxSlab{
			Min:         decimal.NewFromFloat(rs.Min),
			Rate:        decimal.NewFromFloat(rs.Rate),
			Description: rs.Description,
		}
		if rs.Max != nil {
			max := decimal.NewFromFloat(*rs.Max)
			slab.Max = &max
		} else if i != len(raw.Slabs)-1 {
			return Regime{}, fmt.Errorf("%w: regime %s slab %d is unbounded but not last", internalerr.ErrInvalidConfig, name, i)
		}
		// Slabs must be ordered and contiguous-or-increasing.
		if slab.Min.LessThanOrEqual(prevMax) && i > 0 {
			return Regime{}, fmt.Errorf("%w: regime %s slabs overlap at index %d", internalerr.ErrInvalidConfig, name, i)
		}
		if slab.Max != nil {
			if slab.Max.LessThanOrEqual(slab.Min) {
				return Regime{}, fmt.Errorf("%w: regime %s slab %d max <= min", internalerr.ErrInvalidConfig, name, i)
			}
			prevMax = slab.Max.Sub(decimal.NewFromInt(1))
		}
		regime.Slabs = append(regime.Slabs, slab)
	}

	regime.Surcharge.MarginalRelief = raw.Surcharge.MarginalRelief
	for _, rt := range raw.Surcharge.Thresholds {
		rule := SurchargeRule{
			Min:  decimal.NewFromFloat(rt.Min),
			Rate: decimal.NewFromFloat(rt.Rate),
		}
		if rt.Max != nil {
			max := decimal.NewFromFloat(*rt.Max)
			rule.Max = &max
		}
		regime.Surcharge.Thresholds = append(regime.Surcharge.Thresholds, rule)
	}

	return regime, nil
}
