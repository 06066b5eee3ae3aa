package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/clearfile/taxcore/pkg/taxcore/internalerr"
)

const validTable = `
assessment_year: "2025-26"
regimes:
  new:
    standard_deduction: 50000
    allows_deductions: false
    slabs:
      - {min: 0, max: 300000, rate: 0.00, description: "nil band"}
      - {min: 300000, max: 600000, rate: 0.05, description: "5% band"}
      - {min: 600000, rate: 0.30, description: "top band"}
    rebate_87a:
      eligible_income_limit: 700000
      max_rebate: 25000
    surcharge:
      marginal_relief: true
      thresholds:
        - {min: 5000000, max: 10000000, rate: 0.10}
        - {min: 10000000, rate: 0.15}
cess:
  rate: 0.04
advance_tax:
  minimum_liability: 10000
  due_dates:
    - {date: "2024-06-15", cumulative_pct: 0.15}
interest:
  section_234a:
    rate_per_month: 0.01
  section_234b:
    rate: 0.03
`

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rates.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRateTable(t *testing.T) {
	table, err := LoadRateTable(writeTable(t, validTable))
	if err != nil {
		t.Fatalf("Failed to load rate table: %v", err)
	}

	if table.AssessmentYear != "2025-26" {
		t.Errorf("Expected assessment year 2025-26, got %s", table.AssessmentYear)
	}

	regime, ok := table.Regimes["new"]
	if !ok {
		t.Fatal("Expected new regime to be present")
	}
	if len(regime.Slabs) != 3 {
		t.Fatalf("Expected 3 slabs, got %d", len(regime.Slabs))
	}
	if regime.Slabs[2].Max != nil {
		t.Error("Expected top slab to be unbounded")
	}
	if !regime.Slabs[1].Rate.Equal(dec("0.05")) {
		t.Errorf("Expected slab rate 0.05, got %s", regime.Slabs[1].Rate)
	}
	if !regime.Rebate.EligibleIncomeLimit.Equal(dec("700000")) {
		t.Errorf("Unexpected rebate limit %s", regime.Rebate.EligibleIncomeLimit)
	}
	if !regime.Surcharge.MarginalRelief {
		t.Error("Expected marginal relief enabled")
	}
	if !table.CessRate.Equal(dec("0.04")) {
		t.Errorf("Unexpected cess rate %s", table.CessRate)
	}
	if len(table.AdvanceTax.DueDates) != 1 {
		t.Fatalf("Expected 1 due date, got %d", len(table.AdvanceTax.DueDates))
	}
	if got := table.AdvanceTax.DueDates[0].Date.Format("2006-01-02"); got != "2024-06-15" {
		t.Errorf("Unexpected due date %s", got)
	}
	// Threshold defaults to 90% when the file omits it.
	if !table.Interest.Section234B.ShortfallThreshold.Equal(dec("0.9")) {
		t.Errorf("Unexpected 234B threshold %s", table.Interest.Section234B.ShortfallThreshold)
	}
}

func TestLoadRateTableMissingFile(t *testing.T) {
	if _, err := LoadRateTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadRateTableInvalidYAML(t *testing.T) {
	if _, err := LoadRateTable(writeTable(t, "slabs: [unclosed")); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoadRateTableMissingKeys(t *testing.T) {
	cases := map[string]string{
		"no year":    "regimes: {}\ncess: {rate: 0.04}",
		"no regimes": "assessment_year: \"2025-26\"\ncess: {rate: 0.04}",
		"no cess": `
assessment_year: "2025-26"
regimes:
  new:
    slabs:
      - {min: 0, rate: 0.05}
`,
	}

	for name, content := range cases {
		if _, err := LoadRateTable(writeTable(t, content)); err == nil {
			t.Errorf("%s: expected a fatal config error", name)
		} else if !errors.Is(err, internalerr.ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestLoadRateTableOverlappingSlabs(t *testing.T) {
	content := `
assessment_year: "2025-26"
regimes:
  new:
    slabs:
      - {min: 0, max: 300000, rate: 0.00}
      - {min: 200000, max: 600000, rate: 0.05}
      - {min: 600000, rate: 0.30}
cess:
  rate: 0.04
interest:
  section_234a: {rate_per_month: 0.01}
  section_234b: {rate: 0.03}
`
	if _, err := LoadRateTable(writeTable(t, content)); err == nil {
		t.Fatal("Expected overlap to be rejected")
	}
}

func TestLoadRateTableUnboundedSlabNotLast(t *testing.T) {
	content := `
assessment_year: "2025-26"
regimes:
  new:
    slabs:
      - {min: 0, rate: 0.00}
      - {min: 300000, max: 600000, rate: 0.05}
cess:
  rate: 0.04
interest:
  section_234a: {rate_per_month: 0.01}
  section_234b: {rate: 0.03}
`
	if _, err := LoadRateTable(writeTable(t, content)); err == nil {
		t.Fatal("Expected unbounded non-final slab to be rejected")
	}
}
