package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearfile/taxcore/pkg/taxcore"
	"github.com/clearfile/taxcore/pkg/taxcore/config"
	"github.com/clearfile/taxcore/pkg/taxcore/reconcile"
	"github.com/clearfile/taxcore/pkg/taxcore/store"
	"github.com/clearfile/taxcore/pkg/taxcore/store/sqlite"
)

func main() {
	var (
		ratesPath     = flag.String("rates", "", "Path to the assessment year's rate table YAML (required)")
		rulesPath     = flag.String("rules", "", "Path to the assessment year's rule file YAML (required)")
		artifactsPath = flag.String("artifacts", "", "Path to parsed-artifacts JSON (required)")
		regime        = flag.String("regime", "new", "Tax regime: old or new")
		filing        = flag.String("filing", "", "Filing date (YYYY-MM-DD, default today)")
		age           = flag.Int("age", 0, "Taxpayer age")
		dbPath        = flag.String("db", "", "Optional: SQLite path to persist the result")
		asJSON        = flag.Bool("json", false, "Emit the full result as JSON")
	)
	flag.Parse()

	if *ratesPath == "" {
		log.Fatal("--rates required")
	}
	if *rulesPath == "" {
		log.Fatal("--rules required")
	}
	if *artifactsPath == "" {
		log.Fatal("--artifacts required")
	}

	filingDate := time.Now().UTC()
	if *filing != "" {
		t, err := time.Parse("2006-01-02", *filing)
		if err != nil {
			log.Fatalf("bad --filing date: %v", err)
		}
		filingDate = t
	}

	loader := config.Loader{
		RateTablePath: *ratesPath,
		RulesPath:     *rulesPath,
	}
	components, err := loader.Load()
	if err != nil {
		log.Fatalf("load configs: %v", err)
	}

	artifacts, err := loadArtifacts(*artifactsPath)
	if err != nil {
		log.Fatalf("load artifacts: %v", err)
	}

	calc, err := taxcore.New(taxcore.Options{
		RateTable: components.RateTable,
		RuleSet:   components.RuleSet,
	})
	if err != nil {
		log.Fatalf("init calculator: %v", err)
	}

	result, err := calc.ComputeReturn(taxcore.Request{
		Regime:      *regime,
		Artifacts:   artifacts,
		FilingDate:  filingDate,
		TaxpayerAge: *age,
	})
	if err != nil {
		log.Fatalf("compute return: %v", err)
	}

	if *dbPath != "" {
		if err := persist(*dbPath, result); err != nil {
			log.Fatalf("persist result: %v", err)
		}
		log.Printf("saved computation %s to %s", result.ID, *dbPath)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("encode result: %v", err)
		}
		return
	}

	printSummary(result)
}

func loadArtifacts(path string) (map[string]reconcile.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifacts map[string]reconcile.Artifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, fmt.Errorf("parse artifacts: %w", err)
	}
	return artifacts, nil
}

func persist(dbPath string, result *taxcore.ComputationResult) error {
	ctx := context.Background()

	db, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	rec := store.ComputationRecord{
		ID:              result.ID,
		AssessmentYear:  result.AssessmentYear,
		Regime:          result.Regime,
		PAN:             result.Reconciliation.Data.Identity.PAN,
		TaxableIncome:   result.TaxableIncome.String(),
		TotalLiability:  result.Computation.TotalTaxLiability.String(),
		TotalPayable:    result.Computation.TotalPayable.String(),
		ConfidenceScore: result.Reconciliation.ConfidenceScore.String(),
		ResultJSON:      string(resultJSON),
		ComputedAt:      result.ComputedAt,
	}
	if err := db.SaveComputation(ctx, rec); err != nil {
		return err
	}

	rows := make([]store.RuleResultRecord, 0, len(result.RuleResults))
	for _, r := range result.RuleResults {
		rows = append(rows, store.RuleResultRecord{
			ComputationID: result.ID,
			RuleCode:      r.RuleCode,
			Passed:        r.Passed,
			Severity:      string(r.Severity),
			Message:       r.Message,
			Inputs:        r.Inputs,
			Output:        r.Output.String(),
			EvaluatedAt:   r.EvaluatedAt,
		})
	}
	return db.SaveRuleResults(ctx, result.ID, rows)
}

func printSummary(result *taxcore.ComputationResult) {
	comp := result.Computation

	fmt.Printf("Computation %s (AY %s, %s regime)\n", result.ID, result.AssessmentYear, result.Regime)
	fmt.Printf("  Gross total income:  %s\n", result.GrossTotalIncome.StringFixed(2))
	fmt.Printf("  Deductions:          %s\n", result.TotalDeductions.StringFixed(2))
	fmt.Printf("  Taxable income:      %s\n", result.TaxableIncome.StringFixed(2))
	fmt.Println()
	for _, slab := range comp.SlabWiseTax {
		fmt.Printf("  Slab %s-%s @ %s%%: %s\n",
			slab.From.StringFixed(0), slab.To.StringFixed(0),
			slab.Rate.Mul(decimal.NewFromInt(100)).StringFixed(0), slab.Tax.StringFixed(2))
	}
	fmt.Printf("  Tax before rebate:   %s\n", comp.TaxBeforeRebate.StringFixed(2))
	fmt.Printf("  Rebate 87A:          %s\n", comp.Rebate87A.StringFixed(2))
	fmt.Printf("  Surcharge:           %s\n", comp.Surcharge.StringFixed(2))
	fmt.Printf("  Cess:                %s\n", comp.Cess.StringFixed(2))
	fmt.Printf("  Total liability:     %s\n", comp.TotalTaxLiability.StringFixed(2))
	for _, row := range comp.Interest {
		if !row.Amount.IsZero() {
			fmt.Printf("  Interest %s:       %s\n", row.Section, row.Amount.StringFixed(2))
		}
	}
	fmt.Printf("  Total payable:       %s\n", comp.TotalPayable.StringFixed(2))
	fmt.Printf("  Net position:        %s\n", result.NetPosition.StringFixed(2))
	fmt.Printf("  Confidence:          %s\n", result.Reconciliation.ConfidenceScore.String())

	if len(result.Reconciliation.Discrepancies) > 0 {
		fmt.Println("\nDiscrepancies:")
		for _, d := range result.Reconciliation.Discrepancies {
			fmt.Printf("  [%s] %s\n", d.Severity, d.Description)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range result.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	fmt.Printf("\nRules: %d total, %d passed, %d failed\n",
		result.RuleSummary.Total, result.RuleSummary.Passed, result.RuleSummary.Failed)
}
