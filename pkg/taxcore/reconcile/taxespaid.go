package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/clearfile/taxcore/pkg/taxcore/money"
)

// Credit categories.
const (
	CreditTDS            = "tds"
	CreditAdvanceTax     = "advance_tax"
	CreditSelfAssessment = "self_assessment"
)

// TaxCredit is one reconciled tax payment or deduction credit.
type TaxCredit struct {
	Amount       decimal.Decimal
	Source       string
	Confidence   decimal.Decimal
	Category     string
	NeedsConfirm bool
	Description  string
}

// TaxesPaidResult is the reconciled tax-credit picture for one return.
type TaxesPaidResult struct {
	Credits         []TaxCredit
	TotalTDS        decimal.Decimal
	TotalAdvanceTax decimal.Decimal
	Discrepancies   []Discrepancy
	ConfidenceScore decimal.Decimal
	Warnings        []string
}

// TaxesPaidReconciler applies the same discrepancy/confidence pattern
// as DataReconciler to tax-credit sources (26AS, AIS, Form 16), with
// challan deduplication on top.
type TaxesPaidReconciler struct {
	tdsTotals MergePolicy
}

// NewTaxesPaidReconciler builds the reconciler with its documented
// policy: Form 26AS is authoritative for credits, AIS corroborates,
// Form 16 is the employer-side check.
func NewTaxesPaidReconciler() *TaxesPaidReconciler {
	return &TaxesPaidReconciler{
		tdsTotals: MergePolicy{
			Field:     "tds_total",
			Sources:   []string{SourceForm26, SourceAIS, SourceForm16},
			TieBreak:  TieBreakFirst,
			HighDelta: money.Rupees(10000),
		},
	}
}

// Reconcile merges tax credits across the given artifacts. Total over
// its input domain; missing sources contribute nothing.
func (r *TaxesPaidReconciler) Reconcile(artifacts map[string]Artifact) TaxesPaidResult {
	var res TaxesPaidResult

	obs := r.tdsTotalObservations(artifacts)
	if len(obs) > 0 {
		total, discrepancies := r.tdsTotals.Merge(obs)
		res.TotalTDS = total
		res.Discrepancies = append(res.Discrepancies, discrepancies...)
	}

	res.Credits = append(res.Credits, r.tdsCredits(artifacts)...)

	challans, dupes := r.challanCredits(artifacts)
	res.Credits = append(res.Credits, challans...)
	if dupes > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d duplicate challan(s) dropped", dupes))
	}
	for _, c := range challans {
		switch c.Category {
		case CreditSelfAssessment:
			// Self-assessment payments are tracked but not part of the
			// advance-tax total.
		default:
			res.TotalAdvanceTax = res.TotalAdvanceTax.Add(c.Amount)
		}
	}

	res.ConfidenceScore = confidenceScore(res.Discrepancies, len(artifacts))
	return res
}

func (r *TaxesPaidReconciler) tdsTotalObservations(artifacts map[string]Artifact) []Observation {
	var obs []Observation
	for _, source := range []string{SourceForm26, SourceAIS} {
		art, ok := artifacts[source]
		if !ok {
			continue
		}
		rows := list(art, "tds_entries")
		if len(rows) == 0 {
			continue
		}
		total := decimal.Zero
		for _, row := range rows {
			total = total.Add(num(row, "amount"))
		}
		obs = append(obs, Observation{Source: source, Value: total})
	}
	if form16, ok := artifacts[SourceForm16]; ok {
		if v := num(form16, "tds_deducted"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourceForm16, Value: v})
		}
	}
	return obs
}

// tdsCredits emits per-deductor credits from the most trusted source
// that itemizes them.
func (r *TaxesPaidReconciler) tdsCredits(artifacts map[string]Artifact) []TaxCredit {
	for _, source := range []string{SourceForm26, SourceAIS} {
		art, ok := artifacts[source]
		if !ok {
			continue
		}
		rows := list(art, "tds_entries")
		if len(rows) == 0 {
			continue
		}
		confidence, needsConfirm := sourceTrust(art)
		credits := make([]TaxCredit, 0, len(rows))
		for _, row := range rows {
			credits = append(credits, TaxCredit{
				Amount:       num(row, "amount"),
				Source:       source,
				Confidence:   confidence,
				Category:     CreditTDS,
				NeedsConfirm: needsConfirm,
				Description:  str(row, "deductor"),
			})
		}
		return credits
	}
	return nil
}

// challanCredits collects challan payments across sources,
// deduplicating on the composite key (bsr_code, paid_on, amount).
func (r *TaxesPaidReconciler) challanCredits(artifacts map[string]Artifact) ([]TaxCredit, int) {
	seen := make(map[string]bool)
	var credits []TaxCredit
	dupes := 0

	for _, source := range []string{SourceForm26, SourceAIS} {
		art, ok := artifacts[source]
		if !ok {
			continue
		}
		confidence, needsConfirm := sourceTrust(art)
		for _, row := range list(art, "challans") {
			amount := num(row, "amount")
			key := str(row, "bsr_code") + "|" + str(row, "paid_on") + "|" + amount.String()
			if seen[key] {
				dupes++
				continue
			}
			seen[key] = true

			category := str(row, "category")
			if category == "" {
				category = CreditAdvanceTax
			}
			credits = append(credits, TaxCredit{
				Amount:       amount,
				Source:       source,
				Confidence:   confidence,
				Category:     category,
				NeedsConfirm: needsConfirm,
				Description:  fmt.Sprintf("Challan %s on %s", str(row, "bsr_code"), str(row, "paid_on")),
			})
		}
	}
	return credits, dupes
}

// sourceTrust reads an artifact's extraction provenance. Credits from a
// non-deterministic (LLM) extraction always need human confirmation.
func sourceTrust(art Artifact) (decimal.Decimal, bool) {
	if str(art, "extraction_method") == "llm" {
		if v := num(art, "extraction_confidence"); !v.IsZero() {
			return money.Clamp01(v), true
		}
		return decimal.NewFromFloat(0.6), true
	}
	if v := num(art, "extraction_confidence"); !v.IsZero() {
		return money.Clamp01(v), false
	}
	return decimal.NewFromFloat(0.95), false
}
