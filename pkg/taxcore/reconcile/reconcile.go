package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clearfile/taxcore/pkg/taxcore/money"
)

// Artifact is one parser's semi-structured payload, keyed by domain
// concept. Expected keys are read defensively with zero defaults; no
// schema validation happens here.
type Artifact map[string]any

// Well-known source names, most trusted first where it matters.
const (
	SourceAIS     = "ais"
	SourcePrefill = "prefill"
	SourceForm16  = "form16"
	SourceForm16B = "form16b"
	SourceForm26  = "form26as"
	SourceBank    = "bank_statement"
)

// Identity is the reconciled taxpayer identity.
type Identity struct {
	PAN  string
	Name string
}

// Data is the canonical financial picture after reconciliation.
type Data struct {
	Identity       Identity
	GrossSalary    decimal.Decimal
	InterestIncome decimal.Decimal
	TDS            decimal.Decimal
	CapitalGains   decimal.Decimal
	Deductions     map[string]decimal.Decimal // section → claimed amount
}

// Metadata describes a reconciliation run.
type Metadata struct {
	SourcesSeen     []string
	FactsReconciled int
	GeneratedAt     time.Time
}

// Result is one reconciliation outcome: the merged dataset, every
// disagreement found, and the derived confidence.
type Result struct {
	Data            Data
	Discrepancies   []Discrepancy
	ConfidenceScore decimal.Decimal
	Warnings        []string
	Metadata        Metadata
}

// DataReconciler merges parsed-artifact payloads into one dataset. It
// is the only component aware of per-field source precedence; each
// tracked fact carries its own MergePolicy.
type DataReconciler struct {
	salary       MergePolicy
	interest     MergePolicy
	tds          MergePolicy
	capitalGains MergePolicy
}

// NewDataReconciler builds a reconciler with the documented per-fact
// policies.
func NewDataReconciler() *DataReconciler {
	return &DataReconciler{
		// Salary under-reporting is the common failure, so the larger
		// figure wins regardless of source.
		salary: MergePolicy{
			Field:     "gross_salary",
			Sources:   []string{SourceAIS, SourceForm16, SourcePrefill},
			TieBreak:  TieBreakLargest,
			HighDelta: money.Rupees(50000),
		},
		// AIS carries the authoritative interest total; bank-statement
		// category totals are the fallback.
		interest: MergePolicy{
			Field:     "interest_income",
			Sources:   []string{SourceAIS, SourceBank, SourcePrefill},
			TieBreak:  TieBreakFirst,
			HighDelta: money.Rupees(10000),
		},
		tds: MergePolicy{
			Field:     "tds",
			Sources:   []string{SourceAIS, SourcePrefill},
			TieBreak:  TieBreakFirst,
			HighDelta: money.Rupees(25000),
		},
		capitalGains: MergePolicy{
			Field:     "capital_gains",
			Sources:   []string{SourceAIS, SourcePrefill},
			TieBreak:  TieBreakFirst,
			HighDelta: money.Rupees(50000),
		},
	}
}

// Reconcile merges every tracked fact across the given artifacts.
// Missing sources contribute nothing and never raise; the function is
// total over its input domain.
func (r *DataReconciler) Reconcile(artifacts map[string]Artifact) Result {
	res := Result{
		Data: Data{Deductions: make(map[string]decimal.Decimal)},
		Metadata: Metadata{
			GeneratedAt: time.Now().UTC(),
		},
	}
	for name := range artifacts {
		res.Metadata.SourcesSeen = append(res.Metadata.SourcesSeen, name)
	}
	sort.Strings(res.Metadata.SourcesSeen)

	res.Data.Identity = r.reconcileIdentity(artifacts, &res)

	facts := []struct {
		policy  MergePolicy
		extract func(map[string]Artifact) []Observation
		assign  func(*Data, decimal.Decimal)
	}{
		{r.salary, r.salaryObservations, func(d *Data, v decimal.Decimal) { d.GrossSalary = v }},
		{r.interest, r.interestObservations, func(d *Data, v decimal.Decimal) { d.InterestIncome = v }},
		{r.tds, r.tdsObservations, func(d *Data, v decimal.Decimal) { d.TDS = v }},
		{r.capitalGains, r.capitalGainsObservations, func(d *Data, v decimal.Decimal) { d.CapitalGains = v }},
	}

	for _, fact := range facts {
		obs := fact.extract(artifacts)
		if len(obs) == 0 {
			continue
		}
		value, discrepancies := fact.policy.Merge(obs)
		fact.assign(&res.Data, value)
		res.Discrepancies = append(res.Discrepancies, discrepancies...)
		res.Metadata.FactsReconciled++
	}

	if prefill, ok := artifacts[SourcePrefill]; ok {
		for section, amount := range sub(prefill, "deductions") {
			res.Data.Deductions[section] = anyToDecimal(amount)
		}
	}

	res.ConfidenceScore = confidenceScore(res.Discrepancies, len(artifacts))
	return res
}

// reconcileIdentity takes identity from the most trusted source
// reporting one and warns on PAN mismatches rather than failing.
func (r *DataReconciler) reconcileIdentity(artifacts map[string]Artifact, res *Result) Identity {
	var ident Identity
	var seenPAN, seenSource string

	for _, source := range []string{SourcePrefill, SourceForm16, SourceAIS} {
		art, ok := artifacts[source]
		if !ok {
			continue
		}
		id := sub(art, "identity")
		pan := str(id, "pan")
		name := str(id, "name")
		if pan == "" && name == "" {
			continue
		}
		if ident.PAN == "" {
			ident = Identity{PAN: pan, Name: name}
		}
		if pan != "" {
			if seenPAN != "" && seenPAN != pan {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("identity: PAN differs between %s (%s) and %s (%s)", seenSource, seenPAN, source, pan))
			}
			if seenPAN == "" {
				seenPAN, seenSource = pan, source
			}
		}
	}
	return ident
}

// salaryObservations sums AIS per-employer rows and sets them against
// the single-figure sources.
func (r *DataReconciler) salaryObservations(artifacts map[string]Artifact) []Observation {
	var obs []Observation

	if ais, ok := artifacts[SourceAIS]; ok {
		rows := list(ais, "salary_details")
		if len(rows) > 0 {
			total := decimal.Zero
			for _, row := range rows {
				total = total.Add(num(row, "gross_salary"))
			}
			obs = append(obs, Observation{Source: SourceAIS, Value: total})
		}
	}
	if form16, ok := artifacts[SourceForm16]; ok {
		if v := num(form16, "gross_salary"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourceForm16, Value: v})
		}
	}
	if prefill, ok := artifacts[SourcePrefill]; ok {
		if v := num(prefill, "gross_salary"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourcePrefill, Value: v})
		}
	}
	return obs
}

// interestObservations prefers the AIS total and falls back to the
// bank statement's interest category total.
func (r *DataReconciler) interestObservations(artifacts map[string]Artifact) []Observation {
	var obs []Observation

	if ais, ok := artifacts[SourceAIS]; ok {
		if v := num(ais, "interest_income"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourceAIS, Value: v})
		}
	}
	if bank, ok := artifacts[SourceBank]; ok {
		totals := sub(bank, "category_totals")
		if raw, ok := totals["interest"]; ok {
			obs = append(obs, Observation{Source: SourceBank, Value: anyToDecimal(raw)})
		}
	}
	if prefill, ok := artifacts[SourcePrefill]; ok {
		if v := num(prefill, "interest_income"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourcePrefill, Value: v})
		}
	}
	return obs
}

// tdsObservations sums AIS salary TDS, AIS interest TDS, and Form16B
// TDS into one statement-side figure, compared against the single
// prefill total.
func (r *DataReconciler) tdsObservations(artifacts map[string]Artifact) []Observation {
	var obs []Observation

	statements := decimal.Zero
	seen := false
	if ais, ok := artifacts[SourceAIS]; ok {
		for _, row := range list(ais, "salary_details") {
			statements = statements.Add(num(row, "tds_deducted"))
			seen = true
		}
		if v := num(ais, "tds_on_interest"); !v.IsZero() {
			statements = statements.Add(v)
			seen = true
		}
	}
	if form16b, ok := artifacts[SourceForm16B]; ok {
		if v := num(form16b, "tds_deducted"); !v.IsZero() {
			statements = statements.Add(v)
			seen = true
		}
	}
	if seen {
		obs = append(obs, Observation{Source: SourceAIS, Value: statements})
	}

	if prefill, ok := artifacts[SourcePrefill]; ok {
		if v := num(prefill, "tds_total"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourcePrefill, Value: v})
		}
	}
	return obs
}

func (r *DataReconciler) capitalGainsObservations(artifacts map[string]Artifact) []Observation {
	var obs []Observation
	if ais, ok := artifacts[SourceAIS]; ok {
		if v := num(ais, "capital_gains"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourceAIS, Value: v})
		}
	}
	if prefill, ok := artifacts[SourcePrefill]; ok {
		if v := num(prefill, "capital_gains"); !v.IsZero() {
			obs = append(obs, Observation{Source: SourcePrefill, Value: v})
		}
	}
	return obs
}

// --- defensive payload readers ---

func num(a Artifact, key string) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return anyToDecimal(a[key])
}

func str(a Artifact, key string) string {
	if a == nil {
		return ""
	}
	if s, ok := a[key].(string); ok {
		return s
	}
	return ""
}

func sub(a Artifact, key string) Artifact {
	if a == nil {
		return nil
	}
	if m, ok := a[key].(map[string]any); ok {
		return Artifact(m)
	}
	if m, ok := a[key].(Artifact); ok {
		return m
	}
	return nil
}

func list(a Artifact, key string) []Artifact {
	if a == nil {
		return nil
	}
	raw, ok := a[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Artifact, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Artifact(m))
		}
	}
	return out
}

func anyToDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return money.FromFloat(n)
	case float32:
		return money.FromFloat(float64(n))
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case string:
		if d, err := decimal.NewFromString(n); err == nil {
			return d
		}
	case decimal.Decimal:
		return n
	}
	return decimal.Zero
}
