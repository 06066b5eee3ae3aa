// Package reconcile merges partially-overlapping, sometimes-conflicting
// financial facts from multiple parsed sources into one trusted
// dataset, reporting every disagreement it found and how much the
// result should be trusted.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/clearfile/taxcore/pkg/taxcore/money"
)

// Severity of a discrepancy between two sources.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Discrepancy records two sources disagreeing about one fact.
type Discrepancy struct {
	Field       string
	SourceA     string
	SourceB     string
	ValueA      decimal.Decimal
	ValueB      decimal.Decimal
	Difference  decimal.Decimal
	Severity    Severity
	Description string
}

// Observation is one source's reported value for a fact.
type Observation struct {
	Source string
	Value  decimal.Decimal
}

// TieBreak picks the reconciled value when precedence alone does not
// decide.
type TieBreak string

const (
	// TieBreakFirst takes the first listed source reporting a non-zero
	// value. Used where one source is authoritative (government feeds).
	TieBreakFirst TieBreak = "first"
	// TieBreakLargest takes the largest observed value across sources.
	// Used where under-reporting is the usual failure.
	TieBreakLargest TieBreak = "largest"
)

// MergePolicy is one fact's reconciliation recipe: the precedence order
// of its sources, how ties break, and the thresholds that turn a
// difference into a discrepancy. New facts compose by adding a policy,
// not by writing new merge code.
type MergePolicy struct {
	Field     string
	Sources   []string // precedence order, most trusted first
	TieBreak  TieBreak
	Tolerance decimal.Decimal // differences at or below this are agreement
	HighDelta decimal.Decimal // differences above this are high severity
}

// Merge reconciles the observations under the policy. Pairs differing
// by more than the tolerance become discrepancies; the reconciled value
// follows precedence, then the tie-break. Zero observations reconcile
// to zero with no findings.
func (p MergePolicy) Merge(obs []Observation) (decimal.Decimal, []Discrepancy) {
	if len(obs) == 0 {
		return decimal.Zero, nil
	}

	tolerance := p.Tolerance
	if tolerance.IsZero() {
		tolerance = money.Tolerance
	}

	var discrepancies []Discrepancy
	for i := 0; i < len(obs); i++ {
		for j := i + 1; j < len(obs); j++ {
			diff := obs[i].Value.Sub(obs[j].Value).Abs()
			if diff.LessThanOrEqual(tolerance) {
				continue
			}
			severity := SeverityMedium
			if p.HighDelta.Sign() > 0 && diff.GreaterThan(p.HighDelta) {
				severity = SeverityHigh
			}
			discrepancies = append(discrepancies, Discrepancy{
				Field:      p.Field,
				SourceA:    obs[i].Source,
				SourceB:    obs[j].Source,
				ValueA:     obs[i].Value,
				ValueB:     obs[j].Value,
				Difference: diff,
				Severity:   severity,
				Description: fmt.Sprintf("%s: %s reports %s, %s reports %s",
					p.Field, obs[i].Source, obs[i].Value.String(), obs[j].Source, obs[j].Value.String()),
			})
		}
	}

	return p.pick(obs), discrepancies
}

func (p MergePolicy) pick(obs []Observation) decimal.Decimal {
	if p.TieBreak == TieBreakLargest {
		return maxObserved(obs)
	}

	bySource := make(map[string]decimal.Decimal, len(obs))
	for _, o := range obs {
		bySource[o.Source] = o.Value
	}
	for _, source := range p.Sources {
		if val, ok := bySource[source]; ok && !val.IsZero() {
			return val
		}
	}

	// Nothing non-zero under the preferred order: fall back to the
	// largest observed value from any source.
	return maxObserved(obs)
}

// maxObserved returns the maximum of the actual observed values. Losses
// reconcile to the smallest loss rather than a fabricated zero.
func maxObserved(obs []Observation) decimal.Decimal {
	largest := obs[0].Value
	for _, o := range obs[1:] {
		if o.Value.GreaterThan(largest) {
			largest = o.Value
		}
	}
	return largest
}

// confidenceScore derives the [0,1] trust metric: 0.8 base, minus 0.2
// per high and 0.1 per medium discrepancy, plus 0.1 per corroborating
// source beyond the first up to 0.2, clamped and rounded to 2 places.
// Zero sources score zero outright.
func confidenceScore(discrepancies []Discrepancy, sourceCount int) decimal.Decimal {
	if sourceCount == 0 {
		return decimal.Zero
	}

	score := decimal.NewFromFloat(0.8)
	for _, d := range discrepancies {
		switch d.Severity {
		case SeverityHigh:
			score = score.Sub(decimal.NewFromFloat(0.2))
		case SeverityMedium:
			score = score.Sub(decimal.NewFromFloat(0.1))
		}
	}

	bonus := decimal.NewFromFloat(0.1).Mul(decimal.NewFromInt(int64(sourceCount - 1)))
	maxBonus := decimal.NewFromFloat(0.2)
	if bonus.GreaterThan(maxBonus) {
		bonus = maxBonus
	}
	score = score.Add(bonus)

	return money.Clamp01(score).Round(2)
}
