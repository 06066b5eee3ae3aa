// Package store persists computed returns and their rule audit trails.
// The computation core never touches a Store; callers (the CLI, an API
// layer) persist results after the pipeline finishes.
package store

import (
	"context"
	"time"
)

// Store is the interface for persisting and querying computed returns.
type Store interface {
	Close() error

	SaveComputation(ctx context.Context, rec ComputationRecord) error
	GetComputation(ctx context.Context, id string) (ComputationRecord, bool, error)
	ListComputations(ctx context.Context, assessmentYear string, limit int) ([]ComputationRecord, error)

	SaveRuleResults(ctx context.Context, computationID string, rows []RuleResultRecord) error
	GetRuleResults(ctx context.Context, computationID string) ([]RuleResultRecord, error)
}

// ComputationRecord is one stored computation. Monetary figures are
// decimal strings; the full result travels as serialized JSON so the
// store never needs to understand the result shape.
type ComputationRecord struct {
	ID              string
	AssessmentYear  string
	Regime          string
	PAN             string
	TaxableIncome   string
	TotalLiability  string
	TotalPayable    string
	ConfidenceScore string
	ResultJSON      string
	ComputedAt      time.Time
}

// RuleResultRecord is one stored audit entry.
type RuleResultRecord struct {
	ComputationID string
	RuleCode      string
	Passed        bool
	Severity      string
	Message       string
	Inputs        []string
	Output        string
	EvaluatedAt   time.Time
}
