package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clearfile/taxcore/pkg/taxcore/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// Open opens a SQLite database with WAL mode enabled and initializes
// the schema.
func Open(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS computations (
	id TEXT PRIMARY KEY,
	assessment_year TEXT NOT NULL,
	regime TEXT NOT NULL,
	pan TEXT,
	taxable_income TEXT,
	total_liability TEXT,
	total_payable TEXT,
	confidence_score TEXT,
	result_json TEXT,
	computed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_computations_year
	ON computations(assessment_year, computed_at);

CREATE TABLE IF NOT EXISTS rule_results (
	computation_id TEXT NOT NULL,
	rule_code TEXT NOT NULL,
	passed INTEGER NOT NULL,
	severity TEXT,
	message TEXT,
	inputs TEXT,
	output TEXT,
	evaluated_at TEXT,
	FOREIGN KEY(computation_id) REFERENCES computations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_rule_results_computation
	ON rule_results(computation_id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveComputation inserts or replaces a computation record.
func (s *sqliteStore) SaveComputation(ctx context.Context, rec store.ComputationRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO computations
	(id, assessment_year, regime, pan, taxable_income, total_liability, total_payable, confidence_score, result_json, computed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	assessment_year=excluded.assessment_year,
	regime=excluded.regime,
	pan=excluded.pan,
	taxable_income=excluded.taxable_income,
	total_liability=excluded.total_liability,
	total_payable=excluded.total_payable,
	confidence_score=excluded.confidence_score,
	result_json=excluded.result_json,
	computed_at=excluded.computed_at`,
		rec.ID, rec.AssessmentYear, rec.Regime, rec.PAN,
		rec.TaxableIncome, rec.TotalLiability, rec.TotalPayable,
		rec.ConfidenceScore, rec.ResultJSON, rec.ComputedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save computation: %w", err)
	}
	return nil
}

// GetComputation returns a computation by ID.
func (s *sqliteStore) GetComputation(ctx context.Context, id string) (store.ComputationRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, assessment_year, regime, pan, taxable_income, total_liability, total_payable, confidence_score, result_json, computed_at
FROM computations WHERE id = ?`, id)

	rec, err := scanComputation(row)
	if err == sql.ErrNoRows {
		return store.ComputationRecord{}, false, nil
	}
	if err != nil {
		return store.ComputationRecord{}, false, err
	}
	return rec, true, nil
}

// ListComputations returns computations for an assessment year, newest
// first. An empty year matches everything.
func (s *sqliteStore) ListComputations(ctx context.Context, assessmentYear string, limit int) ([]store.ComputationRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
SELECT id, assessment_year, regime, pan, taxable_income, total_liability, total_payable, confidence_score, result_json, computed_at
FROM computations`
	args := []any{}
	if assessmentYear != "" {
		query += " WHERE assessment_year = ?"
		args = append(args, assessmentYear)
	}
	query += " ORDER BY computed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ComputationRecord
	for rows.Next() {
		rec, err := scanComputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComputation(row rowScanner) (store.ComputationRecord, error) {
	var rec store.ComputationRecord
	var computedAt string
	err := row.Scan(&rec.ID, &rec.AssessmentYear, &rec.Regime, &rec.PAN,
		&rec.TaxableIncome, &rec.TotalLiability, &rec.TotalPayable,
		&rec.ConfidenceScore, &rec.ResultJSON, &computedAt)
	if err != nil {
		return store.ComputationRecord{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, computedAt); perr == nil {
		rec.ComputedAt = t
	}
	return rec, nil
}

// SaveRuleResults replaces the audit rows for a computation.
func (s *sqliteStore) SaveRuleResults(ctx context.Context, computationID string, rowsIn []store.RuleResultRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM rule_results WHERE computation_id = ?", computationID); err != nil {
		return err
	}

	for _, r := range rowsIn {
		inputs, err := json.Marshal(r.Inputs)
		if err != nil {
			return err
		}
		passed := 0
		if r.Passed {
			passed = 1
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO rule_results (computation_id, rule_code, passed, severity, message, inputs, output, evaluated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			computationID, r.RuleCode, passed, r.Severity, r.Message,
			string(inputs), r.Output, r.EvaluatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRuleResults returns the audit rows for a computation.
func (s *sqliteStore) GetRuleResults(ctx context.Context, computationID string) ([]store.RuleResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT rule_code, passed, severity, message, inputs, output, evaluated_at
FROM rule_results WHERE computation_id = ? ORDER BY rowid`, computationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RuleResultRecord
	for rows.Next() {
		rec := store.RuleResultRecord{ComputationID: computationID}
		var passed int
		var inputs, evaluatedAt string
		if err := rows.Scan(&rec.RuleCode, &passed, &rec.Severity, &rec.Message, &inputs, &rec.Output, &evaluatedAt); err != nil {
			return nil, err
		}
		rec.Passed = passed == 1
		if inputs != "" {
			if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
				return nil, err
			}
		}
		if t, perr := time.Parse(time.RFC3339Nano, evaluatedAt); perr == nil {
			rec.EvaluatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
