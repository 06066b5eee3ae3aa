package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/clearfile/taxcore/pkg/taxcore/internalerr"
)

const validRuleFile = `
assessment_year: "2025-26"
rules:
  - code: DED_80C_LIMIT
    description: Section 80C deduction cap
    expression: "deduction_80c <= 150000"
    severity: error
    message_pass: "80C within limit"
    message_fail: "80C claim {deduction_80c} exceeds the 150000 cap"
    enabled: true
    category: deductions
  - code: LOW_CONFIDENCE
    description: Reconciliation confidence floor
    expression: "confidence_score >= 0.5"
    severity: warning
    message_pass: "confidence ok"
    message_fail: "confidence {confidence_score} is low"
    enabled: true
    category: reconciliation
  - code: OLD_REGIME_SAVINGS
    description: Savings interest exemption check
    expression: "undefined_everywhere > 0"
    severity: info
    enabled: false
    category: deductions
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadSet(t *testing.T, content string) *RuleSet {
	t.Helper()
	set, err := LoadRuleSet(writeRules(t, content))
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func TestLoadRuleSet(t *testing.T) {
	set := loadSet(t, validRuleFile)

	if set.AssessmentYear != "2025-26" {
		t.Errorf("Expected assessment year 2025-26, got %s", set.AssessmentYear)
	}
	if len(set.Rules) != 3 {
		t.Fatalf("Expected 3 rules, got %d", len(set.Rules))
	}
	if len(set.DuplicateCodes) != 0 {
		t.Errorf("Expected no duplicate codes, got %v", set.DuplicateCodes)
	}

	def, ok := set.Find("DED_80C_LIMIT")
	if !ok {
		t.Fatal("Expected to find DED_80C_LIMIT")
	}
	if def.Severity != SeverityError || def.Category != "deductions" {
		t.Errorf("Unexpected definition %+v", def)
	}
}

func TestLoadRuleSetMissingFile(t *testing.T) {
	if _, err := LoadRuleSet(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadRuleSetValidation(t *testing.T) {
	cases := map[string]string{
		"missing code": `
rules:
  - expression: "1 < 2"
    severity: info
`,
		"missing expression": `
rules:
  - code: R1
    severity: info
`,
		"bad severity": `
rules:
  - code: R1
    expression: "1 < 2"
    severity: critical
`,
	}

	for name, content := range cases {
		_, err := LoadRuleSet(writeRules(t, content))
		if !errors.Is(err, internalerr.ErrInvalidRule) {
			t.Errorf("%s: expected ErrInvalidRule, got %v", name, err)
		}
	}
}

func TestLoadRuleSetDuplicateCodes(t *testing.T) {
	set := loadSet(t, `
assessment_year: "2025-26"
rules:
  - code: R1
    expression: "1 < 2"
    severity: info
    enabled: true
  - code: R1
    expression: "2 < 1"
    severity: info
    enabled: true
`)

	if len(set.DuplicateCodes) != 1 || set.DuplicateCodes[0] != "R1" {
		t.Errorf("Expected duplicate code R1 reported, got %v", set.DuplicateCodes)
	}

	// Lookup resolves to the first definition.
	def, _ := set.Find("R1")
	if def.Expression != "1 < 2" {
		t.Errorf("Expected the first duplicate to shadow, got %q", def.Expression)
	}
}

func TestEvaluateAllDuplicateCodesKeepOwnExpressions(t *testing.T) {
	set := loadSet(t, `
assessment_year: "2025-26"
rules:
  - code: R1
    expression: "x > 0"
    severity: info
    enabled: true
  - code: R1
    expression: "x < 0"
    severity: info
    enabled: true
`)
	eng := NewEngine(set)

	results := eng.EvaluateAll(numCtx(map[string]string{"x": "5"}))
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if !results[0].Passed {
		t.Error("Expected the first duplicate (x > 0) to pass")
	}
	if results[1].Passed {
		t.Error("Expected the second duplicate (x < 0) to evaluate its own expression and fail")
	}
}

func TestEvaluateRulePassAndFail(t *testing.T) {
	set := loadSet(t, validRuleFile)
	eng := NewEngine(set)
	def, _ := set.Find("DED_80C_LIMIT")

	res := eng.EvaluateRule(def, numCtx(map[string]string{"deduction_80c": "200000"}))
	if res.Passed {
		t.Error("Expected 200000 to fail the 150000 cap")
	}
	if res.Message != "80C claim 200000 exceeds the 150000 cap" {
		t.Errorf("Unexpected fail message %q", res.Message)
	}
	if len(res.Inputs) != 1 || res.Inputs[0] != "deduction_80c" {
		t.Errorf("Expected inputs [deduction_80c], got %v", res.Inputs)
	}

	res = eng.EvaluateRule(def, numCtx(map[string]string{"deduction_80c": "100000"}))
	if !res.Passed {
		t.Error("Expected 100000 to pass")
	}
	if res.Message != "80C within limit" {
		t.Errorf("Unexpected pass message %q", res.Message)
	}
}

func TestEvaluateRuleDisabledSkipsEvaluation(t *testing.T) {
	set := loadSet(t, validRuleFile)
	eng := NewEngine(set)
	def, _ := set.Find("OLD_REGIME_SAVINGS")

	// The expression references a variable no context defines; a
	// disabled rule must pass without ever evaluating it.
	res := eng.EvaluateRule(def, Context{})
	if !res.Passed {
		t.Error("Expected a disabled rule to auto-pass")
	}
	if res.Message != DisabledMessage {
		t.Errorf("Expected %q, got %q", DisabledMessage, res.Message)
	}
	if res.Severity != SeverityInfo {
		t.Errorf("Expected the rule's own severity, got %s", res.Severity)
	}
}

func TestEvaluateRuleErrorNeverPropagates(t *testing.T) {
	set := loadSet(t, validRuleFile)
	eng := NewEngine(set)
	def, _ := set.Find("DED_80C_LIMIT")

	// Empty context: undefined variable.
	res := eng.EvaluateRule(def, Context{})
	if res.Passed {
		t.Error("Expected an evaluation error to fail the rule")
	}
	if res.Severity != SeverityError {
		t.Errorf("Expected error severity, got %s", res.Severity)
	}
	if res.Message == "" {
		t.Error("Expected the error message to be surfaced")
	}
}

func TestEvaluateRuleSyntaxError(t *testing.T) {
	eng := NewEngine(&RuleSet{})
	def := Definition{Code: "BROKEN", Expression: "1 +", Severity: SeverityInfo, Enabled: true}

	res := eng.EvaluateRule(def, Context{})
	if res.Passed || res.Severity != SeverityError {
		t.Errorf("Expected a failed error-severity result, got %+v", res)
	}
}

func TestEvaluateAllAppendsToLog(t *testing.T) {
	set := loadSet(t, validRuleFile)
	eng := NewEngine(set)
	ctx := numCtx(map[string]string{
		"deduction_80c":    "100000",
		"confidence_score": "0.3",
	})

	results := eng.EvaluateAll(ctx)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	eng.EvaluateAll(ctx)
	if got := len(eng.Log(LogFilter{})); got != 6 {
		t.Errorf("Expected 6 log entries after two runs, got %d", got)
	}

	eng.ClearLog()
	if got := len(eng.Log(LogFilter{})); got != 0 {
		t.Errorf("Expected empty log after ClearLog, got %d entries", got)
	}
}

func TestLogFilters(t *testing.T) {
	set := loadSet(t, validRuleFile)
	eng := NewEngine(set)
	eng.EvaluateAll(numCtx(map[string]string{
		"deduction_80c":    "100000",
		"confidence_score": "0.3",
	}))

	if got := eng.Log(LogFilter{Severity: SeverityWarning}); len(got) != 1 || got[0].RuleCode != "LOW_CONFIDENCE" {
		t.Errorf("Unexpected warning entries %v", got)
	}

	failed := false
	if got := eng.Log(LogFilter{Passed: &failed}); len(got) != 1 || got[0].RuleCode != "LOW_CONFIDENCE" {
		t.Errorf("Unexpected failed entries %v", got)
	}

	if got := eng.Log(LogFilter{Category: "deductions"}); len(got) != 2 {
		t.Errorf("Expected 2 deductions entries, got %d", len(got))
	}
}

func TestSummary(t *testing.T) {
	set := loadSet(t, validRuleFile)
	eng := NewEngine(set)
	eng.EvaluateAll(numCtx(map[string]string{
		"deduction_80c":    "200000", // fails, error severity
		"confidence_score": "0.9",    // passes
	}))

	sum := eng.Summary()
	if sum.Total != 3 || sum.Passed != 2 || sum.Failed != 1 || sum.Errors != 1 {
		t.Errorf("Unexpected summary %+v", sum)
	}
	if sum.BySeverity[SeverityError] != 1 || sum.BySeverity[SeverityWarning] != 1 || sum.BySeverity[SeverityInfo] != 1 {
		t.Errorf("Unexpected severity breakdown %v", sum.BySeverity)
	}
	ded := sum.ByCategory["deductions"]
	if ded.Total != 2 || ded.Passed != 1 || ded.Failed != 1 {
		t.Errorf("Unexpected deductions breakdown %+v", ded)
	}
}

func TestRenderMessageOutputPlaceholder(t *testing.T) {
	eng := NewEngine(&RuleSet{})
	def := Definition{
		Code:        "OUT",
		Expression:  "deduction_80c <= 150000",
		Severity:    SeverityInfo,
		MessagePass: "result {output} for claim {deduction_80c}",
		Enabled:     true,
	}

	res := eng.EvaluateRule(def, numCtx(map[string]string{"deduction_80c": "5000"}))
	if res.Message != "result true for claim 5000" {
		t.Errorf("Unexpected rendered message %q", res.Message)
	}
}
