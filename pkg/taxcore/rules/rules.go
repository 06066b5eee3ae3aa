// Package rules evaluates versioned, declaratively-defined business
// rules against a flat variable context and keeps an append-only audit
// trail of every evaluation.
package rules

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clearfile/taxcore/pkg/taxcore/internalerr"
)

// Severity levels a rule author can choose.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DisabledMessage is the fixed message a disabled rule reports.
const DisabledMessage = "Rule disabled"

// Definition is one declarative rule.
type Definition struct {
	Code        string   `yaml:"code"`
	Description string   `yaml:"description"`
	Expression  string   `yaml:"expression"`
	Severity    Severity `yaml:"severity"`
	MessagePass string   `yaml:"message_pass"`
	MessageFail string   `yaml:"message_fail"`
	Enabled     bool     `yaml:"enabled"`
	Category    string   `yaml:"category"`
}

// RuleSet is one assessment year's rules, loaded wholesale from a
// single file and read-only afterwards.
type RuleSet struct {
	AssessmentYear string
	Rules          []Definition

	// DuplicateCodes lists codes that appear more than once. Upstream
	// never enforced uniqueness, so duplicates load and shadow on
	// code-based lookup; they are surfaced here for operators.
	DuplicateCodes []string
}

type rawRuleSet struct {
	AssessmentYear string       `yaml:"assessment_year"`
	Rules          []Definition `yaml:"rules"`
}

// LoadRuleSet loads a rule file. A missing or invalid file is a fatal
// load error; loading replaces any previous set for the engine built
// from it.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	var raw rawRuleSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}

	set := &RuleSet{
		AssessmentYear: raw.AssessmentYear,
		Rules:          raw.Rules,
	}

	seen := make(map[string]bool, len(raw.Rules))
	for i, def := range raw.Rules {
		if def.Code == "" {
			return nil, fmt.Errorf("%w: rule %d has no code", internalerr.ErrInvalidRule, i)
		}
		if strings.TrimSpace(def.Expression) == "" {
			return nil, fmt.Errorf("%w: rule %s has no expression", internalerr.ErrInvalidRule, def.Code)
		}
		switch def.Severity {
		case SeverityInfo, SeverityWarning, SeverityError:
		default:
			return nil, fmt.Errorf("%w: rule %s has unknown severity %q", internalerr.ErrInvalidRule, def.Code, def.Severity)
		}
		if seen[def.Code] {
			set.DuplicateCodes = append(set.DuplicateCodes, def.Code)
		}
		seen[def.Code] = true
	}

	return set, nil
}

// Find returns the first rule with the given code. Duplicates shadow.
func (s *RuleSet) Find(code string) (Definition, bool) {
	for _, def := range s.Rules {
		if def.Code == code {
			return def, true
		}
	}
	return Definition{}, false
}

// Result is one audit entry: what a rule read, what it produced, and
// how it judged.
type Result struct {
	RuleCode    string
	Inputs      []string
	Output      Value
	Passed      bool
	Message     string
	Severity    Severity
	EvaluatedAt time.Time
}

// Engine evaluates a loaded rule set. An Engine is request-scoped: its
// log is the one piece of mutable state, so never share an instance
// across concurrent sessions.
type Engine struct {
	set      *RuleSet
	compiled map[string]exprNode
	log      []Result
}

// NewEngine binds an engine to a loaded rule set.
func NewEngine(set *RuleSet) *Engine {
	return &Engine{
		set:      set,
		compiled: make(map[string]exprNode, len(set.Rules)),
	}
}

// RuleSet returns the bound rule set.
func (e *Engine) RuleSet() *RuleSet { return e.set }

// compile parses an expression once and caches the AST under the
// expression text. Keying by text rather than rule code keeps duplicate
// codes evaluating their own expressions; code-based shadowing applies
// to lookup only.
func (e *Engine) compile(def Definition) (exprNode, error) {
	if node, ok := e.compiled[def.Expression]; ok {
		return node, nil
	}
	node, err := Parse(def.Expression)
	if err != nil {
		return nil, err
	}
	e.compiled[def.Expression] = node
	return node, nil
}

// EvaluateRule evaluates one rule against ctx. Disabled rules auto-pass
// with the fixed disabled message and skip evaluation entirely. Any
// evaluation error is caught and surfaced as a failed, error-severity
// result; it never propagates.
func (e *Engine) EvaluateRule(def Definition, ctx Context) Result {
	res := Result{
		RuleCode:    def.Code,
		Severity:    def.Severity,
		EvaluatedAt: time.Now().UTC(),
	}

	if !def.Enabled {
		res.Passed = true
		res.Message = DisabledMessage
		return res
	}

	node, err := e.compile(def)
	if err != nil {
		res.Passed = false
		res.Severity = SeverityError
		res.Message = err.Error()
		return res
	}

	val, inputs, err := evalNode(node, ctx)
	if err != nil {
		res.Passed = false
		res.Severity = SeverityError
		res.Message = err.Error()
		return res
	}

	res.Output = val
	res.Inputs = inputs
	res.Passed = val.Truthy()
	if res.Passed {
		res.Message = renderMessage(def.MessagePass, val, ctx, inputs)
	} else {
		res.Message = renderMessage(def.MessageFail, val, ctx, inputs)
	}
	return res
}

// renderMessage substitutes {output} and any {variable} the rule read
// into the message template.
func renderMessage(template string, output Value, ctx Context, inputs []string) string {
	if template == "" {
		return ""
	}
	msg := strings.ReplaceAll(template, "{output}", output.String())
	for _, name := range inputs {
		if val, ok := ctx[name]; ok {
			msg = strings.ReplaceAll(msg, "{"+name+"}", val.String())
		}
	}
	return msg
}

// EvaluateAll evaluates every loaded rule against ctx, appending each
// result to the audit log. Callers clear the log explicitly between
// independent sessions.
func (e *Engine) EvaluateAll(ctx Context) []Result {
	results := make([]Result, 0, len(e.set.Rules))
	for _, def := range e.set.Rules {
		res := e.EvaluateRule(def, ctx)
		results = append(results, res)
		e.log = append(e.log, res)
	}
	return results
}

// ClearLog resets the audit log.
func (e *Engine) ClearLog() { e.log = nil }

// LogFilter narrows Log output. Zero fields match everything.
type LogFilter struct {
	Category string
	Severity Severity
	Passed   *bool
}

// Log returns audit entries matching the filter. Category is resolved
// live against the current rule definitions, not stored on the entry.
func (e *Engine) Log(f LogFilter) []Result {
	var out []Result
	for _, res := range e.log {
		if f.Severity != "" && res.Severity != f.Severity {
			continue
		}
		if f.Passed != nil && res.Passed != *f.Passed {
			continue
		}
		if f.Category != "" {
			def, ok := e.set.Find(res.RuleCode)
			if !ok || def.Category != f.Category {
				continue
			}
		}
		out = append(out, res)
	}
	return out
}

// SummaryReport aggregates the audit log.
type SummaryReport struct {
	Total      int
	Passed     int
	Failed     int
	Errors     int
	BySeverity map[Severity]int
	ByCategory map[string]CategoryCount
}

// CategoryCount is the pass/fail split within one category.
type CategoryCount struct {
	Total  int
	Passed int
	Failed int
}

// Summary aggregates totals, pass/fail counts, and severity/category
// breakdowns over the current log. Disabled-rule auto-passes count as
// passed, never as failures.
func (e *Engine) Summary() SummaryReport {
	sum := SummaryReport{
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[string]CategoryCount),
	}
	for _, res := range e.log {
		sum.Total++
		sum.BySeverity[res.Severity]++
		if res.Passed {
			sum.Passed++
		} else {
			sum.Failed++
			if res.Severity == SeverityError {
				sum.Errors++
			}
		}
		if def, ok := e.set.Find(res.RuleCode); ok && def.Category != "" {
			cc := sum.ByCategory[def.Category]
			cc.Total++
			if res.Passed {
				cc.Passed++
			} else {
				cc.Failed++
			}
			sum.ByCategory[def.Category] = cc
		}
	}
	return sum
}
