package config

import (
	"fmt"

	"github.com/clearfile/taxcore/pkg/taxcore/rules"
)

// Loader loads all configuration files for one assessment year and
// constructs components
type Loader struct {
	RateTablePath string
	RulesPath     string
}

// Components holds all loaded configuration components
type Components struct {
	RateTable *RateTable
	RuleSet   *rules.RuleSet
}

// Load reads all configuration files and returns initialized
// components. Both files are required: a return cannot be computed
// without the year's rates, and a missing rule file is a setup error,
// not an empty rule set.
func (l *Loader) Load() (*Components, error) {
	comp := &Components{}

	table, err := LoadRateTable(l.RateTablePath)
	if err != nil {
		return nil, fmt.Errorf("load rate table: %w", err)
	}
	comp.RateTable = table

	set, err := rules.LoadRuleSet(l.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	comp.RuleSet = set

	if set.AssessmentYear != "" && set.AssessmentYear != table.AssessmentYear {
		return nil, fmt.Errorf("rule set is for %s, rate table is for %s", set.AssessmentYear, table.AssessmentYear)
	}

	return comp, nil
}
