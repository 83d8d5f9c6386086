package cohort

import (
	"fmt"

	"github.com/phenex-cohort-server/internal/domain"
)

// IssueSeverity grades validation findings.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one validation finding attached to a phenotype (or the cohort
// itself when PhenotypeID is empty).
type Issue struct {
	PhenotypeID string        `json:"phenotype_id,omitempty"`
	Field       string        `json:"field,omitempty"`
	Severity    IssueSeverity `json:"severity"`
	Message     string        `json:"message"`
}

// Validate inspects the current cohort and returns every finding. Execution
// is gated on zero error-severity issues; warnings are advisory.
func (m *Model) Validate() []Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cohort == nil {
		return []Issue{{Severity: SeverityError, Message: "no cohort loaded"}}
	}
	return collectIssues(m.cohort)
}

func collectIssues(c *domain.Cohort) []Issue {
	var issues []Issue

	hasEntry := false
	ids := c.PhenotypeIndex()
	for _, p := range c.Phenotypes {
		if p.Type == domain.TypeEntry {
			if hasEntry {
				issues = append(issues, Issue{
					PhenotypeID: p.ID,
					Severity:    SeverityError,
					Message:     "cohort has more than one entry phenotype",
				})
			}
			hasEntry = true
		}
		issues = append(issues, phenotypeIssues(p, ids)...)
	}
	if !hasEntry {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  "cohort has no entry phenotype",
		})
	}
	if c.DatabaseConfig == nil || c.DatabaseConfig.Name == "" {
		issues = append(issues, Issue{
			Field:    "database_config",
			Severity: SeverityWarning,
			Message:  "no database selected",
		})
	}
	return issues
}

func phenotypeIssues(p *domain.Phenotype, ids map[string]*domain.Phenotype) []Issue {
	var issues []Issue
	add := func(field string, sev IssueSeverity, format string, args ...any) {
		issues = append(issues, Issue{
			PhenotypeID: p.ID,
			Field:       field,
			Severity:    sev,
			Message:     fmt.Sprintf(format, args...),
		})
	}

	if p.Name == "" {
		add("name", SeverityWarning, "phenotype has no name")
	}
	if !p.Class.IsValid() {
		add("class_name", SeverityError, "unknown phenotype class %q", p.Class)
		return issues
	}

	switch p.Class {
	case domain.ClassCodelist:
		if p.Codelist == nil || (len(p.Codelist.Codes) == 0 && p.Codelist.FileID == "") {
			add("codelist", SeverityError, "codelist phenotype has no codes")
		}
		if p.Domain == "" {
			add("domain", SeverityWarning, "codelist phenotype has no domain")
		}
	case domain.ClassMeasurement:
		if p.ValueFilter == nil || p.ValueFilter.IsEmpty() {
			add("value_filter", SeverityWarning, "measurement phenotype has no value filter")
		}
	case domain.ClassLogic:
		issues = append(issues, expressionIssues(p, p.LogicalExpression, ids)...)
	case domain.ClassScore:
		if p.ScoreFormula == "" {
			add("score_formula", SeverityError, "score phenotype has no formula")
		}
	case domain.ClassArithmetic:
		if p.ArithmeticFormula == "" {
			add("arithmetic_formula", SeverityError, "arithmetic phenotype has no formula")
		}
	case domain.ClassUserDefined:
		if p.UserFunction == "" {
			add("user_function", SeverityError, "user-defined phenotype has no function")
		}
	}
	return issues
}

// expressionIssues walks a logical expression tree checking that every
// reference leaf resolves to a phenotype that exists.
func expressionIssues(p *domain.Phenotype, node *domain.FilterNode, ids map[string]*domain.Phenotype) []Issue {
	if node == nil {
		return []Issue{{
			PhenotypeID: p.ID,
			Field:       "logical_expression",
			Severity:    SeverityError,
			Message:     "logic phenotype has no expression",
		}}
	}
	var issues []Issue
	var walk func(n *domain.FilterNode)
	walk = func(n *domain.FilterNode) {
		if n == nil {
			return
		}
		if n.IsLogical() {
			walk(n.Filter1)
			walk(n.Filter2)
			return
		}
		if n.Class == domain.FilterLogicalExpression && n.PhenotypeID != "" {
			if _, ok := ids[n.PhenotypeID]; !ok {
				issues = append(issues, Issue{
					PhenotypeID: p.ID,
					Field:       "logical_expression",
					Severity:    SeverityError,
					Message:     fmt.Sprintf("expression references unknown phenotype %s", n.PhenotypeID),
				})
			}
		}
	}
	walk(node)

	// An expression of nothing but empty leaves computes nothing.
	if node.IsEmpty() && !node.IsLogical() {
		issues = append(issues, Issue{
			PhenotypeID: p.ID,
			Field:       "logical_expression",
			Severity:    SeverityWarning,
			Message:     "logical expression is empty",
		})
	}
	return issues
}
