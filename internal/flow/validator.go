package flow

import (
	"fmt"

	"github.com/pitabwire/inkline/model"
)

// VError describes a single validation error in a flow definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks flow definitions structurally and compiles their rules.
type Validator struct {
	rules *Rules
}

// NewValidator creates a Validator that compiles rule expressions with rules.
func NewValidator(rules *Rules) *Validator {
	if rules == nil {
		rules = NewRules()
	}
	return &Validator{rules: rules}
}

// Validate checks all definitions and returns every problem found.
func (v *Validator) Validate(defs []model.FlowDefinition) []VError {
	var errs []VError
	seen := make(map[string]string)

	for i, def := range defs {
		prefix := fmt.Sprintf("flows[%d]", i)
		if def.ID != "" {
			if prev, dup := seen[def.ID]; dup {
				errs = append(errs, VError{
					Path:    prefix + ".id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("flow id %q already defined in %s", def.ID, prev),
				})
			}
			seen[def.ID] = def.SourceFile
		}
		errs = append(errs, v.validateFlow(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateFlow(prefix string, def model.FlowDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Target == "" {
		errs = append(errs, VError{Path: prefix + ".target", Code: "REQUIRED", Message: "target relation is required"})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	stepIDs := make(map[string]bool)
	for i, step := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if step.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
		} else if stepIDs[step.ID] {
			errs = append(errs, VError{
				Path:    sp + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("step id %q is not unique", step.ID),
			})
		}
		stepIDs[step.ID] = true

		for j, rule := range step.Rules {
			rp := fmt.Sprintf("%s.rules[%d]", sp, j)
			if rule.Field == "" {
				errs = append(errs, VError{Path: rp + ".field", Code: "REQUIRED", Message: "rule field is required"})
			}
			if _, err := v.rules.Compile(rule.Expression); err != nil {
				errs = append(errs, VError{Path: rp + ".expression", Code: "INVALID_EXPRESSION", Message: err.Error()})
			}
		}
	}

	return errs
}
